// Copyright 2025 James Ross
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Redis struct {
	URL          string        `mapstructure:"url"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type Queue struct {
	WaitingKey         string `mapstructure:"waiting_key"`
	ProcessingKey      string `mapstructure:"processing_key"`
	ProcessingTimeoutS int    `mapstructure:"processing_timeout_s"`
	MaxAttempts        int    `mapstructure:"max_attempts"`
}

type Worker struct {
	Count      int  `mapstructure:"count"`
	PollBlockS int  `mapstructure:"poll_block_s"`
	StartInAPI bool `mapstructure:"start_in_api"`
}

type Reaper struct {
	Interval time.Duration `mapstructure:"interval"`
}

type HTTP struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type CircuitBreaker struct {
	FailureThreshold float64       `mapstructure:"failure_threshold"`
	Window           time.Duration `mapstructure:"window"`
	CooldownPeriod   time.Duration `mapstructure:"cooldown_period"`
	MinSamples       int           `mapstructure:"min_samples"`
	Pause            time.Duration `mapstructure:"pause"`
}

type Tracing struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

type Observability struct {
	MetricsPort         int           `mapstructure:"metrics_port"`
	LogLevel            string        `mapstructure:"log_level"`
	QueueSampleInterval time.Duration `mapstructure:"queue_sample_interval"`
	Tracing             Tracing       `mapstructure:"tracing"`
}

type Config struct {
	Redis          Redis          `mapstructure:"redis"`
	Queue          Queue          `mapstructure:"queue"`
	Worker         Worker         `mapstructure:"worker"`
	Reaper         Reaper         `mapstructure:"reaper"`
	HTTP           HTTP           `mapstructure:"http"`
	CircuitBreaker CircuitBreaker `mapstructure:"circuit_breaker"`
	Observability  Observability  `mapstructure:"observability"`
}

func (c *Config) ProcessingTimeout() time.Duration {
	return time.Duration(c.Queue.ProcessingTimeoutS) * time.Second
}

func (c *Config) PollBlock() time.Duration {
	return time.Duration(c.Worker.PollBlockS) * time.Second
}

func defaultConfig() *Config {
	return &Config{
		Redis: Redis{
			URL:          "redis://localhost:6379/0",
			MinIdleConns: 5,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			MaxRetries:   3,
		},
		Queue: Queue{
			WaitingKey:         "jobs:queue",
			ProcessingKey:      "jobs:processing",
			ProcessingTimeoutS: 10,
			MaxAttempts:        2,
		},
		Worker: Worker{
			Count:      1,
			PollBlockS: 5,
			StartInAPI: true,
		},
		Reaper: Reaper{
			Interval: 1 * time.Second,
		},
		HTTP: HTTP{
			Addr:            ":8000",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		CircuitBreaker: CircuitBreaker{
			FailureThreshold: 0.5,
			Window:           1 * time.Minute,
			CooldownPeriod:   30 * time.Second,
			MinSamples:       20,
			Pause:            100 * time.Millisecond,
		},
		Observability: Observability{
			MetricsPort:         9090,
			LogLevel:            "info",
			QueueSampleInterval: 2 * time.Second,
			Tracing:             Tracing{Enabled: false, SampleRate: 0.1},
		},
	}
}

// envBindings maps the flat environment names the deployment has always
// used onto their nested config keys.
var envBindings = map[string]string{
	"redis.url":                  "REDIS_URL",
	"queue.waiting_key":          "QUEUE_KEY",
	"queue.processing_key":       "PROCESSING_KEY",
	"queue.processing_timeout_s": "PROCESSING_TIMEOUT_S",
	"queue.max_attempts":         "MAX_ATTEMPTS",
	"worker.poll_block_s":        "WORKER_POLL_BLOCK_S",
	"worker.count":               "WORKER_CONCURRENCY",
	"worker.start_in_api":        "START_WORKERS_IN_API",
	"http.addr":                  "HTTP_ADDR",
	"observability.log_level":    "LOG_LEVEL",
	"observability.metrics_port": "METRICS_PORT",
}

// Load reads configuration from an optional YAML file plus env overrides.
// A missing file is not an error; defaults and env still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, err
		}
	}

	setDefaults(v, defaultConfig())

	if err := v.ReadInConfig(); err != nil && !isNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Redis.URL == "" {
		return fmt.Errorf("redis.url must not be empty")
	}
	if c.Queue.WaitingKey == "" || c.Queue.ProcessingKey == "" {
		return fmt.Errorf("queue keys must not be empty")
	}
	if c.Queue.WaitingKey == c.Queue.ProcessingKey {
		return fmt.Errorf("waiting and processing keys must differ")
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("queue.max_attempts must be >= 1")
	}
	if c.Queue.ProcessingTimeoutS < 1 {
		return fmt.Errorf("queue.processing_timeout_s must be >= 1")
	}
	if c.Worker.Count < 0 {
		return fmt.Errorf("worker.count must be >= 0")
	}
	if c.Worker.PollBlockS < 1 {
		return fmt.Errorf("worker.poll_block_s must be >= 1")
	}
	if c.Reaper.Interval <= 0 {
		return fmt.Errorf("reaper.interval must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper, def *Config) {
	v.SetDefault("redis.url", def.Redis.URL)
	v.SetDefault("redis.pool_size", def.Redis.PoolSize)
	v.SetDefault("redis.min_idle_conns", def.Redis.MinIdleConns)
	v.SetDefault("redis.dial_timeout", def.Redis.DialTimeout)
	v.SetDefault("redis.read_timeout", def.Redis.ReadTimeout)
	v.SetDefault("redis.write_timeout", def.Redis.WriteTimeout)
	v.SetDefault("redis.max_retries", def.Redis.MaxRetries)
	v.SetDefault("queue.waiting_key", def.Queue.WaitingKey)
	v.SetDefault("queue.processing_key", def.Queue.ProcessingKey)
	v.SetDefault("queue.processing_timeout_s", def.Queue.ProcessingTimeoutS)
	v.SetDefault("queue.max_attempts", def.Queue.MaxAttempts)
	v.SetDefault("worker.count", def.Worker.Count)
	v.SetDefault("worker.poll_block_s", def.Worker.PollBlockS)
	v.SetDefault("worker.start_in_api", def.Worker.StartInAPI)
	v.SetDefault("reaper.interval", def.Reaper.Interval)
	v.SetDefault("http.addr", def.HTTP.Addr)
	v.SetDefault("http.read_timeout", def.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", def.HTTP.WriteTimeout)
	v.SetDefault("http.shutdown_timeout", def.HTTP.ShutdownTimeout)
	v.SetDefault("circuit_breaker.failure_threshold", def.CircuitBreaker.FailureThreshold)
	v.SetDefault("circuit_breaker.window", def.CircuitBreaker.Window)
	v.SetDefault("circuit_breaker.cooldown_period", def.CircuitBreaker.CooldownPeriod)
	v.SetDefault("circuit_breaker.min_samples", def.CircuitBreaker.MinSamples)
	v.SetDefault("circuit_breaker.pause", def.CircuitBreaker.Pause)
	v.SetDefault("observability.metrics_port", def.Observability.MetricsPort)
	v.SetDefault("observability.log_level", def.Observability.LogLevel)
	v.SetDefault("observability.queue_sample_interval", def.Observability.QueueSampleInterval)
	v.SetDefault("observability.tracing.enabled", def.Observability.Tracing.Enabled)
	v.SetDefault("observability.tracing.endpoint", def.Observability.Tracing.Endpoint)
	v.SetDefault("observability.tracing.environment", def.Observability.Tracing.Environment)
	v.SetDefault("observability.tracing.sample_rate", def.Observability.Tracing.SampleRate)
}

func isNotExist(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	return strings.Contains(err.Error(), "no such file")
}
