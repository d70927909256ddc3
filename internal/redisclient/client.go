// Copyright 2025 James Ross
package redisclient

import (
	"fmt"
	"runtime"

	"github.com/redis/go-redis/v9"

	"github.com/liwenXtrace/BackendInterview-RedisJobQueue/internal/config"
)

// New returns a configured go-redis client with pooling and retries.
func New(cfg *config.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	poolSize := cfg.Redis.PoolSize
	if poolSize <= 0 {
		poolSize = 10 * runtime.NumCPU()
	}
	opts.PoolSize = poolSize
	opts.MinIdleConns = cfg.Redis.MinIdleConns
	opts.DialTimeout = cfg.Redis.DialTimeout
	// BRPOPLPUSH may legitimately block for the full poll window; disable
	// the read deadline so blocking claims are not cut short.
	opts.ReadTimeout = -1
	opts.WriteTimeout = cfg.Redis.WriteTimeout
	opts.MaxRetries = cfg.Redis.MaxRetries
	return redis.NewClient(opts), nil
}
