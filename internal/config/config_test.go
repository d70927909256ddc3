package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	require.NoError(t, err)
	require.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	require.Equal(t, "jobs:queue", cfg.Queue.WaitingKey)
	require.Equal(t, "jobs:processing", cfg.Queue.ProcessingKey)
	require.Equal(t, 10, cfg.Queue.ProcessingTimeoutS)
	require.Equal(t, 2, cfg.Queue.MaxAttempts)
	require.Equal(t, 1, cfg.Worker.Count)
	require.Equal(t, 5, cfg.Worker.PollBlockS)
	require.True(t, cfg.Worker.StartInAPI)
	require.Equal(t, time.Second, cfg.Reaper.Interval)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://redis.internal:6380/1")
	t.Setenv("QUEUE_KEY", "work:waiting")
	t.Setenv("PROCESSING_KEY", "work:claimed")
	t.Setenv("MAX_ATTEMPTS", "5")
	t.Setenv("WORKER_CONCURRENCY", "4")
	t.Setenv("START_WORKERS_IN_API", "false")

	cfg, err := Load("nonexistent.yaml")
	require.NoError(t, err)
	require.Equal(t, "redis://redis.internal:6380/1", cfg.Redis.URL)
	require.Equal(t, "work:waiting", cfg.Queue.WaitingKey)
	require.Equal(t, "work:claimed", cfg.Queue.ProcessingKey)
	require.Equal(t, 5, cfg.Queue.MaxAttempts)
	require.Equal(t, 4, cfg.Worker.Count)
	require.False(t, cfg.Worker.StartInAPI)
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte("queue:\n  waiting_key: custom:queue\nworker:\n  count: 8\n")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "custom:queue", cfg.Queue.WaitingKey)
	require.Equal(t, 8, cfg.Worker.Count)
	// untouched keys keep defaults
	require.Equal(t, "jobs:processing", cfg.Queue.ProcessingKey)
}

func TestValidateRejectsSharedKeys(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	require.NoError(t, err)
	cfg.Queue.ProcessingKey = cfg.Queue.WaitingKey
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroAttempts(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	require.NoError(t, err)
	cfg.Queue.MaxAttempts = 0
	require.Error(t, cfg.Validate())
}
