// Copyright 2025 James Ross
package reaper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/liwenXtrace/BackendInterview-RedisJobQueue/internal/config"
	"github.com/liwenXtrace/BackendInterview-RedisJobQueue/internal/obs"
	"github.com/liwenXtrace/BackendInterview-RedisJobQueue/internal/queue"
)

// Reaper sweeps the processing list on a fixed interval and resolves
// claims whose worker has gone quiet. It holds no state of its own; every
// decision is made from the store, so running a second reaper is safe.
type Reaper struct {
	cfg *config.Config
	q   *queue.Queue
	log *zap.Logger
}

func New(cfg *config.Config, q *queue.Queue, log *zap.Logger) *Reaper {
	return &Reaper{cfg: cfg, q: q, log: log}
}

// Run blocks until ctx is cancelled. Sweeps never overlap: the next tick
// waits for the previous sweep to finish.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Reaper.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.scanOnce(ctx)
		}
	}
}

func (r *Reaper) scanOnce(ctx context.Context) {
	n, err := r.q.ScanStuck(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.log.Warn("reaper scan error", obs.Err(err))
		}
		return
	}
	if n > 0 {
		r.log.Info("reaper requeued stuck jobs", obs.Int("count", n))
	}
}
