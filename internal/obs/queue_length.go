// Copyright 2025 James Ross
package obs

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/liwenXtrace/BackendInterview-RedisJobQueue/internal/config"
)

// StartQueueLengthUpdater samples the waiting and processing list lengths
// and updates the queue_length gauge.
func StartQueueLengthUpdater(ctx context.Context, cfg *config.Config, rdb *redis.Client, log *zap.Logger) {
	interval := 2 * time.Second
	if cfg.Observability.QueueSampleInterval > 0 {
		interval = cfg.Observability.QueueSampleInterval
	}
	lists := map[string]string{
		"waiting":    cfg.Queue.WaitingKey,
		"processing": cfg.Queue.ProcessingKey,
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for label, key := range lists {
					n, err := rdb.LLen(ctx, key).Result()
					if err != nil {
						log.Debug("queue length poll error", String("list", key), Err(err))
						continue
					}
					QueueLength.WithLabelValues(label).Set(float64(n))
				}
			}
		}
	}()
}
