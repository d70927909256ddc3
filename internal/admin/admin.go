// Copyright 2025 James Ross

// Package admin implements the operational commands behind
// `jobqueue -role=admin`: queue statistics, list peeking, and a guarded
// purge of all queue state.
package admin

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/liwenXtrace/BackendInterview-RedisJobQueue/internal/config"
	"github.com/liwenXtrace/BackendInterview-RedisJobQueue/internal/queue"
)

type StatsResult struct {
	Waiting      int64            `json:"waiting"`
	Processing   int64            `json:"processing"`
	JobsByStatus map[string]int64 `json:"jobs_by_status"`
}

// Stats reports list lengths and a status census over all job records.
func Stats(ctx context.Context, cfg *config.Config, rdb *redis.Client) (StatsResult, error) {
	res := StatsResult{JobsByStatus: map[string]int64{}}

	var err error
	if res.Waiting, err = rdb.LLen(ctx, cfg.Queue.WaitingKey).Result(); err != nil {
		return res, err
	}
	if res.Processing, err = rdb.LLen(ctx, cfg.Queue.ProcessingKey).Result(); err != nil {
		return res, err
	}

	var cursor uint64
	for {
		keys, cur, err := rdb.Scan(ctx, cursor, queue.JobKey("*"), 200).Result()
		if err != nil {
			return res, err
		}
		cursor = cur
		for _, k := range keys {
			status, err := rdb.HGet(ctx, k, "status").Result()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return res, err
			}
			res.JobsByStatus[status]++
		}
		if cursor == 0 {
			break
		}
	}
	return res, nil
}

type PeekResult struct {
	List  string   `json:"list"`
	Items []string `json:"items"`
}

// Peek returns up to n ids from the head of the named list. Aliases
// "waiting" and "processing" resolve to the configured keys.
func Peek(ctx context.Context, cfg *config.Config, rdb *redis.Client, list string, n int64) (PeekResult, error) {
	key := list
	switch list {
	case "waiting":
		key = cfg.Queue.WaitingKey
	case "processing":
		key = cfg.Queue.ProcessingKey
	}
	items, err := rdb.LRange(ctx, key, 0, n-1).Result()
	if err != nil {
		return PeekResult{}, err
	}
	return PeekResult{List: key, Items: items}, nil
}

// PurgeAll deletes both lists and every job record. Returns the number of
// keys removed.
func PurgeAll(ctx context.Context, cfg *config.Config, rdb *redis.Client) (int, error) {
	purged := 0
	for _, key := range []string{cfg.Queue.WaitingKey, cfg.Queue.ProcessingKey} {
		n, err := rdb.Del(ctx, key).Result()
		if err != nil {
			return purged, err
		}
		purged += int(n)
	}

	var cursor uint64
	for {
		keys, cur, err := rdb.Scan(ctx, cursor, queue.JobKey("*"), 200).Result()
		if err != nil {
			return purged, err
		}
		cursor = cur
		if len(keys) > 0 {
			n, err := rdb.Del(ctx, keys...).Result()
			if err != nil {
				return purged, err
			}
			purged += int(n)
		}
		if cursor == 0 {
			break
		}
	}
	return purged, nil
}
