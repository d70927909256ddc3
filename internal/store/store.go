// Copyright 2025 James Ross

// Package store is the typed vocabulary the queue speaks to Redis: hash
// reads and writes for job records, list pushes and removals for the
// waiting and processing lists, and the atomic BRPOPLPUSH claim. Errors
// propagate to the caller unchanged apart from operation context; the
// adapter never retries on its own.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Store struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// HSetAll sets multiple string fields on a hash in one command.
func (s *Store) HSetAll(ctx context.Context, key string, fields map[string]string) error {
	if err := s.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("store: hset %s: %w", key, err)
	}
	return nil
}

// HGetAll returns the hash at key, or nil when the key does not exist.
func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("store: hgetall %s: %w", key, err)
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

func (s *Store) HSet(ctx context.Context, key, field, value string) error {
	if err := s.rdb.HSet(ctx, key, field, value).Err(); err != nil {
		return fmt.Errorf("store: hset %s %s: %w", key, field, err)
	}
	return nil
}

// HIncrBy increments a numeric hash field and returns the new value.
func (s *Store) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	n, err := s.rdb.HIncrBy(ctx, key, field, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("store: hincrby %s %s: %w", key, field, err)
	}
	return n, nil
}

func (s *Store) LPush(ctx context.Context, list, value string) error {
	if err := s.rdb.LPush(ctx, list, value).Err(); err != nil {
		return fmt.Errorf("store: lpush %s: %w", list, err)
	}
	return nil
}

// BRPopLPush atomically pops from the tail of src and pushes to the head
// of dst, blocking up to block when src is empty. The second return is
// false on timeout.
func (s *Store) BRPopLPush(ctx context.Context, src, dst string, block time.Duration) (string, bool, error) {
	v, err := s.rdb.BRPopLPush(ctx, src, dst, block).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: brpoplpush %s %s: %w", src, dst, err)
	}
	return v, true, nil
}

// LRem removes at most count occurrences of value from list.
func (s *Store) LRem(ctx context.Context, list string, count int64, value string) error {
	if err := s.rdb.LRem(ctx, list, count, value).Err(); err != nil {
		return fmt.Errorf("store: lrem %s: %w", list, err)
	}
	return nil
}

// LRange returns a snapshot of list entries in [start, stop].
func (s *Store) LRange(ctx context.Context, list string, start, stop int64) ([]string, error) {
	vs, err := s.rdb.LRange(ctx, list, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("store: lrange %s: %w", list, err)
	}
	return vs, nil
}

func (s *Store) LLen(ctx context.Context, list string) (int64, error) {
	n, err := s.rdb.LLen(ctx, list).Result()
	if err != nil {
		return 0, fmt.Errorf("store: llen %s: %w", list, err)
	}
	return n, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}
