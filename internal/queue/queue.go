// Copyright 2025 James Ross

// Package queue implements the reliable-claim state machine on top of the
// two Redis lists. The lists are the source of truth for ownership: a
// job_id on the waiting list belongs to the next claimer, on the
// processing list to the worker that moved it there (or to the reaper
// once the processing timeout elapses). Record writes are ordered so that
// a crash between any two store calls never loses a job:
//
//	create:  hash write, then LPUSH waiting
//	claim:   BRPOPLPUSH waiting -> processing (atomic)
//	done:    hash write, then LREM processing
//	requeue: hash write, LPUSH waiting, then LREM processing
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/liwenXtrace/BackendInterview-RedisJobQueue/internal/clock"
	"github.com/liwenXtrace/BackendInterview-RedisJobQueue/internal/config"
	"github.com/liwenXtrace/BackendInterview-RedisJobQueue/internal/obs"
	"github.com/liwenXtrace/BackendInterview-RedisJobQueue/internal/store"
)

// ReaperFailure is the terminal error recorded when the reaper exhausts a
// job's attempt budget.
const ReaperFailure = "exceeded max attempts (reaper)"

const maxErrorLen = 1024

type Queue struct {
	st            *store.Store
	clk           clock.Clock
	log           *zap.Logger
	waitingKey    string
	processingKey string
	maxAttempts   int
	timeout       time.Duration
}

func New(cfg *config.Config, st *store.Store, clk clock.Clock, log *zap.Logger) *Queue {
	return &Queue{
		st:            st,
		clk:           clk,
		log:           log,
		waitingKey:    cfg.Queue.WaitingKey,
		processingKey: cfg.Queue.ProcessingKey,
		maxAttempts:   cfg.Queue.MaxAttempts,
		timeout:       cfg.ProcessingTimeout(),
	}
}

func (q *Queue) MaxAttempts() int { return q.maxAttempts }

// CreateJob writes the full record and then enqueues the id. The hash
// write must complete first so a racing claimer always finds a readable
// record. The caller guarantees id uniqueness.
func (q *Queue) CreateJob(ctx context.Context, jobID string, payload json.RawMessage) error {
	ctx, span := obs.StartEnqueueSpan(ctx, q.waitingKey)
	defer span.End()

	now := q.clk.Now()
	traceID, spanID := obs.GetTraceAndSpanID(ctx)
	j := &Job{
		ID:        jobID,
		Status:    StatusQueued,
		Payload:   payload,
		Attempts:  0,
		CreatedAt: now,
		UpdatedAt: now,
		TraceID:   traceID,
		SpanID:    spanID,
	}
	if err := q.st.HSetAll(ctx, JobKey(jobID), j.Encode()); err != nil {
		obs.RecordError(ctx, err)
		return err
	}
	if err := q.st.LPush(ctx, q.waitingKey, jobID); err != nil {
		obs.RecordError(ctx, err)
		return err
	}
	obs.SetSpanSuccess(ctx)
	obs.JobsCreated.Inc()
	return nil
}

// GetJob returns the decoded record, or nil when the key is absent or the
// record is malformed.
func (q *Queue) GetJob(ctx context.Context, jobID string) (*Job, error) {
	fields, err := q.st.HGetAll(ctx, JobKey(jobID))
	if err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, nil
	}
	j, err := Decode(fields)
	if err != nil {
		if errors.Is(err, ErrMalformed) {
			q.log.Warn("skipping malformed job record", obs.String("job_id", jobID), obs.Err(err))
			return nil, nil
		}
		return nil, err
	}
	return j, nil
}

// Claim atomically moves the next id from waiting to processing, blocking
// up to block. Returns "" on timeout. The caller must follow up with
// MarkProcessing before doing any work.
func (q *Queue) Claim(ctx context.Context, block time.Duration) (string, error) {
	ctx, span := obs.StartClaimSpan(ctx, q.waitingKey)
	defer span.End()

	jobID, ok, err := q.st.BRPopLPush(ctx, q.waitingKey, q.processingKey, block)
	if err != nil {
		obs.RecordError(ctx, err)
		return "", err
	}
	if !ok {
		return "", nil
	}
	obs.SetSpanSuccess(ctx)
	obs.JobsClaimed.Inc()
	return jobID, nil
}

// MarkProcessing writes the authoritative processing fields and returns
// the incremented attempt count. No precondition is checked here: the
// processing list designates the owner, so the write is deliberately
// blind.
func (q *Queue) MarkProcessing(ctx context.Context, jobID string) (int, error) {
	now := encodeTime(ptr(q.clk.Now()))
	fields := map[string]string{
		"status":     string(StatusProcessing),
		"started_at": now,
		"updated_at": now,
		"last_error": "",
	}
	if err := q.st.HSetAll(ctx, JobKey(jobID), fields); err != nil {
		return 0, err
	}
	attempts, err := q.st.HIncrBy(ctx, JobKey(jobID), "attempts", 1)
	if err != nil {
		return 0, err
	}
	return int(attempts), nil
}

// MarkDone records the result and acks the claim. The hash update precedes
// the LREM so a reader never sees an acked id with a non-terminal status.
func (q *Queue) MarkDone(ctx context.Context, jobID string, result json.RawMessage) error {
	fields := map[string]string{
		"status":     string(StatusDone),
		"result":     string(result),
		"updated_at": encodeTime(ptr(q.clk.Now())),
	}
	if err := q.st.HSetAll(ctx, JobKey(jobID), fields); err != nil {
		return err
	}
	if err := q.st.LRem(ctx, q.processingKey, 1, jobID); err != nil {
		return err
	}
	obs.JobsCompleted.Inc()
	return nil
}

// MarkFailed records the terminal error and acks the claim.
func (q *Queue) MarkFailed(ctx context.Context, jobID, errMsg string) error {
	fields := map[string]string{
		"status":     string(StatusFailed),
		"last_error": truncateError(errMsg),
		"updated_at": encodeTime(ptr(q.clk.Now())),
	}
	if err := q.st.HSetAll(ctx, JobKey(jobID), fields); err != nil {
		return err
	}
	if err := q.st.LRem(ctx, q.processingKey, 1, jobID); err != nil {
		return err
	}
	obs.JobsFailed.Inc()
	return nil
}

// RequeueJob puts a claimed job back on the waiting list. The push must
// precede the removal: dying between the two leaves the id claimed and
// reapable, while the reverse order could drop the job entirely. lastErr
// is recorded when non-empty (worker retry); the reaper passes "".
func (q *Queue) RequeueJob(ctx context.Context, jobID, lastErr string) error {
	fields := map[string]string{
		"status":     string(StatusQueued),
		"started_at": "",
		"updated_at": encodeTime(ptr(q.clk.Now())),
	}
	if lastErr != "" {
		fields["last_error"] = truncateError(lastErr)
	}
	if err := q.st.HSetAll(ctx, JobKey(jobID), fields); err != nil {
		return err
	}
	if err := q.st.LPush(ctx, q.waitingKey, jobID); err != nil {
		return err
	}
	if err := q.st.LRem(ctx, q.processingKey, 1, jobID); err != nil {
		return err
	}
	return nil
}

// ScanStuck snapshots the processing list and resolves every stuck entry:
// requeue while the attempt budget lasts, terminal failure once it is
// spent. Ids with missing or malformed records, or whose status is no
// longer processing, belong to someone else and are skipped. A claim
// exactly at the timeout boundary is not yet stuck. Per-id store errors
// are logged and do not stop the sweep.
func (q *Queue) ScanStuck(ctx context.Context) (int, error) {
	ids, err := q.st.LRange(ctx, q.processingKey, 0, -1)
	if err != nil {
		return 0, err
	}

	now := q.clk.Now()
	requeued := 0
	for _, jobID := range ids {
		fields, err := q.st.HGetAll(ctx, JobKey(jobID))
		if err != nil {
			q.log.Warn("reaper record read failed", obs.String("job_id", jobID), obs.Err(err))
			continue
		}
		if fields == nil {
			continue
		}
		j, err := Decode(fields)
		if err != nil {
			continue
		}
		if j.Status != StatusProcessing || j.StartedAt == nil {
			continue
		}
		if now.Sub(*j.StartedAt) <= q.timeout {
			continue
		}

		if j.Attempts < q.maxAttempts {
			if err := q.RequeueJob(ctx, jobID, ""); err != nil {
				q.log.Error("reaper requeue failed", obs.String("job_id", jobID), obs.Err(err))
				continue
			}
			requeued++
			obs.JobsReaped.Inc()
			q.log.Warn("requeued stuck job",
				obs.String("job_id", jobID), obs.Int("attempts", j.Attempts))
		} else {
			if err := q.MarkFailed(ctx, jobID, ReaperFailure); err != nil {
				q.log.Error("reaper terminal fail failed", obs.String("job_id", jobID), obs.Err(err))
				continue
			}
			q.log.Error("stuck job exceeded max attempts",
				obs.String("job_id", jobID), obs.Int("attempts", j.Attempts))
		}
	}
	return requeued, nil
}

// StrayAck removes an id from the processing list when its record has
// vanished; the worker calls this to avoid re-claiming garbage forever.
func (q *Queue) StrayAck(ctx context.Context, jobID string) error {
	return q.st.LRem(ctx, q.processingKey, 1, jobID)
}

func truncateError(s string) string {
	if len(s) > maxErrorLen {
		return s[:maxErrorLen]
	}
	return s
}

func ptr(t time.Time) *time.Time { return &t }
