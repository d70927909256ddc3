// Copyright 2025 James Ross
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/liwenXtrace/BackendInterview-RedisJobQueue/internal/breaker"
	"github.com/liwenXtrace/BackendInterview-RedisJobQueue/internal/config"
	"github.com/liwenXtrace/BackendInterview-RedisJobQueue/internal/obs"
	"github.com/liwenXtrace/BackendInterview-RedisJobQueue/internal/queue"
)

// HandlerFunc executes one job's payload and returns its result. It may be
// slow, may return an error, and may never return; the queue protocol
// covers all three.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// DefaultHandler simulates work: a short cancellable sleep, then echo the
// payload back under "original".
func DefaultHandler(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	timer := time.NewTimer(300 * time.Millisecond)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}
	if len(payload) == 0 {
		payload = json.RawMessage(`null`)
	}
	out := struct {
		Processed bool            `json:"processed"`
		Original  json.RawMessage `json:"original"`
	}{Processed: true, Original: payload}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	return b, nil
}

type Worker struct {
	cfg     *config.Config
	q       *queue.Queue
	log     *zap.Logger
	cb      *breaker.CircuitBreaker
	handler HandlerFunc
}

// New builds a worker pool around the queue. A nil handler falls back to
// DefaultHandler.
func New(cfg *config.Config, q *queue.Queue, log *zap.Logger, handler HandlerFunc) *Worker {
	if handler == nil {
		handler = DefaultHandler
	}
	cb := breaker.New(cfg.CircuitBreaker.Window, cfg.CircuitBreaker.CooldownPeriod,
		cfg.CircuitBreaker.FailureThreshold, cfg.CircuitBreaker.MinSamples)
	return &Worker{cfg: cfg, q: q, log: log, cb: cb, handler: handler}
}

// Run blocks until ctx is cancelled, keeping cfg.Worker.Count claim loops
// alive plus a breaker-state metric updater.
func (w *Worker) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Worker.Count; i++ {
		wg.Add(1)
		id := fmt.Sprintf("worker-%d", i)
		go func(workerID string) {
			defer wg.Done()
			obs.WorkerActive.Inc()
			defer obs.WorkerActive.Dec()
			w.runOne(ctx, workerID)
		}(id)
	}

	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				switch w.cb.State() {
				case breaker.Closed:
					obs.CircuitBreakerState.Set(0)
				case breaker.HalfOpen:
					obs.CircuitBreakerState.Set(1)
				case breaker.Open:
					obs.CircuitBreakerState.Set(2)
				}
			}
		}
	}()

	wg.Wait()
	return nil
}

func (w *Worker) runOne(ctx context.Context, workerID string) {
	for ctx.Err() == nil {
		if !w.cb.Allow() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.CircuitBreaker.Pause):
			}
			continue
		}

		jobID, err := w.q.Claim(ctx, w.cfg.PollBlock())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Warn("claim error", obs.String("worker_id", workerID), obs.Err(err))
			w.recordOutcome(false)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		if jobID == "" {
			continue // poll timeout
		}

		start := time.Now()
		ok := w.processOne(ctx, workerID, jobID)
		obs.JobProcessingDuration.Observe(time.Since(start).Seconds())
		w.recordOutcome(ok)
	}
}

// recordOutcome feeds the breaker and counts Open transitions.
func (w *Worker) recordOutcome(ok bool) {
	prev := w.cb.State()
	w.cb.Record(ok)
	if curr := w.cb.State(); prev != curr && curr == breaker.Open {
		obs.CircuitBreakerTrips.Inc()
	}
}

func (w *Worker) processOne(ctx context.Context, workerID, jobID string) bool {
	job, err := w.q.GetJob(ctx, jobID)
	if err != nil {
		w.log.Error("job load failed", obs.String("job_id", jobID), obs.Err(err))
		return false
	}
	if job == nil {
		// stray id with no record; drop it so it is not re-claimed forever
		if err := w.q.StrayAck(ctx, jobID); err != nil {
			w.log.Error("stray ack failed", obs.String("job_id", jobID), obs.Err(err))
		}
		w.log.Warn("claimed id without record", obs.String("job_id", jobID))
		return false
	}

	attempts, err := w.q.MarkProcessing(ctx, jobID)
	if err != nil {
		// leave the claim in place; the reaper owns it from here
		w.log.Error("mark processing failed", obs.String("job_id", jobID), obs.Err(err))
		return false
	}

	ctx, span := obs.ContextWithJobSpan(ctx, jobID, job.TraceID, job.SpanID, attempts)
	defer span.End()
	obs.AddEvent(ctx, "job.processing.started",
		obs.KeyValue("job.id", jobID),
		obs.KeyValue("worker.id", workerID),
	)

	result, workErr := w.handler(ctx, job.Payload)
	if workErr == nil {
		if err := w.q.MarkDone(ctx, jobID, result); err != nil {
			w.log.Error("mark done failed", obs.String("job_id", jobID), obs.Err(err))
			obs.RecordError(ctx, err)
			return false
		}
		obs.SetSpanSuccess(ctx)
		w.log.Info("job completed",
			obs.String("job_id", jobID), obs.Int("attempts", attempts),
			obs.String("worker_id", workerID))
		return true
	}

	obs.RecordError(ctx, workErr)
	if ctx.Err() != nil {
		// shutting down mid-job: the claim stays on the processing list
		// and the reaper will resolve it
		return false
	}

	if attempts < w.q.MaxAttempts() {
		if err := w.q.RequeueJob(ctx, jobID, workErr.Error()); err != nil {
			w.log.Error("requeue failed", obs.String("job_id", jobID), obs.Err(err))
			return false
		}
		obs.JobsRetried.Inc()
		w.log.Warn("job retried",
			obs.String("job_id", jobID), obs.Int("attempts", attempts),
			obs.String("worker_id", workerID), obs.Err(workErr))
		return false
	}

	if err := w.q.MarkFailed(ctx, jobID, workErr.Error()); err != nil {
		w.log.Error("mark failed failed", obs.String("job_id", jobID), obs.Err(err))
		return false
	}
	w.log.Error("job failed terminally",
		obs.String("job_id", jobID), obs.Int("attempts", attempts),
		obs.String("worker_id", workerID), obs.Err(workErr))
	return false
}
