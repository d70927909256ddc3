package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/liwenXtrace/BackendInterview-RedisJobQueue/internal/clock"
	"github.com/liwenXtrace/BackendInterview-RedisJobQueue/internal/config"
	"github.com/liwenXtrace/BackendInterview-RedisJobQueue/internal/store"
)

type fixture struct {
	q   *Queue
	mr  *miniredis.Miniredis
	clk *clock.Manual
	cfg *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg, err := config.Load("nonexistent.yaml")
	require.NoError(t, err)

	clk := clock.NewManual(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	q := New(cfg, store.New(rdb), clk, zap.NewNop())
	return &fixture{q: q, mr: mr, clk: clk, cfg: cfg}
}

func (f *fixture) mustGet(t *testing.T, id string) *Job {
	t.Helper()
	j, err := f.q.GetJob(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, j)
	return j
}

func TestCreateJobWritesRecordThenEnqueues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.q.CreateJob(ctx, "j1", json.RawMessage(`{"x":1}`)))

	j := f.mustGet(t, "j1")
	require.Equal(t, StatusQueued, j.Status)
	require.Equal(t, 0, j.Attempts)
	require.Nil(t, j.StartedAt)
	require.Nil(t, j.Result)
	require.JSONEq(t, `{"x":1}`, string(j.Payload))
	require.Equal(t, f.clk.Now(), j.CreatedAt)
	require.Equal(t, j.CreatedAt, j.UpdatedAt)

	waiting, _ := f.mr.List(f.cfg.Queue.WaitingKey)
	require.Equal(t, []string{"j1"}, waiting)
	require.False(t, f.mr.Exists(f.cfg.Queue.ProcessingKey))
}

func TestClaimMovesIdAtomically(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.q.CreateJob(ctx, "j1", json.RawMessage(`{}`)))

	id, err := f.q.Claim(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, "j1", id)

	require.False(t, f.mr.Exists(f.cfg.Queue.WaitingKey))
	processing, _ := f.mr.List(f.cfg.Queue.ProcessingKey)
	require.Equal(t, []string{"j1"}, processing)

	// claim does not touch the record
	j := f.mustGet(t, "j1")
	require.Equal(t, StatusQueued, j.Status)
	require.Equal(t, 0, j.Attempts)
}

func TestClaimTimeoutOnEmptyList(t *testing.T) {
	f := newFixture(t)
	id, err := f.q.Claim(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	require.Empty(t, id)
}

func TestClaimIsFIFO(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.q.CreateJob(ctx, "first", json.RawMessage(`{}`)))
	require.NoError(t, f.q.CreateJob(ctx, "second", json.RawMessage(`{}`)))

	id, err := f.q.Claim(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, "first", id)
}

func TestMarkProcessingIncrementsAttemptsAndClearsError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.q.CreateJob(ctx, "j1", json.RawMessage(`{}`)))
	_, err := f.q.Claim(ctx, time.Second)
	require.NoError(t, err)

	f.clk.Advance(time.Minute)
	attempts, err := f.q.MarkProcessing(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, 1, attempts)

	j := f.mustGet(t, "j1")
	require.Equal(t, StatusProcessing, j.Status)
	require.Equal(t, 1, j.Attempts)
	require.NotNil(t, j.StartedAt)
	require.Equal(t, f.clk.Now(), *j.StartedAt)
	require.Empty(t, j.LastError)
	require.True(t, !j.CreatedAt.After(*j.StartedAt))

	// re-entry clears a previous error and bumps attempts again
	require.NoError(t, f.q.RequeueJob(ctx, "j1", "transient boom"))
	require.Equal(t, "transient boom", f.mustGet(t, "j1").LastError)
	_, err = f.q.Claim(ctx, time.Second)
	require.NoError(t, err)
	attempts, err = f.q.MarkProcessing(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, 2, attempts)
	require.Empty(t, f.mustGet(t, "j1").LastError)
}

func TestMarkDoneWritesResultAndAcks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.q.CreateJob(ctx, "j1", json.RawMessage(`{"x":1}`)))
	_, err := f.q.Claim(ctx, time.Second)
	require.NoError(t, err)
	_, err = f.q.MarkProcessing(ctx, "j1")
	require.NoError(t, err)

	require.NoError(t, f.q.MarkDone(ctx, "j1", json.RawMessage(`{"processed":true}`)))

	j := f.mustGet(t, "j1")
	require.Equal(t, StatusDone, j.Status)
	require.JSONEq(t, `{"processed":true}`, string(j.Result))
	require.False(t, f.mr.Exists(f.cfg.Queue.WaitingKey))
	require.False(t, f.mr.Exists(f.cfg.Queue.ProcessingKey))
}

func TestMarkFailedTruncatesError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.q.CreateJob(ctx, "j1", json.RawMessage(`{}`)))
	_, err := f.q.Claim(ctx, time.Second)
	require.NoError(t, err)
	_, err = f.q.MarkProcessing(ctx, "j1")
	require.NoError(t, err)

	long := make([]byte, 4096)
	for i := range long {
		long[i] = 'e'
	}
	require.NoError(t, f.q.MarkFailed(ctx, "j1", string(long)))

	j := f.mustGet(t, "j1")
	require.Equal(t, StatusFailed, j.Status)
	require.Len(t, j.LastError, 1024)
	require.False(t, f.mr.Exists(f.cfg.Queue.ProcessingKey))
}

func TestRequeuePushesBeforeRemoving(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.q.CreateJob(ctx, "j1", json.RawMessage(`{}`)))
	_, err := f.q.Claim(ctx, time.Second)
	require.NoError(t, err)
	_, err = f.q.MarkProcessing(ctx, "j1")
	require.NoError(t, err)

	require.NoError(t, f.q.RequeueJob(ctx, "j1", "try again"))

	j := f.mustGet(t, "j1")
	require.Equal(t, StatusQueued, j.Status)
	require.Nil(t, j.StartedAt)
	require.Equal(t, "try again", j.LastError)

	waiting, _ := f.mr.List(f.cfg.Queue.WaitingKey)
	require.Equal(t, []string{"j1"}, waiting)
	require.False(t, f.mr.Exists(f.cfg.Queue.ProcessingKey))
}

func TestScanStuckRequeuesTimedOutJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.q.CreateJob(ctx, "j1", json.RawMessage(`{"slow":true}`)))
	_, err := f.q.Claim(ctx, time.Second)
	require.NoError(t, err)
	_, err = f.q.MarkProcessing(ctx, "j1")
	require.NoError(t, err)

	// exactly at the boundary: not yet stuck
	f.clk.Advance(f.cfg.ProcessingTimeout())
	n, err := f.q.ScanStuck(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, StatusProcessing, f.mustGet(t, "j1").Status)

	// one tick past the boundary: stuck
	f.clk.Advance(time.Second)
	n, err = f.q.ScanStuck(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	j := f.mustGet(t, "j1")
	require.Equal(t, StatusQueued, j.Status)
	require.Nil(t, j.StartedAt)
	waiting, _ := f.mr.List(f.cfg.Queue.WaitingKey)
	require.Equal(t, []string{"j1"}, waiting)
	require.False(t, f.mr.Exists(f.cfg.Queue.ProcessingKey))
}

func TestScanStuckFailsTerminallyAtAttemptCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.q.CreateJob(ctx, "j1", json.RawMessage(`{}`)))

	// burn the attempt budget
	for i := 0; i < f.cfg.Queue.MaxAttempts; i++ {
		_, err := f.q.Claim(ctx, time.Second)
		require.NoError(t, err)
		_, err = f.q.MarkProcessing(ctx, "j1")
		require.NoError(t, err)
		if i < f.cfg.Queue.MaxAttempts-1 {
			require.NoError(t, f.q.RequeueJob(ctx, "j1", "boom"))
		}
	}

	f.clk.Advance(f.cfg.ProcessingTimeout() + time.Second)
	n, err := f.q.ScanStuck(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	j := f.mustGet(t, "j1")
	require.Equal(t, StatusFailed, j.Status)
	require.Equal(t, ReaperFailure, j.LastError)
	require.Equal(t, f.cfg.Queue.MaxAttempts, j.Attempts)
	require.False(t, f.mr.Exists(f.cfg.Queue.WaitingKey))
	require.False(t, f.mr.Exists(f.cfg.Queue.ProcessingKey))
}

func TestScanStuckSkipsMissingAndForeignRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// id on the processing list with no record at all
	f.mr.Lpush(f.cfg.Queue.ProcessingKey, "ghost")

	// record exists but is owned by a live worker (status already done)
	require.NoError(t, f.q.CreateJob(ctx, "finished", json.RawMessage(`{}`)))
	_, err := f.q.Claim(ctx, time.Second)
	require.NoError(t, err)
	_, err = f.q.MarkProcessing(ctx, "finished")
	require.NoError(t, err)
	require.NoError(t, f.q.MarkDone(ctx, "finished", json.RawMessage(`{}`)))
	f.mr.Lpush(f.cfg.Queue.ProcessingKey, "finished")

	f.clk.Advance(time.Hour)
	n, err := f.q.ScanStuck(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, StatusDone, f.mustGet(t, "finished").Status)
}

func TestScanStuckIdempotentAcrossReapers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.q.CreateJob(ctx, "j1", json.RawMessage(`{}`)))
	_, err := f.q.Claim(ctx, time.Second)
	require.NoError(t, err)
	_, err = f.q.MarkProcessing(ctx, "j1")
	require.NoError(t, err)

	f.clk.Advance(f.cfg.ProcessingTimeout() + time.Second)
	n, err := f.q.ScanStuck(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// a second sweep finds status=queued and leaves everything alone
	n, err = f.q.ScanStuck(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
	waiting, _ := f.mr.List(f.cfg.Queue.WaitingKey)
	require.Equal(t, []string{"j1"}, waiting)
}

func TestGetJobAbsentAndMalformed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	j, err := f.q.GetJob(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, j)

	f.mr.HSet("job:broken", "status", "nonsense")
	j, err = f.q.GetJob(ctx, "broken")
	require.NoError(t, err)
	require.Nil(t, j)
}

func TestTerminalStateStability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.q.CreateJob(ctx, "j1", json.RawMessage(`{}`)))
	_, err := f.q.Claim(ctx, time.Second)
	require.NoError(t, err)
	_, err = f.q.MarkProcessing(ctx, "j1")
	require.NoError(t, err)
	require.NoError(t, f.q.MarkDone(ctx, "j1", json.RawMessage(`{"ok":true}`)))
	done := f.mustGet(t, "j1")

	// the reaper never revisits a terminal job
	f.clk.Advance(24 * time.Hour)
	_, err = f.q.ScanStuck(ctx)
	require.NoError(t, err)
	require.Equal(t, done, f.mustGet(t, "j1"))
}
