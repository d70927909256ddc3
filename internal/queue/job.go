package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// ErrMalformed marks a job record that exists but cannot be decoded.
var ErrMalformed = errors.New("malformed job record")

const jobKeyPrefix = "job:"

// JobKey returns the hash key holding a job's record.
func JobKey(jobID string) string {
	return jobKeyPrefix + jobID
}

// Job is one unit of user-submitted work. Payload is opaque JSON set at
// creation; Result is only set on done; StartedAt is nil while the job
// sits on the waiting list. TraceID/SpanID carry the producer's trace
// context when tracing is enabled and are empty otherwise.
type Job struct {
	ID        string
	Status    Status
	Payload   json.RawMessage
	Result    json.RawMessage
	LastError string
	Attempts  int
	CreatedAt time.Time
	UpdatedAt time.Time
	StartedAt *time.Time
	TraceID   string
	SpanID    string
}

// Encode flattens a job into the stringified hash layout. Redis cannot
// represent absence, so nil timestamps and absent strings become "".
func (j *Job) Encode() map[string]string {
	return map[string]string{
		"job_id":     j.ID,
		"status":     string(j.Status),
		"payload":    string(j.Payload),
		"result":     string(j.Result),
		"last_error": j.LastError,
		"attempts":   strconv.Itoa(j.Attempts),
		"created_at": encodeTime(&j.CreatedAt),
		"updated_at": encodeTime(&j.UpdatedAt),
		"started_at": encodeTime(j.StartedAt),
		"trace_id":   j.TraceID,
		"span_id":    j.SpanID,
	}
}

// Decode parses a stored hash back into a Job. Empty strings decode to
// absent values. A record missing its status, attempts, created_at or
// updated_at, or holding an unparseable started_at, is reported as
// ErrMalformed.
func Decode(fields map[string]string) (*Job, error) {
	status := Status(fields["status"])
	switch status {
	case StatusQueued, StatusProcessing, StatusDone, StatusFailed:
	default:
		return nil, fmt.Errorf("%w: status %q", ErrMalformed, fields["status"])
	}

	attempts, err := strconv.Atoi(fields["attempts"])
	if err != nil || attempts < 0 {
		return nil, fmt.Errorf("%w: attempts %q", ErrMalformed, fields["attempts"])
	}

	createdAt, err := decodeTime(fields["created_at"])
	if err != nil || createdAt == nil {
		return nil, fmt.Errorf("%w: created_at %q", ErrMalformed, fields["created_at"])
	}
	updatedAt, err := decodeTime(fields["updated_at"])
	if err != nil || updatedAt == nil {
		return nil, fmt.Errorf("%w: updated_at %q", ErrMalformed, fields["updated_at"])
	}
	startedAt, err := decodeTime(fields["started_at"])
	if err != nil {
		return nil, fmt.Errorf("%w: started_at %q", ErrMalformed, fields["started_at"])
	}

	j := &Job{
		ID:        fields["job_id"],
		Status:    status,
		LastError: fields["last_error"],
		Attempts:  attempts,
		CreatedAt: *createdAt,
		UpdatedAt: *updatedAt,
		StartedAt: startedAt,
		TraceID:   fields["trace_id"],
		SpanID:    fields["span_id"],
	}
	if p := fields["payload"]; p != "" {
		j.Payload = json.RawMessage(p)
	}
	if r := fields["result"]; r != "" {
		j.Result = json.RawMessage(r)
	}
	return j, nil
}

func encodeTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// decodeTime accepts both the "Z" and "+00:00" offset spellings.
func decodeTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}
