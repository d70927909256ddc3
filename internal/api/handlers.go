// Copyright 2025 James Ross
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/liwenXtrace/BackendInterview-RedisJobQueue/internal/obs"
	"github.com/liwenXtrace/BackendInterview-RedisJobQueue/internal/queue"
)

type Handler struct {
	q   *queue.Queue
	log *zap.Logger
}

func NewHandler(q *queue.Queue, log *zap.Logger) *Handler {
	return &Handler{q: q, log: log}
}

type createJobRequest struct {
	Payload json.RawMessage `json:"payload"`
}

type createJobResponse struct {
	JobID string `json:"job_id"`
}

// JobView is the read model served to polling consumers. Absent values
// render as JSON null.
type JobView struct {
	JobID     string           `json:"job_id"`
	Status    queue.Status     `json:"status"`
	Result    *json.RawMessage `json:"result"`
	Attempts  int              `json:"attempts"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
	StartedAt *time.Time       `json:"started_at"`
	LastError *string          `json:"last_error"`
}

func viewOf(j *queue.Job) JobView {
	v := JobView{
		JobID:     j.ID,
		Status:    j.Status,
		Attempts:  j.Attempts,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
		StartedAt: j.StartedAt,
	}
	if j.Result != nil {
		r := j.Result
		v.Result = &r
	}
	if j.LastError != "" {
		e := j.LastError
		v.LastError = &e
	}
	return v
}

// Ping handles GET /ping
func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "pong"})
}

// CreateJob handles POST /jobs
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if !isJSONObject(req.Payload) {
		writeError(w, http.StatusBadRequest, "payload must be a JSON object")
		return
	}

	jobID := uuid.New().String()
	if err := h.q.CreateJob(r.Context(), jobID, req.Payload); err != nil {
		h.log.Error("create job failed", obs.String("job_id", jobID), obs.Err(err))
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}
	h.log.Info("job accepted", obs.String("job_id", jobID))
	writeJSON(w, http.StatusOK, createJobResponse{JobID: jobID})
}

// GetJob handles GET /jobs/{job_id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]
	j, err := h.q.GetJob(r.Context(), jobID)
	if err != nil {
		h.log.Error("get job failed", obs.String("job_id", jobID), obs.Err(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if j == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, viewOf(j))
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
