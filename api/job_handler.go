package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openmeet/courier/id"
	"github.com/openmeet/courier/job"
)

// SubmitJobRequest is the body for POST /v1/queues/{queue}/jobs.
type SubmitJobRequest struct {
	Payload       json.RawMessage `json:"payload"`
	Priority      int             `json:"priority,omitempty"`
	MaxAttempts   int             `json:"max_attempts,omitempty"`
	DelayMs       int64           `json:"delay_ms,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

func (a *API) submitJob(w http.ResponseWriter, r *http.Request) {
	var req SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	var opts []job.Option
	if req.Priority > 0 {
		opts = append(opts, job.WithPriority(req.Priority))
	}
	if req.MaxAttempts > 0 {
		opts = append(opts, job.WithMaxAttempts(req.MaxAttempts))
	}
	if req.DelayMs > 0 {
		opts = append(opts, job.WithDelay(time.Duration(req.DelayMs)*time.Millisecond))
	}
	if req.CorrelationID != "" {
		opts = append(opts, job.WithCorrelationID(req.CorrelationID))
	}

	j, err := a.eng.SubmitRaw(r.Context(), queueParam(r), req.Payload, opts...)
	if err != nil {
		a.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, j)
}

func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	state := job.State(r.URL.Query().Get("state"))
	if state == "" {
		state = job.StateWaiting
	}

	jobs, err := a.eng.Queues().List(r.Context(), queueParam(r), state, job.ListOpts{
		Limit:  defaultLimit(queryInt(r, "limit", 0)),
		Offset: queryInt(r, "offset", 0),
	})
	if err != nil {
		a.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, jobs)
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobID"))
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}

	status, err := a.eng.Queues().GetStatus(r.Context(), queueParam(r), jobID)
	if err != nil {
		a.respondError(w, err)
		return
	}
	if status == nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (a *API) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobID"))
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}

	cancelled, err := a.eng.Queues().Cancel(r.Context(), queueParam(r), jobID)
	if err != nil {
		a.respondError(w, err)
		return
	}
	if !cancelled {
		// Active, finished, or unknown: nothing left to cancel.
		http.Error(w, "job not cancellable", http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) retryJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobID"))
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}

	retried, err := a.eng.Queues().Retry(r.Context(), queueParam(r), jobID)
	if err != nil {
		a.respondError(w, err)
		return
	}
	if !retried {
		http.Error(w, "job not retryable", http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
