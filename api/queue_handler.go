package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/openmeet/courier/job"
)

// QueueInfo is one row of GET /v1/queues.
type QueueInfo struct {
	Queue  string `json:"queue"`
	Paused bool   `json:"paused"`
}

func (a *API) listQueues(w http.ResponseWriter, r *http.Request) {
	infos := make([]QueueInfo, 0, len(job.Types()))
	for _, q := range job.Types() {
		paused, err := a.eng.Queues().IsPaused(r.Context(), q)
		if err != nil {
			a.respondError(w, err)
			return
		}
		infos = append(infos, QueueInfo{Queue: q.String(), Paused: paused})
	}
	respondJSON(w, http.StatusOK, infos)
}

func (a *API) queueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.eng.Queues().Stats(r.Context(), queueParam(r))
	if err != nil {
		a.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (a *API) pauseQueue(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.Queues().Pause(r.Context(), queueParam(r)); err != nil {
		a.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) resumeQueue(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.Queues().Resume(r.Context(), queueParam(r)); err != nil {
		a.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DrainRequest is the body for POST /v1/queues/{queue}/drain.
type DrainRequest struct {
	// OlderThanMs prunes completed jobs finished at least this long ago.
	OlderThanMs int64 `json:"older_than_ms"`
}

// DrainResponse reports how many jobs were pruned.
type DrainResponse struct {
	Drained int64 `json:"drained"`
}

func (a *API) drainQueue(w http.ResponseWriter, r *http.Request) {
	var req DrainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.OlderThanMs < 0 {
		http.Error(w, "older_than_ms must be >= 0", http.StatusBadRequest)
		return
	}

	n, err := a.eng.Queues().DrainExpired(r.Context(), queueParam(r),
		time.Duration(req.OlderThanMs)*time.Millisecond)
	if err != nil {
		a.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, DrainResponse{Drained: n})
}
