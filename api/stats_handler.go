package api

import (
	"net/http"

	"github.com/openmeet/courier/job"
)

// StatsResponse aggregates queue state across all queues.
type StatsResponse struct {
	Queues map[string]job.Stats `json:"queues"`
	Totals job.Stats            `json:"totals"`
}

func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{Queues: make(map[string]job.Stats, len(job.Types()))}

	for _, q := range job.Types() {
		stats, err := a.eng.Queues().Stats(r.Context(), q)
		if err != nil {
			a.respondError(w, err)
			return
		}
		resp.Queues[q.String()] = stats
		resp.Totals.Waiting += stats.Waiting
		resp.Totals.Active += stats.Active
		resp.Totals.Completed += stats.Completed
		resp.Totals.Failed += stats.Failed
		resp.Totals.Delayed += stats.Delayed
	}

	respondJSON(w, http.StatusOK, resp)
}
