package api

import "net/http"

// EscalateResponse reports how many failed jobs were migrated to
// cleanup jobs.
type EscalateResponse struct {
	Escalated int `json:"escalated"`
}

func (a *API) escalateQueue(w http.ResponseWriter, r *http.Request) {
	n, err := a.eng.Escalator().Escalate(r.Context(), queueParam(r))
	if err != nil {
		a.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, EscalateResponse{Escalated: n})
}

func (a *API) escalateAll(w http.ResponseWriter, r *http.Request) {
	n, err := a.eng.Escalator().EscalateAll(r.Context())
	if err != nil {
		a.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, EscalateResponse{Escalated: n})
}
