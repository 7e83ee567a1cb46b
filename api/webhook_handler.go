package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openmeet/courier/id"
	"github.com/openmeet/courier/webhook"
)

// CreateSubscriptionRequest is the body for POST /v1/webhooks.
type CreateSubscriptionRequest struct {
	OrgID  string   `json:"org_id"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

func (a *API) createSubscription(w http.ResponseWriter, r *http.Request) {
	var req CreateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.OrgID == "" || req.URL == "" || len(req.Events) == 0 {
		http.Error(w, "org_id, url, and events required", http.StatusBadRequest)
		return
	}

	// The response includes the signing secret; this is the only time
	// it is returned.
	sub, err := a.eng.Webhooks().Subscribe(r.Context(), req.OrgID, req.URL, req.Events)
	if err != nil {
		a.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, sub)
}

func (a *API) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org_id")
	if orgID == "" {
		http.Error(w, "org_id required", http.StatusBadRequest)
		return
	}
	activeOnly := r.URL.Query().Get("active") == "true"

	subs, err := a.eng.Webhooks().Subscriptions(r.Context(), orgID, activeOnly)
	if err != nil {
		a.respondError(w, err)
		return
	}
	for _, s := range subs {
		s.Secret = ""
	}
	respondJSON(w, http.StatusOK, subs)
}

func (a *API) getSubscription(w http.ResponseWriter, r *http.Request) {
	hookID, ok := a.hookIDParam(w, r)
	if !ok {
		return
	}

	sub, err := a.eng.Webhooks().Subscription(r.Context(), hookID)
	if err != nil {
		a.respondError(w, err)
		return
	}
	sub.Secret = ""
	respondJSON(w, http.StatusOK, sub)
}

func (a *API) deleteSubscription(w http.ResponseWriter, r *http.Request) {
	hookID, ok := a.hookIDParam(w, r)
	if !ok {
		return
	}

	if err := a.eng.Webhooks().Unsubscribe(r.Context(), hookID); err != nil {
		a.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) testSubscription(w http.ResponseWriter, r *http.Request) {
	hookID, ok := a.hookIDParam(w, r)
	if !ok {
		return
	}

	result, err := a.eng.Webhooks().Test(r.Context(), hookID)
	if err != nil {
		a.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// RotateSecretResponse carries the new signing secret. It is returned
// once; store it.
type RotateSecretResponse struct {
	Secret string `json:"secret"`
}

func (a *API) rotateSecret(w http.ResponseWriter, r *http.Request) {
	hookID, ok := a.hookIDParam(w, r)
	if !ok {
		return
	}

	secret, err := a.eng.Webhooks().RotateSecret(r.Context(), hookID)
	if err != nil {
		a.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, RotateSecretResponse{Secret: secret})
}

func (a *API) listDeliveries(w http.ResponseWriter, r *http.Request) {
	hookID, ok := a.hookIDParam(w, r)
	if !ok {
		return
	}

	entries, err := a.eng.Webhooks().Deliveries(r.Context(), webhook.LogQuery{
		WebhookID: hookID,
		Limit:     defaultLimit(queryInt(r, "limit", 0)),
	})
	if err != nil {
		a.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

func (a *API) deliveryStats(w http.ResponseWriter, r *http.Request) {
	hookID, ok := a.hookIDParam(w, r)
	if !ok {
		return
	}

	stats, err := a.eng.Webhooks().Stats(r.Context(), hookID, queryInt(r, "window_days", 7))
	if err != nil {
		a.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// PublishEventRequest is the body for POST /v1/events.
type PublishEventRequest struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	OrgID string          `json:"org_id"`
}

func (a *API) publishEvent(w http.ResponseWriter, r *http.Request) {
	var req PublishEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Event == "" || req.OrgID == "" {
		http.Error(w, "event and org_id required", http.StatusBadRequest)
		return
	}

	if err := a.eng.Webhooks().Publish(r.Context(), req.Event, req.Data, req.OrgID); err != nil {
		a.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) hookIDParam(w http.ResponseWriter, r *http.Request) (id.ID, bool) {
	hookID, err := id.ParseHookID(chi.URLParam(r, "webhookID"))
	if err != nil {
		http.Error(w, "invalid webhook id", http.StatusBadRequest)
		return id.Nil, false
	}
	return hookID, true
}
