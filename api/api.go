// Package api provides the HTTP operational surface for a Courier
// engine: job submission and inspection, queue controls, dead-letter
// escalation, webhook subscription management, and event publishing.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	courier "github.com/openmeet/courier"
	"github.com/openmeet/courier/engine"
	"github.com/openmeet/courier/job"
)

// API exposes a Courier engine over HTTP.
type API struct {
	eng    *engine.Engine
	logger *slog.Logger
}

// New creates an API from an engine.
func New(eng *engine.Engine) *API {
	return &API{eng: eng, logger: eng.Courier().Logger()}
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/health", a.health)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/stats", a.stats)
		r.Post("/escalate", a.escalateAll)
		r.Post("/events", a.publishEvent)

		r.Route("/queues", func(r chi.Router) {
			r.Get("/", a.listQueues)

			r.Route("/{queue}", func(r chi.Router) {
				r.Use(a.requireQueue)

				r.Get("/stats", a.queueStats)
				r.Post("/pause", a.pauseQueue)
				r.Post("/resume", a.resumeQueue)
				r.Post("/drain", a.drainQueue)
				r.Post("/escalate", a.escalateQueue)

				r.Post("/jobs", a.submitJob)
				r.Get("/jobs", a.listJobs)
				r.Get("/jobs/{jobID}", a.getJob)
				r.Post("/jobs/{jobID}/cancel", a.cancelJob)
				r.Post("/jobs/{jobID}/retry", a.retryJob)
			})
		})

		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/", a.createSubscription)
			r.Get("/", a.listSubscriptions)
			r.Get("/{webhookID}", a.getSubscription)
			r.Delete("/{webhookID}", a.deleteSubscription)
			r.Post("/{webhookID}/test", a.testSubscription)
			r.Post("/{webhookID}/rotate-secret", a.rotateSecret)
			r.Get("/{webhookID}/deliveries", a.listDeliveries)
			r.Get("/{webhookID}/stats", a.deliveryStats)
		})
	})

	return r
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.Store().Ping(r.Context()); err != nil {
		http.Error(w, "store unreachable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// requireQueue rejects unknown queue types before the handler runs.
func (a *API) requireQueue(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := job.Type(chi.URLParam(r, "queue"))
		if !q.Valid() {
			http.Error(w, "unknown queue type", http.StatusNotFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// queueParam returns the (already validated) queue from the URL.
func queueParam(r *http.Request) job.Type {
	return job.Type(chi.URLParam(r, "queue"))
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// respondError maps sentinel errors to HTTP status codes.
func (a *API) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, courier.ErrJobNotFound),
		errors.Is(err, courier.ErrSubscriptionNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, courier.ErrUnknownQueueType),
		errors.Is(err, courier.ErrJobAlreadyExists),
		errors.Is(err, courier.ErrInvalidState):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		a.logger.Error("api error", slog.String("error", err.Error()))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// queryInt parses an integer query parameter, returning def when absent
// or malformed.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// defaultLimit caps list endpoints at 100 entries unless overridden.
func defaultLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}
