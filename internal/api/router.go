package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MikeSquared-Agency/rider-dispatch/internal/broker"
	"github.com/MikeSquared-Agency/rider-dispatch/internal/config"
	"github.com/MikeSquared-Agency/rider-dispatch/internal/scoring"
	"github.com/MikeSquared-Agency/rider-dispatch/internal/store"
)

// Dispatcher runs dispatch attempts. *broker.Broker satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, orderID uuid.UUID, exclude []string) (*broker.Outcome, error)
	Scorer() *scoring.Scorer
}

const dispatchRateKey = "dispatch-order"

func NewRouter(s store.Store, d Dispatcher, cfg *config.Config, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RequestID)
	r.Use(RequestLogger(logger))

	dispatch := NewDispatchHandler(d, logger)
	explain := NewExplainHandler(s, d.Scorer(), cfg.Scoring.ParetoEnabled)
	admin := NewAdminHandler(s)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AdminKeyMiddleware(cfg.Server.AdminKey))

		r.With(RateLimitMiddleware(dispatchRateKey, cfg.Dispatch.RateLimitPerMinute)).
			Post("/dispatch", dispatch.Dispatch)

		r.Get("/orders/{id}/dispatch-log", explain.DispatchLog)
		r.Get("/stats", admin.Stats)
	})

	return r
}

func NewMetricsRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
