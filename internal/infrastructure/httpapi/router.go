package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rolloutd/rolloutd/internal/application"
	"github.com/rolloutd/rolloutd/internal/domain"
)

const healthCheckTimeout = 2 * time.Second

// Router wires HTTP endpoints to the rollout service.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	svc      *application.RolloutService
	upgrader websocket.Upgrader
	dbHealth func(context.Context) error

	// watchInterval is how often watch connections poll for changes.
	// Shortened in tests.
	watchInterval time.Duration

	metricsOnce    sync.Once
	requestTotal   *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
}

// NewRouter assembles routes with dependencies. The registry receives
// the HTTP collectors and backs the /metrics endpoint.
func NewRouter(logger *slog.Logger, svc *application.RolloutService, reg *prometheus.Registry, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:    http.NewServeMux(),
		logger: logger,
		svc:    svc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		dbHealth:      dbHealth,
		watchInterval: time.Second,
	}
	r.initMetrics(reg)
	r.register(reg)
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) register(reg *prometheus.Registry) {
	r.mux.HandleFunc("GET /healthz", r.observe("/healthz", r.handleHealthz))
	r.mux.HandleFunc("POST /v1/rollouts", r.observe("/v1/rollouts", r.handleSubmit))
	r.mux.HandleFunc("GET /v1/rollouts", r.observe("/v1/rollouts", r.handleList))
	r.mux.HandleFunc("GET /v1/rollouts/{id}", r.observe("/v1/rollouts/{id}", r.handleStatus))
	r.mux.HandleFunc("POST /v1/rollouts/{id}/promote", r.observe("/v1/rollouts/{id}/promote", r.handlePromote))
	r.mux.HandleFunc("POST /v1/rollouts/{id}/abort", r.observe("/v1/rollouts/{id}/abort", r.handleAbort))
	r.mux.HandleFunc("POST /v1/rollouts/{id}/resume", r.observe("/v1/rollouts/{id}/resume", r.handleResume))
	r.mux.HandleFunc("GET /v1/rollouts/{id}/watch", r.handleWatch)
	if reg != nil {
		r.mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unreachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *Router) handleSubmit(w http.ResponseWriter, req *http.Request) {
	var in application.SubmitInput
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rollout, err := r.svc.Submit(req.Context(), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rollout)
}

func (r *Router) handleList(w http.ResponseWriter, req *http.Request) {
	rollouts, err := r.svc.List(req.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if rollouts == nil {
		rollouts = []domain.Rollout{}
	}
	writeJSON(w, http.StatusOK, rollouts)
}

func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request) {
	lastN := 10
	if raw := req.URL.Query().Get("decisions"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "decisions must be a positive integer")
			return
		}
		lastN = n
	}
	st, err := r.svc.Status(req.Context(), domain.RolloutID(req.PathValue("id")), lastN)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (r *Router) handlePromote(w http.ResponseWriter, req *http.Request) {
	rollout, err := r.svc.Promote(req.Context(), domain.RolloutID(req.PathValue("id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rollout)
}

func (r *Router) handleAbort(w http.ResponseWriter, req *http.Request) {
	rollout, err := r.svc.Abort(req.Context(), domain.RolloutID(req.PathValue("id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rollout)
}

func (r *Router) handleResume(w http.ResponseWriter, req *http.Request) {
	rollout, err := r.svc.Resume(req.Context(), domain.RolloutID(req.PathValue("id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rollout)
}
