// Package httpapi exposes the turn engine's admin/health HTTP surface: a
// liveness/readiness probe pair, a Prometheus scrape endpoint, and a debug
// rewind trigger for operators. It is deliberately small — the resolve_turn
// protocol itself is invoked through cmd/turnengine, not HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harrowgate/turnengine/internal/observe"
	"github.com/harrowgate/turnengine/pkg/rewind"
	"github.com/harrowgate/turnengine/pkg/turnerr"
)

// checkTimeout bounds how long a single readiness check may run before its
// context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named readiness probe. Check returns nil when the dependency
// is healthy.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// healthResult is the JSON body returned by /healthz and /readyz.
type healthResult struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// rewindRequest is the JSON body accepted by POST /internal/campaigns/{id}/rewind.
type rewindRequest struct {
	TargetTurnID *int64 `json:"target_turn_id,omitempty"`
	ExternalID   string `json:"external_message_id,omitempty"`
}

// rewindResponse reports the outcome of a rewind to operators.
type rewindResponse struct {
	TargetTurnID     int64 `json:"target_turn_id"`
	DeletedTurns     int64 `json:"deleted_turns"`
	DeletedSnapshots int64 `json:"deleted_snapshots"`
}

// Server bundles the handlers and their dependencies for the admin surface.
type Server struct {
	checkers []Checker
	rewind   *rewind.Controller
	metrics  *observe.Metrics
	log      *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithChecker registers an additional readiness checker.
func WithChecker(c Checker) Option {
	return func(s *Server) { s.checkers = append(s.checkers, c) }
}

// WithLogger overrides the default slog logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// New builds a Server. rewindCtl may be nil, in which case the rewind
// endpoint responds 503; this lets operators run the admin surface before
// the store is wired (e.g. during migrate-only deployments).
func New(rewindCtl *rewind.Controller, metrics *observe.Metrics, opts ...Option) *Server {
	s := &Server{
		rewind:  rewindCtl,
		metrics: metrics,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Router builds the chi router exposing every admin/health route, wrapped in
// the observability middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(observe.Middleware(s.metrics))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/internal/campaigns/{id}/rewind", s.handleRewind)

	return r
}

// handleHealthz is a liveness probe: a running process that can serve HTTP is
// considered alive.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResult{Status: "ok"})
}

// handleReadyz runs every registered [Checker] and returns 503 if any fails.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(s.checkers))
	allOK := true

	for _, c := range s.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := healthResult{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// handleRewind drives the debug rewind endpoint used by operators to undo a
// campaign back to an earlier narration turn. It is not part of the
// turn-resolution core; it exists so the admin surface has a hands-on escape
// hatch independent of whatever chat surface the campaign runs on.
func (s *Server) handleRewind(w http.ResponseWriter, r *http.Request) {
	if s.rewind == nil {
		http.Error(w, "rewind controller not configured", http.StatusServiceUnavailable)
		return
	}

	campaignID := chi.URLParam(r, "id")
	var req rewindRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	var (
		result *rewind.Result
		err    error
	)
	switch {
	case req.TargetTurnID != nil:
		result, err = s.rewind.ToTurn(r.Context(), campaignID, *req.TargetTurnID)
	case req.ExternalID != "":
		result, err = s.rewind.ToExternalMessage(r.Context(), campaignID, req.ExternalID)
	default:
		http.Error(w, "one of target_turn_id or external_message_id is required", http.StatusBadRequest)
		return
	}

	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, turnerr.ErrNoSnapshot) || errors.Is(err, turnerr.ErrNotFound) {
			status = http.StatusNotFound
		}
		s.log.Error("rewind failed", "campaign_id", campaignID, "error", err)
		http.Error(w, err.Error(), status)
		return
	}

	s.log.Info("rewind completed", "campaign_id", campaignID, "target_turn_id", result.TargetTurnID,
		"deleted_turns", result.DeletedTurns, "deleted_snapshots", result.DeletedSnapshots)

	writeJSON(w, http.StatusOK, rewindResponse{
		TargetTurnID:     result.TargetTurnID,
		DeletedTurns:     result.DeletedTurns,
		DeletedSnapshots: result.DeletedSnapshots,
	})
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
