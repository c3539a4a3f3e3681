package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/pest-pressure-pipeline/internal/domain"
)

// ModelLister lists the stored versions of a model key, newest first.
type ModelLister interface {
	Models(ctx context.Context, key domain.ModelKey) ([]domain.Model, error)
}

// Server exposes health, readiness, metrics, and model inspection endpoints.
type Server struct {
	httpServer *http.Server
	models     ModelLister
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics, and
// /models routes. The service is ready only when every checker is.
func NewServer(addr string, models ModelLister, logger *slog.Logger, checkers ...sharedobs.ReadinessChecker) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		models: models,
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(allReady(checkers)))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /models", s.handleModels)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// handleModels serves GET /models?scope=company:acme&model_type=seasonal_forecast&pest_type=ants.
// An omitted pest_type selects the all-pests models.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scope, err := domain.ParseScope(q.Get("scope"))
	if err != nil {
		sharedobs.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	modelType, err := domain.ParseModelType(q.Get("model_type"))
	if err != nil {
		sharedobs.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	key := domain.ModelKey{Scope: scope.Key(), ModelType: modelType, PestType: q.Get("pest_type")}
	models, err := s.models.Models(r.Context(), key)
	if err != nil {
		s.logger.Error("list models failed", "error", err, "key", key.String())
		sharedobs.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "list models failed"})
		return
	}
	if models == nil {
		models = []domain.Model{}
	}
	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{"key": key.String(), "models": models})
}

// allReady combines readiness checkers; every failure is reported.
type allReady []sharedobs.ReadinessChecker

func (a allReady) CheckReadiness(ctx context.Context) error {
	errs := make([]error, 0, len(a))
	for _, c := range a {
		errs = append(errs, c.CheckReadiness(ctx))
	}
	return errors.Join(errs...)
}
