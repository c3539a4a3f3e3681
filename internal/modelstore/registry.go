// Package modelstore publishes trained models and manages which version is
// active for each (scope, model type, pest type).
package modelstore

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/pest-pressure-pipeline/internal/domain"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/observability"
)

// Draft is a freshly trained parameter set awaiting publication.
type Draft struct {
	Scope                 domain.Scope
	PestType              string
	Parameters            domain.Parameters
	TrainingDataCount     int
	TrainingDateRange     domain.DateRange
	AccuracyMetrics       *domain.AccuracyMetrics
	ContributingCompanies []string
}

// Registry saves model versions and activates them.
type Registry struct {
	repo    domain.ModelRepository
	clock   clockwork.Clock
	newID   func() string
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewRegistry creates a Registry over a model repository.
func NewRegistry(repo domain.ModelRepository, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Registry {
	return &Registry{
		repo:    repo,
		clock:   clock,
		newID:   uuid.NewString,
		logger:  logger,
		metrics: metrics,
	}
}

// Publish saves the draft as a new version and then activates it. A save
// failure is returned. An activation failure is only logged: the model stays
// stored as a draft and the caller still gets it back.
func (r *Registry) Publish(ctx context.Context, d Draft) (domain.Model, error) {
	if d.Parameters == nil {
		return domain.Model{}, fmt.Errorf("publish model: nil parameters")
	}
	now := r.clock.Now().UTC()
	m := domain.Model{
		ID:                r.newID(),
		Scope:             d.Scope.Key(),
		ModelType:         d.Parameters.ModelType(),
		PestType:          d.PestType,
		Version:           now.UnixMilli(),
		Parameters:        d.Parameters,
		TrainingDataCount: d.TrainingDataCount,
		TrainingDateRange: d.TrainingDateRange,
		AccuracyMetrics:   d.AccuracyMetrics,
		TrainedAt:         now,
		Status:            domain.ModelDraft,
	}
	if d.Scope.IsGeographic() {
		m.ContributingCompanies = slices.Clone(d.ContributingCompanies)
		slices.Sort(m.ContributingCompanies)
	}

	// Versions stay strictly increasing even if the clock does not advance.
	existing, err := r.repo.ListModels(ctx, m.Key())
	if err != nil {
		return domain.Model{}, fmt.Errorf("list model versions: %w", err)
	}
	for _, prev := range existing {
		if prev.Version >= m.Version {
			m.Version = prev.Version + 1
		}
	}

	if err := r.repo.SaveModel(ctx, m); err != nil {
		return domain.Model{}, fmt.Errorf("save model: %w", err)
	}

	if err := r.repo.ActivateModel(ctx, m.ID); err != nil {
		r.metrics.ActivationFailures.Inc()
		r.logger.Warn("model saved but activation failed",
			"model_id", m.ID,
			"scope", m.Scope,
			"model_type", m.ModelType,
			"version", m.Version,
			"error", err,
		)
		return m, nil
	}
	if err := m.Activate(); err != nil {
		return m, err
	}

	r.logger.Info("model activated",
		"model_id", m.ID,
		"scope", m.Scope,
		"model_type", m.ModelType,
		"pest_type", m.PestType,
		"version", m.Version,
		"training_data_count", m.TrainingDataCount,
	)
	return m, nil
}

// Active returns the active model for key.
func (r *Registry) Active(ctx context.Context, key domain.ModelKey) (domain.Model, error) {
	return r.repo.ActiveModel(ctx, key)
}

// Versions returns every stored version for key, newest first.
func (r *Registry) Versions(ctx context.Context, key domain.ModelKey) ([]domain.Model, error) {
	return r.repo.ListModels(ctx, key)
}

// Rollback re-activates a stored version, superseding the current one.
func (r *Registry) Rollback(ctx context.Context, id string) error {
	if err := r.repo.ActivateModel(ctx, id); err != nil {
		return fmt.Errorf("rollback to model %s: %w", id, err)
	}
	return nil
}
