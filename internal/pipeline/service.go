// Package pipeline exposes the batch operations (aggregate, train, predict)
// and runs them from a job queue.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/pest-pressure-pipeline/internal/aggregate"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/domain"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/features"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/modelstore"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/observability"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/predict"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/training"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/weather"
)

const (
	// DefaultMaxWeatherLocations caps the coordinates averaged into a
	// geographic scope's composite weather.
	DefaultMaxWeatherLocations = 5
	// DefaultHistoryDays is the trailing history checked for anomalies.
	DefaultHistoryDays = 30
	// DefaultForecastDays is the forecast window when none is given.
	DefaultForecastDays = 7
)

// TrainRequest selects the data a training run fits on.
type TrainRequest struct {
	Scope      domain.Scope
	PestType   string
	Start, End time.Time
	// ModelTypes defaults to both model families.
	ModelTypes []domain.ModelType
}

// TrainResult reports the models published by a training run.
type TrainResult struct {
	Scope                 string         `json:"scope"`
	PestType              string         `json:"pest_type,omitempty"`
	Observations          int            `json:"observations"`
	Vectors               int            `json:"vectors"`
	ContributingCompanies []string       `json:"contributing_companies,omitempty"`
	Models                []domain.Model `json:"models"`
}

// PredictRequest selects the forecast window. Zero dates default to a
// seven-day window starting today.
type PredictRequest struct {
	Scope      domain.Scope
	PestType   string
	Start, End time.Time
}

// Service wires the batch stages together.
type Service struct {
	observations domain.ObservationStore
	aggregator   *aggregate.Aggregator
	weather      *weather.Fetcher
	registry     *modelstore.Registry
	predictor    *predict.Predictor
	locks        *scopeLocks
	clock        clockwork.Clock
	logger       *slog.Logger
	metrics      *observability.Metrics

	maxLocations int
	historyDays  int
}

// Option customizes a Service.
type Option func(*Service)

// WithMaxWeatherLocations sets how many coordinates a geographic scope
// averages for its weather.
func WithMaxWeatherLocations(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxLocations = n
		}
	}
}

// WithHistoryDays sets the trailing history used for anomaly checks.
func WithHistoryDays(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.historyDays = n
		}
	}
}

// NewService creates a Service.
func NewService(
	observations domain.ObservationStore,
	aggregator *aggregate.Aggregator,
	fetcher *weather.Fetcher,
	registry *modelstore.Registry,
	predictor *predict.Predictor,
	clock clockwork.Clock,
	logger *slog.Logger,
	metrics *observability.Metrics,
	opts ...Option,
) *Service {
	s := &Service{
		observations: observations,
		aggregator:   aggregator,
		weather:      fetcher,
		registry:     registry,
		predictor:    predictor,
		locks:        newScopeLocks(),
		clock:        clock,
		logger:       logger,
		metrics:      metrics,
		maxLocations: DefaultMaxWeatherLocations,
		historyDays:  DefaultHistoryDays,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Aggregate writes deduplicated observations for companyID's records created
// within [start, end].
func (s *Service) Aggregate(ctx context.Context, companyID string, start, end time.Time) (aggregate.Result, error) {
	if companyID == "" {
		return aggregate.Result{}, errors.New("aggregate: company id is required")
	}
	if end.Before(start) {
		return aggregate.Result{}, fmt.Errorf("aggregate: end %s is before start %s", end, start)
	}
	return s.aggregator.Run(ctx, companyID, start, end)
}

// TrainCompany trains models on one company's observations.
func (s *Service) TrainCompany(ctx context.Context, companyID, pestType string, start, end time.Time, types ...domain.ModelType) (TrainResult, error) {
	return s.Train(ctx, TrainRequest{
		Scope:      domain.CompanyScope(companyID),
		PestType:   pestType,
		Start:      start,
		End:        end,
		ModelTypes: types,
	})
}

// TrainScope trains models on observations pooled across companies within
// a geographic scope.
func (s *Service) TrainScope(ctx context.Context, req TrainRequest) (TrainResult, error) {
	if !req.Scope.IsGeographic() {
		return TrainResult{}, fmt.Errorf("train scope: %s is not a geographic scope", req.Scope.Key())
	}
	return s.Train(ctx, req)
}

// Train builds daily feature vectors for the scope and window, fits each
// requested model type, and publishes the results. Runs for the same scope
// are serialized. A model type that fails does not stop the others; the
// joined errors are returned alongside whatever was published.
func (s *Service) Train(ctx context.Context, req TrainRequest) (TrainResult, error) {
	if err := req.Scope.Validate(); err != nil {
		return TrainResult{}, fmt.Errorf("train: %w", err)
	}
	start, end := domain.Day(req.Start), domain.Day(req.End)
	if end.Before(start) {
		return TrainResult{}, fmt.Errorf("train: end %s is before start %s", domain.DateKey(end), domain.DateKey(start))
	}
	types := req.ModelTypes
	if len(types) == 0 {
		types = []domain.ModelType{domain.ModelSeasonalForecast, domain.ModelAnomalyDetection}
	}

	scopeKey := req.Scope.Key()
	unlock := s.locks.lock(scopeKey)
	defer unlock()

	log := s.logger.With("scope", scopeKey, "pest_type", req.PestType)

	obs, err := s.observations.Observations(ctx, req.Scope, req.PestType, start, endOfDay(end))
	if err != nil {
		return TrainResult{}, fmt.Errorf("load observations for %s: %w", scopeKey, err)
	}

	vectors := features.Build(features.Input{
		Scope:        req.Scope,
		PestType:     req.PestType,
		Start:        start,
		End:          end,
		Observations: obs,
		Weather:      s.weatherFor(ctx, req.Scope, obs, start.AddDate(0, 0, -features.WeatherLookbackDays), end),
	})

	res := TrainResult{
		Scope:        scopeKey,
		PestType:     req.PestType,
		Observations: len(obs),
		Vectors:      len(vectors),
	}
	if req.Scope.IsGeographic() {
		res.ContributingCompanies = companies(obs)
	}
	log.Info("training started",
		"observations", len(obs),
		"vectors", len(vectors),
		"contributing_companies", len(res.ContributingCompanies),
	)

	var errs []error
	for _, t := range types {
		m, err := s.trainOne(ctx, t, req, vectors, res.ContributingCompanies)
		if err != nil {
			log.Warn("training failed", "model_type", t, "error", err)
			errs = append(errs, err)
			continue
		}
		res.Models = append(res.Models, m)
	}
	return res, errors.Join(errs...)
}

func (s *Service) trainOne(ctx context.Context, t domain.ModelType, req TrainRequest, vectors []domain.FeatureVector, contributors []string) (domain.Model, error) {
	draft := modelstore.Draft{
		Scope:                 req.Scope,
		PestType:              req.PestType,
		ContributingCompanies: contributors,
	}

	switch t {
	case domain.ModelSeasonalForecast:
		r, err := training.TrainSeasonal(vectors)
		if err != nil {
			s.recordTraining(t, err)
			return domain.Model{}, err
		}
		draft.Parameters = r.Parameters
		draft.TrainingDataCount = r.Count
		draft.TrainingDateRange = r.DateRange
		draft.AccuracyMetrics = r.Accuracy
	case domain.ModelAnomalyDetection:
		r, err := training.TrainAnomaly(vectors)
		if err != nil {
			s.recordTraining(t, err)
			return domain.Model{}, err
		}
		draft.Parameters = r.Parameters
		draft.TrainingDataCount = r.Count
		draft.TrainingDateRange = r.DateRange
	default:
		return domain.Model{}, fmt.Errorf("unknown model type %q", t)
	}

	m, err := s.registry.Publish(ctx, draft)
	s.recordTraining(t, err)
	if err != nil {
		return domain.Model{}, fmt.Errorf("publish %s model: %w", t, err)
	}
	return m, nil
}

func (s *Service) recordTraining(t domain.ModelType, err error) {
	outcome := "success"
	switch {
	case errors.Is(err, domain.ErrInsufficientData):
		outcome = "insufficient_data"
	case err != nil:
		outcome = "error"
	}
	s.metrics.ModelsTrained.WithLabelValues(string(t), outcome).Inc()
}

// Predict forecasts the window with the scope's active models. Recent
// observations feed the anomaly check.
func (s *Service) Predict(ctx context.Context, req PredictRequest) (domain.Prediction, error) {
	if err := req.Scope.Validate(); err != nil {
		return domain.Prediction{}, fmt.Errorf("predict: %w", err)
	}
	today := domain.Day(s.clock.Now())
	start, end := domain.Day(req.Start), domain.Day(req.End)
	if req.Start.IsZero() {
		start = today
	}
	if req.End.IsZero() {
		end = start.AddDate(0, 0, DefaultForecastDays-1)
	}
	if end.Before(start) {
		return domain.Prediction{}, fmt.Errorf("predict: end %s is before start %s", domain.DateKey(end), domain.DateKey(start))
	}

	historyStart := today.AddDate(0, 0, -s.historyDays)
	obs, err := s.observations.Observations(ctx, req.Scope, req.PestType, historyStart, endOfDay(today))
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("load observations for %s: %w", req.Scope.Key(), err)
	}
	history := features.Build(features.Input{
		Scope:        req.Scope,
		PestType:     req.PestType,
		Start:        historyStart,
		End:          today,
		Observations: obs,
	})
	window := features.Build(features.Input{
		Scope:    req.Scope,
		PestType: req.PestType,
		Start:    start,
		End:      end,
		Weather:  s.weatherFor(ctx, req.Scope, obs, start.AddDate(0, 0, -features.WeatherLookbackDays), end),
	})

	return s.predictor.Predict(ctx, predict.Request{
		Scope:    req.Scope,
		PestType: req.PestType,
		Window:   window,
		History:  history,
	})
}

// Models lists every stored version for a key, newest first.
func (s *Service) Models(ctx context.Context, key domain.ModelKey) ([]domain.Model, error) {
	return s.registry.Versions(ctx, key)
}

// Activate makes a stored model version the active one for its key.
func (s *Service) Activate(ctx context.Context, modelID string) error {
	return s.registry.Rollback(ctx, modelID)
}

// Handle runs one queued job and returns its output.
func (s *Service) Handle(ctx context.Context, job domain.Job) (any, error) {
	switch job.Kind {
	case domain.JobAggregate:
		return s.Aggregate(ctx, job.CompanyID, job.Start, job.End)
	case domain.JobTrain, domain.JobTrainScope:
		scope, err := domain.ParseScope(job.Scope)
		if err != nil {
			return nil, err
		}
		req := TrainRequest{Scope: scope, PestType: job.PestType, Start: job.Start, End: job.End, ModelTypes: job.ModelTypes}
		if job.Kind == domain.JobTrainScope {
			return s.TrainScope(ctx, req)
		}
		return s.Train(ctx, req)
	case domain.JobPredict:
		scope, err := domain.ParseScope(job.Scope)
		if err != nil {
			return nil, err
		}
		return s.Predict(ctx, PredictRequest{Scope: scope, PestType: job.PestType, Start: job.Start, End: job.End})
	default:
		return nil, fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

// weatherFor returns the weather series for a scope. A company uses its
// modal location; a geographic scope averages its most frequent coordinates.
func (s *Service) weatherFor(ctx context.Context, scope domain.Scope, obs []domain.Observation, start, end time.Time) []domain.WeatherDay {
	if s.weather == nil {
		return nil
	}
	if !scope.IsGeographic() {
		loc := features.ModalLocation(obs)
		if !loc.HasCoordinates() {
			return nil
		}
		return s.weather.Fetch(ctx, loc.Lat, loc.Lng, start, end)
	}

	coords := features.TopCoordinates(obs, s.maxLocations)
	if len(coords) == 0 {
		return nil
	}
	byCoord := s.weather.FetchMany(ctx, coords, start, end)
	series := make([][]domain.WeatherDay, 0, len(coords))
	for _, c := range coords {
		if rows := byCoord[c]; len(rows) > 0 {
			series = append(series, rows)
		}
	}
	return weather.Composite(series...)
}

func companies(obs []domain.Observation) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, o := range obs {
		if _, ok := seen[o.CompanyID]; ok {
			continue
		}
		seen[o.CompanyID] = struct{}{}
		out = append(out, o.CompanyID)
	}
	slices.Sort(out)
	return out
}

func endOfDay(d time.Time) time.Time {
	return domain.Day(d).AddDate(0, 0, 1).Add(-time.Nanosecond)
}
