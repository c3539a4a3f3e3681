// Package predict applies active models to current features.
package predict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/pest-pressure-pipeline/internal/domain"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/training"
)

const (
	// ValidityPeriod is how long a prediction stays valid after it is made.
	ValidityPeriod = 24 * time.Hour
	// trendThreshold is the daily slope below which a trend counts as stable.
	trendThreshold = 0.01
	// defaultConfidence is used when a model carries no accuracy metrics.
	defaultConfidence = 0.5
)

// Request describes one forecast.
type Request struct {
	Scope    domain.Scope
	PestType string
	// Window holds one vector per forecast day; only dates and weather are read.
	Window []domain.FeatureVector
	// History holds recent daily vectors in date order. The last one is the
	// current day checked for anomalies.
	History []domain.FeatureVector
}

// Predictor produces forecasts from the active seasonal and anomaly models.
type Predictor struct {
	models domain.ModelRepository
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewPredictor creates a Predictor.
func NewPredictor(models domain.ModelRepository, clock clockwork.Clock, logger *slog.Logger) *Predictor {
	return &Predictor{models: models, clock: clock, logger: logger}
}

// Predict forecasts mean pressure over the window using the active seasonal
// model and, when an anomaly model is active, classifies the current day.
// It returns domain.ErrModelNotFound when no seasonal model is active.
func (p *Predictor) Predict(ctx context.Context, req Request) (domain.Prediction, error) {
	if len(req.Window) == 0 {
		return domain.Prediction{}, errors.New("predict: empty forecast window")
	}
	scopeKey := req.Scope.Key()

	seasonalModel, err := p.models.ActiveModel(ctx, domain.ModelKey{Scope: scopeKey, ModelType: domain.ModelSeasonalForecast, PestType: req.PestType})
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("load seasonal model: %w", err)
	}
	params, ok := seasonalModel.Parameters.(domain.SeasonalParameters)
	if !ok {
		return domain.Prediction{}, fmt.Errorf("model %s: unexpected parameters %T", seasonalModel.ID, seasonalModel.Parameters)
	}

	var sum float64
	for _, v := range req.Window {
		sum += training.PredictSeasonal(params, v.Date, v.Weather)
	}
	first, last := req.Window[0], req.Window[len(req.Window)-1]

	pred := domain.Prediction{
		Scope:               scopeKey,
		PestType:            req.PestType,
		Window:              domain.DateRange{Start: first.Date, End: last.Date},
		PredictedPressure:   sum / float64(len(req.Window)),
		Confidence:          confidence(seasonalModel.AccuracyMetrics),
		Trend:               trend(params.TrendCoefficient),
		AnomalySeverity:     domain.AnomalyNone,
		ContributingFactors: factors(params, first),
		ModelVersion:        seasonalModel.Version,
		ValidUntil:          p.clock.Now().UTC().Add(ValidityPeriod),
	}

	p.applyAnomaly(ctx, req, scopeKey, &pred)
	return pred, nil
}

func (p *Predictor) applyAnomaly(ctx context.Context, req Request, scopeKey string, pred *domain.Prediction) {
	if len(req.History) == 0 {
		return
	}
	m, err := p.models.ActiveModel(ctx, domain.ModelKey{Scope: scopeKey, ModelType: domain.ModelAnomalyDetection, PestType: req.PestType})
	if err != nil {
		if !errors.Is(err, domain.ErrModelNotFound) {
			p.logger.Warn("load anomaly model failed", "scope", scopeKey, "error", err)
		}
		return
	}
	params, ok := m.Parameters.(domain.AnomalyParameters)
	if !ok {
		p.logger.Warn("anomaly model has unexpected parameters", "model_id", m.ID)
		return
	}

	values := make([]float64, len(req.History))
	for i, v := range req.History {
		values[i] = v.Target
	}
	current := values[len(values)-1]
	res := DetectAnomaly(params, values[:len(values)-1], current)

	pred.AnomalyDetected = res.IsAnomaly
	pred.AnomalySeverity = res.Severity
	pred.ZScore = res.ZScore
	if res.IsAnomaly {
		pred.ContributingFactors = append(pred.ContributingFactors, domain.Factor{
			Name:   "anomaly",
			Impact: current - res.Mean,
			Detail: fmt.Sprintf("current pressure %.2f vs trailing mean %.2f (z=%.2f)", current, res.Mean, res.ZScore),
		})
	}
}

func trend(coefficient float64) domain.Trend {
	switch {
	case coefficient > trendThreshold:
		return domain.TrendIncreasing
	case coefficient < -trendThreshold:
		return domain.TrendDecreasing
	default:
		return domain.TrendStable
	}
}

// confidence maps holdout MAE on the 0-10 pressure scale onto [0, 1].
func confidence(m *domain.AccuracyMetrics) float64 {
	if m == nil || m.HoldoutSize == 0 {
		return defaultConfidence
	}
	return math.Min(1, math.Max(0, 1-m.MAE/10))
}

// factors explains the first forecast day: seasonal lift, accumulated trend,
// and weather adjustment.
func factors(p domain.SeasonalParameters, v domain.FeatureVector) []domain.Factor {
	date := domain.Day(v.Date)
	seasonal := p.Baseline * p.SeasonalFactor(date.Month())
	days := 0.0
	if !p.SeriesStart.IsZero() {
		days = date.Sub(domain.Day(p.SeriesStart)).Hours() / 24
	}

	out := []domain.Factor{
		{Name: "seasonal", Impact: seasonal, Detail: fmt.Sprintf("%s factor %+.2f", date.Month(), p.SeasonalFactor(date.Month()))},
		{Name: "trend", Impact: p.TrendCoefficient * days, Detail: fmt.Sprintf("%+.4f per day", p.TrendCoefficient)},
	}
	if p.WeatherStats != nil && v.Weather.Complete7d() {
		noWeather := domain.WeatherFeatures{}
		impact := training.PredictSeasonal(p, date, v.Weather) - training.PredictSeasonal(p, date, noWeather)
		out = append(out, domain.Factor{Name: "weather", Impact: impact, Detail: "7-day temperature, precipitation and humidity"})
	}
	return out
}
