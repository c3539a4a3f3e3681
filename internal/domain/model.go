package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ModelType discriminates the two trained model families.
type ModelType string

const (
	ModelSeasonalForecast ModelType = "seasonal_forecast"
	ModelAnomalyDetection ModelType = "anomaly_detection"
)

// ParseModelType validates a model type name.
func ParseModelType(s string) (ModelType, error) {
	switch ModelType(s) {
	case ModelSeasonalForecast, ModelAnomalyDetection:
		return ModelType(s), nil
	default:
		return "", fmt.Errorf("unknown model type %q", s)
	}
}

// ModelStatus is the lifecycle state of a stored model.
type ModelStatus string

const (
	ModelDraft      ModelStatus = "draft"
	ModelActive     ModelStatus = "active"
	ModelSuperseded ModelStatus = "superseded"
)

// ModelKey groups model versions that compete for the single active slot.
// An empty PestType means "all pests".
type ModelKey struct {
	Scope     string
	ModelType ModelType
	PestType  string
}

func (k ModelKey) String() string {
	pest := k.PestType
	if pest == "" {
		pest = "*"
	}
	return k.Scope + "/" + string(k.ModelType) + "/" + pest
}

// DateRange is an inclusive span of calendar dates.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// AccuracyMetrics summarize holdout evaluation of a trained model.
type AccuracyMetrics struct {
	MAE         float64 `json:"mae"`
	RMSE        float64 `json:"rmse"`
	R2          float64 `json:"r2"`
	HoldoutSize int     `json:"holdout_size"`
}

// Parameters is the tagged union of per-type model parameters.
type Parameters interface {
	ModelType() ModelType
}

// WeatherWeights are correlation-derived weights of the 7-day weather
// features. Their absolute values sum to 1.
type WeatherWeights struct {
	Temperature   float64 `json:"temperature"`
	Precipitation float64 `json:"precipitation"`
	Humidity      float64 `json:"humidity"`
}

// DefaultWeatherWeights are used when too few vectors carry weather data.
var DefaultWeatherWeights = WeatherWeights{Temperature: 0.3, Precipitation: 0.5, Humidity: 0.2}

// FeatureStat is the training mean and population standard deviation of a
// feature, used to z-normalize it at prediction time.
type FeatureStat struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
}

// Normalize z-scores v, returning 0 when the feature had no spread.
func (s FeatureStat) Normalize(v float64) float64 {
	if s.StdDev == 0 {
		return 0
	}
	return (v - s.Mean) / s.StdDev
}

// WeatherNormalization holds the training statistics of each weather feature.
type WeatherNormalization struct {
	Temperature   FeatureStat `json:"temperature"`
	Precipitation FeatureStat `json:"precipitation"`
	Humidity      FeatureStat `json:"humidity"`
}

// SeasonalParameters drive the seasonal forecast:
//
//	baseline × (1 + seasonal_factor[month]) + trend × days_since_start + Σ(weather_z × weight)
type SeasonalParameters struct {
	Baseline            float64               `json:"baseline"`
	SeasonalFactors     map[string]float64    `json:"seasonal_factors"`
	TrendCoefficient    float64               `json:"trend_coefficient"`
	WeatherCoefficients WeatherWeights        `json:"weather_coefficients"`
	WeatherFitted       bool                  `json:"weather_fitted"`
	WeatherStats        *WeatherNormalization `json:"weather_normalization,omitempty"`
	SeriesStart         time.Time             `json:"series_start"`
}

func (SeasonalParameters) ModelType() ModelType { return ModelSeasonalForecast }

// SeasonalFactor returns the factor for a calendar month, 0 when unknown.
func (p SeasonalParameters) SeasonalFactor(month time.Month) float64 {
	return p.SeasonalFactors[strconv.Itoa(int(month))]
}

// AnomalyParameters configure rolling z-score anomaly detection.
type AnomalyParameters struct {
	RollingWindowDays int     `json:"rolling_window_days"`
	ZScoreThreshold   float64 `json:"z_score_threshold"`
	MinDataPoints     int     `json:"min_data_points"`
	// TrainingMean and TrainingStdDev describe the training target for
	// audit only. Detection uses the trailing window, never these.
	TrainingMean      float64 `json:"training_mean"`
	TrainingStdDev    float64 `json:"training_std_dev"`
}

func (AnomalyParameters) ModelType() ModelType { return ModelAnomalyDetection }

// DefaultAnomalyParameters are the fixed detection settings.
func DefaultAnomalyParameters() AnomalyParameters {
	return AnomalyParameters{
		RollingWindowDays: 14,
		ZScoreThreshold:   2.5,
		MinDataPoints:     10,
	}
}

// EncodeParameters serializes parameters for storage.
func EncodeParameters(p Parameters) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("encode parameters: nil parameters")
	}
	return json.Marshal(p)
}

// DecodeParameters restores parameters using the model type as discriminator.
func DecodeParameters(t ModelType, data []byte) (Parameters, error) {
	switch t {
	case ModelSeasonalForecast:
		var p SeasonalParameters
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode seasonal parameters: %w", err)
		}
		return p, nil
	case ModelAnomalyDetection:
		var p AnomalyParameters
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode anomaly parameters: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("decode parameters: unknown model type %q", t)
	}
}

// Model is a versioned, trained parameter set for one scope.
type Model struct {
	ID                string           `json:"id"`
	Scope             string           `json:"scope"`
	ModelType         ModelType        `json:"model_type"`
	PestType          string           `json:"pest_type,omitempty"`
	Version           int64            `json:"version"`
	Parameters        Parameters       `json:"parameters"`
	TrainingDataCount int              `json:"training_data_count"`
	TrainingDateRange DateRange        `json:"training_date_range"`
	AccuracyMetrics   *AccuracyMetrics `json:"accuracy_metrics,omitempty"`
	TrainedAt         time.Time        `json:"trained_at"`
	Status            ModelStatus      `json:"status"`

	// Set only for geographic scopes.
	ContributingCompanies []string `json:"contributing_companies,omitempty"`
}

// Key returns the activation key of the model.
func (m Model) Key() ModelKey {
	return ModelKey{Scope: m.Scope, ModelType: m.ModelType, PestType: m.PestType}
}

// IsActive reports whether the model currently serves predictions.
func (m Model) IsActive() bool { return m.Status == ModelActive }

// ContributingCompanyCount is the number of distinct companies whose data
// trained a geographic model.
func (m Model) ContributingCompanyCount() int { return len(m.ContributingCompanies) }

// Activate moves a draft or superseded model to active.
func (m *Model) Activate() error {
	switch m.Status {
	case ModelDraft, ModelSuperseded:
		m.Status = ModelActive
		return nil
	case ModelActive:
		return nil
	default:
		return fmt.Errorf("activate model %s: invalid status %q", m.ID, m.Status)
	}
}

// Supersede retires an active model.
func (m *Model) Supersede() error {
	if m.Status != ModelActive {
		return fmt.Errorf("supersede model %s: status is %q, want %q", m.ID, m.Status, ModelActive)
	}
	m.Status = ModelSuperseded
	return nil
}
