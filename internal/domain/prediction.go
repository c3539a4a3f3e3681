package domain

import "time"

// Trend is the direction of forecast pressure.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// AnomalySeverity buckets the magnitude of a z-score.
type AnomalySeverity string

const (
	AnomalyNone     AnomalySeverity = "none"
	AnomalyLow      AnomalySeverity = "low"
	AnomalyMedium   AnomalySeverity = "medium"
	AnomalyHigh     AnomalySeverity = "high"
	AnomalyCritical AnomalySeverity = "critical"
)

// Rank orders severities so callers can compare tiers.
func (s AnomalySeverity) Rank() int {
	switch s {
	case AnomalyLow:
		return 1
	case AnomalyMedium:
		return 2
	case AnomalyHigh:
		return 3
	case AnomalyCritical:
		return 4
	default:
		return 0
	}
}

// AnomalyResult is the outcome of comparing a value against its history.
type AnomalyResult struct {
	IsAnomaly bool            `json:"is_anomaly"`
	ZScore    float64         `json:"z_score"`
	Mean      float64         `json:"mean"`
	StdDev    float64         `json:"std_dev"`
	Severity  AnomalySeverity `json:"severity"`
}

// Factor is one named contribution to a forecast.
type Factor struct {
	Name   string  `json:"name"`
	Impact float64 `json:"impact"`
	Detail string  `json:"detail,omitempty"`
}

// Prediction is an ephemeral forecast for a scope; it carries no lifecycle
// beyond ValidUntil.
type Prediction struct {
	Scope               string          `json:"scope"`
	PestType            string          `json:"pest_type,omitempty"`
	Window              DateRange       `json:"window"`
	PredictedPressure   float64         `json:"predicted_pressure"`
	Confidence          float64         `json:"confidence"`
	Trend               Trend           `json:"trend"`
	AnomalyDetected     bool            `json:"anomaly_detected"`
	AnomalySeverity     AnomalySeverity `json:"anomaly_severity"`
	ZScore              float64         `json:"z_score"`
	ContributingFactors []Factor        `json:"contributing_factors"`
	ModelVersion        int64           `json:"model_version,omitempty"`
	ValidUntil          time.Time       `json:"valid_until"`
}
