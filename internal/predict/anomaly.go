package predict

import (
	"math"

	"github.com/couchcryptid/pest-pressure-pipeline/internal/domain"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/training"
)

// DetectAnomaly compares current with the trailing RollingWindowDays values
// of history. A window with fewer than MinDataPoints values, or with no
// spread, never flags an anomaly and reports z = 0.
func DetectAnomaly(p domain.AnomalyParameters, history []float64, current float64) domain.AnomalyResult {
	window := history
	if p.RollingWindowDays > 0 && len(window) > p.RollingWindowDays {
		window = window[len(window)-p.RollingWindowDays:]
	}
	res := domain.AnomalyResult{
		Mean:     training.Mean(window),
		StdDev:   training.StdDev(window),
		Severity: domain.AnomalyNone,
	}
	if len(window) < p.MinDataPoints || len(window) == 0 || res.StdDev == 0 {
		return res
	}

	res.ZScore = (current - res.Mean) / res.StdDev
	res.IsAnomaly = math.Abs(res.ZScore) > p.ZScoreThreshold
	res.Severity = Severity(res.ZScore, res.IsAnomaly)
	return res
}

// Severity buckets |z|: above 4 critical, above 3.5 high, above 3 medium,
// otherwise low for an anomaly and none for a normal value.
func Severity(z float64, anomalous bool) domain.AnomalySeverity {
	abs := math.Abs(z)
	switch {
	case abs > 4:
		return domain.AnomalyCritical
	case abs > 3.5:
		return domain.AnomalyHigh
	case abs > 3:
		return domain.AnomalyMedium
	case anomalous:
		return domain.AnomalyLow
	default:
		return domain.AnomalyNone
	}
}
