package training

import "github.com/couchcryptid/pest-pressure-pipeline/internal/domain"

// MinAnomalyVectors is the fewest vectors an anomaly model trains on.
const MinAnomalyVectors = 14

// AnomalyResult is a trained anomaly parameter set.
type AnomalyResult struct {
	Parameters domain.AnomalyParameters
	Count      int
	DateRange  domain.DateRange
}

// TrainAnomaly records the fixed detection settings together with the
// training mean and population standard deviation of the target. The
// statistics are kept for audit; detection does not read them.
func TrainAnomaly(vectors []domain.FeatureVector) (AnomalyResult, error) {
	if len(vectors) < MinAnomalyVectors {
		return AnomalyResult{}, &domain.InsufficientDataError{
			ModelType: domain.ModelAnomalyDetection,
			Have:      len(vectors),
			Need:      MinAnomalyVectors,
		}
	}
	sorted := sortByDate(vectors)
	targets := make([]float64, len(sorted))
	for i, v := range sorted {
		targets[i] = v.Target
	}

	p := domain.DefaultAnomalyParameters()
	p.TrainingMean = Mean(targets)
	p.TrainingStdDev = StdDev(targets)
	return AnomalyResult{
		Parameters: p,
		Count:      len(sorted),
		DateRange:  domain.DateRange{Start: sorted[0].Date, End: sorted[len(sorted)-1].Date},
	}, nil
}
