// Package training fits seasonal forecast and anomaly detection parameters
// from daily feature vectors.
package training

import (
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/couchcryptid/pest-pressure-pipeline/internal/domain"
)

const (
	// MinSeasonalVectors is the fewest vectors a seasonal model trains on.
	MinSeasonalVectors = 30
	// MinWeatherVectors is the fewest weather-complete vectors needed to fit
	// weather weights instead of using the defaults.
	MinWeatherVectors = 10
	// HoldoutFraction is the trailing share of vectors used for evaluation.
	HoldoutFraction = 0.2
)

// SeasonalResult is a fitted seasonal model with its holdout accuracy.
type SeasonalResult struct {
	Parameters domain.SeasonalParameters
	Accuracy   *domain.AccuracyMetrics
	Count      int
	DateRange  domain.DateRange
}

// TrainSeasonal fits a seasonal forecast. Vectors are ordered by date; the
// last 20% is held out to measure accuracy of a fit on the first 80%, and the
// returned parameters are refit on everything.
func TrainSeasonal(vectors []domain.FeatureVector) (SeasonalResult, error) {
	if len(vectors) < MinSeasonalVectors {
		return SeasonalResult{}, &domain.InsufficientDataError{
			ModelType: domain.ModelSeasonalForecast,
			Have:      len(vectors),
			Need:      MinSeasonalVectors,
		}
	}
	sorted := sortByDate(vectors)

	holdout := int(math.Round(float64(len(sorted)) * HoldoutFraction))
	fitted := fitSeasonal(sorted[:len(sorted)-holdout])
	test := sorted[len(sorted)-holdout:]
	predicted := make([]float64, len(test))
	actual := make([]float64, len(test))
	for i, v := range test {
		predicted[i] = PredictSeasonal(fitted, v.Date, v.Weather)
		actual[i] = v.Target
	}
	mae, rmse, r2 := Accuracy(predicted, actual)

	return SeasonalResult{
		Parameters: fitSeasonal(sorted),
		Accuracy:   &domain.AccuracyMetrics{MAE: mae, RMSE: rmse, R2: r2, HoldoutSize: holdout},
		Count:      len(sorted),
		DateRange:  domain.DateRange{Start: sorted[0].Date, End: sorted[len(sorted)-1].Date},
	}, nil
}

// PredictSeasonal evaluates
//
//	baseline × (1 + factor[month]) + trend × days_since_start + Σ(z(weather) × weight)
//
// clamped to [0, 10]. The weather term is skipped when the model has no
// weather statistics or the 7-day weather features are incomplete.
func PredictSeasonal(p domain.SeasonalParameters, date time.Time, w domain.WeatherFeatures) float64 {
	date = domain.Day(date)
	days := 0.0
	if !p.SeriesStart.IsZero() {
		days = date.Sub(domain.Day(p.SeriesStart)).Hours() / 24
	}
	v := p.Baseline*(1+p.SeasonalFactor(date.Month())) + p.TrendCoefficient*days
	if p.WeatherStats != nil && w.Complete7d() {
		s, c := p.WeatherStats, p.WeatherCoefficients
		v += s.Temperature.Normalize(*w.TempAvg7d)*c.Temperature +
			s.Precipitation.Normalize(*w.PrecipTotal7d)*c.Precipitation +
			s.Humidity.Normalize(*w.HumidityAvg7d)*c.Humidity
	}
	return math.Min(10, math.Max(0, v))
}

func fitSeasonal(sorted []domain.FeatureVector) domain.SeasonalParameters {
	targets := make([]float64, len(sorted))
	byMonth := make(map[time.Month][]float64)
	for i, v := range sorted {
		targets[i] = v.Target
		byMonth[v.Date.Month()] = append(byMonth[v.Date.Month()], v.Target)
	}

	baseline := Mean(targets)
	factors := make(map[string]float64, 12)
	for m := time.January; m <= time.December; m++ {
		f := 0.0
		if values := byMonth[m]; len(values) > 0 && baseline != 0 {
			f = Mean(values)/baseline - 1
		}
		factors[strconv.Itoa(int(m))] = f
	}

	p := domain.SeasonalParameters{
		Baseline:            baseline,
		SeasonalFactors:     factors,
		TrendCoefficient:    Slope(targets),
		WeatherCoefficients: domain.DefaultWeatherWeights,
	}
	if len(sorted) > 0 {
		p.SeriesStart = sorted[0].Date
	}
	fitWeather(&p, sorted)
	return p
}

// fitWeather derives weights from the Pearson correlation of each 7-day
// weather feature with the target, normalized so |weights| sum to 1.
func fitWeather(p *domain.SeasonalParameters, sorted []domain.FeatureVector) {
	var temp, precip, hum, target []float64
	for _, v := range sorted {
		if !v.Weather.Complete7d() {
			continue
		}
		temp = append(temp, *v.Weather.TempAvg7d)
		precip = append(precip, *v.Weather.PrecipTotal7d)
		hum = append(hum, *v.Weather.HumidityAvg7d)
		target = append(target, v.Target)
	}
	if len(target) >= 2 {
		p.WeatherStats = &domain.WeatherNormalization{
			Temperature:   domain.FeatureStat{Mean: Mean(temp), StdDev: StdDev(temp)},
			Precipitation: domain.FeatureStat{Mean: Mean(precip), StdDev: StdDev(precip)},
			Humidity:      domain.FeatureStat{Mean: Mean(hum), StdDev: StdDev(hum)},
		}
	}
	if len(target) < MinWeatherVectors {
		return
	}

	rt, rp, rh := Pearson(temp, target), Pearson(precip, target), Pearson(hum, target)
	total := math.Abs(rt) + math.Abs(rp) + math.Abs(rh)
	if total == 0 {
		return
	}
	p.WeatherCoefficients = domain.WeatherWeights{
		Temperature:   rt / total,
		Precipitation: rp / total,
		Humidity:      rh / total,
	}
	p.WeatherFitted = true
}

func sortByDate(vectors []domain.FeatureVector) []domain.FeatureVector {
	out := make([]domain.FeatureVector, len(vectors))
	copy(out, vectors)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}
