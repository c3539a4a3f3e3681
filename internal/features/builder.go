// Package features turns observations and weather into one feature vector
// per calendar day.
package features

import (
	"math"
	"sort"
	"time"

	"github.com/couchcryptid/pest-pressure-pipeline/internal/domain"
)

const (
	maxPressure     = 10.0
	maxVolumeBoost  = 2.0
	boostPerMention = 0.1
)

// WeatherLookbackDays is how many days before Start the weather series must
// cover for every trailing 30-day window to be filled.
const WeatherLookbackDays = 29

// Input is everything the builder needs for one scope and window.
type Input struct {
	Scope        domain.Scope
	PestType     string
	Start, End   time.Time
	Observations []domain.Observation
	// Weather may extend before Start so trailing windows are filled.
	Weather []domain.WeatherDay
}

// Build returns one feature vector per calendar day in [Start, End], in date
// order. Days without observations have target 0.
func Build(in Input) []domain.FeatureVector {
	days := domain.DaysBetween(in.Start, in.End)
	if len(days) == 0 {
		return nil
	}

	byDay := make(map[string][]domain.Observation)
	for _, o := range in.Observations {
		if in.PestType != "" && o.PestType != in.PestType {
			continue
		}
		key := domain.DateKey(o.ObservedAt)
		byDay[key] = append(byDay[key], o)
	}

	weather := make(map[string]domain.WeatherDay, len(in.Weather))
	for _, w := range in.Weather {
		weather[domain.DateKey(w.Date)] = w
	}

	targets := make([]float64, len(days))
	for i, d := range days {
		targets[i] = DailyPressure(byDay[domain.DateKey(d)])
	}

	loc := ModalLocation(in.Observations)
	companyID := ""
	if in.Scope.Kind == domain.ScopeCompany {
		companyID = in.Scope.CompanyID
	}

	vectors := make([]domain.FeatureVector, len(days))
	for i, d := range days {
		vectors[i] = domain.FeatureVector{
			Scope:            in.Scope.Key(),
			CompanyID:        companyID,
			PestType:         in.PestType,
			Location:         loc,
			Date:             d,
			ObservationCount: len(byDay[domain.DateKey(d)]),
			Temporal:         Temporal(d),
			Weather:          weatherFeatures(d, weather),
			Historical:       historical(i, targets),
			Target:           targets[i],
		}
	}
	return vectors
}

// DailyPressure is the confidence-weighted mean urgency of a day's
// observations plus a volume boost of 0.1 per mention (at most 2), clamped
// to [0, 10]. Missing urgency counts as 5 and non-positive confidence as 1.
func DailyPressure(obs []domain.Observation) float64 {
	if len(obs) == 0 {
		return 0
	}
	var weighted, weights float64
	mentions := 0
	for _, o := range obs {
		urgency := float64(domain.DefaultUrgency)
		if o.UrgencyLevel != nil {
			urgency = float64(*o.UrgencyLevel)
		}
		w := o.ConfidenceScore
		if w <= 0 {
			w = 1
		}
		weighted += urgency * w
		weights += w
		mentions += o.MentionsCount
	}
	boost := math.Min(maxVolumeBoost, boostPerMention*float64(mentions))
	return math.Min(maxPressure, math.Max(0, weighted/weights+boost))
}

// Temporal returns the calendar features of a day. Week of year is
// ceil(day_of_year / 7), so Jan 1-7 is week 1.
func Temporal(d time.Time) domain.TemporalFeatures {
	wd := d.Weekday()
	return domain.TemporalFeatures{
		Month:      int(d.Month()),
		WeekOfYear: int(math.Ceil(float64(d.YearDay()) / 7)),
		DayOfWeek:  int(wd),
		IsWeekend:  wd == time.Saturday || wd == time.Sunday,
	}
}

func weatherFeatures(d time.Time, weather map[string]domain.WeatherDay) domain.WeatherFeatures {
	var f domain.WeatherFeatures
	f.TempAvg7d, f.PrecipTotal7d, f.HumidityAvg7d = trailingWeather(d, 7, weather)
	f.TempAvg30d, f.PrecipTotal30d, f.HumidityAvg30d = trailingWeather(d, 30, weather)
	return f
}

// trailingWeather aggregates the n days ending on d: mean temperature, total
// precipitation, mean humidity. All nil when no day in the window has data.
func trailingWeather(d time.Time, n int, weather map[string]domain.WeatherDay) (temp, precip, humidity *float64) {
	var tSum, pSum, hSum float64
	count := 0
	for k := 0; k < n; k++ {
		w, ok := weather[domain.DateKey(d.AddDate(0, 0, -k))]
		if !ok {
			continue
		}
		tSum += w.TempAvgF
		pSum += w.PrecipitationInches
		hSum += w.HumidityAvgPercent
		count++
	}
	if count == 0 {
		return nil, nil, nil
	}
	return ptr(tSum / float64(count)), ptr(pSum), ptr(hSum / float64(count))
}

// historical computes lagged and rolling pressure for the day at index i.
// Rolling means cover the days strictly before i and skip zero-pressure days.
func historical(i int, targets []float64) domain.HistoricalFeatures {
	lag := func(n int) *float64 {
		if i-n < 0 {
			return nil
		}
		return ptr(targets[i-n])
	}
	return domain.HistoricalFeatures{
		Pressure7dAgo:   lag(7),
		Pressure30dAgo:  lag(30),
		Pressure365dAgo: lag(365),
		RollingAvg7d:    rollingNonZero(i, 7, targets),
		RollingAvg30d:   rollingNonZero(i, 30, targets),
	}
}

func rollingNonZero(i, n int, targets []float64) *float64 {
	var sum float64
	count := 0
	for j := max(0, i-n); j < i; j++ {
		if targets[j] > 0 {
			sum += targets[j]
			count++
		}
	}
	if count == 0 {
		return nil
	}
	return ptr(sum / float64(count))
}

// ModalLocation returns the location of the most frequent rounded coordinate
// among observations, falling back to the most frequent city/state.
func ModalLocation(obs []domain.Observation) domain.Location {
	coords := make(map[domain.Coordinate]int)
	places := make(map[string]int)
	first := make(map[string]domain.Location)
	for _, o := range obs {
		if o.Location.HasCoordinates() {
			c := o.Location.Coordinate()
			coords[c]++
			if _, ok := first[c.String()]; !ok {
				first[c.String()] = o.Location
			}
			continue
		}
		if o.Location.State != "" {
			key := "place:" + o.Location.State + "|" + o.Location.City
			places[key]++
			if _, ok := first[key]; !ok {
				first[key] = o.Location
			}
		}
	}

	if len(coords) > 0 {
		keys := make([]domain.Coordinate, 0, len(coords))
		for c := range coords {
			keys = append(keys, c)
		}
		sort.Slice(keys, func(i, j int) bool {
			if coords[keys[i]] != coords[keys[j]] {
				return coords[keys[i]] > coords[keys[j]]
			}
			return keys[i].String() < keys[j].String()
		})
		return first[keys[0].String()]
	}
	if len(places) > 0 {
		keys := make([]string, 0, len(places))
		for k := range places {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			if places[keys[i]] != places[keys[j]] {
				return places[keys[i]] > places[keys[j]]
			}
			return keys[i] < keys[j]
		})
		return first[keys[0]]
	}
	return domain.Location{}
}

// TopCoordinates returns up to n distinct rounded coordinates ordered by how
// many observations carry them.
func TopCoordinates(obs []domain.Observation, n int) []domain.Coordinate {
	counts := make(map[domain.Coordinate]int)
	for _, o := range obs {
		if o.Location.HasCoordinates() {
			counts[o.Location.Coordinate()]++
		}
	}
	out := make([]domain.Coordinate, 0, len(counts))
	for c := range counts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if counts[out[i]] != counts[out[j]] {
			return counts[out[i]] > counts[out[j]]
		}
		return out[i].String() < out[j].String()
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func ptr(v float64) *float64 { return &v }
