package weather

import (
	"context"
	"sort"
	"time"

	"github.com/couchcryptid/pest-pressure-pipeline/internal/domain"
)

// CompositeSource marks rows averaged across several coordinates.
const CompositeSource = "composite"

// FetchMany fetches each coordinate in turn. Provider calls are spaced by
// the fetcher's call delay.
func (f *Fetcher) FetchMany(ctx context.Context, coords []domain.Coordinate, start, end time.Time) map[domain.Coordinate][]domain.WeatherDay {
	out := make(map[domain.Coordinate][]domain.WeatherDay, len(coords))
	for _, c := range coords {
		if ctx.Err() != nil {
			break
		}
		out[c] = f.Fetch(ctx, c.Lat, c.Lng, start, end)
	}
	return out
}

// Composite averages several weather series into one row per date. Each date
// averages only the series that have it.
func Composite(series ...[]domain.WeatherDay) []domain.WeatherDay {
	type acc struct {
		row domain.WeatherDay
		n   float64
	}
	byDate := make(map[string]*acc)
	for _, s := range series {
		for _, d := range s {
			key := domain.DateKey(d.Date)
			a, ok := byDate[key]
			if !ok {
				a = &acc{row: domain.WeatherDay{Date: domain.Day(d.Date), Source: CompositeSource, FetchedAt: d.FetchedAt}}
				byDate[key] = a
			}
			a.n++
			a.row.Lat += d.Lat
			a.row.Lng += d.Lng
			a.row.TempMaxF += d.TempMaxF
			a.row.TempMinF += d.TempMinF
			a.row.TempAvgF += d.TempAvgF
			a.row.PrecipitationInches += d.PrecipitationInches
			a.row.HumidityAvgPercent += d.HumidityAvgPercent
		}
	}

	out := make([]domain.WeatherDay, 0, len(byDate))
	for _, a := range byDate {
		r := a.row
		r.Lat /= a.n
		r.Lng /= a.n
		r.TempMaxF /= a.n
		r.TempMinF /= a.n
		r.TempAvgF /= a.n
		r.PrecipitationInches /= a.n
		r.HumidityAvgPercent /= a.n
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}
