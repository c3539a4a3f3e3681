package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/couchcryptid/pest-pressure-pipeline/internal/domain"
)

type weatherRow struct {
	Lat                 float64   `db:"lat"`
	Lng                 float64   `db:"lng"`
	Date                time.Time `db:"date"`
	TempMaxF            float64   `db:"temp_max_f"`
	TempMinF            float64   `db:"temp_min_f"`
	TempAvgF            float64   `db:"temp_avg_f"`
	PrecipitationInches float64   `db:"precipitation_inches"`
	HumidityAvgPercent  float64   `db:"humidity_avg_percent"`
	Source              string    `db:"source"`
	FetchedAt           time.Time `db:"fetched_at"`
}

// CachedWeather returns cached rows for coord with dates in [start, end].
func (s *Store) CachedWeather(ctx context.Context, coord domain.Coordinate, start, end time.Time) ([]domain.WeatherDay, error) {
	const query = `
		SELECT lat, lng, date, temp_max_f, temp_min_f, temp_avg_f,
			precipitation_inches, humidity_avg_percent, source, fetched_at
		FROM weather_daily
		WHERE lat = $1 AND lng = $2
		AND date BETWEEN $3::date AND $4::date
		ORDER BY date`

	var rows []weatherRow
	err := s.db.SelectContext(ctx, &rows, query, coord.Lat, coord.Lng, domain.DateKey(start), domain.DateKey(end))
	if err != nil {
		return nil, fmt.Errorf("query cached weather at %s: %w", coord, err)
	}

	out := make([]domain.WeatherDay, len(rows))
	for i, r := range rows {
		out[i] = domain.WeatherDay{
			Lat:                 r.Lat,
			Lng:                 r.Lng,
			Date:                domain.Day(r.Date),
			TempMaxF:            r.TempMaxF,
			TempMinF:            r.TempMinF,
			TempAvgF:            r.TempAvgF,
			PrecipitationInches: r.PrecipitationInches,
			HumidityAvgPercent:  r.HumidityAvgPercent,
			Source:              r.Source,
			FetchedAt:           r.FetchedAt.UTC(),
		}
	}
	return out, nil
}

// UpsertWeather inserts rows whose (lat, lng, date) is not cached yet.
// Existing rows are never overwritten.
func (s *Store) UpsertWeather(ctx context.Context, days []domain.WeatherDay) error {
	if len(days) == 0 {
		return nil
	}
	const query = `
		INSERT INTO weather_daily (
			lat, lng, date, temp_max_f, temp_min_f, temp_avg_f,
			precipitation_inches, humidity_avg_percent, source, fetched_at
		) VALUES ($1, $2, $3::date, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (lat, lng, date) DO NOTHING`

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin weather upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, d := range days {
		c := d.Coordinate()
		if _, err := tx.ExecContext(ctx, query,
			c.Lat, c.Lng, domain.DateKey(d.Date),
			d.TempMaxF, d.TempMinF, d.TempAvgF,
			d.PrecipitationInches, d.HumidityAvgPercent, d.Source, d.FetchedAt,
		); err != nil {
			return fmt.Errorf("upsert weather %s %s: %w", c, domain.DateKey(d.Date), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit weather upsert: %w", err)
	}
	return nil
}
