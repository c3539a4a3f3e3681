// Package weather serves daily weather series from a permanent cache,
// filling gaps from an external provider.
package weather

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/couchcryptid/pest-pressure-pipeline/internal/domain"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/observability"
)

// Fetcher returns weather for a coordinate and date range. Observed days are
// cached forever; only the missing span is requested from the provider.
type Fetcher struct {
	cache    domain.WeatherCache
	provider domain.WeatherProvider
	clock    clockwork.Clock
	limiter  *rate.Limiter
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewFetcher creates a fetcher. callDelay spaces consecutive provider calls;
// zero disables spacing.
func NewFetcher(cache domain.WeatherCache, provider domain.WeatherProvider, clock clockwork.Clock, callDelay time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Fetcher {
	limit := rate.Inf
	if callDelay > 0 {
		limit = rate.Every(callDelay)
	}
	return &Fetcher{
		cache:    cache,
		provider: provider,
		clock:    clock,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger,
		metrics:  metrics,
	}
}

// Fetch returns the weather rows for [start, end] sorted by date. It never
// fails: cache read errors count as an empty cache, and provider errors
// return whatever was cached.
func (f *Fetcher) Fetch(ctx context.Context, lat, lng float64, start, end time.Time) []domain.WeatherDay {
	coord := domain.NewCoordinate(lat, lng)
	start, end = domain.Day(start), domain.Day(end)
	if end.Before(start) {
		return nil
	}

	cached, err := f.cache.CachedWeather(ctx, coord, start, end)
	if err != nil {
		f.logger.Warn("weather cache read failed", "coordinate", coord.String(), "error", err)
		cached = nil
	}

	have := make(map[string]domain.WeatherDay, len(cached))
	for _, d := range cached {
		day := domain.Day(d.Date)
		if day.Before(start) || day.After(end) {
			continue
		}
		have[domain.DateKey(day)] = d
	}

	var missing []time.Time
	for _, day := range domain.DaysBetween(start, end) {
		if _, ok := have[domain.DateKey(day)]; !ok {
			missing = append(missing, day)
		}
	}
	f.metrics.WeatherCache.WithLabelValues("hit").Add(float64(len(have)))
	f.metrics.WeatherCache.WithLabelValues("miss").Add(float64(len(missing)))

	if len(missing) == 0 {
		return sortedDays(have)
	}

	if err := f.limiter.Wait(ctx); err != nil {
		f.logger.Warn("weather fetch skipped", "coordinate", coord.String(), "error", err)
		return sortedDays(have)
	}

	// One call for the span covering every gap, first to last missing date.
	fetched, err := f.provider.DailyWeather(ctx, coord, missing[0], missing[len(missing)-1])
	if err != nil {
		f.logger.Warn("weather provider failed, using cached rows",
			"coordinate", coord.String(),
			"start", domain.DateKey(missing[0]),
			"end", domain.DateKey(missing[len(missing)-1]),
			"cached", len(have),
			"error", err,
		)
		return sortedDays(have)
	}

	today := domain.Day(f.clock.Now())
	var toCache []domain.WeatherDay
	for _, d := range fetched {
		d.Date = domain.Day(d.Date)
		d.Lat, d.Lng = coord.Lat, coord.Lng
		if d.FetchedAt.IsZero() {
			d.FetchedAt = f.clock.Now()
		}
		key := domain.DateKey(d.Date)
		if _, ok := have[key]; ok || d.Date.Before(start) || d.Date.After(end) {
			continue
		}
		have[key] = d
		// Only observed history is immutable; forecast days are not cached.
		if d.Date.Before(today) {
			toCache = append(toCache, d)
		}
	}

	if len(toCache) > 0 {
		if err := f.cache.UpsertWeather(ctx, toCache); err != nil {
			f.logger.Warn("weather cache write failed", "coordinate", coord.String(), "rows", len(toCache), "error", err)
		}
	}
	return sortedDays(have)
}

func sortedDays(byDate map[string]domain.WeatherDay) []domain.WeatherDay {
	out := make([]domain.WeatherDay, 0, len(byDate))
	for _, d := range byDate {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}
