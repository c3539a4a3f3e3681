package weather

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/pest-pressure-pipeline/internal/adapter/memory"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/domain"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/observability"
)

type call struct{ start, end time.Time }

type countingProvider struct {
	calls []call
	err   error
}

func (p *countingProvider) DailyWeather(_ context.Context, coord domain.Coordinate, start, end time.Time) ([]domain.WeatherDay, error) {
	p.calls = append(p.calls, call{start, end})
	if p.err != nil {
		return nil, p.err
	}
	var out []domain.WeatherDay
	for _, d := range domain.DaysBetween(start, end) {
		out = append(out, domain.WeatherDay{
			Lat: coord.Lat, Lng: coord.Lng, Date: d,
			TempAvgF: 70 + float64(d.Day()), PrecipitationInches: 0.1, HumidityAvgPercent: 50,
			Source: "fake",
		})
	}
	return out, nil
}

type failingCache struct{ domain.WeatherCache }

func (failingCache) CachedWeather(context.Context, domain.Coordinate, time.Time, time.Time) ([]domain.WeatherDay, error) {
	return nil, errors.New("connection refused")
}

func (failingCache) UpsertWeather(context.Context, []domain.WeatherDay) error {
	return errors.New("connection refused")
}

var (
	lat, lng = 30.26724, -97.74306
	now      = time.Date(2024, 8, 1, 12, 0, 0, 0, time.UTC)
)

func date(m time.Month, d int) time.Time { return time.Date(2024, m, d, 0, 0, 0, 0, time.UTC) }

func newFetcher(cache domain.WeatherCache, p domain.WeatherProvider) *Fetcher {
	return NewFetcher(cache, p, clockwork.NewFakeClockAt(now), 0,
		slog.New(slog.NewTextHandler(io.Discard, nil)), observability.NewMetricsForTesting())
}

func TestFetcher_CacheHitMakesNoProviderCalls(t *testing.T) {
	store := memory.NewStore()
	provider := &countingProvider{}
	f := newFetcher(store, provider)
	ctx := context.Background()

	first := f.Fetch(ctx, lat, lng, date(7, 1), date(7, 10))
	require.Len(t, first, 10)
	require.Len(t, provider.calls, 1)

	second := f.Fetch(ctx, lat, lng, date(7, 3), date(7, 8))
	assert.Len(t, second, 6)
	assert.Len(t, provider.calls, 1, "fully cached range must not reach the provider")
}

func TestFetcher_FetchesOnlyMissingSpan(t *testing.T) {
	store := memory.NewStore()
	provider := &countingProvider{}
	f := newFetcher(store, provider)
	ctx := context.Background()

	f.Fetch(ctx, lat, lng, date(7, 1), date(7, 5))
	got := f.Fetch(ctx, lat, lng, date(7, 1), date(7, 8))

	require.Len(t, provider.calls, 2)
	assert.Equal(t, date(7, 6), provider.calls[1].start)
	assert.Equal(t, date(7, 8), provider.calls[1].end)
	require.Len(t, got, 8)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i-1].Date.Before(got[i].Date), "rows sorted by date")
	}
}

func TestFetcher_RoundsCoordinatesForCacheKey(t *testing.T) {
	store := memory.NewStore()
	provider := &countingProvider{}
	f := newFetcher(store, provider)
	ctx := context.Background()

	f.Fetch(ctx, 30.26724, -97.74306, date(7, 1), date(7, 2))
	f.Fetch(ctx, 30.26721, -97.74309, date(7, 1), date(7, 2))

	assert.Len(t, provider.calls, 1)
}

func TestFetcher_ProviderFailureReturnsCached(t *testing.T) {
	store := memory.NewStore()
	good := &countingProvider{}
	ctx := context.Background()
	newFetcher(store, good).Fetch(ctx, lat, lng, date(7, 1), date(7, 3))

	bad := &countingProvider{err: errors.New("503")}
	got := newFetcher(store, bad).Fetch(ctx, lat, lng, date(7, 1), date(7, 6))

	assert.Len(t, bad.calls, 1)
	assert.Len(t, got, 3)
}

func TestFetcher_CacheErrorsDegrade(t *testing.T) {
	provider := &countingProvider{}
	got := newFetcher(failingCache{}, provider).Fetch(context.Background(), lat, lng, date(7, 1), date(7, 3))

	assert.Len(t, got, 3, "cache read error behaves like an empty cache")
	assert.Len(t, provider.calls, 1)
}

func TestFetcher_DoesNotCacheTodayOrLater(t *testing.T) {
	store := memory.NewStore()
	provider := &countingProvider{}
	f := newFetcher(store, provider)
	ctx := context.Background()

	got := f.Fetch(ctx, lat, lng, date(7, 30), date(8, 3))
	require.Len(t, got, 5)

	cached, err := store.CachedWeather(ctx, domain.NewCoordinate(lat, lng), date(7, 30), date(8, 3))
	require.NoError(t, err)
	assert.Len(t, cached, 2, "only Jul 30 and Jul 31 are history")
}

func TestComposite_AveragesPerDate(t *testing.T) {
	a := []domain.WeatherDay{{Date: date(7, 1), TempAvgF: 80, PrecipitationInches: 1}, {Date: date(7, 2), TempAvgF: 90}}
	b := []domain.WeatherDay{{Date: date(7, 1), TempAvgF: 60, PrecipitationInches: 0}}

	got := Composite(a, b)
	require.Len(t, got, 2)
	assert.InDelta(t, 70, got[0].TempAvgF, 1e-9)
	assert.InDelta(t, 0.5, got[0].PrecipitationInches, 1e-9)
	assert.InDelta(t, 90, got[1].TempAvgF, 1e-9)
	assert.Equal(t, CompositeSource, got[0].Source)
}
