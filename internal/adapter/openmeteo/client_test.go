package openmeteo

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/pest-pressure-pipeline/internal/domain"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/observability"
)

const dailyBody = `{
  "latitude": 30.27,
  "longitude": -97.74,
  "daily": {
    "time": ["2024-07-01", "2024-07-02", "2024-07-03"],
    "temperature_2m_max": [98.1, 97.0, null],
    "temperature_2m_min": [75.2, 74.0, null],
    "temperature_2m_mean": [86.0, null, null],
    "precipitation_sum": [0.0, 0.12, null],
    "relative_humidity_2m_mean": [55, 61, null]
  }
}`

var austin = domain.NewCoordinate(30.2672, -97.7431)

func newTestClient(archive, forecast string, now time.Time) *Client {
	return NewClient(archive, forecast, 5*time.Second, clockwork.NewFakeClockAt(now),
		slog.New(slog.NewTextHandler(io.Discard, nil)), observability.NewMetricsForTesting())
}

func TestClient_DailyWeather_ArchiveForPastRange(t *testing.T) {
	var archiveHits, forecastHits int
	archive := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		archiveHits++
		q := r.URL.Query()
		assert.Equal(t, "30.2672", q.Get("latitude"))
		assert.Equal(t, "-97.7431", q.Get("longitude"))
		assert.Equal(t, "2024-07-01", q.Get("start_date"))
		assert.Equal(t, "2024-07-03", q.Get("end_date"))
		assert.Equal(t, "fahrenheit", q.Get("temperature_unit"))
		assert.Equal(t, "inch", q.Get("precipitation_unit"))
		assert.Contains(t, q.Get("daily"), "relative_humidity_2m_mean")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, dailyBody)
	}))
	defer archive.Close()
	forecast := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { forecastHits++ }))
	defer forecast.Close()

	c := newTestClient(archive.URL, forecast.URL, time.Date(2024, 8, 1, 12, 0, 0, 0, time.UTC))
	days, err := c.DailyWeather(context.Background(), austin,
		time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 7, 3, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, 1, archiveHits)
	assert.Zero(t, forecastHits)
	require.Len(t, days, 2, "null day is dropped")

	assert.Equal(t, "2024-07-01", domain.DateKey(days[0].Date))
	assert.InDelta(t, 86.0, days[0].TempAvgF, 1e-9)
	assert.InDelta(t, 85.5, days[1].TempAvgF, 1e-9, "mean derived from max/min when missing")
	assert.InDelta(t, 0.12, days[1].PrecipitationInches, 1e-9)
	assert.InDelta(t, 61, days[1].HumidityAvgPercent, 1e-9)
	assert.Equal(t, austin.Lat, days[0].Lat)
	assert.Equal(t, "open-meteo-archive", days[0].Source)
}

func TestClient_DailyWeather_ForecastWhenRangeStartsToday(t *testing.T) {
	var forecastHits int
	archive := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("archive endpoint should not be called")
	}))
	defer archive.Close()
	forecast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		forecastHits++
		_, _ = io.WriteString(w, dailyBody)
	}))
	defer forecast.Close()

	c := newTestClient(archive.URL, forecast.URL, time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC))
	days, err := c.DailyWeather(context.Background(), austin,
		time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 7, 7, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, 1, forecastHits)
	assert.Len(t, days, 2)
	assert.Equal(t, "open-meteo-forecast", days[0].Source)
}

func TestClient_DailyWeather_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":true,"reason":"bad range"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, srv.URL, time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC))
	_, err := c.DailyWeather(context.Background(), austin,
		time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 7, 3, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestClient_DailyWeather_SplitsRangeAtToday(t *testing.T) {
	var archiveRange, forecastRange [2]string
	archive := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		archiveRange = [2]string{r.URL.Query().Get("start_date"), r.URL.Query().Get("end_date")}
		_, _ = io.WriteString(w, `{"daily":{"time":["2023-07-03"],"temperature_2m_max":[90],"temperature_2m_min":[70]}}`)
	}))
	defer archive.Close()
	forecast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		forecastRange = [2]string{r.URL.Query().Get("start_date"), r.URL.Query().Get("end_date")}
		_, _ = io.WriteString(w, `{"daily":{"time":["2024-08-01"],"temperature_2m_max":[99],"temperature_2m_min":[77]}}`)
	}))
	defer forecast.Close()

	c := newTestClient(archive.URL, forecast.URL, time.Date(2024, 8, 1, 12, 0, 0, 0, time.UTC))
	days, err := c.DailyWeather(context.Background(), austin,
		time.Date(2023, 7, 3, 0, 0, 0, 0, time.UTC), time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, [2]string{"2023-07-03", "2024-07-31"}, archiveRange)
	assert.Equal(t, [2]string{"2024-08-01", "2024-08-01"}, forecastRange)
	require.Len(t, days, 2)
	assert.Equal(t, "open-meteo-archive", days[0].Source)
	assert.Equal(t, "open-meteo-forecast", days[1].Source)
}

func TestClient_DailyWeather_ForecastFailureKeepsArchiveDays(t *testing.T) {
	archive := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, dailyBody)
	}))
	defer archive.Close()
	forecast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer forecast.Close()

	c := newTestClient(archive.URL, forecast.URL, time.Date(2024, 7, 4, 12, 0, 0, 0, time.UTC))
	days, err := c.DailyWeather(context.Background(), austin,
		time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 7, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, days, 2)
}
