package openmeteo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/pest-pressure-pipeline/internal/domain"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/observability"
)

const (
	DefaultArchiveURL  = "https://archive-api.open-meteo.com/v1/archive"
	DefaultForecastURL = "https://api.open-meteo.com/v1/forecast"

	endpointArchive  = "archive"
	endpointForecast = "forecast"

	dailyFields = "temperature_2m_max,temperature_2m_min,temperature_2m_mean,precipitation_sum,relative_humidity_2m_mean"
)

// Client implements domain.WeatherProvider using the Open-Meteo APIs.
type Client struct {
	archiveURL  string
	forecastURL string
	httpClient  *http.Client
	clock       clockwork.Clock
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// NewClient creates an Open-Meteo client. Empty URLs select the public endpoints.
func NewClient(archiveURL, forecastURL string, timeout time.Duration, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Client {
	if archiveURL == "" {
		archiveURL = DefaultArchiveURL
	}
	if forecastURL == "" {
		forecastURL = DefaultForecastURL
	}
	return &Client{
		archiveURL:  archiveURL,
		forecastURL: forecastURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		clock:   clock,
		logger:  logger,
		metrics: metrics,
	}
}

// DailyWeather fetches the daily series for coord over [start, end].
// Temperatures are requested in Fahrenheit and precipitation in inches.
// A range that straddles today is split: days before today come from the
// archive endpoint, today onward from the forecast endpoint. If only one
// half fails, the other half is returned and the failure is logged.
func (c *Client) DailyWeather(ctx context.Context, coord domain.Coordinate, start, end time.Time) ([]domain.WeatherDay, error) {
	start, end = domain.Day(start), domain.Day(end)
	if end.Before(start) {
		return nil, nil
	}

	spans := c.split(start, end)
	var (
		days []domain.WeatherDay
		errs []error
	)
	for _, sp := range spans {
		got, err := c.fetchSpan(ctx, coord, sp)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		days = append(days, got...)
	}

	switch {
	case len(errs) == len(spans):
		return nil, errors.Join(errs...)
	case len(errs) > 0:
		c.logger.Warn("partial weather fetch",
			"coordinate", coord.String(),
			"start", domain.DateKey(start),
			"end", domain.DateKey(end),
			"error", errors.Join(errs...),
		)
	}
	return days, nil
}

type span struct {
	endpoint   string
	base       string
	start, end time.Time
}

// split assigns [start, end] to the archive and forecast endpoints around today.
func (c *Client) split(start, end time.Time) []span {
	today := domain.Day(c.clock.Now())
	switch {
	case end.Before(today):
		return []span{{endpointArchive, c.archiveURL, start, end}}
	case !start.Before(today):
		return []span{{endpointForecast, c.forecastURL, start, end}}
	default:
		return []span{
			{endpointArchive, c.archiveURL, start, today.AddDate(0, 0, -1)},
			{endpointForecast, c.forecastURL, today, end},
		}
	}
}

func (c *Client) fetchSpan(ctx context.Context, coord domain.Coordinate, sp span) ([]domain.WeatherDay, error) {
	params := url.Values{
		"latitude":           {fmt.Sprintf("%.4f", coord.Lat)},
		"longitude":          {fmt.Sprintf("%.4f", coord.Lng)},
		"start_date":         {domain.DateKey(sp.start)},
		"end_date":           {domain.DateKey(sp.end)},
		"daily":              {dailyFields},
		"temperature_unit":   {"fahrenheit"},
		"precipitation_unit": {"inch"},
		"timezone":           {"UTC"},
	}

	begin := c.clock.Now()
	days, err := c.doRequest(ctx, sp.base+"?"+params.Encode(), coord, sp.endpoint)
	c.metrics.WeatherAPIDuration.WithLabelValues(sp.endpoint).Observe(c.clock.Since(begin).Seconds())
	if err != nil {
		c.metrics.WeatherRequests.WithLabelValues(sp.endpoint, "error").Inc()
		return nil, err
	}
	c.metrics.WeatherRequests.WithLabelValues(sp.endpoint, "success").Inc()
	return days, nil
}

func (c *Client) doRequest(ctx context.Context, fullURL string, coord domain.Coordinate, endpoint string) ([]domain.WeatherDay, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s weather request: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("open-meteo API error: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var r response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return r.toWeatherDays(coord, "open-meteo-"+endpoint, c.clock.Now()), nil
}

// Open-Meteo API response types. Values are null for days the provider has
// no data for yet.

type response struct {
	Daily struct {
		Time             []string   `json:"time"`
		TempMax          []*float64 `json:"temperature_2m_max"`
		TempMin          []*float64 `json:"temperature_2m_min"`
		TempMean         []*float64 `json:"temperature_2m_mean"`
		PrecipitationSum []*float64 `json:"precipitation_sum"`
		HumidityMean     []*float64 `json:"relative_humidity_2m_mean"`
	} `json:"daily"`
}

// toWeatherDays converts the columnar response into rows, dropping days
// without temperatures so they are fetched again later.
func (r response) toWeatherDays(coord domain.Coordinate, source string, fetchedAt time.Time) []domain.WeatherDay {
	d := r.Daily
	days := make([]domain.WeatherDay, 0, len(d.Time))
	for i, ts := range d.Time {
		date, err := time.Parse(time.DateOnly, ts)
		if err != nil {
			continue
		}
		maxF, minF := at(d.TempMax, i), at(d.TempMin, i)
		if maxF == nil || minF == nil {
			continue
		}
		avg := (*maxF + *minF) / 2
		if mean := at(d.TempMean, i); mean != nil {
			avg = *mean
		}
		day := domain.WeatherDay{
			Lat:       coord.Lat,
			Lng:       coord.Lng,
			Date:      date,
			TempMaxF:  *maxF,
			TempMinF:  *minF,
			TempAvgF:  avg,
			Source:    source,
			FetchedAt: fetchedAt,
		}
		if p := at(d.PrecipitationSum, i); p != nil {
			day.PrecipitationInches = *p
		}
		if h := at(d.HumidityMean, i); h != nil {
			day.HumidityAvgPercent = *h
		}
		days = append(days, day)
	}
	return days
}

func at(values []*float64, i int) *float64 {
	if i >= len(values) {
		return nil
	}
	return values[i]
}
