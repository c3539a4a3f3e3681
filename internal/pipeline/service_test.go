package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/pest-pressure-pipeline/internal/adapter/memory"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/aggregate"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/domain"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/extraction"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/modelstore"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/observability"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/predict"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/weather"
)

var (
	now    = time.Date(2024, 8, 1, 9, 0, 0, 0, time.UTC)
	austin = domain.Location{City: "Austin", State: "TX", Lat: 30.2672, Lng: -97.7431}
	dallas = domain.Location{City: "Dallas", State: "TX", Lat: 32.7767, Lng: -96.797}
	tulsa  = domain.Location{City: "Tulsa", State: "OK", Lat: 36.154, Lng: -95.9928}
)

func day(m time.Month, d int) time.Time { return time.Date(2024, m, d, 0, 0, 0, 0, time.UTC) }

// stubWeather returns a mild series for any coordinate and records calls.
type stubWeather struct {
	mu    sync.Mutex
	calls []domain.Coordinate
}

func (p *stubWeather) DailyWeather(_ context.Context, coord domain.Coordinate, start, end time.Time) ([]domain.WeatherDay, error) {
	p.mu.Lock()
	p.calls = append(p.calls, coord)
	p.mu.Unlock()

	var out []domain.WeatherDay
	for _, d := range domain.DaysBetween(start, end) {
		out = append(out, domain.WeatherDay{
			Lat: coord.Lat, Lng: coord.Lng, Date: d,
			TempAvgF: 70 + float64(d.YearDay()%10), PrecipitationInches: 0.1, HumidityAvgPercent: 60,
			Source: "stub",
		})
	}
	return out, nil
}

type stubExtractor struct{}

func (stubExtractor) Extract(context.Context, string) domain.Extraction {
	return domain.Extraction{
		PestTypes:         []domain.PestMention{{PestType: "ants", MentionsCount: 2, Confidence: 0.9}},
		UrgencyLevel:      6,
		OverallConfidence: 0.9,
	}
}

type fixture struct {
	store   *memory.Store
	weather *stubWeather
	metrics *observability.Metrics
	svc     *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetricsForTesting()
	clock := clockwork.NewFakeClockAt(now)
	store := memory.NewStore()
	provider := &stubWeather{}

	agg := aggregate.New(store, store, stubExtractor{}, extraction.NewKeywordExtractor(domain.DefaultPestDictionary()), logger, metrics)
	fetcher := weather.NewFetcher(store, provider, clock, 0, logger, metrics)
	registry := modelstore.NewRegistry(store, clock, logger, metrics)
	predictor := predict.NewPredictor(store, clock, logger)

	return &fixture{
		store:   store,
		weather: provider,
		metrics: metrics,
		svc:     NewService(store, agg, fetcher, registry, predictor, clock, logger, metrics),
	}
}

// seedDaily inserts one ants observation per day in [from, to] for a company.
func (f *fixture) seedDaily(t *testing.T, companyID string, loc domain.Location, from, to time.Time) {
	t.Helper()
	for i, d := range domain.DaysBetween(from, to) {
		urgency := 3 + i%5
		require.NoError(t, f.store.InsertObservation(context.Background(), domain.Observation{
			ID:              fmt.Sprintf("%s-%d", companyID, i),
			CompanyID:       companyID,
			SourceType:      domain.SourceCall,
			SourceID:        fmt.Sprintf("call-%s-%d", companyID, i),
			PestType:        "ants",
			MentionsCount:   1 + i%3,
			Location:        loc,
			UrgencyLevel:    &urgency,
			ConfidenceScore: 0.9,
			ObservedAt:      d.Add(14 * time.Hour),
		}))
	}
}

func TestService_TrainCompany(t *testing.T) {
	f := newFixture(t)
	f.seedDaily(t, "acme", austin, day(6, 1), day(7, 30))

	res, err := f.svc.TrainCompany(context.Background(), "acme", "ants", day(6, 1), day(7, 30))
	require.NoError(t, err)

	assert.Equal(t, "company:acme", res.Scope)
	assert.Equal(t, 60, res.Observations)
	assert.Equal(t, 60, res.Vectors)
	assert.Empty(t, res.ContributingCompanies)
	require.Len(t, res.Models, 2)
	assert.Equal(t, domain.ModelSeasonalForecast, res.Models[0].ModelType)
	assert.Equal(t, domain.ModelAnomalyDetection, res.Models[1].ModelType)
	for _, m := range res.Models {
		assert.True(t, m.IsActive())
	}
	assert.Len(t, f.weather.calls, 1, "one coordinate, one missing span")

	active, err := f.store.ActiveModel(context.Background(), domain.ModelKey{Scope: "company:acme", ModelType: domain.ModelSeasonalForecast, PestType: "ants"})
	require.NoError(t, err)
	assert.Equal(t, res.Models[0].ID, active.ID)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.ModelsTrained.WithLabelValues("seasonal_forecast", "success")), 0)
}

func TestService_TrainPartialInsufficientData(t *testing.T) {
	f := newFixture(t)
	f.seedDaily(t, "acme", austin, day(7, 1), day(7, 20))

	res, err := f.svc.TrainCompany(context.Background(), "acme", "ants", day(7, 1), day(7, 20))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInsufficientData))

	require.Len(t, res.Models, 1, "anomaly needs 14 vectors and still trains")
	assert.Equal(t, domain.ModelAnomalyDetection, res.Models[0].ModelType)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.ModelsTrained.WithLabelValues("seasonal_forecast", "insufficient_data")), 0)
}

func TestService_TrainScopeRecordsContributors(t *testing.T) {
	f := newFixture(t)
	f.seedDaily(t, "acme", austin, day(6, 1), day(7, 30))
	f.seedDaily(t, "globex", dallas, day(6, 15), day(7, 30))
	f.seedDaily(t, "initech", tulsa, day(6, 1), day(7, 30))

	_, err := f.svc.TrainScope(context.Background(), TrainRequest{Scope: domain.CompanyScope("acme")})
	require.Error(t, err, "company scope is not geographic")

	res, err := f.svc.TrainScope(context.Background(), TrainRequest{
		Scope:      domain.Scope{Kind: domain.ScopeState, State: "TX"},
		PestType:   "ants",
		Start:      day(6, 1),
		End:        day(7, 30),
		ModelTypes: []domain.ModelType{domain.ModelSeasonalForecast},
	})
	require.NoError(t, err)

	assert.Equal(t, "state:TX", res.Scope)
	assert.Equal(t, []string{"acme", "globex"}, res.ContributingCompanies)
	require.Len(t, res.Models, 1)
	assert.Equal(t, []string{"acme", "globex"}, res.Models[0].ContributingCompanies)
	assert.Equal(t, 2, res.Models[0].ContributingCompanyCount())
	assert.ElementsMatch(t, []domain.Coordinate{austin.Coordinate(), dallas.Coordinate()}, f.weather.calls)
}

func TestService_TrainValidatesRequest(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Train(context.Background(), TrainRequest{Scope: domain.Scope{Kind: domain.ScopeCity, State: "TX"}})
	require.Error(t, err)

	_, err = f.svc.TrainCompany(context.Background(), "acme", "", day(7, 30), day(7, 1))
	require.Error(t, err)
}

func TestService_Predict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedDaily(t, "acme", austin, day(6, 1), day(7, 31))

	_, err := f.svc.Predict(ctx, PredictRequest{Scope: domain.CompanyScope("acme"), PestType: "ants"})
	require.ErrorIs(t, err, domain.ErrModelNotFound)

	trained, err := f.svc.TrainCompany(ctx, "acme", "ants", day(6, 1), day(7, 31))
	require.NoError(t, err)

	pred, err := f.svc.Predict(ctx, PredictRequest{Scope: domain.CompanyScope("acme"), PestType: "ants"})
	require.NoError(t, err)

	assert.Equal(t, day(8, 1), pred.Window.Start)
	assert.Equal(t, day(8, 7), pred.Window.End)
	assert.Equal(t, trained.Models[0].Version, pred.ModelVersion)
	assert.GreaterOrEqual(t, pred.PredictedPressure, 0.0)
	assert.LessOrEqual(t, pred.PredictedPressure, 10.0)
	assert.Equal(t, now.Add(predict.ValidityPeriod), pred.ValidUntil)
	assert.NotEmpty(t, pred.ContributingFactors)
}

func TestService_HandleDispatchesJobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	transcript := "ants all over the pantry"
	f.store.AddCall(domain.CallRecord{ID: "call-1", CompanyID: "acme", Transcript: &transcript, Location: austin, CreatedAt: day(7, 10).Add(15 * time.Hour)})

	out, err := f.svc.Handle(ctx, domain.Job{ID: "j1", Kind: domain.JobAggregate, CompanyID: "acme", Start: day(7, 1), End: day(7, 31)})
	require.NoError(t, err)
	res, ok := out.(aggregate.Result)
	require.True(t, ok)
	assert.Equal(t, 1, res.Inserted)

	_, err = f.svc.Handle(ctx, domain.Job{ID: "j2", Kind: domain.JobPredict, Scope: "company:acme"})
	require.ErrorIs(t, err, domain.ErrModelNotFound)

	_, err = f.svc.Handle(ctx, domain.Job{ID: "j3", Kind: "reindex"})
	require.Error(t, err)
}

func TestScopeLocks_SerializesSameKey(t *testing.T) {
	locks := newScopeLocks()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock("state:TX")
			defer unlock()

			mu.Lock()
			inside++
			maxSeen = max(maxSeen, inside)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Zero(t, locks.len(), "released keys are dropped")
}

func TestScopeLocks_IndependentKeys(t *testing.T) {
	locks := newScopeLocks()
	unlockA := locks.lock("state:TX")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := locks.lock("state:OK")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different scope blocked")
	}
}
