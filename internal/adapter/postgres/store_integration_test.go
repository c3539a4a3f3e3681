//go:build integration

package postgres

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/couchcryptid/pest-pressure-pipeline/internal/domain"
)

func startPostgres(ctx context.Context, t *testing.T) *Store {
	t.Helper()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("pest_pressure"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err, "start postgres container")

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := Open(ctx, dsn, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx), "migrations are idempotent")
	require.NoError(t, store.CheckReadiness(ctx))
	return store
}

func TestStore_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	s := startPostgres(ctx, t)
	july := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	t.Run("source records", func(t *testing.T) {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO calls (id, company_id, transcript, city, state, lat, lng, created_at) VALUES
				('c1', 'acme', 'ants in the kitchen', 'Austin', 'TX', 30.2672, -97.7431, $1),
				('c2', 'acme', NULL, 'Austin', 'TX', NULL, NULL, $1),
				('c3', 'globex', 'roaches', 'Dallas', 'TX', NULL, NULL, $1)`, july)
		require.NoError(t, err)
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO form_submissions (id, company_id, status, data, submitted_at) VALUES
				('f1', 'acme', 'processed', '{"issue_description":"termite swarm","city":"Austin","state":"TX"}', $1),
				('f2', 'acme', 'failed', '{"issue_description":"spiders"}', $1)`, july)
		require.NoError(t, err)
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO leads (id, company_id, call_id, notes, state, created_at) VALUES
				('l1', 'acme', 'c1', 'ants', 'TX', $1),
				('l2', 'acme', NULL, 'mice in attic', 'TX', $1)`, july)
		require.NoError(t, err)

		calls, err := s.CallsWithTranscripts(ctx, "acme", july, july.Add(24*time.Hour))
		require.NoError(t, err)
		require.Len(t, calls, 1)
		assert.Equal(t, "ants in the kitchen", *calls[0].Transcript)
		assert.InDelta(t, 30.2672, calls[0].Location.Lat, 1e-9)

		forms, err := s.ProcessedForms(ctx, "acme", july, july.Add(24*time.Hour))
		require.NoError(t, err)
		require.Len(t, forms, 1)
		assert.Equal(t, "termite swarm", forms[0].Data.IssueDescription)

		leads, err := s.Leads(ctx, "acme", july, july.Add(24*time.Hour))
		require.NoError(t, err)
		require.Len(t, leads, 2)
		assert.False(t, leads[0].Orphaned())
		assert.True(t, leads[1].Orphaned())
	})

	t.Run("observations dedup and scope filters", func(t *testing.T) {
		obs := []domain.Observation{
			{CompanyID: "acme", SourceType: domain.SourceCall, SourceID: "c1", PestType: "ants", MentionsCount: 2,
				Location: domain.Location{City: "Austin", State: "TX"}, ConfidenceScore: 0.9, ObservedAt: july},
			{CompanyID: "globex", SourceType: domain.SourceCall, SourceID: "c3", PestType: "roaches", MentionsCount: 1,
				Location: domain.Location{City: "Dallas", State: "tx"}, ConfidenceScore: 0.8, ObservedAt: july.Add(time.Hour)},
			{CompanyID: "initech", SourceType: domain.SourceForm, SourceID: "f9", PestType: "ants", MentionsCount: 1,
				Location: domain.Location{City: "Tulsa", State: "OK"}, ConfidenceScore: 0.9, ObservedAt: july.Add(2 * time.Hour)},
		}
		for _, o := range obs {
			require.NoError(t, s.InsertObservation(ctx, o))
		}
		err := s.InsertObservation(ctx, obs[0])
		require.ErrorIs(t, err, domain.ErrDuplicateObservation)

		end := july.Add(24 * time.Hour)
		count := func(scope domain.Scope, pest string) int {
			got, err := s.Observations(ctx, scope, pest, july, end)
			require.NoError(t, err)
			return len(got)
		}
		assert.Equal(t, 1, count(domain.CompanyScope("acme"), ""))
		assert.Equal(t, 2, count(domain.Scope{Kind: domain.ScopeState, State: "TX"}, ""))
		assert.Equal(t, 1, count(domain.Scope{Kind: domain.ScopeCity, State: "TX", City: "dallas"}, ""))
		assert.Equal(t, 2, count(domain.Scope{Kind: domain.ScopeRegion, States: []string{"OK", "TX"}}, "ants"))
		assert.Equal(t, 3, count(domain.Scope{Kind: domain.ScopeNational}, ""))
	})

	t.Run("weather cache never overwrites", func(t *testing.T) {
		coord := domain.NewCoordinate(30.26721, -97.74309)
		day := domain.WeatherDay{Lat: coord.Lat, Lng: coord.Lng, Date: july, TempAvgF: 80, Source: "open-meteo", FetchedAt: july}
		require.NoError(t, s.UpsertWeather(ctx, []domain.WeatherDay{day}))

		day.TempAvgF = 10
		require.NoError(t, s.UpsertWeather(ctx, []domain.WeatherDay{day}))

		rows, err := s.CachedWeather(ctx, coord, july, july.AddDate(0, 0, 3))
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.InDelta(t, 80, rows[0].TempAvgF, 1e-9)
		assert.Equal(t, july, rows[0].Date)
	})

	t.Run("model activation", func(t *testing.T) {
		base := domain.Model{
			Scope:             "company:acme",
			ModelType:         domain.ModelAnomalyDetection,
			Parameters:        domain.DefaultAnomalyParameters(),
			TrainingDataCount: 40,
			TrainingDateRange: domain.DateRange{Start: july.AddDate(0, -2, 0), End: july},
			TrainedAt:         july,
			Status:            domain.ModelDraft,
		}
		v1, v2 := base, base
		v1.ID, v1.Version = "0b3c5d1a-1111-4c1e-9a4b-000000000001", 1
		v2.ID, v2.Version = "0b3c5d1a-1111-4c1e-9a4b-000000000002", 2
		v2.ContributingCompanies = []string{"acme"}
		require.NoError(t, s.SaveModel(ctx, v1))
		require.NoError(t, s.SaveModel(ctx, v2))

		_, err := s.ActiveModel(ctx, base.Key())
		require.ErrorIs(t, err, domain.ErrModelNotFound)

		require.NoError(t, s.ActivateModel(ctx, v1.ID))
		require.NoError(t, s.ActivateModel(ctx, v2.ID))

		active, err := s.ActiveModel(ctx, base.Key())
		require.NoError(t, err)
		assert.Equal(t, v2.ID, active.ID)
		assert.Equal(t, []string{"acme"}, active.ContributingCompanies)

		versions, err := s.ListModels(ctx, base.Key())
		require.NoError(t, err)
		require.Len(t, versions, 2)
		assert.Equal(t, int64(2), versions[0].Version)
		assert.Equal(t, domain.ModelSuperseded, versions[1].Status)

		err = s.ActivateModel(ctx, "0b3c5d1a-1111-4c1e-9a4b-00000000ffff")
		require.ErrorIs(t, err, domain.ErrModelNotFound)
	})
}
