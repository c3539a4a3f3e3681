// Package app assembles the pipeline's components from configuration. Both
// the worker and the batch CLI build their object graph here.
package app

import (
	"context"
	"fmt"
	"log/slog"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/pest-pressure-pipeline/internal/adapter/gemini"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/adapter/mapbox"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/adapter/memory"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/adapter/openmeteo"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/adapter/postgres"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/aggregate"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/config"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/domain"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/extraction"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/modelstore"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/observability"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/pipeline"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/predict"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/weather"
)

// App holds the assembled service and the store backing it.
type App struct {
	Service *pipeline.Service
	Store   domain.Store

	// Readiness reports store connectivity.
	Readiness sharedobs.ReadinessChecker

	pg *postgres.Store
}

// Migrate applies the database schema. It is a no-op for the memory backend.
func (a *App) Migrate(ctx context.Context) error {
	if a.pg == nil {
		return nil
	}
	return a.pg.Migrate(ctx)
}

// Close releases the database connection, if any.
func (a *App) Close() error {
	if a.pg == nil {
		return nil
	}
	return a.pg.Close()
}

// New builds the component graph described by cfg.
func New(ctx context.Context, cfg *config.Config, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) (*App, error) {
	a := &App{}

	switch cfg.StoreBackend {
	case config.StoreMemory:
		a.Store = memory.NewStore()
		a.Readiness = alwaysReady{}
		logger.Warn("using in-memory store; nothing will be persisted")
	default:
		pg, err := postgres.Open(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		a.pg = pg
		a.Store = pg
		a.Readiness = pg
	}

	dict, err := domain.LoadPestDictionary(cfg.PestDictionaryPath)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("load pest dictionary: %w", err)
	}
	keywords := extraction.NewKeywordExtractor(dict)

	var extractor domain.TextExtractor = keywords
	if cfg.GeminiAPIKey != "" {
		llm := gemini.NewClient(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiTimeout, logger, metrics)
		extractor = extraction.NewBridge(llm, dict, cfg.LLMCallDelay, logger, metrics,
			extraction.WithGenerateOptions(domain.GenerateOptions{
				JSONMode:        true,
				Temperature:     0.1,
				MaxOutputTokens: 1024,
				MaxRetries:      cfg.GeminiMaxRetries,
			}))
		logger.Info("llm extraction enabled", "model", cfg.GeminiModel)
	} else {
		logger.Info("GEMINI_API_KEY not set, transcripts use keyword extraction")
	}

	aggOpts := []aggregate.Option{aggregate.WithLeadFallback(cfg.LeadFallbackEnabled)}
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, logger, metrics)
		aggOpts = append(aggOpts, aggregate.WithGeocoder(mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)))
		metrics.GeocodeEnabled.Set(1)
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox geocoding disabled")
	}
	aggregator := aggregate.New(a.Store, a.Store, extractor, keywords, logger, metrics, aggOpts...)

	provider := openmeteo.NewClient(cfg.WeatherArchiveURL, cfg.WeatherForecastURL, cfg.WeatherTimeout, clock, logger, metrics)
	fetcher := weather.NewFetcher(a.Store, provider, clock, cfg.WeatherCallDelay, logger, metrics)

	registry := modelstore.NewRegistry(a.Store, clock, logger, metrics)
	predictor := predict.NewPredictor(a.Store, clock, logger)

	a.Service = pipeline.NewService(a.Store, aggregator, fetcher, registry, predictor, clock, logger, metrics,
		pipeline.WithMaxWeatherLocations(cfg.WeatherMaxLocations))
	return a, nil
}

type alwaysReady struct{}

func (alwaysReady) CheckReadiness(context.Context) error { return nil }
