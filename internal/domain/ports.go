package domain

import (
	"context"
	"time"
)

// SourceReader reads raw upstream records for one company and time window.
type SourceReader interface {
	CallsWithTranscripts(ctx context.Context, companyID string, start, end time.Time) ([]CallRecord, error)
	ProcessedForms(ctx context.Context, companyID string, start, end time.Time) ([]FormSubmission, error)
	Leads(ctx context.Context, companyID string, start, end time.Time) ([]LeadRecord, error)
}

// ObservationStore persists canonical observations. InsertObservation must
// return an error matching ErrDuplicateObservation when the dedup key exists.
type ObservationStore interface {
	InsertObservation(ctx context.Context, obs Observation) error
	Observations(ctx context.Context, scope Scope, pestType string, start, end time.Time) ([]Observation, error)
}

// WeatherCache stores immutable daily weather rows keyed by (lat, lng, date).
// UpsertWeather never overwrites an existing row.
type WeatherCache interface {
	CachedWeather(ctx context.Context, coord Coordinate, start, end time.Time) ([]WeatherDay, error)
	UpsertWeather(ctx context.Context, days []WeatherDay) error
}

// ModelRepository persists versioned models. ActivateModel marks the model
// active and supersedes any other active model with the same key.
type ModelRepository interface {
	SaveModel(ctx context.Context, m Model) error
	ActivateModel(ctx context.Context, id string) error
	ActiveModel(ctx context.Context, key ModelKey) (Model, error)
	ListModels(ctx context.Context, key ModelKey) ([]Model, error)
}

// Store is the full persistence capability.
type Store interface {
	SourceReader
	ObservationStore
	WeatherCache
	ModelRepository
}

// TextExtractor turns a transcript into structured pest mentions. It never
// fails: extraction problems degrade to EmptyExtraction.
type TextExtractor interface {
	Extract(ctx context.Context, transcript string) Extraction
}

// WeatherProvider fetches a daily weather series for a coordinate.
type WeatherProvider interface {
	DailyWeather(ctx context.Context, coord Coordinate, start, end time.Time) ([]WeatherDay, error)
}
