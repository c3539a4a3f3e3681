// Package memory is an in-process implementation of domain.Store with the
// same uniqueness rules as the PostgreSQL store. It backs tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/couchcryptid/pest-pressure-pipeline/internal/domain"
)

type weatherKey struct {
	coord domain.Coordinate
	date  string
}

// Store keeps source records, observations, weather, and models in memory.
type Store struct {
	mu sync.RWMutex

	calls []domain.CallRecord
	forms []domain.FormSubmission
	leads []domain.LeadRecord

	observations []domain.Observation
	dedup        map[domain.DedupKey]struct{}
	weather      map[weatherKey]domain.WeatherDay
	models       map[string]domain.Model
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		dedup:   make(map[domain.DedupKey]struct{}),
		weather: make(map[weatherKey]domain.WeatherDay),
		models:  make(map[string]domain.Model),
	}
}

// AddCall seeds an inbound call record.
func (s *Store) AddCall(c domain.CallRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, c)
}

// AddForm seeds a processed form submission.
func (s *Store) AddForm(f domain.FormSubmission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forms = append(s.forms, f)
}

// AddLead seeds a CRM lead.
func (s *Store) AddLead(l domain.LeadRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads = append(s.leads, l)
}

func inWindow(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}

// CallsWithTranscripts returns the company's calls in the window that carry a transcript.
func (s *Store) CallsWithTranscripts(_ context.Context, companyID string, start, end time.Time) ([]domain.CallRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.CallRecord
	for _, c := range s.calls {
		if c.CompanyID == companyID && c.Transcript != nil && inWindow(c.CreatedAt, start, end) {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ProcessedForms returns the company's form submissions in the window.
func (s *Store) ProcessedForms(_ context.Context, companyID string, start, end time.Time) ([]domain.FormSubmission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.FormSubmission
	for _, f := range s.forms {
		if f.CompanyID == companyID && inWindow(f.SubmittedAt, start, end) {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

// Leads returns the company's leads in the window.
func (s *Store) Leads(_ context.Context, companyID string, start, end time.Time) ([]domain.LeadRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.LeadRecord
	for _, l := range s.leads {
		if l.CompanyID == companyID && inWindow(l.CreatedAt, start, end) {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// InsertObservation stores obs unless its dedup key already exists.
func (s *Store) InsertObservation(_ context.Context, obs domain.Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := obs.Key()
	if _, ok := s.dedup[key]; ok {
		return fmt.Errorf("insert observation %s/%s/%s: %w", key.SourceType, key.SourceID, key.PestType, domain.ErrDuplicateObservation)
	}
	s.dedup[key] = struct{}{}
	s.observations = append(s.observations, obs)
	return nil
}

// Observations returns observations inside scope observed within [start, end].
// An empty pestType matches every pest.
func (s *Store) Observations(_ context.Context, scope domain.Scope, pestType string, start, end time.Time) ([]domain.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Observation
	for _, o := range s.observations {
		if !scope.Matches(o) || !inWindow(o.ObservedAt, start, end) {
			continue
		}
		if pestType != "" && o.PestType != pestType {
			continue
		}
		out = append(out, o)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ObservedAt.Before(out[j].ObservedAt) })
	return out, nil
}

// ObservationCount returns the number of stored observations.
func (s *Store) ObservationCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.observations)
}

// CachedWeather returns cached rows for coord with dates in [start, end].
func (s *Store) CachedWeather(_ context.Context, coord domain.Coordinate, start, end time.Time) ([]domain.WeatherDay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.WeatherDay
	for _, day := range domain.DaysBetween(start, end) {
		if d, ok := s.weather[weatherKey{coord: coord, date: domain.DateKey(day)}]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// UpsertWeather inserts rows whose (lat, lng, date) is not cached yet.
// Existing rows are never overwritten.
func (s *Store) UpsertWeather(_ context.Context, days []domain.WeatherDay) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range days {
		key := weatherKey{coord: d.Coordinate(), date: domain.DateKey(d.Date)}
		if _, ok := s.weather[key]; ok {
			continue
		}
		s.weather[key] = d
	}
	return nil
}

// SaveModel stores a new model version.
func (s *Store) SaveModel(_ context.Context, m domain.Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.models[m.ID]; ok {
		return fmt.Errorf("save model %s: already exists", m.ID)
	}
	if m.IsActive() {
		return fmt.Errorf("save model %s: new models must not be active", m.ID)
	}
	m.ContributingCompanies = slices.Clone(m.ContributingCompanies)
	s.models[m.ID] = m
	return nil
}

// ActivateModel marks the model active and supersedes the previous active
// model with the same key in one step.
func (s *Store) ActivateModel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.models[id]
	if !ok {
		return fmt.Errorf("activate model %s: %w", id, domain.ErrModelNotFound)
	}
	for otherID, other := range s.models {
		if otherID == id || !other.IsActive() || other.Key() != m.Key() {
			continue
		}
		if err := other.Supersede(); err != nil {
			return err
		}
		s.models[otherID] = other
	}
	if err := m.Activate(); err != nil {
		return err
	}
	s.models[id] = m
	return nil
}

// ActiveModel returns the active model for key.
func (s *Store) ActiveModel(_ context.Context, key domain.ModelKey) (domain.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.models {
		if m.IsActive() && m.Key() == key {
			return m, nil
		}
	}
	return domain.Model{}, fmt.Errorf("active model %s: %w", key, domain.ErrModelNotFound)
}

// ListModels returns every version for key, newest first.
func (s *Store) ListModels(_ context.Context, key domain.ModelKey) ([]domain.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Model
	for _, m := range s.models {
		if m.Key() == key {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

var _ domain.Store = (*Store)(nil)
