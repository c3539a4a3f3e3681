package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/couchcryptid/pest-pressure-pipeline/internal/domain"
)

type observationRow struct {
	ID                  string          `db:"id"`
	CompanyID           string          `db:"company_id"`
	SourceType          string          `db:"source_type"`
	SourceID            string          `db:"source_id"`
	PestType            string          `db:"pest_type"`
	MentionsCount       int             `db:"mentions_count"`
	UrgencyLevel        sql.NullInt64   `db:"urgency_level"`
	InfestationSeverity sql.NullString  `db:"infestation_severity"`
	ConfidenceScore     float64         `db:"confidence_score"`
	ObservedAt          time.Time       `db:"observed_at"`
	Lat                 sql.NullFloat64 `db:"lat"`
	Lng                 sql.NullFloat64 `db:"lng"`
	City                string          `db:"city"`
	State               string          `db:"state"`
	Zip                 string          `db:"zip"`
}

func newObservationRow(obs domain.Observation) observationRow {
	r := observationRow{
		ID:              obs.ID,
		CompanyID:       obs.CompanyID,
		SourceType:      string(obs.SourceType),
		SourceID:        obs.SourceID,
		PestType:        obs.PestType,
		MentionsCount:   obs.MentionsCount,
		ConfidenceScore: obs.ConfidenceScore,
		ObservedAt:      obs.ObservedAt,
		City:            obs.Location.City,
		State:           obs.Location.State,
		Zip:             obs.Location.Zip,
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if obs.Location.HasCoordinates() {
		r.Lat = sql.NullFloat64{Float64: obs.Location.Lat, Valid: true}
		r.Lng = sql.NullFloat64{Float64: obs.Location.Lng, Valid: true}
	}
	if obs.UrgencyLevel != nil {
		r.UrgencyLevel = sql.NullInt64{Int64: int64(*obs.UrgencyLevel), Valid: true}
	}
	if obs.InfestationSeverity != nil {
		r.InfestationSeverity = sql.NullString{String: string(*obs.InfestationSeverity), Valid: true}
	}
	return r
}

func (r observationRow) toDomain() domain.Observation {
	obs := domain.Observation{
		ID:              r.ID,
		CompanyID:       r.CompanyID,
		SourceType:      domain.SourceType(r.SourceType),
		SourceID:        r.SourceID,
		PestType:        r.PestType,
		MentionsCount:   r.MentionsCount,
		ConfidenceScore: r.ConfidenceScore,
		ObservedAt:      r.ObservedAt.UTC(),
		Location: domain.Location{
			City:  r.City,
			State: r.State,
			Zip:   r.Zip,
			Lat:   r.Lat.Float64,
			Lng:   r.Lng.Float64,
		},
	}
	if r.UrgencyLevel.Valid {
		u := int(r.UrgencyLevel.Int64)
		obs.UrgencyLevel = &u
	}
	if r.InfestationSeverity.Valid {
		sev := domain.Severity(r.InfestationSeverity.String)
		obs.InfestationSeverity = &sev
	}
	return obs
}

// InsertObservation inserts obs. A dedup key conflict is reported as
// domain.ErrDuplicateObservation.
func (s *Store) InsertObservation(ctx context.Context, obs domain.Observation) error {
	const query = `
		INSERT INTO pest_observations (
			id, company_id, source_type, source_id, pest_type, mentions_count,
			city, state, zip, lat, lng,
			urgency_level, infestation_severity, confidence_score, observed_at
		) VALUES (
			:id, :company_id, :source_type, :source_id, :pest_type, :mentions_count,
			:city, :state, :zip, :lat, :lng,
			:urgency_level, :infestation_severity, :confidence_score, :observed_at
		)`

	if _, err := s.db.NamedExecContext(ctx, query, newObservationRow(obs)); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert observation %s/%s/%s: %w", obs.SourceType, obs.SourceID, obs.PestType, domain.ErrDuplicateObservation)
		}
		return fmt.Errorf("insert observation %s/%s: %w", obs.SourceType, obs.SourceID, err)
	}
	return nil
}

// Observations returns observations inside scope observed within [start, end].
// An empty pestType matches every pest.
func (s *Store) Observations(ctx context.Context, scope domain.Scope, pestType string, start, end time.Time) ([]domain.Observation, error) {
	where, args := scopeFilter(scope)
	args = append(args, start, end)
	where = append(where, fmt.Sprintf("observed_at BETWEEN $%d AND $%d", len(args)-1, len(args)))
	if pestType != "" {
		args = append(args, pestType)
		where = append(where, "pest_type = $"+strconv.Itoa(len(args)))
	}

	query := `
		SELECT id, company_id, source_type, source_id, pest_type, mentions_count,
			city, state, zip, lat, lng,
			urgency_level, infestation_severity, confidence_score, observed_at
		FROM pest_observations
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY observed_at, id`

	var rows []observationRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query observations for %s: %w", scope.Key(), err)
	}

	out := make([]domain.Observation, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

// scopeFilter renders the scope's predicate with positional arguments
// starting at $1. Geographic comparisons ignore case.
func scopeFilter(scope domain.Scope) ([]string, []any) {
	switch scope.Kind {
	case domain.ScopeCompany:
		return []string{"company_id = $1"}, []any{scope.CompanyID}
	case domain.ScopeState:
		return []string{"upper(state) = upper($1)"}, []any{scope.State}
	case domain.ScopeCity:
		return []string{"upper(state) = upper($1)", "lower(city) = lower($2)"}, []any{scope.State, scope.City}
	case domain.ScopeRegion:
		states := make([]string, len(scope.States))
		for i, st := range scope.States {
			states[i] = strings.ToUpper(st)
		}
		return []string{"upper(state) = ANY($1)"}, []any{pq.Array(states)}
	default:
		return []string{"TRUE"}, nil
	}
}
