package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/couchcryptid/pest-pressure-pipeline/internal/domain"
)

type modelRow struct {
	ID                    string         `db:"id"`
	Scope                 string         `db:"scope"`
	ModelType             string         `db:"model_type"`
	PestType              string         `db:"pest_type"`
	Version               int64          `db:"version"`
	Parameters            []byte         `db:"parameters"`
	TrainingDataCount     int            `db:"training_data_count"`
	TrainingStart         time.Time      `db:"training_start"`
	TrainingEnd           time.Time      `db:"training_end"`
	AccuracyMetrics       []byte         `db:"accuracy_metrics"`
	TrainedAt             time.Time      `db:"trained_at"`
	Status                string         `db:"status"`
	ContributingCompanies pq.StringArray `db:"contributing_companies"`
}

const modelColumns = `
	id, scope, model_type, pest_type, version, parameters, training_data_count,
	training_start, training_end, accuracy_metrics, trained_at, status, contributing_companies`

func (r modelRow) toDomain() (domain.Model, error) {
	t := domain.ModelType(r.ModelType)
	params, err := domain.DecodeParameters(t, r.Parameters)
	if err != nil {
		return domain.Model{}, fmt.Errorf("model %s: %w", r.ID, err)
	}
	m := domain.Model{
		ID:                r.ID,
		Scope:             r.Scope,
		ModelType:         t,
		PestType:          r.PestType,
		Version:           r.Version,
		Parameters:        params,
		TrainingDataCount: r.TrainingDataCount,
		TrainingDateRange: domain.DateRange{Start: domain.Day(r.TrainingStart), End: domain.Day(r.TrainingEnd)},
		TrainedAt:         r.TrainedAt.UTC(),
		Status:            domain.ModelStatus(r.Status),
	}
	if len(r.ContributingCompanies) > 0 {
		m.ContributingCompanies = []string(r.ContributingCompanies)
	}
	if len(r.AccuracyMetrics) > 0 {
		var acc domain.AccuracyMetrics
		if err := json.Unmarshal(r.AccuracyMetrics, &acc); err != nil {
			return domain.Model{}, fmt.Errorf("model %s: decode accuracy metrics: %w", r.ID, err)
		}
		m.AccuracyMetrics = &acc
	}
	return m, nil
}

// SaveModel stores a new, inactive model version.
func (s *Store) SaveModel(ctx context.Context, m domain.Model) error {
	if m.IsActive() {
		return fmt.Errorf("save model %s: new models must not be active", m.ID)
	}
	params, err := domain.EncodeParameters(m.Parameters)
	if err != nil {
		return fmt.Errorf("save model %s: %w", m.ID, err)
	}
	var accuracy []byte
	if m.AccuracyMetrics != nil {
		if accuracy, err = json.Marshal(m.AccuracyMetrics); err != nil {
			return fmt.Errorf("save model %s: encode accuracy metrics: %w", m.ID, err)
		}
	}
	companies := m.ContributingCompanies
	if companies == nil {
		companies = []string{}
	}

	const query = `
		INSERT INTO prediction_models (` + modelColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::date, $9::date, $10, $11, $12, $13)`

	_, err = s.db.ExecContext(ctx, query,
		m.ID, m.Scope, string(m.ModelType), m.PestType, m.Version, params, m.TrainingDataCount,
		domain.DateKey(m.TrainingDateRange.Start), domain.DateKey(m.TrainingDateRange.End),
		accuracy, m.TrainedAt, string(m.Status), pq.Array(companies),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("save model %s: already exists", m.ID)
		}
		return fmt.Errorf("save model %s: %w", m.ID, err)
	}
	return nil
}

// ActivateModel marks the model active and supersedes the previous active
// model with the same key in one transaction.
func (s *Store) ActivateModel(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin activate model %s: %w", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	var key struct {
		Scope     string `db:"scope"`
		ModelType string `db:"model_type"`
		PestType  string `db:"pest_type"`
	}
	err = tx.GetContext(ctx, &key,
		`SELECT scope, model_type, pest_type FROM prediction_models WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("activate model %s: %w", id, domain.ErrModelNotFound)
	}
	if err != nil {
		return fmt.Errorf("activate model %s: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE prediction_models SET status = $1
		WHERE scope = $2 AND model_type = $3 AND pest_type = $4
		AND status = $5 AND id <> $6`,
		string(domain.ModelSuperseded), key.Scope, key.ModelType, key.PestType, string(domain.ModelActive), id,
	); err != nil {
		return fmt.Errorf("supersede active model for %s: %w", key.Scope, err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE prediction_models SET status = $1 WHERE id = $2`,
		string(domain.ModelActive), id,
	); err != nil {
		return fmt.Errorf("activate model %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit activate model %s: %w", id, err)
	}
	return nil
}

// ActiveModel returns the active model for key.
func (s *Store) ActiveModel(ctx context.Context, key domain.ModelKey) (domain.Model, error) {
	query := `SELECT ` + modelColumns + `
		FROM prediction_models
		WHERE scope = $1 AND model_type = $2 AND pest_type = $3 AND status = $4`

	var row modelRow
	err := s.db.GetContext(ctx, &row, query, key.Scope, string(key.ModelType), key.PestType, string(domain.ModelActive))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Model{}, fmt.Errorf("active model %s: %w", key, domain.ErrModelNotFound)
	}
	if err != nil {
		return domain.Model{}, fmt.Errorf("active model %s: %w", key, err)
	}
	return row.toDomain()
}

// ListModels returns every version for key, newest first.
func (s *Store) ListModels(ctx context.Context, key domain.ModelKey) ([]domain.Model, error) {
	query := `SELECT ` + modelColumns + `
		FROM prediction_models
		WHERE scope = $1 AND model_type = $2 AND pest_type = $3
		ORDER BY version DESC`

	var rows []modelRow
	if err := s.db.SelectContext(ctx, &rows, query, key.Scope, string(key.ModelType), key.PestType); err != nil {
		return nil, fmt.Errorf("list models %s: %w", key, err)
	}

	out := make([]domain.Model, 0, len(rows))
	for _, r := range rows {
		m, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
