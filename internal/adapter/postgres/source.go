package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/couchcryptid/pest-pressure-pipeline/internal/domain"
)

type locationColumns struct {
	City  string  `db:"city"`
	State string  `db:"state"`
	Zip   string  `db:"zip"`
	Lat   float64 `db:"lat"`
	Lng   float64 `db:"lng"`
}

func (l locationColumns) toDomain() domain.Location {
	return domain.Location{City: l.City, State: l.State, Zip: l.Zip, Lat: l.Lat, Lng: l.Lng}
}

type callRow struct {
	ID         string    `db:"id"`
	CompanyID  string    `db:"company_id"`
	Transcript string    `db:"transcript"`
	CreatedAt  time.Time `db:"created_at"`
	locationColumns
}

type formRow struct {
	ID          string    `db:"id"`
	CompanyID   string    `db:"company_id"`
	Data        []byte    `db:"data"`
	SubmittedAt time.Time `db:"submitted_at"`
}

type leadRow struct {
	ID        string         `db:"id"`
	CompanyID string         `db:"company_id"`
	CallID    sql.NullString `db:"call_id"`
	FormID    sql.NullString `db:"form_id"`
	Notes     string         `db:"notes"`
	CreatedAt time.Time      `db:"created_at"`
	locationColumns
}

// CallsWithTranscripts returns the company's transcribed calls in the window.
func (s *Store) CallsWithTranscripts(ctx context.Context, companyID string, start, end time.Time) ([]domain.CallRecord, error) {
	const query = `
		SELECT id, company_id, transcript, created_at,
			city, state, zip, COALESCE(lat, 0) AS lat, COALESCE(lng, 0) AS lng
		FROM calls
		WHERE company_id = $1
		AND transcript IS NOT NULL
		AND created_at BETWEEN $2 AND $3
		ORDER BY created_at`

	var rows []callRow
	if err := s.db.SelectContext(ctx, &rows, query, companyID, start, end); err != nil {
		return nil, fmt.Errorf("query calls for %s: %w", companyID, err)
	}

	out := make([]domain.CallRecord, len(rows))
	for i, r := range rows {
		transcript := r.Transcript
		out[i] = domain.CallRecord{
			ID:         r.ID,
			CompanyID:  r.CompanyID,
			Transcript: &transcript,
			Location:   r.toDomain(),
			CreatedAt:  r.CreatedAt,
		}
	}
	return out, nil
}

// ProcessedForms returns the company's successfully processed submissions in the window.
func (s *Store) ProcessedForms(ctx context.Context, companyID string, start, end time.Time) ([]domain.FormSubmission, error) {
	const query = `
		SELECT id, company_id, data, submitted_at
		FROM form_submissions
		WHERE company_id = $1
		AND status = 'processed'
		AND submitted_at BETWEEN $2 AND $3
		ORDER BY submitted_at`

	var rows []formRow
	if err := s.db.SelectContext(ctx, &rows, query, companyID, start, end); err != nil {
		return nil, fmt.Errorf("query form submissions for %s: %w", companyID, err)
	}

	out := make([]domain.FormSubmission, 0, len(rows))
	for _, r := range rows {
		var data domain.FormData
		if err := json.Unmarshal(r.Data, &data); err != nil {
			s.logger.Warn("skipping form with malformed data", "form_id", r.ID, "company_id", r.CompanyID, "error", err)
			continue
		}
		out = append(out, domain.FormSubmission{
			ID:          r.ID,
			CompanyID:   r.CompanyID,
			Data:        data,
			SubmittedAt: r.SubmittedAt,
		})
	}
	return out, nil
}

// Leads returns the company's leads in the window.
func (s *Store) Leads(ctx context.Context, companyID string, start, end time.Time) ([]domain.LeadRecord, error) {
	const query = `
		SELECT id, company_id, call_id, form_id, notes, created_at,
			city, state, zip, COALESCE(lat, 0) AS lat, COALESCE(lng, 0) AS lng
		FROM leads
		WHERE company_id = $1
		AND created_at BETWEEN $2 AND $3
		ORDER BY created_at`

	var rows []leadRow
	if err := s.db.SelectContext(ctx, &rows, query, companyID, start, end); err != nil {
		return nil, fmt.Errorf("query leads for %s: %w", companyID, err)
	}

	out := make([]domain.LeadRecord, len(rows))
	for i, r := range rows {
		out[i] = domain.LeadRecord{
			ID:        r.ID,
			CompanyID: r.CompanyID,
			CallID:    nullableString(r.CallID),
			FormID:    nullableString(r.FormID),
			Notes:     r.Notes,
			Location:  r.toDomain(),
			CreatedAt: r.CreatedAt,
		}
	}
	return out, nil
}

func nullableString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}
