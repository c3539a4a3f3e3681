// Package aggregate turns raw call, form, and lead records into canonical,
// deduplicated observations.
package aggregate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/couchcryptid/pest-pressure-pipeline/internal/domain"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/extraction"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/observability"
)

// LeadConfidenceFactor scales keyword confidence for lead notes, the
// thinnest source.
const LeadConfidenceFactor = 0.6

// Result counts the outcome of one aggregation run.
type Result struct {
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`

	Calls int `json:"calls_processed"`
	Forms int `json:"forms_processed"`
	Leads int `json:"leads_processed"`

	Usage domain.Usage `json:"llm_usage"`
}

// Aggregator reads one company's source records for a window and writes an
// observation per (source record, pest type). Duplicate writes are skips;
// other write failures are counted and the run continues.
type Aggregator struct {
	sources      domain.SourceReader
	store        domain.ObservationStore
	extractor    domain.TextExtractor
	keywords     *extraction.KeywordExtractor
	geocoder     domain.Geocoder
	leadFallback bool
	newID        func() string
	logger       *slog.Logger
	metrics      *observability.Metrics
}

// Option customizes an Aggregator.
type Option func(*Aggregator)

// WithGeocoder fills missing coordinates or state on observation locations.
func WithGeocoder(g domain.Geocoder) Option {
	return func(a *Aggregator) { a.geocoder = g }
}

// WithLeadFallback enables the lead phase for leads with no linked call or form.
func WithLeadFallback(enabled bool) Option {
	return func(a *Aggregator) { a.leadFallback = enabled }
}

// WithIDGenerator overrides observation id generation.
func WithIDGenerator(fn func() string) Option {
	return func(a *Aggregator) { a.newID = fn }
}

// New creates an Aggregator.
func New(sources domain.SourceReader, store domain.ObservationStore, extractor domain.TextExtractor, keywords *extraction.KeywordExtractor, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Aggregator {
	a := &Aggregator{
		sources:   sources,
		store:     store,
		extractor: extractor,
		keywords:  keywords,
		newID:     uuid.NewString,
		logger:    logger,
		metrics:   metrics,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run aggregates companyID's records created within [start, end]. Calls are
// processed first, then forms, then (when enabled) orphaned leads. The only
// error returned is context cancellation; every other failure is counted.
func (a *Aggregator) Run(ctx context.Context, companyID string, start, end time.Time) (Result, error) {
	var res Result
	log := a.logger.With("company_id", companyID, "start", start, "end", end)

	a.processCalls(ctx, log, companyID, start, end, &res)
	if err := ctx.Err(); err != nil {
		return res, err
	}
	a.processForms(ctx, log, companyID, start, end, &res)
	if err := ctx.Err(); err != nil {
		return res, err
	}
	if a.leadFallback {
		a.processLeads(ctx, log, companyID, start, end, &res)
		if err := ctx.Err(); err != nil {
			return res, err
		}
	}

	log.Info("aggregation complete",
		"inserted", res.Inserted,
		"skipped", res.Skipped,
		"errors", res.Errors,
		"calls", res.Calls,
		"forms", res.Forms,
		"leads", res.Leads,
		"llm_cost_cents", res.Usage.CostCents.String(),
	)
	return res, nil
}

func (a *Aggregator) processCalls(ctx context.Context, log *slog.Logger, companyID string, start, end time.Time, res *Result) {
	calls, err := a.sources.CallsWithTranscripts(ctx, companyID, start, end)
	if err != nil {
		log.Error("read calls failed", "error", err)
		res.Errors++
		return
	}

	for _, call := range calls {
		if ctx.Err() != nil {
			return
		}
		if call.Transcript == nil {
			continue
		}
		res.Calls++

		ext := a.extractor.Extract(ctx, *call.Transcript)
		res.Usage = res.Usage.Add(ext.Usage)
		if len(ext.PestTypes) == 0 {
			continue
		}

		loc := domain.EnrichLocation(ctx, call.Location, a.geocoder, log)
		urgency := ext.UrgencyLevel
		for _, p := range ext.PestTypes {
			a.insert(ctx, log, res, domain.Observation{
				ID:                  a.newID(),
				CompanyID:           companyID,
				SourceType:          domain.SourceCall,
				SourceID:            call.ID,
				PestType:            p.PestType,
				MentionsCount:       p.MentionsCount,
				Location:            loc,
				UrgencyLevel:        &urgency,
				InfestationSeverity: ext.InfestationSeverity,
				ConfidenceScore:     p.Confidence,
				ObservedAt:          call.CreatedAt,
			})
		}
	}
}

func (a *Aggregator) processForms(ctx context.Context, log *slog.Logger, companyID string, start, end time.Time, res *Result) {
	forms, err := a.sources.ProcessedForms(ctx, companyID, start, end)
	if err != nil {
		log.Error("read forms failed", "error", err)
		res.Errors++
		return
	}

	for _, form := range forms {
		if ctx.Err() != nil {
			return
		}
		res.Forms++

		text := form.Data.IssueText()
		pests := a.keywords.Pests(text)
		if len(pests) == 0 {
			continue
		}
		urgency := a.keywords.Urgency(form.Data.Urgency, text)
		loc := domain.EnrichLocation(ctx, form.Data.Location(), a.geocoder, log)
		for _, p := range pests {
			a.insert(ctx, log, res, domain.Observation{
				ID:              a.newID(),
				CompanyID:       companyID,
				SourceType:      domain.SourceForm,
				SourceID:        form.ID,
				PestType:        p.PestType,
				MentionsCount:   p.MentionsCount,
				Location:        loc,
				UrgencyLevel:    urgency,
				ConfidenceScore: p.Confidence,
				ObservedAt:      form.SubmittedAt,
			})
		}
	}
}

// processLeads handles leads that no call or form explains.
func (a *Aggregator) processLeads(ctx context.Context, log *slog.Logger, companyID string, start, end time.Time, res *Result) {
	leads, err := a.sources.Leads(ctx, companyID, start, end)
	if err != nil {
		log.Error("read leads failed", "error", err)
		res.Errors++
		return
	}

	for _, lead := range leads {
		if ctx.Err() != nil {
			return
		}
		if !lead.Orphaned() {
			continue
		}
		res.Leads++

		pests := a.keywords.Pests(lead.Notes)
		if len(pests) == 0 {
			continue
		}
		urgency := a.keywords.Urgency(nil, lead.Notes)
		loc := domain.EnrichLocation(ctx, lead.Location, a.geocoder, log)
		for _, p := range pests {
			a.insert(ctx, log, res, domain.Observation{
				ID:              a.newID(),
				CompanyID:       companyID,
				SourceType:      domain.SourceLead,
				SourceID:        lead.ID,
				PestType:        p.PestType,
				MentionsCount:   p.MentionsCount,
				Location:        loc,
				UrgencyLevel:    urgency,
				ConfidenceScore: p.Confidence * LeadConfidenceFactor,
				ObservedAt:      lead.CreatedAt,
			})
		}
	}
}

func (a *Aggregator) insert(ctx context.Context, log *slog.Logger, res *Result, obs domain.Observation) {
	source := string(obs.SourceType)
	err := a.store.InsertObservation(ctx, obs)
	switch {
	case err == nil:
		res.Inserted++
		a.metrics.ObservationsInserted.WithLabelValues(source).Inc()
	case errors.Is(err, domain.ErrDuplicateObservation):
		res.Skipped++
		a.metrics.ObservationsSkipped.WithLabelValues(source).Inc()
	default:
		res.Errors++
		a.metrics.ObservationErrors.WithLabelValues(source).Inc()
		log.Error("insert observation failed",
			"source_type", source,
			"source_id", obs.SourceID,
			"pest_type", obs.PestType,
			"error", err,
		)
	}
}
