package domain

import (
	"time"
)

// SourceType identifies the channel an observation was derived from.
type SourceType string

const (
	SourceCall   SourceType = "call"
	SourceForm   SourceType = "form"
	SourceLead   SourceType = "lead"
	SourceManual SourceType = "manual"
)

// Severity is the infestation severity reported or inferred for a signal.
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
	SeverityCritical Severity = "critical"
)

// ParseSeverity returns the severity for s, or false when s is not one of
// the four known levels.
func ParseSeverity(s string) (Severity, bool) {
	switch Severity(s) {
	case SeverityMinor, SeverityModerate, SeveritySevere, SeverityCritical:
		return Severity(s), true
	default:
		return "", false
	}
}

// GeneralPestIssue is the pest type recorded when a form describes a problem
// that matches no known pest keyword.
const GeneralPestIssue = "general_pest_issue"

// Location is where a signal originated. Lat/Lng are zero when unknown.
type Location struct {
	City  string  `json:"city,omitempty"`
	State string  `json:"state,omitempty"`
	Zip   string  `json:"zip,omitempty"`
	Lat   float64 `json:"lat,omitempty"`
	Lng   float64 `json:"lng,omitempty"`
}

// HasCoordinates reports whether the location carries a usable lat/lng pair.
func (l Location) HasCoordinates() bool {
	return l.Lat != 0 || l.Lng != 0
}

// Coordinate returns the rounded coordinate used for weather lookups.
func (l Location) Coordinate() Coordinate {
	return NewCoordinate(l.Lat, l.Lng)
}

// Observation is a canonical pest-pressure data point. It is created from
// exactly one upstream source record and never mutated afterwards.
type Observation struct {
	ID                  string     `json:"id"`
	CompanyID           string     `json:"company_id"`
	SourceType          SourceType `json:"source_type"`
	SourceID            string     `json:"source_id"`
	PestType            string     `json:"pest_type"`
	MentionsCount       int        `json:"mentions_count"`
	Location            Location   `json:"location"`
	UrgencyLevel        *int       `json:"urgency_level,omitempty"`
	InfestationSeverity *Severity  `json:"infestation_severity,omitempty"`
	ConfidenceScore     float64    `json:"confidence_score"`
	ObservedAt          time.Time  `json:"observed_at"`
}

// DedupKey identifies an observation for idempotent inserts.
type DedupKey struct {
	CompanyID  string
	SourceType SourceType
	SourceID   string
	PestType   string
}

// Key returns the observation's dedup key.
func (o Observation) Key() DedupKey {
	return DedupKey{
		CompanyID:  o.CompanyID,
		SourceType: o.SourceType,
		SourceID:   o.SourceID,
		PestType:   o.PestType,
	}
}

// Day truncates t to its UTC calendar date.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DateKey formats t as the YYYY-MM-DD calendar date used for grouping.
func DateKey(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

// DaysBetween returns every calendar date from start to end inclusive.
func DaysBetween(start, end time.Time) []time.Time {
	start, end = Day(start), Day(end)
	if end.Before(start) {
		return nil
	}
	days := make([]time.Time, 0, int(end.Sub(start).Hours()/24)+1)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}
