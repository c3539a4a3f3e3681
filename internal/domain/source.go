package domain

import "time"

// CallRecord is an inbound call as stored by the call-tracking integration.
type CallRecord struct {
	ID         string
	CompanyID  string
	Transcript *string
	Location   Location
	CreatedAt  time.Time
}

// FormData is the normalized payload of a processed form submission.
type FormData struct {
	IssueDescription string  `json:"issue_description"`
	PestType         string  `json:"pest_type,omitempty"`
	Urgency          *int    `json:"urgency,omitempty"`
	City             string  `json:"city,omitempty"`
	State            string  `json:"state,omitempty"`
	Zip              string  `json:"zip,omitempty"`
	Lat              float64 `json:"lat,omitempty"`
	Lng              float64 `json:"lng,omitempty"`
}

// Location returns the location carried by the form payload.
func (f FormData) Location() Location {
	return Location{City: f.City, State: f.State, Zip: f.Zip, Lat: f.Lat, Lng: f.Lng}
}

// IssueText joins the free-text fields a keyword matcher should scan.
func (f FormData) IssueText() string {
	switch {
	case f.PestType == "":
		return f.IssueDescription
	case f.IssueDescription == "":
		return f.PestType
	default:
		return f.PestType + " " + f.IssueDescription
	}
}

// FormSubmission is a successfully processed widget form submission.
type FormSubmission struct {
	ID          string
	CompanyID   string
	Data        FormData
	SubmittedAt time.Time
}

// LeadRecord is a CRM lead. CallID and FormID link it to a richer source.
type LeadRecord struct {
	ID        string
	CompanyID string
	CallID    *string
	FormID    *string
	Notes     string
	Location  Location
	CreatedAt time.Time
}

// Orphaned reports whether the lead has no richer source record.
func (l LeadRecord) Orphaned() bool {
	return l.CallID == nil && l.FormID == nil
}
