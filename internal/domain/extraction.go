package domain

// PestMention is one pest type the extraction bridge found in a transcript.
type PestMention struct {
	PestType      string  `json:"pest_type"`
	MentionsCount int     `json:"mentions_count"`
	Confidence    float64 `json:"confidence"`
}

// ExtractedContext holds optional free-text details pulled from a transcript.
type ExtractedContext struct {
	Symptoms         []string `json:"symptoms,omitempty"`
	LocationInHome   []string `json:"location_in_home,omitempty"`
	Duration         string   `json:"duration,omitempty"`
	CustomerConcerns []string `json:"customer_concerns,omitempty"`
}

// Extraction is the structured output of the text extraction bridge. All
// numeric fields are already clamped into their valid ranges.
type Extraction struct {
	PestTypes           []PestMention    `json:"pest_types"`
	UrgencyLevel        int              `json:"urgency_level"`
	InfestationSeverity *Severity        `json:"infestation_severity,omitempty"`
	Context             ExtractedContext `json:"extracted_context"`
	OverallConfidence   float64          `json:"overall_confidence"`

	// Usage is the LLM spend behind this extraction; zero when no call was made.
	Usage Usage `json:"-"`
}

// DefaultUrgency is the urgency assumed when a signal carries none.
const DefaultUrgency = 5

// EmptyExtraction is the conservative result returned whenever extraction
// fails. Zero pest types means "nothing extracted", not an error.
func EmptyExtraction() Extraction {
	return Extraction{
		PestTypes:         []PestMention{},
		UrgencyLevel:      DefaultUrgency,
		OverallConfidence: 0,
	}
}
