package extraction

import (
	"context"
	"regexp"
	"strings"

	"github.com/couchcryptid/pest-pressure-pipeline/internal/domain"
)

const (
	// KeywordConfidence is assigned to pests found by dictionary keyword match.
	KeywordConfidence = 0.8
	// GeneralIssueConfidence is assigned to the generic fallback pest type.
	GeneralIssueConfidence = 0.5
	// UrgentKeywordLevel is the urgency implied by words like "emergency".
	UrgentKeywordLevel = 8
)

var urgentRe = regexp.MustCompile(`(?i)\b(emergency|urgent|urgently|asap|immediately|infestation|infested|swarming)\b`)

// KeywordExtractor finds pests in short free text (form issue fields, lead
// notes) without calling an LLM.
type KeywordExtractor struct {
	dict *domain.PestDictionary
}

// NewKeywordExtractor creates a keyword extractor over the dictionary.
func NewKeywordExtractor(dict *domain.PestDictionary) *KeywordExtractor {
	return &KeywordExtractor{dict: dict}
}

// Pests returns one mention per matched canonical pest type. Text that
// matches no keyword but is not blank yields a single general_pest_issue
// mention; blank text yields nothing.
func (k *KeywordExtractor) Pests(text string) []domain.PestMention {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	matches := k.dict.MatchKeywords(text)
	if len(matches) == 0 {
		return []domain.PestMention{{
			PestType:      domain.GeneralPestIssue,
			MentionsCount: 1,
			Confidence:    GeneralIssueConfidence,
		}}
	}
	out := make([]domain.PestMention, len(matches))
	for i, m := range matches {
		out[i] = domain.PestMention{PestType: m.PestType, MentionsCount: m.Mentions, Confidence: KeywordConfidence}
	}
	return out
}

// Urgency returns the urgency of a form: the explicit value when present
// (clamped to 1..10), UrgentKeywordLevel when the text reads as urgent,
// otherwise nil.
func (k *KeywordExtractor) Urgency(explicit *int, text string) *int {
	if explicit != nil {
		v := *explicit
		v = max(1, min(10, v))
		return &v
	}
	if urgentRe.MatchString(text) {
		v := UrgentKeywordLevel
		return &v
	}
	return nil
}

// Extract lets the keyword matcher stand in for the LLM bridge on call
// transcripts. Only dictionary matches count; an unmatched transcript
// extracts nothing.
func (k *KeywordExtractor) Extract(_ context.Context, transcript string) domain.Extraction {
	ext := domain.EmptyExtraction()
	matches := k.dict.MatchKeywords(transcript)
	if len(matches) == 0 {
		return ext
	}
	for _, m := range matches {
		ext.PestTypes = append(ext.PestTypes, domain.PestMention{PestType: m.PestType, MentionsCount: m.Mentions, Confidence: KeywordConfidence})
	}
	if u := k.Urgency(nil, transcript); u != nil {
		ext.UrgencyLevel = *u
	}
	ext.OverallConfidence = KeywordConfidence
	return ext
}
