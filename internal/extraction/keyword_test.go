package extraction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/pest-pressure-pipeline/internal/domain"
)

func TestKeywordExtractor_Pests(t *testing.T) {
	k := NewKeywordExtractor(domain.DefaultPestDictionary())

	got := k.Pests("Roaches in the kitchen and a mouse in the garage")
	assert.Equal(t, []domain.PestMention{
		{PestType: "mice", MentionsCount: 1, Confidence: KeywordConfidence},
		{PestType: "roaches", MentionsCount: 1, Confidence: KeywordConfidence},
	}, got)
}

func TestKeywordExtractor_GeneralIssueFallback(t *testing.T) {
	k := NewKeywordExtractor(domain.DefaultPestDictionary())

	got := k.Pests("something is chewing on my deck")
	require.Len(t, got, 1)
	assert.Equal(t, domain.GeneralPestIssue, got[0].PestType)
	assert.InDelta(t, GeneralIssueConfidence, got[0].Confidence, 1e-9)

	assert.Empty(t, k.Pests("   "))
}

func TestKeywordExtractor_Urgency(t *testing.T) {
	k := NewKeywordExtractor(domain.DefaultPestDictionary())

	explicit := 12
	got := k.Urgency(&explicit, "")
	require.NotNil(t, got)
	assert.Equal(t, 10, *got)

	got = k.Urgency(nil, "Need someone ASAP, wasps by the door")
	require.NotNil(t, got)
	assert.Equal(t, UrgentKeywordLevel, *got)

	assert.Nil(t, k.Urgency(nil, "routine quarterly service"))
}

func TestKeywordExtractor_ExtractTranscript(t *testing.T) {
	var _ domain.TextExtractor = (*KeywordExtractor)(nil)
	k := NewKeywordExtractor(domain.DefaultPestDictionary())

	ext := k.Extract(context.Background(), "We have termites in the crawl space, need someone asap")
	require.Len(t, ext.PestTypes, 1)
	assert.Equal(t, "termites", ext.PestTypes[0].PestType)
	assert.Equal(t, UrgentKeywordLevel, ext.UrgencyLevel)
	assert.InDelta(t, KeywordConfidence, ext.OverallConfidence, 1e-9)

	none := k.Extract(context.Background(), "calling to reschedule my appointment")
	assert.Empty(t, none.PestTypes, "transcripts never fall back to a general issue")
	assert.Zero(t, none.OverallConfidence)
	assert.Equal(t, domain.DefaultUrgency, none.UrgencyLevel)
}
