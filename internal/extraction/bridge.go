package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/couchcryptid/pest-pressure-pipeline/internal/domain"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/observability"
)

// maxTranscriptChars bounds the prompt size, in bytes, sent to the LLM.
const maxTranscriptChars = 12000

const promptTemplate = `You analyze phone call transcripts for a pest control company.
Extract every pest the caller mentions and describe the situation.

Respond with JSON only, using exactly this shape:
{
  "pest_types": [{"pest_type": "string", "mentions_count": 1, "confidence": 0.0}],
  "urgency_level": 1,
  "infestation_severity": "minor | moderate | severe | critical | null",
  "extracted_context": {
    "symptoms": ["string"],
    "location_in_home": ["string"],
    "duration": "string",
    "customer_concerns": ["string"]
  },
  "overall_confidence": 0.0
}

Rules:
- pest_type is a common plural name such as "ants", "roaches", "bed bugs".
- mentions_count is how many times the pest is referenced.
- confidence and overall_confidence are between 0 and 1.
- urgency_level is 1 (routine) to 10 (emergency).
- If no pest is discussed, return an empty pest_types list.

Transcript:
%s`

// Bridge turns call transcripts into structured extractions using an LLM.
// It implements domain.TextExtractor and never returns an error: any failure
// degrades to domain.EmptyExtraction.
type Bridge struct {
	llm     domain.LLM
	dict    *domain.PestDictionary
	limiter *rate.Limiter
	opts    domain.GenerateOptions
	logger  *slog.Logger
	metrics *observability.Metrics
}

// BridgeOption customizes a Bridge.
type BridgeOption func(*Bridge)

// WithGenerateOptions overrides the LLM call options.
func WithGenerateOptions(opts domain.GenerateOptions) BridgeOption {
	return func(b *Bridge) { b.opts = opts }
}

// NewBridge creates an extraction bridge. callDelay is the minimum spacing
// between consecutive LLM calls; zero disables spacing.
func NewBridge(llm domain.LLM, dict *domain.PestDictionary, callDelay time.Duration, logger *slog.Logger, metrics *observability.Metrics, opts ...BridgeOption) *Bridge {
	limit := rate.Inf
	if callDelay > 0 {
		limit = rate.Every(callDelay)
	}
	b := &Bridge{
		llm:     llm,
		dict:    dict,
		limiter: rate.NewLimiter(limit, 1),
		opts: domain.GenerateOptions{
			JSONMode:        true,
			Temperature:     0.1,
			MaxOutputTokens: 1024,
			MaxRetries:      3,
		},
		logger:  logger,
		metrics: metrics,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Extract sends the transcript to the LLM and normalizes the response.
func (b *Bridge) Extract(ctx context.Context, transcript string) domain.Extraction {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		b.metrics.ExtractionOutcomes.WithLabelValues("empty").Inc()
		return domain.EmptyExtraction()
	}
	transcript = truncate(transcript, maxTranscriptChars)

	if err := b.limiter.Wait(ctx); err != nil {
		b.logger.Warn("extraction skipped, rate limiter wait failed", "error", err)
		b.metrics.ExtractionOutcomes.WithLabelValues("failed").Inc()
		return domain.EmptyExtraction()
	}

	gen, err := b.llm.Generate(ctx, fmt.Sprintf(promptTemplate, transcript), b.opts)
	if err != nil {
		b.logger.Warn("llm extraction failed", "error", err)
		b.metrics.ExtractionOutcomes.WithLabelValues("failed").Inc()
		return domain.EmptyExtraction()
	}
	b.recordUsage(gen.Usage)

	out, err := b.parse(gen.Text)
	if err != nil {
		b.logger.Warn("llm extraction returned unusable output", "error", err)
		b.metrics.ExtractionOutcomes.WithLabelValues("failed").Inc()
		empty := domain.EmptyExtraction()
		empty.Usage = gen.Usage
		return empty
	}
	out.Usage = gen.Usage

	outcome := "extracted"
	if len(out.PestTypes) == 0 {
		outcome = "empty"
	}
	b.metrics.ExtractionOutcomes.WithLabelValues(outcome).Inc()
	return out
}

func (b *Bridge) recordUsage(u domain.Usage) {
	b.metrics.LLMTokens.WithLabelValues("in").Add(float64(u.TokensIn))
	b.metrics.LLMTokens.WithLabelValues("out").Add(float64(u.TokensOut))
	b.metrics.LLMCostCents.Add(u.CostCents.InexactFloat64())
}

// LLM response shape. Numbers are decoded as float64 so "3.0" style output
// is accepted and then rounded.
type rawExtraction struct {
	PestTypes []struct {
		PestType      string   `json:"pest_type"`
		MentionsCount *float64 `json:"mentions_count"`
		Confidence    *float64 `json:"confidence"`
	} `json:"pest_types"`
	UrgencyLevel        *float64 `json:"urgency_level"`
	InfestationSeverity *string  `json:"infestation_severity"`
	ExtractedContext    struct {
		Symptoms         []string `json:"symptoms"`
		LocationInHome   []string `json:"location_in_home"`
		Duration         string   `json:"duration"`
		CustomerConcerns []string `json:"customer_concerns"`
	} `json:"extracted_context"`
	OverallConfidence *float64 `json:"overall_confidence"`
}

var errNoJSON = errors.New("no JSON object in response")

func (b *Bridge) parse(text string) (domain.Extraction, error) {
	body, err := jsonObject(text)
	if err != nil {
		return domain.Extraction{}, err
	}
	var raw rawExtraction
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return domain.Extraction{}, fmt.Errorf("decode extraction: %w", err)
	}

	out := domain.EmptyExtraction()
	out.PestTypes = b.mergePests(raw)

	if raw.UrgencyLevel != nil {
		out.UrgencyLevel = int(clamp(math.Round(*raw.UrgencyLevel), 1, 10))
	}
	if raw.InfestationSeverity != nil {
		if sev, ok := domain.ParseSeverity(strings.ToLower(strings.TrimSpace(*raw.InfestationSeverity))); ok {
			out.InfestationSeverity = &sev
		}
	}
	out.Context = domain.ExtractedContext{
		Symptoms:         compact(raw.ExtractedContext.Symptoms),
		LocationInHome:   compact(raw.ExtractedContext.LocationInHome),
		Duration:         strings.TrimSpace(raw.ExtractedContext.Duration),
		CustomerConcerns: compact(raw.ExtractedContext.CustomerConcerns),
	}

	switch {
	case raw.OverallConfidence != nil:
		out.OverallConfidence = clamp(*raw.OverallConfidence, 0, 1)
	case len(out.PestTypes) > 0:
		var sum float64
		for _, p := range out.PestTypes {
			sum += p.Confidence
		}
		out.OverallConfidence = sum / float64(len(out.PestTypes))
	}
	return out, nil
}

// mergePests normalizes pest names and folds duplicates, summing mentions
// and keeping the highest confidence. Order of first appearance is kept.
func (b *Bridge) mergePests(raw rawExtraction) []domain.PestMention {
	merged := []domain.PestMention{}
	index := make(map[string]int)
	for _, p := range raw.PestTypes {
		name := b.dict.Normalize(p.PestType)
		if name == "" {
			continue
		}
		mentions := 1
		if p.MentionsCount != nil {
			mentions = int(math.Max(1, math.Round(*p.MentionsCount)))
		}
		confidence := 0.5
		if p.Confidence != nil {
			confidence = clamp(*p.Confidence, 0, 1)
		}

		if i, ok := index[name]; ok {
			merged[i].MentionsCount += mentions
			merged[i].Confidence = math.Max(merged[i].Confidence, confidence)
			continue
		}
		index[name] = len(merged)
		merged = append(merged, domain.PestMention{PestType: name, MentionsCount: mentions, Confidence: confidence})
	}
	return merged
}

// jsonObject strips markdown fences and surrounding prose from an LLM reply.
func jsonObject(text string) (string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return "", errNoJSON
	}
	return text[start : end+1], nil
}

func compact(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(hi, math.Max(lo, v))
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
