package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"

	"github.com/couchcryptid/pest-pressure-pipeline/internal/domain"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/observability"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Pricing is the per-million-token price of a model in US cents.
type Pricing struct {
	InputCentsPerMillion  decimal.Decimal
	OutputCentsPerMillion decimal.Decimal
}

// DefaultPricing matches gemini-1.5-flash list prices ($0.075 / $0.30 per 1M tokens).
var DefaultPricing = Pricing{
	InputCentsPerMillion:  decimal.RequireFromString("7.5"),
	OutputCentsPerMillion: decimal.RequireFromString("30"),
}

var million = decimal.NewFromInt(1_000_000)

// Cost returns the cost in cents of a call with the given token counts.
func (p Pricing) Cost(tokensIn, tokensOut int) decimal.Decimal {
	in := decimal.NewFromInt(int64(tokensIn)).Mul(p.InputCentsPerMillion)
	out := decimal.NewFromInt(int64(tokensOut)).Mul(p.OutputCentsPerMillion)
	return in.Add(out).Div(million)
}

// Client implements domain.LLM using the Gemini generateContent API.
type Client struct {
	apiKey         string
	model          string
	baseURL        string
	httpClient     *http.Client
	pricing        Pricing
	initialBackoff time.Duration
	logger         *slog.Logger
	metrics        *observability.Metrics
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API root.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithPricing sets the token prices used for cost accounting.
func WithPricing(p Pricing) Option {
	return func(c *Client) { c.pricing = p }
}

// WithInitialBackoff sets the first retry delay; later delays grow exponentially.
func WithInitialBackoff(d time.Duration) Option {
	return func(c *Client) { c.initialBackoff = d }
}

// NewClient creates a Gemini client.
func NewClient(apiKey, model string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		pricing:        DefaultPricing,
		initialBackoff: time.Second,
		logger:         logger,
		metrics:        metrics,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StatusError is a non-200 response from the API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gemini API error: status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth retrying.
func (e *StatusError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable:
		return true
	default:
		return false
	}
}

// Generate sends the prompt and returns the first candidate's text. Failures
// with status 429, 500 or 503 and transport errors are retried up to
// opts.MaxRetries times with exponential backoff.
func (c *Client) Generate(ctx context.Context, prompt string, opts domain.GenerateOptions) (domain.Generation, error) {
	body, err := json.Marshal(c.buildRequest(prompt, opts))
	if err != nil {
		return domain.Generation{}, fmt.Errorf("encode request: %w", err)
	}

	var gen domain.Generation
	attempt := 0
	op := func() error {
		attempt++
		var err error
		gen, err = c.doRequest(ctx, body)
		if err == nil {
			c.metrics.LLMRequests.WithLabelValues("success").Inc()
			return nil
		}
		var statusErr *StatusError
		if errors.As(err, &statusErr) && !statusErr.Retryable() {
			c.metrics.LLMRequests.WithLabelValues("error").Inc()
			return backoff.Permanent(err)
		}
		if errors.Is(err, errMalformed) {
			c.metrics.LLMRequests.WithLabelValues("error").Inc()
			return backoff.Permanent(err)
		}
		c.metrics.LLMRequests.WithLabelValues("retry").Inc()
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initialBackoff
	policy.MaxInterval = 30 * c.initialBackoff
	policy.MaxElapsedTime = 0

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("gemini request failed, retrying", "attempt", attempt, "wait", wait, "error", err)
	}
	retries := uint64(max(0, opts.MaxRetries))
	if err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(policy, retries), ctx), notify); err != nil {
		return domain.Generation{}, err
	}
	return gen, nil
}

var errMalformed = errors.New("malformed gemini response")

func (c *Client) buildRequest(prompt string, opts domain.GenerateOptions) generateRequest {
	req := generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			Temperature:     opts.Temperature,
			MaxOutputTokens: opts.MaxOutputTokens,
		},
	}
	if opts.JSONMode {
		req.GenerationConfig.ResponseMIMEType = "application/json"
	}
	return req
}

func (c *Client) doRequest(ctx context.Context, body []byte) (domain.Generation, error) {
	// Keep the key out of the URL: transport errors quote it.
	u := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, url.PathEscape(c.model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return domain.Generation{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Generation{}, fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return domain.Generation{}, &StatusError{StatusCode: resp.StatusCode, Body: string(b)}
	}

	var gr generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return domain.Generation{}, fmt.Errorf("%w: decode: %v", errMalformed, err)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return domain.Generation{}, fmt.Errorf("%w: no candidates", errMalformed)
	}

	var text strings.Builder
	for _, p := range gr.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}
	in, out := gr.UsageMetadata.PromptTokenCount, gr.UsageMetadata.CandidatesTokenCount
	return domain.Generation{
		Text: text.String(),
		Usage: domain.Usage{
			TokensIn:  in,
			TokensOut: out,
			CostCents: c.pricing.Cost(in, out),
		},
	}, nil
}

// Gemini API request/response types.

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMIMEType string  `json:"responseMimeType,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}
