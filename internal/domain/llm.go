package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// GenerateOptions tune a single LLM call.
type GenerateOptions struct {
	JSONMode        bool
	Temperature     float64
	MaxOutputTokens int
	MaxRetries      int
}

// Usage is the token and cost accounting of one LLM call.
type Usage struct {
	TokensIn  int             `json:"tokens_in"`
	TokensOut int             `json:"tokens_out"`
	CostCents decimal.Decimal `json:"cost_cents"`
}

// Add returns the sum of two usages.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		TokensIn:  u.TokensIn + o.TokensIn,
		TokensOut: u.TokensOut + o.TokensOut,
		CostCents: u.CostCents.Add(o.CostCents),
	}
}

// Generation is the successful output of an LLM call.
type Generation struct {
	Text  string
	Usage Usage
}

// LLM is the text generation capability behind the extraction bridge.
type LLM interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (Generation, error)
}
