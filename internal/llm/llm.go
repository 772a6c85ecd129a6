// Package llm defines the provider boundary for single-turn model calls used
// by the triage pipeline, plus per-model cost accounting.
package llm

import (
	"context"
	"time"
)

// Provider is the interface for any LLM backend.
type Provider interface {
	Complete(ctx context.Context, req *Request) (*Completion, error)
}

// Request is a single-turn completion request. Every pipeline node sends one
// system prompt and one user message; there is no multi-turn conversation.
type Request struct {
	Model       string
	System      string
	UserMessage string
	MaxTokens   int
	Temperature float64
}

// Completion is the provider's response with usage and cost attached.
type Completion struct {
	Content  string
	Model    string
	Usage    Usage
	CostUSD  float64
	Duration time.Duration
}

// Usage holds token counts for one completion.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// pricing is USD per million tokens (input, output).
type pricing struct {
	in  float64
	out float64
}

var modelPricing = map[string]pricing{
	"claude-haiku-4-5-20241022":  {1.00, 5.00},
	"claude-sonnet-4-5-20250929": {3.00, 15.00},
	"claude-opus-4-6-20250929":   {15.00, 75.00},
}

// Cost returns the USD cost of a completion for the given model.
// Unknown models cost zero rather than guessing a rate.
func Cost(model string, u Usage) float64 {
	p, ok := modelPricing[model]
	if !ok {
		return 0
	}
	return (float64(u.InputTokens)*p.in + float64(u.OutputTokens)*p.out) / 1_000_000
}
