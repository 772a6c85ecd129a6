// Package claude implements the llm.Provider interface against the Anthropic
// Messages API.
package claude

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/sentinelhealth/sentinel/internal/llm"
)

const defaultMaxTokens = 4096

// Client implements the Provider interface for the Claude API.
type Client struct {
	client anthropic.Client
}

// New creates a new Claude API client with the given API key. The model is
// chosen per request by the router, not fixed at construction.
func New(apiKey string) *Client {
	return &Client{
		client: anthropic.NewClient(
			option.WithAPIKey(apiKey),
			option.WithMaxRetries(3),
			option.WithHTTPClient(&http.Client{Timeout: 120 * time.Second}),
		),
	}
}

// Complete sends a single-turn request to the Claude API and returns the
// completion with usage, cost, and wall-clock duration.
func (c *Client) Complete(ctx context.Context, req *llm.Request) (*llm.Completion, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(req.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.UserMessage)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	start := time.Now()
	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("claude messages.new: %w", err)
	}

	return fromSDKResponse(req.Model, msg, time.Since(start)), nil
}

// fromSDKResponse converts an SDK message into the provider-neutral completion.
// Only text blocks matter here: pipeline nodes are single-turn with no tools.
func fromSDKResponse(requestModel string, msg *anthropic.Message, dur time.Duration) *llm.Completion {
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
		}
	}

	usage := llm.Usage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}

	model := string(msg.Model)
	if model == "" {
		model = requestModel
	}

	return &llm.Completion{
		Content:  text,
		Model:    model,
		Usage:    usage,
		CostUSD:  llm.Cost(requestModel, usage),
		Duration: dur,
	}
}
