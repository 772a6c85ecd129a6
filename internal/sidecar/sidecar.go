// Package sidecar is the client for the PII/PHI validation sidecar. Every
// pipeline node round-trips its input and output through /validate; the
// sidecar redacts protected content, checks schema shape, and flags
// retry-worthy failures.
//
// The sidecar is an optional dependency: when it is unreachable the client
// fails open, returning the content unmodified with a SIDECAR_UNAVAILABLE
// compliance flag rather than blocking triage.
package sidecar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/sentinelhealth/sentinel/internal/llm"
)

const httpTimeout = 5 * time.Second

// FlagUnavailable is appended when validation is skipped because the sidecar
// could not be reached.
const FlagUnavailable = "SIDECAR_UNAVAILABLE"

// Validation type passed to the sidecar so it can pick the right validator
// chain for the content class.
const (
	TypeInput  = "input"
	TypeOutput = "output"
	TypeAudit  = "audit"
)

// Result is the sidecar's judgment on one piece of content.
type Result struct {
	Validated       bool     `json:"validated"`
	Content         string   `json:"content"`
	ComplianceFlags []string `json:"compliance_flags"`
	Errors          []string `json:"errors"`
	ShouldRetry     bool     `json:"should_retry"`
	LatencyMs       float64  `json:"latency_ms"`
}

// Client calls the validation sidecar over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     log.Logger
}

// New creates a sidecar client for the given base URL.
func New(baseURL string, logger log.Logger) *Client {
	if logger == nil {
		logger = log.Nop()
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

type validateRequest struct {
	Content        string    `json:"content"`
	NodeName       string    `json:"node_name"`
	EncounterID    string    `json:"encounter_id"`
	ValidationType string    `json:"validation_type"`
	Tokens         llm.Usage `json:"tokens"`
}

// Validate submits content for validation. It never returns an error: on any
// transport or decode failure it returns a pass-through result carrying the
// original content and the FlagUnavailable compliance flag.
func (c *Client) Validate(ctx context.Context, content, nodeName, encounterID, validationType string, tokens llm.Usage) *Result {
	res, err := c.validate(ctx, content, nodeName, encounterID, validationType, tokens)
	if err != nil {
		c.logger.Warn(ctx, "sidecar validation failed, passing through",
			"encounter_id", encounterID,
			"node", nodeName,
			"validation_type", validationType,
			"error", err,
		)
		return &Result{
			Validated:       true,
			Content:         content,
			ComplianceFlags: []string{FlagUnavailable},
		}
	}
	return res
}

func (c *Client) validate(ctx context.Context, content, nodeName, encounterID, validationType string, tokens llm.Usage) (*Result, error) {
	body, err := json.Marshal(&validateRequest{
		Content:        content,
		NodeName:       nodeName,
		EncounterID:    encounterID,
		ValidationType: validationType,
		Tokens:         tokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/validate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: baseURL is from trusted config, not user input
	if err != nil {
		return nil, fmt.Errorf("post validate: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("sidecar returned %d: %s", resp.StatusCode, string(respBody))
	}

	var out Result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

// Ping probes the sidecar's health endpoint. Unlike Validate it reports
// failure: the aggregate health surface treats the sidecar as a critical
// dependency when one is configured.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: baseURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("get health: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sidecar health returned %d", resp.StatusCode)
	}
	return nil
}
