// Package slack sends triage run notifications to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/sentinelhealth/sentinel/internal/session"
)

const (
	maxSummaryLen = 3000
	httpTimeout   = 10 * time.Second
)

// Notifier sends triage run results to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// Send posts a completed triage run to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, rec *session.Record) error {
	if n.webhookURL == "" {
		return nil
	}

	msg := buildMessage(rec)

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(r *session.Record) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(r),
			{"type": "divider"},
			fieldsBlock(r),
			{"type": "divider"},
			summaryBlock(r),
			{"type": "divider"},
			contextBlock(r),
		},
	}
}

func headerBlock(r *session.Record) map[string]any {
	emoji := statusEmoji(r)
	title := "Triage Complete"
	switch r.Status {
	case session.StatusTripped:
		title = "Triage Pending Review"
	case session.StatusError:
		title = "Triage Failed"
	}
	text := fmt.Sprintf("%s %s: %s", emoji, title, r.EncounterID)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(r *session.Record) map[string]any {
	level := "n/a"
	confidence := 0.0
	if r.Decision != nil {
		level = r.Decision.Level
		confidence = r.Decision.Confidence
	}

	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Status:* %s", r.Status),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Level:* %s (%.2f)", level, confidence),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Category:* %s", r.Routing.Category),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Model:* %s", shortModel(r.Routing.Model)),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Tokens:* %d in / %d out", r.Tokens.InputTokens, r.Tokens.OutputTokens),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Cost:* $%.4f", r.CostUSD),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func summaryBlock(r *session.Record) map[string]any {
	var text string
	switch {
	case r.Status == session.StatusError && r.Error != "":
		text = truncate(r.Error, maxSummaryLen)
	case r.Sentinel != nil && len(r.Sentinel.FailureReasons) > 0:
		text = truncate(strings.Join(r.Sentinel.FailureReasons, "\n"), maxSummaryLen)
	case r.Decision != nil:
		text = truncate(r.Decision.ReasoningSummary, maxSummaryLen)
	}
	if text == "" {
		text = "_No summary available._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Summary*\n\n%s", text),
		},
	}
}

func contextBlock(r *session.Record) map[string]any {
	ts := r.CompletedAt
	if ts.IsZero() {
		ts = r.CreatedAt
	}

	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("sentinel • encounter %s • %s", r.EncounterID, ts.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func statusEmoji(r *session.Record) string {
	switch r.Status {
	case session.StatusError:
		return "\U0001f534" // red circle
	case session.StatusTripped:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

// dateModelRe matches model names ending with a YYYYMMDD date suffix.
var dateModelRe = regexp.MustCompile(`-\d{8}$`)

func shortModel(model string) string {
	return dateModelRe.ReplaceAllString(model, "")
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
