package bus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const httpTimeout = 10 * time.Second

// WebhookPublisher delivers messages by POSTing push envelopes to per-topic
// HTTP endpoints. This is the broker-less delivery mode used in development
// and single-node deployments; topics without an endpoint are dropped.
type WebhookPublisher struct {
	endpoints map[string]string // topic -> URL
	client    *http.Client
}

// NewWebhookPublisher creates a publisher over a topic-to-URL table.
func NewWebhookPublisher(endpoints map[string]string) *WebhookPublisher {
	return &WebhookPublisher{
		endpoints: endpoints,
		client:    &http.Client{Timeout: httpTimeout},
	}
}

// Publish wraps data in a push envelope and POSTs it to the topic's endpoint.
// An unconfigured topic is a silent no-op, matching a broker with no
// subscription on that topic.
func (p *WebhookPublisher) Publish(ctx context.Context, topic string, data []byte) error {
	url, ok := p.endpoints[topic]
	if !ok || url == "" {
		return nil
	}

	body, err := json.Marshal(NewEnvelope(data))
	if err != nil {
		return fmt.Errorf("bus: marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("bus: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req) //nolint:gosec // G704: endpoint URLs are from trusted config, not user input
	if err != nil {
		return fmt.Errorf("bus: post %s: %w", topic, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("bus: %s endpoint returned %d: %s", topic, resp.StatusCode, string(respBody))
	}
	return nil
}
