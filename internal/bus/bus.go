// Package bus defines the message-bus boundary: topics, event payloads, the
// push-delivery envelope, and a webhook-based publisher. Delivery semantics
// (at-least-once, push subscriptions) belong to the external broker; consumers
// are keyed by encounterId so duplicate delivery is safe to replay.
package bus

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Topics carried on the bus.
const (
	TopicAuditEvents        = "audit-events"
	TopicTriageCompleted    = "triage-completed"
	TopicTriageApproved     = "triage-approved"
	TopicClassifierFeedback = "classifier-feedback"
)

// Publisher sends one message to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, data []byte) error
}

// PushMessage is the broker's push payload: base64-encoded message data.
type PushMessage struct {
	Data        string `json:"data"`
	MessageID   string `json:"message_id,omitempty"`
	PublishTime string `json:"publish_time,omitempty"`
}

// Envelope is the push-delivery wrapper POSTed to push endpoints.
type Envelope struct {
	Message      PushMessage `json:"message"`
	Subscription string      `json:"subscription,omitempty"`
}

// Decode unmarshals the envelope's base64 JSON payload into v.
func (e *Envelope) Decode(v any) error {
	raw, err := base64.StdEncoding.DecodeString(e.Message.Data)
	if err != nil {
		return fmt.Errorf("decode message data: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("unmarshal message payload: %w", err)
	}
	return nil
}

// NewEnvelope wraps raw message bytes in a push envelope.
func NewEnvelope(data []byte) *Envelope {
	return &Envelope{
		Message: PushMessage{Data: base64.StdEncoding.EncodeToString(data)},
	}
}
