package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/sentinelhealth/sentinel/internal/bus"
	"github.com/sentinelhealth/sentinel/internal/llm"
	"github.com/sentinelhealth/sentinel/internal/sidecar"
)

// Terminal-event publish retries: bounded attempts, exponential backoff with
// a fixed cap, no jitter. Duplicate delivery is safe because the approval
// entry is keyed by encounterId.
const (
	publishAttempts    = 3
	publishInitialWait = 250 * time.Millisecond
	publishMaxWait     = 1 * time.Second
)

// Scrubber strips PHI from audit summaries before persistence.
type Scrubber interface {
	Validate(ctx context.Context, content, nodeName, encounterID, validationType string, tokens llm.Usage) *sidecar.Result
}

// Writer persists node audit records and publishes audit events.
type Writer struct {
	store    Store
	pub      bus.Publisher
	scrubber Scrubber // optional
	outbox   *Outbox
	logger   log.Logger
}

// NewWriter creates an audit writer. scrubber may be nil. The returned writer
// owns a background outbox worker; call Close to drain it on shutdown.
func NewWriter(store Store, pub bus.Publisher, scrubber Scrubber, logger log.Logger) *Writer {
	if store == nil {
		panic(xerrors.New("audit store is required"))
	}
	if pub == nil {
		panic(xerrors.New("bus publisher is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Writer{
		store:    store,
		pub:      pub,
		scrubber: scrubber,
		outbox:   NewOutbox(pub, bus.TopicAuditEvents, logger),
		logger:   logger,
	}
}

// WriteNodeAudit persists one node record and returns its audit reference.
// The store write must succeed before the node may proceed; its failure
// propagates. The bus copy is enqueued best-effort and never blocks.
func (w *Writer) WriteNodeAudit(ctx context.Context, rec *NodeRecord) (string, error) {
	rec.InputSummary = Truncate(rec.InputSummary, SummaryLimit)
	rec.OutputSummary = Truncate(rec.OutputSummary, SummaryLimit)
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	// Strip PHI from summaries before they leave the pipeline boundary.
	if w.scrubber != nil {
		in := w.scrubber.Validate(ctx, rec.InputSummary, rec.Node, rec.EncounterID, sidecar.TypeAudit, rec.Tokens)
		rec.InputSummary = in.Content
		rec.ComplianceFlags = append(rec.ComplianceFlags, in.ComplianceFlags...)

		out := w.scrubber.Validate(ctx, rec.OutputSummary, rec.Node, rec.EncounterID, sidecar.TypeAudit, rec.Tokens)
		rec.OutputSummary = out.Content
		rec.ComplianceFlags = append(rec.ComplianceFlags, out.ComplianceFlags...)
	}

	ref, err := w.store.WriteNodeAudit(ctx, rec)
	if err != nil {
		return "", fmt.Errorf("write node audit %s/%s: %w", rec.EncounterID, rec.Node, err)
	}

	if data, merr := json.Marshal(rec); merr != nil {
		w.logger.Error(ctx, merr, "marshal audit record for bus", "encounter_id", rec.EncounterID, "node", rec.Node)
	} else {
		w.outbox.Enqueue(data)
	}

	return ref, nil
}

// PublishTriageCompleted publishes the terminal event the approval workflow
// depends on. Synchronous, retried on a bounded backoff schedule; the error
// after exhaustion propagates to the caller.
func (w *Writer) PublishTriageCompleted(ctx context.Context, ev *bus.TriageCompleted) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal triage completed event: %w", err)
	}

	var lastErr error
	wait := publishInitialWait
	for attempt := 1; attempt <= publishAttempts; attempt++ {
		if lastErr = w.pub.Publish(ctx, bus.TopicTriageCompleted, data); lastErr == nil {
			return nil
		}
		w.logger.Warn(ctx, "triage completed publish failed",
			"encounter_id", ev.EncounterID,
			"attempt", attempt,
			"error", lastErr,
		)
		if attempt < publishAttempts {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
			if wait *= 2; wait > publishMaxWait {
				wait = publishMaxWait
			}
		}
	}
	return fmt.Errorf("publish triage completed after %d attempts: %w", publishAttempts, lastErr)
}

// Close drains the best-effort outbox.
func (w *Writer) Close() {
	w.outbox.Close()
}
