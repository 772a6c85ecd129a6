package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/sentinelhealth/sentinel/internal/bus"
)

// Decision is a reviewer's verdict on a pending entry.
type Decision struct {
	EncounterID       string `json:"encounter_id"`
	Status            string `json:"status"`
	ReviewerID        string `json:"reviewer_id"`
	Notes             string `json:"notes,omitempty"`
	CorrectedCategory string `json:"corrected_category,omitempty"`
}

// Service drives the approval state machine and its event publishes.
type Service struct {
	store   Store
	pub     bus.Publisher
	metrics *Metrics
	logger  log.Logger
}

// NewService creates the approval service. Store and publisher are required.
func NewService(store Store, pub bus.Publisher, logger log.Logger) *Service {
	if store == nil {
		panic(xerrors.New("approval: nil store"))
	}
	if pub == nil {
		panic(xerrors.New("approval: nil publisher"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{store: store, pub: pub, logger: logger}
}

// WithMetrics attaches approval metrics.
func (s *Service) WithMetrics(m *Metrics) *Service {
	s.metrics = m
	return s
}

// CreateFromEvent creates the pending entry for a completed triage run.
// Duplicate delivery of the same event is safe: the existing entry wins.
func (s *Service) CreateFromEvent(ctx context.Context, ev *bus.TriageCompleted) (*Entry, error) {
	entry, err := s.store.Create(ctx, &Entry{
		EncounterID:   ev.EncounterID,
		PatientID:     ev.PatientID,
		Status:        StatusPending,
		TriageResult:  ev.TriageResult,
		SentinelCheck: ev.SentinelCheck,
		AuditRef:      ev.AuditRef,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("create approval entry: %w", err)
	}
	if s.metrics != nil {
		s.metrics.EntriesCreated.Inc()
	}
	s.logger.Info(ctx, "approval entry pending",
		"encounter_id", ev.EncounterID,
		"level", ev.TriageResult.Level,
		"breaker_tripped", ev.SentinelCheck.CircuitBreakerTripped,
	)
	return entry, nil
}

// Get returns the entry for an encounter or ErrNotFound.
func (s *Service) Get(ctx context.Context, encounterID string) (*Entry, error) {
	return s.store.Get(ctx, encounterID)
}

// Decide applies a reviewer decision. The entry must be pending: a missing
// entry returns ErrNotFound, an already-decided one ErrConflict. On approval
// an approved event is published; when the reviewer supplies a corrected
// category differing from the routed one, one classifier-feedback event is
// published regardless of approve/reject. Neither publish blocks the other.
func (s *Service) Decide(ctx context.Context, d Decision) (*Entry, error) {
	if d.Status != StatusApproved && d.Status != StatusRejected {
		return nil, fmt.Errorf("invalid decision status %q", d.Status)
	}
	now := time.Now().UTC()
	entry, err := s.store.Decide(ctx, d, now)
	if err != nil {
		if errors.Is(err, ErrConflict) && s.metrics != nil {
			s.metrics.ConflictsTotal.Inc()
		}
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.DecisionsTotal.WithLabelValues(d.Status).Inc()
	}
	s.logger.Info(ctx, "approval decision",
		"encounter_id", d.EncounterID,
		"status", d.Status,
		"reviewer_id", d.ReviewerID,
	)

	if d.Status == StatusApproved {
		s.publish(ctx, bus.TopicTriageApproved, bus.TriageApproved{
			EncounterID: d.EncounterID,
			ReviewerID:  d.ReviewerID,
			ApprovedAt:  now,
		})
	}
	if d.CorrectedCategory != "" && d.CorrectedCategory != entry.TriageResult.RoutingCategory {
		s.publish(ctx, bus.TopicClassifierFeedback, bus.ClassifierFeedback{
			EventType:            "classifier_feedback",
			EncounterID:          d.EncounterID,
			OriginalCategory:     entry.TriageResult.RoutingCategory,
			CorrectedCategory:    d.CorrectedCategory,
			ClassifierConfidence: entry.TriageResult.RoutingConfidence,
			ReviewerID:           d.ReviewerID,
			Timestamp:            now,
		})
		if s.metrics != nil {
			s.metrics.FeedbackPublished.Inc()
		}
	}
	return entry, nil
}

// publish sends one event best-effort. Failures are logged, never returned:
// the decision itself has already been durably recorded.
func (s *Service) publish(ctx context.Context, topic string, ev any) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error(ctx, err, "marshal approval event", "topic", topic)
		return
	}
	if err := s.pub.Publish(ctx, topic, data); err != nil {
		s.logger.Error(ctx, err, "publish approval event", "topic", topic)
	}
}
