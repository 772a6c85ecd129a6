package approval_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/sentinelhealth/sentinel/internal/approval"
	"github.com/sentinelhealth/sentinel/internal/approval/memstore"
	"github.com/sentinelhealth/sentinel/internal/bus"
)

type capturedEvent struct {
	topic string
	data  []byte
}

type fakePub struct {
	mu     sync.Mutex
	events []capturedEvent
	err    error
}

func (p *fakePub) Publish(_ context.Context, topic string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, capturedEvent{topic: topic, data: data})
	return nil
}

func (p *fakePub) byTopic(topic string) []capturedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []capturedEvent
	for _, e := range p.events {
		if e.topic == topic {
			out = append(out, e)
		}
	}
	return out
}

func completedEvent(encounterID string) *bus.TriageCompleted {
	return &bus.TriageCompleted{
		EncounterID: encounterID,
		PatientID:   "pat-1",
		TriageResult: bus.TriageSnapshot{
			Level:             "Semi-Urgent",
			Confidence:        0.82,
			RoutingCategory:   "symptom_assessment",
			RoutingConfidence: 0.88,
		},
		SentinelCheck: bus.SentinelSnapshot{Passed: true},
		AuditRef:      "audit-1",
	}
}

func newService(t *testing.T) (*approval.Service, *fakePub) {
	t.Helper()
	pub := &fakePub{}
	return approval.NewService(memstore.New(), pub, nil), pub
}

func TestCreateFromEventIsIdempotent(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t)
	ctx := context.Background()

	first, err := svc.CreateFromEvent(ctx, completedEvent("enc-1"))
	if err != nil {
		t.Fatalf("CreateFromEvent: %v", err)
	}
	if first.Status != approval.StatusPending {
		t.Errorf("status = %q", first.Status)
	}

	// Duplicate triage-completed delivery replays safely.
	again, err := svc.CreateFromEvent(ctx, completedEvent("enc-1"))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if again.Status != approval.StatusPending {
		t.Errorf("replay status = %q", again.Status)
	}
}

func TestApproveTwiceConflicts(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t)
	ctx := context.Background()
	if _, err := svc.CreateFromEvent(ctx, completedEvent("enc-1")); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Decide(ctx, approval.Decision{
		EncounterID: "enc-1", Status: approval.StatusApproved, ReviewerID: "dr-a",
	}); err != nil {
		t.Fatalf("first approve: %v", err)
	}
	_, err := svc.Decide(ctx, approval.Decision{
		EncounterID: "enc-1", Status: approval.StatusApproved, ReviewerID: "dr-b",
	})
	if !errors.Is(err, approval.ErrConflict) {
		t.Errorf("second approve err = %v, want ErrConflict", err)
	}
	// Reject after approval likewise conflicts.
	_, err = svc.Decide(ctx, approval.Decision{
		EncounterID: "enc-1", Status: approval.StatusRejected, ReviewerID: "dr-b",
	})
	if !errors.Is(err, approval.ErrConflict) {
		t.Errorf("reject after approve err = %v, want ErrConflict", err)
	}
}

func TestDecideUnknownEncounter(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t)
	_, err := svc.Decide(context.Background(), approval.Decision{
		EncounterID: "missing", Status: approval.StatusApproved, ReviewerID: "dr-a",
	})
	if !errors.Is(err, approval.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDecideInvalidStatus(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t)
	_, err := svc.Decide(context.Background(), approval.Decision{
		EncounterID: "enc-1", Status: "maybe", ReviewerID: "dr-a",
	})
	if err == nil {
		t.Fatal("expected error for invalid status")
	}
}

func TestApprovePublishesApprovedEvent(t *testing.T) {
	t.Parallel()
	svc, pub := newService(t)
	ctx := context.Background()
	if _, err := svc.CreateFromEvent(ctx, completedEvent("enc-1")); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Decide(ctx, approval.Decision{
		EncounterID: "enc-1", Status: approval.StatusApproved, ReviewerID: "dr-a",
	}); err != nil {
		t.Fatal(err)
	}

	got := pub.byTopic(bus.TopicTriageApproved)
	if len(got) != 1 {
		t.Fatalf("approved events = %d, want 1", len(got))
	}
	var ev bus.TriageApproved
	if err := json.Unmarshal(got[0].data, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.EncounterID != "enc-1" || ev.ReviewerID != "dr-a" {
		t.Errorf("event = %+v", ev)
	}
}

func TestRejectDoesNotPublishApproved(t *testing.T) {
	t.Parallel()
	svc, pub := newService(t)
	ctx := context.Background()
	if _, err := svc.CreateFromEvent(ctx, completedEvent("enc-1")); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Decide(ctx, approval.Decision{
		EncounterID: "enc-1", Status: approval.StatusRejected, ReviewerID: "dr-a",
	}); err != nil {
		t.Fatal(err)
	}
	if got := pub.byTopic(bus.TopicTriageApproved); len(got) != 0 {
		t.Errorf("approved events = %d, want 0", len(got))
	}
}

func TestFeedbackPublishedExactlyOnceWhenCategoryDiffers(t *testing.T) {
	t.Parallel()
	svc, pub := newService(t)
	ctx := context.Background()
	if _, err := svc.CreateFromEvent(ctx, completedEvent("enc-1")); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Decide(ctx, approval.Decision{
		EncounterID:       "enc-1",
		Status:            approval.StatusRejected,
		ReviewerID:        "dr-a",
		CorrectedCategory: "acute_presentation",
	}); err != nil {
		t.Fatal(err)
	}

	got := pub.byTopic(bus.TopicClassifierFeedback)
	if len(got) != 1 {
		t.Fatalf("feedback events = %d, want exactly 1", len(got))
	}
	var ev bus.ClassifierFeedback
	if err := json.Unmarshal(got[0].data, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.OriginalCategory != "symptom_assessment" || ev.CorrectedCategory != "acute_presentation" {
		t.Errorf("event = %+v", ev)
	}
	if ev.ClassifierConfidence != 0.88 {
		t.Errorf("confidence = %v", ev.ClassifierConfidence)
	}
}

func TestFeedbackNotPublishedWhenCategoryEqual(t *testing.T) {
	t.Parallel()
	svc, pub := newService(t)
	ctx := context.Background()
	if _, err := svc.CreateFromEvent(ctx, completedEvent("enc-1")); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Decide(ctx, approval.Decision{
		EncounterID:       "enc-1",
		Status:            approval.StatusApproved,
		ReviewerID:        "dr-a",
		CorrectedCategory: "symptom_assessment",
	}); err != nil {
		t.Fatal(err)
	}
	if got := pub.byTopic(bus.TopicClassifierFeedback); len(got) != 0 {
		t.Errorf("feedback events = %d, want 0", len(got))
	}
}

func TestPublishFailureDoesNotFailDecision(t *testing.T) {
	t.Parallel()
	pub := &fakePub{err: errors.New("bus down")}
	svc := approval.NewService(memstore.New(), pub, nil)
	ctx := context.Background()
	if _, err := svc.CreateFromEvent(ctx, completedEvent("enc-1")); err != nil {
		t.Fatal(err)
	}
	entry, err := svc.Decide(ctx, approval.Decision{
		EncounterID: "enc-1", Status: approval.StatusApproved, ReviewerID: "dr-a",
	})
	if err != nil {
		t.Fatalf("Decide must not fail on publish error: %v", err)
	}
	if entry.Status != approval.StatusApproved {
		t.Errorf("status = %q", entry.Status)
	}
}

func TestDecideStoresCorrectedCategory(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t)
	ctx := context.Background()
	if _, err := svc.CreateFromEvent(ctx, completedEvent("enc-1")); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Decide(ctx, approval.Decision{
		EncounterID:       "enc-1",
		Status:            approval.StatusApproved,
		ReviewerID:        "dr-a",
		CorrectedCategory: "acute_presentation",
	}); err != nil {
		t.Fatal(err)
	}

	got, err := svc.Get(ctx, "enc-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.CorrectedCategory != "acute_presentation" {
		t.Errorf("corrected category = %q, want %q", got.CorrectedCategory, "acute_presentation")
	}
	data, err := json.Marshal(got)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"corrected_category":"acute_presentation"`) {
		t.Errorf("serialized entry lacks corrected category: %s", data)
	}
}
