package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sentinelhealth/sentinel/internal/llm"
	"github.com/sentinelhealth/sentinel/internal/pipeline"
	"github.com/sentinelhealth/sentinel/internal/session"
)

func passedRecord() *session.Record {
	return &session.Record{
		EncounterID: "enc-01JN123",
		PatientID:   "patient-7",
		Status:      session.StatusPassed,
		Decision: &pipeline.TriageDecision{
			Level:            "Semi-Urgent",
			Confidence:       0.82,
			ReasoningSummary: "Stable vitals, persistent cough.",
		},
		Routing: session.RoutingSummary{
			Category: "symptom_assessment",
			Model:    "claude-sonnet-4-5-20250929",
		},
		Tokens:      llm.Usage{InputTokens: 800, OutputTokens: 450},
		CostUSD:     0.0123,
		CompletedAt: time.Date(2026, 2, 26, 14, 23, 0, 0, time.UTC),
	}
}

func TestSend_PostsToWebhook(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL)
	if err := n.Send(context.Background(), passedRecord()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	blocks, ok := got["blocks"].([]any)
	if !ok {
		t.Fatal("expected blocks array in payload")
	}

	// header, divider, fields, divider, summary, divider, context = 7 blocks
	if len(blocks) != 7 {
		t.Errorf("blocks count = %d, want 7", len(blocks))
	}

	// Verify header contains encounter ID and green emoji for a passed run
	header := blocks[0].(map[string]any)
	headerText := header["text"].(map[string]any)["text"].(string)
	if !strings.Contains(headerText, "enc-01JN123") {
		t.Errorf("header text = %q, want to contain enc-01JN123", headerText)
	}
	if !strings.Contains(headerText, "\U0001f7e2") {
		t.Errorf("header should contain green circle for passed run")
	}
}

func TestSend_NoOpWithoutURL(t *testing.T) {
	t.Parallel()

	n := New("")
	if err := n.Send(context.Background(), &session.Record{}); err != nil {
		t.Fatalf("Send with empty URL should be no-op, got: %v", err)
	}
}

func TestSend_TrippedRunShowsFailureReasons(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rec := passedRecord()
	rec.Status = session.StatusTripped
	rec.Sentinel = &pipeline.SentinelCheck{
		Passed:                false,
		HallucinationScore:    0.30,
		CircuitBreakerTripped: true,
		FailureReasons:        []string{"Hallucination score 0.30 exceeds threshold 0.15"},
	}

	n := New(srv.URL)
	if err := n.Send(context.Background(), rec); err != nil {
		t.Fatalf("Send: %v", err)
	}

	blocks := got["blocks"].([]any)

	headerText := blocks[0].(map[string]any)["text"].(map[string]any)["text"].(string)
	if !strings.Contains(headerText, "Pending Review") {
		t.Errorf("header text = %q, want to contain Pending Review", headerText)
	}
	if !strings.Contains(headerText, "\U0001f7e1") {
		t.Errorf("header should contain yellow circle for tripped run")
	}

	summaryText := blocks[4].(map[string]any)["text"].(map[string]any)["text"].(string)
	if !strings.Contains(summaryText, "Hallucination score 0.30") {
		t.Errorf("summary = %q, want failure reasons", summaryText)
	}
}

func TestSend_TruncatesLongSummary(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rec := passedRecord()
	rec.Decision.ReasoningSummary = strings.Repeat("x", 4000)

	n := New(srv.URL)
	if err := n.Send(context.Background(), rec); err != nil {
		t.Fatalf("Send: %v", err)
	}

	blocks := got["blocks"].([]any)
	summarySection := blocks[4].(map[string]any)
	text := summarySection["text"].(map[string]any)["text"].(string)

	// Text includes the "*Summary*\n\n" prefix, so the summary portion is what follows.
	// The summary itself should be truncated to maxSummaryLen (3000) chars.
	if len(text) > maxSummaryLen+len("*Summary*\n\n") {
		t.Errorf("summary text length = %d, expected <= %d", len(text), maxSummaryLen+len("*Summary*\n\n"))
	}
	if !strings.HasSuffix(text, "...") {
		t.Error("expected truncated summary to end with ...")
	}
}

func TestStatusEmoji(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status string
		want   string
	}{
		{"error", session.StatusError, "\U0001f534"},
		{"tripped", session.StatusTripped, "\U0001f7e1"},
		{"passed", session.StatusPassed, "\U0001f7e2"},
		{"empty", "", "\U0001f7e2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := statusEmoji(&session.Record{Status: tt.status})
			if got != tt.want {
				t.Errorf("statusEmoji(%q) = %q, want %q", tt.status, got, tt.want)
			}
		})
	}
}

func TestShortModel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  string
	}{
		{"claude-sonnet-4-5-20250929", "claude-sonnet-4-5"},
		{"claude-haiku-4-5-20241022", "claude-haiku-4-5"},
		{"gpt-4o", "gpt-4o"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			if got := shortModel(tt.input); got != tt.want {
				t.Errorf("shortModel(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func FuzzSlackBuild(f *testing.F) {
	f.Add("enc-1", "passed", "Stable vitals.", "claude-sonnet-4-5-20250929")
	f.Add("", "", "", "")
	f.Add("<@U123> mention", "tripped", "*bold* _italic_ ~strike~", "model")
	f.Add("enc\x00\x01\x02", "status\nline", "summary\ttab", "m\x00del")
	f.Add(strings.Repeat("A", 5000), "error", strings.Repeat("x", 10000), "model-name-20260101")
	f.Add("test", "passed", "```code block``` and <http://example.com|link>", "gpt-4o")

	f.Fuzz(func(t *testing.T, encounterID, status, summary, model string) {
		rec := &session.Record{
			EncounterID: encounterID,
			Status:      status,
			Decision: &pipeline.TriageDecision{
				Level:            "Routine",
				Confidence:       0.9,
				ReasoningSummary: summary,
			},
			Routing:     session.RoutingSummary{Model: model},
			Tokens:      llm.Usage{InputTokens: 100, OutputTokens: 50},
			CostUSD:     0.001,
			CompletedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		}

		// Must not panic
		msg := buildMessage(rec)

		// Must produce valid JSON
		data, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("buildMessage produced non-marshalable output: %v", err)
		}

		// Must round-trip
		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("buildMessage JSON does not round-trip: %v", err)
		}

		blocks, ok := decoded["blocks"].([]any)
		if !ok {
			t.Fatal("expected blocks array")
		}
		if len(blocks) != 7 {
			t.Fatalf("blocks count = %d, want 7", len(blocks))
		}
	})
}

func TestSend_NonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer srv.Close()

	n := New(srv.URL)
	if err := n.Send(context.Background(), passedRecord()); err == nil {
		t.Fatal("expected error on non-OK status")
	} else if !strings.Contains(err.Error(), "500") {
		t.Errorf("error = %q, want to contain status code 500", err.Error())
	}
}
