package sidecar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sentinelhealth/sentinel/internal/llm"
)

func TestValidate_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/validate" {
			t.Errorf("path = %q, want /validate", r.URL.Path)
		}
		var req validateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.ValidationType != TypeInput {
			t.Errorf("validation_type = %q", req.ValidationType)
		}
		_ = json.NewEncoder(w).Encode(&Result{
			Validated:       true,
			Content:         "patient [REDACTED] reports cough",
			ComplianceFlags: []string{"PII_REDACTED"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	res := c.Validate(context.Background(), "patient John Doe reports cough", "extractor", "enc-1", TypeInput, llm.Usage{})

	if !res.Validated {
		t.Error("expected validated=true")
	}
	if res.Content != "patient [REDACTED] reports cough" {
		t.Errorf("content = %q", res.Content)
	}
	if len(res.ComplianceFlags) != 1 || res.ComplianceFlags[0] != "PII_REDACTED" {
		t.Errorf("flags = %v", res.ComplianceFlags)
	}
}

func TestValidate_ShouldRetrySignal(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(&Result{
			Validated:       false,
			Content:         "{}",
			ComplianceFlags: []string{"SCHEMA_INVALID"},
			Errors:          []string{"missing required field: level"},
			ShouldRetry:     true,
		})
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	res := c.Validate(context.Background(), "{}", "reasoner", "enc-1", TypeOutput, llm.Usage{InputTokens: 10, OutputTokens: 5})

	if !res.ShouldRetry {
		t.Error("expected should_retry=true")
	}
	if res.Validated {
		t.Error("expected validated=false")
	}
}

func TestValidate_UnreachableFailsOpen(t *testing.T) {
	t.Parallel()

	// Closed server: connection refused.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	c := New(srv.URL, nil)
	res := c.Validate(context.Background(), "original content", "sentinel", "enc-2", TypeInput, llm.Usage{})

	if !res.Validated {
		t.Error("fail-open result should be validated")
	}
	if res.Content != "original content" {
		t.Errorf("content = %q, want pass-through", res.Content)
	}
	if len(res.ComplianceFlags) != 1 || res.ComplianceFlags[0] != FlagUnavailable {
		t.Errorf("flags = %v, want [%s]", res.ComplianceFlags, FlagUnavailable)
	}
	if res.ShouldRetry {
		t.Error("fail-open result must not request a retry")
	}
}

func TestValidate_ServerErrorFailsOpen(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	res := c.Validate(context.Background(), "content", "extractor", "enc-3", TypeOutput, llm.Usage{})

	if res.Content != "content" {
		t.Errorf("content = %q, want pass-through", res.Content)
	}
	if len(res.ComplianceFlags) != 1 || res.ComplianceFlags[0] != FlagUnavailable {
		t.Errorf("flags = %v", res.ComplianceFlags)
	}
}

func TestPing(t *testing.T) {
	t.Parallel()

	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path = %q, want /health", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	if err := New(healthy.URL, nil).Ping(context.Background()); err != nil {
		t.Errorf("Ping healthy sidecar: %v", err)
	}

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer failing.Close()

	if err := New(failing.URL, nil).Ping(context.Background()); err == nil {
		t.Error("Ping must fail on non-200 health response")
	}

	if err := New("http://127.0.0.1:1", nil).Ping(context.Background()); err == nil {
		t.Error("Ping must fail when the sidecar is unreachable")
	}
}
