package stream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	t.Parallel()
	h := NewHub(nil)
	a, cancelA := h.Subscribe()
	defer cancelA()
	b, cancelB := h.Subscribe()
	defer cancelB()

	h.Publish([]byte(`{"encounter_id":"enc-1"}`))
	for name, ch := range map[string]<-chan []byte{"a": a, "b": b} {
		select {
		case got := <-ch:
			if string(got) != `{"encounter_id":"enc-1"}` {
				t.Errorf("%s got %s", name, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s never received", name)
		}
	}
}

func TestPublishDropsOldestWhenFull(t *testing.T) {
	t.Parallel()
	h := NewHub(nil)
	ch, cancel := h.Subscribe()
	defer cancel()

	for i := 0; i <= SubscriberBuffer; i++ {
		h.Publish([]byte(fmt.Sprintf("ev-%d", i)))
	}
	// Event 0 was dropped; the stream resumes at event 1.
	got := <-ch
	if string(got) != "ev-1" {
		t.Errorf("first event = %s, want ev-1", got)
	}
	// The newest event survived.
	var last []byte
	for len(ch) > 0 {
		last = <-ch
	}
	if string(last) != fmt.Sprintf("ev-%d", SubscriberBuffer) {
		t.Errorf("last event = %s", last)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()
	h := NewHub(nil)
	_, cancel := h.Subscribe()
	if h.Subscribers() != 1 {
		t.Fatalf("subscribers = %d", h.Subscribers())
	}
	cancel()
	if h.Subscribers() != 0 {
		t.Fatalf("subscribers after cancel = %d", h.Subscribers())
	}
}

func TestServeHTTPStreamsEvents(t *testing.T) {
	t.Parallel()
	h := NewHub(nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	// The subscription is registered before the handler enters its loop, so
	// wait for it to appear, then publish.
	for h.Subscribers() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	h.Publish([]byte(`{"encounter_id":"enc-1","status":"passed"}`))

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.HasPrefix(line, "data: ") || !strings.Contains(line, "enc-1") {
		t.Errorf("line = %q", line)
	}
}

func TestServeHTTPHeartbeat(t *testing.T) {
	t.Parallel()
	h := NewHub(nil)
	h.heartbeat = 20 * time.Millisecond
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.HasPrefix(line, ": heartbeat") {
		t.Errorf("line = %q, want heartbeat comment", line)
	}
}

func TestCloseDisconnectsStream(t *testing.T) {
	t.Parallel()
	h := NewHub(nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()

	h.Close()

	// The handler returns, so the body ends without a context timeout.
	if _, err := io.ReadAll(resp.Body); err != nil {
		t.Fatalf("read after close: %v", err)
	}

	// Close is idempotent and Publish afterwards is a no-op.
	h.Close()
	h.Publish([]byte("late"))
}
