// Package stream fans completed triage runs out to server-sent-event
// subscribers. Each subscriber gets a bounded buffer with drop-oldest
// semantics: a stalled client loses old events instead of blocking the
// pipeline or other subscribers.
package stream

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// Buffering and liveness policy.
const (
	SubscriberBuffer  = 64
	HeartbeatInterval = 30 * time.Second
)

// Hub is the subscription registry.
type Hub struct {
	logger log.Logger

	mu     sync.Mutex
	subs   map[chan []byte]struct{}
	closed bool
	done   chan struct{}

	heartbeat time.Duration
}

// NewHub creates a Hub.
func NewHub(logger log.Logger) *Hub {
	if logger == nil {
		logger = log.Nop()
	}
	return &Hub{
		logger:    logger,
		subs:      make(map[chan []byte]struct{}),
		done:      make(chan struct{}),
		heartbeat: HeartbeatInterval,
	}
}

// Close disconnects all subscribers. Publish becomes a no-op afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.done)
}

// Publish delivers one event to every subscriber. Full subscriber buffers
// drop their oldest event to make room; Publish never blocks.
func (h *Hub) Publish(event []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for ch := range h.subs {
		select {
		case ch <- event:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- event:
			default:
			}
		}
	}
}

// Subscribe registers a new subscriber. The returned cancel func must be
// called exactly once when the subscriber goes away.
func (h *Hub) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, SubscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	cancel := func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}
	return ch, cancel
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ServeHTTP streams events to one client as server-sent events, emitting a
// comment heartbeat when no event arrives within the heartbeat interval.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, cancel := h.Subscribe()
	defer cancel()

	ctx := r.Context()
	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case ev := <-events:
			if _, err := fmt.Fprintf(w, "data: %s\n\n", ev); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
