package triageapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Dependency health states.
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

// Check probes one dependency.
type Check struct {
	Name     string
	Critical bool
	Probe    func(ctx context.Context) error
}

// HealthChecker aggregates dependency probes: unhealthy only when a critical
// dependency fails, degraded when only optional ones do.
type HealthChecker struct {
	checks  []Check
	timeout time.Duration
}

// NewHealthChecker creates a checker over the given probes.
func NewHealthChecker(checks ...Check) *HealthChecker {
	return &HealthChecker{checks: checks, timeout: 5 * time.Second}
}

// HealthStatus is the aggregate health report.
type HealthStatus struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
}

// Status probes all dependencies concurrently and aggregates the result.
func (h *HealthChecker) Status(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var mu sync.Mutex
	deps := make(map[string]string, len(h.checks))
	criticalDown := false
	optionalDown := false

	g, ctx := errgroup.WithContext(ctx)
	for _, c := range h.checks {
		c := c
		g.Go(func() error {
			err := c.Probe(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				deps[c.Name] = "down: " + err.Error()
				if c.Critical {
					criticalDown = true
				} else {
					optionalDown = true
				}
				return nil
			}
			deps[c.Name] = "ok"
			return nil
		})
	}
	_ = g.Wait()

	status := StateHealthy
	switch {
	case criticalDown:
		status = StateUnhealthy
	case optionalDown:
		status = StateDegraded
	}
	return HealthStatus{Status: status, Dependencies: deps}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := a.health.Status(r.Context())
	code := http.StatusOK
	if st.Status == StateUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(st)
}
