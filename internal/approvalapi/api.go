// Package approvalapi exposes the approval workflow over HTTP: the reviewer
// decision endpoint and the push endpoints fed by the message bus.
package approvalapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/sentinelhealth/sentinel/internal/approval"
	"github.com/sentinelhealth/sentinel/internal/audit"
	"github.com/sentinelhealth/sentinel/internal/bus"
	"github.com/sentinelhealth/sentinel/internal/warehouse"
)

// API holds dependencies for HTTP handlers.
type API struct {
	logger  log.Logger
	svc     *approval.Service
	batcher *warehouse.Batcher
	auth    func(http.Handler) http.Handler
}

// New creates a new API handler. The approval service is required; the
// warehouse batcher is optional (audit push becomes a no-op without it).
func New(logger log.Logger, svc *approval.Service) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("approval service is required"))
	}
	return &API{logger: logger, svc: svc}
}

// WithWarehouse attaches the warehouse batcher for audit-event forwarding.
func (a *API) WithWarehouse(b *warehouse.Batcher) *API {
	a.batcher = b
	return a
}

// WithAuth guards the reviewer routes with the given middleware. The push
// endpoints stay open; bus delivery carries no credentials.
func (a *API) WithAuth(mw func(http.Handler) http.Handler) *API {
	a.auth = mw
	return a
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		if a.auth != nil {
			r.Use(a.auth)
		}
		r.Post("/approve", a.handleApprove)
		r.Get("/approvals/{encounterId}", a.handleGetEntry)
	})
	r.Route("/push", func(r chi.Router) {
		r.Post("/triage-completed", a.handleTriageCompleted)
		r.Post("/audit-event", a.handleAuditEvent)
	})
}

type approveResponse struct {
	Status      string `json:"status"`
	EncounterID string `json:"encounterId"`
}

func (a *API) handleApprove(w http.ResponseWriter, r *http.Request) {
	var d approval.Decision
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	if d.EncounterID == "" || d.ReviewerID == "" {
		http.Error(w, `{"error":"encounter_id and reviewer_id are required"}`, http.StatusBadRequest)
		return
	}

	entry, err := a.svc.Decide(r.Context(), d)
	switch {
	case errors.Is(err, approval.ErrNotFound):
		http.Error(w, `{"error":"no approval entry for encounter"}`, http.StatusNotFound)
		return
	case errors.Is(err, approval.ErrConflict):
		http.Error(w, `{"error":"entry already decided"}`, http.StatusConflict)
		return
	case err != nil:
		a.logger.Error(r.Context(), err, "decision failed", "encounter_id", d.EncounterID)
		http.Error(w, `{"error":"invalid decision"}`, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(approveResponse{
		Status:      entry.Status,
		EncounterID: entry.EncounterID,
	})
}

func (a *API) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	encounterID := chi.URLParam(r, "encounterId")
	entry, err := a.svc.Get(r.Context(), encounterID)
	if errors.Is(err, approval.ErrNotFound) {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		a.logger.Error(r.Context(), err, "entry lookup failed", "encounter_id", encounterID)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entry)
}

// handleTriageCompleted creates the pending approval entry for a finished
// run. Push delivery may replay; entry creation is idempotent.
func (a *API) handleTriageCompleted(w http.ResponseWriter, r *http.Request) {
	var ev bus.TriageCompleted
	if !decodePush(w, r, &ev) {
		return
	}
	if _, err := a.svc.CreateFromEvent(r.Context(), &ev); err != nil {
		a.logger.Error(r.Context(), err, "entry creation failed", "encounter_id", ev.EncounterID)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAuditEvent transforms one audit record and hands it to the batcher.
func (a *API) handleAuditEvent(w http.ResponseWriter, r *http.Request) {
	var rec audit.NodeRecord
	if !decodePush(w, r, &rec) {
		return
	}
	if a.batcher != nil {
		a.batcher.Add(warehouse.Transform(&rec))
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodePush unwraps a base64 push envelope into v. Malformed envelopes are
// a 400 so the broker does not redeliver them forever.
func decodePush(w http.ResponseWriter, r *http.Request, v any) bool {
	var env bus.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		http.Error(w, `{"error":"invalid envelope"}`, http.StatusBadRequest)
		return false
	}
	if err := env.Decode(v); err != nil {
		http.Error(w, `{"error":"invalid message payload"}`, http.StatusBadRequest)
		return false
	}
	return true
}
