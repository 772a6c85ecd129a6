// Package triageapi exposes the triage pipeline over HTTP: synchronous
// encounter ingestion, run lookup, a live-updates stream, and the aggregate
// health surface.
package triageapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/oklog/ulid/v2"

	"github.com/sentinelhealth/sentinel/internal/bus"
	"github.com/sentinelhealth/sentinel/internal/pipeline"
	"github.com/sentinelhealth/sentinel/internal/session"
	"github.com/sentinelhealth/sentinel/internal/stream"
)

// Runner executes one triage pipeline run.
type Runner interface {
	Run(ctx context.Context, encounterID, patientID, rawText string) (*pipeline.State, error)
}

// CompletedPublisher delivers the terminal triage-completed event with the
// retry semantics the approval workflow depends on.
type CompletedPublisher interface {
	PublishTriageCompleted(ctx context.Context, ev *bus.TriageCompleted) error
}

// Notifier receives terminal run records that need a human's attention.
type Notifier interface {
	Send(ctx context.Context, rec *session.Record) error
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger   log.Logger
	runner   Runner
	sessions session.Store
	pub      CompletedPublisher
	hub      *stream.Hub
	health   *HealthChecker
	notifier Notifier
	auth     func(http.Handler) http.Handler
}

// New creates a new API handler. Runner and session store are required; the
// publisher, hub and health checker are optional.
func New(logger log.Logger, runner Runner, sessions session.Store) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if runner == nil {
		panic(xerrors.New("triage runner is required"))
	}
	if sessions == nil {
		panic(xerrors.New("session store is required"))
	}
	return &API{
		logger:   logger,
		runner:   runner,
		sessions: sessions,
	}
}

// WithPublisher attaches the terminal event publisher.
func (a *API) WithPublisher(pub CompletedPublisher) *API {
	a.pub = pub
	return a
}

// WithStream attaches the live-updates hub.
func (a *API) WithStream(hub *stream.Hub) *API {
	a.hub = hub
	return a
}

// WithHealth attaches the aggregate health checker.
func (a *API) WithHealth(h *HealthChecker) *API {
	a.health = h
	return a
}

// WithNotifier attaches a reviewer notifier for runs that do not pass.
func (a *API) WithNotifier(n Notifier) *API {
	a.notifier = n
	return a
}

// WithAuth guards the triage routes with the given middleware. The health
// and stream endpoints stay open.
func (a *API) WithAuth(mw func(http.Handler) http.Handler) *API {
	a.auth = mw
	return a
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		if a.hub != nil {
			r.Get("/triage/stream", a.hub.ServeHTTP)
		}
		if a.health != nil {
			r.Get("/health", a.handleHealth)
		}
		r.Group(func(r chi.Router) {
			if a.auth != nil {
				r.Use(a.auth)
			}
			r.Post("/triage", a.handleTriage)
			r.Get("/triage/{encounterId}", a.handleGetRun)
		})
	})
}

type triageRequest struct {
	EncounterText string `json:"encounterText"`
	PatientID     string `json:"patientId"`
	EncounterID   string `json:"encounterId,omitempty"`
}

type triageResponse struct {
	EncounterID           string    `json:"encounterId"`
	PatientID             string    `json:"patientId"`
	TriageLevel           string    `json:"triageLevel"`
	Confidence            float64   `json:"confidence"`
	ReasoningSummary      string    `json:"reasoningSummary"`
	ModelUsed             string    `json:"modelUsed"`
	RoutingCategory       string    `json:"routingCategory"`
	SentinelPassed        bool      `json:"sentinelPassed"`
	HallucinationScore    float64   `json:"hallucinationScore"`
	CircuitBreakerTripped bool      `json:"circuitBreakerTripped"`
	AuditRef              string    `json:"auditRef"`
	Timestamp             time.Time `json:"timestamp"`
}

func (a *API) handleTriage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req triageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	if err := ValidateEncounterText(req.EncounterText); err != nil {
		a.logger.Warn(ctx, "encounter rejected at ingress", "error", err.Error())
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.PatientID == "" {
		writeError(w, http.StatusBadRequest, "patientId is required")
		return
	}
	encounterID := req.EncounterID
	if encounterID == "" {
		encounterID = "enc-" + ulid.Make().String()
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("sentinel.encounter.id", encounterID))

	created := time.Now().UTC()
	st, err := a.runner.Run(ctx, encounterID, req.PatientID, req.EncounterText)
	if err != nil {
		a.logger.Error(ctx, err, "pipeline run failed", "encounter_id", encounterID)
		writeError(w, http.StatusInternalServerError, "triage pipeline failed")
		return
	}

	rec := session.FromState(st, created)
	if serr := a.sessions.Put(ctx, rec); serr != nil {
		// The run finished and is audited; a session write failure degrades
		// lookup, not the response.
		a.logger.Error(ctx, serr, "session write failed", "encounter_id", encounterID)
	}
	a.afterRun(ctx, st, rec)

	span.SetAttributes(attribute.String("sentinel.triage.level", st.Decision.Level))

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(triageResponse{
		EncounterID:           st.EncounterID,
		PatientID:             st.PatientID,
		TriageLevel:           st.Decision.Level,
		Confidence:            st.Decision.Confidence,
		ReasoningSummary:      st.Decision.ReasoningSummary,
		ModelUsed:             st.Decision.ModelUsed,
		RoutingCategory:       st.Routing.Category,
		SentinelPassed:        st.Sentinel.Passed,
		HallucinationScore:    st.Sentinel.HallucinationScore,
		CircuitBreakerTripped: st.CircuitBreakerTripped,
		AuditRef:              st.LastAuditRef(),
		Timestamp:             rec.CompletedAt,
	})
}

// afterRun publishes the terminal event and feeds the live stream.
func (a *API) afterRun(ctx context.Context, st *pipeline.State, rec *session.Record) {
	if a.pub != nil {
		ev := &bus.TriageCompleted{
			EncounterID: st.EncounterID,
			PatientID:   st.PatientID,
			TriageResult: bus.TriageSnapshot{
				Level:             st.Decision.Level,
				Confidence:        st.Decision.Confidence,
				ReasoningSummary:  st.Decision.ReasoningSummary,
				ModelUsed:         st.Decision.ModelUsed,
				RoutingCategory:   st.Routing.Category,
				RoutingConfidence: st.Routing.Confidence,
				RoutingReason:     st.Routing.EscalationReason,
			},
			SentinelCheck: *sentinelSnapshot(st),
			AuditRef:      st.LastAuditRef(),
			Timestamp:     rec.CompletedAt,
		}
		if err := a.pub.PublishTriageCompleted(ctx, ev); err != nil {
			a.logger.Error(ctx, err, "triage-completed publish failed after retries",
				"encounter_id", st.EncounterID,
			)
		}
	}
	if a.hub != nil {
		if data, err := json.Marshal(rec); err == nil {
			a.hub.Publish(data)
		}
	}
	if a.notifier != nil && rec.Status != session.StatusPassed {
		if err := a.notifier.Send(ctx, rec); err != nil {
			a.logger.Warn(ctx, "reviewer notification failed",
				"encounter_id", st.EncounterID,
				"error", err,
			)
		}
	}
}

func (a *API) handleGetRun(w http.ResponseWriter, r *http.Request) {
	encounterID := chi.URLParam(r, "encounterId")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("sentinel.encounter.id", encounterID))

	rec, ok, err := a.sessions.Get(r.Context(), encounterID)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get run", "encounter_id", encounterID)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rec)
}

func sentinelSnapshot(st *pipeline.State) *bus.SentinelSnapshot {
	c := st.Sentinel
	return &bus.SentinelSnapshot{
		Passed:                c.Passed,
		HallucinationScore:    c.HallucinationScore,
		ConfidenceScore:       c.ConfidenceScore,
		VitalsConsistent:      c.VitalsConsistent,
		MedicationSafe:        c.MedicationSafe,
		CircuitBreakerTripped: c.CircuitBreakerTripped,
		FailureReasons:        c.FailureReasons,
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
