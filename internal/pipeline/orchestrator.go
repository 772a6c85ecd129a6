package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/sentinelhealth/sentinel/internal/llm"
	"github.com/sentinelhealth/sentinel/internal/protocols"
	"github.com/sentinelhealth/sentinel/internal/routing"
)

// Default gate thresholds and retrieval fan-in.
const (
	DefaultHallucinationThreshold = 0.15
	DefaultConfidenceThreshold    = 0.85
	DefaultContextTopK            = 5
)

// Embedder produces a query vector for protocol retrieval.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ProtocolRetriever looks up reference documents by vector similarity.
type ProtocolRetriever interface {
	Retrieve(ctx context.Context, vec []float32, limit int) ([]protocols.Document, error)
}

// Config tunes the orchestrator. Zero values fall back to the defaults above;
// SentinelModel has no default and must be set.
type Config struct {
	SentinelModel          string
	HallucinationThreshold float64
	ConfidenceThreshold    float64
	ContextTopK            int
}

// Orchestrator drives one encounter through the full triage pipeline:
// classify, route, extract, retrieve context, reason, validate. Stages run
// strictly in sequence over a single mutable State.
type Orchestrator struct {
	provider   llm.Provider
	classifier *routing.Classifier
	router     *routing.Router
	validator  Validator
	emitter    AuditEmitter
	embedder   Embedder
	retriever  ProtocolRetriever
	cfg        Config
	metrics    *Metrics
	logger     log.Logger
}

// New creates an Orchestrator. Provider, classifier, router, emitter and a
// sentinel model are required; validator, embedder, retriever and metrics are
// optional collaborators.
func New(provider llm.Provider, classifier *routing.Classifier, router *routing.Router, emitter AuditEmitter, cfg Config, logger log.Logger) *Orchestrator {
	if provider == nil {
		panic(xerrors.New("pipeline: nil provider"))
	}
	if classifier == nil {
		panic(xerrors.New("pipeline: nil classifier"))
	}
	if router == nil {
		panic(xerrors.New("pipeline: nil router"))
	}
	if emitter == nil {
		panic(xerrors.New("pipeline: nil audit emitter"))
	}
	if cfg.SentinelModel == "" {
		panic(xerrors.New("pipeline: sentinel model not configured"))
	}
	if cfg.HallucinationThreshold == 0 {
		cfg.HallucinationThreshold = DefaultHallucinationThreshold
	}
	if cfg.ConfidenceThreshold == 0 {
		cfg.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if cfg.ContextTopK == 0 {
		cfg.ContextTopK = DefaultContextTopK
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Orchestrator{
		provider:   provider,
		classifier: classifier,
		router:     router,
		emitter:    emitter,
		cfg:        cfg,
		logger:     logger,
	}
}

// WithValidator attaches the compliance sidecar.
func (o *Orchestrator) WithValidator(v Validator) *Orchestrator {
	o.validator = v
	return o
}

// WithRetrieval attaches the embedding provider and protocol store pair.
func (o *Orchestrator) WithRetrieval(e Embedder, r ProtocolRetriever) *Orchestrator {
	o.embedder = e
	o.retriever = r
	return o
}

// WithMetrics attaches pipeline metrics.
func (o *Orchestrator) WithMetrics(m *Metrics) *Orchestrator {
	o.metrics = m
	return o
}

// Run executes the pipeline for one encounter. The returned State is always
// terminal and carries the full audit trail for the stages that ran; the
// error is non-nil only for fatal conditions (audit persistence failure), in
// which case State reflects everything up to the failing stage.
func (o *Orchestrator) Run(ctx context.Context, encounterID, patientID, rawText string) (*State, error) {
	ctx, span := tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("sentinel.encounter.id", encounterID),
	))
	defer span.End()

	st := NewState(encounterID, patientID, rawText)
	start := time.Now()

	cls := o.classifier.Classify(ctx, rawText)
	st.Routing = o.router.Route(rawText, cls.Classification)
	o.observeRouting(st, cls)
	o.logger.Info(ctx, "encounter routed",
		"encounter_id", encounterID,
		"category", st.Routing.Category,
		"confidence", st.Routing.Confidence,
		"tier", st.Routing.SelectedTier.String(),
		"model", st.Routing.SelectedModel,
		"safety_override", st.Routing.SafetyOverride,
	)

	if err := o.runExtractor(ctx, st); err != nil {
		o.observeRun(st, cls, start, "error")
		return st, err
	}
	o.runRetriever(ctx, st)
	if err := o.runReasoner(ctx, st); err != nil {
		o.observeRun(st, cls, start, "error")
		return st, err
	}
	if err := o.runSentinel(ctx, st); err != nil {
		o.observeRun(st, cls, start, "error")
		return st, err
	}

	outcome := "passed"
	if st.CircuitBreakerTripped {
		outcome = "tripped"
	}
	span.SetAttributes(
		attribute.String("sentinel.run.outcome", outcome),
		attribute.String("sentinel.routing.tier", st.Routing.SelectedTier.String()),
	)
	o.observeRun(st, cls, start, outcome)
	o.logger.Info(ctx, "pipeline complete",
		"encounter_id", encounterID,
		"level", st.Decision.Level,
		"breaker_tripped", st.CircuitBreakerTripped,
		"duration_ms", time.Since(start).Milliseconds(),
		"cost_usd", o.runCost(st, cls),
	)
	return st, nil
}

func (o *Orchestrator) observeRouting(st *State, cls routing.ClassifyResult) {
	if o.metrics == nil {
		return
	}
	o.metrics.TierSelected.WithLabelValues(st.Routing.SelectedTier.String()).Inc()
	if st.Routing.EscalationReason != "" {
		o.metrics.Escalations.WithLabelValues(st.Routing.Category).Inc()
	}
	if cls.Usage != (llm.Usage{}) {
		o.metrics.LLMCallsTotal.Inc()
		o.metrics.LLMTokensIn.Add(float64(cls.Usage.InputTokens))
		o.metrics.LLMTokensOut.Add(float64(cls.Usage.OutputTokens))
		o.metrics.LLMCostUSD.Add(cls.CostUSD)
	}
}

func (o *Orchestrator) observeRun(st *State, cls routing.ClassifyResult, start time.Time, outcome string) {
	if o.metrics == nil {
		return
	}
	o.metrics.RunsTotal.WithLabelValues(outcome).Inc()
	o.metrics.RunDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	in, outTok := cls.Usage.InputTokens, cls.Usage.OutputTokens
	for _, e := range st.AuditTrail {
		in += e.Usage.InputTokens
		outTok += e.Usage.OutputTokens
	}
	o.metrics.RunTokensIn.Observe(float64(in))
	o.metrics.RunTokensOut.Observe(float64(outTok))
	o.metrics.RunCostUSD.Observe(o.runCost(st, cls))
	for _, f := range st.ComplianceFlags {
		o.metrics.ValidationFlags.WithLabelValues(f).Inc()
	}
}

// runCost totals model spend across the classifier call and every node.
func (o *Orchestrator) runCost(st *State, cls routing.ClassifyResult) float64 {
	total := cls.CostUSD
	for _, e := range st.AuditTrail {
		total += e.CostUSD
	}
	return total
}
