package pipeline

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sentinelhealth/sentinel/internal/audit"
	"github.com/sentinelhealth/sentinel/internal/bus"
	"github.com/sentinelhealth/sentinel/internal/llm"
	"github.com/sentinelhealth/sentinel/internal/sidecar"
)

var tracer = otel.Tracer("github.com/sentinelhealth/sentinel/internal/pipeline")

// maxStageAttempts bounds the LLM call plus output-validation retries for one
// node. The budget counts attempts, not retries: 3 attempts total.
const maxStageAttempts = 3

// Validator screens node inputs and outputs for compliance issues. It never
// fails a run: an unreachable validator passes content through unchanged.
type Validator interface {
	Validate(ctx context.Context, content, nodeName, encounterID, validationType string, tokens llm.Usage) *sidecar.Result
}

// AuditEmitter persists one node record and returns its audit ref. A failed
// write aborts the run; triage without an audit trail is worthless.
type AuditEmitter interface {
	WriteNodeAudit(ctx context.Context, rec *audit.NodeRecord) (string, error)
}

// stageCall describes one LLM-backed node invocation.
type stageCall struct {
	node      string
	model     string
	system    string
	input     string
	maxTokens int
}

// stageOutcome aggregates the result of a node invocation. When the node
// retried, usage and cost are summed across all attempts.
type stageOutcome struct {
	content  string
	model    string
	usage    llm.Usage
	costUSD  float64
	duration time.Duration
}

// invoke runs the shared node protocol: input validation, LLM call, output
// validation with a bounded retry budget. The returned error means the
// provider call itself failed; validation outcomes never error, they flag.
func (o *Orchestrator) invoke(ctx context.Context, st *State, call stageCall) (*stageOutcome, error) {
	ctx, span := tracer.Start(ctx, "node.invoke", trace.WithAttributes(
		attribute.String("sentinel.node", call.node),
		attribute.String("sentinel.model", call.model),
		attribute.String("sentinel.encounter.id", st.EncounterID),
	))
	defer span.End()

	input := call.input
	if o.validator != nil {
		v := o.validator.Validate(ctx, input, call.node, st.EncounterID, sidecar.TypeInput, llm.Usage{})
		st.AddFlags(v.ComplianceFlags...)
		input = v.Content
	}

	out := &stageOutcome{model: call.model}
	for attempt := 1; attempt <= maxStageAttempts; attempt++ {
		cctx, llmSpan := tracer.Start(ctx, "llm.call", trace.WithAttributes(
			attribute.String("llm.model", call.model),
			attribute.Int("llm.attempt", attempt),
		))
		comp, err := o.provider.Complete(cctx, &llm.Request{
			Model:       call.model,
			System:      call.system,
			UserMessage: input,
			MaxTokens:   call.maxTokens,
		})
		if err != nil {
			llmSpan.RecordError(err)
			llmSpan.SetStatus(codes.Error, "llm call failed")
			llmSpan.End()
			span.RecordError(err)
			span.SetStatus(codes.Error, "node invocation failed")
			return out, err
		}
		llmSpan.SetAttributes(
			attribute.Int("llm.tokens.input", comp.Usage.InputTokens),
			attribute.Int("llm.tokens.output", comp.Usage.OutputTokens),
		)
		llmSpan.End()
		out.usage.InputTokens += comp.Usage.InputTokens
		out.usage.OutputTokens += comp.Usage.OutputTokens
		out.costUSD += comp.CostUSD
		out.duration += comp.Duration
		out.model = comp.Model
		out.content = comp.Content
		o.observeLLMCall(comp)

		if o.validator == nil {
			return out, nil
		}
		v := o.validator.Validate(ctx, comp.Content, call.node, st.EncounterID, sidecar.TypeOutput, comp.Usage)
		st.AddFlags(v.ComplianceFlags...)
		out.content = v.Content
		if !v.ShouldRetry {
			return out, nil
		}
		if attempt == maxStageAttempts {
			st.AddFlags(flagName(call.node, "RETRY_EXHAUSTED"))
			o.logger.Warn(ctx, "node retry budget exhausted",
				"encounter_id", st.EncounterID,
				"node", call.node,
				"attempts", maxStageAttempts,
			)
			return out, nil
		}
		o.logger.Warn(ctx, "output validation requested retry",
			"encounter_id", st.EncounterID,
			"node", call.node,
			"attempt", attempt,
		)
	}
	return out, nil
}

// emitAudit writes the node record synchronously and records the returned ref
// on the in-run audit trail. A store failure is fatal to the run.
func (o *Orchestrator) emitAudit(ctx context.Context, st *State, node string, out *stageOutcome, inputSummary, outputSummary string, sentinel *bus.SentinelSnapshot) error {
	rec := &audit.NodeRecord{
		EncounterID: st.EncounterID,
		Node:        node,
		Model:       out.model,
		Routing: audit.RoutingSnapshot{
			Category:   st.Routing.Category,
			Confidence: st.Routing.Confidence,
			Reason:     st.Routing.EscalationReason,
		},
		InputSummary:    inputSummary,
		OutputSummary:   outputSummary,
		Tokens:          out.usage,
		CostUSD:         out.costUSD,
		ComplianceFlags: append([]string(nil), st.ComplianceFlags...),
		Sentinel:        sentinel,
		DurationMs:      out.duration.Milliseconds(),
		Timestamp:       time.Now().UTC(),
	}
	ref, err := o.emitter.WriteNodeAudit(ctx, rec)
	if err != nil {
		st.Trip("audit write failed for node " + node + ": " + err.Error())
		o.logger.Error(ctx, err, "audit write failed",
			"encounter_id", st.EncounterID,
			"node", node,
		)
		return err
	}
	st.AuditTrail = append(st.AuditTrail, AuditEntry{
		EncounterID: st.EncounterID,
		Node:        node,
		Model:       out.model,
		Usage:       out.usage,
		CostUSD:     out.costUSD,
		DurationMs:  out.duration.Milliseconds(),
		AuditRef:    ref,
	})
	return nil
}

func (o *Orchestrator) observeLLMCall(comp *llm.Completion) {
	if o.metrics == nil {
		return
	}
	o.metrics.LLMCallsTotal.Inc()
	o.metrics.LLMTokensIn.Add(float64(comp.Usage.InputTokens))
	o.metrics.LLMTokensOut.Add(float64(comp.Usage.OutputTokens))
	o.metrics.LLMCostUSD.Add(comp.CostUSD)
	o.metrics.LLMDuration.Observe(comp.Duration.Seconds())
}

func (o *Orchestrator) observeNode(node, status string, out *stageOutcome) {
	if o.metrics == nil {
		return
	}
	o.metrics.NodesTotal.WithLabelValues(node, status).Inc()
	o.metrics.NodeDuration.WithLabelValues(node).Observe(out.duration.Seconds())
}

// tripBreaker trips the run breaker, attributing the trip to a node.
func (o *Orchestrator) tripBreaker(st *State, node, reason string) {
	st.Trip(reason)
	if o.metrics != nil {
		o.metrics.BreakerTrips.WithLabelValues(node).Inc()
	}
}

// flagName builds a compliance flag like EXTRACTOR_JSON_PARSE_FAILED.
func flagName(node, suffix string) string {
	return strings.ToUpper(node) + "_" + suffix
}

// jsonBody isolates the outermost JSON object from model output, tolerating
// surrounding prose or markdown fences.
func jsonBody(s string) []byte {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return []byte(s)
	}
	return []byte(s[start : end+1])
}

var _ Validator = (*sidecar.Client)(nil)
