package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
)

const reasonerMaxTokens = 2048

// runReasoner produces the triage decision from the extracted clinical data,
// with retrieved protocol documents inlined when present. Parse or call
// failures fail closed to a Manual_Review_Required decision at confidence 0
// so downstream nodes and consumers never see a partial decision.
func (o *Orchestrator) runReasoner(ctx context.Context, st *State) error {
	clinical, _ := json.MarshalIndent(st.Clinical, "", "  ")
	input := "Clinical data:\n" + string(clinical) + contextSection(st.ContextDocs)

	out, err := o.invoke(ctx, st, stageCall{
		node:      "reasoner",
		model:     st.Routing.SelectedModel,
		system:    reasonerSystemPrompt,
		input:     input,
		maxTokens: reasonerMaxTokens,
	})

	dec := &TriageDecision{}
	status := "success"
	switch {
	case err != nil:
		status = "error"
		st.AddFlags(flagName("reasoner", "LLM_CALL_FAILED"))
		o.tripBreaker(st, "reasoner", fmt.Sprintf("reasoner llm call failed: %v", err))
		o.logger.Error(ctx, err, "reasoner call failed", "encounter_id", st.EncounterID)
		dec.Level = LevelManualReview
		dec.ReasoningSummary = "Automated reasoning unavailable; manual review required."
	default:
		if perr := json.Unmarshal(jsonBody(out.content), dec); perr != nil || dec.Level == "" {
			status = "parse_error"
			dec = &TriageDecision{
				Level:            LevelManualReview,
				ReasoningSummary: "Reasoner output could not be parsed; manual review required.",
			}
			reason := "missing triage level"
			if perr != nil {
				reason = perr.Error()
			}
			st.AddFlags(flagName("reasoner", "JSON_PARSE_FAILED"))
			o.tripBreaker(st, "reasoner", "reasoner output parse failed: "+reason)
			o.logger.Warn(ctx, "reasoner output unparsable",
				"encounter_id", st.EncounterID,
				"output_bytes", len(out.content),
			)
		}
	}
	dec.ModelUsed = out.model
	dec.RoutingReason = routingReason(st)
	st.Decision = dec
	o.observeNode("reasoner", status, out)

	o.logger.Info(ctx, "triage decision",
		"encounter_id", st.EncounterID,
		"level", dec.Level,
		"confidence", dec.Confidence,
		"model", out.model,
	)
	return o.emitAudit(ctx, st, "reasoner", out, input, out.content, nil)
}

// routingReason describes why the run landed on its model tier.
func routingReason(st *State) string {
	if st.Routing.EscalationReason != "" {
		return st.Routing.EscalationReason
	}
	return fmt.Sprintf("Default tier for category %s", st.Routing.Category)
}
