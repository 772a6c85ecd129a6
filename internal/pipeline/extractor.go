package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
)

const extractorMaxTokens = 2048

// runExtractor turns raw encounter text into structured clinical data on the
// tier model the router selected. Parse or call failures fail closed: the
// breaker trips and the run continues with an empty clinical context so the
// remaining nodes still produce an auditable terminal result.
func (o *Orchestrator) runExtractor(ctx context.Context, st *State) error {
	out, err := o.invoke(ctx, st, stageCall{
		node:      "extractor",
		model:     st.Routing.SelectedModel,
		system:    extractorSystemPrompt,
		input:     st.RawInput,
		maxTokens: extractorMaxTokens,
	})

	cc := &ClinicalContext{}
	status := "success"
	switch {
	case err != nil:
		status = "error"
		st.AddFlags(flagName("extractor", "LLM_CALL_FAILED"))
		o.tripBreaker(st, "extractor", fmt.Sprintf("extractor llm call failed: %v", err))
		o.logger.Error(ctx, err, "extractor call failed", "encounter_id", st.EncounterID)
	default:
		if perr := json.Unmarshal(jsonBody(out.content), cc); perr != nil {
			status = "parse_error"
			cc = &ClinicalContext{}
			st.AddFlags(flagName("extractor", "JSON_PARSE_FAILED"))
			o.tripBreaker(st, "extractor", fmt.Sprintf("extractor output parse failed: %v", perr))
			o.logger.Warn(ctx, "extractor output unparsable",
				"encounter_id", st.EncounterID,
				"output_bytes", len(out.content),
			)
		}
	}
	st.Clinical = cc
	o.observeNode("extractor", status, out)

	return o.emitAudit(ctx, st, "extractor", out, st.RawInput, out.content, nil)
}
