package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sentinelhealth/sentinel/internal/bus"
)

const sentinelMaxTokens = 1024

// sentinelJudgment is the validator model's structured output.
type sentinelJudgment struct {
	HallucinationScore   float64  `json:"hallucination_score"`
	ConfidenceAssessment float64  `json:"confidence_assessment"`
	VitalsConsistent     bool     `json:"vitals_consistent"`
	MedicationSafe       bool     `json:"medication_safe"`
	IssuesFound          []string `json:"issues_found"`
}

// runSentinel validates the triage decision against the original clinical
// data on a fixed validator model, never the routed tier. Its own parse
// failure is fail-safe, not fail-closed: the judgment is forced to the worst
// case so the breaker is guaranteed to trip.
func (o *Orchestrator) runSentinel(ctx context.Context, st *State) error {
	clinical, _ := json.MarshalIndent(st.Clinical, "", "  ")
	decision, _ := json.MarshalIndent(st.Decision, "", "  ")
	input := "Clinical data:\n" + string(clinical) + "\n\nTriage decision:\n" + string(decision)

	out, err := o.invoke(ctx, st, stageCall{
		node:      "sentinel",
		model:     o.cfg.SentinelModel,
		system:    sentinelSystemPrompt,
		input:     input,
		maxTokens: sentinelMaxTokens,
	})

	var j sentinelJudgment
	var parseReason string
	status := "success"
	switch {
	case err != nil:
		status = "error"
		parseReason = fmt.Sprintf("Sentinel llm call failed: %v", err)
		st.AddFlags(flagName("sentinel", "LLM_CALL_FAILED"))
		o.logger.Error(ctx, err, "sentinel call failed", "encounter_id", st.EncounterID)
	default:
		if perr := json.Unmarshal(jsonBody(out.content), &j); perr != nil {
			status = "parse_error"
			parseReason = fmt.Sprintf("Sentinel output parse failed: %v", perr)
			st.AddFlags(flagName("sentinel", "JSON_PARSE_FAILED"))
			o.logger.Warn(ctx, "sentinel output unparsable",
				"encounter_id", st.EncounterID,
				"output_bytes", len(out.content),
			)
		}
	}
	if parseReason != "" {
		// Worst possible judgment: guarantees trip rather than a neutral pass.
		j = sentinelJudgment{HallucinationScore: 1.0, ConfidenceAssessment: 0.0}
	}

	check := o.judge(j, parseReason)
	st.Sentinel = check
	if check.CircuitBreakerTripped {
		st.CircuitBreakerTripped = true
		if o.metrics != nil {
			o.metrics.BreakerTrips.WithLabelValues("sentinel").Inc()
		}
	}
	o.observeNode("sentinel", status, out)

	o.logger.Info(ctx, "sentinel verdict",
		"encounter_id", st.EncounterID,
		"passed", check.Passed,
		"hallucination_score", check.HallucinationScore,
		"confidence_score", check.ConfidenceScore,
		"failure_reasons", len(check.FailureReasons),
	)
	return o.emitAudit(ctx, st, "sentinel", out, input, out.content, sentinelSnapshot(check))
}

// judge applies the gate thresholds to a judgment and builds the ordered
// failure-reason list: parse error first, then hallucination breach, then
// confidence breach, then vitals inconsistency, then medication concern.
func (o *Orchestrator) judge(j sentinelJudgment, parseReason string) *SentinelCheck {
	var reasons []string
	if parseReason != "" {
		reasons = append(reasons, parseReason)
	}
	tripped := false
	if j.HallucinationScore > o.cfg.HallucinationThreshold {
		tripped = true
		reasons = append(reasons, fmt.Sprintf("Hallucination score %.2f exceeds threshold %.2f", j.HallucinationScore, o.cfg.HallucinationThreshold))
	}
	if j.ConfidenceAssessment < o.cfg.ConfidenceThreshold {
		tripped = true
		reasons = append(reasons, fmt.Sprintf("Confidence assessment %.2f below threshold %.2f", j.ConfidenceAssessment, o.cfg.ConfidenceThreshold))
	}
	if !j.VitalsConsistent {
		reasons = append(reasons, "Vitals inconsistent with triage level")
	}
	if !j.MedicationSafe {
		reasons = append(reasons, "Medication safety concern")
	}
	return &SentinelCheck{
		Passed:                !tripped,
		HallucinationScore:    j.HallucinationScore,
		ConfidenceScore:       j.ConfidenceAssessment,
		VitalsConsistent:      j.VitalsConsistent,
		MedicationSafe:        j.MedicationSafe,
		CircuitBreakerTripped: tripped,
		FailureReasons:        reasons,
	}
}

// sentinelSnapshot converts the check into its event-envelope form.
func sentinelSnapshot(c *SentinelCheck) *bus.SentinelSnapshot {
	if c == nil {
		return nil
	}
	return &bus.SentinelSnapshot{
		Passed:                c.Passed,
		HallucinationScore:    c.HallucinationScore,
		ConfidenceScore:       c.ConfidenceScore,
		VitalsConsistent:      c.VitalsConsistent,
		MedicationSafe:        c.MedicationSafe,
		CircuitBreakerTripped: c.CircuitBreakerTripped,
		FailureReasons:        append([]string(nil), c.FailureReasons...),
	}
}
