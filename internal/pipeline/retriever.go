package pipeline

import (
	"context"
	"strings"

	"github.com/sentinelhealth/sentinel/internal/protocols"
)

// runRetriever augments the state with clinical protocol documents matching
// the extracted presentation. Retrieval is best-effort and never fails the
// run: missing collaborators, a blank query, or lookup errors all leave the
// state un-augmented with a logged warning.
func (o *Orchestrator) runRetriever(ctx context.Context, st *State) {
	if o.embedder == nil || o.retriever == nil {
		return
	}
	query := retrievalQuery(st.Clinical)
	if query == "" {
		o.logger.Info(ctx, "context retrieval skipped, no query terms", "encounter_id", st.EncounterID)
		return
	}

	vec, err := o.embedder.Embed(ctx, query)
	if err != nil {
		o.logger.Warn(ctx, "context embedding failed, continuing un-augmented",
			"encounter_id", st.EncounterID,
			"error", err.Error(),
		)
		return
	}
	docs, err := o.retriever.Retrieve(ctx, vec, o.cfg.ContextTopK)
	if err != nil {
		o.logger.Warn(ctx, "protocol retrieval failed, continuing un-augmented",
			"encounter_id", st.EncounterID,
			"error", err.Error(),
		)
		return
	}
	st.ContextDocs = docs
	if o.metrics != nil {
		o.metrics.RetrievedDocs.Observe(float64(len(docs)))
	}
	o.logger.Info(ctx, "context retrieved",
		"encounter_id", st.EncounterID,
		"documents", len(docs),
	)
}

// retrievalQuery derives the vector-search query from the chief complaint and
// the symptom descriptions. Blank means nothing to search for.
func retrievalQuery(cc *ClinicalContext) string {
	if cc == nil {
		return ""
	}
	parts := make([]string, 0, len(cc.Symptoms)+1)
	if s := strings.TrimSpace(cc.ChiefComplaint); s != "" {
		parts = append(parts, s)
	}
	for _, sym := range cc.Symptoms {
		if s := strings.TrimSpace(sym.Description); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

// contextSection renders retrieved documents for inclusion in the reasoner
// prompt, provenance first.
func contextSection(docs []protocols.Document) string {
	if len(docs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\nRelevant clinical protocols:\n")
	for _, d := range docs {
		b.WriteString("- [")
		b.WriteString(d.SourceType)
		b.WriteString("] ")
		b.WriteString(d.Title)
		b.WriteString(": ")
		b.WriteString(d.Content)
		b.WriteString("\n")
	}
	return b.String()
}
