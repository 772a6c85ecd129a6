package approval

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the approval workflow.
type Metrics struct {
	EntriesCreated    prometheus.Counter
	DecisionsTotal    *prometheus.CounterVec
	ConflictsTotal    prometheus.Counter
	FeedbackPublished prometheus.Counter
}

// NewMetrics registers and returns approval metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EntriesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_approval_entries_created_total",
			Help: "Total approval entries created from triage-completed events.",
		}),
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_approval_decisions_total",
			Help: "Total reviewer decisions by terminal status.",
		}, []string{"status"}),
		ConflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_approval_conflicts_total",
			Help: "Total decisions rejected because the entry was already decided.",
		}),
		FeedbackPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_classifier_feedback_published_total",
			Help: "Total classifier-feedback events published.",
		}),
	}
	reg.MustRegister(m.EntriesCreated, m.DecisionsTotal, m.ConflictsTotal, m.FeedbackPublished)
	return m
}
