package pipeline

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the triage pipeline.
type Metrics struct {
	RunsTotal       *prometheus.CounterVec
	RunDuration     *prometheus.HistogramVec
	RunTokensIn     prometheus.Histogram
	RunTokensOut    prometheus.Histogram
	RunCostUSD      prometheus.Histogram
	NodesTotal      *prometheus.CounterVec
	NodeDuration    *prometheus.HistogramVec
	TierSelected    *prometheus.CounterVec
	Escalations     *prometheus.CounterVec
	BreakerTrips    *prometheus.CounterVec
	LLMCallsTotal   prometheus.Counter
	LLMTokensIn     prometheus.Counter
	LLMTokensOut    prometheus.Counter
	LLMCostUSD      prometheus.Counter
	LLMDuration     prometheus.Histogram
	RetrievedDocs   prometheus.Histogram
	ValidationFlags *prometheus.CounterVec
}

// NewMetrics registers and returns pipeline metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_triage_runs_total",
			Help: "Total pipeline runs by outcome.",
		}, []string{"outcome"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sentinel_triage_run_duration_seconds",
			Help:    "Duration of pipeline runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s .. ~256s
		}, []string{"outcome"}),
		RunTokensIn: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sentinel_triage_tokens_input",
			Help:    "Input tokens consumed per pipeline run.",
			Buckets: prometheus.ExponentialBuckets(100, 2, 12), // 100 .. ~409600
		}),
		RunTokensOut: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sentinel_triage_tokens_output",
			Help:    "Output tokens consumed per pipeline run.",
			Buckets: prometheus.ExponentialBuckets(100, 2, 12), // 100 .. ~409600
		}),
		RunCostUSD: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sentinel_triage_cost_usd",
			Help:    "Model spend per pipeline run in USD.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8), // $0.001 .. ~$16
		}),
		NodesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_node_executions_total",
			Help: "Total node executions by node and status.",
		}, []string{"node", "status"}),
		NodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sentinel_node_duration_seconds",
			Help:    "Duration of node executions in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s .. ~51s
		}, []string{"node"}),
		TierSelected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_router_tier_selected_total",
			Help: "Total routing decisions by selected tier.",
		}, []string{"tier"}),
		Escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_router_escalations_total",
			Help: "Total tier escalations by category.",
		}, []string{"category"}),
		BreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_circuit_breaker_trips_total",
			Help: "Total circuit breaker trips by tripping node.",
		}, []string{"node"}),
		LLMCallsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_llm_calls_total",
			Help: "Total LLM provider calls.",
		}),
		LLMTokensIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_llm_tokens_input_total",
			Help: "Total LLM input tokens consumed.",
		}),
		LLMTokensOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_llm_tokens_output_total",
			Help: "Total LLM output tokens consumed.",
		}),
		LLMCostUSD: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_llm_cost_usd_total",
			Help: "Total LLM spend in USD.",
		}),
		LLMDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sentinel_llm_call_duration_seconds",
			Help:    "Duration of individual LLM calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s .. ~64s
		}),
		RetrievedDocs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sentinel_context_documents_retrieved",
			Help:    "Protocol documents retrieved per pipeline run.",
			Buckets: prometheus.LinearBuckets(0, 1, 11), // 0 .. 10
		}),
		ValidationFlags: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_compliance_flags_total",
			Help: "Total compliance flags raised by flag name.",
		}, []string{"flag"}),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.RunTokensIn,
		m.RunTokensOut,
		m.RunCostUSD,
		m.NodesTotal,
		m.NodeDuration,
		m.TierSelected,
		m.Escalations,
		m.BreakerTrips,
		m.LLMCallsTotal,
		m.LLMTokensIn,
		m.LLMTokensOut,
		m.LLMCostUSD,
		m.LLMDuration,
		m.RetrievedDocs,
		m.ValidationFlags,
	)

	return m
}
