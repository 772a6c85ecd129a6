package warehouse

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for warehouse ingestion.
type Metrics struct {
	RowsFlushed   prometheus.Counter
	Flushes       *prometheus.CounterVec
	FlushFailures prometheus.Counter
}

// NewMetrics registers and returns warehouse metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RowsFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_warehouse_rows_flushed_total",
			Help: "Total rows delivered to the warehouse sink.",
		}),
		Flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_warehouse_flushes_total",
			Help: "Total successful flushes by trigger.",
		}, []string{"trigger"}),
		FlushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_warehouse_flush_failures_total",
			Help: "Total failed sink writes.",
		}),
	}
	reg.MustRegister(m.RowsFlushed, m.Flushes, m.FlushFailures)
	return m
}
