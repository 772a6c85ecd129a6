package warehouse

import (
	"context"

	"github.com/linnemanlabs/go-core/log"
)

// LogSink writes batches to the structured log instead of a real warehouse.
// Used when no ingestion endpoint is configured.
type LogSink struct {
	logger log.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger log.Logger) *LogSink {
	if logger == nil {
		logger = log.Nop()
	}
	return &LogSink{logger: logger}
}

// WriteBatch logs one line per row.
func (s *LogSink) WriteBatch(ctx context.Context, rows []Row) error {
	for _, r := range rows {
		s.logger.Info(ctx, "warehouse row",
			"encounter_id", r.EncounterID,
			"node", r.Node,
			"model", r.Model,
			"category", r.RoutingCategory,
			"input_tokens", r.InputTokens,
			"output_tokens", r.OutputTokens,
			"cost_usd", r.CostUSD,
			"duration_ms", r.DurationMs,
		)
	}
	return nil
}
