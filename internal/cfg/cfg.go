package cfg

import (
	"errors"
	"flag"
	"fmt"
	"time"
)

// Config adds service-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string

	ClaudeAPIKey    string
	ClassifierModel string
	SentinelModel   string

	HallucinationThreshold float64
	ConfidenceThreshold    float64
	RoutingPolicyPath      string

	DatabaseURL string
	SidecarURL  string

	VoyageAPIKey       string
	OpenAIAPIKey       string
	EmbeddingDimension int
	ContextTopK        int

	AuditEventsURL        string
	TriageCompletedURL    string
	TriageApprovedURL     string
	ClassifierFeedbackURL string

	WarehouseBatchSize    int
	WarehouseFlushSeconds int

	SlackWebhookURL string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on API routes (empty = auth disabled)")

	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider")
	fs.StringVar(&c.ClassifierModel, "classifier-model", "claude-haiku-4-5-20241022", "model for encounter classification")
	fs.StringVar(&c.SentinelModel, "sentinel-model", "claude-sonnet-4-5-20250929", "fixed model for the sentinel safety gate")

	fs.Float64Var(&c.HallucinationThreshold, "hallucination-threshold", 0.15, "sentinel hallucination score above which the breaker trips (0..1)")
	fs.Float64Var(&c.ConfidenceThreshold, "confidence-threshold", 0.85, "sentinel confidence assessment below which the breaker trips (0..1)")
	fs.StringVar(&c.RoutingPolicyPath, "routing-policy", "", "YAML routing policy file (empty = built-in defaults)")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory stores)")
	fs.StringVar(&c.SidecarURL, "sidecar-url", "", "compliance sidecar base URL (empty = validation disabled)")

	fs.StringVar(&c.VoyageAPIKey, "voyage-api-key", "", "Voyage AI API key for primary embeddings")
	fs.StringVar(&c.OpenAIAPIKey, "openai-api-key", "", "OpenAI API key for fallback embeddings")
	fs.IntVar(&c.EmbeddingDimension, "embedding-dimension", 1024, "embedding vector dimension (zero-pad/truncate target)")
	fs.IntVar(&c.ContextTopK, "context-top-k", 5, "protocol documents retrieved per run")

	fs.StringVar(&c.AuditEventsURL, "audit-events-url", "", "push endpoint for audit events (empty = topic disabled)")
	fs.StringVar(&c.TriageCompletedURL, "triage-completed-url", "", "push endpoint for triage-completed events (empty = topic disabled)")
	fs.StringVar(&c.TriageApprovedURL, "triage-approved-url", "", "push endpoint for triage-approved events (empty = topic disabled)")
	fs.StringVar(&c.ClassifierFeedbackURL, "classifier-feedback-url", "", "push endpoint for classifier-feedback events (empty = topic disabled)")

	fs.IntVar(&c.WarehouseBatchSize, "warehouse-batch-size", 50, "audit rows per warehouse batch (1..10000)")
	fs.IntVar(&c.WarehouseFlushSeconds, "warehouse-flush-seconds", 10, "max seconds between warehouse flushes (1..3600)")

	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for reviewer notifications")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// Claude API key is required for LLM access
	if c.ClaudeAPIKey == "" {
		errs = append(errs, errors.New("CLAUDE_API_KEY is required"))
	}
	if c.ClassifierModel == "" {
		errs = append(errs, errors.New("CLASSIFIER_MODEL is required"))
	}
	if c.SentinelModel == "" {
		errs = append(errs, errors.New("SENTINEL_MODEL is required"))
	}

	if c.HallucinationThreshold <= 0 || c.HallucinationThreshold >= 1 {
		errs = append(errs, fmt.Errorf("invalid HALLUCINATION_THRESHOLD %v (must be in (0, 1))", c.HallucinationThreshold))
	}
	if c.ConfidenceThreshold <= 0 || c.ConfidenceThreshold >= 1 {
		errs = append(errs, fmt.Errorf("invalid CONFIDENCE_THRESHOLD %v (must be in (0, 1))", c.ConfidenceThreshold))
	}

	if c.EmbeddingDimension <= 0 || c.EmbeddingDimension > 4096 {
		errs = append(errs, fmt.Errorf("invalid EMBEDDING_DIMENSION %d (must be 1..4096)", c.EmbeddingDimension))
	}
	if c.ContextTopK <= 0 || c.ContextTopK > 50 {
		errs = append(errs, fmt.Errorf("invalid CONTEXT_TOP_K %d (must be 1..50)", c.ContextTopK))
	}

	if c.WarehouseBatchSize <= 0 || c.WarehouseBatchSize > 10000 {
		errs = append(errs, fmt.Errorf("invalid WAREHOUSE_BATCH_SIZE %d (must be 1..10000)", c.WarehouseBatchSize))
	}
	if c.WarehouseFlushSeconds <= 0 || c.WarehouseFlushSeconds > 3600 {
		errs = append(errs, fmt.Errorf("invalid WAREHOUSE_FLUSH_SECONDS %d (must be 1..3600)", c.WarehouseFlushSeconds))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// WarehouseFlushInterval returns the flush interval as a duration.
func (c *Config) WarehouseFlushInterval() time.Duration {
	return time.Duration(c.WarehouseFlushSeconds) * time.Second
}

// WorkerConfig is the configuration surface of the approval worker binary.
// It carries no LLM settings; the worker only consumes bus pushes.
type WorkerConfig struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string

	DatabaseURL string

	TriageApprovedURL     string
	ClassifierFeedbackURL string

	WarehouseBatchSize    int
	WarehouseFlushSeconds int
}

// RegisterFlags binds WorkerConfig fields to the given FlagSet with defaults inline
func (c *WorkerConfig) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8081, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on the approve route (empty = auth disabled)")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory stores)")

	fs.StringVar(&c.TriageApprovedURL, "triage-approved-url", "", "push endpoint for triage-approved events (empty = topic disabled)")
	fs.StringVar(&c.ClassifierFeedbackURL, "classifier-feedback-url", "", "push endpoint for classifier-feedback events (empty = topic disabled)")

	fs.IntVar(&c.WarehouseBatchSize, "warehouse-batch-size", 50, "audit rows per warehouse batch (1..10000)")
	fs.IntVar(&c.WarehouseFlushSeconds, "warehouse-flush-seconds", 10, "max seconds between warehouse flushes (1..3600)")
}

// Validate checks all worker configuration fields for correctness.
func (c *WorkerConfig) Validate() error {
	var errs []error

	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}
	if c.WarehouseBatchSize <= 0 || c.WarehouseBatchSize > 10000 {
		errs = append(errs, fmt.Errorf("invalid WAREHOUSE_BATCH_SIZE %d (must be 1..10000)", c.WarehouseBatchSize))
	}
	if c.WarehouseFlushSeconds <= 0 || c.WarehouseFlushSeconds > 3600 {
		errs = append(errs, fmt.Errorf("invalid WAREHOUSE_FLUSH_SECONDS %d (must be 1..3600)", c.WarehouseFlushSeconds))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// WarehouseFlushInterval returns the flush interval as a duration.
func (c *WorkerConfig) WarehouseFlushInterval() time.Duration {
	return time.Duration(c.WarehouseFlushSeconds) * time.Second
}
