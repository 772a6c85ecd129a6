package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/sentinelhealth/sentinel/internal/llm"
)

// FallbackCategory is used when classification fails. It is not in the policy
// table, so the router's unknown-category rule sends it to the mid tier.
const FallbackCategory = "unknown"

// DefaultClassifyTimeout bounds the classifier call separately from the
// overall request deadline. Classification failure is recoverable, so a slow
// classifier degrades to default routing instead of stalling the pipeline.
const DefaultClassifyTimeout = 5 * time.Second

var clinicalCategories = []string{
	"routine_vitals",
	"chronic_management",
	"symptom_assessment",
	"medication_review",
	"diagnostic_interpretation",
	"acute_presentation",
	"critical_emergency",
	"mental_health",
	"pediatric",
	"surgical_consult",
}

const classifierSystemPrompt = `You are a clinical encounter classifier. Given raw encounter text, classify it into exactly ONE category and provide a confidence score.

Categories: %s

Respond ONLY with valid JSON:
{"category": "<category>", "confidence": <0.0-1.0>, "reason": "<brief reason>"}`

// Classifier maps raw encounter text to a clinical category with one model
// call. It never returns an error: failures degrade to FallbackCategory with
// zero confidence so routing falls through to the mid tier.
type Classifier struct {
	provider llm.Provider
	model    string
	timeout  time.Duration
	logger   log.Logger
}

// NewClassifier creates a classifier running on a fixed (cheap) model.
func NewClassifier(provider llm.Provider, model string, logger log.Logger) *Classifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Classifier{
		provider: provider,
		model:    model,
		timeout:  DefaultClassifyTimeout,
		logger:   logger,
	}
}

// ClassifyResult is the classifier outcome plus call accounting.
type ClassifyResult struct {
	Classification
	Usage   llm.Usage
	CostUSD float64
}

// Classify categorizes the encounter text. Call failures and parse failures
// are absorbed: the returned classification is always usable by the router.
func (c *Classifier) Classify(ctx context.Context, encounterText string) ClassifyResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.provider.Complete(ctx, &llm.Request{
		Model:       c.model,
		System:      fmt.Sprintf(classifierSystemPrompt, strings.Join(clinicalCategories, ", ")),
		UserMessage: encounterText,
		MaxTokens:   256,
	})
	if err != nil {
		c.logger.Warn(ctx, "classifier call failed, using fallback category", "error", err)
		return ClassifyResult{Classification: Classification{
			Category: FallbackCategory,
			Reason:   fmt.Sprintf("classifier error: %v", err),
		}}
	}

	var cls Classification
	if perr := json.Unmarshal([]byte(resp.Content), &cls); perr != nil || cls.Category == "" {
		c.logger.Warn(ctx, "classifier response unparseable, using fallback category",
			"error", perr, "content_len", len(resp.Content))
		return ClassifyResult{
			Classification: Classification{
				Category: FallbackCategory,
				Reason:   fmt.Sprintf("classifier parse error: %v", perr),
			},
			Usage:   resp.Usage,
			CostUSD: resp.CostUSD,
		}
	}

	return ClassifyResult{
		Classification: cls,
		Usage:          resp.Usage,
		CostUSD:        resp.CostUSD,
	}
}
