// Package embedding generates fixed-dimension text embeddings for protocol
// retrieval. Voyage AI is the primary provider with OpenAI as fallback; both
// are normalized to the configured dimension by zero-pad or truncate so the
// vector store sees one consistent width.
package embedding

import (
	"context"
	"fmt"

	"github.com/linnemanlabs/go-core/log"
)

// DefaultDimension matches the vector column width in the protocol store.
const DefaultDimension = 1024

// Provider produces an embedding vector for one text.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Service tries the primary provider first and falls back to the secondary.
// It raises only when every provider fails; the caller (context retriever)
// handles that by skipping augmentation.
type Service struct {
	primary   Provider
	fallback  Provider
	dimension int
	logger    log.Logger
}

// NewService creates an embedding service. fallback may be nil.
func NewService(primary, fallback Provider, dimension int, logger log.Logger) *Service {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		primary:   primary,
		fallback:  fallback,
		dimension: dimension,
		logger:    logger,
	}
}

// Embed returns a vector of exactly the configured dimension.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, perr := s.primary.Embed(ctx, text)
	if perr == nil {
		return s.normalize(vec), nil
	}

	if s.fallback == nil {
		return nil, fmt.Errorf("primary embedding provider failed, no fallback: %w", perr)
	}

	s.logger.Warn(ctx, "primary embedding provider failed, trying fallback", "error", perr)

	vec, ferr := s.fallback.Embed(ctx, text)
	if ferr != nil {
		return nil, fmt.Errorf("all embedding providers failed: primary: %v; fallback: %w", perr, ferr)
	}
	return s.normalize(vec), nil
}

// normalize pads with zeros or truncates to the target dimension.
func (s *Service) normalize(vec []float32) []float32 {
	switch {
	case len(vec) == s.dimension:
		return vec
	case len(vec) > s.dimension:
		return vec[:s.dimension]
	default:
		out := make([]float32, s.dimension)
		copy(out, vec)
		return out
	}
}
