package core

import (
	"context"
	"errors"
)

// ErrRateLimited marks an extraction failure caused by provider rate
// limiting. Workers retry these with a larger backoff base than other
// errors. The provider does not return a structured code, so the concrete
// extractor classifies by error content.
var ErrRateLimited = errors.New("extraction service rate limited")

type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

type LLMProvider interface {
	Generate(ctx context.Context, systemPrompt string, userPrompt string) (string, error)
}

// PageExtractor converts raw document bytes plus a 1-based inclusive page
// range into text. Implementations must instruct the underlying model to
// emit the range verbatim with page markers and never summarize. The page
// range is advisory: the final batch of a document may cover fewer real
// pages than endPage implies.
type PageExtractor interface {
	ExtractPages(ctx context.Context, data []byte, contentType string, startPage, endPage int) (string, error)
}
