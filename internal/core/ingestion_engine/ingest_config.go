package ingestion_engine

import "time"

// IngestConfig tunes the batch ingestion pipeline.
//
// PagesPerBatch / MaxBatches: batch plan geometry; pages past the cap are
// dropped rather than erroring (bounded fan-out beats completeness on very
// large documents).
// ExtractRetries: extraction attempts per batch before the batch is
// recorded as failed.
// TargetChunkSize / MinChunkSize: paragraph accumulation bounds, in chars.
// OverlapPercent: share of TargetChunkSize carried from the tail of one
// chunk into the next.
// MaxChunks: per-document ceiling on chunks; everything past it is dropped
// to bound embedding cost.
// MinIndexLen: below this many characters of assembled text, indexing is
// skipped and reported as limited extraction.
// EmbedBatchSize: chunks per embedding request.
// EmbedDim: embedding dimension, used for the zero-vector fallback.
// PollInterval / MaxPollAttempts: progress polling cadence and hard timeout.
type IngestConfig struct {
	PagesPerBatch   int
	MaxBatches      int
	ExtractRetries  int
	PublishRetries  int
	TargetChunkSize int
	MinChunkSize    int
	OverlapPercent  int
	MaxChunks       int
	MinIndexLen     int
	EmbedBatchSize  int
	EmbedDim        int
	PollInterval    time.Duration
	MaxPollAttempts int
}

// DefaultIngestConfig returns the production defaults.
func DefaultIngestConfig() *IngestConfig {
	return &IngestConfig{
		PagesPerBatch:   50,
		MaxBatches:      12,
		ExtractRetries:  3,
		PublishRetries:  2,
		TargetChunkSize: 1200,
		MinChunkSize:    200,
		OverlapPercent:  15,
		MaxChunks:       300,
		MinIndexLen:     100,
		EmbedBatchSize:  16,
		EmbedDim:        768,
		PollInterval:    2 * time.Second,
		MaxPollAttempts: 150,
	}
}
