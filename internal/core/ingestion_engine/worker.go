package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/markdave123-py/Finlytic/internal/core"
	"github.com/markdave123-py/Finlytic/internal/models"
)

const (
	extractBackoffBase   = 500 * time.Millisecond
	rateLimitBackoffBase = 5 * time.Second
)

// BatchWorker processes one queued batch at a time: fetch the source bytes,
// extract the batch's page range, persist the section and record the result.
type BatchWorker struct {
	store     core.JobStore
	objects   core.ObjectClient
	extractor core.PageExtractor
	cfg       *IngestConfig
	logger    *slog.Logger
}

func NewBatchWorker(store core.JobStore, objects core.ObjectClient, extractor core.PageExtractor, cfg *IngestConfig, logger *slog.Logger) *BatchWorker {
	if cfg == nil {
		cfg = DefaultIngestConfig()
	}
	return &BatchWorker{store: store, objects: objects, extractor: extractor, cfg: cfg, logger: logger}
}

// Process handles a delivered batch. A non-nil return signals the queue to
// redeliver; extraction failures are NOT among them. Once extraction has
// exhausted its retries the batch is recorded as failed in the job state and
// nil is returned, so the job still terminates instead of cycling through
// redeliveries that would fail the same way.
func (w *BatchWorker) Process(ctx context.Context, batch *models.Batch) error {
	job, err := w.store.GetJob(ctx, batch.JobID)
	if errors.Is(err, core.ErrJobNotFound) {
		// Expired or cleaned up while queued; nothing left to account to.
		w.logger.Warn("dropping batch for unknown job", "jobId", batch.JobID, "batchIndex", batch.BatchIndex)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load job %s: %w", batch.JobID, err)
	}
	if job.Status.Terminal() {
		w.logger.Warn("dropping batch for finished job", "jobId", batch.JobID, "batchIndex", batch.BatchIndex, "status", job.Status)
		return nil
	}

	data, err := w.objects.GetFile(ctx, batch.Bucket, batch.Key)
	if err != nil {
		return fmt.Errorf("fetch %s/%s: %w", batch.Bucket, batch.Key, err)
	}

	text, err := w.extractWithRetry(ctx, data, batch)
	succeeded := err == nil
	if err != nil {
		w.logger.Error("batch extraction failed",
			"jobId", batch.JobID, "batchIndex", batch.BatchIndex,
			"pages", fmt.Sprintf("%d-%d", batch.StartPage, batch.EndPage), "error", err)
	}

	if succeeded && strings.TrimSpace(text) != "" {
		section := models.Section{
			BatchIndex: batch.BatchIndex,
			StartPage:  batch.StartPage,
			EndPage:    batch.EndPage,
			Text:       text,
		}
		if err := w.store.PutSection(ctx, batch.JobID, section); err != nil {
			return fmt.Errorf("store section %d of job %s: %w", batch.BatchIndex, batch.JobID, err)
		}
	}

	completed, first, err := w.store.RecordBatchResult(ctx, batch.JobID, batch.BatchIndex, succeeded)
	if err != nil {
		if errors.Is(err, core.ErrJobNotFound) {
			return nil
		}
		return fmt.Errorf("record batch %d of job %s: %w", batch.BatchIndex, batch.JobID, err)
	}
	if !first {
		w.logger.Debug("duplicate batch delivery", "jobId", batch.JobID, "batchIndex", batch.BatchIndex)
	}

	if completed >= job.TotalBatches {
		if err := w.store.SetStatus(ctx, batch.JobID, models.StatusComplete); err != nil && !errors.Is(err, core.ErrJobNotFound) {
			w.logger.Error("failed to mark job complete", "jobId", batch.JobID, "error", err)
		}
	}
	return nil
}

// extractWithRetry runs the extractor with exponential backoff. Rate-limit
// errors start from a larger base delay than transient ones.
func (w *BatchWorker) extractWithRetry(ctx context.Context, data []byte, batch *models.Batch) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= w.cfg.ExtractRetries; attempt++ {
		text, err := w.extractor.ExtractPages(ctx, data, batch.ContentType, batch.StartPage, batch.EndPage)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if attempt == w.cfg.ExtractRetries {
			break
		}

		base := extractBackoffBase
		if errors.Is(err, core.ErrRateLimited) {
			base = rateLimitBackoffBase
		}
		delay := base << (attempt - 1)
		w.logger.Warn("extraction attempt failed, retrying",
			"jobId", batch.JobID, "batchIndex", batch.BatchIndex,
			"attempt", attempt, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}
	return "", fmt.Errorf("extract pages %d-%d after %d attempts: %w",
		batch.StartPage, batch.EndPage, w.cfg.ExtractRetries, lastErr)
}
