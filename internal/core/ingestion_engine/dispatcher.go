package ingestion_engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/Finlytic/internal/core"
	"github.com/markdave123-py/Finlytic/internal/models"
)

// Dispatcher plans a job's batches and publishes them to the queue.
type Dispatcher struct {
	store   core.JobStore
	queue   core.JobQueue
	objects core.ObjectClient
	cfg     *IngestConfig
	logger  *slog.Logger
}

func NewDispatcher(store core.JobStore, queue core.JobQueue, objects core.ObjectClient, cfg *IngestConfig, logger *slog.Logger) *Dispatcher {
	if cfg == nil {
		cfg = DefaultIngestConfig()
	}
	return &Dispatcher{store: store, queue: queue, objects: objects, cfg: cfg, logger: logger}
}

// StartJob estimates the source's page count, plans its batches, creates the
// job record and publishes every batch. The job record exists before the
// first publish so TotalBatches is fixed before any worker can report.
//
// A batch whose publish fails after retries is recorded as a failed result
// immediately, so the job still reaches its terminal count without it. Only
// when no batch publishes at all is the job marked errored and an error
// returned.
func (d *Dispatcher) StartJob(ctx context.Context, src models.SourceRef, sessionID string) (*models.IngestionJob, error) {
	data, err := d.objects.GetFile(ctx, src.Bucket, src.Key)
	if err != nil {
		return nil, fmt.Errorf("fetch source %s/%s: %w", src.Bucket, src.Key, err)
	}

	pages, exact := EstimatePages(data, src.ContentType)
	plan := Plan(pages, d.cfg.PagesPerBatch, d.cfg.MaxBatches)
	if len(plan) == 0 {
		return nil, fmt.Errorf("no batches planned for %s (%d pages)", src.Filename, pages)
	}

	job := &models.IngestionJob{
		ID:             uuid.NewString(),
		SessionID:      sessionID,
		Filename:       src.Filename,
		TotalBatches:   len(plan),
		Status:         models.StatusProcessing,
		EstimatedPages: pages,
		CreatedAt:      time.Now().UTC(),
	}
	if err := d.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job for %s: %w", src.Filename, err)
	}

	published := 0
	for i, pr := range plan {
		batch := &models.Batch{
			JobID:       job.ID,
			Bucket:      src.Bucket,
			Key:         src.Key,
			Filename:    src.Filename,
			ContentType: src.ContentType,
			SessionID:   sessionID,
			BatchIndex:  i,
			StartPage:   pr.StartPage,
			EndPage:     pr.EndPage,
			TotalPages:  pages,
		}
		if err := d.publishWithRetry(ctx, batch); err != nil {
			d.logger.Error("failed to publish batch", "jobId", job.ID, "batchIndex", i, "error", err)
			// Count it as a failed result so the job still terminates.
			completed, first, rerr := d.store.RecordBatchResult(ctx, job.ID, i, false)
			if rerr != nil {
				d.logger.Error("failed to record unpublished batch", "jobId", job.ID, "batchIndex", i, "error", rerr)
				continue
			}
			// Workers only flip status on their own deliveries; when this
			// record is the last one to land, the flip happens here.
			if first && published > 0 && completed >= len(plan) {
				if serr := d.store.SetStatus(ctx, job.ID, models.StatusComplete); serr != nil {
					d.logger.Error("failed to mark job complete", "jobId", job.ID, "error", serr)
				}
			}
			continue
		}
		published++
	}

	if published == 0 {
		if serr := d.store.SetStatus(ctx, job.ID, models.StatusError); serr != nil {
			d.logger.Error("failed to mark job errored", "jobId", job.ID, "error", serr)
		}
		return nil, fmt.Errorf("publish batches for job %s: all %d failed", job.ID, len(plan))
	}

	d.logger.Info("ingestion job dispatched",
		"jobId", job.ID, "filename", src.Filename, "sessionId", sessionID,
		"estimatedPages", pages, "exact", exact,
		"batches", len(plan), "published", published)
	return job, nil
}

func (d *Dispatcher) publishWithRetry(ctx context.Context, batch *models.Batch) error {
	var lastErr error
	for attempt := 0; attempt <= d.cfg.PublishRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			}
		}
		if lastErr = d.queue.Publish(ctx, batch); lastErr == nil {
			return nil
		}
	}
	return lastErr
}
