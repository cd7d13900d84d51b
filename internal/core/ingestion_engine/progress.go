package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/markdave123-py/Finlytic/internal/core"
	"github.com/markdave123-py/Finlytic/internal/models"
)

// Progress bands: dispatch settles at 10, extraction walks 10..80 with
// completed batches, indexing reports 85/95, the final event is 100.
const (
	progressDispatched = 10
	progressExtractMax = 80
	progressIndexing   = 85
	progressIndexed    = 95
	progressDone       = 100
)

// EmitFunc delivers one progress event to the caller, typically an SSE
// write. Emit errors are the caller's problem; the streamer only stops on
// context cancellation.
type EmitFunc func(models.ProgressEvent)

// ProgressStreamer polls a job's state and emits progress events until the
// job reaches a terminal state or the poll budget runs out. On completion it
// assembles the stored sections and runs indexing inline, reporting that
// phase on the same stream. The job record is deleted once the stream has
// reported a terminal outcome; a disconnected client leaves the record for
// workers to finish against, and the store TTL reclaims it.
type ProgressStreamer struct {
	store   core.JobStore
	indexer *Indexer
	cfg     *IngestConfig
	logger  *slog.Logger
}

func NewProgressStreamer(store core.JobStore, indexer *Indexer, cfg *IngestConfig, logger *slog.Logger) *ProgressStreamer {
	if cfg == nil {
		cfg = DefaultIngestConfig()
	}
	return &ProgressStreamer{store: store, indexer: indexer, cfg: cfg, logger: logger}
}

// Stream follows the job until it terminates. Every outcome except caller
// cancellation ends with a terminal event (complete or error) before the
// cleanup runs.
func (s *ProgressStreamer) Stream(ctx context.Context, jobID string, emit EmitFunc) error {
	for attempt := 0; attempt < s.cfg.MaxPollAttempts; attempt++ {
		job, err := s.store.GetJob(ctx, jobID)
		if errors.Is(err, core.ErrJobNotFound) {
			emit(models.ProgressEvent{Event: models.EventError, Message: "Job state expired before completion", Progress: progressDone})
			return nil
		}
		if err != nil {
			s.logger.Error("progress poll failed", "jobId", jobID, "error", err)
			emit(models.ProgressEvent{Event: models.EventError, Message: "Lost track of ingestion progress", Progress: progressDone})
			s.cleanup(jobID)
			return nil
		}

		switch job.Status {
		case models.StatusComplete:
			return s.finish(ctx, job, emit)
		case models.StatusError:
			emit(models.ProgressEvent{Event: models.EventError, Message: "Ingestion failed before any batch could be processed", Progress: progressDone})
			s.cleanup(jobID)
			return nil
		}

		emit(models.ProgressEvent{
			Event:    models.EventStatus,
			Message:  fmt.Sprintf("Extracting pages... (%d/%d batches)", job.CompletedBatches, job.TotalBatches),
			Progress: extractionProgress(job),
		})

		select {
		case <-ctx.Done():
			// Client gone. Workers keep mutating the record; TTL reclaims it.
			return ctx.Err()
		case <-time.After(s.cfg.PollInterval):
		}
	}

	emit(models.ProgressEvent{Event: models.EventError, Message: "Timed out waiting for extraction to finish", Progress: progressDone})
	s.cleanup(jobID)
	return nil
}

func extractionProgress(job *models.IngestionJob) int {
	pct := progressDispatched
	if job.TotalBatches > 0 {
		pct += job.CompletedBatches * (progressExtractMax - progressDispatched) / job.TotalBatches
	}
	if pct > progressExtractMax {
		pct = progressExtractMax
	}
	return pct
}

// finish assembles the extracted sections, runs indexing on the caller's
// stream and emits the terminal events.
func (s *ProgressStreamer) finish(ctx context.Context, job *models.IngestionJob, emit EmitFunc) error {
	defer s.cleanup(job.ID)

	sections, err := s.store.GetSections(ctx, job.ID)
	if err != nil {
		s.logger.Error("failed to load sections", "jobId", job.ID, "error", err)
		emit(models.ProgressEvent{Event: models.EventError, Message: "Extraction finished but its output could not be read", Progress: progressDone})
		return nil
	}

	if job.FailedBatches > 0 {
		emit(models.ProgressEvent{
			Event:    models.EventWarning,
			Message:  fmt.Sprintf("%d of %d batches failed; indexing the extracted portion", job.FailedBatches, job.TotalBatches),
			Progress: progressExtractMax,
		})
	}
	emit(models.ProgressEvent{Event: models.EventStatus, Message: "Building search index...", Progress: progressIndexing})

	count, err := s.indexer.IndexText(ctx, AssembleText(sections), job.Filename, job.SessionID)
	switch {
	case errors.Is(err, ErrInsufficientText):
		emit(models.ProgressEvent{
			Event:    models.EventWarning,
			Message:  "Very little text was extracted; the document may be image-heavy or unreadable",
			Progress: progressIndexed,
		})
	case err != nil:
		s.logger.Error("indexing failed", "jobId", job.ID, "filename", job.Filename, "error", err)
		emit(models.ProgressEvent{Event: models.EventError, Message: "Indexing failed after extraction", Progress: progressDone})
		return nil
	default:
		emit(models.ProgressEvent{
			Event:    models.EventFileComplete,
			Message:  fmt.Sprintf("%s indexed (%d chunks)", job.Filename, count),
			Progress: progressIndexed,
		})
	}

	emit(models.ProgressEvent{Event: models.EventComplete, Message: "Ingestion complete", Progress: progressDone})
	return nil
}

// cleanup deletes the job record after a terminal report. Runs on a fresh
// context so a cancelled stream context cannot strand the record until TTL.
func (s *ProgressStreamer) cleanup(jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.DeleteJob(ctx, jobID); err != nil {
		s.logger.Warn("failed to delete finished job", "jobId", jobID, "error", err)
	}
}
