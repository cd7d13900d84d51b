package core

import (
	"context"
	"errors"
	"io"

	"github.com/markdave123-py/Finlytic/internal/models"
)

// ErrJobNotFound is returned by job store reads when the record does not
// exist or its TTL has expired.
var ErrJobNotFound = errors.New("ingestion job not found")

// JobStore is the shared state record for in-flight ingestion jobs.
// It abstracts Redis so higher layers never depend on a specific backend.
//
// Counter semantics: RecordBatchResult is atomic relative to concurrent
// callers and counts each batch index at most once, so at-least-once queue
// delivery cannot inflate the counters. Records expire after a bounded TTL
// even if nobody ever deletes them.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.IngestionJob) error

	// PutSection stores a worker's labeled output keyed by batch index.
	// A retried worker overwrites its own section rather than appending.
	PutSection(ctx context.Context, jobID string, section models.Section) error

	// RecordBatchResult marks one batch finished (succeeded or failed) and
	// returns the new completed count. first is false when this batch index
	// was already recorded, in which case no counter moved.
	RecordBatchResult(ctx context.Context, jobID string, batchIndex int, succeeded bool) (completed int, first bool, err error)

	SetStatus(ctx context.Context, jobID string, status models.JobStatus) error
	GetJob(ctx context.Context, jobID string) (*models.IngestionJob, error)
	GetSections(ctx context.Context, jobID string) ([]models.Section, error)
	DeleteJob(ctx context.Context, jobID string) error
}

// BatchHandler processes one delivered batch. A non-nil error tells the
// queue the delivery failed and the batch should be redelivered (bounded).
type BatchHandler func(ctx context.Context, batch *models.Batch) error

// JobQueue dispatches batches to workers with at-least-once delivery.
// Publish deduplicates per job: a (session, batch index) guard holding the
// owning jobID suppresses a republish of the same job's batch, while a new
// job reusing the slot (another document in the session) publishes normally.
type JobQueue interface {
	Publish(ctx context.Context, batch *models.Batch) error

	// Consume blocks, delivering batches to the handler until ctx is done.
	Consume(ctx context.Context, handler BatchHandler) error

	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
// It's abstract so you can replace AWS with MinIO, GCP, etc. easily.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)

	GetObjectReader(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// VectorStore owns the vector records. Upserts are idempotent on record ID;
// queries are always scoped to a session.
type VectorStore interface {
	UpsertVectors(ctx context.Context, records []models.VectorRecord) error
	SearchSession(ctx context.Context, sessionID string, queryVec []float32, limit int) ([]models.VectorRecord, error)
}

// DbClient defines the relational persistence operations (users plus the
// vector store). It abstracts Postgres/pgvector so higher layers never
// depend on a specific DB.
type DbClient interface {
	CreateUser(ctx context.Context, user *models.User) (err error)
	GetUserByEmail(ctx context.Context, email string) (user *models.User, err error)

	VectorStore

	Close() error
}
