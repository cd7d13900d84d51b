package models

import (
	"time"
)

// User represents an authenticated user of the system.
type User struct {
	ID           string    `db:"id" json:"id"`
	FirstName    string    `db:"first_name" json:"first_name"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// JobStatus tracks one ingestion attempt through its lifecycle.
// pending -> processing -> complete | error. Terminal states are sticky:
// writing "complete" twice is equivalent to writing it once.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusComplete   JobStatus = "complete"
	StatusError      JobStatus = "error"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// IngestionJob is the shared state record for one document ingestion attempt.
// TotalBatches is fixed at creation and never mutated afterwards; the two
// counters only move forward, and only via the job store's atomic operations.
type IngestionJob struct {
	ID               string    `json:"job_id"`
	SessionID        string    `json:"session_id"`
	Filename         string    `json:"filename"`
	TotalBatches     int       `json:"total_batches"`
	CompletedBatches int       `json:"completed_batches"`
	FailedBatches    int       `json:"failed_batches"`
	Status           JobStatus `json:"status"`
	EstimatedPages   int       `json:"estimated_pages"`
	CreatedAt        time.Time `json:"created_at"`
}

// Section is one worker's labeled extraction output. Sections are keyed by
// batch index in the store, so a redelivered batch overwrites its own output
// instead of appending a duplicate.
type Section struct {
	BatchIndex int    `json:"batch_index"`
	StartPage  int    `json:"start_page"`
	EndPage    int    `json:"end_page"`
	Text       string `json:"text"`
}

// Batch is the ephemeral work description delivered through the job queue.
// It carries enough source location for a worker to re-fetch the document
// bytes on its own; batches never share a buffer.
type Batch struct {
	JobID       string `json:"job_id"`
	Bucket      string `json:"bucket"`
	Key         string `json:"key"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	SessionID   string `json:"session_id"`
	BatchIndex  int    `json:"batch_index"`
	StartPage   int    `json:"start_page"`
	EndPage     int    `json:"end_page"`
	TotalPages  int    `json:"total_pages"`
}

// ChunkType is a heuristic classification of a chunk's content.
type ChunkType string

const (
	ChunkText   ChunkType = "text"
	ChunkTable  ChunkType = "table"
	ChunkHeader ChunkType = "header"
)

// DocumentChunk is a bounded text span cut from the assembled extraction
// output. Chunks are derived, not persisted: they are converted straight
// into vector records.
type DocumentChunk struct {
	Content    string    `json:"content"`
	PageNumber int       `json:"page_number"`
	ChunkIndex int       `json:"chunk_index"`
	Type       ChunkType `json:"type"`
}

// VectorRecord is the unit written to the vector store. The ID is a
// deterministic composite of session, sanitized filename and chunk index, so
// re-ingesting the same document overwrites instead of duplicating.
type VectorRecord struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Filename   string    `json:"filename"`
	PageNumber int       `json:"page_number"`
	ChunkType  ChunkType `json:"chunk_type"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"embedding"`
}

// Progress event names emitted on the SSE stream.
const (
	EventStatus       = "status"
	EventFileComplete = "file_complete"
	EventComplete     = "complete"
	EventError        = "error"
	EventWarning      = "warning"
)

// ProgressEvent is one server-sent event on the ingestion stream.
type ProgressEvent struct {
	Event    string `json:"event"`
	Message  string `json:"message"`
	Progress int    `json:"progress"`
}

// SourceRef locates already-uploaded source bytes in object storage.
type SourceRef struct {
	Bucket      string `json:"bucket"`
	Key         string `json:"key"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
}
