package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/markdave123-py/Finlytic/internal/config"
	"github.com/markdave123-py/Finlytic/internal/core"
	"github.com/markdave123-py/Finlytic/internal/core/ingestion_engine"
	"github.com/markdave123-py/Finlytic/internal/models"
)

type IngestHandler struct {
	objectclient core.ObjectClient
	store        core.JobStore
	dispatcher   *ingestion_engine.Dispatcher
	streamer     *ingestion_engine.ProgressStreamer
	cfg          *config.Config
	logger       *slog.Logger
}

func NewIngestHandler(obj core.ObjectClient, store core.JobStore, dispatcher *ingestion_engine.Dispatcher, streamer *ingestion_engine.ProgressStreamer, cfg *config.Config, logger *slog.Logger) *IngestHandler {
	return &IngestHandler{objectclient: obj, store: store, dispatcher: dispatcher, streamer: streamer, cfg: cfg, logger: logger}
}

// Ingest uploads a document, dispatches its extraction batches and streams
// progress back as server-sent events. The response stays open until the
// job reaches a terminal event or the client disconnects; a disconnect does
// not stop the extraction workers.
func (h *IngestHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	r.ParseMultipartForm(52 << 20)

	userID, ok := r.Context().Value("user_id").(string)
	if !ok {
		http.Error(w, "user_id not found in context", http.StatusUnauthorized)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "invalid file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	sessionID := r.FormValue("session_id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "could not read file", http.StatusBadRequest)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	cleanFilename := filepath.Base(header.Filename)
	s3Key := fmt.Sprintf("%s/%s/%s", userID, sessionID, cleanFilename)

	uploadctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	if _, err := h.objectclient.UploadFile(uploadctx, h.cfg.BucketName, s3Key, data, contentType); err != nil {
		http.Error(w, fmt.Sprintf("upload failed: %v", err), http.StatusInternalServerError)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	emit := func(e models.ProgressEvent) {
		writeSSE(w, flusher, e)
	}

	src := models.SourceRef{
		Bucket:      h.cfg.BucketName,
		Key:         s3Key,
		Filename:    cleanFilename,
		ContentType: contentType,
	}
	job, err := h.dispatcher.StartJob(r.Context(), src, sessionID)
	if err != nil {
		h.logger.Error("dispatch failed", "filename", cleanFilename, "sessionId", sessionID, "error", err)
		emit(models.ProgressEvent{Event: models.EventError, Message: "Could not start ingestion for this document", Progress: 100})
		return
	}

	// First event carries the identifiers a client needs to reconnect or to
	// poll the job endpoint.
	writeSSE(w, flusher, map[string]any{
		"event":      models.EventStatus,
		"message":    fmt.Sprintf("Processing %s in %d batches", cleanFilename, job.TotalBatches),
		"progress":   10,
		"job_id":     job.ID,
		"session_id": sessionID,
	})

	if err := h.streamer.Stream(r.Context(), job.ID, emit); err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Error("progress stream ended abnormally", "jobId", job.ID, "error", err)
	}
}

// GetJob returns the current snapshot of an in-flight ingestion job.
func (h *IngestHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := h.store.GetJob(r.Context(), jobID)
	if errors.Is(err, core.ErrJobNotFound) {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}
