package ingestion_engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/Finlytic/internal/core"
	"github.com/markdave123-py/Finlytic/internal/models"
)

// ErrInsufficientText means the assembled extraction output is too short to
// be worth indexing, usually an image-heavy scan that extraction could not
// read.
var ErrInsufficientText = errors.New("insufficient text to index")

// Indexer chunks assembled extraction output, embeds the chunks and upserts
// them into the vector store. Embeddings are cached by content hash, so a
// re-ingested document (or repeated boilerplate like page footers) does not
// re-pay the embedding call.
type Indexer struct {
	embedder core.EmbeddingProvider
	vectors  core.VectorStore
	cfg      *IngestConfig
	logger   *slog.Logger

	mu    sync.Mutex
	cache map[string][]float32
}

func NewIndexer(embedder core.EmbeddingProvider, vectors core.VectorStore, cfg *IngestConfig, logger *slog.Logger) *Indexer {
	if cfg == nil {
		cfg = DefaultIngestConfig()
	}
	return &Indexer{
		embedder: embedder,
		vectors:  vectors,
		cfg:      cfg,
		logger:   logger,
		cache:    make(map[string][]float32),
	}
}

// IndexText chunks fullText and indexes every chunk under the session,
// returning the number of vectors written. Returns ErrInsufficientText when
// the text is below the indexing threshold.
//
// Vector IDs are deterministic over (session, filename, chunk index), so
// re-ingesting a document overwrites its previous vectors instead of
// accumulating duplicates.
func (ix *Indexer) IndexText(ctx context.Context, fullText, filename, sessionID string) (int, error) {
	if len(strings.TrimSpace(fullText)) < ix.cfg.MinIndexLen {
		return 0, ErrInsufficientText
	}

	chunks := ChunkDocument(fullText, ix.cfg)
	if len(chunks) == 0 {
		return 0, ErrInsufficientText
	}

	g, gctx := errgroup.WithContext(ctx)
	batches := make(chan []models.DocumentChunk, 4)

	g.Go(func() error {
		defer close(batches)
		for start := 0; start < len(chunks); start += ix.cfg.EmbedBatchSize {
			end := start + ix.cfg.EmbedBatchSize
			if end > len(chunks) {
				end = len(chunks)
			}
			select {
			case batches <- chunks[start:end]:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	indexed := 0
	g.Go(func() error {
		for batch := range batches {
			vectors := ix.embedChunks(gctx, batch)
			records := make([]models.VectorRecord, len(batch))
			for i, ch := range batch {
				records[i] = models.VectorRecord{
					ID:         vectorID(sessionID, filename, ch.ChunkIndex),
					SessionID:  sessionID,
					Filename:   filename,
					PageNumber: ch.PageNumber,
					ChunkType:  ch.Type,
					Content:    ch.Content,
					Embedding:  vectors[i],
				}
			}
			if err := ix.vectors.UpsertVectors(gctx, records); err != nil {
				return fmt.Errorf("upsert %d vectors: %w", len(records), err)
			}
			indexed += len(records)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return indexed, err
	}

	ix.logger.Info("document indexed",
		"filename", filename, "sessionId", sessionID, "chunks", indexed)
	return indexed, nil
}

// embedChunks returns one vector per chunk. Cache hits skip the provider;
// when the provider fails, misses get zero vectors so indexing still
// completes with the chunk text searchable by id and filterable by session.
func (ix *Indexer) embedChunks(ctx context.Context, batch []models.DocumentChunk) [][]float32 {
	vectors := make([][]float32, len(batch))
	var missTexts []string
	var missIdx []int

	ix.mu.Lock()
	for i, ch := range batch {
		if v, ok := ix.cache[contentHash(ch.Content)]; ok {
			vectors[i] = v
		} else {
			missTexts = append(missTexts, ch.Content)
			missIdx = append(missIdx, i)
		}
	}
	ix.mu.Unlock()

	if len(missTexts) == 0 {
		return vectors
	}

	embedded, err := ix.embedder.EmbedTexts(ctx, missTexts)
	if err != nil || len(embedded) != len(missTexts) {
		ix.logger.Warn("embedding failed, indexing with zero vectors",
			"chunks", len(missTexts), "error", err)
		for _, i := range missIdx {
			vectors[i] = make([]float32, ix.cfg.EmbedDim)
		}
		return vectors
	}

	ix.mu.Lock()
	for j, i := range missIdx {
		vectors[i] = embedded[j]
		ix.cache[contentHash(batch[i].Content)] = embedded[j]
	}
	ix.mu.Unlock()
	return vectors
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// vectorID builds a deterministic id from the session, a sanitized filename
// and the chunk index.
func vectorID(sessionID, filename string, chunkIndex int) string {
	return fmt.Sprintf("%s_%s_%d", sessionID, sanitizeFilename(filename), chunkIndex)
}

func sanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
