package ingestion_engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"code.sajari.com/docconv"

	"github.com/markdave123-py/Finlytic/internal/core"
)

// LocalExtractor is the offline extraction backend. It converts the whole
// document to plain text with docconv, then carves the requested page range
// out proportionally by byte offset. Page boundaries are approximate; it
// exists for development and for deployments without a vision model, not
// for table fidelity.
type LocalExtractor struct {
	logger *slog.Logger
}

func NewLocalExtractor(logger *slog.Logger) *LocalExtractor {
	return &LocalExtractor{logger: logger}
}

func (e *LocalExtractor) ExtractPages(ctx context.Context, data []byte, contentType string, startPage, endPage int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	res, err := docconv.Convert(bytes.NewReader(data), contentType, true)
	if err != nil {
		return "", fmt.Errorf("docconv convert: %w", err)
	}
	text := strings.TrimSpace(res.Body)
	if text == "" {
		return "", nil
	}

	totalPages, _ := EstimatePages(data, contentType)
	if endPage > totalPages {
		endPage = totalPages
	}
	if startPage > endPage {
		return "", nil
	}

	var b strings.Builder
	for page := startPage; page <= endPage; page++ {
		lo := len(text) * (page - 1) / totalPages
		hi := len(text) * page / totalPages
		slice := strings.TrimSpace(text[lo:hi])
		if slice == "" {
			continue
		}
		fmt.Fprintf(&b, "=== PAGE %d ===\n%s\n", page, slice)
	}

	e.logger.Debug("local extraction",
		"contentType", contentType, "pages", fmt.Sprintf("%d-%d", startPage, endPage),
		"chars", b.Len())
	return b.String(), nil
}

var _ core.PageExtractor = (*LocalExtractor)(nil)
