package ingestion_engine

import (
	"bytes"
	"strings"
)

// PageRange is one contiguous, 1-based inclusive span of document pages
// assigned to a single worker.
type PageRange struct {
	StartPage int
	EndPage   int
}

// Plan splits an estimated page count into contiguous, non-overlapping
// batches of pagesPerBatch pages, capped at maxBatches. When the estimate
// implies more batches than the cap, the last retained batch is clamped to
// the cap boundary and pages beyond it are silently dropped.
func Plan(estimatedPages, pagesPerBatch, maxBatches int) []PageRange {
	if estimatedPages <= 0 || pagesPerBatch <= 0 || maxBatches <= 0 {
		return nil
	}

	count := (estimatedPages + pagesPerBatch - 1) / pagesPerBatch
	if count > maxBatches {
		count = maxBatches
	}

	batches := make([]PageRange, 0, count)
	for i := 0; i < count; i++ {
		start := i*pagesPerBatch + 1
		end := (i + 1) * pagesPerBatch
		if end > estimatedPages {
			end = estimatedPages
		}
		batches = append(batches, PageRange{StartPage: start, EndPage: end})
	}
	return batches
}

const (
	pdfPageMarker  = "/Type /Page"
	pdfTreeMarker  = "/Type /Pages"
	bytesPerPage   = 50 * 1024
	maxScannedSize = 32 << 20
)

// EstimatePages guesses the page count from raw source bytes. For PDFs it
// counts page-object markers; anything else falls back to a bytes-per-page
// ratio. exact is false for ratio-based guesses, and callers must tolerate
// a wrong estimate either way: the final batch may cover fewer real pages
// than its range implies.
func EstimatePages(data []byte, contentType string) (pages int, exact bool) {
	if len(data) == 0 {
		return 1, false
	}

	if strings.HasPrefix(contentType, "image/") {
		return 1, true
	}

	scan := data
	if len(scan) > maxScannedSize {
		scan = scan[:maxScannedSize]
	}

	if strings.Contains(contentType, "pdf") || bytes.HasPrefix(scan, []byte("%PDF")) {
		// "/Type /Page" also matches the "/Type /Pages" tree nodes;
		// subtract those out.
		n := bytes.Count(scan, []byte(pdfPageMarker)) - bytes.Count(scan, []byte(pdfTreeMarker))
		if n > 0 {
			return n, true
		}
	}

	pages = len(data) / bytesPerPage
	if pages < 1 {
		pages = 1
	}
	return pages, false
}
