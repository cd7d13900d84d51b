package ingestion_engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/markdave123-py/Finlytic/internal/models"
)

// sectionMarkerRe matches the labels left in the assembled text: extraction
// output carries "=== PAGE n ===" lines, and AssembleText prefixes each
// worker section with "=== SECTION i | PAGES s-e ===". The optional PAGES
// group wins for page attribution when present.
var sectionMarkerRe = regexp.MustCompile(`(?m)^[ \t]*===[ \t]*(?:PAGE|BATCH|SECTION)[ \t]+(\d+)(?:[ \t]*\|[ \t]*PAGES[ \t]+(\d+)[ \t]*-[ \t]*\d+)?[ \t]*===[ \t]*$`)

// AssembleText joins stored sections into one stream, labeling each with
// its batch index and page range. Sections arrive already sorted by batch
// index; append order in the store is irrelevant here.
func AssembleText(sections []models.Section) string {
	var b strings.Builder
	for _, sec := range sections {
		fmt.Fprintf(&b, "=== SECTION %d | PAGES %d-%d ===\n", sec.BatchIndex, sec.StartPage, sec.EndPage)
		b.WriteString(strings.TrimSpace(sec.Text))
		b.WriteString("\n")
	}
	return b.String()
}

// pageText is a span of assembled text attributed to one page.
type pageText struct {
	page int
	text string
}

// splitByMarkers cuts the assembled text at marker lines and attributes each
// span to a page. Text before the first marker, or marker-free text, lands
// on page 1. Page attribution is best-effort: a SECTION label attributes the
// whole span to its start page until a finer PAGE marker appears.
func splitByMarkers(fullText string) []pageText {
	matches := sectionMarkerRe.FindAllStringSubmatchIndex(fullText, -1)
	if len(matches) == 0 {
		return []pageText{{page: 1, text: fullText}}
	}

	var pages []pageText
	if head := strings.TrimSpace(fullText[:matches[0][0]]); head != "" {
		pages = append(pages, pageText{page: 1, text: head})
	}

	for i, m := range matches {
		num := fullText[m[2]:m[3]]
		if m[4] >= 0 { // PAGES s-e label present; use the start page
			num = fullText[m[4]:m[5]]
		}
		page, err := strconv.Atoi(num)
		if err != nil || page < 1 {
			page = 1
		}

		end := len(fullText)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		body := strings.TrimSpace(fullText[m[1]:end])
		if body == "" {
			continue
		}
		pages = append(pages, pageText{page: page, text: body})
	}

	if len(pages) == 0 {
		return []pageText{{page: 1, text: ""}}
	}
	return pages
}

// ChunkDocument splits assembled extraction output into page-attributed,
// overlap-preserving chunks, capped at cfg.MaxChunks.
//
// Within a page, paragraphs accumulate until appending the next one would
// pass the target size AND the current chunk already has the minimum size;
// the closed chunk then seeds the next one with a trailing overlap. This
// bounds semantic discontinuity at boundaries without producing
// unboundedly small chunks.
func ChunkDocument(fullText string, cfg *IngestConfig) []models.DocumentChunk {
	overlapLen := cfg.TargetChunkSize * cfg.OverlapPercent / 100

	var chunks []models.DocumentChunk
	emit := func(content string, page int) bool {
		content = strings.TrimSpace(content)
		if content == "" {
			return true
		}
		if len(chunks) >= cfg.MaxChunks {
			return false
		}
		chunks = append(chunks, models.DocumentChunk{
			Content:    content,
			PageNumber: page,
			ChunkIndex: len(chunks),
			Type:       classifyChunk(content),
		})
		return true
	}

	for _, pt := range splitByMarkers(fullText) {
		var cur strings.Builder
		for _, para := range strings.Split(pt.text, "\n\n") {
			para = strings.TrimSpace(para)
			if para == "" {
				continue
			}

			if cur.Len() > 0 && cur.Len()+len(para) > cfg.TargetChunkSize && cur.Len() >= cfg.MinChunkSize {
				closed := cur.String()
				if !emit(closed, pt.page) {
					return chunks
				}
				cur.Reset()
				if tail := tailOverlap(closed, overlapLen); tail != "" {
					cur.WriteString(tail)
				}
			}

			if cur.Len() > 0 {
				cur.WriteString("\n\n")
			}
			cur.WriteString(para)
		}
		if !emit(cur.String(), pt.page) {
			return chunks
		}
	}
	return chunks
}

// tailOverlap returns roughly the last n characters of text, trimmed to a
// word boundary so the next chunk does not open mid-word.
func tailOverlap(text string, n int) string {
	if n <= 0 || len(text) <= n {
		return ""
	}
	tail := text[len(text)-n:]
	if idx := strings.IndexAny(tail, " \n\t"); idx >= 0 {
		tail = tail[idx+1:]
	}
	return strings.TrimSpace(tail)
}

var tableSeparatorRe = regexp.MustCompile(`\|[ \t]*:?-{3,}`)
var digitPipeRe = regexp.MustCompile(`\d[ \t]*\||\|[ \t]*[$(]?\d`)

// classifyChunk tags a chunk as table, header or plain text. Tables are
// pipe rows with either a markdown separator or digits against the pipes
// (financial statements render that way); headers are markdown headings or
// a short all-caps opening line.
func classifyChunk(content string) models.ChunkType {
	if strings.Contains(content, "|") {
		if tableSeparatorRe.MatchString(content) || digitPipeRe.MatchString(content) {
			return models.ChunkTable
		}
	}

	firstLine := content
	if idx := strings.IndexByte(content, '\n'); idx >= 0 {
		firstLine = content[:idx]
	}
	firstLine = strings.TrimSpace(firstLine)

	if strings.HasPrefix(firstLine, "#") {
		return models.ChunkHeader
	}
	if len(firstLine) <= 60 && isAllCaps(firstLine) {
		return models.ChunkHeader
	}
	return models.ChunkText
}

// isAllCaps reports whether s contains letters and none of them lowercase.
func isAllCaps(s string) bool {
	hasLetter := false
	for _, r := range s {
		if r >= 'a' && r <= 'z' {
			return false
		}
		if (r >= 'A' && r <= 'Z') || (r >= 'À' && r <= 'Þ') {
			hasLetter = true
		}
	}
	return hasLetter
}
