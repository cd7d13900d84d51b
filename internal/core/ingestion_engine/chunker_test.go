package ingestion_engine

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Finlytic/internal/models"
)

func chunkerTestConfig() *IngestConfig {
	cfg := DefaultIngestConfig()
	cfg.TargetChunkSize = 200
	cfg.MinChunkSize = 50
	cfg.OverlapPercent = 20
	return cfg
}

func TestAssembleText_LabelsSections(t *testing.T) {
	out := AssembleText([]models.Section{
		{BatchIndex: 0, StartPage: 1, EndPage: 50, Text: "first half"},
		{BatchIndex: 1, StartPage: 51, EndPage: 100, Text: "second half"},
	})

	assert.Contains(t, out, "=== SECTION 0 | PAGES 1-50 ===\nfirst half")
	assert.Contains(t, out, "=== SECTION 1 | PAGES 51-100 ===\nsecond half")
}

func TestSplitByMarkers_PageAttribution(t *testing.T) {
	text := "=== SECTION 1 | PAGES 51-100 ===\n" +
		"intro on the section start page\n\n" +
		"=== PAGE 53 ===\n" +
		"revenue discussion\n\n" +
		"=== PAGE 54 ===\n" +
		"cost discussion\n"

	pages := splitByMarkers(text)
	require.Len(t, pages, 3)
	assert.Equal(t, 51, pages[0].page)
	assert.Equal(t, 53, pages[1].page)
	assert.Equal(t, 54, pages[2].page)
	assert.Equal(t, "revenue discussion", pages[1].text)
}

func TestSplitByMarkers_NoMarkers(t *testing.T) {
	pages := splitByMarkers("plain text with no labels at all")
	require.Len(t, pages, 1)
	assert.Equal(t, 1, pages[0].page)
}

// Sections stored by a worker and assembled must round-trip their page
// attribution through the chunker.
func TestChunkDocument_RoundTripFromSections(t *testing.T) {
	sections := []models.Section{
		{BatchIndex: 0, StartPage: 1, EndPage: 2, Text: "=== PAGE 1 ===\nopening remarks\n\n=== PAGE 2 ===\nclosing remarks"},
		{BatchIndex: 1, StartPage: 3, EndPage: 4, Text: "appendix material"},
	}

	chunks := ChunkDocument(AssembleText(sections), chunkerTestConfig())
	require.Len(t, chunks, 3)
	assert.Equal(t, 1, chunks[0].PageNumber)
	assert.Equal(t, 2, chunks[1].PageNumber)
	assert.Equal(t, 3, chunks[2].PageNumber)
	assert.Equal(t, "appendix material", chunks[2].Content)
}

// With overlap disabled, chunking is lossless: joining the chunk contents
// reproduces the marker-free text exactly, and chunking that output again
// yields the same text. No paragraph is dropped or duplicated.
func TestChunkDocument_LosslessWithoutOverlap(t *testing.T) {
	cfg := chunkerTestConfig()
	cfg.OverlapPercent = 0

	var paras []string
	for i := 0; i < 9; i++ {
		paras = append(paras, fmt.Sprintf("paragraph %d %s.", i, strings.Repeat("narrative detail ", 7)))
	}
	text := "=== PAGE 1 ===\n" + strings.Join(paras[:3], "\n\n") +
		"\n\n=== PAGE 2 ===\n" + strings.Join(paras[3:6], "\n\n") +
		"\n\n=== PAGE 3 ===\n" + strings.Join(paras[6:], "\n\n")

	chunks := ChunkDocument(text, cfg)
	require.Greater(t, len(chunks), 3)

	var contents []string
	for _, ch := range chunks {
		contents = append(contents, ch.Content)
	}
	joined := strings.Join(contents, "\n\n")
	assert.Equal(t, strings.Join(paras, "\n\n"), joined)

	// Chunking its own output changes the boundaries but not the text.
	rechunks := ChunkDocument(joined, cfg)
	var recontents []string
	for _, ch := range rechunks {
		recontents = append(recontents, ch.Content)
	}
	assert.Equal(t, joined, strings.Join(recontents, "\n\n"))
}

func TestChunkDocument_SplitsLongPageWithOverlap(t *testing.T) {
	cfg := chunkerTestConfig()
	var paras []string
	for i := 0; i < 10; i++ {
		paras = append(paras, fmt.Sprintf("paragraph %d %s", i, strings.Repeat("word ", 25)))
	}
	text := "=== PAGE 7 ===\n" + strings.Join(paras, "\n\n")

	chunks := ChunkDocument(text, cfg)
	require.Greater(t, len(chunks), 1)

	for i, ch := range chunks {
		assert.Equal(t, 7, ch.PageNumber)
		assert.Equal(t, i, ch.ChunkIndex)
		assert.LessOrEqual(t, len(ch.Content), cfg.TargetChunkSize+cfg.TargetChunkSize*cfg.OverlapPercent/100+300)
	}

	// Each chunk after the first opens with text carried over from the tail
	// of its predecessor.
	for i := 1; i < len(chunks); i++ {
		head := chunks[i].Content[:20]
		assert.Contains(t, chunks[i-1].Content, strings.TrimSpace(head),
			"chunk %d should overlap chunk %d", i, i-1)
	}
}

func TestChunkDocument_MaxChunksCap(t *testing.T) {
	cfg := chunkerTestConfig()
	cfg.MaxChunks = 3

	var paras []string
	for i := 0; i < 40; i++ {
		paras = append(paras, strings.Repeat("filler ", 30))
	}
	chunks := ChunkDocument(strings.Join(paras, "\n\n"), cfg)
	assert.Len(t, chunks, 3)
}

func TestChunkDocument_EmptyInput(t *testing.T) {
	assert.Empty(t, ChunkDocument("", chunkerTestConfig()))
	assert.Empty(t, ChunkDocument("   \n\n  ", chunkerTestConfig()))
}

func TestClassifyChunk(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    models.ChunkType
	}{
		{"markdown table", "| Year | Revenue |\n|------|---------|\n| 2024 | $1.2M |", models.ChunkTable},
		{"pipe rows with figures", "Assets | 4,210 | 3,987\nLiabilities | 1,102 | 988", models.ChunkTable},
		{"markdown heading", "# Consolidated Balance Sheet\nDetails follow.", models.ChunkHeader},
		{"all caps heading", "NOTES TO THE FINANCIAL STATEMENTS\nNote 1 covers the basis of preparation.", models.ChunkHeader},
		{"plain prose", "Revenue grew modestly during the period under review.", models.ChunkText},
		{"prose with a stray pipe", "Options are vested | unvested depending on tenure.", models.ChunkText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyChunk(tt.content))
		})
	}
}

func TestTailOverlap(t *testing.T) {
	assert.Equal(t, "", tailOverlap("short", 10))
	assert.Equal(t, "", tailOverlap("anything", 0))

	got := tailOverlap("the quick brown fox jumps over the lazy dog", 15)
	assert.Equal(t, "the lazy dog", got)
}
