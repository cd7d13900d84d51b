package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/markdave123-py/Finlytic/internal/core"
)

// extractPrompt instructs the model to transcribe, not summarize. Page
// markers in the output are what the chunker later uses to recover page
// attribution, so the format here and the chunker's marker regex must agree.
const extractPrompt = `You are a document transcription engine. Extract the text of pages %d through %d of the attached document VERBATIM.

Rules:
- Output the exact text of each page in order. Do NOT summarize, paraphrase or omit anything.
- Start each page with a marker line: === PAGE <number> ===
- Preserve tables using pipe-delimited rows.
- If a page in the range does not exist, skip it silently.
- Output nothing except markers and page text.`

// GeminiExtractor implements the extraction service with a Gemini vision
// model: raw document bytes plus a page range in, marked verbatim text out.
type GeminiExtractor struct {
	client    *genai.Client
	modelName string
}

func NewGeminiExtractor(ctx context.Context, apiKey, modelName string) (*GeminiExtractor, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	return &GeminiExtractor{client: cl, modelName: modelName}, nil
}

func (g *GeminiExtractor) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GeminiExtractor) ExtractPages(ctx context.Context, data []byte, contentType string, startPage, endPage int) (string, error) {
	m := g.client.GenerativeModel(g.modelName)

	prompt := fmt.Sprintf(extractPrompt, startPage, endPage)
	resp, err := m.GenerateContent(ctx,
		genai.Blob{MIMEType: contentType, Data: data},
		genai.Text(prompt),
	)
	if err != nil {
		if isRateLimit(err) {
			return "", fmt.Errorf("gemini extract pages %d-%d: %w", startPage, endPage, core.ErrRateLimited)
		}
		return "", fmt.Errorf("gemini extract pages %d-%d: %w", startPage, endPage, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String(), nil
}

// isRateLimit classifies by error content; the API does not hand back a
// structured code through this client.
func isRateLimit(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "resource exhausted")
}

var _ core.PageExtractor = (*GeminiExtractor)(nil)
