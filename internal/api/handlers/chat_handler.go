package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/markdave123-py/Finlytic/internal/core"
)

type ChatHandler struct {
	dbclient core.DbClient
	embedder core.EmbeddingProvider
	llm      core.LLMProvider
}

func NewChatHandler(db core.DbClient, emb core.EmbeddingProvider, llm core.LLMProvider) *ChatHandler {
	return &ChatHandler{dbclient: db, embedder: emb, llm: llm}
}

type ChatRequest struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
}

type chatSource struct {
	Filename   string `json:"filename"`
	PageNumber int    `json:"page_number"`
	ChunkType  string `json:"chunk_type"`
}

// QuerySession answers a question from the documents indexed under one
// session. Retrieval is always session-scoped; documents from other
// sessions can never leak into the context.
func (h *ChatHandler) QuerySession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, ok := ctx.Value("user_id").(string); !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", 400)
		return
	}
	if req.SessionID == "" || strings.TrimSpace(req.Query) == "" {
		http.Error(w, "session_id and query are required", 400)
		return
	}

	vecs, err := h.embedder.EmbedTexts(ctx, []string{req.Query})
	if err != nil || len(vecs) == 0 {
		http.Error(w, fmt.Sprintf("embedding failed: %v", err), 500)
		return
	}

	records, err := h.dbclient.SearchSession(ctx, req.SessionID, vecs[0], 5)
	if err != nil {
		http.Error(w, fmt.Sprintf("search failed: %v", err), 500)
		return
	}
	if len(records) == 0 {
		http.Error(w, "no documents indexed for this session", http.StatusNotFound)
		return
	}

	var sb strings.Builder
	sources := make([]chatSource, 0, len(records))
	for _, rec := range records {
		fmt.Fprintf(&sb, "[%s, page %d]\n%s\n---\n", rec.Filename, rec.PageNumber, rec.Content)
		sources = append(sources, chatSource{
			Filename:   rec.Filename,
			PageNumber: rec.PageNumber,
			ChunkType:  string(rec.ChunkType),
		})
	}

	systemPrompt := "You are a financial document assistant. Answer only from the provided excerpts, citing the file and page you used. If the excerpts do not contain the answer, say 'I cannot find this in the documents.'"
	userPrompt := fmt.Sprintf("Excerpts:\n%s\nQuestion: %s", sb.String(), req.Query)

	answer, err := h.llm.Generate(ctx, systemPrompt, userPrompt)
	if err != nil {
		http.Error(w, fmt.Sprintf("LLM failed: %v", err), 500)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"answer":  answer,
		"sources": sources,
	})
}
