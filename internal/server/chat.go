package server

import (
	"net/http"
	"strings"

	"github.com/sagekb/sage/internal/apperr"
	"github.com/sagekb/sage/internal/retrieval"
	"github.com/sagekb/sage/internal/server/sse"
)

type chatRequest struct {
	Query  string   `json:"query"`
	KBIDs  []string `json:"kb_ids"`
	TopK   *int     `json:"top_k"`
	Stream *bool    `json:"stream"`
}

// handleChat runs retrieval-augmented question answering. With
// "stream": false the answer comes back as one JSON envelope; otherwise the
// response is an SSE stream of meta, delta, references, and done events.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	query := strings.TrimSpace(req.Query)
	if query == "" {
		writeError(w, apperr.New(apperr.KindValidation, "query must not be empty"))
		return
	}

	kbIDs, err := parseKBIDs(req.KBIDs)
	if err != nil {
		writeError(w, apperr.New(apperr.KindValidation, "kb_ids must be valid uuids"))
		return
	}

	topK := retrieval.DefaultTopK
	if req.TopK != nil {
		topK = *req.TopK
	}

	stream := true
	if req.Stream != nil {
		stream = *req.Stream
	}

	if !stream {
		result, err := s.retriever.Query(r.Context(), query, kbIDs, topK)
		if err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, "ok", map[string]any{
			"query":      query,
			"kb_ids":     req.KBIDs,
			"top_k":      topK,
			"answer":     result.Answer,
			"references": result.References,
		})
		return
	}

	// Retrieval runs before any SSE bytes are written so validation and
	// embedding failures still surface as JSON errors with a real status.
	result, err := s.retriever.StreamQuery(r.Context(), query, kbIDs, topK)
	if err != nil {
		writeError(w, err)
		return
	}

	writer, err := sse.NewWriter(w)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindInternal, "streaming unsupported", err))
		return
	}

	ctx := r.Context()
	if err := writer.WriteEvent(ctx, sse.EventMeta, map[string]any{
		"query":  query,
		"kb_ids": req.KBIDs,
		"top_k":  topK,
	}); err != nil {
		return
	}

	for token := range result.Tokens {
		if err := writer.WriteDelta(ctx, token); err != nil {
			return
		}
	}

	if err := writer.WriteEvent(ctx, sse.EventReferences, map[string]any{
		"references": result.References,
	}); err != nil {
		return
	}
	_ = writer.WriteDone(ctx)
}
