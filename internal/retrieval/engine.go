// Package retrieval implements the question-answering engine: embed the
// query, rank stored chunks by cosine distance, and synthesize an answer
// from the retrieved context, either in one shot or as a token stream.
package retrieval

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/sagekb/sage/internal/ai"
	"github.com/sagekb/sage/internal/apperr"
	"github.com/sagekb/sage/internal/store"
)

const (
	// DefaultTopK is the retrieval depth when the caller does not choose one.
	DefaultTopK = 5

	// MaxTopK bounds caller-supplied retrieval depth.
	MaxTopK = 20

	// answerTemperature keeps answer synthesis close to the provided context.
	answerTemperature = 0.2

	// fallbackSnippetLen is how much of each context survives into the
	// degraded answer when the completion capability fails.
	fallbackSnippetLen = 180
)

// NoContextAnswer is returned without calling the completion capability when
// retrieval finds nothing.
const NoContextAnswer = "No relevant passages were found. Make sure documents have been uploaded and embedded."

// ChunkSearcher performs vector search over stored chunks.
// *store.Store satisfies this.
type ChunkSearcher interface {
	SearchChunks(ctx context.Context, queryVec []float32, kbIDs []uuid.UUID, topK int) ([]store.Chunk, error)
}

// Engine answers queries against the chunk store.
type Engine struct {
	embedder  ai.Embedder
	completer ai.Completer
	chunks    ChunkSearcher
	logger    *slog.Logger
}

// New creates a retrieval engine.
func New(embedder ai.Embedder, completer ai.Completer, chunks ChunkSearcher, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{embedder: embedder, completer: completer, chunks: chunks, logger: logger}
}

// QueryResult is the batch answer plus the chunks it was grounded on.
type QueryResult struct {
	Answer     string        `json:"answer"`
	References []store.Chunk `json:"references"`
}

// StreamResult pairs the retrieved references with a one-shot token sequence.
type StreamResult struct {
	Tokens     iter.Seq[string]
	References []store.Chunk
}

// Retrieve embeds the query and returns the topK closest embedded chunks,
// optionally restricted to the given knowledge bases. Unlike ingestion,
// query-time embedding failure is fatal: retrieval is meaningless without it.
func (e *Engine) Retrieve(ctx context.Context, query string, kbIDs []uuid.UUID, topK int) ([]store.Chunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperr.New(apperr.KindValidation, "query must not be empty")
	}
	if topK < 1 || topK > MaxTopK {
		return nil, apperr.Newf(apperr.KindValidation, "top_k must be between 1 and %d", MaxTopK)
	}

	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindEmbeddingUnavailable, "embedding query", err)
	}

	chunks, err := e.chunks.SearchChunks(ctx, vec, kbIDs, topK)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	return chunks, nil
}

// Answer synthesizes an answer from the retrieved contexts. With no contexts
// it returns NoContextAnswer without touching the completion capability. If
// completion fails it degrades to a truncated concatenation of the top
// contexts instead of propagating the failure.
func (e *Engine) Answer(ctx context.Context, query string, contexts []store.Chunk) string {
	if len(contexts) == 0 {
		return NoContextAnswer
	}

	answer, err := e.completer.Complete(ctx, answerPrompt(query, contexts),
		ai.WithTemperature(answerTemperature))
	if err != nil {
		e.logger.Error("answer synthesis failed, using degraded answer", "error", err)
		return fallbackAnswer(contexts)
	}
	return strings.TrimSpace(answer)
}

// StreamAnswer yields the synthesized answer token by token. The sequence is
// single-pass and single-consumer; on mid-stream failure it yields one
// diagnostic token and ends instead of raising past already-yielded output.
func (e *Engine) StreamAnswer(ctx context.Context, query string, contexts []store.Chunk) iter.Seq[string] {
	return func(yield func(string) bool) {
		if len(contexts) == 0 {
			yield(NoContextAnswer)
			return
		}

		stream := e.completer.CompleteStream(ctx, answerPrompt(query, contexts),
			ai.WithTemperature(answerTemperature))
		for token, err := range stream {
			if err != nil {
				e.logger.Error("answer stream failed, yielding degraded answer", "error", err)
				yield(fallbackAnswer(contexts))
				return
			}
			if !yield(token) {
				return
			}
		}
	}
}

// Query runs the full batch flow: retrieve then answer.
func (e *Engine) Query(ctx context.Context, query string, kbIDs []uuid.UUID, topK int) (QueryResult, error) {
	contexts, err := e.Retrieve(ctx, query, kbIDs, topK)
	if err != nil {
		return QueryResult{}, err
	}
	return QueryResult{
		Answer:     e.Answer(ctx, query, contexts),
		References: contexts,
	}, nil
}

// StreamQuery runs the full streaming flow. Retrieval failure still
// propagates; only answer synthesis degrades.
func (e *Engine) StreamQuery(ctx context.Context, query string, kbIDs []uuid.UUID, topK int) (StreamResult, error) {
	contexts, err := e.Retrieve(ctx, query, kbIDs, topK)
	if err != nil {
		return StreamResult{}, err
	}
	return StreamResult{
		Tokens:     e.StreamAnswer(ctx, query, contexts),
		References: contexts,
	}, nil
}

// answerPrompt builds the completion prompt: the retrieved chunks enumerated
// in rank order, with the instruction to answer only from that context.
func answerPrompt(query string, contexts []store.Chunk) string {
	var sb strings.Builder
	for i, c := range contexts {
		fmt.Fprintf(&sb, "[Passage %d] %s\n\n", i+1, strings.TrimSpace(c.Content))
	}

	return fmt.Sprintf(`You are a knowledge-base question answering assistant. Answer strictly from the provided context; if the context is insufficient, say so explicitly. Keep the answer concise.

Question: %s

Context:
%s`, query, sb.String())
}

// fallbackAnswer builds the degraded answer from truncated context snippets.
func fallbackAnswer(contexts []store.Chunk) string {
	var sb strings.Builder
	sb.WriteString("Answer synthesis is unavailable. The most relevant passages were:\n\n")
	for _, c := range contexts {
		snippet := []rune(c.Content)
		if len(snippet) > fallbackSnippetLen {
			snippet = snippet[:fallbackSnippetLen]
		}
		fmt.Fprintf(&sb, "- %s\n", string(snippet))
	}
	return sb.String()
}
