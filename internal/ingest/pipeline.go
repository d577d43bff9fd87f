// Package ingest implements the document ingestion pipeline: load raw bytes,
// extract text blocks, split into chunks, embed, and persist chunk rows.
//
// Failure policy: zero extracted blocks is a terminal EmptyDocument error with
// nothing written. Embedding failure is recovered per pipeline invocation —
// every chunk of that invocation is stored without a vector so the text stays
// searchable and the vectors can be backfilled later. Chunk persistence is
// all-or-nothing.
package ingest

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/sagekb/sage/internal/ai"
	"github.com/sagekb/sage/internal/apperr"
	"github.com/sagekb/sage/internal/store"
)

// EmbedBatchSize is how many chunk texts go to the embedding gateway per call.
const EmbedBatchSize = 10

// ChunkWriter persists chunk rows. *store.Store satisfies this.
type ChunkWriter interface {
	InsertChunks(ctx context.Context, chunks []store.NewChunk) (int, error)
}

// Result reports what one pipeline invocation produced.
type Result struct {
	ChunkCount     int `json:"chunk_count"`
	TextBlockCount int `json:"text_block_count"`
}

// Pipeline turns uploaded documents into persisted, embedded chunks.
type Pipeline struct {
	embedder ai.Embedder
	chunks   ChunkWriter
	logger   *slog.Logger
}

// NewPipeline creates an ingestion pipeline.
func NewPipeline(embedder ai.Embedder, chunks ChunkWriter, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{embedder: embedder, chunks: chunks, logger: logger}
}

// Process runs the full pipeline for one file: load, split, embed, store.
// sourceLabel (usually the original filename) is recorded in every chunk's
// metadata together with the chunk's ordinal index.
func (p *Pipeline) Process(ctx context.Context, path string, kbID, documentID uuid.UUID, sourceLabel string) (Result, error) {
	blocks, err := Load(path)
	if err != nil {
		return Result{}, err
	}
	if len(blocks) == 0 {
		return Result{}, apperr.New(apperr.KindEmptyDocument, "document is empty or could not be parsed")
	}

	ext := strings.ToLower(filepath.Ext(path))
	texts := SplitBlocks(blocks, ext)

	embeddings := p.embedAll(ctx, texts, sourceLabel)

	rows := make([]store.NewChunk, 0, len(texts))
	for i, text := range texts {
		rows = append(rows, store.NewChunk{
			KBID:       kbID,
			DocumentID: documentID,
			Content:    text,
			Embedding:  embeddings[i],
			Metadata: store.ChunkMetadata{
				Source:     sourceLabel,
				ChunkIndex: i,
			},
		})
	}

	count, err := p.chunks.InsertChunks(ctx, rows)
	if err != nil {
		return Result{}, err
	}

	p.logger.Info("ingested document",
		"source", sourceLabel, "blocks", len(blocks), "chunks", count)
	return Result{ChunkCount: count, TextBlockCount: len(blocks)}, nil
}

// embedAll embeds the chunk texts in batches. On the first gateway failure
// the whole invocation degrades: every chunk gets a nil embedding and the
// text is persisted anyway, so ingestion never aborts for embedding failure.
func (p *Pipeline) embedAll(ctx context.Context, texts []string, sourceLabel string) [][]float32 {
	embeddings := make([][]float32, len(texts))

	for start := 0; start < len(texts); start += EmbedBatchSize {
		end := min(start+EmbedBatchSize, len(texts))
		vectors, err := p.embedder.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			p.logger.Error("embedding failed, storing text only",
				"source", sourceLabel, "chunk_count", len(texts), "error", err)
			return make([][]float32, len(texts))
		}
		copy(embeddings[start:end], vectors)
	}
	return embeddings
}
