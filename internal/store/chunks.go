package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/sagekb/sage/internal/apperr"
)

// chunkCols is the standard SELECT column list for scanChunks.
const chunkCols = `id, kb_id, document_id, content, metadata, created_at`

// InsertChunks persists all chunks in one transaction and returns the number
// of rows written. Chunks with empty content are rejected up front; a chunk
// with a nil embedding stores NULL, and a non-nil embedding must be exactly
// VectorDimension wide — never partial.
func (s *Store) InsertChunks(ctx context.Context, chunks []NewChunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	for i, c := range chunks {
		if c.Content == "" {
			return 0, apperr.Newf(apperr.KindValidation, "chunk %d has empty content", i)
		}
		if c.Embedding != nil && len(c.Embedding) != VectorDimension {
			return 0, apperr.Newf(apperr.KindValidation,
				"chunk %d has embedding of dimension %d, want %d", i, len(c.Embedding), VectorDimension)
		}
	}

	err := s.withTx(ctx, func(q querier) error {
		now := time.Now().UTC()
		for _, c := range chunks {
			meta, err := marshalMetadata(c.Metadata)
			if err != nil {
				return err
			}

			var embedding *pgvector.Vector
			if c.Embedding != nil {
				v := pgvector.NewVector(c.Embedding)
				embedding = &v
			}

			var docID *uuid.UUID
			if c.DocumentID != uuid.Nil {
				id := c.DocumentID
				docID = &id
			}

			_, err = q.Exec(ctx,
				`INSERT INTO chunks (id, kb_id, document_id, content, embedding, metadata, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				uuid.New(), c.KBID, docID, c.Content, embedding, meta, now)
			if err != nil {
				return fmt.Errorf("inserting chunk %d: %w", c.Metadata.ChunkIndex, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Debug("inserted chunks", "count", len(chunks))
	return len(chunks), nil
}

// SearchChunks ranks embedded chunks by ascending cosine distance to the
// query vector. Only chunks with a present embedding participate. An empty
// kbIDs slice searches every knowledge base.
func (s *Store) SearchChunks(ctx context.Context, queryVec []float32, kbIDs []uuid.UUID, topK int) ([]Chunk, error) {
	if len(queryVec) != VectorDimension {
		return nil, apperr.Newf(apperr.KindValidation,
			"query vector has dimension %d, want %d", len(queryVec), VectorDimension)
	}

	vec := pgvector.NewVector(queryVec)

	query := `SELECT ` + chunkCols + ` FROM chunks
		 WHERE embedding IS NOT NULL
		 ORDER BY embedding <=> $1
		 LIMIT $2`
	args := []any{vec, topK}
	if len(kbIDs) > 0 {
		query = `SELECT ` + chunkCols + ` FROM chunks
		 WHERE embedding IS NOT NULL AND kb_id = ANY($3::uuid[])
		 ORDER BY embedding <=> $1
		 LIMIT $2`
		args = append(args, uuidStrings(kbIDs))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	defer rows.Close()

	return s.scanChunks(rows)
}

// SampleChunks draws up to limit chunks at random from the given knowledge
// bases, skipping chunks shorter than minLength characters. Randomness comes
// from the database (ORDER BY random()), so the order is biased toward
// neither insertion order nor id value.
func (s *Store) SampleChunks(ctx context.Context, kbIDs []uuid.UUID, minLength, limit int) ([]Chunk, error) {
	if len(kbIDs) == 0 {
		return nil, apperr.New(apperr.KindValidation, "at least one knowledge base id is required")
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+chunkCols+` FROM chunks
		 WHERE kb_id = ANY($1::uuid[]) AND length(content) >= $2
		 ORDER BY random()
		 LIMIT $3`,
		uuidStrings(kbIDs), minLength, limit)
	if err != nil {
		return nil, fmt.Errorf("sampling chunks: %w", err)
	}
	defer rows.Close()

	return s.scanChunks(rows)
}

// CountChunks returns the chunk count for one knowledge base.
func (s *Store) CountChunks(ctx context.Context, kbID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM chunks WHERE kb_id = $1`, kbID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return count, nil
}

type chunkRows interface {
	Next() bool
	Scan(...any) error
	Err() error
}

func (s *Store) scanChunks(rows chunkRows) ([]Chunk, error) {
	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var meta []byte
		if err := rows.Scan(&c.ID, &c.KBID, &c.DocumentID, &c.Content, &meta, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &c.Metadata); err != nil {
				s.logger.Warn("failed to parse chunk metadata", "chunk_id", c.ID, "error", err)
			}
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}
