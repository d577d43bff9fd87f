// Package store persists knowledge bases, documents, chunks, quizzes, and
// quiz questions in PostgreSQL.
//
// The store uses raw SQL over a pgx connection pool. Every multi-row mutation
// runs inside a single transaction so a mid-operation failure leaves no
// partial rows. Identifiers are server-generated UUIDs.
//
// Store is safe for concurrent use by multiple goroutines.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sagekb/sage/internal/apperr"
)

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides persistence for the sage domain entities.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a Store backed by the given connection pool.
func New(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// uuidStrings converts ids to their string form for ANY($1::uuid[]) params.
func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// ----------------------------------------------------------------------------
// Knowledge bases
// ----------------------------------------------------------------------------

// CreateKnowledgeBase inserts a new knowledge base owned by ownerID.
// An empty ownerID creates a public base (PublicOwner).
func (s *Store) CreateKnowledgeBase(ctx context.Context, name, ownerID string) (KnowledgeBase, error) {
	if ownerID == "" {
		ownerID = PublicOwner
	}
	kb := KnowledgeBase{
		ID:        uuid.New(),
		Name:      name,
		OwnerID:   ownerID,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO knowledge_bases (id, name, owner_id, created_at) VALUES ($1, $2, $3, $4)`,
		kb.ID, kb.Name, kb.OwnerID, kb.CreatedAt)
	if err != nil {
		return KnowledgeBase{}, fmt.Errorf("inserting knowledge base: %w", err)
	}

	s.logger.Debug("created knowledge base", "id", kb.ID, "name", kb.Name, "owner", kb.OwnerID)
	return kb, nil
}

// GetKnowledgeBase fetches one knowledge base by id.
func (s *Store) GetKnowledgeBase(ctx context.Context, id uuid.UUID) (KnowledgeBase, error) {
	var kb KnowledgeBase
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, owner_id, created_at FROM knowledge_bases WHERE id = $1`, id).
		Scan(&kb.ID, &kb.Name, &kb.OwnerID, &kb.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return KnowledgeBase{}, apperr.Newf(apperr.KindNotFound, "knowledge base %s not found", id)
	}
	if err != nil {
		return KnowledgeBase{}, fmt.Errorf("querying knowledge base: %w", err)
	}
	return kb, nil
}

// FindKnowledgeBaseByName returns the newest knowledge base with the given
// name and owner, or a not-found error.
func (s *Store) FindKnowledgeBaseByName(ctx context.Context, name, ownerID string) (KnowledgeBase, error) {
	var kb KnowledgeBase
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, owner_id, created_at FROM knowledge_bases
		 WHERE name = $1 AND owner_id = $2
		 ORDER BY created_at DESC LIMIT 1`, name, ownerID).
		Scan(&kb.ID, &kb.Name, &kb.OwnerID, &kb.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return KnowledgeBase{}, apperr.Newf(apperr.KindNotFound, "knowledge base %q not found", name)
	}
	if err != nil {
		return KnowledgeBase{}, fmt.Errorf("querying knowledge base by name: %w", err)
	}
	return kb, nil
}

// ListKnowledgeBases lists knowledge bases, newest first. An empty ownerID
// lists all bases; otherwise only those owned by ownerID or public.
func (s *Store) ListKnowledgeBases(ctx context.Context, ownerID string) ([]KnowledgeBase, error) {
	query := `SELECT id, name, owner_id, created_at FROM knowledge_bases ORDER BY created_at DESC`
	args := []any{}
	if ownerID != "" {
		query = `SELECT id, name, owner_id, created_at FROM knowledge_bases
		         WHERE owner_id = $1 OR owner_id = $2
		         ORDER BY created_at DESC`
		args = []any{ownerID, PublicOwner}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing knowledge bases: %w", err)
	}
	defer rows.Close()

	var kbs []KnowledgeBase
	for rows.Next() {
		var kb KnowledgeBase
		if err := rows.Scan(&kb.ID, &kb.Name, &kb.OwnerID, &kb.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning knowledge base: %w", err)
		}
		kbs = append(kbs, kb)
	}
	return kbs, rows.Err()
}

// DeleteKnowledgeBase removes a knowledge base and everything it owns.
// Children are deleted before the parent inside one transaction rather than
// relying on FK cascade alone.
func (s *Store) DeleteKnowledgeBase(ctx context.Context, id uuid.UUID) error {
	return s.withTx(ctx, func(q querier) error {
		if _, err := q.Exec(ctx, `DELETE FROM chunks WHERE kb_id = $1`, id); err != nil {
			return fmt.Errorf("deleting chunks: %w", err)
		}
		if _, err := q.Exec(ctx, `DELETE FROM documents WHERE kb_id = $1`, id); err != nil {
			return fmt.Errorf("deleting documents: %w", err)
		}
		tag, err := q.Exec(ctx, `DELETE FROM knowledge_bases WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("deleting knowledge base: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperr.Newf(apperr.KindNotFound, "knowledge base %s not found", id)
		}
		return nil
	})
}

// ----------------------------------------------------------------------------
// Documents
// ----------------------------------------------------------------------------

// CreateDocument records an uploaded file for a knowledge base.
func (s *Store) CreateDocument(ctx context.Context, kbID uuid.UUID, filename, storedPath string) (Document, error) {
	doc := Document{
		ID:         uuid.New(),
		KBID:       kbID,
		Filename:   filename,
		StoredPath: storedPath,
		Status:     DocumentReady,
		CreatedAt:  time.Now().UTC(),
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (id, kb_id, filename, stored_path, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		doc.ID, doc.KBID, doc.Filename, doc.StoredPath, doc.Status, doc.CreatedAt)
	if err != nil {
		return Document{}, fmt.Errorf("inserting document: %w", err)
	}
	return doc, nil
}

// GetDocument fetches one document by id.
func (s *Store) GetDocument(ctx context.Context, id uuid.UUID) (Document, error) {
	var d Document
	err := s.pool.QueryRow(ctx,
		`SELECT id, kb_id, filename, stored_path, status, created_at
		 FROM documents WHERE id = $1`, id).
		Scan(&d.ID, &d.KBID, &d.Filename, &d.StoredPath, &d.Status, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, apperr.Newf(apperr.KindNotFound, "document %s not found", id)
	}
	if err != nil {
		return Document{}, fmt.Errorf("fetching document: %w", err)
	}
	return d, nil
}

// ListDocuments lists the documents of a knowledge base, newest first.
func (s *Store) ListDocuments(ctx context.Context, kbID uuid.UUID) ([]Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, kb_id, filename, stored_path, status, created_at
		 FROM documents WHERE kb_id = $1 ORDER BY created_at DESC`, kbID)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.KBID, &d.Filename, &d.StoredPath, &d.Status, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document and its chunks in one transaction.
func (s *Store) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	return s.withTx(ctx, func(q querier) error {
		if _, err := q.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, id); err != nil {
			return fmt.Errorf("deleting chunks: %w", err)
		}
		tag, err := q.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("deleting document: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperr.Newf(apperr.KindNotFound, "document %s not found", id)
		}
		return nil
	})
}

// marshalMetadata serializes chunk metadata for the jsonb column.
func marshalMetadata(m ChunkMetadata) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshaling chunk metadata: %w", err)
	}
	return data, nil
}
