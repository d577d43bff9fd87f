// Package server provides the REST and SSE surface over the knowledge-base,
// retrieval, and quiz services.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/sagekb/sage/internal/ingest"
	"github.com/sagekb/sage/internal/quiz"
	"github.com/sagekb/sage/internal/retrieval"
	"github.com/sagekb/sage/internal/store"
)

// KnowledgeStore is the persistence surface the HTTP layer needs.
// *store.Store satisfies this.
type KnowledgeStore interface {
	CreateKnowledgeBase(ctx context.Context, name, ownerID string) (store.KnowledgeBase, error)
	GetKnowledgeBase(ctx context.Context, id uuid.UUID) (store.KnowledgeBase, error)
	FindKnowledgeBaseByName(ctx context.Context, name, ownerID string) (store.KnowledgeBase, error)
	ListKnowledgeBases(ctx context.Context, ownerID string) ([]store.KnowledgeBase, error)
	DeleteKnowledgeBase(ctx context.Context, id uuid.UUID) error
	CountChunks(ctx context.Context, kbID uuid.UUID) (int, error)

	CreateDocument(ctx context.Context, kbID uuid.UUID, filename, storedPath string) (store.Document, error)
	GetDocument(ctx context.Context, id uuid.UUID) (store.Document, error)
	ListDocuments(ctx context.Context, kbID uuid.UUID) ([]store.Document, error)
	DeleteDocument(ctx context.Context, id uuid.UUID) error
}

// Ingestor processes an uploaded file into embedded chunks.
type Ingestor interface {
	Process(ctx context.Context, path string, kbID, documentID uuid.UUID, sourceLabel string) (ingest.Result, error)
}

// Retriever answers questions over knowledge bases.
type Retriever interface {
	Query(ctx context.Context, query string, kbIDs []uuid.UUID, topK int) (retrieval.QueryResult, error)
	StreamQuery(ctx context.Context, query string, kbIDs []uuid.UUID, topK int) (retrieval.StreamResult, error)
}

// QuizService runs the assessment lifecycle.
type QuizService interface {
	Create(ctx context.Context, ownerID string, kbIDs []uuid.UUID, questionCount int, difficulty string) (store.Quiz, error)
	Start(ctx context.Context, quizID uuid.UUID, callerID string) ([]quiz.QuestionView, error)
	SubmitAnswer(ctx context.Context, quizID, questionID uuid.UUID, callerID, answer string) (quiz.SubmitResult, error)
	Summary(ctx context.Context, quizID uuid.UUID, callerID string) (quiz.SummaryResult, error)
	StreamSummary(ctx context.Context, quizID uuid.UUID, callerID string) (*quiz.SummaryStream, error)
}

// Config carries the dependencies for a Server.
type Config struct {
	Store         KnowledgeStore
	Ingestor      Ingestor
	Retriever     Retriever
	Quiz          QuizService
	UploadDir     string
	MaxUploadSize int64
	Logger        *slog.Logger
}

// Server is the HTTP server.
type Server struct {
	mux           *http.ServeMux
	store         KnowledgeStore
	ingestor      Ingestor
	retriever     Retriever
	quiz          QuizService
	uploadDir     string
	maxUploadSize int64
	logger        *slog.Logger
	handler       http.Handler
}

// New creates a server with all routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Ingestor == nil {
		return nil, errors.New("ingestor is required")
	}
	if cfg.Retriever == nil {
		return nil, errors.New("retriever is required")
	}
	if cfg.Quiz == nil {
		return nil, errors.New("quiz service is required")
	}
	if cfg.UploadDir == "" {
		return nil, errors.New("upload dir is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = 50 << 20
	}

	s := &Server{
		mux:           http.NewServeMux(),
		store:         cfg.Store,
		ingestor:      cfg.Ingestor,
		retriever:     cfg.Retriever,
		quiz:          cfg.Quiz,
		uploadDir:     cfg.UploadDir,
		maxUploadSize: cfg.MaxUploadSize,
		logger:        cfg.Logger,
	}

	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	s.mux.HandleFunc("POST /v1/kb", s.handleCreateKB)
	s.mux.HandleFunc("GET /v1/kb", s.handleListKBs)
	s.mux.HandleFunc("DELETE /v1/kb/{id}", s.handleDeleteKB)
	s.mux.HandleFunc("POST /v1/kb/upload", s.handleUpload)
	s.mux.HandleFunc("GET /v1/kb/{id}/documents", s.handleListDocuments)
	s.mux.HandleFunc("DELETE /v1/kb/{id}/documents/{docID}", s.handleDeleteDocument)

	s.mux.HandleFunc("POST /v1/chat/completions", s.handleChat)

	s.mux.HandleFunc("POST /v1/quiz", s.handleCreateQuiz)
	s.mux.HandleFunc("POST /v1/quiz/{id}/start", s.handleStartQuiz)
	s.mux.HandleFunc("POST /v1/quiz/{id}/submit", s.handleSubmitAnswer)
	s.mux.HandleFunc("POST /v1/quiz/{id}/summary", s.handleQuizSummary)

	var handler http.Handler = s.mux
	handler = loggingMiddleware(cfg.Logger)(handler)
	handler = recoverMiddleware(cfg.Logger)(handler)
	s.handler = handler

	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, "ok", nil)
}

// pathUUID parses the named path value as a UUID.
func pathUUID(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	return id, err == nil
}

// parseKBIDs converts request-level string ids into UUIDs.
func parseKBIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
