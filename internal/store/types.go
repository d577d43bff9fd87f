package store

import (
	"time"

	"github.com/google/uuid"
)

// VectorDimension is the pgvector column width for chunk embeddings.
// Must match the chunks migration and the configured embedder dimension.
const VectorDimension = 1536

// PublicOwner is the reserved owner identifier marking a knowledge base as
// public: visible to every caller.
const PublicOwner = "system"

// Quiz lifecycle states. Transitions only move forward:
// created → in_progress → completed.
const (
	QuizCreated    = "created"
	QuizInProgress = "in_progress"
	QuizCompleted  = "completed"
)

// DocumentReady is the only document status currently in use.
const DocumentReady = "ready"

// Difficulty tiers shape the question-generation prompt.
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

// ValidDifficulty reports whether d is a known difficulty tier.
func ValidDifficulty(d string) bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// KnowledgeBase is a named, owned (or public) collection of documents and
// chunks.
type KnowledgeBase struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Visible reports whether the knowledge base may be read by the given caller.
func (kb KnowledgeBase) Visible(ownerID string) bool {
	return kb.OwnerID == PublicOwner || kb.OwnerID == ownerID
}

// Document is an uploaded source file belonging to a knowledge base.
type Document struct {
	ID         uuid.UUID `json:"id"`
	KBID       uuid.UUID `json:"kb_id"`
	Filename   string    `json:"filename"`
	StoredPath string    `json:"stored_path"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// ChunkMetadata carries the source filename and the chunk's ordinal position
// within its document.
type ChunkMetadata struct {
	Source     string `json:"source"`
	ChunkIndex int    `json:"chunk_index"`
}

// Chunk is a persisted, embeddable unit of document text.
//
// Content is always non-empty. The embedding column is either a full
// VectorDimension vector or NULL, never partial; it is not loaded here because
// no reader needs it back.
type Chunk struct {
	ID         uuid.UUID     `json:"id"`
	KBID       uuid.UUID     `json:"kb_id"`
	DocumentID *uuid.UUID    `json:"document_id"`
	Content    string        `json:"content"`
	Metadata   ChunkMetadata `json:"metadata"`
	CreatedAt  time.Time     `json:"created_at"`
}

// NewChunk is the insert form of a chunk. A nil Embedding persists as NULL.
type NewChunk struct {
	KBID       uuid.UUID
	DocumentID uuid.UUID
	Content    string
	Embedding  []float32
	Metadata   ChunkMetadata
}

// Quiz is one self-assessment session over a set of knowledge bases.
type Quiz struct {
	ID            uuid.UUID   `json:"id"`
	OwnerID       string      `json:"owner_id"`
	KBIDs         []uuid.UUID `json:"kb_ids"`
	QuestionCount int         `json:"question_count"`
	Difficulty    string      `json:"difficulty"`
	Status        string      `json:"status"`
	TotalScore    *int        `json:"total_score"`
	Summary       *string     `json:"summary"`
	CreatedAt     time.Time   `json:"created_at"`
	CompletedAt   *time.Time  `json:"completed_at"`
}

// MaxScorePerQuestion is the score ceiling for one question:
// 100 divided by the question count, integer division. The total achievable
// score is therefore at most 100, and exactly 100 only when the count divides
// 100 evenly.
func (q Quiz) MaxScorePerQuestion() int {
	if q.QuestionCount <= 0 {
		return 0
	}
	return 100 / q.QuestionCount
}

// QuizQuestion is one generated question within a quiz. The chunk text is
// snapshotted at generation time so later chunk deletion cannot orphan it.
// UserAnswer, Score, and Feedback stay NULL until the answer is submitted and
// graded; all three are written together exactly once.
type QuizQuestion struct {
	ID             uuid.UUID `json:"id"`
	QuizID         uuid.UUID `json:"quiz_id"`
	QuestionNumber int       `json:"question_number"`
	ChunkContent   string    `json:"chunk_content"`
	Question       string    `json:"question"`
	StandardAnswer string    `json:"standard_answer"`
	UserAnswer     *string   `json:"user_answer"`
	Score          *int      `json:"score"`
	Feedback       *string   `json:"feedback"`
	CreatedAt      time.Time `json:"created_at"`
}

// Answered reports whether the question already has a graded answer.
func (q QuizQuestion) Answered() bool {
	return q.UserAnswer != nil
}

// NewQuestion is the insert form of a quiz question.
type NewQuestion struct {
	QuestionNumber int
	ChunkContent   string
	Question       string
	StandardAnswer string
}
