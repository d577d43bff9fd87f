package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sagekb/sage/internal/apperr"
)

const quizCols = `id, owner_id, kb_ids, question_count, difficulty, status,
	total_score, summary, created_at, completed_at`

const questionCols = `id, quiz_id, question_number, chunk_content, question,
	standard_answer, user_answer, score, feedback, created_at`

// CreateQuiz inserts a new quiz in the created state.
func (s *Store) CreateQuiz(ctx context.Context, ownerID string, kbIDs []uuid.UUID, questionCount int, difficulty string) (Quiz, error) {
	quiz := Quiz{
		ID:            uuid.New(),
		OwnerID:       ownerID,
		KBIDs:         kbIDs,
		QuestionCount: questionCount,
		Difficulty:    difficulty,
		Status:        QuizCreated,
		CreatedAt:     time.Now().UTC(),
	}

	kbJSON, err := json.Marshal(uuidStrings(kbIDs))
	if err != nil {
		return Quiz{}, fmt.Errorf("marshaling kb ids: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO quizzes (id, owner_id, kb_ids, question_count, difficulty, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		quiz.ID, quiz.OwnerID, kbJSON, quiz.QuestionCount, quiz.Difficulty, quiz.Status, quiz.CreatedAt)
	if err != nil {
		return Quiz{}, fmt.Errorf("inserting quiz: %w", err)
	}

	s.logger.Debug("created quiz", "id", quiz.ID, "owner", ownerID,
		"question_count", questionCount, "difficulty", difficulty)
	return quiz, nil
}

// GetQuiz fetches one quiz by id.
func (s *Store) GetQuiz(ctx context.Context, id uuid.UUID) (Quiz, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+quizCols+` FROM quizzes WHERE id = $1`, id)
	quiz, err := scanQuiz(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Quiz{}, apperr.Newf(apperr.KindNotFound, "quiz %s not found", id)
	}
	if err != nil {
		return Quiz{}, fmt.Errorf("querying quiz: %w", err)
	}
	return quiz, nil
}

// StartQuiz persists the generated questions and transitions the quiz from
// created to in_progress, all in one transaction. If the quiz is not in the
// created state the whole operation is rejected and no questions are written.
func (s *Store) StartQuiz(ctx context.Context, quizID uuid.UUID, questions []NewQuestion) error {
	return s.withTx(ctx, func(q querier) error {
		tag, err := q.Exec(ctx,
			`UPDATE quizzes SET status = $1 WHERE id = $2 AND status = $3`,
			QuizInProgress, quizID, QuizCreated)
		if err != nil {
			return fmt.Errorf("transitioning quiz: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperr.Newf(apperr.KindStateConflict, "quiz %s is not in the created state", quizID)
		}

		now := time.Now().UTC()
		for _, question := range questions {
			_, err := q.Exec(ctx,
				`INSERT INTO quiz_questions
				 (id, quiz_id, question_number, chunk_content, question, standard_answer, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				uuid.New(), quizID, question.QuestionNumber, question.ChunkContent,
				question.Question, question.StandardAnswer, now)
			if err != nil {
				return fmt.Errorf("inserting question %d: %w", question.QuestionNumber, err)
			}
		}
		return nil
	})
}

// GetQuestion fetches one quiz question by id.
func (s *Store) GetQuestion(ctx context.Context, id uuid.UUID) (QuizQuestion, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+questionCols+` FROM quiz_questions WHERE id = $1`, id)
	question, err := scanQuestion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return QuizQuestion{}, apperr.Newf(apperr.KindNotFound, "question %s not found", id)
	}
	if err != nil {
		return QuizQuestion{}, fmt.Errorf("querying question: %w", err)
	}
	return question, nil
}

// ListQuestions returns a quiz's questions ordered by question number.
func (s *Store) ListQuestions(ctx context.Context, quizID uuid.UUID) ([]QuizQuestion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+questionCols+` FROM quiz_questions
		 WHERE quiz_id = $1 ORDER BY question_number`, quizID)
	if err != nil {
		return nil, fmt.Errorf("listing questions: %w", err)
	}
	defer rows.Close()

	var questions []QuizQuestion
	for rows.Next() {
		question, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning question: %w", err)
		}
		questions = append(questions, question)
	}
	return questions, rows.Err()
}

// RecordAnswer writes the answer/score/feedback triple exactly once.
// The conditional UPDATE serializes concurrent duplicate submissions: the
// second writer matches zero rows and is rejected with a state conflict.
func (s *Store) RecordAnswer(ctx context.Context, questionID uuid.UUID, answer string, score int, feedback string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE quiz_questions
		 SET user_answer = $2, score = $3, feedback = $4
		 WHERE id = $1 AND user_answer IS NULL`,
		questionID, answer, score, feedback)
	if err != nil {
		return fmt.Errorf("recording answer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(apperr.KindStateConflict, "question %s is already answered", questionID)
	}
	return nil
}

// CompleteQuiz transitions an in_progress quiz to completed, persisting the
// total score, summary, and completion timestamp atomically.
func (s *Store) CompleteQuiz(ctx context.Context, quizID uuid.UUID, totalScore int, summary string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE quizzes
		 SET status = $2, total_score = $3, summary = $4, completed_at = $5
		 WHERE id = $1 AND status = $6`,
		quizID, QuizCompleted, totalScore, summary, time.Now().UTC(), QuizInProgress)
	if err != nil {
		return fmt.Errorf("completing quiz: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(apperr.KindStateConflict, "quiz %s is not in progress", quizID)
	}
	return nil
}

func scanQuiz(row pgx.Row) (Quiz, error) {
	var quiz Quiz
	var kbJSON []byte
	err := row.Scan(&quiz.ID, &quiz.OwnerID, &kbJSON, &quiz.QuestionCount, &quiz.Difficulty,
		&quiz.Status, &quiz.TotalScore, &quiz.Summary, &quiz.CreatedAt, &quiz.CompletedAt)
	if err != nil {
		return Quiz{}, err
	}

	var kbStrings []string
	if err := json.Unmarshal(kbJSON, &kbStrings); err != nil {
		return Quiz{}, fmt.Errorf("parsing quiz kb ids: %w", err)
	}
	quiz.KBIDs = make([]uuid.UUID, 0, len(kbStrings))
	for _, s := range kbStrings {
		id, err := uuid.Parse(s)
		if err != nil {
			return Quiz{}, fmt.Errorf("parsing kb id %q: %w", s, err)
		}
		quiz.KBIDs = append(quiz.KBIDs, id)
	}
	return quiz, nil
}

func scanQuestion(row pgx.Row) (QuizQuestion, error) {
	var q QuizQuestion
	err := row.Scan(&q.ID, &q.QuizID, &q.QuestionNumber, &q.ChunkContent, &q.Question,
		&q.StandardAnswer, &q.UserAnswer, &q.Score, &q.Feedback, &q.CreatedAt)
	if err != nil {
		return QuizQuestion{}, err
	}
	return q, nil
}
