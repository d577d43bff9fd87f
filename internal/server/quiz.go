package server

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/sagekb/sage/internal/apperr"
	"github.com/sagekb/sage/internal/server/sse"
)

type createQuizRequest struct {
	UserID        string   `json:"user_id"`
	KBIDs         []string `json:"kb_ids"`
	QuestionCount int      `json:"question_count"`
	Difficulty    string   `json:"difficulty"`
}

func (s *Server) handleCreateQuiz(w http.ResponseWriter, r *http.Request) {
	var req createQuizRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	kbIDs, err := parseKBIDs(req.KBIDs)
	if err != nil {
		writeError(w, apperr.New(apperr.KindValidation, "kb_ids must be valid uuids"))
		return
	}

	q, err := s.quiz.Create(r.Context(), strings.TrimSpace(req.UserID), kbIDs,
		req.QuestionCount, strings.TrimSpace(req.Difficulty))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, "quiz created", map[string]any{"quiz": q})
}

type quizCallerRequest struct {
	UserID string `json:"user_id"`
}

func (s *Server) handleStartQuiz(w http.ResponseWriter, r *http.Request) {
	quizID, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, apperr.New(apperr.KindValidation, "invalid quiz id"))
		return
	}
	var req quizCallerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	questions, err := s.quiz.Start(r.Context(), quizID, strings.TrimSpace(req.UserID))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, "quiz started", map[string]any{
		"quiz_id":   quizID,
		"questions": questions,
	})
}

type submitAnswerRequest struct {
	UserID     string `json:"user_id"`
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer"`
}

func (s *Server) handleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	quizID, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, apperr.New(apperr.KindValidation, "invalid quiz id"))
		return
	}
	var req submitAnswerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	questionID, err := uuid.Parse(strings.TrimSpace(req.QuestionID))
	if err != nil {
		writeError(w, apperr.New(apperr.KindValidation, "invalid question_id"))
		return
	}

	result, err := s.quiz.SubmitAnswer(r.Context(), quizID, questionID,
		strings.TrimSpace(req.UserID), req.Answer)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, "answer graded", map[string]any{
		"quiz_id": quizID,
		"result":  result,
	})
}

type summaryRequest struct {
	UserID string `json:"user_id"`
	Stream bool   `json:"stream"`
}

// handleQuizSummary finalizes a quiz. The batch form returns the total score
// and summary as one envelope; the streaming form sends a meta event with the
// total score, then delta events with summary tokens, then done.
func (s *Server) handleQuizSummary(w http.ResponseWriter, r *http.Request) {
	quizID, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, apperr.New(apperr.KindValidation, "invalid quiz id"))
		return
	}
	var req summaryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	userID := strings.TrimSpace(req.UserID)

	if !req.Stream {
		result, err := s.quiz.Summary(r.Context(), quizID, userID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, "quiz completed", map[string]any{
			"quiz_id":     quizID,
			"status":      result.Status,
			"total_score": result.TotalScore,
			"summary":     result.Summary,
		})
		return
	}

	stream, err := s.quiz.StreamSummary(r.Context(), quizID, userID)
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
		"quiz_id":     quizID,
		"total_score": stream.TotalScore,
	}); err != nil {
		return
	}
	for token := range stream.Tokens {
		if err := writer.WriteDelta(ctx, token); err != nil {
			return
		}
	}
	if stream.Err() != nil {
		_ = writer.WriteError(ctx, "summary generation was interrupted")
		return
	}
	_ = writer.WriteDone(ctx)
}
