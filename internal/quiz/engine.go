// Package quiz orchestrates the self-assessment lifecycle: sampling chunks,
// concurrent question generation, per-answer grading, score aggregation, and
// summary synthesis.
//
// A quiz is a finite state machine: created → in_progress → completed, with
// no regression transitions. Each transition is triggered by exactly one
// operation and persisted atomically, so a failed operation leaves no partial
// rows.
package quiz

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/sagekb/sage/internal/ai"
	"github.com/sagekb/sage/internal/apperr"
	"github.com/sagekb/sage/internal/store"
)

const (
	// MinQuestions and MaxQuestions bound the requested question count.
	MinQuestions = 1
	MaxQuestions = 20

	// MinChunkLength filters sampled chunks: anything shorter is assumed to
	// be a header or boilerplate, unsuitable for question generation.
	MinChunkLength = 50

	// sampleMultiplier oversamples chunks so skipped or malformed generation
	// attempts still leave enough material.
	sampleMultiplier = 3

	// maxGenWorkers caps the question-generation worker pool width.
	maxGenWorkers = 10

	// generationTemperature and gradingTemperature tune the two LLM roles:
	// generation gets a little freedom, grading is kept near-deterministic.
	generationTemperature = 0.3
	gradingTemperature    = 0.1
	summaryTemperature    = 0.3
)

// FallbackSummary is persisted when summary synthesis yields no text, so a
// completed quiz never carries an empty summary.
const FallbackSummary = "The assessment is complete, but no summary could be generated."

// Store is the persistence surface the engine needs. *store.Store satisfies
// this.
type Store interface {
	GetKnowledgeBase(ctx context.Context, id uuid.UUID) (store.KnowledgeBase, error)
	SampleChunks(ctx context.Context, kbIDs []uuid.UUID, minLength, limit int) ([]store.Chunk, error)

	CreateQuiz(ctx context.Context, ownerID string, kbIDs []uuid.UUID, questionCount int, difficulty string) (store.Quiz, error)
	GetQuiz(ctx context.Context, id uuid.UUID) (store.Quiz, error)
	StartQuiz(ctx context.Context, quizID uuid.UUID, questions []store.NewQuestion) error
	GetQuestion(ctx context.Context, id uuid.UUID) (store.QuizQuestion, error)
	ListQuestions(ctx context.Context, quizID uuid.UUID) ([]store.QuizQuestion, error)
	RecordAnswer(ctx context.Context, questionID uuid.UUID, answer string, score int, feedback string) error
	CompleteQuiz(ctx context.Context, quizID uuid.UUID, totalScore int, summary string) error
}

// Engine runs the quiz lifecycle.
type Engine struct {
	store     Store
	completer ai.Completer
	logger    *slog.Logger
}

// New creates a quiz engine.
func New(st Store, completer ai.Completer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: st, completer: completer, logger: logger}
}

// QuestionView is a question as exposed to the quiz taker: no standard
// answer, no source chunk.
type QuestionView struct {
	ID             uuid.UUID `json:"id"`
	QuestionNumber int       `json:"question_number"`
	Question       string    `json:"question"`
}

// SubmitResult reports one graded answer.
type SubmitResult struct {
	QuestionNumber int    `json:"question_number"`
	Score          int    `json:"score"`
	Feedback       string `json:"feedback"`
}

// SummaryResult is the final state of a completed quiz.
type SummaryResult struct {
	Status     string `json:"status"`
	TotalScore int    `json:"total_score"`
	Summary    string `json:"summary"`
}

// Create validates the request and creates a quiz in the created state.
// Every referenced knowledge base must exist and be visible to the caller
// (owned or public); otherwise nothing is created.
func (e *Engine) Create(ctx context.Context, ownerID string, kbIDs []uuid.UUID, questionCount int, difficulty string) (store.Quiz, error) {
	if ownerID == "" {
		return store.Quiz{}, apperr.New(apperr.KindValidation, "user id must not be empty")
	}
	if len(kbIDs) == 0 {
		return store.Quiz{}, apperr.New(apperr.KindValidation, "at least one knowledge base id is required")
	}
	if questionCount < MinQuestions || questionCount > MaxQuestions {
		return store.Quiz{}, apperr.Newf(apperr.KindValidation,
			"question count must be between %d and %d", MinQuestions, MaxQuestions)
	}
	if !store.ValidDifficulty(difficulty) {
		return store.Quiz{}, apperr.Newf(apperr.KindValidation, "unknown difficulty %q", difficulty)
	}

	for _, kbID := range kbIDs {
		kb, err := e.store.GetKnowledgeBase(ctx, kbID)
		if err != nil {
			return store.Quiz{}, err
		}
		if !kb.Visible(ownerID) {
			return store.Quiz{}, apperr.Newf(apperr.KindPermissionDenied,
				"knowledge base %s is private", kbID)
		}
	}

	return e.store.CreateQuiz(ctx, ownerID, kbIDs, questionCount, difficulty)
}

// Start samples chunks, generates exactly the requested number of questions
// concurrently, persists them, and transitions the quiz to in_progress.
// If generation cannot reach the requested count, the quiz stays in the
// created state and no questions are persisted.
func (e *Engine) Start(ctx context.Context, quizID uuid.UUID, callerID string) ([]QuestionView, error) {
	quiz, err := e.ownedQuiz(ctx, quizID, callerID)
	if err != nil {
		return nil, err
	}
	if quiz.Status != store.QuizCreated {
		return nil, apperr.Newf(apperr.KindStateConflict,
			"quiz %s is %s, expected %s", quizID, quiz.Status, store.QuizCreated)
	}

	chunks, err := e.store.SampleChunks(ctx, quiz.KBIDs, MinChunkLength, quiz.QuestionCount*sampleMultiplier)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, apperr.New(apperr.KindInsufficientContent,
			"the selected knowledge bases have no chunks suitable for question generation")
	}

	questions, err := e.generateQuestions(ctx, chunks, quiz.QuestionCount, quiz.Difficulty)
	if err != nil {
		return nil, err
	}

	if err := e.store.StartQuiz(ctx, quizID, questions); err != nil {
		return nil, err
	}

	persisted, err := e.store.ListQuestions(ctx, quizID)
	if err != nil {
		return nil, err
	}
	views := make([]QuestionView, 0, len(persisted))
	for _, q := range persisted {
		views = append(views, QuestionView{
			ID:             q.ID,
			QuestionNumber: q.QuestionNumber,
			Question:       q.Question,
		})
	}

	e.logger.Info("started quiz", "quiz_id", quizID, "questions", len(views))
	return views, nil
}

// SubmitAnswer grades one answer and persists the answer/score/feedback
// triple. The question must belong to an in_progress quiz owned by the
// caller and must not have been answered before. A grading response that
// cannot be parsed is a hard failure and nothing is persisted.
func (e *Engine) SubmitAnswer(ctx context.Context, quizID, questionID uuid.UUID, callerID, answer string) (SubmitResult, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return SubmitResult{}, apperr.New(apperr.KindValidation, "answer must not be empty")
	}

	quiz, err := e.ownedQuiz(ctx, quizID, callerID)
	if err != nil {
		return SubmitResult{}, err
	}
	if quiz.Status != store.QuizInProgress {
		return SubmitResult{}, apperr.Newf(apperr.KindStateConflict,
			"quiz %s is %s, expected %s", quizID, quiz.Status, store.QuizInProgress)
	}

	question, err := e.store.GetQuestion(ctx, questionID)
	if err != nil {
		return SubmitResult{}, err
	}
	if question.QuizID != quizID {
		return SubmitResult{}, apperr.Newf(apperr.KindNotFound,
			"question %s does not belong to quiz %s", questionID, quizID)
	}
	if question.Answered() {
		return SubmitResult{}, apperr.Newf(apperr.KindStateConflict,
			"question %d is already answered", question.QuestionNumber)
	}

	maxScore := quiz.MaxScorePerQuestion()
	reply, err := e.completer.Complete(ctx,
		gradingPrompt(maxScore, question.ChunkContent, question.Question, question.StandardAnswer, answer),
		ai.WithTemperature(gradingTemperature))
	if err != nil {
		return SubmitResult{}, apperr.Wrap(apperr.KindGradingFailed, "grading request failed", err)
	}

	score, feedback, err := parseGrade(reply, maxScore)
	if err != nil {
		return SubmitResult{}, apperr.Wrap(apperr.KindGradingFailed, "grading response unparseable", err)
	}

	// The conditional update in RecordAnswer is the real duplicate guard;
	// the Answered check above only avoids a wasted grading call.
	if err := e.store.RecordAnswer(ctx, questionID, answer, score, feedback); err != nil {
		return SubmitResult{}, err
	}

	return SubmitResult{
		QuestionNumber: question.QuestionNumber,
		Score:          score,
		Feedback:       feedback,
	}, nil
}

// Summary computes the total score, synthesizes the review text, and
// transitions the quiz to completed. Calling it on an already-completed quiz
// re-reads the persisted result. Any unanswered question rejects the call,
// naming every missing question number.
func (e *Engine) Summary(ctx context.Context, quizID uuid.UUID, callerID string) (SummaryResult, error) {
	quiz, questions, total, err := e.summaryPreconditions(ctx, quizID, callerID)
	if err != nil {
		return SummaryResult{}, err
	}
	if quiz.Status == store.QuizCompleted {
		return completedResult(quiz), nil
	}

	text, err := e.completer.Complete(ctx,
		summaryPrompt(total, questions, quiz.MaxScorePerQuestion()),
		ai.WithTemperature(summaryTemperature))
	if err != nil {
		return SummaryResult{}, apperr.Wrap(apperr.KindSummaryFailed, "summary request failed", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		text = FallbackSummary
	}

	if err := e.store.CompleteQuiz(ctx, quizID, total, text); err != nil {
		return SummaryResult{}, err
	}

	return SummaryResult{Status: store.QuizCompleted, TotalScore: total, Summary: text}, nil
}

// SummaryStream carries the streamed summary tokens and the total score
// computed before streaming began.
type SummaryStream struct {
	TotalScore int
	Tokens     iter.Seq[string]

	err error
}

// Err reports whether the stream was cut short by a completion failure.
// Valid only after Tokens has been fully drained.
func (s *SummaryStream) Err() error { return s.err }

// StreamSummary is the streaming variant of Summary. Tokens are yielded as
// they arrive; the accumulated text is persisted only after the stream
// completes, with FallbackSummary substituted if it ends up empty. A
// mid-stream failure yields one diagnostic token and ends the stream.
// For an already-completed quiz the persisted summary is replayed as a
// single token.
func (e *Engine) StreamSummary(ctx context.Context, quizID uuid.UUID, callerID string) (*SummaryStream, error) {
	quiz, questions, total, err := e.summaryPreconditions(ctx, quizID, callerID)
	if err != nil {
		return nil, err
	}

	if quiz.Status == store.QuizCompleted {
		result := completedResult(quiz)
		return &SummaryStream{
			TotalScore: result.TotalScore,
			Tokens: func(yield func(string) bool) {
				yield(result.Summary)
			},
		}, nil
	}

	prompt := summaryPrompt(total, questions, quiz.MaxScorePerQuestion())
	stream := &SummaryStream{TotalScore: total}
	stream.Tokens = func(yield func(string) bool) {
		var sb strings.Builder
		abandoned := false

		for token, err := range e.completer.CompleteStream(ctx, prompt, ai.WithTemperature(summaryTemperature)) {
			if err != nil {
				e.logger.Error("summary stream failed", "quiz_id", quizID, "error", err)
				stream.err = err
				diagnostic := "Summary generation was interrupted; the recorded summary may be incomplete."
				sb.WriteString(diagnostic)
				yield(diagnostic)
				break
			}
			sb.WriteString(token)
			if !yield(token) {
				abandoned = true
				break
			}
		}
		if abandoned {
			// Consumer stopped draining; leave the quiz in_progress so a
			// later summary call can finish the job.
			return
		}

		text := strings.TrimSpace(sb.String())
		if text == "" {
			text = FallbackSummary
		}
		if err := e.store.CompleteQuiz(ctx, quizID, total, text); err != nil {
			e.logger.Error("persisting streamed summary failed", "quiz_id", quizID, "error", err)
		}
	}

	return stream, nil
}

// ownedQuiz fetches a quiz and enforces caller ownership.
func (e *Engine) ownedQuiz(ctx context.Context, quizID uuid.UUID, callerID string) (store.Quiz, error) {
	quiz, err := e.store.GetQuiz(ctx, quizID)
	if err != nil {
		return store.Quiz{}, err
	}
	if quiz.OwnerID != callerID {
		return store.Quiz{}, apperr.Newf(apperr.KindPermissionDenied,
			"quiz %s belongs to another user", quizID)
	}
	return quiz, nil
}

// summaryPreconditions enforces the summary state machine and returns the
// quiz, its questions, and the aggregate score.
func (e *Engine) summaryPreconditions(ctx context.Context, quizID uuid.UUID, callerID string) (store.Quiz, []store.QuizQuestion, int, error) {
	quiz, err := e.ownedQuiz(ctx, quizID, callerID)
	if err != nil {
		return store.Quiz{}, nil, 0, err
	}

	if quiz.Status == store.QuizCompleted {
		return quiz, nil, 0, nil
	}
	if quiz.Status != store.QuizInProgress {
		return store.Quiz{}, nil, 0, apperr.Newf(apperr.KindStateConflict,
			"quiz %s is %s, expected %s", quizID, quiz.Status, store.QuizInProgress)
	}

	questions, err := e.store.ListQuestions(ctx, quizID)
	if err != nil {
		return store.Quiz{}, nil, 0, err
	}

	var unanswered []string
	total := 0
	for _, q := range questions {
		if !q.Answered() {
			unanswered = append(unanswered, fmt.Sprintf("%d", q.QuestionNumber))
			continue
		}
		if q.Score != nil {
			total += *q.Score
		}
	}
	if len(unanswered) > 0 {
		return store.Quiz{}, nil, 0, apperr.Newf(apperr.KindStateConflict,
			"questions %s are not answered yet", strings.Join(unanswered, ", "))
	}

	return quiz, questions, total, nil
}

func completedResult(quiz store.Quiz) SummaryResult {
	result := SummaryResult{Status: store.QuizCompleted}
	if quiz.TotalScore != nil {
		result.TotalScore = *quiz.TotalScore
	}
	if quiz.Summary != nil {
		result.Summary = *quiz.Summary
	}
	return result
}

// errGenCanceled marks generation attempts cut short by pool cancellation;
// their results are discarded, never persisted.
var errGenCanceled = errors.New("generation canceled")

// generateQuestions runs chunk-to-question generation on a bounded worker
// pool and collects results until questionCount questions are accepted.
// Question numbers are assigned 1..N in acceptance order. Outstanding work is
// canceled best-effort once the target is reached; late results are
// discarded. Fewer than questionCount accepted questions after exhausting the
// sample is an InsufficientContent failure.
func (e *Engine) generateQuestions(ctx context.Context, chunks []store.Chunk, questionCount int, difficulty string) ([]store.NewQuestion, error) {
	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type genOutput struct {
		genResult
		chunkContent string
	}

	width := min(questionCount, maxGenWorkers)
	jobs := make(chan store.Chunk)
	results := make(chan genOutput)

	var wg sync.WaitGroup
	for range width {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for chunk := range jobs {
				result, err := e.generateOne(genCtx, chunk.Content, difficulty)
				if err != nil {
					continue
				}
				select {
				case results <- genOutput{genResult: result, chunkContent: chunk.Content}:
				case <-genCtx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, chunk := range chunks {
			select {
			case jobs <- chunk:
			case <-genCtx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	accepted := make([]store.NewQuestion, 0, questionCount)
	skipped, malformed := 0, 0
	for result := range results {
		switch result.outcome {
		case genSkipped:
			skipped++
			continue
		case genMalformed:
			malformed++
			continue
		}
		if len(accepted) == questionCount {
			// Late result after cancellation: discard.
			continue
		}
		accepted = append(accepted, store.NewQuestion{
			QuestionNumber: len(accepted) + 1,
			ChunkContent:   result.chunkContent,
			Question:       result.question,
			StandardAnswer: result.answer,
		})
		if len(accepted) == questionCount {
			cancel()
		}
	}

	e.logger.Debug("question generation finished",
		"accepted", len(accepted), "skipped", skipped, "malformed", malformed,
		"sampled", len(chunks))

	if len(accepted) < questionCount {
		return nil, apperr.Newf(apperr.KindInsufficientContent,
			"generated only %d of %d questions; the knowledge bases may lack enough substantive content",
			len(accepted), questionCount)
	}
	return accepted, nil
}

// generateOne asks the completion capability for one question from a chunk.
// A canceled context returns errGenCanceled so the caller can discard the
// attempt silently.
func (e *Engine) generateOne(ctx context.Context, chunkContent, difficulty string) (genResult, error) {
	reply, err := e.completer.Complete(ctx, generationPrompt(chunkContent, difficulty),
		ai.WithTemperature(generationTemperature))
	if err != nil {
		if ctx.Err() != nil {
			return genResult{}, errGenCanceled
		}
		e.logger.Warn("question generation request failed", "error", err)
		return genResult{outcome: genMalformed}, nil
	}
	return parseGeneration(reply), nil
}
