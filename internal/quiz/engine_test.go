package quiz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/goleak"

	"github.com/sagekb/sage/internal/apperr"
	"github.com/sagekb/sage/internal/log"
	"github.com/sagekb/sage/internal/store"
	"github.com/sagekb/sage/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeStore is an in-memory Store that mirrors the real store's state-machine
// guards: StartQuiz requires created, RecordAnswer rejects a second write,
// CompleteQuiz requires in_progress.
type fakeStore struct {
	mu        sync.Mutex
	kbs       map[uuid.UUID]store.KnowledgeBase
	chunks    []store.Chunk
	quizzes   map[uuid.UUID]*store.Quiz
	questions map[uuid.UUID]*store.QuizQuestion
	sampleErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		kbs:       make(map[uuid.UUID]store.KnowledgeBase),
		quizzes:   make(map[uuid.UUID]*store.Quiz),
		questions: make(map[uuid.UUID]*store.QuizQuestion),
	}
}

func (f *fakeStore) addKB(ownerID string) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	kb := store.KnowledgeBase{ID: uuid.New(), Name: "kb", OwnerID: ownerID, CreatedAt: time.Now()}
	f.kbs[kb.ID] = kb
	return kb.ID
}

func (f *fakeStore) addChunks(kbID uuid.UUID, contents ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range contents {
		f.chunks = append(f.chunks, store.Chunk{ID: uuid.New(), KBID: kbID, Content: c})
	}
}

func (f *fakeStore) GetKnowledgeBase(_ context.Context, id uuid.UUID) (store.KnowledgeBase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kb, ok := f.kbs[id]
	if !ok {
		return store.KnowledgeBase{}, apperr.Newf(apperr.KindNotFound, "knowledge base %s not found", id)
	}
	return kb, nil
}

func (f *fakeStore) SampleChunks(_ context.Context, kbIDs []uuid.UUID, minLength, limit int) ([]store.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sampleErr != nil {
		return nil, f.sampleErr
	}
	wanted := make(map[uuid.UUID]bool, len(kbIDs))
	for _, id := range kbIDs {
		wanted[id] = true
	}
	var out []store.Chunk
	for _, c := range f.chunks {
		if wanted[c.KBID] && len([]rune(c.Content)) >= minLength && len(out) < limit {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateQuiz(_ context.Context, ownerID string, kbIDs []uuid.UUID, questionCount int, difficulty string) (store.Quiz, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := store.Quiz{
		ID: uuid.New(), OwnerID: ownerID, KBIDs: kbIDs,
		QuestionCount: questionCount, Difficulty: difficulty,
		Status: store.QuizCreated, CreatedAt: time.Now(),
	}
	f.quizzes[q.ID] = &q
	return q, nil
}

func (f *fakeStore) GetQuiz(_ context.Context, id uuid.UUID) (store.Quiz, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.quizzes[id]
	if !ok {
		return store.Quiz{}, apperr.Newf(apperr.KindNotFound, "quiz %s not found", id)
	}
	return *q, nil
}

func (f *fakeStore) StartQuiz(_ context.Context, quizID uuid.UUID, questions []store.NewQuestion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.quizzes[quizID]
	if !ok {
		return apperr.Newf(apperr.KindNotFound, "quiz %s not found", quizID)
	}
	if q.Status != store.QuizCreated {
		return apperr.Newf(apperr.KindStateConflict, "quiz %s is %s", quizID, q.Status)
	}
	q.Status = store.QuizInProgress
	for _, nq := range questions {
		row := store.QuizQuestion{
			ID: uuid.New(), QuizID: quizID,
			QuestionNumber: nq.QuestionNumber,
			ChunkContent:   nq.ChunkContent,
			Question:       nq.Question,
			StandardAnswer: nq.StandardAnswer,
			CreatedAt:      time.Now(),
		}
		f.questions[row.ID] = &row
	}
	return nil
}

func (f *fakeStore) GetQuestion(_ context.Context, id uuid.UUID) (store.QuizQuestion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.questions[id]
	if !ok {
		return store.QuizQuestion{}, apperr.Newf(apperr.KindNotFound, "question %s not found", id)
	}
	return *q, nil
}

func (f *fakeStore) ListQuestions(_ context.Context, quizID uuid.UUID) ([]store.QuizQuestion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.QuizQuestion
	for n := 1; ; n++ {
		found := false
		for _, q := range f.questions {
			if q.QuizID == quizID && q.QuestionNumber == n {
				out = append(out, *q)
				found = true
				break
			}
		}
		if !found {
			return out, nil
		}
	}
}

func (f *fakeStore) RecordAnswer(_ context.Context, questionID uuid.UUID, answer string, score int, feedback string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.questions[questionID]
	if !ok {
		return apperr.Newf(apperr.KindNotFound, "question %s not found", questionID)
	}
	if q.UserAnswer != nil {
		return apperr.Newf(apperr.KindStateConflict, "question %d is already answered", q.QuestionNumber)
	}
	q.UserAnswer, q.Score, q.Feedback = &answer, &score, &feedback
	return nil
}

func (f *fakeStore) CompleteQuiz(_ context.Context, quizID uuid.UUID, totalScore int, summary string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.quizzes[quizID]
	if !ok {
		return apperr.Newf(apperr.KindNotFound, "quiz %s not found", quizID)
	}
	if q.Status != store.QuizInProgress {
		return apperr.Newf(apperr.KindStateConflict, "quiz %s is %s", quizID, q.Status)
	}
	now := time.Now()
	q.Status, q.TotalScore, q.Summary, q.CompletedAt = store.QuizCompleted, &totalScore, &summary, &now
	return nil
}

// defaultCompleter answers all three prompt roles with well-formed replies.
func defaultCompleter() *testutil.MockCompleter {
	return &testutil.MockCompleter{
		Rules: []testutil.CompletionRule{
			{Contains: "expert examiner", Response: `{"question": "What does the passage describe?", "standard_answer": "The passage describes the topic in detail."}`},
			{Contains: "strict grader", Response: `{"score": 25, "feedback": "complete and correct"}`},
			{Contains: "senior reviewer", Response: "Strong command of the material overall."},
		},
	}
}

// longChunk is comfortably above the minimum sampling length.
func longChunk(seed int) string {
	return fmt.Sprintf("Passage %d: %s", seed, strings.Repeat("substantive knowledge content ", 4))
}

func seededQuiz(t *testing.T, st *fakeStore, completer *testutil.MockCompleter, count int) (*Engine, store.Quiz) {
	t.Helper()
	kbID := st.addKB("alice")
	for i := range count * sampleMultiplier {
		st.addChunks(kbID, longChunk(i))
	}
	engine := New(st, completer, log.NewNop())
	quiz, err := engine.Create(context.Background(), "alice", []uuid.UUID{kbID}, count, store.DifficultyMedium)
	if err != nil {
		t.Fatal(err)
	}
	return engine, quiz
}

func TestCreateValidation(t *testing.T) {
	st := newFakeStore()
	kbID := st.addKB("alice")
	engine := New(st, defaultCompleter(), log.NewNop())
	ctx := context.Background()

	tests := []struct {
		name       string
		ownerID    string
		kbIDs      []uuid.UUID
		count      int
		difficulty string
		wantKind   apperr.Kind
	}{
		{"empty user", "", []uuid.UUID{kbID}, 4, store.DifficultyEasy, apperr.KindValidation},
		{"no kbs", "alice", nil, 4, store.DifficultyEasy, apperr.KindValidation},
		{"count too low", "alice", []uuid.UUID{kbID}, 0, store.DifficultyEasy, apperr.KindValidation},
		{"count too high", "alice", []uuid.UUID{kbID}, 21, store.DifficultyEasy, apperr.KindValidation},
		{"bad difficulty", "alice", []uuid.UUID{kbID}, 4, "impossible", apperr.KindValidation},
		{"missing kb", "alice", []uuid.UUID{uuid.New()}, 4, store.DifficultyEasy, apperr.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Create(ctx, tt.ownerID, tt.kbIDs, tt.count, tt.difficulty)
			if !apperr.IsKind(err, tt.wantKind) {
				t.Errorf("err = %v, want kind %q", err, tt.wantKind)
			}
		})
	}
}

func TestCreateRejectsPrivateKB(t *testing.T) {
	st := newFakeStore()
	kbID := st.addKB("bob")
	engine := New(st, defaultCompleter(), log.NewNop())

	_, err := engine.Create(context.Background(), "alice", []uuid.UUID{kbID}, 4, store.DifficultyEasy)
	if !apperr.IsKind(err, apperr.KindPermissionDenied) {
		t.Fatalf("err = %v, want permission_denied", err)
	}
}

func TestCreateAllowsPublicKB(t *testing.T) {
	st := newFakeStore()
	kbID := st.addKB(store.PublicOwner)
	engine := New(st, defaultCompleter(), log.NewNop())

	quiz, err := engine.Create(context.Background(), "alice", []uuid.UUID{kbID}, 4, store.DifficultyEasy)
	if err != nil {
		t.Fatal(err)
	}
	if quiz.Status != store.QuizCreated {
		t.Errorf("status = %q, want %q", quiz.Status, store.QuizCreated)
	}
}

func TestStartGeneratesNumberedQuestions(t *testing.T) {
	st := newFakeStore()
	engine, quiz := seededQuiz(t, st, defaultCompleter(), 4)

	questions, err := engine.Start(context.Background(), quiz.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(questions) != 4 {
		t.Fatalf("got %d questions, want 4", len(questions))
	}
	for i, q := range questions {
		if q.QuestionNumber != i+1 {
			t.Errorf("question %d numbered %d", i, q.QuestionNumber)
		}
		if q.Question == "" {
			t.Errorf("question %d has empty text", i)
		}
	}

	got, err := st.GetQuiz(context.Background(), quiz.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.QuizInProgress {
		t.Errorf("status = %q, want %q", got.Status, store.QuizInProgress)
	}
}

func TestStartTwiceConflicts(t *testing.T) {
	st := newFakeStore()
	engine, quiz := seededQuiz(t, st, defaultCompleter(), 2)
	ctx := context.Background()

	if _, err := engine.Start(ctx, quiz.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	_, err := engine.Start(ctx, quiz.ID, "alice")
	if !apperr.IsKind(err, apperr.KindStateConflict) {
		t.Fatalf("second start: err = %v, want state_conflict", err)
	}
}

func TestStartByNonOwner(t *testing.T) {
	st := newFakeStore()
	engine, quiz := seededQuiz(t, st, defaultCompleter(), 2)

	_, err := engine.Start(context.Background(), quiz.ID, "mallory")
	if !apperr.IsKind(err, apperr.KindPermissionDenied) {
		t.Fatalf("err = %v, want permission_denied", err)
	}
}

func TestStartWithNoChunks(t *testing.T) {
	st := newFakeStore()
	kbID := st.addKB("alice")
	engine := New(st, defaultCompleter(), log.NewNop())
	ctx := context.Background()

	quiz, err := engine.Create(ctx, "alice", []uuid.UUID{kbID}, 3, store.DifficultyEasy)
	if err != nil {
		t.Fatal(err)
	}
	_, err = engine.Start(ctx, quiz.ID, "alice")
	if !apperr.IsKind(err, apperr.KindInsufficientContent) {
		t.Fatalf("err = %v, want insufficient_content", err)
	}

	got, _ := st.GetQuiz(ctx, quiz.ID)
	if got.Status != store.QuizCreated {
		t.Errorf("failed start must leave quiz created, got %q", got.Status)
	}
}

func TestStartGenerationShortfall(t *testing.T) {
	completer := &testutil.MockCompleter{Response: "SKIP"}
	st := newFakeStore()
	engine, quiz := seededQuiz(t, st, completer, 3)
	ctx := context.Background()

	_, err := engine.Start(ctx, quiz.ID, "alice")
	if !apperr.IsKind(err, apperr.KindInsufficientContent) {
		t.Fatalf("err = %v, want insufficient_content", err)
	}

	got, _ := st.GetQuiz(ctx, quiz.ID)
	if got.Status != store.QuizCreated {
		t.Errorf("quiz status = %q, want %q", got.Status, store.QuizCreated)
	}
	qs, _ := st.ListQuestions(ctx, quiz.ID)
	if len(qs) != 0 {
		t.Errorf("shortfall must persist no questions, got %d", len(qs))
	}
}

func TestSubmitAnswerFlow(t *testing.T) {
	st := newFakeStore()
	engine, quiz := seededQuiz(t, st, defaultCompleter(), 4)
	ctx := context.Background()

	questions, err := engine.Start(ctx, quiz.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}

	result, err := engine.SubmitAnswer(ctx, quiz.ID, questions[0].ID, "alice", "The passage describes the topic in detail.")
	if err != nil {
		t.Fatal(err)
	}
	if result.QuestionNumber != 1 {
		t.Errorf("question number = %d, want 1", result.QuestionNumber)
	}
	if result.Score != 25 {
		t.Errorf("score = %d, want 25 (100/4 per question)", result.Score)
	}
	if result.Feedback == "" {
		t.Error("feedback must not be empty")
	}

	// Duplicate submission.
	_, err = engine.SubmitAnswer(ctx, quiz.ID, questions[0].ID, "alice", "again")
	if !apperr.IsKind(err, apperr.KindStateConflict) {
		t.Fatalf("duplicate submit: err = %v, want state_conflict", err)
	}
}

func TestSubmitAnswerEmptyAfterTrim(t *testing.T) {
	completer := defaultCompleter()
	st := newFakeStore()
	engine, quiz := seededQuiz(t, st, completer, 2)
	ctx := context.Background()

	questions, err := engine.Start(ctx, quiz.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	before := len(completer.Prompts())

	_, err = engine.SubmitAnswer(ctx, quiz.ID, questions[0].ID, "alice", "   \n\t ")
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("err = %v, want validation_error", err)
	}
	if len(completer.Prompts()) != before {
		t.Error("empty answer must be rejected before any grading call")
	}
}

func TestSubmitAnswerBeforeStart(t *testing.T) {
	st := newFakeStore()
	engine, quiz := seededQuiz(t, st, defaultCompleter(), 2)

	_, err := engine.SubmitAnswer(context.Background(), quiz.ID, uuid.New(), "alice", "answer")
	if !apperr.IsKind(err, apperr.KindStateConflict) {
		t.Fatalf("err = %v, want state_conflict", err)
	}
}

func TestSubmitAnswerWrongQuiz(t *testing.T) {
	st := newFakeStore()
	engine, quizA := seededQuiz(t, st, defaultCompleter(), 2)
	ctx := context.Background()

	if _, err := engine.Start(ctx, quizA.ID, "alice"); err != nil {
		t.Fatal(err)
	}

	quizB, err := engine.Create(ctx, "alice", quizA.KBIDs, 2, store.DifficultyEasy)
	if err != nil {
		t.Fatal(err)
	}
	questionsB, err := engine.Start(ctx, quizB.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}

	_, err = engine.SubmitAnswer(ctx, quizA.ID, questionsB[0].ID, "alice", "answer")
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("cross-quiz question: err = %v, want not_found", err)
	}
}

func TestSubmitAnswerGradingFailure(t *testing.T) {
	completer := defaultCompleter()
	completer.Rules[1].Response = "I think this deserves a good score."
	st := newFakeStore()
	engine, quiz := seededQuiz(t, st, completer, 2)
	ctx := context.Background()

	questions, err := engine.Start(ctx, quiz.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	_, err = engine.SubmitAnswer(ctx, quiz.ID, questions[0].ID, "alice", "my answer")
	if !apperr.IsKind(err, apperr.KindGradingFailed) {
		t.Fatalf("err = %v, want grading_failed", err)
	}

	// Nothing was persisted, so a retry still sees an unanswered question.
	q, _ := st.GetQuestion(ctx, questions[0].ID)
	if q.Answered() {
		t.Error("failed grading must not record an answer")
	}
}

func TestSummaryRejectsUnanswered(t *testing.T) {
	st := newFakeStore()
	engine, quiz := seededQuiz(t, st, defaultCompleter(), 3)
	ctx := context.Background()

	questions, err := engine.Start(ctx, quiz.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := engine.SubmitAnswer(ctx, quiz.ID, questions[0].ID, "alice", "answer"); err != nil {
		t.Fatal(err)
	}

	_, err = engine.Summary(ctx, quiz.ID, "alice")
	if !apperr.IsKind(err, apperr.KindStateConflict) {
		t.Fatalf("err = %v, want state_conflict", err)
	}
	msg := apperr.Message(err)
	if !strings.Contains(msg, "2") || !strings.Contains(msg, "3") {
		t.Errorf("message should name unanswered question numbers, got %q", msg)
	}
}

func TestSummaryCompletesQuiz(t *testing.T) {
	st := newFakeStore()
	engine, quiz := seededQuiz(t, st, defaultCompleter(), 4)
	ctx := context.Background()

	questions, err := engine.Start(ctx, quiz.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	for _, q := range questions {
		if _, err := engine.SubmitAnswer(ctx, quiz.ID, q.ID, "alice", "The passage describes the topic in detail."); err != nil {
			t.Fatal(err)
		}
	}

	result, err := engine.Summary(ctx, quiz.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if result.TotalScore != 100 {
		t.Errorf("total = %d, want 100 (4 × 25)", result.TotalScore)
	}
	if result.Status != store.QuizCompleted {
		t.Errorf("status = %q, want %q", result.Status, store.QuizCompleted)
	}
	if result.Summary == "" {
		t.Error("completed quiz must have a non-empty summary")
	}

	// A second call replays the persisted result.
	again, err := engine.Summary(ctx, quiz.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if again.TotalScore != result.TotalScore || again.Summary != result.Summary {
		t.Error("repeated summary should return the persisted result")
	}
}

func TestSummaryLLMFailureKeepsQuizInProgress(t *testing.T) {
	completer := defaultCompleter()
	completer.Rules[2].Err = errors.New("model overloaded")
	st := newFakeStore()
	engine, quiz := seededQuiz(t, st, completer, 2)
	ctx := context.Background()

	questions, err := engine.Start(ctx, quiz.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	for _, q := range questions {
		if _, err := engine.SubmitAnswer(ctx, quiz.ID, q.ID, "alice", "answer"); err != nil {
			t.Fatal(err)
		}
	}

	_, err = engine.Summary(ctx, quiz.ID, "alice")
	if !apperr.IsKind(err, apperr.KindSummaryFailed) {
		t.Fatalf("err = %v, want summary_failed", err)
	}
	got, _ := st.GetQuiz(ctx, quiz.ID)
	if got.Status != store.QuizInProgress {
		t.Errorf("status = %q, want still %q", got.Status, store.QuizInProgress)
	}
}

func TestSummaryEmptyTextUsesFallback(t *testing.T) {
	completer := defaultCompleter()
	completer.Rules[2].Response = "   "
	st := newFakeStore()
	engine, quiz := seededQuiz(t, st, completer, 1)
	ctx := context.Background()

	questions, err := engine.Start(ctx, quiz.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := engine.SubmitAnswer(ctx, quiz.ID, questions[0].ID, "alice", "answer"); err != nil {
		t.Fatal(err)
	}

	result, err := engine.Summary(ctx, quiz.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if result.Summary != FallbackSummary {
		t.Errorf("summary = %q, want fallback sentence", result.Summary)
	}
}

func TestStreamSummaryPersistsAccumulatedText(t *testing.T) {
	st := newFakeStore()
	engine, quiz := seededQuiz(t, st, defaultCompleter(), 2)
	ctx := context.Background()

	questions, err := engine.Start(ctx, quiz.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	for _, q := range questions {
		if _, err := engine.SubmitAnswer(ctx, quiz.ID, q.ID, "alice", "answer"); err != nil {
			t.Fatal(err)
		}
	}

	stream, err := engine.StreamSummary(ctx, quiz.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}

	var sb strings.Builder
	for token := range stream.Tokens {
		sb.WriteString(token)
	}
	if sb.String() != "Strong command of the material overall." {
		t.Errorf("streamed text = %q", sb.String())
	}

	got, _ := st.GetQuiz(ctx, quiz.ID)
	if got.Status != store.QuizCompleted {
		t.Fatalf("status = %q, want %q", got.Status, store.QuizCompleted)
	}
	if got.Summary == nil || *got.Summary != strings.TrimSpace(sb.String()) {
		t.Error("persisted summary should match the streamed text")
	}
}

func TestStreamSummaryMidStreamFailure(t *testing.T) {
	completer := defaultCompleter()
	completer.StreamFailAfter = 2
	st := newFakeStore()
	engine, quiz := seededQuiz(t, st, completer, 1)
	ctx := context.Background()

	questions, err := engine.Start(ctx, quiz.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := engine.SubmitAnswer(ctx, quiz.ID, questions[0].ID, "alice", "answer"); err != nil {
		t.Fatal(err)
	}

	stream, err := engine.StreamSummary(ctx, quiz.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	var tokens []string
	for token := range stream.Tokens {
		tokens = append(tokens, token)
	}
	if len(tokens) != 3 {
		t.Fatalf("got %d tokens, want 2 content + 1 diagnostic", len(tokens))
	}
	last := tokens[len(tokens)-1]
	if !strings.Contains(last, "interrupted") {
		t.Errorf("final token should be the diagnostic, got %q", last)
	}
	if stream.Err() == nil {
		t.Error("drained stream should report the completion failure")
	}

	got, _ := st.GetQuiz(ctx, quiz.ID)
	if got.Status != store.QuizCompleted {
		t.Errorf("drained stream should still complete the quiz, got %q", got.Status)
	}
}

func TestStreamSummaryAbandonedKeepsQuizInProgress(t *testing.T) {
	st := newFakeStore()
	engine, quiz := seededQuiz(t, st, defaultCompleter(), 1)
	ctx := context.Background()

	questions, err := engine.Start(ctx, quiz.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := engine.SubmitAnswer(ctx, quiz.ID, questions[0].ID, "alice", "answer"); err != nil {
		t.Fatal(err)
	}

	stream, err := engine.StreamSummary(ctx, quiz.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	for range stream.Tokens {
		break // consumer walks away after the first token
	}

	got, _ := st.GetQuiz(ctx, quiz.ID)
	if got.Status != store.QuizInProgress {
		t.Errorf("abandoned stream must not complete the quiz, got %q", got.Status)
	}
}

func TestStreamSummaryCompletedReplaysPersisted(t *testing.T) {
	st := newFakeStore()
	engine, quiz := seededQuiz(t, st, defaultCompleter(), 1)
	ctx := context.Background()

	questions, err := engine.Start(ctx, quiz.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := engine.SubmitAnswer(ctx, quiz.ID, questions[0].ID, "alice", "answer"); err != nil {
		t.Fatal(err)
	}
	first, err := engine.Summary(ctx, quiz.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}

	stream, err := engine.StreamSummary(ctx, quiz.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	var sb strings.Builder
	for token := range stream.Tokens {
		sb.WriteString(token)
	}
	if sb.String() != first.Summary {
		t.Errorf("replayed summary = %q, want %q", sb.String(), first.Summary)
	}
	if stream.TotalScore != first.TotalScore {
		t.Errorf("replayed total = %d, want %d", stream.TotalScore, first.TotalScore)
	}
}
