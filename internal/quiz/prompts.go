package quiz

import (
	"fmt"
	"strings"

	"github.com/sagekb/sage/internal/store"
)

// skipSignal is the exact reply the model must use for chunks that cannot
// carry a meaningful question (headers, boilerplate, no substance).
const skipSignal = "SKIP"

// difficultyInstructions shape the depth of generated questions per tier.
var difficultyInstructions = map[string]string{
	store.DifficultyEasy:   "The question should test factual recall of a single concrete point in the passage.",
	store.DifficultyMedium: "The question should test understanding of the passage's core idea, requiring more than verbatim recall.",
	store.DifficultyHard:   "The question should require analysis or synthesis across the passage, probing deep understanding.",
}

// generationPrompt asks for one question/answer pair grounded in the chunk,
// or the skip signal when the chunk is unsuitable.
func generationPrompt(chunkContent, difficulty string) string {
	return fmt.Sprintf(`You are an expert examiner creating knowledge-assessment questions. Based on the source passage below, write one short-answer question.

Requirements:
1. %s
2. Provide a precise standard answer based strictly on the passage. Do not add information the passage does not contain.
3. If the passage has too little substance for a meaningful question (for example a bare table of contents, a header or footer), reply with exactly %s.

Source passage:
%s

Reply strictly in the following JSON format (nothing else):
{"question": "the question", "standard_answer": "the standard answer"}

If no question is possible, reply with only:
%s`, difficultyInstructions[difficulty], skipSignal, chunkContent, skipSignal)
}

// gradingPrompt asks for a strict score and itemized feedback.
func gradingPrompt(maxScore int, chunkContent, question, standardAnswer, userAnswer string) string {
	return fmt.Sprintf(`You are a strict grader for a knowledge assessment. Compare the user's answer against the source passage and the standard answer.

Grading rules:
1. The maximum score is %d; give an integer score from 0 to %d.
2. Judge strictly against the passage and the standard answer. Do not improvise.
3. Point out every mistake in the user's answer.
4. Point out every key point the user's answer misses.
5. A fully correct and complete answer earns the maximum score.
6. An empty or entirely unrelated answer earns 0.

Source passage:
%s

Question:
%s

Standard answer:
%s

User's answer:
%s

Reply strictly in the following JSON format (nothing else):
{"score": <number>, "feedback": "detailed grading feedback, listing mistakes and omissions"}`,
		maxScore, maxScore, chunkContent, question, standardAnswer, userAnswer)
}

// summaryPrompt asks for an overall review of a finished quiz.
func summaryPrompt(totalScore int, questions []store.QuizQuestion, maxPerQuestion int) string {
	var details []string
	for _, q := range questions {
		score := 0
		if q.Score != nil {
			score = *q.Score
		}
		answer := ""
		if q.UserAnswer != nil {
			answer = *q.UserAnswer
		}
		feedback := ""
		if q.Feedback != nil {
			feedback = *q.Feedback
		}
		details = append(details, fmt.Sprintf(
			"Question %d (score: %d/%d)\nQuestion: %s\nStandard answer: %s\nUser's answer: %s\nGrading feedback: %s",
			q.QuestionNumber, score, maxPerQuestion, q.Question, q.StandardAnswer, answer, feedback))
	}

	return fmt.Sprintf(`You are a senior reviewer for knowledge assessments. Based on the results below, write a comprehensive review.

Total score: %d/100

Per-question details:
%s

Cover the following:
1. Overall judgment of the user's command of the material.
2. Typical mistakes and misconceptions in the answers.
3. Important knowledge points the user missed.
4. Targeted suggestions for further study.

Keep the tone professional but encouraging.`,
		totalScore, strings.Join(details, "\n\n---\n\n"))
}
