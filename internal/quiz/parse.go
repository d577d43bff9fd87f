package quiz

import (
	"encoding/json"
	"fmt"
	"strings"
)

// genOutcome distinguishes why a chunk did or did not yield a question.
// Skipped means the model declined (unsuitable content); Malformed means the
// response could not be parsed. Both count as "no question from this chunk",
// but they are logged separately.
type genOutcome int

const (
	genAccepted genOutcome = iota
	genSkipped
	genMalformed
)

// genResult is the tagged outcome of one generation attempt.
type genResult struct {
	outcome  genOutcome
	question string
	answer   string
}

// extractJSON returns the JSON payload of a model reply, unwrapping a
// markdown code fence if the model added one.
func extractJSON(content string) string {
	if !strings.Contains(content, "```") {
		return content
	}

	var block []string
	inBlock := false
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			if inBlock {
				break
			}
			inBlock = true
			continue
		}
		if inBlock {
			block = append(block, line)
		}
	}
	if len(block) == 0 {
		return content
	}
	return strings.Join(block, "\n")
}

// parseGeneration classifies a question-generation reply.
func parseGeneration(content string) genResult {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(strings.ToUpper(content), skipSignal) {
		return genResult{outcome: genSkipped}
	}

	var parsed struct {
		Question       string `json:"question"`
		StandardAnswer string `json:"standard_answer"`
	}
	if err := json.Unmarshal([]byte(extractJSON(content)), &parsed); err != nil {
		return genResult{outcome: genMalformed}
	}
	if parsed.Question == "" || parsed.StandardAnswer == "" {
		return genResult{outcome: genMalformed}
	}
	return genResult{outcome: genAccepted, question: parsed.Question, answer: parsed.StandardAnswer}
}

// parseGrade parses a grading reply and clamps the score into
// [0, maxScore]. An unparseable reply is an error — the caller must not
// silently score it zero.
func parseGrade(content string, maxScore int) (int, string, error) {
	var parsed struct {
		Score    json.Number `json:"score"`
		Feedback string      `json:"feedback"`
	}
	if err := json.Unmarshal([]byte(extractJSON(strings.TrimSpace(content))), &parsed); err != nil {
		return 0, "", fmt.Errorf("parsing grading response: %w", err)
	}

	// A missing score field parses as zero; only a present-but-garbled value
	// is a hard error.
	score := 0
	if parsed.Score != "" {
		scoreFloat, err := parsed.Score.Float64()
		if err != nil {
			return 0, "", fmt.Errorf("parsing grading score %q: %w", parsed.Score, err)
		}
		score = int(scoreFloat)
	}
	if score < 0 {
		score = 0
	}
	if score > maxScore {
		score = maxScore
	}
	return score, parsed.Feedback, nil
}
