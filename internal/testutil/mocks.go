// Package testutil provides shared testing utilities: deterministic fakes
// for the embedding and completion capabilities, and a PostgreSQL test
// container helper for opt-in integration tests.
package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"iter"
	"strings"
	"sync"

	"github.com/sagekb/sage/internal/ai"
)

// MockEmbedder is a deterministic Embedder: the vector for a text is derived
// from its sha256 hash, so equal texts always embed equally and different
// texts almost never collide. Safe for concurrent use.
type MockEmbedder struct {
	mu sync.Mutex

	// Err, when set, fails every call.
	Err error

	// Dim defaults to 1536.
	Dim int

	fixed map[string][]float32
	calls []string
}

// SetVector pins the vector returned for an exact text, overriding the
// hash-derived one.
func (m *MockEmbedder) SetVector(text string, vec []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fixed == nil {
		m.fixed = make(map[string][]float32)
	}
	m.fixed[text] = vec
}

// Calls returns every text embedded so far, in call order.
func (m *MockEmbedder) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockEmbedder) Dimension() int {
	if m.Dim > 0 {
		return m.Dim
	}
	return 1536
}

func (m *MockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.calls = append(m.calls, text)
	fixed, ok := m.fixed[text]
	err := m.Err
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if ok {
		return fixed, nil
	}
	return hashVector(text, m.Dimension()), nil
}

func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		vec, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, vec)
	}
	return out, nil
}

// hashVector expands the text's sha256 digest into a dim-length vector with
// components in [0, 1).
func hashVector(text string, dim int) []float32 {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, dim)
	for i := range vec {
		word := binary.BigEndian.Uint32(sum[(i*4)%28 : (i*4)%28+4])
		vec[i] = float32(word%1000) / 1000
	}
	return vec
}

// CompletionRule maps a prompt substring to a canned response.
type CompletionRule struct {
	Contains string
	Response string
	Err      error
}

// MockCompleter replies from an ordered rule list: the first rule whose
// Contains substring appears in the prompt wins. With no match it returns
// Response (or fails with Err when set). Safe for concurrent use.
type MockCompleter struct {
	mu sync.Mutex

	Rules    []CompletionRule
	Response string
	Err      error

	// StreamFailAfter, when > 0, makes CompleteStream yield that many tokens
	// and then an error.
	StreamFailAfter int

	prompts []string
}

// Prompts returns every prompt seen so far, in call order.
func (m *MockCompleter) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.prompts))
	copy(out, m.prompts)
	return out
}

func (m *MockCompleter) resolve(prompt string) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	rules := m.Rules
	response, err := m.Response, m.Err
	m.mu.Unlock()

	for _, rule := range rules {
		if strings.Contains(prompt, rule.Contains) {
			return rule.Response, rule.Err
		}
	}
	return response, err
}

func (m *MockCompleter) Complete(ctx context.Context, prompt string, _ ...ai.Option) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return m.resolve(prompt)
}

// CompleteStream yields the resolved response split on spaces, one word per
// token with the separator attached, so concatenating the tokens restores
// the response exactly.
func (m *MockCompleter) CompleteStream(ctx context.Context, prompt string, _ ...ai.Option) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if err := ctx.Err(); err != nil {
			yield("", err)
			return
		}
		response, err := m.resolve(prompt)
		if err != nil {
			yield("", err)
			return
		}

		m.mu.Lock()
		failAfter := m.StreamFailAfter
		m.mu.Unlock()

		words := strings.SplitAfter(response, " ")
		for i, word := range words {
			if failAfter > 0 && i == failAfter {
				yield("", errors.New("stream interrupted"))
				return
			}
			if !yield(word, nil) {
				return
			}
		}
	}
}
