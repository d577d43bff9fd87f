// Package ai wraps the external embedding and completion capabilities.
//
// The rest of the system treats both as black boxes: given text, return a
// vector; given a prompt, return or stream tokens. Engines depend on the
// Embedder and Completer interfaces and receive a configured implementation
// via their constructors, so there is no shared module-level client state.
package ai

import (
	"context"
	"iter"
)

// Embedder converts text into fixed-dimension vectors.
//
// Failure policy is the caller's concern: ingestion degrades to text-only
// storage, retrieval treats failure as fatal.
type Embedder interface {
	// Embed returns the embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the fixed output dimensionality.
	Dimension() int
}

// Completer produces text from a prompt, either in one shot or as a
// cooperative single-pass token stream.
type Completer interface {
	// Complete returns the full response text for the prompt.
	Complete(ctx context.Context, prompt string, opts ...Option) (string, error)

	// CompleteStream returns a one-shot token sequence. The sequence ends on
	// the first error; it cannot be restarted.
	CompleteStream(ctx context.Context, prompt string, opts ...Option) iter.Seq2[string, error]
}

// Option configures a single completion request.
type Option func(*requestConfig)

type requestConfig struct {
	temperature float32
	hasTemp     bool
}

// WithTemperature sets the sampling temperature for one request.
func WithTemperature(t float32) Option {
	return func(c *requestConfig) {
		c.temperature = t
		c.hasTemp = true
	}
}

func buildRequestConfig(opts []Option) *requestConfig {
	cfg := &requestConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
