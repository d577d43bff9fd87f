package ai

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// embedRateLimit bounds embedding calls per second so bulk ingestion does not
// trip the remote quota. Burst covers one full pipeline batch.
const (
	embedRateLimit = 5
	embedRateBurst = 10
)

// GeminiConfig holds the explicit configuration for a Gemini gateway.
type GeminiConfig struct {
	APIKey        string
	Model         string
	EmbedderModel string
	Dimension     int
}

// Gemini implements Embedder and Completer against the Gemini API.
//
// A Gemini value is safe for concurrent use; each engine constructs its own
// from explicit configuration.
type Gemini struct {
	client     *genai.Client
	model      string
	embedModel string
	dim        int
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewGemini creates a configured Gemini gateway.
func NewGemini(ctx context.Context, cfg GeminiConfig, logger *slog.Logger) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return &Gemini{
		client:     client,
		model:      cfg.Model,
		embedModel: cfg.EmbedderModel,
		dim:        cfg.Dimension,
		limiter:    rate.NewLimiter(embedRateLimit, embedRateBurst),
		logger:     logger,
	}, nil
}

// Dimension returns the configured output dimensionality.
func (g *Gemini) Dimension() int { return g.dim }

// Embed returns the embedding vector for a single text.
func (g *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds all texts in one request, returning vectors in input order.
func (g *Gemini) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding rate limiter: %w", err)
	}

	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	dim := int32(g.dim) // #nosec G115 -- validated range in config
	resp, err := g.client.Models.EmbedContent(ctx, g.embedModel, contents, &genai.EmbedContentConfig{
		OutputDimensionality: &dim,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding %d texts: %w", len(texts), err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, fmt.Errorf("empty embedding at index %d", i)
		}
		vectors[i] = emb.Values
	}
	return vectors, nil
}

// Complete returns the full response text for the prompt.
func (g *Gemini) Complete(ctx context.Context, prompt string, opts ...Option) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), genConfig(opts))
	if err != nil {
		return "", fmt.Errorf("completion request: %w", err)
	}
	return resp.Text(), nil
}

// CompleteStream yields response tokens as they arrive. The sequence is
// single-pass: the first error terminates it.
func (g *Gemini) CompleteStream(ctx context.Context, prompt string, opts ...Option) iter.Seq2[string, error] {
	stream := g.client.Models.GenerateContentStream(ctx, g.model, genai.Text(prompt), genConfig(opts))
	return func(yield func(string, error) bool) {
		for resp, err := range stream {
			if err != nil {
				yield("", err)
				return
			}
			token := resp.Text()
			if token == "" {
				continue
			}
			if !yield(token, nil) {
				return
			}
		}
	}
}

func genConfig(opts []Option) *genai.GenerateContentConfig {
	cfg := buildRequestConfig(opts)
	out := &genai.GenerateContentConfig{}
	if cfg.hasTemp {
		out.Temperature = genai.Ptr(cfg.temperature)
	}
	return out
}
