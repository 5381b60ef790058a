// Package openai embeds text with the OpenAI embeddings API or any
// OpenAI-compatible server.
package openai

import (
	"context"
	"fmt"
	"log/slog"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/nadzzz/agrivoice/internal/config"
)

// Embedder sends all texts in one embeddings request.
type Embedder struct {
	client *goopenai.Client
	model  goopenai.EmbeddingModel
}

// New creates an OpenAI embedder.
func New(cfg config.OpenAIEmbedConfig) (*Embedder, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("openai embedder: api_key is required")
	}
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = string(goopenai.SmallEmbedding3)
	}
	slog.Info("openai embedder initialized", "model", model)
	return &Embedder{
		client: goopenai.NewClientWithConfig(clientCfg),
		model:  goopenai.EmbeddingModel(model),
	}, nil
}

// Name returns the backend identifier.
func (e *Embedder) Name() string { return "openai" }

// Embed returns one vector per text, ordered by the response index.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Input: texts,
		Model: e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d texts", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("openai embeddings: index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
