package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIEmbedder generates embeddings through an OpenAI-compatible
// embeddings endpoint.
type OpenAIEmbedder struct {
	client openai.Client
	model  string
}

// OpenAIEmbedderConfig holds OpenAI embedder configuration. BaseURL is
// optional and points the client at any OpenAI-compatible server.
type OpenAIEmbedderConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// NewOpenAIEmbedder creates an OpenAI embeddings client.
func NewOpenAIEmbedder(cfg OpenAIEmbedderConfig) *OpenAIEmbedder {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIEmbedder{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
	}
}

// OpenAILoader returns a LoaderFunc that builds the embedder on first use,
// so a missing API key only surfaces when an embedding is actually needed.
func OpenAILoader(cfg OpenAIEmbedderConfig) LoaderFunc {
	return func() (Embedder, error) {
		if cfg.APIKey == "" {
			return nil, errors.New("embedding API key is not set")
		}
		if cfg.Model == "" {
			return nil, errors.New("embedding model is not set")
		}
		return NewOpenAIEmbedder(cfg), nil
	}
}

// GenerateEmbeddings implements Embedder.
func (e *OpenAIEmbedder) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call embeddings API: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings API returned %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		vectors[i] = vec
	}
	return vectors, nil
}
