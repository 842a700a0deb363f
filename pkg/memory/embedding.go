package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Embedder is the underlying embedding model. Implementations may be
// expensive to construct, so the Provider defers construction to first use.
type Embedder interface {
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// LoaderFunc constructs an Embedder on first actual use.
type LoaderFunc func() (Embedder, error)

// Provider produces embeddings with a persistent cache in front of the model.
// Lookups are keyed by (SHA-256 of the text, model id); a hit never touches
// the model, so repeated syncs over unchanged content are cheap.
type Provider struct {
	store   *Store
	modelID string
	dim     int
	load    LoaderFunc
	logger  zerolog.Logger

	mu    sync.Mutex
	model Embedder
}

// ProviderConfig holds embedding provider configuration.
type ProviderConfig struct {
	Store     *Store
	ModelID   string
	Dimension int
	Loader    LoaderFunc
	Logger    zerolog.Logger
}

// NewProvider creates an embedding provider. The model itself is not loaded
// until the first cache miss.
func NewProvider(cfg ProviderConfig) (*Provider, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.ModelID == "" {
		return nil, errors.New("model id is required")
	}
	if cfg.Dimension <= 0 {
		return nil, errors.New("embedding dimension must be positive")
	}
	if cfg.Loader == nil {
		return nil, errors.New("model loader is required")
	}

	return &Provider{
		store:   cfg.Store,
		modelID: cfg.ModelID,
		dim:     cfg.Dimension,
		load:    cfg.Loader,
		logger:  cfg.Logger,
	}, nil
}

// ModelID returns the embedding model identifier used in cache keys.
func (p *Provider) ModelID() string { return p.modelID }

// Dimension returns the embedding vector width.
func (p *Provider) Dimension() int { return p.dim }

// embedder returns the memoized model, loading it on first call. A failed
// load is retried on the next call rather than being cached.
func (p *Provider) embedder() (Embedder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.model != nil {
		return p.model, nil
	}

	model, err := p.load()
	if err != nil {
		return nil, fmt.Errorf("failed to load embedding model: %w", err)
	}
	p.model = model
	p.logger.Debug().Str("model", p.modelID).Msg("Embedding model loaded")
	return p.model, nil
}

// GenerateEmbedding embeds a single text, consulting the cache first.
func (p *Provider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// GenerateEmbeddings embeds a batch of texts, returning vectors in input
// order. Cached texts never reach the model: the batch is partitioned into
// hits and misses, the model runs once over only the misses, and each fresh
// vector is written back to the cache under its own text hash.
func (p *Provider) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))

	type pending struct {
		index int
		hash  string
	}
	var misses []pending
	var missTexts []string

	for i, text := range texts {
		hash := hashText(text)
		if vec, ok := p.store.CacheGet(ctx, hash, p.modelID); ok {
			results[i] = vec
			continue
		}
		misses = append(misses, pending{index: i, hash: hash})
		missTexts = append(missTexts, text)
	}

	if len(misses) == 0 {
		return results, nil
	}

	model, err := p.embedder()
	if err != nil {
		return nil, err
	}

	vectors, err := model.GenerateEmbeddings(ctx, missTexts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(vectors) != len(missTexts) {
		return nil, fmt.Errorf("embedding model returned %d vectors for %d texts", len(vectors), len(missTexts))
	}

	for i, miss := range misses {
		results[miss.index] = vectors[i]
		if err := p.store.CachePut(ctx, miss.hash, p.modelID, vectors[i]); err != nil {
			return nil, err
		}
	}

	return results, nil
}

// hashText returns the hex SHA-256 of text, the content half of a cache key.
func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
