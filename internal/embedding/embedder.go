// Package embedding turns note text into vectors for the document store.
package embedding

import (
	"context"
	"fmt"
	"time"
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// Provider names accepted by New.
const (
	ProviderHashing = "hashing"
	ProviderOpenAI  = "openai"
	ProviderONNX    = "onnx"
	ProviderMock    = "mock"
)

// Options selects and configures an embedding provider.
type Options struct {
	Provider   string
	Dimensions int
	CacheSize  int

	// ONNX
	ModelPath string
	MaxTokens int

	// OpenAI-compatible HTTP
	BaseURL   string
	Model     string
	APIKeyEnv string
	Timeout   time.Duration
}

// New builds the configured embedder, wrapped in an LRU cache when CacheSize > 0.
func New(opts Options) (Embedder, error) {
	var (
		e   Embedder
		err error
	)
	switch opts.Provider {
	case ProviderHashing, "":
		e, err = NewHashingEmbedder(opts.Dimensions)
	case ProviderOpenAI:
		e, err = NewOpenAIEmbedder(OpenAIConfig{
			BaseURL:    opts.BaseURL,
			APIKeyEnv:  opts.APIKeyEnv,
			Model:      opts.Model,
			Dimensions: opts.Dimensions,
			Timeout:    opts.Timeout,
		})
	case ProviderONNX:
		e, err = NewONNXEmbedder(opts.ModelPath, opts.Dimensions, opts.MaxTokens)
	case ProviderMock:
		e = NewMockEmbedder(opts.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: hashing, openai, onnx, mock)", opts.Provider)
	}
	if err != nil {
		return nil, err
	}
	if opts.CacheSize > 0 {
		e = NewCachedEmbedder(e, opts.CacheSize)
	}
	return e, nil
}

// embedEach is the EmbedBatch fallback for providers without a native batch call.
func embedEach(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}
