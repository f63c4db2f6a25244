// Package embedding provides an HTTP-backed EmbeddingProvider and the
// vector math the retrieval adapters use. Embedding support is optional:
// components that take a provider must behave correctly with nil.
package embedding

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/adaptive-context-kernel/internal/jsonx"
	"github.com/adaptive-context-kernel/internal/provider"
)

// cacheLimit bounds the in-process embedding cache.
const cacheLimit = 1000

// Service calls an external embedding endpoint. Implements
// provider.EmbeddingProvider.
type Service struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger

	mu    sync.RWMutex
	cache map[string][]float32
}

// New creates an embedding service against baseURL.
func New(baseURL string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger.Named("embedding"),
		cache:   make(map[string][]float32),
	}
}

type embedRequest struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed generates an embedding vector for text.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	s.mu.RLock()
	if emb, ok := s.cache[text]; ok {
		s.mu.RUnlock()
		return emb, nil
	}
	s.mu.RUnlock()

	body, err := jsonx.Marshal(embedRequest{Text: text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("embed: %w", provider.ErrTimeout)
		}
		return nil, fmt.Errorf("embed: %w", provider.ErrUnavailable)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("embed: %w", provider.ErrRateLimited)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("embed: status %d: %w", resp.StatusCode, provider.ErrUnavailable)
	}

	var result embedResponse
	if err := jsonx.DecodeReader(resp.Body, &result); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[text] = result.Embedding
	if len(s.cache) > cacheLimit {
		// Crude eviction: drop half when over the limit.
		n := 0
		for k := range s.cache {
			if n >= cacheLimit/2 {
				break
			}
			delete(s.cache, k)
			n++
		}
	}
	s.mu.Unlock()

	return result.Embedding, nil
}

// EmbedBatch generates embeddings for multiple texts.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := s.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = emb
	}
	return out, nil
}

// CosineSimilarity computes the cosine similarity of two vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
