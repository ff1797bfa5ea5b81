package embedding

import (
	"context"
	"math"
	"strings"
)

// MockProvider generates deterministic embeddings for testing. Texts that
// share words produce nearby vectors so similarity ordering is meaningful.
type MockProvider struct {
	dimension int
}

// NewMockProvider creates a mock embedding provider
func NewMockProvider(dimension int) *MockProvider {
	return &MockProvider{dimension: dimension}
}

func (p *MockProvider) Dimension() int {
	return p.dimension
}

func (p *MockProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	embedding := make([]float32, p.dimension)

	// Bag-of-words hashing: each token bumps a few deterministic buckets.
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		hash := 0
		for _, c := range tok {
			hash = hash*31 + int(c)
		}
		if hash < 0 {
			hash = -hash
		}
		for i := 0; i < 3; i++ {
			embedding[(hash+i*7)%p.dimension] += 1.0
		}
	}

	// Normalize to unit length so cosine distance behaves.
	var norm float32
	for _, v := range embedding {
		norm += v * v
	}
	if norm > 0 {
		inv := float32(1.0 / math.Sqrt(float64(norm)))
		for i := range embedding {
			embedding[i] *= inv
		}
	}

	return embedding, nil
}

func (p *MockProvider) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := p.GenerateEmbedding(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}
