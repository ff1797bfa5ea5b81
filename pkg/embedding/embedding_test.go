package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestMockProvider_Deterministic(t *testing.T) {
	p := NewMockProvider(128)

	a, err := p.GenerateEmbedding(context.Background(), "friday deliveries")
	require.NoError(t, err)
	b, err := p.GenerateEmbedding(context.Background(), "friday deliveries")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 128)
}

func TestMockProvider_SharedWordsAreCloser(t *testing.T) {
	p := NewMockProvider(256)
	ctx := context.Background()

	base, err := p.GenerateEmbedding(ctx, "customer prefers friday deliveries")
	require.NoError(t, err)
	near, err := p.GenerateEmbedding(ctx, "deliveries on friday for the customer")
	require.NoError(t, err)
	far, err := p.GenerateEmbedding(ctx, "quarterly revenue projection spreadsheet")
	require.NoError(t, err)

	assert.Greater(t, cosine(base, near), cosine(base, far))
}

func TestMockProvider_Batch(t *testing.T) {
	p := NewMockProvider(64)

	embs, err := p.GenerateEmbeddings(context.Background(), []string{"one", "two", "three"})
	require.NoError(t, err)
	assert.Len(t, embs, 3)
	for _, e := range embs {
		assert.Len(t, e, 64)
	}
}

func TestOpenAIProvider_Dimension(t *testing.T) {
	assert.Equal(t, 1536, NewOpenAIProvider(OpenAIConfig{Model: "text-embedding-3-small"}).Dimension())
	assert.Equal(t, 3072, NewOpenAIProvider(OpenAIConfig{Model: "text-embedding-3-large"}).Dimension())
	assert.Equal(t, 256, NewOpenAIProvider(OpenAIConfig{Model: "text-embedding-3-small", Dimension: 256}).Dimension())
}

func TestOpenAIProvider_CustomBaseURL(t *testing.T) {
	var gotPath, gotAuth string
	var gotReq embedRequest

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`))
	}))
	defer ts.Close()

	p := NewOpenAIProvider(OpenAIConfig{
		APIKey:    "test-key",
		Model:     "text-embedding-3-small",
		BaseURL:   ts.URL + "/v1/",
		Dimension: 3,
	})

	vec, err := p.GenerateEmbedding(context.Background(), "friday deliveries")
	require.NoError(t, err)

	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, "/v1/embeddings", gotPath)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, []string{"friday deliveries"}, gotReq.Input)
	assert.Equal(t, 3, gotReq.Dimensions)
}

func TestOpenAIProvider_ErrorStatusSurfaces(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer ts.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "k", Model: "text-embedding-3-small", BaseURL: ts.URL})
	_, err := p.GenerateEmbedding(context.Background(), "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
