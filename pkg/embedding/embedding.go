// Package embedding provides the embed(text) -> vector capability behind
// a provider-agnostic interface with a configurable dimension.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Provider generates vector embeddings from text
type Provider interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

const defaultBaseURL = "https://api.openai.com/v1"

// OpenAIConfig configures the OpenAI embeddings provider
type OpenAIConfig struct {
	APIKey string
	Model  string
	// BaseURL overrides the API endpoint, for proxies and compatible
	// self-hosted servers
	BaseURL string
	// Dimension truncates v3 model output when set below the model default
	Dimension int
	Timeout   time.Duration
}

// OpenAIProvider implements Provider against the OpenAI embeddings API
type OpenAIProvider struct {
	apiKey    string
	model     string
	endpoint  string
	dimension int
	truncate  bool
	client    *http.Client
}

// NewOpenAIProvider creates an OpenAI embedding provider
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	modelDim := 1536
	if cfg.Model == "text-embedding-3-large" {
		modelDim = 3072
	}
	truncate := cfg.Dimension > 0 && cfg.Dimension < modelDim
	dimension := modelDim
	if truncate {
		dimension = cfg.Dimension
	}

	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &OpenAIProvider{
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		endpoint:  base + "/embeddings",
		dimension: dimension,
		truncate:  truncate,
		client:    &http.Client{Timeout: timeout},
	}
}

func (p *OpenAIProvider) Dimension() int {
	return p.dimension
}

func (p *OpenAIProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := p.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

type embedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (p *OpenAIProvider) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	body := embedRequest{Input: texts, Model: p.model}
	if p.truncate {
		body.Dimensions = p.dimension
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("embedding API error (status %d): %s", resp.StatusCode, string(detail))
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(result.Data))
	}

	embeddings := make([][]float32, len(result.Data))
	for i, d := range result.Data {
		embeddings[i] = d.Embedding
	}
	return embeddings, nil
}
