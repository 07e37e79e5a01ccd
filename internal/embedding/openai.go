package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// =============================================================================
// OPENAI-COMPATIBLE EMBEDDING ENGINE
// =============================================================================

// OpenAIEngine generates embeddings via an OpenAI-compatible HTTP endpoint:
// POST {base_url}/embeddings with a bearer token, request {model, input},
// response a single fixed-dimension vector per input.
type OpenAIEngine struct {
	baseURL  string
	apiKey   string
	model    string
	dims     int
	maxChars int
	client   *http.Client
}

// NewOpenAIEngine creates a new OpenAI-compatible embedding engine.
// The http.Client carries no timeout of its own; every call is bounded by
// its context deadline.
func NewOpenAIEngine(baseURL, apiKey, model string, dims, maxChars int) (*OpenAIEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("embedding API key is required")
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	if dims <= 0 {
		dims = 1536
	}

	return &OpenAIEngine{
		baseURL:  baseURL,
		apiKey:   apiKey,
		model:    model,
		dims:     dims,
		maxChars: maxChars,
		client:   &http.Client{},
	}, nil
}

// Embed generates an embedding for a single text.
func (e *OpenAIEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple texts.
// The endpoint has native batch support via an input array.
func (e *OpenAIEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	inputs := make([]string, len(texts))
	for i, t := range texts {
		inputs[i] = Truncate(t, e.maxChars)
	}

	req := openaiEmbedRequest{
		Model:      e.model,
		Input:      inputs,
		Dimensions: e.dims,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding endpoint returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result openaiEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(result.Data))
	}

	// The endpoint may return entries out of order; index is authoritative.
	vectors := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		if len(d.Embedding) != e.dims {
			return nil, fmt.Errorf("expected %d dimensions, got %d", e.dims, len(d.Embedding))
		}
		vectors[d.Index] = d.Embedding
	}

	return vectors, nil
}

// Dimensions returns the dimensionality of embeddings.
func (e *OpenAIEngine) Dimensions() int {
	return e.dims
}

// Name returns the engine name.
func (e *OpenAIEngine) Name() string {
	return fmt.Sprintf("openai:%s", e.model)
}

// HealthCheck verifies the endpoint is reachable.
func (e *OpenAIEngine) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", e.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("embedding endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("embedding endpoint unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// =============================================================================
// OPENAI API TYPES
// =============================================================================

type openaiEmbedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Model string `json:"model"`
}
