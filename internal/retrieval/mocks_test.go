package retrieval

import (
	"context"
	"math"
	"strings"
)

// mockEngine is a function-field embedding engine for tests. Unset fields
// fall back to a deterministic bag-of-topics embedding so related texts get
// related vectors without a provider.
type mockEngine struct {
	embedFunc func(ctx context.Context, text string) ([]float32, error)
	dims      int
}

func (m *mockEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.embedFunc != nil {
		return m.embedFunc(ctx, text)
	}
	return topicVector(text, m.Dimensions()), nil
}

func (m *mockEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (m *mockEngine) Dimensions() int {
	if m.dims > 0 {
		return m.dims
	}
	return 4
}

func (m *mockEngine) Name() string { return "mock:test" }

// topicVector maps text onto a tiny fixed topic basis. Texts sharing a topic
// word land on the same axis, so cosine similarity behaves like a real
// embedder at toy scale.
func topicVector(text string, dims int) []float32 {
	topics := [][]string{
		{"phone", "number", "call"},
		{"peanut", "allergy", "allergic", "dinner", "eat", "food"},
		{"job", "work", "engineer", "employer"},
		{"weather", "rain", "sunny"},
	}
	vec := make([]float32, dims)
	lower := strings.ToLower(text)
	hit := false
	for i, words := range topics {
		if i >= dims {
			break
		}
		for _, w := range words {
			if strings.Contains(lower, w) {
				vec[i] = 1
				hit = true
				break
			}
		}
	}
	if !hit && dims > 0 {
		vec[dims-1] = 0.01
	}
	return normalize(vec)
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1.0 / math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}
