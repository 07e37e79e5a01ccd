package store

import (
	"encoding/json"
	"fmt"
)

// Embeddings are serialized as JSON float arrays in a TEXT column. Exact
// cosine scan over the prefiltered candidate set keeps this format fast
// enough; sqlite-vec, when present, indexes the same vectors.

// encodeVector serializes an embedding for storage.
func encodeVector(v []float32) (string, error) {
	if v == nil {
		return "", fmt.Errorf("nil vector")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to serialize embedding: %w", err)
	}
	return string(data), nil
}

// decodeVector deserializes a stored embedding. Empty input yields nil.
func decodeVector(s string) ([]float32, error) {
	if s == "" {
		return nil, nil
	}
	var v []float32
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("failed to parse embedding: %w", err)
	}
	return v, nil
}

// encodeMetadata serializes the metadata map; nil maps produce an empty
// string so the column stays NULL.
func encodeMetadata(m map[string]interface{}) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to serialize metadata: %w", err)
	}
	return string(data), nil
}

// decodeMetadata deserializes stored metadata, tolerating empty input.
func decodeMetadata(s string) map[string]interface{} {
	if s == "" {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}
