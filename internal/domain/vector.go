package domain

// DefaultEmbeddingDim is the embedding dimension used when none is configured.
// Matches text-embedding-3-small.
const DefaultEmbeddingDim = 1536

// Vector is a single entry in the hosted vector index.
// Metadata is an opaque bag round-tripped verbatim.
type Vector struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"vector"`
	Metadata map[string]any `json:"metadata"`
}

// QueryHit is one similarity-search result. Ordering is defined by the index
// (descending score) and must be preserved downstream.
type QueryHit struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Vector   []float32      `json:"vector,omitempty"`
}
