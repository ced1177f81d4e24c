package domain

import "context"

// Embedder is the shared text vectorization contract between layers.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// EmbeddingResult carries the embedding vector and token usage through the decorator chain.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// Generator is the text generation contract. Generate returns free-form text,
// GenerateJSON asks the provider for a JSON object response.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	GenerateJSON(ctx context.Context, prompt string) (string, error)
}

// Message is one turn of the chat assistant history.
type Message struct {
	Role string `json:"role"` // "user" or "ai"
	Text string `json:"text"`
}
