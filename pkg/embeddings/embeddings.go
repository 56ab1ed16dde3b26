// Package embeddings provides text embedding clients for semantic
// retrieval. Remote providers (Ollama, OpenAI) produce real vectors;
// the hash embedder is a deterministic offline stand-in so retrieval
// degrades instead of disappearing when no provider is configured.
package embeddings

import (
	"context"
	"math"
)

// Client generates vector embeddings for text.
type Client interface {
	// Embed embeds multiple texts, preserving input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedOne embeds a single text.
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Cosine returns the cosine similarity of two vectors, 0 when either
// is empty or the dimensions differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
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
