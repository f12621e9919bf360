// Package embed defines the embedding contract and its implementations.
// The model itself is external: Loupe only assumes a deterministic,
// order-preserving batch function with a fixed dimension.
package embed

import (
	"context"
	"math"
)

// Batch limits. The coordinator owns batching and retries; embedders just
// reject batches they cannot honor.
const (
	// DefaultBatchSize is the default embedding batch size.
	DefaultBatchSize = 128

	// MaxBatchSize bounds a single EmbedBatch call.
	MaxBatchSize = 1024
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts. The output has
	// the same length and order as the input.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension, fixed for the lifetime
	// of the embedder.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available reports whether the backend is reachable.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// NormalizeVector scales v to unit length. Zero vectors pass through.
func NormalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return v
	}
	inv := 1.0 / math.Sqrt(sumSquares)
	out := make([]float32, len(v))
	for i, val := range v {
		out[i] = float32(float64(val) * inv)
	}
	return out
}
