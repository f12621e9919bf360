package embed

import (
	"context"
	"log/slog"

	"github.com/loupe-dev/loupe/internal/config"
)

// NewFromConfig builds the configured embedder wrapped in the LRU cache.
// When the Ollama backend is unreachable at startup the static fallback is
// used so indexing still works offline; the degradation is logged.
func NewFromConfig(ctx context.Context, cfg config.EmbeddingConfig) (Embedder, error) {
	var inner Embedder
	switch cfg.Provider {
	case "static":
		inner = NewStaticEmbedderWithDims(cfg.Dimension)
	default:
		ollama := NewOllamaEmbedder(cfg.OllamaHost, cfg.Model, cfg.Dimension)
		if ollama.Available(ctx) {
			inner = ollama
		} else {
			slog.Warn("embedder_fallback_static",
				slog.String("host", cfg.OllamaHost),
				slog.String("model", cfg.Model))
			inner = NewStaticEmbedderWithDims(cfg.Dimension)
		}
	}
	return NewCachedEmbedder(inner, cfg.CacheSize)
}
