package embed

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"

	loupeerr "github.com/loupe-dev/loupe/internal/errors"
)

// StaticDimensions is the dimension of the hash-projection embedder.
const StaticDimensions = 256

// StaticEmbedder is a deterministic, dependency-free embedder. Each token is
// hashed into a handful of dimensions, so texts sharing vocabulary land near
// each other. Quality is far below a learned model; it exists as the offline
// fallback and as the deterministic embedder for tests.
type StaticEmbedder struct {
	dims int
}

// NewStaticEmbedder creates a static embedder with StaticDimensions.
func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{dims: StaticDimensions}
}

// NewStaticEmbedderWithDims creates a static embedder with a custom
// dimension (tests pair it with small indexes).
func NewStaticEmbedderWithDims(dims int) *StaticEmbedder {
	if dims <= 0 {
		dims = StaticDimensions
	}
	return &StaticEmbedder{dims: dims}
}

// Embed generates an embedding for a single text.
func (s *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return s.embedOne(text), nil
}

// EmbedBatch generates embeddings for multiple texts.
func (s *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) > MaxBatchSize {
		return nil, loupeerr.InvalidArgument("batch too large")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		out[i] = s.embedOne(t)
	}
	return out, nil
}

func (s *StaticEmbedder) embedOne(text string) []float32 {
	vec := make([]float32, s.dims)
	for _, tok := range tokenize(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		// Spread each token over three dimensions with deterministic signs.
		for j := 0; j < 3; j++ {
			idx := int((sum >> (j * 16)) % uint64(s.dims))
			sign := float32(1)
			if (sum>>(j*16+15))&1 == 1 {
				sign = -1
			}
			vec[idx] += sign
		}
	}
	return NormalizeVector(vec)
}

// Dimensions returns the embedding dimension.
func (s *StaticEmbedder) Dimensions() int { return s.dims }

// ModelName returns the model identifier.
func (s *StaticEmbedder) ModelName() string { return "static" }

// Available always reports true.
func (s *StaticEmbedder) Available(ctx context.Context) bool { return true }

// Close releases resources.
func (s *StaticEmbedder) Close() error { return nil }

// tokenize lowercases and splits on identifier boundaries.
func tokenize(text string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 1 {
			tokens = append(tokens, strings.ToLower(cur.String()))
		}
		cur.Reset()
	}
	var prev rune
	for _, r := range text {
		switch {
		case unicode.IsLetter(r):
			if unicode.IsUpper(r) && unicode.IsLower(prev) {
				flush()
			}
			cur.WriteRune(r)
		case unicode.IsDigit(r):
			if !unicode.IsDigit(prev) && cur.Len() > 0 {
				flush()
			}
			cur.WriteRune(r)
		default:
			flush()
		}
		prev = r
	}
	flush()
	return tokens
}

var _ Embedder = (*StaticEmbedder)(nil)
