// Package store holds the three indexes and the authoritative chunk catalog:
// a bleve BM25 index, a coder/hnsw vector index, an exact symbol map, and a
// SQLite chunk store that acts as the commit log for crash recovery.
package store

import (
	"context"

	"github.com/loupe-dev/loupe/internal/chunk"
)

// Chunk is the persisted form of a chunk, including its committed embedding.
type Chunk struct {
	ID          string
	RepoID      string
	FilePath    string
	Language    string
	Symbol      string
	SymbolKind  string
	StartLine   int
	EndLine     int
	StartChar   int
	EndChar     int
	Content     string
	Fingerprint string
	Embedding   []float32 // nil until embedding committed
}

// FromChunk converts a chunker output plus its embedding.
func FromChunk(c *chunk.Chunk, embedding []float32) *Chunk {
	return &Chunk{
		ID:          c.ID,
		RepoID:      c.RepoID,
		FilePath:    c.FilePath,
		Language:    c.Language,
		Symbol:      c.Symbol,
		SymbolKind:  c.SymbolKind,
		StartLine:   c.StartLine,
		EndLine:     c.EndLine,
		StartChar:   c.StartChar,
		EndChar:     c.EndChar,
		Content:     c.Content,
		Fingerprint: c.Fingerprint.String(),
		Embedding:   embedding,
	}
}

// LexicalResult is one BM25 hit.
type LexicalResult struct {
	ChunkID string
	Score   float64
	Rank    int // 1-based
}

// VectorResult is one ANN hit.
type VectorResult struct {
	ChunkID string
	Score   float32 // cosine similarity, -1..1
	Rank    int     // 1-based
}

// LexicalIndex is the full-text index surface used by the coordinator and
// the query engine.
type LexicalIndex interface {
	Upsert(ctx context.Context, c *Chunk) error
	Delete(ctx context.Context, chunkID string) error
	Query(ctx context.Context, query string, topK int, repoFilter string) ([]*LexicalResult, error)
	AllIDs() ([]string, error)
	Flush() error
	Close() error
}

// VectorIndex is the ANN index surface. Upserts carry the repo id so
// queries can filter without a chunk-store lookup.
type VectorIndex interface {
	Upsert(ctx context.Context, chunkID, repoID string, vector []float32) error
	Delete(ctx context.Context, chunkID string) error
	Query(ctx context.Context, vector []float32, topK int, repoFilter string) ([]*VectorResult, error)
	AllIDs() []string
	Contains(chunkID string) bool
	Count() int
	Save(path string) error
	Load(path string) error
	Close() error
}
