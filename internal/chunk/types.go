// Package chunk turns file bytes into semantically complete chunks using
// tree-sitter. A chunk wraps one top-level declaration plus its attached
// doc-comment block; files without eligible declarations fall back to
// line-window chunks.
package chunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Fallback chunking limits for files without eligible AST nodes.
const (
	// MaxFallbackLines caps a line-window chunk.
	MaxFallbackLines = 400
	// FallbackOverlapLines is the overlap between adjacent windows.
	FallbackOverlapLines = 20
)

// Chunk is the unit of indexing.
type Chunk struct {
	ID          string // hex SHA-256, content-addressed (see NewChunkID)
	RepoID      string
	FilePath    string // repo-relative
	Language    string
	Symbol      string // "" for fallback chunks
	SymbolKind  string // function, method, class, type, constant; "" for fallback
	StartLine   int    // 1-based, inclusive
	EndLine     int    // 1-based, inclusive
	StartChar   int    // 0-based byte offset
	EndChar     int    // 0-based byte offset, exclusive
	Content     string // raw source including doc-comments and signature
	Fingerprint Fingerprint
}

// FileInput is the chunker's input.
type FileInput struct {
	RepoID   string
	Path     string
	Content  []byte
	Language string
}

// Edit describes a byte-range replacement for incremental reparse.
type Edit struct {
	StartByte  int
	OldEndByte int
	NewEndByte int
}

// Chunker splits files into chunks.
type Chunker interface {
	// Chunk performs a full parse of the file.
	Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error)

	// ChunkIncremental reuses the previous parse tree for file.Path when an
	// edit is supplied. Chunks whose spans lie in unchanged subtrees carry
	// fingerprints identical to a full reparse.
	ChunkIncremental(ctx context.Context, file *FileInput, edit *Edit) ([]*Chunk, error)

	// Forget drops any cached parse state for a file.
	Forget(repoID, path string)
}

// NewChunkID derives the content-addressed chunk id.
func NewChunkID(repoID, path, symbol string, startLine, endLine int, normalized string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%d\x00%d\x00", repoID, path, symbol, startLine, endLine)
	h.Write([]byte(normalized))
	return hex.EncodeToString(h.Sum(nil))
}
