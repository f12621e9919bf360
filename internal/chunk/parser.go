package chunk

import (
	"context"
	"fmt"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
)

// Parser wraps a tree-sitter parser and caches previous parse trees per file
// so edits can reuse unchanged subtrees.
type Parser struct {
	mu     sync.Mutex
	parser *sitter.Parser
	trees  map[string]*cachedTree
}

type cachedTree struct {
	tree     *sitter.Tree
	source   []byte
	language string
}

// NewParser creates a parser with an empty tree cache.
func NewParser() *Parser {
	return &Parser{
		parser: sitter.NewParser(),
		trees:  make(map[string]*cachedTree),
	}
}

// Close releases parser resources and cached trees.
func (p *Parser) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, ct := range p.trees {
		ct.tree.Close()
		delete(p.trees, key)
	}
	if p.parser != nil {
		p.parser.Close()
	}
}

// Parse performs a full parse and caches the result under key.
func (p *Parser) Parse(ctx context.Context, key string, source []byte, language string) (*sitter.Tree, error) {
	return p.parse(ctx, key, source, language, nil)
}

// ParseIncremental reparses after an edit, reusing the cached tree for key
// when present. Falls back to a full parse when no tree is cached or the
// language changed.
func (p *Parser) ParseIncremental(ctx context.Context, key string, source []byte, language string, edit *Edit) (*sitter.Tree, error) {
	p.mu.Lock()
	prev := p.trees[key]
	p.mu.Unlock()

	if prev == nil || prev.language != language || edit == nil {
		return p.parse(ctx, key, source, language, nil)
	}

	prev.tree.Edit(sitter.EditInput{
		StartIndex:  uint32(edit.StartByte),
		OldEndIndex: uint32(edit.OldEndByte),
		NewEndIndex: uint32(edit.NewEndByte),
		StartPoint:  pointAt(prev.source, edit.StartByte),
		OldEndPoint: pointAt(prev.source, edit.OldEndByte),
		NewEndPoint: pointAt(source, edit.NewEndByte),
	})

	return p.parse(ctx, key, source, language, prev.tree)
}

// CachedSource returns the source the cached tree for key was parsed from,
// or nil. CodeChunker.ChunkAuto diffs it against new content to build an Edit.
func (p *Parser) CachedSource(key string) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ct, ok := p.trees[key]; ok {
		return ct.source
	}
	return nil
}

// Forget drops the cached tree for key.
func (p *Parser) Forget(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ct, ok := p.trees[key]; ok {
		ct.tree.Close()
		delete(p.trees, key)
	}
}

func (p *Parser) parse(ctx context.Context, key string, source []byte, language string, old *sitter.Tree) (*sitter.Tree, error) {
	lang, ok := TreeSitterLanguage(language)
	if !ok {
		return nil, fmt.Errorf("unsupported language: %s", language)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.parser.SetLanguage(lang)
	tree, err := p.parser.ParseCtx(ctx, old, source)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", key, err)
	}
	if tree == nil {
		return nil, fmt.Errorf("parse %s: nil tree", key)
	}

	if prev, ok := p.trees[key]; ok && prev.tree != tree {
		prev.tree.Close()
	}
	src := make([]byte, len(source))
	copy(src, source)
	p.trees[key] = &cachedTree{tree: tree, source: src, language: language}

	return tree, nil
}

// pointAt computes the row/column of a byte offset.
func pointAt(source []byte, offset int) sitter.Point {
	if offset > len(source) {
		offset = len(source)
	}
	var row, lineStart int
	for i := 0; i < offset; i++ {
		if source[i] == '\n' {
			row++
			lineStart = i + 1
		}
	}
	return sitter.Point{Row: uint32(row), Column: uint32(offset - lineStart)}
}
