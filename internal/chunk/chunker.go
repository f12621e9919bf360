package chunk

import (
	"context"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// CodeChunker is the syntax-aware Chunker implementation.
type CodeChunker struct {
	parser *Parser

	// OnParseError is invoked once per file whose parse tree contains
	// errors. The chunker still emits whatever it recovered.
	OnParseError func(repoID, path string)
}

// NewCodeChunker creates a chunker with its own parser and tree cache.
func NewCodeChunker() *CodeChunker {
	return &CodeChunker{parser: NewParser()}
}

// Close releases parser resources.
func (c *CodeChunker) Close() {
	c.parser.Close()
}

// Chunk performs a full parse of the file.
func (c *CodeChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	return c.chunk(ctx, file, nil, false)
}

// ChunkIncremental reparses with subtree reuse when an edit is supplied.
func (c *CodeChunker) ChunkIncremental(ctx context.Context, file *FileInput, edit *Edit) ([]*Chunk, error) {
	return c.chunk(ctx, file, edit, true)
}

// ChunkAuto picks incremental reparse when a previous parse of the file is
// cached, deriving the edit from a prefix/suffix diff of the two sources.
func (c *CodeChunker) ChunkAuto(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	old := c.parser.CachedSource(treeKey(file.RepoID, file.Path))
	if old == nil {
		return c.Chunk(ctx, file)
	}
	edit := DiffEdit(old, file.Content)
	if edit == nil {
		return c.Chunk(ctx, file)
	}
	return c.ChunkIncremental(ctx, file, edit)
}

// DiffEdit computes the single replaced byte range between two versions of a
// file (common prefix/suffix trim). Returns nil for identical content.
func DiffEdit(old, new []byte) *Edit {
	if string(old) == string(new) {
		return nil
	}

	prefix := 0
	for prefix < len(old) && prefix < len(new) && old[prefix] == new[prefix] {
		prefix++
	}

	suffix := 0
	for suffix < len(old)-prefix && suffix < len(new)-prefix &&
		old[len(old)-1-suffix] == new[len(new)-1-suffix] {
		suffix++
	}

	return &Edit{
		StartByte:  prefix,
		OldEndByte: len(old) - suffix,
		NewEndByte: len(new) - suffix,
	}
}

// Forget drops cached parse state for a file.
func (c *CodeChunker) Forget(repoID, path string) {
	c.parser.Forget(treeKey(repoID, path))
}

func treeKey(repoID, path string) string {
	return repoID + "\x00" + path
}

func (c *CodeChunker) chunk(ctx context.Context, file *FileInput, edit *Edit, incremental bool) ([]*Chunk, error) {
	if len(file.Content) == 0 {
		return nil, nil
	}

	cfg, ok := GetLanguage(file.Language)
	if !ok {
		return c.fallbackChunks(file), nil
	}

	key := treeKey(file.RepoID, file.Path)
	var tree *sitter.Tree
	var err error
	if incremental {
		tree, err = c.parser.ParseIncremental(ctx, key, file.Content, file.Language, edit)
	} else {
		tree, err = c.parser.Parse(ctx, key, file.Content, file.Language)
	}
	if err != nil {
		// Parser-level failure: degrade to line windows rather than dropping
		// the file.
		if c.OnParseError != nil {
			c.OnParseError(file.RepoID, file.Path)
		}
		return c.fallbackChunks(file), nil
	}

	root := tree.RootNode()
	if root.HasError() && c.OnParseError != nil {
		c.OnParseError(file.RepoID, file.Path)
	}

	decls := collectDecls(root, cfg, file.Content)
	if len(decls) == 0 {
		return c.fallbackChunks(file), nil
	}

	chunks := make([]*Chunk, 0, len(decls))
	for _, d := range decls {
		chunks = append(chunks, c.buildChunk(file, cfg, d))
	}

	// Strictly increasing start lines: overlapping siblings collapse to the
	// earlier (outer) one.
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].StartLine < chunks[j].StartLine })
	out := chunks[:0]
	lastEnd := 0
	for _, ch := range chunks {
		if ch.StartLine <= lastEnd {
			continue
		}
		lastEnd = ch.EndLine
		out = append(out, ch)
	}

	return out, nil
}

// decl is an eligible declaration node with its attached doc block start.
type decl struct {
	node      *sitter.Node
	kind      string
	docStart  int // byte offset where the doc block begins (== node start when none)
	docRow    int // 0-based row of docStart
}

// collectDecls walks the tree outermost-first. A matched node is not
// descended into, so methods inside a class stay part of the class chunk.
func collectDecls(root *sitter.Node, cfg *LanguageConfig, source []byte) []decl {
	var decls []decl

	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			kind, eligible := cfg.DeclKinds[child.Type()]
			if eligible {
				docStart, docRow, hasDoc := attachedDocStart(child, cfg, source)
				if cfg.DocRequired[child.Type()] && !hasDoc && !containsFunction(child) {
					continue
				}
				decls = append(decls, decl{node: child, kind: kind, docStart: docStart, docRow: docRow})
				continue
			}
			walk(child)
		}
	}
	walk(root)

	return decls
}

// attachedDocStart walks backward over the contiguous comment/attribute block
// immediately preceding n. Returns the block's start byte and row, and
// whether any doc was attached.
func attachedDocStart(n *sitter.Node, cfg *LanguageConfig, source []byte) (int, int, bool) {
	start := int(n.StartByte())
	row := int(n.StartPoint().Row)
	attached := false

	expectRow := row - 1
	for prev := n.PrevNamedSibling(); prev != nil; prev = prev.PrevNamedSibling() {
		if !cfg.CommentKinds[prev.Type()] {
			break
		}
		endRow := int(prev.EndPoint().Row)
		if endRow != expectRow && endRow != expectRow+1 {
			break
		}
		start = int(prev.StartByte())
		row = int(prev.StartPoint().Row)
		expectRow = row - 1
		attached = true
	}

	return start, row, attached
}

// containsFunction reports whether a binding wraps a function value
// (arrow functions bound to const are functions, not constants needing doc).
func containsFunction(n *sitter.Node) bool {
	found := false
	var walk func(x *sitter.Node)
	walk = func(x *sitter.Node) {
		if found {
			return
		}
		switch x.Type() {
		case "arrow_function", "function_expression", "function":
			found = true
			return
		}
		for i := 0; i < int(x.NamedChildCount()); i++ {
			walk(x.NamedChild(i))
		}
	}
	walk(n)
	return found
}

func (c *CodeChunker) buildChunk(file *FileInput, cfg *LanguageConfig, d decl) *Chunk {
	n := d.node
	startByte := d.docStart
	endByte := int(n.EndByte())
	content := string(file.Content[startByte:endByte])

	startLine := d.docRow + 1
	endLine := int(n.EndPoint().Row) + 1
	if n.EndPoint().Column == 0 && endLine > startLine {
		endLine--
	}

	symbol := symbolName(n, file.Content)
	normalized := Normalize(content, file.Language)
	fp := NewFingerprint(content, file.Language)

	return &Chunk{
		ID:          NewChunkID(file.RepoID, file.Path, symbol, startLine, endLine, normalized),
		RepoID:      file.RepoID,
		FilePath:    file.Path,
		Language:    file.Language,
		Symbol:      symbol,
		SymbolKind:  d.kind,
		StartLine:   startLine,
		EndLine:     endLine,
		StartChar:   startByte,
		EndChar:     endByte,
		Content:     content,
		Fingerprint: fp,
	}
}

// identifierKinds are node types acceptable as a symbol name.
var identifierKinds = map[string]bool{
	"identifier":          true,
	"type_identifier":     true,
	"field_identifier":    true,
	"property_identifier": true,
	"name":                true,
}

// symbolName extracts the declared name for a node, or "".
func symbolName(n *sitter.Node, source []byte) string {
	switch n.Type() {
	case "decorated_definition":
		if def := n.ChildByFieldName("definition"); def != nil {
			return symbolName(def, source)
		}
	case "impl_item":
		if t := n.ChildByFieldName("type"); t != nil {
			return t.Content(source)
		}
	case "type_declaration", "const_declaration", "var_declaration", "lexical_declaration", "variable_declaration":
		// The name lives on the first spec/declarator child.
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if name := symbolName(n.NamedChild(i), source); name != "" {
				return name
			}
		}
		return ""
	}

	if name := n.ChildByFieldName("name"); name != nil {
		return name.Content(source)
	}

	// First shallow identifier child.
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if identifierKinds[child.Type()] {
			return child.Content(source)
		}
	}
	return ""
}

// fallbackChunks emits line-window chunks for files without eligible nodes.
// Windows are at most MaxFallbackLines long, split at blank-line boundaries
// where possible, with FallbackOverlapLines of overlap.
func (c *CodeChunker) fallbackChunks(file *FileInput) []*Chunk {
	text := string(file.Content)
	lines := strings.Split(text, "\n")
	// A trailing newline yields one empty phantom line; drop it.
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	var chunks []*Chunk
	start := 0
	for start < len(lines) {
		end := start + MaxFallbackLines
		if end >= len(lines) {
			end = len(lines)
		} else {
			// Prefer to break at the last blank line inside the window.
			for i := end - 1; i > start+MaxFallbackLines/2; i-- {
				if strings.TrimSpace(lines[i]) == "" {
					end = i
					break
				}
			}
		}

		content := strings.Join(lines[start:end], "\n")
		startLine := start + 1
		endLine := end
		normalized := Normalize(content, file.Language)
		chunks = append(chunks, &Chunk{
			ID:          NewChunkID(file.RepoID, file.Path, "", startLine, endLine, normalized),
			RepoID:      file.RepoID,
			FilePath:    file.Path,
			Language:    file.Language,
			StartLine:   startLine,
			EndLine:     endLine,
			StartChar:   byteOffsetOfLine(text, start),
			EndChar:     byteOffsetOfLine(text, end),
			Content:     content,
			Fingerprint: NewFingerprint(content, file.Language),
		})

		if end == len(lines) {
			break
		}
		start = end - FallbackOverlapLines
		if start < 0 {
			start = 0
		}
	}
	return chunks
}

// byteOffsetOfLine returns the byte offset of the start of a 0-based line.
func byteOffsetOfLine(text string, line int) int {
	offset := 0
	for i := 0; i < line; i++ {
		next := strings.IndexByte(text[offset:], '\n')
		if next < 0 {
			return len(text)
		}
		offset += next + 1
	}
	return offset
}

var _ Chunker = (*CodeChunker)(nil)
