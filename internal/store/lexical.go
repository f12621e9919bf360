package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search/query"

	loupeerr "github.com/loupe-dev/loupe/internal/errors"
)

const (
	// codeTokenizerName is the registered name of the identifier-splitting
	// tokenizer.
	codeTokenizerName = "loupe_code_tokenizer"

	// codeAnalyzerName is the registered analyzer built on it.
	codeAnalyzerName = "loupe_code_analyzer"

	// symbolBoost is the query-time boost of the symbol field relative to
	// content.
	symbolBoost = 2.0
)

// Flush discipline: writes buffer until either bound is hit.
const (
	flushInterval  = 500 * time.Millisecond
	flushThreshold = 256
)

func init() {
	_ = registry.RegisterTokenizer(codeTokenizerName, newBleveCodeTokenizer)
}

// BleveLexicalIndex is the BM25 full-text index over chunk content, symbol,
// and path fields. Writes buffer and flush on a 500ms/256-write discipline;
// queries see the snapshot taken at the last flush.
type BleveLexicalIndex struct {
	mu      sync.Mutex // guards buffer and closed
	flushMu sync.Mutex // serializes batch application, preserving op order
	index   bleve.Index
	buffer  []bufferedOp
	closed  bool

	stopFlusher chan struct{}
	flusherDone chan struct{}
}

type bufferedOp struct {
	id     string
	doc    *lexicalDoc // nil means delete
}

// lexicalDoc is the bleve document shape.
type lexicalDoc struct {
	Content  string `json:"content"`
	Symbol   string `json:"symbol"`
	Path     string `json:"path"`
	Language string `json:"language"`
	Repo     string `json:"repo"`
}

// NewBleveLexicalIndex opens or creates the index. Empty path means an
// in-memory index (tests). Corrupt on-disk state is reported as
// ERR_INDEX_CORRUPT so the caller can rebuild from the chunk store.
func NewBleveLexicalIndex(path string) (*BleveLexicalIndex, error) {
	im, err := buildIndexMapping()
	if err != nil {
		return nil, loupeerr.Internal("build index mapping", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(im)
	} else {
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, im)
		} else if err != nil {
			return nil, loupeerr.IndexCorrupt("lexical", err)
		}
	}
	if err != nil {
		return nil, loupeerr.Internal("open lexical index", err)
	}

	b := &BleveLexicalIndex{
		index:       idx,
		stopFlusher: make(chan struct{}),
		flusherDone: make(chan struct{}),
	}
	go b.flushLoop()
	return b, nil
}

// RemoveLexicalIndex deletes on-disk lexical state (rebuild path).
func RemoveLexicalIndex(path string) error {
	return os.RemoveAll(path)
}

func buildIndexMapping() (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()

	if err := im.AddCustomAnalyzer(codeAnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     codeTokenizerName,
		"token_filters": []string{lowercase.Name},
	}); err != nil {
		return nil, fmt.Errorf("add code analyzer: %w", err)
	}

	codeField := bleve.NewTextFieldMapping()
	codeField.Analyzer = codeAnalyzerName

	// The symbol field is a single keyword term: exact identifier matching,
	// exempt from document-length normalization.
	keywordField := bleve.NewTextFieldMapping()
	keywordField.Analyzer = keyword.Name

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("content", codeField)
	doc.AddFieldMappingsAt("path", codeField)
	doc.AddFieldMappingsAt("symbol", keywordField)
	doc.AddFieldMappingsAt("language", keywordField)
	doc.AddFieldMappingsAt("repo", keywordField)

	im.DefaultMapping = doc
	im.DefaultAnalyzer = codeAnalyzerName
	im.ScoringModel = "bm25"

	return im, nil
}

// Upsert buffers a document write. Idempotent per chunk id.
func (b *BleveLexicalIndex) Upsert(ctx context.Context, c *Chunk) error {
	doc := &lexicalDoc{
		Content:  c.Content,
		Symbol:   c.Symbol,
		Path:     c.FilePath,
		Language: c.Language,
		Repo:     c.RepoID,
	}
	return b.enqueue(bufferedOp{id: c.ID, doc: doc})
}

// Delete buffers a document removal.
func (b *BleveLexicalIndex) Delete(ctx context.Context, chunkID string) error {
	return b.enqueue(bufferedOp{id: chunkID})
}

func (b *BleveLexicalIndex) enqueue(op bufferedOp) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return loupeerr.Internal("lexical index is closed", nil)
	}
	b.buffer = append(b.buffer, op)
	shouldFlush := len(b.buffer) >= flushThreshold
	b.mu.Unlock()

	if shouldFlush {
		return b.Flush()
	}
	return nil
}

// Flush applies all buffered writes in one bleve batch. Exposed for tests
// and for the coordinator's commit barrier.
func (b *BleveLexicalIndex) Flush() error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	ops := b.buffer
	b.buffer = nil
	b.mu.Unlock()

	if len(ops) == 0 {
		return nil
	}

	batch := b.index.NewBatch()
	for _, op := range ops {
		if op.doc == nil {
			batch.Delete(op.id)
			continue
		}
		if err := batch.Index(op.id, op.doc); err != nil {
			return loupeerr.Internal(fmt.Sprintf("index chunk %s", op.id), err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return loupeerr.Internal("apply lexical batch", err)
	}
	return nil
}

func (b *BleveLexicalIndex) flushLoop() {
	defer close(b.flusherDone)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopFlusher:
			return
		case <-ticker.C:
			if err := b.Flush(); err != nil {
				slog.Warn("lexical_flush_failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Query runs a lexical search. The query string supports free text
// (identifier-aware tokenization), "quoted phrases", and symbol:NAME field
// scoping. Ranks start at 1.
func (b *BleveLexicalIndex) Query(ctx context.Context, qs string, topK int, repoFilter string) ([]*LexicalResult, error) {
	qs = strings.TrimSpace(qs)
	if qs == "" {
		return []*LexicalResult{}, nil
	}

	q := buildLexicalQuery(qs, repoFilter)
	req := bleve.NewSearchRequestOptions(q, topK, 0, false)

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, loupeerr.Internal("lexical search", err)
	}

	out := make([]*LexicalResult, 0, len(res.Hits))
	for i, hit := range res.Hits {
		out = append(out, &LexicalResult{
			ChunkID: hit.ID,
			Score:   hit.Score,
			Rank:    i + 1,
		})
	}
	return out, nil
}

// buildLexicalQuery parses the query syntax into a bleve query tree.
func buildLexicalQuery(qs, repoFilter string) query.Query {
	phrases, symbols, free := parseQuerySyntax(qs)

	bq := bleve.NewBooleanQuery()

	for _, p := range phrases {
		pq := bleve.NewMatchPhraseQuery(p)
		pq.SetField("content")
		bq.AddMust(pq)
	}

	for _, s := range symbols {
		tq := bleve.NewTermQuery(s)
		tq.SetField("symbol")
		bq.AddMust(tq)
	}

	if free != "" {
		content := bleve.NewMatchQuery(free)
		content.SetField("content")

		path := bleve.NewMatchQuery(free)
		path.SetField("path")

		// Exact symbol term, boosted over content hits.
		sym := bleve.NewTermQuery(strings.TrimSpace(free))
		sym.SetField("symbol")
		sym.SetBoost(symbolBoost)

		or := bleve.NewDisjunctionQuery(content, path, sym)
		bq.AddMust(or)
	}

	if repoFilter != "" {
		rq := bleve.NewTermQuery(repoFilter)
		rq.SetField("repo")
		bq.AddMust(rq)
	}

	return bq
}

// parseQuerySyntax splits a raw query into quoted phrases, symbol: scopes,
// and remaining free text.
func parseQuerySyntax(qs string) (phrases, symbols []string, free string) {
	var freeParts []string
	rest := qs
	for rest != "" {
		rest = strings.TrimLeft(rest, " \t")
		if rest == "" {
			break
		}
		if rest[0] == '"' {
			end := strings.IndexByte(rest[1:], '"')
			if end < 0 {
				freeParts = append(freeParts, strings.Trim(rest, `"`))
				break
			}
			phrases = append(phrases, rest[1:1+end])
			rest = rest[end+2:]
			continue
		}
		sp := strings.IndexByte(rest, ' ')
		var word string
		if sp < 0 {
			word, rest = rest, ""
		} else {
			word, rest = rest[:sp], rest[sp+1:]
		}
		if name, ok := strings.CutPrefix(word, "symbol:"); ok && name != "" {
			symbols = append(symbols, name)
			continue
		}
		freeParts = append(freeParts, word)
	}
	return phrases, symbols, strings.Join(freeParts, " ")
}

// AllIDs returns every indexed chunk id, flushing first so the answer
// reflects all accepted writes. Used by startup reconciliation.
func (b *BleveLexicalIndex) AllIDs() ([]string, error) {
	if err := b.Flush(); err != nil {
		return nil, err
	}

	count, err := b.index.DocCount()
	if err != nil {
		return nil, loupeerr.Internal("doc count", err)
	}

	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), int(count), 0, false)
	res, err := b.index.Search(req)
	if err != nil {
		return nil, loupeerr.Internal("enumerate lexical ids", err)
	}

	ids := make([]string, len(res.Hits))
	for i, hit := range res.Hits {
		ids[i] = hit.ID
	}
	return ids, nil
}

// Close flushes and closes the index.
func (b *BleveLexicalIndex) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	close(b.stopFlusher)
	<-b.flusherDone

	if err := b.Flush(); err != nil {
		slog.Warn("lexical_close_flush_failed", slog.String("error", err.Error()))
	}

	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	return b.index.Close()
}

var _ LexicalIndex = (*BleveLexicalIndex)(nil)

// newBleveCodeTokenizer adapts TokenizeCode to bleve's tokenizer interface.
func newBleveCodeTokenizer(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return bleveCodeTokenizer{}, nil
}

type bleveCodeTokenizer struct{}

// Tokenize implements analysis.Tokenizer.
func (bleveCodeTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	tokens := TokenizeCode(text)

	stream := make(analysis.TokenStream, 0, len(tokens))
	pos := 1
	offset := 0
	for _, tok := range tokens {
		start := strings.Index(strings.ToLower(text[offset:]), tok)
		if start < 0 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(tok)
		stream = append(stream, &analysis.Token{
			Term:     []byte(tok),
			Start:    start,
			End:      end,
			Position: pos,
			Type:     analysis.AlphaNumeric,
		})
		pos++
		if end <= len(text) {
			offset = end
		}
	}
	return stream
}
