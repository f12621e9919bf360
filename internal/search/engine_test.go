package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loupe-dev/loupe/internal/embed"
	loupeerr "github.com/loupe-dev/loupe/internal/errors"
	"github.com/loupe-dev/loupe/internal/store"
	"github.com/loupe-dev/loupe/internal/telemetry"
)

const testDims = 32

type engineEnv struct {
	engine   *Engine
	lexical  *store.BleveLexicalIndex
	vector   *store.HNSWVectorIndex
	symbols  *store.SymbolMap
	chunks   *store.SQLiteChunkStore
	embedder embed.Embedder
}

type failingEmbedder struct{ embed.Embedder }

func (f *failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, loupeerr.EmbedderUnavailable(nil)
}

func newEngineEnv(t *testing.T, embedder embed.Embedder) *engineEnv {
	t.Helper()

	lexical, err := store.NewBleveLexicalIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = lexical.Close() })

	vector, err := store.NewHNSWVectorIndex(store.DefaultVectorConfig(testDims))
	require.NoError(t, err)
	t.Cleanup(func() { _ = vector.Close() })

	chunks, err := store.OpenChunkStore(":memory:", false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = chunks.Close() })

	symbols := store.NewSymbolMap()
	if embedder == nil {
		embedder = embed.NewStaticEmbedderWithDims(testDims)
	}

	engine, err := NewEngine(lexical, vector, symbols, chunks, embedder, telemetry.New(), Config{
		Deadline: 5 * time.Second,
		KnownRepo: func(repoID string) bool {
			return repoID == "r1" || repoID == "r2"
		},
	})
	require.NoError(t, err)

	return &engineEnv{engine: engine, lexical: lexical, vector: vector, symbols: symbols, chunks: chunks, embedder: embedder}
}

// add commits a chunk to all stores the way the coordinator would.
func (e *engineEnv) add(t *testing.T, c *store.Chunk) {
	t.Helper()
	ctx := context.Background()

	vec, err := embed.NewStaticEmbedderWithDims(testDims).Embed(ctx, c.Content)
	require.NoError(t, err)
	c.Embedding = vec

	require.NoError(t, e.lexical.Upsert(ctx, c))
	require.NoError(t, e.vector.Upsert(ctx, c.ID, c.RepoID, vec))
	e.symbols.Add(c.RepoID, c.Symbol, c.ID)
	require.NoError(t, e.chunks.SaveChunks(ctx, []*store.Chunk{c}))
	require.NoError(t, e.lexical.Flush())
}

func mkChunk(id, repo, path, symbol, content string, startLine, endLine int) *store.Chunk {
	return &store.Chunk{
		ID: id, RepoID: repo, FilePath: path, Language: "go",
		Symbol: symbol, SymbolKind: "function",
		StartLine: startLine, EndLine: endLine,
		Content: content, Fingerprint: "fp-" + id,
	}
}

func TestSearchSymbolHitFirst(t *testing.T) {
	env := newEngineEnv(t, nil)
	env.add(t, mkChunk("c1", "r1", "a.rs", "iso_to_date",
		"fn iso_to_date(s: &str) -> Date { parse(s) }", 42, 58))
	env.add(t, mkChunk("c2", "r1", "b.rs", "format_date",
		"fn format_date(d: Date) -> String { iso_to_date is referenced here }", 1, 10))

	resp, err := env.engine.Search(context.Background(), Request{Query: "iso_to_date", TopK: 3})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)

	first := resp.Results[0]
	assert.True(t, first.SymbolHit)
	assert.Equal(t, "a.rs", first.Chunk.FilePath)
	assert.Equal(t, 42, first.Chunk.StartLine)
	assert.Equal(t, 58, first.Chunk.EndLine)
	assert.Equal(t, "iso_to_date", first.Chunk.Symbol)
}

func TestSearchSemanticHit(t *testing.T) {
	env := newEngineEnv(t, nil)
	env.add(t, mkChunk("c1", "r1", "user.go", "saveUser",
		"func saveUser(u User) error { return db.persist(u.record) }", 10, 20))
	env.add(t, mkChunk("c2", "r1", "math.go", "add",
		"func add(a, b int) int { return a + b }", 1, 3))

	resp, err := env.engine.Search(context.Background(), Request{Query: "persist account record", TopK: 1})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "saveUser", resp.Results[0].Chunk.Symbol)
}

func TestSearchMultiWordSkipsSymbolLane(t *testing.T) {
	env := newEngineEnv(t, nil)
	env.add(t, mkChunk("c1", "r1", "a.go", "save user", "this chunk is named oddly", 1, 2))
	env.add(t, mkChunk("c2", "r1", "b.go", "other", "save user data to disk", 1, 2))

	resp, err := env.engine.Search(context.Background(), Request{Query: "save user", TopK: 5})
	require.NoError(t, err)
	for _, r := range resp.Results {
		assert.False(t, r.SymbolHit, "multi-word query must not produce symbol hits")
	}
}

func TestSearchRepoFilterIsolation(t *testing.T) {
	env := newEngineEnv(t, nil)
	env.add(t, mkChunk("c1", "r1", "a.go", "Shared", "func Shared() {}", 1, 1))
	env.add(t, mkChunk("c2", "r2", "b.go", "Shared", "func Shared() {}", 1, 1))

	resp, err := env.engine.Search(context.Background(), Request{Query: "Shared", TopK: 10, RepoFilter: "r2"})
	require.NoError(t, err)
	for _, r := range resp.Results {
		assert.Equal(t, "r2", r.Chunk.RepoID)
	}
}

func TestSearchSymbolAbsentFromFilteredRepo(t *testing.T) {
	env := newEngineEnv(t, nil)
	env.add(t, mkChunk("c1", "r1", "a.go", "OnlyInR1", "func OnlyInR1() {}", 1, 1))

	// The symbol exists in r1 but the filter names r2: the symbol lane must
	// not cross repos.
	resp, err := env.engine.Search(context.Background(), Request{Query: "OnlyInR1", TopK: 5, RepoFilter: "r2"})
	require.NoError(t, err)
	for _, r := range resp.Results {
		assert.False(t, r.SymbolHit)
	}
}

func TestSearchDegradedWhenEmbedderFails(t *testing.T) {
	inner := embed.NewStaticEmbedderWithDims(testDims)
	env := newEngineEnv(t, &failingEmbedder{inner})
	env.add(t, mkChunk("c1", "r1", "a.go", "FindMe", "func FindMe() { lexical match }", 1, 3))

	resp, err := env.engine.Search(context.Background(), Request{Query: "FindMe", TopK: 5})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.Contains(t, resp.DegradedLanes, LaneVector)
	require.NotEmpty(t, resp.Results, "lexical and symbol lanes still answer")
	assert.True(t, resp.Results[0].SymbolHit)
}

func TestSearchInvalidArguments(t *testing.T) {
	env := newEngineEnv(t, nil)

	_, err := env.engine.Search(context.Background(), Request{Query: ""})
	require.Error(t, err)
	assert.Equal(t, loupeerr.ErrCodeInvalidArgument, loupeerr.CodeOf(err))

	_, err = env.engine.Search(context.Background(), Request{Query: "x", TopK: 101})
	require.Error(t, err)
	assert.Equal(t, loupeerr.ErrCodeInvalidArgument, loupeerr.CodeOf(err))
}

func TestSearchUnknownRepoFilter(t *testing.T) {
	env := newEngineEnv(t, nil)
	_, err := env.engine.Search(context.Background(), Request{Query: "x", RepoFilter: "ghost"})
	require.Error(t, err)
	assert.Equal(t, loupeerr.ErrCodeRepoNotFound, loupeerr.CodeOf(err))
}

func TestSearchCancelledContext(t *testing.T) {
	env := newEngineEnv(t, nil)
	env.add(t, mkChunk("c1", "r1", "a.go", "F", "func F() {}", 1, 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.engine.Search(ctx, Request{Query: "F", TopK: 1})
	assert.Error(t, err)
}

func TestSearchResultCapAtTopK(t *testing.T) {
	env := newEngineEnv(t, nil)
	for i := 0; i < 10; i++ {
		id := string(rune('a' + i))
		env.add(t, mkChunk("c"+id, "r1", id+".go", "",
			"shared lexical vocabulary appears in every chunk body "+id, 1, 2))
	}

	resp, err := env.engine.Search(context.Background(), Request{Query: "shared lexical vocabulary", TopK: 3})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 3)
}

func TestSearchLaneExplainability(t *testing.T) {
	env := newEngineEnv(t, nil)
	env.add(t, mkChunk("c1", "r1", "a.go", "Resolve", "func Resolve(host string) string", 1, 2))

	resp, err := env.engine.Search(context.Background(), Request{Query: "Resolve", TopK: 1})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)

	r := resp.Results[0]
	require.NotNil(t, r.Lexical)
	assert.Equal(t, 1, r.Lexical.Rank)
	assert.Greater(t, r.Lexical.Score, 0.0)
	require.NotNil(t, r.Vector)
	assert.Equal(t, 1, r.Vector.Rank)
}
