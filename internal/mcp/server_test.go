package mcp

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loupe-dev/loupe/internal/chunk"
	"github.com/loupe-dev/loupe/internal/embed"
	"github.com/loupe-dev/loupe/internal/index"
	"github.com/loupe-dev/loupe/internal/search"
	"github.com/loupe-dev/loupe/internal/store"
	"github.com/loupe-dev/loupe/internal/telemetry"
	"github.com/loupe-dev/loupe/internal/watcher"
)

const testDims = 32

type serverEnv struct {
	server *Server
	coord  *index.Coordinator
	root   string
}

func newServerEnv(t *testing.T) *serverEnv {
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

	chunker := chunk.NewCodeChunker()
	t.Cleanup(chunker.Close)

	embedder := embed.NewStaticEmbedderWithDims(testDims)
	symbols := store.NewSymbolMap()
	metrics := telemetry.New()

	coord := index.NewCoordinator(index.Config{
		Chunker: chunker, Embedder: embedder,
		Lexical: lexical, Vector: vector, Symbols: symbols, Chunks: chunks,
		Metrics: metrics,
	})
	root := t.TempDir()
	coord.RegisterRepo("r1", root)

	engine, err := search.NewEngine(lexical, vector, symbols, chunks, embedder, metrics, search.Config{
		Deadline: 5 * time.Second,
		KnownRepo: func(repoID string) bool {
			_, ok := coord.RepoRoot(repoID)
			return ok
		},
	})
	require.NoError(t, err)

	server, err := NewServer(engine, coord, embedder, metrics)
	require.NoError(t, err)

	return &serverEnv{server: server, coord: coord, root: root}
}

func (e *serverEnv) index(t *testing.T, rel, content string) {
	t.Helper()
	abs := filepath.Join(e.root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	require.NoError(t, e.coord.HandleEvent(context.Background(), watcher.FileEvent{
		RepoID: "r1", Path: rel, Kind: watcher.Added,
	}))
}

const userSource = `package main

// SaveUser persists the account record.
func SaveUser(u User) error {
	return db.Insert(u)
}
`

func TestSearchCodeTool(t *testing.T) {
	env := newServerEnv(t)
	env.index(t, "user.go", userSource)

	_, out, err := env.server.handleSearchCode(context.Background(), nil, SearchCodeInput{
		Query: "SaveUser", TopK: 3,
	})
	require.NoError(t, err)
	require.NotEmpty(t, out.Results)

	first := out.Results[0]
	assert.Equal(t, "user.go", first.File)
	assert.Equal(t, "SaveUser", first.Symbol)
	assert.True(t, first.Lanes.Symbol)
	assert.Equal(t, 3, first.StartLine, "chunk includes the doc comment")
	assert.False(t, out.Degraded)
}

func TestSearchCodeEmptyQuery(t *testing.T) {
	env := newServerEnv(t)
	_, _, err := env.server.handleSearchCode(context.Background(), nil, SearchCodeInput{Query: "  "})
	require.Error(t, err)

	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ErrCodeInvalidParams, perr.Code)
}

func TestSearchCodeUnknownRepoFilter(t *testing.T) {
	env := newServerEnv(t)
	_, _, err := env.server.handleSearchCode(context.Background(), nil, SearchCodeInput{
		Query: "x", RepoFilter: "ghost",
	})
	require.Error(t, err)

	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ErrCodeRepoNotFound, perr.Code)
}

func TestSearchCodeRepoFilterByRootPath(t *testing.T) {
	env := newServerEnv(t)
	env.index(t, "user.go", userSource)

	_, out, err := env.server.handleSearchCode(context.Background(), nil, SearchCodeInput{
		Query: "SaveUser", RepoFilter: env.root,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, out.Results)
}

func TestOpenLocationReadsSpan(t *testing.T) {
	env := newServerEnv(t)
	env.index(t, "user.go", userSource)

	_, out, err := env.server.handleOpenLocation(context.Background(), nil, OpenLocationInput{
		Path: "user.go", LineStart: 3, LineEnd: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, "// SaveUser persists the account record.\nfunc SaveUser(u User) error {", out.Content)
	assert.Equal(t, 3, out.LineStart)
	assert.Equal(t, 4, out.LineEnd)
}

func TestOpenLocationNotIndexBacked(t *testing.T) {
	env := newServerEnv(t)
	env.index(t, "user.go", userSource)

	// Change the file without reindexing: open_location must see the new
	// bytes.
	require.NoError(t, os.WriteFile(filepath.Join(env.root, "user.go"),
		[]byte("line one\nline two\n"), 0o644))

	_, out, err := env.server.handleOpenLocation(context.Background(), nil, OpenLocationInput{
		Path: "user.go", LineStart: 1, LineEnd: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two", out.Content)
}

func TestOpenLocationErrors(t *testing.T) {
	env := newServerEnv(t)
	env.index(t, "user.go", userSource)

	cases := []struct {
		name string
		in   OpenLocationInput
		code int
	}{
		{"zero line_start", OpenLocationInput{Path: "user.go", LineStart: 0, LineEnd: 1}, ErrCodeInvalidRange},
		{"inverted range", OpenLocationInput{Path: "user.go", LineStart: 5, LineEnd: 2}, ErrCodeInvalidRange},
		{"start beyond eof", OpenLocationInput{Path: "user.go", LineStart: 1000, LineEnd: 1001}, ErrCodeInvalidRange},
		{"missing file", OpenLocationInput{Path: "ghost.go", LineStart: 1, LineEnd: 1}, ErrCodePathNotFound},
		{"outside repo", OpenLocationInput{Path: "/etc/passwd", LineStart: 1, LineEnd: 1}, ErrCodePathNotInRepo},
		{"traversal", OpenLocationInput{Path: "../outside.go", LineStart: 1, LineEnd: 1}, ErrCodePathNotInRepo},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := env.server.handleOpenLocation(context.Background(), nil, tc.in)
			require.Error(t, err)
			var perr *ProtocolError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tc.code, perr.Code)
		})
	}
}

func TestOpenLocationAbsolutePathInsideRepo(t *testing.T) {
	env := newServerEnv(t)
	env.index(t, "user.go", userSource)

	_, out, err := env.server.handleOpenLocation(context.Background(), nil, OpenLocationInput{
		Path: filepath.Join(env.root, "user.go"), LineStart: 1, LineEnd: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, "package main", out.Content)
}

func TestDeletedFileSearchAndOpen(t *testing.T) {
	env := newServerEnv(t)
	env.index(t, "b.go", "package main\n\nfunc Doomed() {}\n")

	_, out, err := env.server.handleSearchCode(context.Background(), nil, SearchCodeInput{Query: "Doomed"})
	require.NoError(t, err)
	require.NotEmpty(t, out.Results)

	require.NoError(t, os.Remove(filepath.Join(env.root, "b.go")))
	require.NoError(t, env.coord.HandleEvent(context.Background(), watcher.FileEvent{
		RepoID: "r1", Path: "b.go", Kind: watcher.Removed,
	}))

	_, out, err = env.server.handleSearchCode(context.Background(), nil, SearchCodeInput{Query: "Doomed"})
	require.NoError(t, err)
	assert.Empty(t, out.Results)

	_, _, err = env.server.handleOpenLocation(context.Background(), nil, OpenLocationInput{
		Path: "b.go", LineStart: 1, LineEnd: 1,
	})
	require.Error(t, err)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ErrCodePathNotFound, perr.Code)
}

func TestIndexStatusTool(t *testing.T) {
	env := newServerEnv(t)
	env.index(t, "user.go", userSource)

	_, out, err := env.server.handleIndexStatus(context.Background(), nil, IndexStatusInput{})
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, out.Repos)
	assert.Greater(t, out.ChunkCount, 0)
	assert.Equal(t, 1, out.FileCount)
	assert.True(t, out.EmbedderReady)
	assert.Equal(t, "static", out.EmbedderModel)
}
