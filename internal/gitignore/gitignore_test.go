package gitignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addAll(t *testing.T, m *Matcher, patterns ...string) {
	t.Helper()
	for _, p := range patterns {
		require.NoError(t, m.Add(p))
	}
}

func TestBasenamePattern(t *testing.T) {
	m := New()
	addAll(t, m, "*.log")

	assert.True(t, m.Match("debug.log", false))
	assert.True(t, m.Match("sub/dir/trace.log", false))
	assert.False(t, m.Match("debug.log.txt", false))
}

func TestDirectoryOnlyPattern(t *testing.T) {
	m := New()
	addAll(t, m, "build/")

	assert.True(t, m.Match("build", true))
	assert.True(t, m.Match("build/output.o", false))
	assert.False(t, m.Match("build", false), "file named build is not a directory")
}

func TestAnchoredPattern(t *testing.T) {
	m := New()
	addAll(t, m, "/target")

	assert.True(t, m.Match("target", false))
	assert.False(t, m.Match("crates/foo/target", false))
}

func TestSlashInMiddleAnchors(t *testing.T) {
	m := New()
	addAll(t, m, "doc/frotz")

	assert.True(t, m.Match("doc/frotz", false))
	assert.False(t, m.Match("a/doc/frotz", false))
}

func TestNegation(t *testing.T) {
	m := New()
	addAll(t, m, "*.log", "!important.log")

	assert.True(t, m.Match("debug.log", false))
	assert.False(t, m.Match("important.log", false))
}

func TestDoubleStarPattern(t *testing.T) {
	m := New()
	addAll(t, m, "**/node_modules/")

	assert.True(t, m.Match("node_modules", true))
	assert.True(t, m.Match("web/node_modules/react/index.js", false))
}

func TestQuestionMarkDoesNotCrossSlash(t *testing.T) {
	m := New()
	addAll(t, m, "a?c")

	assert.True(t, m.Match("abc", false))
	assert.False(t, m.Match("a/c", false))
}

func TestCommentsAndBlanksIgnored(t *testing.T) {
	m := New()
	addAll(t, m, "# a comment", "   ", "*.tmp")
	assert.Equal(t, 1, m.Len())
}

func TestBasedRules(t *testing.T) {
	m := New()
	require.NoError(t, m.AddWithBase("*.gen.go", "pkg/api"))

	assert.True(t, m.Match("pkg/api/types.gen.go", false))
	assert.False(t, m.Match("internal/types.gen.go", false))
}

func TestInvalidPatternReturnsError(t *testing.T) {
	m := New()
	assert.Error(t, m.Add("[unclosed"))
	assert.Error(t, m.Add(`trailing\`))
}

func TestAddFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".gitignore")
	require.NoError(t, os.WriteFile(path, []byte("dist/\n!dist/keep.txt\n"), 0o644))

	m := New()
	require.NoError(t, m.AddFile(path, ""))
	assert.True(t, m.Match("dist/bundle.js", false))
	assert.False(t, m.Match("dist/keep.txt", false))
}

func TestAddFileReportsLineOfBadPattern(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".gitignore")
	require.NoError(t, os.WriteFile(path, []byte("ok\n[broken\n"), 0o644))

	m := New()
	err := m.AddFile(path, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), ":2:")
}
