package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loupe-dev/loupe/internal/scanner"
)

func newTestWatcher(t *testing.T) *Watcher {
	t.Helper()
	sc, err := scanner.New()
	require.NoError(t, err)

	w, err := New(sc, Options{DebounceWindow: 20 * time.Millisecond, QueueSize: 100})
	require.NoError(t, err)
	t.Cleanup(w.Stop)

	w.Start(context.Background())
	return w
}

func waitFor(t *testing.T, w *Watcher, want func(FileEvent) bool) FileEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-w.Events():
			if want(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestAttachEmitsAddedForWalk(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0o644))

	w := newTestWatcher(t)
	require.NoError(t, w.Attach(context.Background(), "r1", root))

	ev := waitFor(t, w, func(e FileEvent) bool { return e.Path == "main.go" })
	assert.Equal(t, Added, ev.Kind)
	assert.Equal(t, "r1", ev.RepoID)
}

func TestWriteEmitsModified(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.go")
	require.NoError(t, os.WriteFile(path, []byte("package a\n"), 0o644))

	w := newTestWatcher(t)
	require.NoError(t, w.Attach(context.Background(), "r1", root))
	waitFor(t, w, func(e FileEvent) bool { return e.Path == "a.go" && e.Kind == Added })

	require.NoError(t, os.WriteFile(path, []byte("package a\n\nfunc B() {}\n"), 0o644))

	ev := waitFor(t, w, func(e FileEvent) bool { return e.Path == "a.go" })
	assert.Equal(t, Modified, ev.Kind)
}

func TestRemoveEmitsRemoved(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.go")
	require.NoError(t, os.WriteFile(path, []byte("package a\n"), 0o644))

	w := newTestWatcher(t)
	require.NoError(t, w.Attach(context.Background(), "r1", root))
	waitFor(t, w, func(e FileEvent) bool { return e.Path == "a.go" && e.Kind == Added })

	require.NoError(t, os.Remove(path))

	ev := waitFor(t, w, func(e FileEvent) bool { return e.Path == "a.go" })
	assert.Equal(t, Removed, ev.Kind)
}

func TestDetachEmitsRemovedForAllSeen(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package a\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.go"), []byte("package a\n"), 0o644))

	w := newTestWatcher(t)
	require.NoError(t, w.Attach(context.Background(), "r1", root))
	waitFor(t, w, func(e FileEvent) bool { return e.Path == "a.go" })
	waitFor(t, w, func(e FileEvent) bool { return e.Path == "b.go" })

	require.NoError(t, w.Detach("r1"))

	removed := map[string]bool{}
	for len(removed) < 2 {
		ev := waitFor(t, w, func(e FileEvent) bool { return e.Kind == Removed })
		removed[ev.Path] = true
	}
	assert.True(t, removed["a.go"])
	assert.True(t, removed["b.go"])
}

func TestDetachUnknownRepo(t *testing.T) {
	w := newTestWatcher(t)
	assert.Error(t, w.Detach("ghost"))
}

func TestAttachTwiceFails(t *testing.T) {
	root := t.TempDir()
	w := newTestWatcher(t)
	require.NoError(t, w.Attach(context.Background(), "r1", root))
	assert.Error(t, w.Attach(context.Background(), "r1", root))
}

func TestIgnoredFileEmitsNothingOnCreate(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("*.gen.go\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "keep.go"), []byte("package a\n"), 0o644))

	w := newTestWatcher(t)
	require.NoError(t, w.Attach(context.Background(), "r1", root))
	waitFor(t, w, func(e FileEvent) bool { return e.Path == "keep.go" })

	require.NoError(t, os.WriteFile(filepath.Join(root, "skip.gen.go"), []byte("package a\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "also.go"), []byte("package a\n"), 0o644))

	ev := waitFor(t, w, func(e FileEvent) bool { return e.Kind == Added })
	assert.Equal(t, "also.go", ev.Path)
}
