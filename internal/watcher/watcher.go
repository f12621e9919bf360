package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	loupeerr "github.com/loupe-dev/loupe/internal/errors"
	"github.com/loupe-dev/loupe/internal/scanner"
)

// Watcher owns the OS notification handle and the event queue shared by all
// attached repositories.
// Attach performs the initial walk; afterwards fsnotify notifications are
// filtered, debounced, and enqueued.
type Watcher struct {
	opts    Options
	scanner *scanner.Scanner
	fsw     *fsnotify.Watcher
	events  chan FileEvent

	mu    sync.Mutex
	repos map[string]*repoWatch

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// repoWatch tracks one attached repository.
type repoWatch struct {
	repoID    string
	root      string
	debouncer *Debouncer
	// seen is the set of paths this repo has emitted Added/Modified for,
	// so Detach can emit the matching Removed events.
	seen map[string]bool
}

// New creates a watcher. Call Start before Attach.
func New(sc *scanner.Scanner, opts Options) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	opts = opts.WithDefaults()
	return &Watcher{
		opts:    opts,
		scanner: sc,
		fsw:     fsw,
		events:  make(chan FileEvent, opts.QueueSize),
		repos:   make(map[string]*repoWatch),
		done:    make(chan struct{}),
	}, nil
}

// Events returns the ordered event stream. Closed by Stop.
func (w *Watcher) Events() <-chan FileEvent {
	return w.events
}

// Start launches the notification loop.
func (w *Watcher) Start(ctx context.Context) {
	w.ctx, w.cancel = context.WithCancel(ctx)
	go w.loop()
}

// Attach registers a repository root, walks it, and emits Added for every
// non-ignored file. Returns a config error when ignore rules do not parse.
func (w *Watcher) Attach(ctx context.Context, repoID, root string) error {
	root, err := filepath.Abs(root)
	if err != nil {
		return loupeerr.ConfigError("resolve repo root", err)
	}

	results, err := w.scanner.Scan(ctx, scanner.Options{
		Root:          root,
		ExtraPatterns: w.opts.ExtraPatterns,
		MaxFileBytes:  w.opts.MaxFileBytes,
	})
	if err != nil {
		return err
	}

	rw := &repoWatch{
		repoID: repoID,
		root:   root,
		seen:   make(map[string]bool),
	}
	rw.debouncer = NewDebouncer(w.opts.DebounceWindow, w.events)

	w.mu.Lock()
	if _, exists := w.repos[repoID]; exists {
		w.mu.Unlock()
		return loupeerr.ConfigError(fmt.Sprintf("repo already attached: %s", repoID), nil)
	}
	w.repos[repoID] = rw
	w.mu.Unlock()

	if err := w.watchTree(root); err != nil {
		slog.Warn("watch_tree_incomplete", slog.String("repo", repoID), slog.String("error", err.Error()))
	}

	for res := range results {
		if res.Err != nil {
			continue
		}
		w.mu.Lock()
		rw.seen[res.File.Path] = true
		w.mu.Unlock()
		select {
		case w.events <- FileEvent{RepoID: repoID, Path: res.File.Path, Kind: Added, Timestamp: time.Now()}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Detach stops watching a repository and emits Removed for every file it had
// reported.
func (w *Watcher) Detach(repoID string) error {
	w.mu.Lock()
	rw, ok := w.repos[repoID]
	if ok {
		delete(w.repos, repoID)
	}
	w.mu.Unlock()

	if !ok {
		return loupeerr.RepoNotFound(repoID)
	}

	rw.debouncer.Stop()
	_ = filepath.WalkDir(rw.root, func(path string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() {
			_ = w.fsw.Remove(path)
		}
		return nil
	})

	w.mu.Lock()
	paths := make([]string, 0, len(rw.seen))
	for path := range rw.seen {
		paths = append(paths, path)
	}
	w.mu.Unlock()

	for _, path := range paths {
		w.events <- FileEvent{RepoID: repoID, Path: path, Kind: Removed, Timestamp: time.Now()}
	}
	return nil
}

// Stop shuts the watcher down and closes the event stream.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
		<-w.done
	}
	_ = w.fsw.Close()

	w.mu.Lock()
	for _, rw := range w.repos {
		rw.debouncer.Stop()
	}
	w.repos = make(map[string]*repoWatch)
	w.mu.Unlock()

	close(w.events)
}

// watchTree adds fsnotify watches for every directory under root.
func (w *Watcher) watchTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr == nil && rel != "." {
			if hardExcludedDir(rel) {
				return fs.SkipDir
			}
			matcher, mErr := w.scanner.BuildMatcher(root, w.opts.ExtraPatterns)
			if mErr == nil && matcher.Match(filepath.ToSlash(rel), true) {
				return fs.SkipDir
			}
		}
		if addErr := w.fsw.Add(path); addErr != nil {
			slog.Debug("watch_add_failed", slog.String("path", path), slog.String("error", addErr.Error()))
		}
		return nil
	})
}

// loop translates fsnotify notifications into debounced FileEvents.
func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.ctx.Done():
			return
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("fsnotify_error", slog.String("error", err.Error()))
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	rw := w.repoFor(ev.Name)
	if rw == nil {
		return
	}
	rel, err := filepath.Rel(rw.root, ev.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	// New directories must be watched before their contents churn.
	if ev.Op.Has(fsnotify.Create) {
		if info, statErr := os.Lstat(ev.Name); statErr == nil && info.IsDir() {
			_ = w.watchTree(ev.Name)
			return
		}
	}

	if filepath.Base(rel) == ".gitignore" {
		// TODO: reconcile newly-ignored files on .gitignore change; needs an
		// indexed-path listing from the chunk store.
		w.scanner.InvalidateMatcher(rw.root)
		return
	}

	now := time.Now()
	switch {
	case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
		w.mu.Lock()
		known := rw.seen[rel]
		if known {
			delete(rw.seen, rel)
		}
		w.mu.Unlock()
		if known {
			rw.debouncer.Add(FileEvent{RepoID: rw.repoID, Path: rel, Kind: Removed, Timestamp: now})
		}
	case ev.Op.Has(fsnotify.Create):
		if !w.scanner.ShouldIndex(rw.root, rel, w.opts.ExtraPatterns, w.opts.MaxFileBytes) {
			return
		}
		w.mu.Lock()
		rw.seen[rel] = true
		w.mu.Unlock()
		rw.debouncer.Add(FileEvent{RepoID: rw.repoID, Path: rel, Kind: Added, Timestamp: now})
	case ev.Op.Has(fsnotify.Write):
		if !w.scanner.ShouldIndex(rw.root, rel, w.opts.ExtraPatterns, w.opts.MaxFileBytes) {
			return
		}
		w.mu.Lock()
		known := rw.seen[rel]
		rw.seen[rel] = true
		w.mu.Unlock()
		kind := Modified
		if !known {
			kind = Added
		}
		rw.debouncer.Add(FileEvent{RepoID: rw.repoID, Path: rel, Kind: kind, Timestamp: now})
	}
}

// repoFor finds the attached repo whose root contains absPath.
func (w *Watcher) repoFor(absPath string) *repoWatch {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, rw := range w.repos {
		if absPath == rw.root || isUnder(absPath, rw.root) {
			return rw
		}
	}
	return nil
}

// hardExcludedDir mirrors the scanner's always-skipped directories so the
// watcher never subscribes to .git or build output churn.
func hardExcludedDir(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if scanner.HardExcluded(part) {
			return true
		}
	}
	return false
}

func isUnder(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
