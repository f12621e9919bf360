// Package index contains the indexing coordinator: the only writer of the
// lexical index, the vector index, the symbol map, and the chunk store.
//
// Commit order per chunk is lexical, vector, symbol map, then chunk store.
// The chunk store is written last so that after a crash it never claims a
// chunk the other indexes are missing; startup reconciliation resolves the
// opposite window (index entries with no store record) by deletion.
package index

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/loupe-dev/loupe/internal/chunk"
	"github.com/loupe-dev/loupe/internal/embed"
	loupeerr "github.com/loupe-dev/loupe/internal/errors"
	"github.com/loupe-dev/loupe/internal/scanner"
	"github.com/loupe-dev/loupe/internal/store"
	"github.com/loupe-dev/loupe/internal/telemetry"
	"github.com/loupe-dev/loupe/internal/watcher"
)

// embedWorkers bounds concurrent embedding batches per file commit. Batches
// are committed strictly in submission order regardless.
const embedWorkers = 4

// Config contains coordinator dependencies and tuning.
type Config struct {
	Chunker  *chunk.CodeChunker
	Embedder embed.Embedder
	Lexical  store.LexicalIndex
	Vector   store.VectorIndex
	Symbols  *store.SymbolMap
	Chunks   *store.SQLiteChunkStore
	Metrics  *telemetry.Metrics

	// BatchSize is the embedding batch size (default 128).
	BatchSize int
}

// Coordinator applies file events to the four stores.
type Coordinator struct {
	cfg Config

	rootsMu sync.RWMutex
	roots   map[string]string // repoID -> absolute root

	locks *keyedLocks
}

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = embed.DefaultBatchSize
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.New()
	}
	cfg.Chunker.OnParseError = func(repoID, path string) {
		cfg.Metrics.RecordParseError()
		slog.Debug("parse_errors_recovered", slog.String("repo", repoID), slog.String("path", path))
	}
	return &Coordinator{
		cfg:   cfg,
		roots: make(map[string]string),
		locks: newKeyedLocks(),
	}
}

// RegisterRepo records the root for a repo id so events can be resolved to
// file bytes.
func (c *Coordinator) RegisterRepo(repoID, root string) {
	c.rootsMu.Lock()
	defer c.rootsMu.Unlock()
	c.roots[repoID] = root
}

// UnregisterRepo forgets a repo root.
func (c *Coordinator) UnregisterRepo(repoID string) {
	c.rootsMu.Lock()
	defer c.rootsMu.Unlock()
	delete(c.roots, repoID)
}

// RepoRoot resolves a repo id to its root.
func (c *Coordinator) RepoRoot(repoID string) (string, bool) {
	c.rootsMu.RLock()
	defer c.rootsMu.RUnlock()
	root, ok := c.roots[repoID]
	return root, ok
}

// Repos lists registered repo ids.
func (c *Coordinator) Repos() []string {
	c.rootsMu.RLock()
	defer c.rootsMu.RUnlock()
	out := make([]string, 0, len(c.roots))
	for id := range c.roots {
		out = append(out, id)
	}
	return out
}

// HandleEvent applies one file event. Callers serialize events per repo;
// the per-file lock additionally guards against overlapping work on the
// same path from different callers (tests drive this directly).
func (c *Coordinator) HandleEvent(ctx context.Context, ev watcher.FileEvent) error {
	unlock := c.locks.lock(ev.RepoID + "\x00" + ev.Path)
	defer unlock()

	switch ev.Kind {
	case watcher.Removed:
		return c.removeFile(ctx, ev.RepoID, ev.Path)
	case watcher.Added, watcher.Modified:
		return c.indexFile(ctx, ev.RepoID, ev.Path)
	default:
		return nil
	}
}

// indexFile chunks the file, diffs by fingerprint against the store, embeds
// the additions, and commits adds before removals so a concurrent query
// never misses both versions.
func (c *Coordinator) indexFile(ctx context.Context, repoID, relPath string) error {
	root, ok := c.RepoRoot(repoID)
	if !ok {
		return loupeerr.RepoNotFound(repoID)
	}

	absPath := filepath.Join(root, filepath.FromSlash(relPath))
	info, err := os.Lstat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Raced with a deletion; the Removed event follows.
			return nil
		}
		return loupeerr.Internal("stat file", err)
	}
	if !info.Mode().IsRegular() {
		return nil
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return loupeerr.Internal("read file", err)
	}

	newChunks, err := c.cfg.Chunker.ChunkAuto(ctx, &chunk.FileInput{
		RepoID:   repoID,
		Path:     relPath,
		Content:  content,
		Language: scanner.DetectLanguage(relPath),
	})
	if err != nil {
		return err
	}

	oldChunks, err := c.cfg.Chunks.GetChunksByFile(ctx, repoID, relPath)
	if err != nil {
		return err
	}

	toAdd, toRemove := diffByFingerprint(oldChunks, newChunks)

	if len(toAdd) > 0 {
		if err := c.commitAdds(ctx, toAdd); err != nil {
			return err
		}
	}
	if len(toRemove) > 0 {
		if err := c.commitRemovals(ctx, toRemove); err != nil {
			return err
		}
	}

	if len(toAdd) > 0 || len(toRemove) > 0 {
		// Make the commit visible to queries before the event is done.
		if err := c.cfg.Lexical.Flush(); err != nil {
			return err
		}
		slog.Debug("index_commit",
			slog.String("repo", repoID),
			slog.String("path", relPath),
			slog.Int("added", len(toAdd)),
			slog.Int("removed", len(toRemove)))
	}
	return nil
}

// diffByFingerprint splits the old and new chunk sets on fingerprint
// identity. Chunks whose fingerprint survives keep their committed state.
func diffByFingerprint(old []*store.Chunk, new []*chunk.Chunk) (toAdd []*chunk.Chunk, toRemove []*store.Chunk) {
	oldFPs := make(map[string]bool, len(old))
	for _, o := range old {
		oldFPs[o.Fingerprint] = true
	}
	newFPs := make(map[string]bool, len(new))
	for _, n := range new {
		fp := n.Fingerprint.String()
		if newFPs[fp] {
			continue // fingerprint uniqueness within a file
		}
		newFPs[fp] = true
		if !oldFPs[fp] {
			toAdd = append(toAdd, n)
		}
	}
	for _, o := range old {
		if !newFPs[o.Fingerprint] {
			toRemove = append(toRemove, o)
		}
	}
	return toAdd, toRemove
}

// commitAdds embeds the chunks in batches and commits them. Batches embed
// concurrently but commit strictly in submission order.
func (c *Coordinator) commitAdds(ctx context.Context, chunks []*chunk.Chunk) error {
	batches := splitBatches(chunks, c.cfg.BatchSize)
	vectors := make([][][]float32, len(batches))
	failed := make([]bool, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedWorkers)
	for i, batch := range batches {
		g.Go(func() error {
			texts := make([]string, len(batch))
			for j, ch := range batch {
				texts[j] = ch.Content
			}

			var vecs [][]float32
			err := loupeerr.Retry(gctx, loupeerr.EmbedRetryConfig(), func() error {
				c.cfg.Metrics.RecordEmbedBatch()
				var embedErr error
				vecs, embedErr = c.cfg.Embedder.EmbedBatch(gctx, texts)
				return embedErr
			})
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				// Quarantine the batch; the next event for the file
				// re-enqueues these chunks.
				ids := make([]string, len(batch))
				for j, ch := range batch {
					ids[j] = ch.ID
				}
				c.cfg.Metrics.RecordEmbedFailure()
				c.cfg.Metrics.Quarantine(ids)
				failed[i] = true
				slog.Warn("embed_batch_quarantined",
					slog.Int("chunks", len(batch)),
					slog.String("error", err.Error()))
				return nil
			}
			vectors[i] = vecs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Ordered commit: lexical -> vector -> symbol -> chunk store.
	var records []*store.Chunk
	var committedIDs []string
	for i, batch := range batches {
		if failed[i] {
			continue
		}
		for j, ch := range batch {
			vec := vectors[i][j]
			if err := c.cfg.Lexical.Upsert(ctx, store.FromChunk(ch, nil)); err != nil {
				return err
			}
			if err := c.cfg.Vector.Upsert(ctx, ch.ID, ch.RepoID, vec); err != nil {
				return err
			}
			c.cfg.Symbols.Add(ch.RepoID, ch.Symbol, ch.ID)
			records = append(records, store.FromChunk(ch, vec))
			committedIDs = append(committedIDs, ch.ID)
		}
	}
	if len(records) == 0 {
		return nil
	}
	if err := c.cfg.Chunks.SaveChunks(ctx, records); err != nil {
		return err
	}

	c.cfg.Metrics.Unquarantine(committedIDs)
	c.cfg.Metrics.RecordIndexed(len(records))
	return nil
}

// commitRemovals deletes chunks from all indexes, chunk store last.
func (c *Coordinator) commitRemovals(ctx context.Context, chunks []*store.Chunk) error {
	ids := make([]string, len(chunks))
	for i, ch := range chunks {
		ids[i] = ch.ID
		if err := c.cfg.Lexical.Delete(ctx, ch.ID); err != nil {
			return err
		}
		if err := c.cfg.Vector.Delete(ctx, ch.ID); err != nil {
			return err
		}
		c.cfg.Symbols.Remove(ch.RepoID, ch.Symbol, ch.ID)
	}
	if err := c.cfg.Chunks.DeleteChunks(ctx, ids); err != nil {
		return err
	}
	c.cfg.Metrics.RecordDeleted(len(ids))
	return nil
}

// removeFile deletes every chunk of a file and drops cached parse state.
func (c *Coordinator) removeFile(ctx context.Context, repoID, relPath string) error {
	chunks, err := c.cfg.Chunks.GetChunksByFile(ctx, repoID, relPath)
	if err != nil {
		return err
	}
	c.cfg.Chunker.Forget(repoID, relPath)
	if len(chunks) == 0 {
		return nil
	}
	if err := c.commitRemovals(ctx, chunks); err != nil {
		return err
	}
	return c.cfg.Lexical.Flush()
}

// splitBatches cuts chunks into embedding batches of at most size.
func splitBatches(chunks []*chunk.Chunk, size int) [][]*chunk.Chunk {
	var out [][]*chunk.Chunk
	for start := 0; start < len(chunks); start += size {
		end := start + size
		if end > len(chunks) {
			end = len(chunks)
		}
		out = append(out, chunks[start:end])
	}
	return out
}

// keyedLocks provides fine-grained mutexes keyed by (repo, path).
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*lockEntry)}
}

func (k *keyedLocks) lock(key string) func() {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &lockEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// Stats reports the chunk store's catalog counts. Quarantine size is kept
// by telemetry.Metrics, not here.
func (c *Coordinator) Stats(ctx context.Context) (*store.Stats, error) {
	return c.cfg.Chunks.Stats(ctx)
}

