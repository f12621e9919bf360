package cmd

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/loupe-dev/loupe/internal/chunk"
	"github.com/loupe-dev/loupe/internal/config"
	"github.com/loupe-dev/loupe/internal/embed"
	"github.com/loupe-dev/loupe/internal/index"
	"github.com/loupe-dev/loupe/internal/scanner"
	"github.com/loupe-dev/loupe/internal/search"
	"github.com/loupe-dev/loupe/internal/store"
	"github.com/loupe-dev/loupe/internal/telemetry"
	"github.com/loupe-dev/loupe/internal/watcher"
)

// app wires the full pipeline for one instance directory.
type app struct {
	cfg     *config.Config
	dataDir string

	lock     *store.InstanceLock
	lexical  *store.BleveLexicalIndex
	vector   *store.HNSWVectorIndex
	symbols  *store.SymbolMap
	chunks   *store.SQLiteChunkStore
	chunker  *chunk.CodeChunker
	embedder embed.Embedder
	metrics  *telemetry.Metrics
	coord    *index.Coordinator
	engine   *search.Engine
	scanner  *scanner.Scanner
	watcher  *watcher.Watcher
	runner   *index.Runner

	// fullReindex is set when persisted state is discarded: a fresh or
	// mismatched manifest, or a corrupt chunk store moved aside.
	fullReindex bool
}

// repoID derives the stable repository identifier from its absolute root.
func repoID(root string) string {
	sum := sha256.Sum256([]byte(root))
	return hex.EncodeToString(sum[:])[:12]
}

// defaultDataDir derives the instance directory from the attached roots.
func defaultDataDir(roots []string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	sorted := append([]string(nil), roots...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\x00")))
	return filepath.Join(home, ".loupe", hex.EncodeToString(sum[:])[:12])
}

func (a *app) lexicalPath() string { return filepath.Join(a.dataDir, "lexical.bleve") }
func (a *app) vectorPath() string  { return filepath.Join(a.dataDir, "vectors.hnsw") }
func (a *app) chunksPath() string  { return filepath.Join(a.dataDir, "chunks.db") }

// openApp builds the pipeline: lock, stores, manifest check, reconcile.
func openApp(ctx context.Context, cfg *config.Config, roots []string) (*app, error) {
	if len(roots) == 0 {
		roots = cfg.RepoRoots
	}
	if len(roots) == 0 {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		roots = []string{cwd}
	}
	for i, r := range roots {
		abs, err := filepath.Abs(r)
		if err != nil {
			return nil, err
		}
		roots[i] = abs
	}

	a := &app{cfg: cfg, metrics: telemetry.New()}
	a.dataDir = cfg.DataDir
	if a.dataDir == "" {
		a.dataDir = defaultDataDir(roots)
	}

	lock, err := store.AcquireInstanceLock(a.dataDir)
	if err != nil {
		return nil, err
	}
	a.lock = lock

	ok := false
	defer func() {
		if !ok {
			a.close(ctx)
		}
	}()

	quantize := cfg.Vector.Quantization == config.QuantizationInt8
	a.chunks, err = store.OpenChunkStore(a.chunksPath(), quantize)
	if err != nil {
		// A corrupt chunk store cannot seed a rebuild: move the directory
		// aside and reindex from the file system.
		slog.Warn("chunkstore_corrupt_moving_aside", slog.String("error", err.Error()))
		aside := a.dataDir + ".corrupt." + time.Now().UTC().Format("20060102150405")
		if mvErr := os.Rename(a.dataDir, aside); mvErr != nil {
			return nil, err
		}
		if a.chunks, err = store.OpenChunkStore(a.chunksPath(), quantize); err != nil {
			return nil, err
		}
		a.fullReindex = true
	}

	a.fullReindexIfManifestChanged(ctx)

	a.embedder, err = embed.NewFromConfig(ctx, cfg.Embedding)
	if err != nil {
		return nil, err
	}

	if a.fullReindex {
		if err := store.RemoveLexicalIndex(a.lexicalPath()); err != nil {
			return nil, err
		}
		_ = os.Remove(a.vectorPath())
		_ = os.Remove(a.vectorPath() + ".meta")
	}

	a.lexical, err = store.NewBleveLexicalIndex(a.lexicalPath())
	if err != nil {
		// Corrupt lexical state rebuilds from the chunk store.
		slog.Warn("lexical_corrupt_rebuilding", slog.String("error", err.Error()))
		if rmErr := store.RemoveLexicalIndex(a.lexicalPath()); rmErr != nil {
			return nil, rmErr
		}
		if a.lexical, err = store.NewBleveLexicalIndex(a.lexicalPath()); err != nil {
			return nil, err
		}
	}

	a.vector, err = store.NewHNSWVectorIndex(store.VectorConfig{
		Dimensions:     cfg.Embedding.Dimension,
		M:              cfg.Vector.M,
		EfConstruction: cfg.Vector.EfConstruction,
		EfSearch:       cfg.Vector.EfSearch,
	})
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(a.vectorPath()); statErr == nil && !a.fullReindex {
		if loadErr := a.vector.Load(a.vectorPath()); loadErr != nil {
			// Corrupt vector state also rebuilds from the chunk store.
			slog.Warn("vector_corrupt_rebuilding", slog.String("error", loadErr.Error()))
		}
	}

	a.symbols = store.NewSymbolMap()
	a.chunker = chunk.NewCodeChunker()
	a.scanner, err = scanner.New()
	if err != nil {
		return nil, err
	}

	a.coord = index.NewCoordinator(index.Config{
		Chunker:   a.chunker,
		Embedder:  a.embedder,
		Lexical:   a.lexical,
		Vector:    a.vector,
		Symbols:   a.symbols,
		Chunks:    a.chunks,
		Metrics:   a.metrics,
		BatchSize: cfg.Embedding.BatchSize,
	})
	for _, root := range roots {
		a.coord.RegisterRepo(repoID(root), root)
	}

	a.engine, err = search.NewEngine(a.lexical, a.vector, a.symbols, a.chunks, a.embedder, a.metrics, search.Config{
		RRFK:        cfg.Search.RRFK,
		WeightLex:   cfg.Search.WeightLex,
		WeightVec:   cfg.Search.WeightVec,
		TopKDefault: cfg.Search.TopKDefault,
		Deadline:    cfg.QueryDeadline(),
		KnownRepo: func(id string) bool {
			_, known := a.coord.RepoRoot(id)
			return known
		},
	})
	if err != nil {
		return nil, err
	}

	a.runner = index.NewRunner(a.coord, cfg.Watch.QueueSize)

	ok = true
	return a, nil
}

func (a *app) fullReindexIfManifestChanged(ctx context.Context) {
	reindex, err := index.CheckManifest(ctx, a.chunks, a.cfg.Embedding.Dimension, a.cfg.Hash())
	if err != nil {
		slog.Warn("manifest_check_failed", slog.String("error", err.Error()))
		return
	}
	if reindex {
		a.fullReindex = true
	}
}

// reconcile restores three-way consistency and re-enqueues files whose
// vectors could not be restored.
func (a *app) reconcile(ctx context.Context, events chan<- watcher.FileEvent) error {
	res, err := a.coord.Reconcile(ctx)
	if err != nil {
		return err
	}
	for _, ref := range res.ReindexFiles {
		events <- watcher.FileEvent{RepoID: ref.RepoID, Path: ref.Path, Kind: watcher.Modified, Timestamp: time.Now()}
	}
	return nil
}

// save persists the vector index (bleve and SQLite persist on write).
func (a *app) save() error {
	if a.vector == nil {
		return nil
	}
	return a.vector.Save(a.vectorPath())
}

// close tears the pipeline down in dependency order.
func (a *app) close(ctx context.Context) {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if a.chunker != nil {
		a.chunker.Close()
	}
	if a.embedder != nil {
		_ = a.embedder.Close()
	}
	if a.lexical != nil {
		_ = a.lexical.Close()
	}
	if a.vector != nil {
		_ = a.vector.Close()
	}
	if a.chunks != nil {
		_ = a.chunks.Close()
	}
	if a.lock != nil {
		_ = a.lock.Release()
	}
}

// scanAll walks every registered repo and feeds Added events straight to
// the coordinator. Used by the one-shot index command.
func (a *app) scanAll(ctx context.Context) (int, error) {
	files := 0
	for _, id := range a.coord.Repos() {
		root, _ := a.coord.RepoRoot(id)
		results, err := a.scanner.Scan(ctx, scanner.Options{
			Root:          root,
			ExtraPatterns: a.cfg.IgnorePatterns,
			MaxFileBytes:  a.cfg.MaxFileBytes,
		})
		if err != nil {
			return files, err
		}
		for res := range results {
			if res.Err != nil {
				continue
			}
			ev := watcher.FileEvent{RepoID: id, Path: res.File.Path, Kind: watcher.Added, Timestamp: time.Now()}
			if err := a.coord.HandleEvent(ctx, ev); err != nil {
				slog.Warn("index_file_failed",
					slog.String("path", res.File.Path),
					slog.String("error", err.Error()))
				continue
			}
			files++
		}
	}
	return files, nil
}

