package index

import (
	"context"
	"log/slog"
	"time"
)

// ReconcileResult summarizes a startup reconciliation pass.
type ReconcileResult struct {
	StoreChunks    int
	OrphansDeleted int // index entries with no chunk-store record
	Restored       int // store records re-inserted into an index
	ReindexFiles   []FileRef // files needing a fresh Modified event
	Duration       time.Duration
}

// FileRef names one file for re-enqueueing.
type FileRef struct {
	RepoID string
	Path   string
}

// Reconcile restores the three-way consistency invariant after a restart.
// The chunk store is authoritative: entries in the lexical or vector index
// without a store record are deleted; store records missing from an index
// are re-inserted (the persisted embedding supplies the vector). A store
// record with no persisted embedding cannot be restored locally, so its file
// is reported for re-enqueueing.
func (c *Coordinator) Reconcile(ctx context.Context) (*ReconcileResult, error) {
	start := time.Now()
	res := &ReconcileResult{}

	storeIDs, err := c.cfg.Chunks.AllIDs(ctx)
	if err != nil {
		return nil, err
	}
	res.StoreChunks = len(storeIDs)
	inStore := make(map[string]bool, len(storeIDs))
	for _, id := range storeIDs {
		inStore[id] = true
	}

	// Orphans: present in an index, absent from the store.
	lexIDs, err := c.cfg.Lexical.AllIDs()
	if err != nil {
		return nil, err
	}
	inLexical := make(map[string]bool, len(lexIDs))
	for _, id := range lexIDs {
		inLexical[id] = true
		if !inStore[id] {
			if err := c.cfg.Lexical.Delete(ctx, id); err != nil {
				return nil, err
			}
			res.OrphansDeleted++
		}
	}
	for _, id := range c.cfg.Vector.AllIDs() {
		if !inStore[id] {
			if err := c.cfg.Vector.Delete(ctx, id); err != nil {
				return nil, err
			}
			res.OrphansDeleted++
		}
	}

	// Missing: in the store, absent from an index. The symbol map is
	// memory-only, so it is rebuilt wholesale here.
	needReindex := make(map[FileRef]bool)
	chunks, err := c.cfg.Chunks.GetChunks(ctx, storeIDs)
	if err != nil {
		return nil, err
	}
	for _, ch := range chunks {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		c.cfg.Symbols.Add(ch.RepoID, ch.Symbol, ch.ID)

		if !inLexical[ch.ID] {
			if err := c.cfg.Lexical.Upsert(ctx, ch); err != nil {
				return nil, err
			}
			res.Restored++
		}
		if !c.cfg.Vector.Contains(ch.ID) {
			if ch.Embedding == nil {
				needReindex[FileRef{ch.RepoID, ch.FilePath}] = true
				continue
			}
			if err := c.cfg.Vector.Upsert(ctx, ch.ID, ch.RepoID, ch.Embedding); err != nil {
				return nil, err
			}
			res.Restored++
		}
	}

	if err := c.cfg.Lexical.Flush(); err != nil {
		return nil, err
	}

	for ref := range needReindex {
		res.ReindexFiles = append(res.ReindexFiles, ref)
	}
	res.Duration = time.Since(start)

	slog.Info("reconcile_done",
		slog.Int("chunks", res.StoreChunks),
		slog.Int("orphans_deleted", res.OrphansDeleted),
		slog.Int("restored", res.Restored),
		slog.Int("files_to_reindex", len(res.ReindexFiles)),
		slog.Duration("took", res.Duration))

	return res, nil
}
