package index

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/loupe-dev/loupe/internal/store"
)

// Manifest describes the persisted state's compatibility surface.
type Manifest struct {
	SchemaVersion int
	Dimension     int
	ConfigHash    string
}

// LoadManifest reads the manifest from the chunk store's state table.
// A zero-valued manifest means a fresh store.
func LoadManifest(ctx context.Context, chunks *store.SQLiteChunkStore) (*Manifest, error) {
	var m Manifest

	if v, err := chunks.GetState(ctx, store.StateKeySchemaVersion); err != nil {
		return nil, err
	} else if v != "" {
		m.SchemaVersion, _ = strconv.Atoi(v)
	}
	if v, err := chunks.GetState(ctx, store.StateKeyDimension); err != nil {
		return nil, err
	} else if v != "" {
		m.Dimension, _ = strconv.Atoi(v)
	}
	if v, err := chunks.GetState(ctx, store.StateKeyConfigHash); err != nil {
		return nil, err
	} else {
		m.ConfigHash = v
	}

	return &m, nil
}

// SaveManifest writes the current compatibility surface.
func SaveManifest(ctx context.Context, chunks *store.SQLiteChunkStore, m Manifest) error {
	if err := chunks.SetState(ctx, store.StateKeySchemaVersion, strconv.Itoa(m.SchemaVersion)); err != nil {
		return err
	}
	if err := chunks.SetState(ctx, store.StateKeyDimension, strconv.Itoa(m.Dimension)); err != nil {
		return err
	}
	return chunks.SetState(ctx, store.StateKeyConfigHash, m.ConfigHash)
}

// CheckManifest compares the persisted manifest against the running
// configuration. On mismatch the chunk store is cleared and the caller must
// discard the lexical and vector state and reindex from the file system.
// Returns true when a full reindex is required.
func CheckManifest(ctx context.Context, chunks *store.SQLiteChunkStore, dimension int, configHash string) (bool, error) {
	m, err := LoadManifest(ctx, chunks)
	if err != nil {
		return false, err
	}

	fresh := m.SchemaVersion == 0 && m.Dimension == 0 && m.ConfigHash == ""
	current := Manifest{SchemaVersion: store.SchemaVersion, Dimension: dimension, ConfigHash: configHash}

	if !fresh && (m.SchemaVersion != current.SchemaVersion ||
		m.Dimension != current.Dimension ||
		m.ConfigHash != current.ConfigHash) {
		slog.Warn("manifest_mismatch_reindex",
			slog.Int("persisted_schema", m.SchemaVersion),
			slog.Int("persisted_dimension", m.Dimension),
			slog.String("persisted_config", m.ConfigHash),
			slog.String("current_config", current.ConfigHash))
		if err := chunks.Clear(ctx); err != nil {
			return false, err
		}
		if err := SaveManifest(ctx, chunks, current); err != nil {
			return false, err
		}
		return true, nil
	}

	if fresh {
		if err := SaveManifest(ctx, chunks, current); err != nil {
			return false, err
		}
	}
	return fresh, nil
}
