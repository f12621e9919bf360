package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	loupeerr "github.com/loupe-dev/loupe/internal/errors"
)

// SchemaVersion is bumped whenever the chunk table layout changes; a
// mismatch in the manifest forces a full reindex.
const SchemaVersion = 1

// Manifest state keys.
const (
	StateKeySchemaVersion = "schema_version"
	StateKeyDimension     = "embedding_dimension"
	StateKeyConfigHash    = "config_hash"
)

const schema = `
CREATE TABLE IF NOT EXISTS chunks (
	id          TEXT PRIMARY KEY,
	repo_id     TEXT NOT NULL,
	file_path   TEXT NOT NULL,
	language    TEXT NOT NULL,
	symbol      TEXT NOT NULL DEFAULT '',
	symbol_kind TEXT NOT NULL DEFAULT '',
	start_line  INTEGER NOT NULL,
	end_line    INTEGER NOT NULL,
	start_char  INTEGER NOT NULL,
	end_char    INTEGER NOT NULL,
	content     TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	embedding   BLOB
);
CREATE INDEX IF NOT EXISTS idx_chunks_repo_path ON chunks(repo_id, file_path);
CREATE INDEX IF NOT EXISTS idx_chunks_fingerprint ON chunks(repo_id, file_path, fingerprint);

CREATE TABLE IF NOT EXISTS state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// SQLiteChunkStore is the authoritative catalog of committed chunks. It is
// written last in the commit order, so on restart it is the truth the other
// indexes reconcile against.
type SQLiteChunkStore struct {
	db       *sql.DB
	quantize bool
}

// OpenChunkStore opens (or creates) the store at path. ":memory:" gives an
// in-memory store for tests. quantize selects int8 embedding blobs.
func OpenChunkStore(path string, quantize bool) (*SQLiteChunkStore, error) {
	dsn := path
	memory := path == ":memory:"
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, loupeerr.Internal("create store directory", err)
		}
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, loupeerr.Internal("open chunk store", err)
	}
	if memory {
		// The pool would otherwise hand each connection its own empty
		// in-memory database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, loupeerr.IndexCorrupt("chunkstore", err)
	}

	return &SQLiteChunkStore{db: db, quantize: quantize}, nil
}

// SaveChunks inserts or replaces chunk records in one transaction.
func (s *SQLiteChunkStore) SaveChunks(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return loupeerr.Internal("begin save", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunks
		(id, repo_id, file_path, language, symbol, symbol_kind,
		 start_line, end_line, start_char, end_char, content, fingerprint, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return loupeerr.Internal("prepare save", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		var blob []byte
		if c.Embedding != nil {
			blob = EncodeEmbedding(c.Embedding, s.quantize)
		}
		if _, err := stmt.ExecContext(ctx,
			c.ID, c.RepoID, c.FilePath, c.Language, c.Symbol, c.SymbolKind,
			c.StartLine, c.EndLine, c.StartChar, c.EndChar,
			c.Content, c.Fingerprint, blob); err != nil {
			return loupeerr.Internal(fmt.Sprintf("save chunk %s", c.ID), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return loupeerr.Internal("commit save", err)
	}
	return nil
}

const chunkColumns = `id, repo_id, file_path, language, symbol, symbol_kind,
	start_line, end_line, start_char, end_char, content, fingerprint, embedding`

func scanChunk(row interface{ Scan(...any) error }) (*Chunk, error) {
	var c Chunk
	var blob []byte
	if err := row.Scan(&c.ID, &c.RepoID, &c.FilePath, &c.Language, &c.Symbol, &c.SymbolKind,
		&c.StartLine, &c.EndLine, &c.StartChar, &c.EndChar, &c.Content, &c.Fingerprint, &blob); err != nil {
		return nil, err
	}
	if len(blob) > 0 {
		vec, err := DecodeEmbedding(blob)
		if err != nil {
			return nil, err
		}
		c.Embedding = vec
	}
	return &c, nil
}

// GetChunk returns one chunk, or nil when absent.
func (s *SQLiteChunkStore) GetChunk(ctx context.Context, id string) (*Chunk, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE id = ?`, id)
	c, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, loupeerr.Internal("load chunk", err)
	}
	return c, nil
}

// GetChunks returns the chunks for a batch of ids, omitting missing ones.
func (s *SQLiteChunkStore) GetChunks(ctx context.Context, ids []string) ([]*Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, loupeerr.Internal("load chunks", err)
	}
	defer rows.Close()

	byID := make(map[string]*Chunk, len(ids))
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, loupeerr.Internal("scan chunk", err)
		}
		byID[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, loupeerr.Internal("iterate chunks", err)
	}

	// Preserve request order.
	out := make([]*Chunk, 0, len(byID))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// GetChunksByFile returns all chunks for one (repo, path).
func (s *SQLiteChunkStore) GetChunksByFile(ctx context.Context, repoID, filePath string) ([]*Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE repo_id = ? AND file_path = ? ORDER BY start_line`,
		repoID, filePath)
	if err != nil {
		return nil, loupeerr.Internal("load file chunks", err)
	}
	defer rows.Close()

	var out []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, loupeerr.Internal("scan chunk", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListFilePaths returns the distinct indexed paths for a repo.
func (s *SQLiteChunkStore) ListFilePaths(ctx context.Context, repoID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT file_path FROM chunks WHERE repo_id = ? ORDER BY file_path`, repoID)
	if err != nil {
		return nil, loupeerr.Internal("list file paths", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, loupeerr.Internal("scan file path", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// HasFile reports whether any chunk exists for (repo, path).
func (s *SQLiteChunkStore) HasFile(ctx context.Context, repoID, filePath string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM chunks WHERE repo_id = ? AND file_path = ? LIMIT 1`, repoID, filePath).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, loupeerr.Internal("check file", err)
	}
	return true, nil
}

// DeleteChunks removes chunk records by id.
func (s *SQLiteChunkStore) DeleteChunks(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return loupeerr.Internal("delete chunks", err)
	}
	return nil
}

// AllIDs returns every chunk id. Used by startup reconciliation.
func (s *SQLiteChunkStore) AllIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM chunks`)
	if err != nil {
		return nil, loupeerr.Internal("enumerate chunk ids", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, loupeerr.Internal("scan chunk id", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Stats summarizes the store.
type Stats struct {
	ChunkCount int
	FileCount  int
	RepoCount  int
}

// Stats returns catalog counts.
func (s *SQLiteChunkStore) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(DISTINCT repo_id || x'00' || file_path),
		       COUNT(DISTINCT repo_id)
		FROM chunks`).Scan(&st.ChunkCount, &st.FileCount, &st.RepoCount)
	if err != nil {
		return nil, loupeerr.Internal("store stats", err)
	}
	return &st, nil
}

// GetState reads a manifest key; empty string when absent.
func (s *SQLiteChunkStore) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", loupeerr.Internal("read state", err)
	}
	return value, nil
}

// SetState writes a manifest key.
func (s *SQLiteChunkStore) SetState(ctx context.Context, key, value string) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO state (key, value) VALUES (?, ?)`, key, value); err != nil {
		return loupeerr.Internal("write state", err)
	}
	return nil
}

// Clear removes every chunk and manifest entry (full reindex path).
func (s *SQLiteChunkStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
		return loupeerr.Internal("clear chunks", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM state`); err != nil {
		return loupeerr.Internal("clear state", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteChunkStore) Close() error {
	return s.db.Close()
}
