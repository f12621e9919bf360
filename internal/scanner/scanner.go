package scanner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	loupeerr "github.com/loupe-dev/loupe/internal/errors"
	"github.com/loupe-dev/loupe/internal/gitignore"
)

// binarySniffLen is how many leading bytes are scanned for NUL to classify a
// file as binary.
const binarySniffLen = 8 * 1024

// matcherCacheSize bounds the per-directory gitignore matcher cache.
const matcherCacheSize = 512

// Scanner walks repository roots and streams indexable files.
type Scanner struct {
	matchers *lru.Cache[string, *gitignore.Matcher]
}

// New creates a Scanner.
func New() (*Scanner, error) {
	cache, err := lru.New[string, *gitignore.Matcher](matcherCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create matcher cache: %w", err)
	}
	return &Scanner{matchers: cache}, nil
}

// BuildMatcher composes the root .gitignore (if present) with the extra
// patterns. An unparseable pattern is a config error: Attach must fail
// rather than silently index ignored trees.
func (s *Scanner) BuildMatcher(root string, extra []string) (*gitignore.Matcher, error) {
	if cached, ok := s.matchers.Get(root); ok {
		return cached, nil
	}

	m := gitignore.New()
	giPath := filepath.Join(root, ".gitignore")
	if _, err := os.Stat(giPath); err == nil {
		if err := m.AddFile(giPath, ""); err != nil {
			return nil, loupeerr.ConfigError("parse .gitignore", err)
		}
	}
	for _, p := range extra {
		if err := m.Add(p); err != nil {
			return nil, loupeerr.ConfigError("parse ignore pattern", err)
		}
	}

	s.matchers.Add(root, m)
	return m, nil
}

// InvalidateMatcher drops the cached matcher for root (after a .gitignore
// edit).
func (s *Scanner) InvalidateMatcher(root string) {
	s.matchers.Remove(root)
}

// Scan walks the tree under opts.Root and streams supported files. The
// returned channel closes when the walk finishes or ctx is cancelled.
// Matcher construction errors fail fast; per-file read errors are logged and
// skipped.
func (s *Scanner) Scan(ctx context.Context, opts Options) (<-chan ScanResult, error) {
	info, err := os.Stat(opts.Root)
	if err != nil {
		return nil, loupeerr.RepoNotFound(opts.Root)
	}
	if !info.IsDir() {
		return nil, loupeerr.ConfigError(fmt.Sprintf("root is not a directory: %s", opts.Root), nil)
	}

	matcher, err := s.BuildMatcher(opts.Root, opts.ExtraPatterns)
	if err != nil {
		return nil, err
	}

	maxBytes := opts.MaxFileBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFileBytes
	}

	results := make(chan ScanResult, 64)
	go func() {
		defer close(results)
		s.walk(ctx, opts.Root, matcher, maxBytes, results)
	}()
	return results, nil
}

func (s *Scanner) walk(ctx context.Context, root string, matcher *gitignore.Matcher, maxBytes int64, out chan<- ScanResult) {
	_ = filepath.WalkDir(root, func(absPath string, d fs.DirEntry, walkErr error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if walkErr != nil {
			// Unreadable paths emit no event.
			slog.Warn("scan_path_unreadable", slog.String("path", absPath), slog.String("error", walkErr.Error()))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, absPath)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if hardExcluded[d.Name()] || matcher.Match(rel, true) {
				return fs.SkipDir
			}
			// Nested .gitignore files scope their rules to their directory.
			nested := filepath.Join(absPath, ".gitignore")
			if _, err := os.Stat(nested); err == nil {
				if err := matcher.AddFile(nested, rel); err != nil {
					slog.Warn("nested_gitignore_invalid", slog.String("path", nested), slog.String("error", err.Error()))
				}
			}
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if !IsSupported(rel) || matcher.Match(rel, false) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			slog.Warn("scan_stat_failed", slog.String("path", rel), slog.String("error", err.Error()))
			return nil
		}
		if info.Size() > maxBytes {
			slog.Debug("scan_skip_oversized", slog.String("path", rel), slog.Int64("size", info.Size()))
			return nil
		}

		binary, err := isBinaryFile(absPath)
		if err != nil {
			slog.Warn("scan_read_failed", slog.String("path", rel), slog.String("error", err.Error()))
			return nil
		}
		if binary {
			return nil
		}

		select {
		case out <- ScanResult{File: &FileInfo{
			Path:     rel,
			AbsPath:  absPath,
			Size:     info.Size(),
			ModTime:  info.ModTime(),
			Language: DetectLanguage(rel),
		}}:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})
}

// ShouldIndex applies the same filter chain as Scan to a single path. Used by
// the watcher for files appearing after the initial walk.
func (s *Scanner) ShouldIndex(root, rel string, extra []string, maxBytes int64) bool {
	if !IsSupported(rel) {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if hardExcluded[part] {
			return false
		}
	}
	matcher, err := s.BuildMatcher(root, extra)
	if err != nil {
		return false
	}
	if matcher.Match(filepath.ToSlash(rel), false) {
		return false
	}

	absPath := filepath.Join(root, rel)
	info, err := os.Lstat(absPath)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFileBytes
	}
	if info.Size() > maxBytes {
		return false
	}
	binary, err := isBinaryFile(absPath)
	return err == nil && !binary
}

// isBinaryFile reports whether the first 8 KiB contain a NUL byte.
func isBinaryFile(absPath string) (bool, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return false, err
	}
	defer f.Close()

	buf := make([]byte, binarySniffLen)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return false, err
	}
	return bytes.IndexByte(buf[:n], 0) >= 0, nil
}
