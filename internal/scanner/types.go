// Package scanner discovers indexable files under a repository root. It
// composes .gitignore rules with hard-coded exclusions, skips binary and
// oversized files, and detects the source language by extension.
package scanner

import (
	"path/filepath"
	"strings"
	"time"
)

// FileInfo describes a discovered file.
type FileInfo struct {
	Path     string    // Repo-relative, slash-separated
	AbsPath  string    // Absolute path
	Size     int64     // Bytes
	ModTime  time.Time // Last modification
	Language string    // Detected language tag ("" if unknown)
}

// ScanResult is streamed from Scan. Exactly one of File and Err is set.
type ScanResult struct {
	File *FileInfo
	Err  error
}

// Options configures a scan.
type Options struct {
	// Root is the absolute repository root.
	Root string

	// ExtraPatterns are gitignore-style patterns composed on top of the
	// repository's .gitignore files.
	ExtraPatterns []string

	// MaxFileBytes skips files larger than this (default 1 MiB).
	MaxFileBytes int64
}

// DefaultMaxFileBytes is the default file size cutoff.
const DefaultMaxFileBytes int64 = 1 << 20

// hardExcluded are directory names never indexed regardless of ignore rules.
var hardExcluded = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	"target":       true,
	"build":        true,
	"dist":         true,
	"out":          true,
	".loupe":       true,
}

// languageByExt maps file extensions to language tags. Only languages with a
// tree-sitter grammar get syntax-aware chunking; everything else listed here
// still gets line-window chunking.
var languageByExt = map[string]string{
	".go":    "go",
	".py":    "python",
	".rs":    "rust",
	".js":    "javascript",
	".jsx":   "javascript",
	".mjs":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".md":    "markdown",
	".txt":   "text",
	".yaml":  "text",
	".yml":   "text",
	".json":  "text",
	".toml":  "text",
	".sh":    "text",
	".sql":   "text",
	".proto": "text",
}

// DetectLanguage returns the language tag for a path, or "" when the
// extension is not supported (the file is then skipped entirely).
func DetectLanguage(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	return languageByExt[ext]
}

// IsSupported reports whether a path has a supported extension.
func IsSupported(path string) bool {
	return DetectLanguage(path) != ""
}

// HardExcluded reports whether a path component is always skipped.
func HardExcluded(name string) bool {
	return hardExcluded[name]
}
