// Package watcher turns file-system change notifications into an ordered,
// deduplicated stream of FileEvents. Events for the same path inside the
// debounce window coalesce; the output queue is bounded, and emission blocks
// while it is full, so no event is dropped. Events already queued are never
// replaced.
package watcher

import "time"

// Kind classifies a file event.
type Kind int

const (
	// Added indicates a file newly visible to the index.
	Added Kind = iota
	// Modified indicates content changes to an indexed file.
	Modified
	// Removed indicates the file is gone.
	Removed
)

// String returns a human-readable kind.
func (k Kind) String() string {
	switch k {
	case Added:
		return "ADDED"
	case Modified:
		return "MODIFIED"
	case Removed:
		return "REMOVED"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one unit of indexing work.
type FileEvent struct {
	RepoID    string
	Path      string // repo-relative, slash-separated
	Kind      Kind
	Timestamp time.Time
}

// Options configures the watcher.
type Options struct {
	// DebounceWindow is the same-path coalescing window. Default: 250ms.
	DebounceWindow time.Duration

	// QueueSize bounds the event stream, which all attached repositories
	// share. Default: 10000.
	QueueSize int

	// ExtraPatterns are ignore patterns composed with each repo's .gitignore.
	ExtraPatterns []string

	// MaxFileBytes is the per-file size cutoff.
	MaxFileBytes int64
}

// WithDefaults fills zero values.
func (o Options) WithDefaults() Options {
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = 250 * time.Millisecond
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 10000
	}
	return o
}
