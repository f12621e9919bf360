// Package telemetry collects counters for the indexing pipeline and the
// query path. Everything is in-process; export formats are out of scope.
package telemetry

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics aggregates pipeline and query counters.
type Metrics struct {
	parseErrors      atomic.Int64
	embedBatches     atomic.Int64
	embedFailures    atomic.Int64
	chunksIndexed    atomic.Int64
	chunksDeleted    atomic.Int64
	queries          atomic.Int64
	zeroResultHits   atomic.Int64
	degradedQueries  atomic.Int64

	mu           sync.Mutex
	laneLatency  map[string]time.Duration
	laneQueries  map[string]int64
	quarantined  map[string]struct{}
}

// New creates an empty metrics collector.
func New() *Metrics {
	return &Metrics{
		laneLatency: make(map[string]time.Duration),
		laneQueries: make(map[string]int64),
		quarantined: make(map[string]struct{}),
	}
}

// RecordParseError counts a file whose parse tree had errors.
func (m *Metrics) RecordParseError() { m.parseErrors.Add(1) }

// RecordEmbedBatch counts one embedder call.
func (m *Metrics) RecordEmbedBatch() { m.embedBatches.Add(1) }

// RecordEmbedFailure counts an exhausted embedding batch.
func (m *Metrics) RecordEmbedFailure() { m.embedFailures.Add(1) }

// RecordIndexed counts committed chunks.
func (m *Metrics) RecordIndexed(n int) { m.chunksIndexed.Add(int64(n)) }

// RecordDeleted counts removed chunks.
func (m *Metrics) RecordDeleted(n int) { m.chunksDeleted.Add(int64(n)) }

// RecordQuery counts one search with its result size and degradation flag.
func (m *Metrics) RecordQuery(results int, degraded bool) {
	m.queries.Add(1)
	if results == 0 {
		m.zeroResultHits.Add(1)
	}
	if degraded {
		m.degradedQueries.Add(1)
	}
}

// RecordLane accumulates per-lane latency.
func (m *Metrics) RecordLane(lane string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.laneLatency[lane] += d
	m.laneQueries[lane]++
}

// Quarantine marks chunk ids excluded after embedding failures.
func (m *Metrics) Quarantine(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.quarantined[id] = struct{}{}
	}
}

// Unquarantine clears ids (their file was re-enqueued).
func (m *Metrics) Unquarantine(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.quarantined, id)
	}
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	ParseErrors     int64
	EmbedBatches    int64
	EmbedFailures   int64
	ChunksIndexed   int64
	ChunksDeleted   int64
	Queries         int64
	ZeroResultHits  int64
	DegradedQueries int64
	QuarantineSize  int
	LaneAvgLatency  map[string]time.Duration
}

// Snapshot captures current values.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	lanes := make(map[string]time.Duration, len(m.laneLatency))
	for lane, total := range m.laneLatency {
		if n := m.laneQueries[lane]; n > 0 {
			lanes[lane] = total / time.Duration(n)
		}
	}

	return Snapshot{
		ParseErrors:     m.parseErrors.Load(),
		EmbedBatches:    m.embedBatches.Load(),
		EmbedFailures:   m.embedFailures.Load(),
		ChunksIndexed:   m.chunksIndexed.Load(),
		ChunksDeleted:   m.chunksDeleted.Load(),
		Queries:         m.queries.Load(),
		ZeroResultHits:  m.zeroResultHits.Load(),
		DegradedQueries: m.degradedQueries.Load(),
		QuarantineSize:  len(m.quarantined),
		LaneAvgLatency:  lanes,
	}
}
