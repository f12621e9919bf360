package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	loupeerr "github.com/loupe-dev/loupe/internal/errors"
)

// VectorConfig configures the HNSW graph.
type VectorConfig struct {
	Dimensions     int
	M              int // default 16
	EfConstruction int // default 200
	EfSearch       int // default 64
}

// DefaultVectorConfig returns the default graph parameters.
func DefaultVectorConfig(dimensions int) VectorConfig {
	return VectorConfig{
		Dimensions:     dimensions,
		M:              16,
		EfConstruction: 200,
		EfSearch:       64,
	}
}

// HNSWVectorIndex is a cosine ANN index over chunk embeddings, built on
// coder/hnsw. Deletes are lazy: the node stays in the graph but loses its id
// mapping, so it can never be returned. Save writes the graph as is, orphaned
// nodes included; the sidecar holds only live ids, so they stay unreachable
// after Load.
type HNSWVectorIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorConfig

	idMap   map[string]uint64 // chunk id -> graph key
	keyMap  map[uint64]string // graph key -> chunk id
	repoMap map[string]string // chunk id -> repo id
	nextKey uint64

	closed bool
}

// vectorMetadata is the gob-persisted sidecar next to the graph file.
type vectorMetadata struct {
	IDMap   map[string]uint64
	RepoMap map[string]string
	NextKey uint64
	Config  VectorConfig
}

// NewHNSWVectorIndex creates an empty index.
func NewHNSWVectorIndex(cfg VectorConfig) (*HNSWVectorIndex, error) {
	if cfg.Dimensions <= 0 {
		return nil, loupeerr.ConfigError("vector dimensions must be positive", nil)
	}
	if cfg.M <= 0 {
		cfg.M = 16
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = 64
	}
	if cfg.EfConstruction <= 0 {
		cfg.EfConstruction = 200
	}

	return &HNSWVectorIndex{
		graph:   newGraph(cfg),
		config:  cfg,
		idMap:   make(map[string]uint64),
		keyMap:  make(map[uint64]string),
		repoMap: make(map[string]string),
	}, nil
}

func newGraph(cfg VectorConfig) *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = cfg.M
	g.EfSearch = cfg.EfSearch
	g.Ml = 1.0 / math.Log(float64(cfg.M))
	return g
}

// Upsert inserts or replaces one vector. The vector is L2-normalized before
// insertion; replacement is atomic from a reader's perspective because the
// id mapping switches to the new node in one critical section.
func (s *HNSWVectorIndex) Upsert(ctx context.Context, chunkID, repoID string, vector []float32) error {
	if len(vector) != s.config.Dimensions {
		return loupeerr.Internal(fmt.Sprintf("vector dimension mismatch: expected %d, got %d", s.config.Dimensions, len(vector)), nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return loupeerr.Internal("vector index is closed", nil)
	}

	// Lazy-delete any existing node for this id.
	if oldKey, exists := s.idMap[chunkID]; exists {
		delete(s.keyMap, oldKey)
	}

	key := s.nextKey
	s.nextKey++

	vec := make([]float32, len(vector))
	copy(vec, vector)
	normalizeInPlace(vec)

	s.graph.Add(hnsw.MakeNode(key, vec))
	s.idMap[chunkID] = key
	s.keyMap[key] = chunkID
	s.repoMap[chunkID] = repoID

	return nil
}

// Delete lazily removes a vector.
func (s *HNSWVectorIndex) Delete(ctx context.Context, chunkID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return loupeerr.Internal("vector index is closed", nil)
	}

	if key, exists := s.idMap[chunkID]; exists {
		delete(s.keyMap, key)
		delete(s.idMap, chunkID)
		delete(s.repoMap, chunkID)
	}
	return nil
}

// Query returns the topK nearest neighbors by cosine similarity, optionally
// restricted to one repo. Over-fetches to compensate for orphans and
// filtered repos.
func (s *HNSWVectorIndex) Query(ctx context.Context, vector []float32, topK int, repoFilter string) ([]*VectorResult, error) {
	if len(vector) != s.config.Dimensions {
		return nil, loupeerr.Internal(fmt.Sprintf("query dimension mismatch: expected %d, got %d", s.config.Dimensions, len(vector)), nil)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, loupeerr.Internal("vector index is closed", nil)
	}
	if s.graph.Len() == 0 {
		return []*VectorResult{}, nil
	}

	q := make([]float32, len(vector))
	copy(q, vector)
	normalizeInPlace(q)

	fetch := topK * 2
	if orphans := s.graph.Len() - len(s.idMap); orphans > 0 {
		fetch += orphans
	}

	nodes := s.graph.Search(q, fetch)

	out := make([]*VectorResult, 0, topK)
	for _, node := range nodes {
		id, live := s.keyMap[node.Key]
		if !live {
			continue
		}
		if repoFilter != "" && s.repoMap[id] != repoFilter {
			continue
		}
		dist := s.graph.Distance(q, node.Value)
		out = append(out, &VectorResult{
			ChunkID: id,
			Score:   1.0 - dist,
			Rank:    len(out) + 1,
		})
		if len(out) == topK {
			break
		}
	}
	return out, nil
}

// AllIDs returns the live chunk ids.
func (s *HNSWVectorIndex) AllIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.idMap))
	for id := range s.idMap {
		ids = append(ids, id)
	}
	return ids
}

// Contains reports whether chunkID has a live vector.
func (s *HNSWVectorIndex) Contains(chunkID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.idMap[chunkID]
	return ok
}

// Count returns the number of live vectors.
func (s *HNSWVectorIndex) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idMap)
}

// Save persists the graph and the id sidecar atomically (temp + rename).
func (s *HNSWVectorIndex) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return loupeerr.Internal("vector index is closed", nil)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return loupeerr.Internal("create vector directory", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return loupeerr.Internal("create vector file", err)
	}
	if err := s.graph.Export(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return loupeerr.Internal("export vector graph", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return loupeerr.Internal("close vector file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return loupeerr.Internal("rename vector file", err)
	}

	return s.saveMetadata(path + ".meta")
}

func (s *HNSWVectorIndex) saveMetadata(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return loupeerr.Internal("create vector metadata", err)
	}

	meta := vectorMetadata{
		IDMap:   s.idMap,
		RepoMap: s.repoMap,
		NextKey: s.nextKey,
		Config:  s.config,
	}
	if err := gob.NewEncoder(f).Encode(meta); err != nil {
		f.Close()
		os.Remove(tmp)
		return loupeerr.Internal("encode vector metadata", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return loupeerr.Internal("close vector metadata", err)
	}
	return os.Rename(tmp, path)
}

// Load restores the graph and sidecar. Decode failures surface as
// ERR_INDEX_CORRUPT so startup can rebuild from the chunk store.
func (s *HNSWVectorIndex) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	metaFile, err := os.Open(path + ".meta")
	if err != nil {
		return loupeerr.IndexCorrupt("vector", err)
	}
	defer metaFile.Close()

	var meta vectorMetadata
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return loupeerr.IndexCorrupt("vector", err)
	}
	if meta.Config.Dimensions != s.config.Dimensions {
		return loupeerr.IndexCorrupt("vector",
			fmt.Errorf("dimension mismatch: persisted %d, configured %d", meta.Config.Dimensions, s.config.Dimensions))
	}

	f, err := os.Open(path)
	if err != nil {
		return loupeerr.IndexCorrupt("vector", err)
	}
	defer f.Close()

	graph := newGraph(s.config)
	if err := graph.Import(bufio.NewReader(f)); err != nil {
		return loupeerr.IndexCorrupt("vector", err)
	}

	s.graph = graph
	s.idMap = meta.IDMap
	s.repoMap = meta.RepoMap
	if s.repoMap == nil {
		s.repoMap = make(map[string]string)
	}
	s.nextKey = meta.NextKey
	s.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range meta.IDMap {
		s.keyMap[key] = id
	}
	return nil
}

// Close releases the graph.
func (s *HNSWVectorIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	return nil
}

var _ VectorIndex = (*HNSWVectorIndex)(nil)

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
