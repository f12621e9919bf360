// Package search runs the three retrieval lanes and fuses their rankings.
package search

import (
	"sort"

	"github.com/loupe-dev/loupe/internal/store"
)

// DefaultRRFK is the standard RRF smoothing constant.
const DefaultRRFK = 60

// Default lane weights.
const (
	DefaultWeightLex = 1.0
	DefaultWeightVec = 0.7
)

// Weights are the lane weights for fusion. The symbol lane's weight is
// infinite: symbol hits form a separate sort tier above everything else
// rather than an arithmetic term, which keeps scores finite on the wire.
type Weights struct {
	Lex float64
	Vec float64
}

// Fused is one document after reciprocal rank fusion.
type Fused struct {
	ChunkID   string
	Score     float64 // RRF sum over the lexical and vector lanes
	SymbolHit bool    // exact symbol-map hit, ranks above any score
	LexRank   int     // 1-based, 0 when absent
	LexScore  float64 // raw BM25 score
	VecRank   int     // 1-based, 0 when absent
	VecScore  float64 // raw cosine similarity
}

// FuseRRF combines the three lanes:
//
//	score(d) = w_L · Σ 1/(k + rank_L(d)) + w_V · Σ 1/(k + rank_V(d))
//
// with symbol-map hits pinned to the top (pseudo-rank 0, infinite weight).
// Ordering: symbol tier first, then score desc, then smaller lexical rank,
// smaller vector rank, and finally chunk id for determinism; the engine
// applies the (repo, path, line) tie-break after it loads chunk metadata.
func FuseRRF(k int, w Weights, symbolIDs []string, lex []*store.LexicalResult, vec []*store.VectorResult) []*Fused {
	if k <= 0 {
		k = DefaultRRFK
	}

	docs := make(map[string]*Fused, len(lex)+len(vec)+len(symbolIDs))
	get := func(id string) *Fused {
		if d, ok := docs[id]; ok {
			return d
		}
		d := &Fused{ChunkID: id}
		docs[id] = d
		return d
	}

	for _, id := range symbolIDs {
		get(id).SymbolHit = true
	}
	for _, r := range lex {
		d := get(r.ChunkID)
		d.LexRank = r.Rank
		d.LexScore = r.Score
		d.Score += w.Lex / float64(k+r.Rank)
	}
	for _, r := range vec {
		d := get(r.ChunkID)
		d.VecRank = r.Rank
		d.VecScore = float64(r.Score)
		d.Score += w.Vec / float64(k+r.Rank)
	}

	out := make([]*Fused, 0, len(docs))
	for _, d := range docs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		return lessFused(out[i], out[j])
	})
	return out
}

func lessFused(a, b *Fused) bool {
	if a.SymbolHit != b.SymbolHit {
		return a.SymbolHit
	}
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if ra, rb := rankOrMax(a.LexRank), rankOrMax(b.LexRank); ra != rb {
		return ra < rb
	}
	if ra, rb := rankOrMax(a.VecRank), rankOrMax(b.VecRank); ra != rb {
		return ra < rb
	}
	return a.ChunkID < b.ChunkID
}

// rankOrMax treats "absent from lane" as ranking below any present rank.
func rankOrMax(rank int) int {
	if rank == 0 {
		return int(^uint(0) >> 1)
	}
	return rank
}
