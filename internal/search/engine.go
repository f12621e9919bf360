package search

import (
	"context"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/loupe-dev/loupe/internal/embed"
	loupeerr "github.com/loupe-dev/loupe/internal/errors"
	"github.com/loupe-dev/loupe/internal/store"
	"github.com/loupe-dev/loupe/internal/telemetry"
)

// identifierRe gates the symbol lane: only a single bare identifier
// consults the symbol map.
var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Engine fans a query across the symbol, lexical, and vector lanes and
// fuses the rankings. It holds read handles only; the coordinator is the
// writer.
type Engine struct {
	lexical  store.LexicalIndex
	vector   store.VectorIndex
	symbols  *store.SymbolMap
	chunks   *store.SQLiteChunkStore
	embedder embed.Embedder
	metrics  *telemetry.Metrics
	cfg      Config
}

// NewEngine creates a search engine.
func NewEngine(
	lexical store.LexicalIndex,
	vector store.VectorIndex,
	symbols *store.SymbolMap,
	chunks *store.SQLiteChunkStore,
	embedder embed.Embedder,
	metrics *telemetry.Metrics,
	cfg Config,
) (*Engine, error) {
	if lexical == nil || vector == nil || symbols == nil || chunks == nil || embedder == nil {
		return nil, loupeerr.Internal("search engine requires all stores and the embedder", nil)
	}
	if metrics == nil {
		metrics = telemetry.New()
	}
	return &Engine{
		lexical:  lexical,
		vector:   vector,
		symbols:  symbols,
		chunks:   chunks,
		embedder: embedder,
		metrics:  metrics,
		cfg:      cfg.WithDefaults(),
	}, nil
}

// lane holds one lane's outcome. The result is only read after finished is
// observed under the mutex, so a lane racing the deadline cannot tear.
type lane[T any] struct {
	mu       sync.Mutex
	finished bool
	failed   bool
	result   T
}

func (l *lane[T]) succeed(result T) {
	l.mu.Lock()
	l.result = result
	l.finished = true
	l.mu.Unlock()
}

func (l *lane[T]) fail() {
	l.mu.Lock()
	l.finished = true
	l.failed = true
	l.mu.Unlock()
}

// take returns the result only when the lane finished successfully.
func (l *lane[T]) take() (result T, ok, failed bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.finished {
		return result, false, false
	}
	if l.failed {
		return result, false, true
	}
	return l.result, true, false
}

// Search runs the three lanes under the configured deadline and fuses
// whatever finished. Lanes that miss the deadline contribute nothing; the
// response is Degraded when any lane was dropped but at least one finished.
// Caller cancellation is silent and returns no partial answer.
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	query := req.Query
	if query == "" {
		return nil, loupeerr.InvalidArgument("query must not be empty")
	}
	topK := req.TopK
	if topK == 0 {
		topK = e.cfg.TopKDefault
	}
	if topK < MinTopK || topK > MaxTopK {
		return nil, loupeerr.InvalidArgument("top_k must be in 1..100")
	}
	if req.RepoFilter != "" && e.cfg.KnownRepo != nil && !e.cfg.KnownRepo(req.RepoFilter) {
		return nil, loupeerr.RepoNotFound(req.RepoFilter)
	}

	laneK := 2 * topK
	if laneK < 20 {
		laneK = 20
	}

	lctx, cancel := context.WithTimeout(ctx, e.cfg.Deadline)
	defer cancel()

	var (
		symbolLane lane[[]string]
		lexLane    lane[[]*store.LexicalResult]
		vecLane    lane[[]*store.VectorResult]
		wg         sync.WaitGroup
	)

	if identifierRe.MatchString(query) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			t := time.Now()
			ids := e.symbols.Lookup(req.RepoFilter, query)
			e.metrics.RecordLane(LaneSymbol, time.Since(t))
			symbolLane.succeed(ids)
		}()
	} else {
		// Multi-word queries never touch the symbol lane.
		symbolLane.succeed(nil)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.Now()
		res, err := e.lexical.Query(lctx, query, laneK, req.RepoFilter)
		e.metrics.RecordLane(LaneLexical, time.Since(t))
		if err != nil {
			lexLane.fail()
			return
		}
		lexLane.succeed(res)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.Now()
		defer func() { e.metrics.RecordLane(LaneVector, time.Since(t)) }()

		vecs, err := e.embedder.EmbedBatch(lctx, []string{query})
		if err != nil {
			vecLane.fail()
			return
		}
		res, err := e.vector.Query(lctx, vecs[0], laneK, req.RepoFilter)
		if err != nil {
			vecLane.fail()
			return
		}
		vecLane.succeed(res)
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-lctx.Done():
		// Server deadline: proceed with the lanes that finished.
	}
	if ctx.Err() != nil {
		// Caller cancellation is silent: no partial answer, no error kind.
		return nil, ctx.Err()
	}

	symbolIDs, symOK, _ := symbolLane.take()
	lexResults, lexOK, _ := lexLane.take()
	vecResults, vecOK, _ := vecLane.take()

	var degraded []string
	if !symOK {
		degraded = append(degraded, LaneSymbol)
	}
	if !lexOK {
		degraded = append(degraded, LaneLexical)
	}
	if !vecOK {
		degraded = append(degraded, LaneVector)
	}
	if !symOK && !lexOK && !vecOK {
		return nil, loupeerr.Internal("all retrieval lanes failed", nil)
	}

	fused := FuseRRF(e.cfg.RRFK, Weights{Lex: e.cfg.WeightLex, Vec: e.cfg.WeightVec},
		symbolIDs, lexResults, vecResults)

	results, err := e.enrich(ctx, fused, topK)
	if err != nil {
		return nil, err
	}

	resp := &Response{
		Results:       results,
		Degraded:      len(degraded) > 0,
		DegradedLanes: degraded,
		Took:          time.Since(start),
	}
	e.metrics.RecordQuery(len(results), resp.Degraded)
	return resp, nil
}

// enrich loads chunk metadata for the fused candidates, applies the final
// (repo, path, start_line) tie-break, and cuts to topK.
func (e *Engine) enrich(ctx context.Context, fused []*Fused, topK int) ([]*Result, error) {
	// Over-fetch so metadata tie-breaking sees every candidate that could
	// make the cut.
	limit := topK * 2
	if limit > len(fused) {
		limit = len(fused)
	}
	candidates := fused[:limit]

	ids := make([]string, len(candidates))
	byID := make(map[string]*Fused, len(candidates))
	for i, f := range candidates {
		ids[i] = f.ChunkID
		byID[f.ChunkID] = f
	}

	chunks, err := e.chunks.GetChunks(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]*Result, 0, len(chunks))
	for _, c := range chunks {
		f := byID[c.ID]
		r := &Result{Chunk: c, Score: f.Score, SymbolHit: f.SymbolHit}
		if f.LexRank > 0 {
			r.Lexical = &LaneInfo{Rank: f.LexRank, Score: f.LexScore}
		}
		if f.VecRank > 0 {
			r.Vector = &LaneInfo{Rank: f.VecRank, Score: f.VecScore}
		}
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		fa, fb := byID[a.Chunk.ID], byID[b.Chunk.ID]
		if fa.SymbolHit != fb.SymbolHit {
			return fa.SymbolHit
		}
		if fa.Score != fb.Score {
			return fa.Score > fb.Score
		}
		if ra, rb := rankOrMax(fa.LexRank), rankOrMax(fb.LexRank); ra != rb {
			return ra < rb
		}
		if ra, rb := rankOrMax(fa.VecRank), rankOrMax(fb.VecRank); ra != rb {
			return ra < rb
		}
		if a.Chunk.RepoID != b.Chunk.RepoID {
			return a.Chunk.RepoID < b.Chunk.RepoID
		}
		if a.Chunk.FilePath != b.Chunk.FilePath {
			return a.Chunk.FilePath < b.Chunk.FilePath
		}
		return a.Chunk.StartLine < b.Chunk.StartLine
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}
