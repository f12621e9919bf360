package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/loupe-dev/loupe/internal/embed"
	loupeerr "github.com/loupe-dev/loupe/internal/errors"
	"github.com/loupe-dev/loupe/internal/index"
	"github.com/loupe-dev/loupe/internal/search"
	"github.com/loupe-dev/loupe/internal/telemetry"
	"github.com/loupe-dev/loupe/pkg/version"
)

// Server bridges AI agents to the search engine over MCP.
type Server struct {
	mcp      *mcp.Server
	engine   *search.Engine
	coord    *index.Coordinator
	embedder embed.Embedder
	metrics  *telemetry.Metrics
	logger   *slog.Logger
}

// NewServer creates the MCP server and registers the tools.
func NewServer(engine *search.Engine, coord *index.Coordinator, embedder embed.Embedder, metrics *telemetry.Metrics) (*Server, error) {
	if engine == nil {
		return nil, loupeerr.Internal("search engine is required", nil)
	}
	if coord == nil {
		return nil, loupeerr.Internal("coordinator is required", nil)
	}
	if metrics == nil {
		metrics = telemetry.New()
	}

	s := &Server{
		engine:   engine,
		coord:    coord,
		embedder: embedder,
		metrics:  metrics,
		logger:   slog.Default(),
	}

	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    "Loupe",
		Version: version.Version,
	}, nil)

	s.registerTools()
	return s, nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_code",
		Description: "Search the indexed repositories for relevant code chunks by natural-language or symbol query. Combines exact symbol lookup, BM25 keyword search, and semantic vector search.",
	}, s.handleSearchCode)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "open_location",
		Description: "Read the literal bytes of a file span inside an attached repository. Use after search_code to pull surrounding context.",
	}, s.handleOpenLocation)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_status",
		Description: "Report index statistics: attached repos, chunk counts, quarantine size, and embedder state.",
	}, s.handleIndexStatus)
}

func (s *Server) handleSearchCode(ctx context.Context, _ *mcp.CallToolRequest, in SearchCodeInput) (
	*mcp.CallToolResult, SearchCodeOutput, error,
) {
	if strings.TrimSpace(in.Query) == "" {
		return nil, SearchCodeOutput{}, NewInvalidParamsError("query is required")
	}

	repoFilter, err := s.resolveRepoFilter(in.RepoFilter)
	if err != nil {
		return nil, SearchCodeOutput{}, MapError(err)
	}

	resp, err := s.engine.Search(ctx, search.Request{
		Query:      in.Query,
		TopK:       in.TopK,
		RepoFilter: repoFilter,
	})
	if err != nil {
		return nil, SearchCodeOutput{}, MapError(err)
	}

	out := SearchCodeOutput{
		Results:       make([]SearchCodeResult, 0, len(resp.Results)),
		Degraded:      resp.Degraded,
		DegradedLanes: resp.DegradedLanes,
	}
	for _, r := range resp.Results {
		res := SearchCodeResult{
			File:      r.Chunk.FilePath,
			Symbol:    r.Chunk.Symbol,
			StartLine: r.Chunk.StartLine,
			EndLine:   r.Chunk.EndLine,
			Content:   r.Chunk.Content,
			Score:     r.Score,
			Lanes:     LaneScores{Symbol: r.SymbolHit},
		}
		if r.Lexical != nil {
			res.Lanes.Lexical = &LaneRank{Rank: r.Lexical.Rank, Score: r.Lexical.Score}
		}
		if r.Vector != nil {
			res.Lanes.Vector = &LaneRank{Rank: r.Vector.Rank, Score: r.Vector.Score}
		}
		out.Results = append(out.Results, res)
	}
	return nil, out, nil
}

// resolveRepoFilter accepts a repo id or an absolute root path.
func (s *Server) resolveRepoFilter(filter string) (string, error) {
	if filter == "" {
		return "", nil
	}
	if _, ok := s.coord.RepoRoot(filter); ok {
		return filter, nil
	}
	if filepath.IsAbs(filter) {
		clean := filepath.Clean(filter)
		for _, id := range s.coord.Repos() {
			if root, ok := s.coord.RepoRoot(id); ok && filepath.Clean(root) == clean {
				return id, nil
			}
		}
	}
	return "", loupeerr.RepoNotFound(filter)
}

func (s *Server) handleOpenLocation(ctx context.Context, _ *mcp.CallToolRequest, in OpenLocationInput) (
	*mcp.CallToolResult, OpenLocationOutput, error,
) {
	if in.LineStart < 1 {
		return nil, OpenLocationOutput{}, MapError(loupeerr.InvalidRange("line_start must be >= 1"))
	}
	if in.LineEnd < in.LineStart {
		return nil, OpenLocationOutput{}, MapError(loupeerr.InvalidRange("line_end must be >= line_start"))
	}

	absPath, err := s.resolvePath(in.Path)
	if err != nil {
		return nil, OpenLocationOutput{}, MapError(err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, OpenLocationOutput{}, MapError(loupeerr.PathNotFound(in.Path))
		}
		return nil, OpenLocationOutput{}, MapError(loupeerr.Internal("read file", err))
	}

	lines := strings.Split(string(data), "\n")
	// A trailing newline produces a phantom final element.
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if in.LineStart > len(lines) {
		return nil, OpenLocationOutput{}, MapError(loupeerr.InvalidRange(
			fmt.Sprintf("line_start %d beyond end of file (%d lines)", in.LineStart, len(lines))))
	}
	end := in.LineEnd
	if end > len(lines) {
		end = len(lines)
	}

	return nil, OpenLocationOutput{
		Path:      in.Path,
		LineStart: in.LineStart,
		LineEnd:   end,
		Content:   strings.Join(lines[in.LineStart-1:end], "\n"),
	}, nil
}

// resolvePath maps the tool's path argument to an absolute path inside an
// attached repository. Relative paths are tried against every attached
// root; absolute paths must fall inside one.
func (s *Server) resolvePath(path string) (string, error) {
	if path == "" {
		return "", loupeerr.InvalidArgument("path is required")
	}

	if filepath.IsAbs(path) {
		clean := filepath.Clean(path)
		for _, id := range s.coord.Repos() {
			root, _ := s.coord.RepoRoot(id)
			if rel, err := filepath.Rel(root, clean); err == nil &&
				rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
				return clean, nil
			}
		}
		return "", loupeerr.PathNotInRepo(path)
	}

	var misses int
	for _, id := range s.coord.Repos() {
		root, _ := s.coord.RepoRoot(id)
		abs := filepath.Join(root, filepath.FromSlash(path))
		// Reject traversal out of the root.
		if rel, err := filepath.Rel(root, abs); err != nil ||
			rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", loupeerr.PathNotInRepo(path)
		}
		if _, err := os.Stat(abs); err == nil {
			return abs, nil
		}
		misses++
	}
	if misses == 0 {
		return "", loupeerr.PathNotInRepo(path)
	}
	return "", loupeerr.PathNotFound(path)
}

func (s *Server) handleIndexStatus(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult, IndexStatusOutput, error,
) {
	stats, err := s.coord.Stats(ctx)
	if err != nil {
		return nil, IndexStatusOutput{}, MapError(err)
	}
	snap := s.metrics.Snapshot()

	out := IndexStatusOutput{
		Repos:          s.coord.Repos(),
		ChunkCount:     stats.ChunkCount,
		FileCount:      stats.FileCount,
		QuarantineSize: snap.QuarantineSize,
		ParseErrors:    snap.ParseErrors,
	}
	if s.embedder != nil {
		out.EmbedderModel = s.embedder.ModelName()
		out.EmbedderReady = s.embedder.Available(ctx)
	}
	return nil, out, nil
}

// Serve runs the server over stdio until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp_serving", slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}
