package mcp

// SearchCodeInput is the input schema for the search_code tool.
type SearchCodeInput struct {
	Query      string `json:"query" jsonschema:"natural-language or symbol query"`
	TopK       int    `json:"top_k,omitempty" jsonschema:"number of results, 1-100, default 5"`
	RepoFilter string `json:"repoFilter,omitempty" jsonschema:"restrict to one repository by id or absolute root path"`
}

// SearchCodeOutput is the output schema for the search_code tool.
type SearchCodeOutput struct {
	Results  []SearchCodeResult `json:"results"`
	Degraded bool               `json:"degraded,omitempty"`
	// DegradedLanes names the retrieval lanes that were skipped.
	DegradedLanes []string `json:"degraded_lanes,omitempty"`
}

// SearchCodeResult is one ranked hit.
type SearchCodeResult struct {
	File      string    `json:"file"`
	Symbol    string    `json:"symbol,omitempty"`
	StartLine int       `json:"start_line"`
	EndLine   int       `json:"end_line"`
	Content   string    `json:"content"`
	Score     float64   `json:"score"`
	Lanes     LaneScores `json:"lanes"`
}

// LaneScores explains which lanes produced a result and at what rank.
type LaneScores struct {
	Symbol  bool      `json:"symbol,omitempty"`
	Lexical *LaneRank `json:"lexical,omitempty"`
	Vector  *LaneRank `json:"vector,omitempty"`
}

// LaneRank is one lane's rank and raw score.
type LaneRank struct {
	Rank  int     `json:"rank"`
	Score float64 `json:"score"`
}

// OpenLocationInput is the input schema for the open_location tool.
type OpenLocationInput struct {
	Path      string `json:"path" jsonschema:"file path, absolute or relative to an attached repository root"`
	LineStart int    `json:"line_start" jsonschema:"first line, 1-based inclusive"`
	LineEnd   int    `json:"line_end" jsonschema:"last line, inclusive, >= line_start"`
}

// OpenLocationOutput returns the literal file bytes of the span at the time
// of the call; it is not index-backed.
type OpenLocationOutput struct {
	Path      string `json:"path"`
	LineStart int    `json:"line_start"`
	LineEnd   int    `json:"line_end"`
	Content   string `json:"content"`
}

// IndexStatusInput is the (empty) input schema for index_status.
type IndexStatusInput struct{}

// IndexStatusOutput reports catalog and pipeline state.
type IndexStatusOutput struct {
	Repos          []string `json:"repos"`
	ChunkCount     int      `json:"chunk_count"`
	FileCount      int      `json:"file_count"`
	QuarantineSize int      `json:"quarantine_size"`
	ParseErrors    int64    `json:"parse_errors"`
	EmbedderModel  string   `json:"embedder_model"`
	EmbedderReady  bool     `json:"embedder_ready"`
}
