package errors

// Error codes for Loupe. Codes are stable strings so they can be matched by
// errors.Is across package boundaries and surfaced verbatim over MCP.
const (
	// ErrCodeInvalidArgument indicates a malformed request (empty query,
	// top_k out of range, bad line range shape).
	ErrCodeInvalidArgument = "ERR_INVALID_ARGUMENT"

	// ErrCodeRepoNotFound indicates an unknown repository id or root.
	ErrCodeRepoNotFound = "ERR_REPO_NOT_FOUND"

	// ErrCodePathNotFound indicates the requested file does not exist.
	ErrCodePathNotFound = "ERR_PATH_NOT_FOUND"

	// ErrCodePathNotInRepo indicates the path is outside every attached
	// repository root.
	ErrCodePathNotInRepo = "ERR_PATH_NOT_IN_REPO"

	// ErrCodeInvalidRange indicates line_start/line_end do not address a
	// valid span of the file.
	ErrCodeInvalidRange = "ERR_INVALID_RANGE"

	// ErrCodeDegraded indicates a query completed with one or more lanes
	// skipped. Carried alongside results, not instead of them.
	ErrCodeDegraded = "ERR_DEGRADED"

	// ErrCodeEmbedderUnavailable indicates the embedding backend cannot be
	// reached after retries.
	ErrCodeEmbedderUnavailable = "ERR_EMBEDDER_UNAVAILABLE"

	// ErrCodeIndexCorrupt indicates a checksum or format mismatch loading
	// persisted index state.
	ErrCodeIndexCorrupt = "ERR_INDEX_CORRUPT"

	// ErrCodeConfig indicates invalid configuration, including unparseable
	// ignore rules at attach time.
	ErrCodeConfig = "ERR_CONFIG"

	// ErrCodeInternal is the catch-all for unexpected failures.
	ErrCodeInternal = "ERR_INTERNAL"
)

// retryableCodes are codes whose operations may succeed on retry.
var retryableCodes = map[string]bool{
	ErrCodeEmbedderUnavailable: true,
}

func isRetryableCode(code string) bool {
	return retryableCodes[code]
}
