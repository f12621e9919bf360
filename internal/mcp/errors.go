// Package mcp implements the Model Context Protocol server for Loupe.
package mcp

import (
	"fmt"

	loupeerr "github.com/loupe-dev/loupe/internal/errors"
)

// JSON-RPC error codes carried over MCP.
const (
	ErrCodeInvalidParams = -32602
	ErrCodeInternalError = -32603

	// Loupe-specific codes.
	ErrCodeRepoNotFound        = -32010
	ErrCodePathNotFound        = -32011
	ErrCodePathNotInRepo       = -32012
	ErrCodeInvalidRange        = -32013
	ErrCodeEmbedderUnavailable = -32014
	ErrCodeIndexCorrupt        = -32015
)

// ProtocolError is the wire form of a tool failure.
type ProtocolError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("mcp error %d: %s", e.Code, e.Message)
}

// NewInvalidParamsError builds a -32602 error.
func NewInvalidParamsError(message string) *ProtocolError {
	return &ProtocolError{Code: ErrCodeInvalidParams, Message: message}
}

// MapError converts a core error into its protocol form by code.
func MapError(err error) *ProtocolError {
	if err == nil {
		return nil
	}

	code := ErrCodeInternalError
	switch loupeerr.CodeOf(err) {
	case loupeerr.ErrCodeInvalidArgument:
		code = ErrCodeInvalidParams
	case loupeerr.ErrCodeRepoNotFound:
		code = ErrCodeRepoNotFound
	case loupeerr.ErrCodePathNotFound:
		code = ErrCodePathNotFound
	case loupeerr.ErrCodePathNotInRepo:
		code = ErrCodePathNotInRepo
	case loupeerr.ErrCodeInvalidRange:
		code = ErrCodeInvalidRange
	case loupeerr.ErrCodeEmbedderUnavailable:
		code = ErrCodeEmbedderUnavailable
	case loupeerr.ErrCodeIndexCorrupt:
		code = ErrCodeIndexCorrupt
	}

	return &ProtocolError{Code: code, Message: err.Error()}
}
