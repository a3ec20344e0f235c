// Package handler translates request/response envelopes into core calls.
// One operation per request; the handler is synchronous from the caller's
// viewpoint and enforces the per-request deadline internally.
package handler

import (
	"encoding/json"

	"github.com/Aman-CERP/codescout/internal/errors"
	"github.com/Aman-CERP/codescout/internal/query"
)

// Method names.
const (
	MethodIndexRepo      = "index_repo"
	MethodGetStatus      = "get_status"
	MethodLookupSymbol   = "lookup_symbol"
	MethodSearchCode     = "search_code"
	MethodGetDefinition  = "get_definition"
	MethodFindReferences = "find_references"
	MethodReindexFile    = "reindex_file"
)

// Status discriminators.
const (
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusError   = "error"
)

// Request is one protocol frame from the client.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is one protocol frame to the client.
type Response struct {
	ID       string          `json:"id"`
	Status   string          `json:"status"`
	Result   any             `json:"result,omitempty"`
	Error    *ErrorPayload   `json:"error,omitempty"`
	Warnings []query.Warning `json:"warnings,omitempty"`
}

// ErrorPayload is the error half of a response.
type ErrorPayload struct {
	Code    string `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// okResponse builds a success frame.
func okResponse(id string, result any) Response {
	return Response{ID: id, Status: StatusOK, Result: result}
}

// partialResponse builds a best-effort frame with warnings.
func partialResponse(id string, result any, warnings []query.Warning) Response {
	return Response{ID: id, Status: StatusPartial, Result: result, Warnings: warnings}
}

// errorResponse classifies err into the error frame.
func errorResponse(id string, err error) Response {
	return Response{
		ID:     id,
		Status: StatusError,
		Error: &ErrorPayload{
			Code:    errors.CodeOf(err),
			Kind:    string(errors.KindOf(err)),
			Message: err.Error(),
		},
	}
}

// Operation parameter shapes.

// IndexRepoParams starts (or refreshes) indexing of a repository.
type IndexRepoParams struct {
	Path string `json:"path"`
}

// LookupSymbolParams resolves a symbol name.
type LookupSymbolParams struct {
	RepoPath string `json:"repo_path,omitempty"`
	Name     string `json:"name"`
	Kind     string `json:"kind,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// SearchCodeParams runs a lexical/hybrid search.
type SearchCodeParams struct {
	RepoPath   string        `json:"repo_path,omitempty"`
	Query      string        `json:"query"`
	Semantic   bool          `json:"semantic,omitempty"`
	Filters    query.Filters `json:"filters,omitempty"`
	Limit      int           `json:"limit,omitempty"`
	Offset     int           `json:"offset,omitempty"`
	SnapshotID int64         `json:"snapshot_id,omitempty"`
}

// SymbolRefParams names a symbol for definition/reference resolution.
type SymbolRefParams struct {
	RepoPath      string `json:"repo_path,omitempty"`
	QualifiedName string `json:"qualified_name"`
	Limit         int    `json:"limit,omitempty"`
}

// ReindexFileParams re-indexes one file.
type ReindexFileParams struct {
	RepoPath string `json:"repo_path,omitempty"`
	Path     string `json:"path"`
}
