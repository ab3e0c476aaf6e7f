// Package middleware contains the gin middleware that fronts every request:
// the API key authenticator and its public-operation registry.
package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// OperationRegistry maps declared operation names to their visibility for
// request protocols that batch multiple logical operations per call (a
// query/mutation document). It is populated from configuration at startup;
// any operation not explicitly marked public is protected.
type OperationRegistry struct {
	public map[string]struct{}
}

// NewOperationRegistry builds the registry from the configured public list.
func NewOperationRegistry(publicOperations []string) *OperationRegistry {
	public := make(map[string]struct{}, len(publicOperations))
	for _, name := range publicOperations {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			public[trimmed] = struct{}{}
		}
	}
	return &OperationRegistry{public: public}
}

// IsPublic reports whether a single operation may run unauthenticated.
// Unknown operations are protected (secure by default).
func (r *OperationRegistry) IsPublic(operation string) bool {
	_, ok := r.public[operation]
	return ok
}

// AllPublic reports whether every operation in a batch is public. An empty
// batch is protected: a document that declares nothing gets no bypass.
func (r *OperationRegistry) AllPublic(operations []string) bool {
	if len(operations) == 0 {
		return false
	}
	for _, op := range operations {
		if !r.IsPublic(op) {
			return false
		}
	}
	return true
}

// queryDocument is the declared-operation envelope of a batched request.
type queryDocument struct {
	OperationName string `json:"operationName"`
	Operations    []struct {
		OperationName string `json:"operationName"`
	} `json:"operations"`
}

// extractOperationNames reads the declared operation names from a JSON query
// document, restoring the body so downstream handlers can re-read it. A body
// that cannot be parsed yields no names, which keeps the request protected.
func extractOperationNames(req *http.Request, maxBytes int64) []string {
	if req.Body == nil || req.Method != http.MethodPost {
		return nil
	}
	if ct := req.Header.Get("Content-Type"); !strings.Contains(ct, "application/json") {
		return nil
	}

	raw, err := io.ReadAll(io.LimitReader(req.Body, maxBytes))
	_ = req.Body.Close()
	req.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil {
		return nil
	}

	var doc queryDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}

	var names []string
	if doc.OperationName != "" {
		names = append(names, doc.OperationName)
	}
	for _, op := range doc.Operations {
		if op.OperationName != "" {
			names = append(names, op.OperationName)
		}
	}
	return names
}
