// Package handler implements the split/merge capability framework: each
// endpoint defines how one client request is partitioned across cells and
// how per-cell results are reassembled into one response.
package handler

import (
	"net/http"

	"github.com/mohammed-shakir/synapse-gateway/internal/model"
)

// ExecutionMode hints at a handler's merging intent.
type ExecutionMode int

const (
	// Parallel merges every cell's result.
	Parallel ExecutionMode = iota
	// Failover returns the first successful response and ignores the rest.
	Failover
)

// Request is the inbound client request a handler splits.
type Request struct {
	Method  string
	Path    string
	Query   string
	Header  http.Header
	Body    []byte
	Locale  model.Locale
}

// Result is the outbound response a handler's merge step produces.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Handler is the polymorphic split/merge capability every endpoint
// implements. SplitMetadata is carried opaquely between Split and Merge;
// each concrete handler defines its own concrete metadata type and performs
// its own type assertion, since Go has no sum-type-with-payload to erase it
// into safely.
type Handler interface {
	Split(req Request) ([]model.SplitRequest, any, error)
	Merge(results []model.UpstreamTaskResult, metadata any) Result
	ExecutionMode() ExecutionMode
}
