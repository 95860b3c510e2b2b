// Package model holds the shared data types passed between the gateway's
// config, locator, executor, and handler layers.
package model

import (
	"encoding/json"
	"net/http"
)

// Cell identifies one regional backend instance. Immutable after construction.
// Locality membership is authoritative in the locator's control-plane-synced
// cellToLocality map, not here; a cell's config-time locale grouping is just
// which Locale.Cells slice it was placed in.
type Cell struct {
	ID         string
	RelayURL   string
	BackendURL string
}

// Locale is an ordered, priority-ranked group of cells. Cells[0] is highest
// priority. Built once from config at startup and never mutated.
type Locale struct {
	Name  string
	Cells []Cell
}

// CellByID returns the cell with the given id, or false if the locale does
// not contain it.
func (l Locale) CellByID(id string) (Cell, bool) {
	for _, c := range l.Cells {
		if c.ID == id {
			return c, true
		}
	}
	return Cell{}, false
}

// Route is a first-match predicate plus the action it names. Unset match
// fields match anything.
type Route struct {
	MatchHost   string
	MatchPath   string
	MatchMethod string
	Resolver    string
	LocaleNames []string
}

// Matches reports whether the route's predicate matches the given request
// attributes. Empty fields are wildcards.
func (r Route) Matches(host, path, method string) bool {
	if r.MatchHost != "" && r.MatchHost != host {
		return false
	}
	if r.MatchPath != "" && r.MatchPath != path {
		return false
	}
	if r.MatchMethod != "" && r.MatchMethod != method {
		return false
	}
	return true
}

// RouteTable is the gateway's compiled, first-match route list. Built once
// at startup; never mutated afterward.
type RouteTable struct {
	Routes []Route
}

// Match returns the first route whose predicate matches, or false.
func (t RouteTable) Match(host, path, method string) (Route, bool) {
	for _, r := range t.Routes {
		if r.Matches(host, path, method) {
			return r, true
		}
	}
	return Route{}, false
}

// SplitRequest is one per-cell sub-request produced by a handler's split
// step, owned by the executor for the duration of the fan-out.
type SplitRequest struct {
	CellID      string
	UpstreamURL string
	Body        []byte
	Identifiers []string
}

// UpstreamTaskResult is the outcome of one fan-out task, produced when the
// task completes and consumed by the handler's merge step.
type UpstreamTaskResult struct {
	CellID      string
	Identifiers []string
	Response    *UpstreamResponse
	Err         error
}

// Ok reports whether the task produced a usable response.
func (r UpstreamTaskResult) Ok() bool {
	return r.Err == nil && r.Response != nil
}

// UpstreamResponse is a collected HTTP response: status, headers, and the
// full body already read into memory.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Success reports whether the response's status code is in the 2xx range.
func (r *UpstreamResponse) Success() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// MergedResponse is the ProjectConfigs handler's assembled result.
type MergedResponse struct {
	Configs map[string]RawJSON
	Pending []string
	Extra   map[string]RawJSON
	Header  http.Header
	Status  int
}

// RawJSON preserves a JSON value byte-for-byte through unmarshal/marshal
// round trips, so opaque per-cell payloads are never reinterpreted.
type RawJSON = json.RawMessage
