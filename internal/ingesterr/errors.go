// Package ingesterr defines the typed error taxonomy shared across the
// gateway: config validation, locator lookups, upstream dispatch, and
// response assembly all produce one of these so callers can discriminate
// failure modes with errors.As instead of string matching.
package ingesterr

import "fmt"

// RequestBody indicates the inbound request body could not be read or
// decoded.
type RequestBody struct {
	Cause error
}

func (e *RequestBody) Error() string { return fmt.Sprintf("request body: %v", e.Cause) }
func (e *RequestBody) Unwrap() error { return e.Cause }

// ResponseBody indicates an upstream or outbound response body could not be
// read.
type ResponseBody struct {
	Cause error
}

func (e *ResponseBody) Error() string { return fmt.Sprintf("response body: %v", e.Cause) }
func (e *ResponseBody) Unwrap() error { return e.Cause }

// NoRouteMatched indicates no configured route predicate matched the
// inbound request.
type NoRouteMatched struct {
	Host, Path, Method string
}

func (e *NoRouteMatched) Error() string {
	return fmt.Sprintf("no route matched host=%q path=%q method=%q", e.Host, e.Path, e.Method)
}

// UpstreamNotFound indicates configuration named a cell that does not exist
// in the resolved locale.
type UpstreamNotFound struct {
	CellID string
}

func (e *UpstreamNotFound) Error() string { return fmt.Sprintf("upstream not found: %s", e.CellID) }

// UpstreamRequestFailed indicates a transport-level failure reaching a cell.
type UpstreamRequestFailed struct {
	Cell  string
	Cause error
}

func (e *UpstreamRequestFailed) Error() string {
	return fmt.Sprintf("upstream request failed (cell=%s): %v", e.Cell, e.Cause)
}
func (e *UpstreamRequestFailed) Unwrap() error { return e.Cause }

// UpstreamTimeout indicates a per-request or collection deadline elapsed
// before a cell responded.
type UpstreamTimeout struct {
	Cell string
}

func (e *UpstreamTimeout) Error() string { return fmt.Sprintf("upstream timeout (cell=%s)", e.Cell) }

// ResponseSerialization indicates the outbound merged response could not be
// encoded.
type ResponseSerialization struct {
	Cause error
}

func (e *ResponseSerialization) Error() string {
	return fmt.Sprintf("response serialization: %v", e.Cause)
}
func (e *ResponseSerialization) Unwrap() error { return e.Cause }

// LocatorNotReady indicates a lookup was attempted before the locator's
// first snapshot load completed.
type LocatorNotReady struct{}

func (e *LocatorNotReady) Error() string { return "locator not ready" }

// LocatorNoCell indicates neither the identifier nor a locality default
// resolved to a cell.
type LocatorNoCell struct {
	ID string
}

func (e *LocatorNoCell) Error() string { return fmt.Sprintf("locator: no cell for %q", e.ID) }

// LocatorLocalityMismatch indicates the resolved cell's locality disagreed
// with the caller's constraint.
type LocatorLocalityMismatch struct {
	Requested, Actual string
}

func (e *LocatorLocalityMismatch) Error() string {
	return fmt.Sprintf("locator: locality mismatch requested=%s actual=%s", e.Requested, e.Actual)
}

// ServiceUnavailable indicates all cells failed and no pending remains.
type ServiceUnavailable struct {
	Msg string
}

func (e *ServiceUnavailable) Error() string { return fmt.Sprintf("service unavailable: %s", e.Msg) }

// InvalidConfig indicates a startup configuration validation failure.
type InvalidConfig struct {
	Kind string
	Msg  string
}

func (e *InvalidConfig) Error() string {
	return fmt.Sprintf("invalid config (%s): %s", e.Kind, e.Msg)
}
