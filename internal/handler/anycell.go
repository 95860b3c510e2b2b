package handler

import (
	"log/slog"
	"net/http"

	"github.com/mohammed-shakir/synapse-gateway/internal/model"
)

// AnyCellHandler clones the request to every cell in the locale and returns
// the first 2xx response in input order, ignoring the rest. Used for
// endpoints satisfied by any single cell acknowledging (health probes,
// relay registration challenge/response).
type AnyCellHandler struct {
	Logger *slog.Logger
}

// NewAnyCellHandler constructs an AnyCellHandler.
func NewAnyCellHandler(logger *slog.Logger) *AnyCellHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnyCellHandler{Logger: logger}
}

func (h *AnyCellHandler) ExecutionMode() ExecutionMode { return Failover }

// anyCellMetadata carries the locale's cell order. Merge does not read it:
// nothing from Split needs recovering at merge time here.
type anyCellMetadata struct {
	cellOrder []string
}

func (h *AnyCellHandler) Split(req Request) ([]model.SplitRequest, any, error) {
	splits := make([]model.SplitRequest, 0, len(req.Locale.Cells))
	order := make([]string, 0, len(req.Locale.Cells))
	for _, c := range req.Locale.Cells {
		splits = append(splits, model.SplitRequest{
			CellID:      c.ID,
			UpstreamURL: c.RelayURL,
			Body:        req.Body,
		})
		order = append(order, c.ID)
	}
	return splits, anyCellMetadata{cellOrder: order}, nil
}

// Merge iterates results in input order (which, for AnyCellHandler, is
// spawn order since every cell receives an identical clone of the request)
// and returns the first 2xx with hop-by-hop headers and Content-Length
// stripped, since the latter is recomputed on write.
func (h *AnyCellHandler) Merge(results []model.UpstreamTaskResult, _ any) Result {
	for _, r := range results {
		if r.Err != nil {
			h.Logger.Error("any-cell upstream failed", "cell", r.CellID, "err", r.Err)
			continue
		}
		if !r.Response.Success() {
			h.Logger.Warn("any-cell upstream non-2xx", "cell", r.CellID, "status", r.Response.StatusCode)
			continue
		}
		hdr := r.Response.Header.Clone()
		hdr.Del("Content-Length")
		return Result{StatusCode: r.Response.StatusCode, Header: hdr, Body: r.Response.Body}
	}
	return Result{StatusCode: http.StatusServiceUnavailable, Header: http.Header{}, Body: nil}
}
