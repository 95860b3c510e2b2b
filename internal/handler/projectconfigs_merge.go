package handler

import (
	"encoding/json"
	"net/http"

	"github.com/mohammed-shakir/synapse-gateway/internal/model"
)

type perCellResponseBody struct {
	Configs map[string]json.RawMessage `json:"configs"`
	Pending []string                   `json:"pending,omitempty"`
	extra   map[string]json.RawMessage
}

func parsePerCellBody(raw []byte) (perCellResponseBody, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return perCellResponseBody{}, false
	}

	out := perCellResponseBody{extra: make(map[string]json.RawMessage)}
	if c, ok := fields["configs"]; ok {
		if err := json.Unmarshal(c, &out.Configs); err != nil {
			return perCellResponseBody{}, false
		}
		delete(fields, "configs")
	}
	if p, ok := fields["pending"]; ok {
		if err := json.Unmarshal(p, &out.Pending); err != nil {
			return perCellResponseBody{}, false
		}
		delete(fields, "pending")
	}
	out.extra = fields
	return out, true
}

// Merge reassembles per-cell results into one response per spec.md §4.4.2:
// pending is seeded from unrouted identifiers, configs/pending are unioned
// across every parseable 2xx result, and extra/headers are selected from
// the highest-priority cell (locale's configured order) that returned a
// parseable 2xx — the resolved answer to the spec's documented open
// question, grounded on task_executor.rs's cell_list walk.
func (h *ProjectConfigsHandler) Merge(results []model.UpstreamTaskResult, metaAny any) Result {
	meta := metaAny.(projectConfigsMetadata)

	pending := append([]string{}, meta.unassignedKeys...)
	configs := make(map[string]json.RawMessage)

	parsed := make(map[string]perCellResponseBody, len(results))
	parsedHeader := make(map[string]http.Header, len(results))
	firstNonSuccessStatus := 0
	anySuccess := false

	for _, r := range results {
		switch {
		case r.Ok() && r.Response.Success():
			body, ok := parsePerCellBody(r.Response.Body)
			if !ok {
				h.Logger.Error("project configs: per-cell response parse failure", "cell", r.CellID)
				pending = append(pending, meta.cellKeysSent[r.CellID]...)
				continue
			}
			parsed[r.CellID] = body
			parsedHeader[r.CellID] = r.Response.Header
			anySuccess = true
			for k, v := range body.Configs {
				configs[k] = v
			}
			pending = append(pending, body.Pending...)
		case r.Ok():
			if firstNonSuccessStatus == 0 {
				firstNonSuccessStatus = r.Response.StatusCode
			}
			pending = append(pending, meta.cellKeysSent[r.CellID]...)
		default:
			h.Logger.Error("project configs: upstream failed", "cell", r.CellID, "err", r.Err)
			pending = append(pending, meta.cellKeysSent[r.CellID]...)
		}
	}

	if !anySuccess {
		if len(pending) == 0 && meta.hadInputKeys {
			return Result{StatusCode: http.StatusServiceUnavailable, Header: http.Header{}, Body: nil}
		}
		if firstNonSuccessStatus != 0 {
			return Result{StatusCode: firstNonSuccessStatus, Header: http.Header{}, Body: nil}
		}
		if len(pending) == 0 {
			return h.renderSuccess(configs, pending, nil, http.Header{})
		}
		return Result{StatusCode: http.StatusBadGateway, Header: http.Header{}, Body: nil}
	}

	var extra map[string]json.RawMessage
	var header http.Header
	for _, cellID := range meta.cellPriority {
		body, ok := parsed[cellID]
		if !ok {
			continue
		}
		extra = body.extra
		header = parsedHeader[cellID]
		break
	}

	return h.renderSuccess(configs, pending, extra, header)
}

func (h *ProjectConfigsHandler) renderSuccess(configs map[string]json.RawMessage, pending []string, extra map[string]json.RawMessage, upstreamHeader http.Header) Result {
	out := make(map[string]json.RawMessage, len(extra)+2)
	for k, v := range extra {
		out[k] = v
	}

	configsJSON, _ := json.Marshal(configs)
	out["configs"] = configsJSON

	if len(pending) > 0 {
		pendingJSON, _ := json.Marshal(pending)
		out["pending"] = pendingJSON
	}

	body, err := json.Marshal(out)
	if err != nil {
		return Result{StatusCode: http.StatusInternalServerError, Header: http.Header{}, Body: nil}
	}

	header := http.Header{}
	for k, vs := range upstreamHeader {
		header[k] = append([]string(nil), vs...)
	}
	header.Del("Content-Length")
	header.Set("Content-Type", "application/json")
	return Result{StatusCode: http.StatusOK, Header: header, Body: body}
}
