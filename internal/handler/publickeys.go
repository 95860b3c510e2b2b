package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mohammed-shakir/synapse-gateway/internal/model"
)

// publicKeysMetadata carries the locale's priority order and the requested
// relay ids so Merge can fill in an explicit null for any id no cell
// answered.
type publicKeysMetadata struct {
	cellPriority []string
	requestedIDs []string
}

// PublicKeysHandler is a supplemented handler (spec.md §9 notes its
// split/merge body is absent from the distilled source): it broadcasts the
// request to every cell in the locale and map-unions the `public_keys` and
// `relays` response fields, in the locale's priority order, with an
// explicit null for any relay id no cell returned. Built from the
// documented response shape in spec.md §6.1 since no original_source file
// survived for it.
type PublicKeysHandler struct {
	Logger *slog.Logger
}

// NewPublicKeysHandler constructs a PublicKeysHandler.
func NewPublicKeysHandler(logger *slog.Logger) *PublicKeysHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PublicKeysHandler{Logger: logger}
}

func (h *PublicKeysHandler) ExecutionMode() ExecutionMode { return Parallel }

func (h *PublicKeysHandler) Split(req Request) ([]model.SplitRequest, any, error) {
	var fields map[string]json.RawMessage
	_ = json.Unmarshal(req.Body, &fields)

	var ids []string
	if raw, ok := fields["relayIds"]; ok {
		_ = json.Unmarshal(raw, &ids)
	}

	splits := make([]model.SplitRequest, 0, len(req.Locale.Cells))
	priority := make([]string, 0, len(req.Locale.Cells))
	for _, cell := range req.Locale.Cells {
		priority = append(priority, cell.ID)
		splits = append(splits, model.SplitRequest{
			CellID:      cell.ID,
			UpstreamURL: cell.RelayURL,
			Body:        req.Body,
			Identifiers: ids,
		})
	}

	return splits, publicKeysMetadata{cellPriority: priority, requestedIDs: ids}, nil
}

type publicKeysResponseBody struct {
	PublicKeys map[string]json.RawMessage `json:"public_keys"`
	Relays     map[string]json.RawMessage `json:"relays"`
}

// Merge unions public_keys/relays across every cell that answered, in
// priority order so a higher-priority cell's value for a given id wins over
// a lower-priority cell's, and fills in an explicit null for any requested
// id nothing answered.
func (h *PublicKeysHandler) Merge(results []model.UpstreamTaskResult, metaAny any) Result {
	meta := metaAny.(publicKeysMetadata)

	byCell := make(map[string]publicKeysResponseBody, len(results))
	for _, r := range results {
		if !r.Ok() || !r.Response.Success() {
			if r.Err != nil {
				h.Logger.Error("public keys: upstream failed", "cell", r.CellID, "err", r.Err)
			}
			continue
		}
		var body publicKeysResponseBody
		if err := json.Unmarshal(r.Response.Body, &body); err != nil {
			h.Logger.Error("public keys: per-cell response parse failure", "cell", r.CellID)
			continue
		}
		byCell[r.CellID] = body
	}

	publicKeys := make(map[string]json.RawMessage)
	relays := make(map[string]json.RawMessage)
	for _, cellID := range meta.cellPriority {
		body, ok := byCell[cellID]
		if !ok {
			continue
		}
		for k, v := range body.PublicKeys {
			if _, exists := publicKeys[k]; !exists {
				publicKeys[k] = v
			}
		}
		for k, v := range body.Relays {
			if _, exists := relays[k]; !exists {
				relays[k] = v
			}
		}
	}

	nullJSON := json.RawMessage("null")
	for _, id := range meta.requestedIDs {
		if _, ok := publicKeys[id]; !ok {
			publicKeys[id] = nullJSON
		}
		if _, ok := relays[id]; !ok {
			relays[id] = nullJSON
		}
	}

	out := map[string]any{"public_keys": publicKeys, "relays": relays}
	body, err := json.Marshal(out)
	if err != nil {
		return Result{StatusCode: http.StatusInternalServerError, Header: http.Header{}, Body: nil}
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	return Result{StatusCode: http.StatusOK, Header: header, Body: body}
}
