package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mohammed-shakir/synapse-gateway/internal/model"
)

// CellLocator resolves an identifier to its owning cell, constrained to a
// locale. *locator.Locator satisfies this shape.
type CellLocator interface {
	Lookup(id, locality string) (string, error)
}

// projectConfigsMetadata is the SplitMetadata carried from Split to Merge
// for the project-configs endpoint.
type projectConfigsMetadata struct {
	cellKeysSent   map[string][]string
	unassignedKeys []string
	cellPriority   []string // locale's configured cell order, highest first
	requestExtra   map[string]json.RawMessage
	hadInputKeys   bool
}

// ProjectConfigsHandler implements the parallel-merge-with-pending endpoint:
// it splits public keys across cells via the Locator and reassembles
// per-cell config payloads, routing anything that didn't make it back in
// time to a pending list the client is expected to retry.
type ProjectConfigsHandler struct {
	Locator CellLocator
	Logger  *slog.Logger
}

// NewProjectConfigsHandler constructs a ProjectConfigsHandler.
func NewProjectConfigsHandler(loc CellLocator, logger *slog.Logger) *ProjectConfigsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProjectConfigsHandler{Locator: loc, Logger: logger}
}

func (h *ProjectConfigsHandler) ExecutionMode() ExecutionMode { return Parallel }

// Split groups public keys by owning cell; keys the Locator could not
// resolve are recorded as unassigned and never sent anywhere.
func (h *ProjectConfigsHandler) Split(req Request) ([]model.SplitRequest, any, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(req.Body, &raw); err != nil {
		return nil, nil, fmt.Errorf("project configs: decode request body: %w", err)
	}

	var publicKeys []string
	if pk, ok := raw["publicKeys"]; ok {
		if err := json.Unmarshal(pk, &publicKeys); err != nil {
			return nil, nil, fmt.Errorf("project configs: decode publicKeys: %w", err)
		}
	}
	delete(raw, "publicKeys")

	cellKeys := make(map[string][]string)
	var unassigned []string
	for _, key := range publicKeys {
		cellID, err := h.Locator.Lookup(key, req.Locale.Name)
		if err != nil {
			unassigned = append(unassigned, key)
			continue
		}
		cellKeys[cellID] = append(cellKeys[cellID], key)
	}

	priority := make([]string, 0, len(req.Locale.Cells))
	splits := make([]model.SplitRequest, 0, len(req.Locale.Cells))
	for _, cell := range req.Locale.Cells {
		priority = append(priority, cell.ID)

		keys := cellKeys[cell.ID]
		if len(keys) == 0 {
			continue
		}

		body := make(map[string]json.RawMessage, len(raw)+1)
		for k, v := range raw {
			body[k] = v
		}
		keysJSON, err := json.Marshal(keys)
		if err != nil {
			return nil, nil, fmt.Errorf("project configs: encode per-cell keys: %w", err)
		}
		body["publicKeys"] = keysJSON

		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("project configs: encode per-cell body: %w", err)
		}

		splits = append(splits, model.SplitRequest{
			CellID:      cell.ID,
			UpstreamURL: cell.RelayURL,
			Body:        bodyBytes,
			Identifiers: keys,
		})
	}

	meta := projectConfigsMetadata{
		cellKeysSent:   cellKeys,
		unassignedKeys: unassigned,
		cellPriority:   priority,
		requestExtra:   raw,
		hadInputKeys:   len(publicKeys) > 0,
	}
	return splits, meta, nil
}
