package handler

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/mohammed-shakir/synapse-gateway/internal/model"
)

func TestPublicKeysHandler_Split_BroadcastsToEveryCell(t *testing.T) {
	h := NewPublicKeysHandler(nil)
	body, _ := json.Marshal(map[string]any{"relayIds": []string{"r1", "r2"}})
	req := Request{Body: body, Locale: testLocale("a", "b", "c")}

	splits, metaAny, err := h.Split(req)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(splits) != 3 {
		t.Fatalf("expected broadcast to all 3 cells, got %d", len(splits))
	}
	meta := metaAny.(publicKeysMetadata)
	if len(meta.requestedIDs) != 2 {
		t.Fatalf("expected 2 requested ids, got %v", meta.requestedIDs)
	}
}

func publicKeysBody(t *testing.T, keys map[string]string, relays map[string]string) []byte {
	t.Helper()
	pk := map[string]json.RawMessage{}
	for k, v := range keys {
		pk[k] = json.RawMessage(v)
	}
	rl := map[string]json.RawMessage{}
	for k, v := range relays {
		rl[k] = json.RawMessage(v)
	}
	b, err := json.Marshal(map[string]any{"public_keys": pk, "relays": rl})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestPublicKeysHandler_Merge_UnionsAcrossCellsByPriority(t *testing.T) {
	h := NewPublicKeysHandler(discardLogger())
	meta := publicKeysMetadata{cellPriority: []string{"a", "b"}, requestedIDs: []string{"r1", "r2", "r3"}}

	results := []model.UpstreamTaskResult{
		{CellID: "a", Response: &model.UpstreamResponse{StatusCode: 200, Body: publicKeysBody(t, map[string]string{"r1": `"key-a"`}, map[string]string{"r1": `{"id":"r1"}`})}},
		{CellID: "b", Response: &model.UpstreamResponse{StatusCode: 200, Body: publicKeysBody(t, map[string]string{"r1": `"key-b"`, "r2": `"key-b2"`}, nil)}},
	}

	res := h.Merge(results, meta)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}

	var decoded struct {
		PublicKeys map[string]json.RawMessage `json:"public_keys"`
		Relays     map[string]json.RawMessage `json:"relays"`
	}
	if err := json.Unmarshal(res.Body, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if string(decoded.PublicKeys["r1"]) != `"key-a"` {
		t.Fatalf("expected higher-priority cell a's value to win for r1, got %s", decoded.PublicKeys["r1"])
	}
	if string(decoded.PublicKeys["r2"]) != `"key-b2"` {
		t.Fatalf("expected r2 filled from cell b, got %s", decoded.PublicKeys["r2"])
	}
	if string(decoded.PublicKeys["r3"]) != "null" {
		t.Fatalf("expected explicit null for an id nothing answered, got %s", decoded.PublicKeys["r3"])
	}
	if string(decoded.Relays["r2"]) != "null" {
		t.Fatalf("expected explicit null relay entry for r2, got %s", decoded.Relays["r2"])
	}
}

func TestPublicKeysHandler_Merge_AllCellsFail(t *testing.T) {
	h := NewPublicKeysHandler(discardLogger())
	meta := publicKeysMetadata{cellPriority: []string{"a"}, requestedIDs: []string{"r1"}}
	results := []model.UpstreamTaskResult{{CellID: "a", Err: &testErr{}}}

	res := h.Merge(results, meta)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with explicit nulls even when every cell fails, got %d", res.StatusCode)
	}
	var decoded map[string]json.RawMessage
	_ = json.Unmarshal(res.Body, &decoded)
	var pk map[string]json.RawMessage
	_ = json.Unmarshal(decoded["public_keys"], &pk)
	if string(pk["r1"]) != "null" {
		t.Fatalf("expected null for unanswered id, got %s", pk["r1"])
	}
}
