package executor

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/mohammed-shakir/synapse-gateway/internal/ingesterr"
	"github.com/mohammed-shakir/synapse-gateway/internal/model"
	"github.com/mohammed-shakir/synapse-gateway/internal/upstreamclient"
)

type stubSend func(ctx context.Context, cellID, baseURL, method, path, rawQuery string, header http.Header, body []byte, timeout time.Duration) (*upstreamclient.Response, error)

type stubSender struct {
	mu   sync.Mutex
	fn   func(cellID string) stubSend
	byID map[string]stubSend
}

func (s *stubSender) Send(ctx context.Context, cellID, baseURL, method, path, rawQuery string, header http.Header, body []byte, timeout time.Duration) (*upstreamclient.Response, error) {
	s.mu.Lock()
	fn, ok := s.byID[cellID]
	s.mu.Unlock()
	if !ok {
		return nil, &ingesterr.UpstreamRequestFailed{Cell: cellID}
	}
	return fn(ctx, cellID, baseURL, method, path, rawQuery, header, body, timeout)
}

func splitFor(cellID string) model.SplitRequest {
	return model.SplitRequest{CellID: cellID, UpstreamURL: "http://" + cellID, Identifiers: []string{cellID + "-id"}}
}

func okAfter(d time.Duration) stubSend {
	return func(ctx context.Context, cellID, baseURL, method, path, rawQuery string, header http.Header, body []byte, timeout time.Duration) (*upstreamclient.Response, error) {
		select {
		case <-time.After(d):
			return &upstreamclient.Response{StatusCode: 200, Header: http.Header{}, Body: []byte("ok")}, nil
		case <-ctx.Done():
			return nil, &ingesterr.UpstreamTimeout{Cell: cellID}
		}
	}
}

func neverReturns() stubSend {
	return func(ctx context.Context, cellID, baseURL, method, path, rawQuery string, header http.Header, body []byte, timeout time.Duration) (*upstreamclient.Response, error) {
		<-ctx.Done()
		return nil, &ingesterr.UpstreamTimeout{Cell: cellID}
	}
}

func TestExecute_AllFastSuccess(t *testing.T) {
	sender := &stubSender{byID: map[string]stubSend{
		"a": okAfter(time.Millisecond),
		"b": okAfter(2 * time.Millisecond),
	}}
	e := New(sender, nil)

	results := e.Execute(context.Background(), "test", []model.SplitRequest{splitFor("a"), splitFor("b")},
		http.MethodGet, "/", "", http.Header{}, Timeouts{HTTP: time.Second, TaskInitial: 200 * time.Millisecond, TaskSubsequent: 50 * time.Millisecond})

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d: %+v", len(results), results)
	}
	for _, r := range results {
		if !r.Ok() {
			t.Fatalf("expected success for cell %s, got err %v", r.CellID, r.Err)
		}
	}
}

func TestExecute_StragglerAbortedAfterFirstSuccessShortensDeadline(t *testing.T) {
	sender := &stubSender{byID: map[string]stubSend{
		"fast": okAfter(5 * time.Millisecond),
		"slow": okAfter(500 * time.Millisecond),
	}}
	e := New(sender, nil)

	start := time.Now()
	results := e.Execute(context.Background(), "test", []model.SplitRequest{splitFor("fast"), splitFor("slow")},
		http.MethodGet, "/", "", http.Header{}, Timeouts{HTTP: time.Second, TaskInitial: time.Second, TaskSubsequent: 30 * time.Millisecond})
	elapsed := time.Since(start)

	if elapsed >= 200*time.Millisecond {
		t.Fatalf("expected the subsequent deadline to cut the wait well below the slow task's 500ms, took %v", elapsed)
	}

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d: %+v", len(results), results)
	}
	byID := map[string]model.UpstreamTaskResult{}
	for _, r := range results {
		if r.CellID == "" {
			t.Fatalf("expected every result, including a synthesized abort, to carry its originating cell id, got %+v", r)
		}
		byID[r.CellID] = r
	}
	if !byID["fast"].Ok() {
		t.Fatalf("expected fast cell to succeed, got %+v", byID["fast"])
	}
	slow, ok := byID["slow"]
	if !ok {
		t.Fatal("expected a result keyed by the slow cell's id")
	}
	if slow.Ok() {
		t.Fatalf("expected slow cell to be aborted as a straggler, got %+v", slow)
	}
	if len(slow.Identifiers) != 1 || slow.Identifiers[0] != "slow-id" {
		t.Fatalf("expected the aborted straggler to preserve its identifiers, got %+v", slow)
	}
}

func TestExecute_NoSuccessHitsInitialDeadline(t *testing.T) {
	sender := &stubSender{byID: map[string]stubSend{
		"a": neverReturns(),
		"b": neverReturns(),
	}}
	e := New(sender, nil)

	start := time.Now()
	results := e.Execute(context.Background(), "test", []model.SplitRequest{splitFor("a"), splitFor("b")},
		http.MethodGet, "/", "", http.Header{}, Timeouts{HTTP: time.Second, TaskInitial: 20 * time.Millisecond, TaskSubsequent: time.Second})
	elapsed := time.Since(start)

	if elapsed >= 300*time.Millisecond {
		t.Fatalf("expected the initial deadline (20ms) to fire promptly, took %v", elapsed)
	}
	if len(results) != 2 {
		t.Fatalf("expected synthesized results for both pending tasks, got %d", len(results))
	}
	seenCells := map[string]bool{}
	for _, r := range results {
		if r.Ok() {
			t.Fatalf("expected no success before the initial deadline, got %+v", r)
		}
		if r.CellID == "" || len(r.Identifiers) != 1 || r.Identifiers[0] != r.CellID+"-id" {
			t.Fatalf("expected synthesized timeout result to preserve its originating cell's identifiers, got %+v", r)
		}
		seenCells[r.CellID] = true
	}
	if !seenCells["a"] || !seenCells["b"] {
		t.Fatalf("expected both cells represented among the synthesized results, got %+v", results)
	}
}

func TestExecute_ContextCancelDrainsPending(t *testing.T) {
	sender := &stubSender{byID: map[string]stubSend{
		"a": neverReturns(),
	}}
	e := New(sender, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	results := e.Execute(ctx, "test", []model.SplitRequest{splitFor("a")},
		http.MethodGet, "/", "", http.Header{}, Timeouts{HTTP: time.Second, TaskInitial: time.Second, TaskSubsequent: time.Second})

	if len(results) != 1 {
		t.Fatalf("expected 1 drained result, got %d", len(results))
	}
	r := results[0]
	if r.CellID != "a" || len(r.Identifiers) != 1 || r.Identifiers[0] != "a-id" {
		t.Fatalf("expected the aborted result to preserve cell a's identifiers, got %+v", r)
	}
}

func TestExecute_EmptySplitsReturnsNil(t *testing.T) {
	e := New(&stubSender{byID: map[string]stubSend{}}, nil)
	results := e.Execute(context.Background(), "test", nil, http.MethodGet, "/", "", http.Header{}, Timeouts{HTTP: time.Second, TaskInitial: time.Second, TaskSubsequent: time.Second})
	if results != nil {
		t.Fatalf("expected nil results for empty splits, got %+v", results)
	}
}

func TestExecute_PanicRecoveredAsErrorResult(t *testing.T) {
	sender := &stubSender{byID: map[string]stubSend{
		"boom": func(ctx context.Context, cellID, baseURL, method, path, rawQuery string, header http.Header, body []byte, timeout time.Duration) (*upstreamclient.Response, error) {
			panic("simulated upstream client panic")
		},
	}}
	e := New(sender, nil)

	results := e.Execute(context.Background(), "test", []model.SplitRequest{splitFor("boom")},
		http.MethodGet, "/", "", http.Header{}, Timeouts{HTTP: time.Second, TaskInitial: time.Second, TaskSubsequent: time.Second})

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	r := results[0]
	if r.Ok() {
		t.Fatal("expected panic to surface as a failed result, not a crash")
	}
	if r.CellID != "boom" || len(r.Identifiers) != 1 || r.Identifiers[0] != "boom-id" {
		t.Fatalf("expected identifiers preserved across the panic recovery, got %+v", r)
	}
}
