package gateway

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mohammed-shakir/synapse-gateway/internal/executor"
	"github.com/mohammed-shakir/synapse-gateway/internal/handler"
	"github.com/mohammed-shakir/synapse-gateway/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubHandler struct {
	splitErr error
	result   handler.Result
}

func (h *stubHandler) Split(req handler.Request) ([]model.SplitRequest, any, error) {
	if h.splitErr != nil {
		return nil, nil, h.splitErr
	}
	return nil, nil, nil
}

func (h *stubHandler) Merge(results []model.UpstreamTaskResult, metadata any) handler.Result {
	return h.result
}

func (h *stubHandler) ExecutionMode() handler.ExecutionMode { return handler.Parallel }

type alwaysReady struct{ ready bool }

func (a alwaysReady) IsReady() bool { return a.ready }

func newTestGateway(h handler.Handler) *Gateway {
	routes := model.RouteTable{Routes: []model.Route{
		{MatchPath: "/widgets", MatchMethod: http.MethodPost, Resolver: "widgets", LocaleNames: []string{"us"}},
	}}
	return &Gateway{
		Routes:   routes,
		Locales:  map[string]model.Locale{"us": {Name: "us"}},
		Handlers: map[string]handler.Handler{"widgets": h},
		Executor: executor.New(nil, discardLogger()),
		Timeouts: executor.Timeouts{},
		Logger:   discardLogger(),
	}
}

func TestDispatch_RouteNotFound(t *testing.T) {
	g := newTestGateway(&stubHandler{})
	req := httptest.NewRequest(http.MethodGet, "/nonexistent", nil)
	rec := httptest.NewRecorder()

	g.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestDispatch_SuccessfulRoundTrip(t *testing.T) {
	h := &stubHandler{result: handler.Result{StatusCode: http.StatusOK, Header: http.Header{"Content-Type": {"application/json"}}, Body: []byte(`{"ok":true}`)}}
	g := newTestGateway(h)

	req := httptest.NewRequest(http.MethodPost, "/widgets", nil)
	rec := httptest.NewRecorder()
	g.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != `{"ok":true}` {
		t.Fatalf("got body %q", rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("expected handler header to be written through, got %v", rec.Header())
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected request id middleware to set X-Request-Id")
	}
}

func TestDispatch_SplitErrorReturns500(t *testing.T) {
	h := &stubHandler{splitErr: io.ErrUnexpectedEOF}
	g := newTestGateway(h)

	req := httptest.NewRequest(http.MethodPost, "/widgets", nil)
	rec := httptest.NewRecorder()
	g.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestDispatch_PanicRecovered(t *testing.T) {
	g := newTestGateway(&stubHandler{})
	g.Handlers["widgets"] = panicHandler{}

	req := httptest.NewRequest(http.MethodPost, "/widgets", nil)
	rec := httptest.NewRecorder()
	g.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected panic to be recovered as 500, got %d", rec.Code)
	}
}

type panicHandler struct{}

func (panicHandler) Split(req handler.Request) ([]model.SplitRequest, any, error) {
	panic("boom")
}
func (panicHandler) Merge(results []model.UpstreamTaskResult, metadata any) handler.Result {
	return handler.Result{}
}
func (panicHandler) ExecutionMode() handler.ExecutionMode { return handler.Parallel }

func TestAdminRouter_HealthAlwaysOK(t *testing.T) {
	r := adminRouter(alwaysReady{ready: false})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected /health to always return 200, got %d", rec.Code)
	}
}

func TestAdminRouter_ReadyReflectsReadiness(t *testing.T) {
	r := adminRouter(alwaysReady{ready: false})
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when not ready, got %d", rec.Code)
	}

	r2 := adminRouter(alwaysReady{ready: true})
	rec2 := httptest.NewRecorder()
	r2.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 when ready, got %d", rec2.Code)
	}
}

func TestStripPort(t *testing.T) {
	cases := map[string]string{
		"example.com:8080": "example.com",
		"example.com":      "example.com",
		"":                 "",
	}
	for in, want := range cases {
		if got := stripPort(in); got != want {
			t.Fatalf("stripPort(%q) = %q, want %q", in, got, want)
		}
	}
}
