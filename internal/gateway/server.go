// Package gateway wires the compiled route table, the split/merge handler
// framework, and the fan-out executor into an HTTP/1.1+HTTP/2 listener with
// a separate admin health/readiness surface.
package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mohammed-shakir/synapse-gateway/internal/executor"
	"github.com/mohammed-shakir/synapse-gateway/internal/handler"
	"github.com/mohammed-shakir/synapse-gateway/internal/ingesterr"
	"github.com/mohammed-shakir/synapse-gateway/internal/model"
)

// Readiness is consulted by the admin listener's /ready endpoint.
type Readiness interface {
	IsReady() bool
}

// Gateway dispatches client requests through the compiled route table into
// the split/merge handler framework.
type Gateway struct {
	Routes    model.RouteTable
	Locales   map[string]model.Locale
	Handlers  map[string]handler.Handler
	Executor  *executor.Executor
	Timeouts  executor.Timeouts
	Readiness Readiness
	Logger    *slog.Logger
}

// Router builds the chi.Router serving client-facing traffic.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(recoverMiddleware(g.Logger))
	r.Use(loggingMiddleware(g.Logger))
	r.Use(requestID)
	r.Handle("/*", http.HandlerFunc(g.dispatch))
	return r
}

// dispatch matches the request against the compiled route table, invokes
// the named handler's split step, fans the resulting sub-requests out
// through the executor, and writes the handler's merged response.
func (g *Gateway) dispatch(w http.ResponseWriter, r *http.Request) {
	host := stripPort(r.Host)
	route, ok := g.Routes.Match(host, r.URL.Path, r.Method)
	if !ok {
		writeErr(w, &ingesterr.NoRouteMatched{Host: host, Path: r.URL.Path, Method: r.Method})
		return
	}

	h, ok := g.Handlers[route.Resolver]
	if !ok {
		writeErr(w, &ingesterr.InvalidConfig{Kind: "resolver", Msg: route.Resolver})
		return
	}

	var locale model.Locale
	if len(route.LocaleNames) > 0 {
		locale = g.Locales[route.LocaleNames[0]]
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeErr(w, &ingesterr.RequestBody{Cause: err})
		return
	}

	req := handler.Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Header: r.Header,
		Body:   body,
		Locale: locale,
	}

	splits, meta, err := h.Split(req)
	if err != nil {
		g.Logger.Error("handler split failed", "resolver", route.Resolver, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	var results []model.UpstreamTaskResult
	if len(splits) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), g.Timeouts.TaskInitial+g.Timeouts.TaskSubsequent)
		defer cancel()
		results = g.Executor.Execute(ctx, route.Resolver, splits, r.Method, r.URL.Path, r.URL.RawQuery, r.Header, g.Timeouts)
	}

	res := h.Merge(results, meta)

	for k, vs := range res.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	if res.StatusCode == 0 {
		res.StatusCode = http.StatusOK
	}
	w.WriteHeader(res.StatusCode)
	if len(res.Body) > 0 {
		_, _ = w.Write(res.Body)
	}
}

func stripPort(host string) string {
	for i := 0; i < len(host); i++ {
		if host[i] == ':' {
			return host[:i]
		}
	}
	return host
}

func writeErr(w http.ResponseWriter, err error) {
	var noRoute *ingesterr.NoRouteMatched
	var reqBody *ingesterr.RequestBody
	var invalidCfg *ingesterr.InvalidConfig

	switch {
	case errors.As(err, &noRoute):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &reqBody):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &invalidCfg):
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Serve starts the client listener (HTTP/1.1 with h2c upgrade) and a
// separate admin listener, returning when ctx is cancelled after a graceful
// shutdown of both.
func Serve(ctx context.Context, addr, adminAddr string, g *Gateway, logger *slog.Logger) error {
	h2s := &http2.Server{}
	mainSrv := &http.Server{
		Addr:              addr,
		Handler:           h2c.NewHandler(g.Router(), h2s),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	adminSrv := &http.Server{
		Addr:              adminAddr,
		Handler:           adminRouter(g.Readiness),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("gateway listen", "addr", addr)
		if err := mainSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		logger.Info("admin listen", "addr", adminAddr)
		if err := adminSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = mainSrv.Shutdown(shutdownCtx)
		_ = adminSrv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func adminRouter(ready Readiness) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		if ready == nil || !ready.IsReady() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}
