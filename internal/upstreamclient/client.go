// Package upstreamclient sends one buffered HTTP request to one cell with a
// hard wall-clock timeout, after stripping hop-by-hop headers and injecting
// a Via header.
package upstreamclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mohammed-shakir/synapse-gateway/internal/ingesterr"
)

var hopByHopHeaders = []string{
	"Connection", "Transfer-Encoding", "TE", "Trailer", "Upgrade",
	"Proxy-Authenticate", "Proxy-Authorization",
}

// NewOutbound builds a pooled *http.Client tuned for many short-lived
// per-cell connections.
func NewOutbound() *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        256,
		MaxIdleConnsPerHost: 128,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	return &http.Client{Transport: transport}
}

// Client sends buffered requests to cells.
type Client struct {
	http *http.Client
}

// New wraps an *http.Client (use NewOutbound for the default pool).
func New(hc *http.Client) *Client {
	if hc == nil {
		hc = NewOutbound()
	}
	return &Client{http: hc}
}

// filterHopByHop removes standard hop-by-hop headers plus any header names
// listed inside the Connection header, matching RFC 7230 §6.1.
func filterHopByHop(h http.Header) {
	if conn := h.Get("Connection"); conn != "" {
		for _, name := range strings.Split(conn, ",") {
			h.Del(strings.TrimSpace(name))
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

func viaValue(protoMajor, protoMinor int) string {
	return fmt.Sprintf("%d.%d synapse", protoMajor, protoMinor)
}

// Send issues one request against baseURL, replacing its path and query
// with path+query from the caller's perspective, and returns the full
// collected response or a typed error. The timeout bounds the entire
// round trip including body collection.
func (c *Client) Send(ctx context.Context, cellID, baseURL, method, path, rawQuery string, header http.Header, body []byte, timeout time.Duration) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target, err := url.Parse(baseURL)
	if err != nil {
		return nil, &ingesterr.UpstreamRequestFailed{Cell: cellID, Cause: fmt.Errorf("parse base url: %w", err)}
	}
	target.Path = path
	target.RawQuery = rawQuery

	req, err := http.NewRequestWithContext(ctx, method, target.String(), bytes.NewReader(body))
	if err != nil {
		return nil, &ingesterr.UpstreamRequestFailed{Cell: cellID, Cause: fmt.Errorf("build request: %w", err)}
	}
	req.Header = header.Clone()
	filterHopByHop(req.Header)
	req.Header.Set("Via", viaValue(req.ProtoMajor, req.ProtoMinor))

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &ingesterr.UpstreamTimeout{Cell: cellID}
		}
		return nil, &ingesterr.UpstreamRequestFailed{Cell: cellID, Cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &ingesterr.UpstreamTimeout{Cell: cellID}
		}
		return nil, &ingesterr.ResponseBody{Cause: err}
	}

	filterHopByHop(resp.Header)
	resp.Header.Set("Via", viaValue(resp.ProtoMajor, resp.ProtoMinor))

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
	}, nil
}

// Response is a collected upstream HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}
