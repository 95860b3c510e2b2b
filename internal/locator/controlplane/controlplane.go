// Package controlplane is the locator's paginated HTTP client for the
// org/project-key → cell mapping control-plane API, including optional
// HMAC request signing and per-page retry with backoff.
package controlplane

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mohammed-shakir/synapse-gateway/internal/locator/cursor"
)

// DataType selects which mapping the control plane serves.
type DataType int

const (
	Organization DataType = iota
	ProjectKey
)

func (d DataType) path() string {
	if d == ProjectKey {
		return "/api/0/internal/projectkey-cell-mappings/"
	}
	return "/api/0/internal/org-cell-mappings/"
}

const (
	maxRetries  = 3
	baseDelay   = 500 * time.Millisecond
	authScheme  = "synapse0"
)

var retriableStatus = map[int]bool{
	429: true, 500: true, 502: true, 503: true, 504: true,
}

// Record is one identifier→cell row from a control-plane page.
type Record struct {
	ID   string  `json:"id"`
	Slug *string `json:"slug,omitempty"`
	Cell string  `json:"cell"`
}

type page struct {
	Data     []Record `json:"data"`
	Metadata struct {
		Cursor         string            `json:"cursor"`
		HasMore        bool              `json:"has_more"`
		CellToLocality map[string]string `json:"cell_to_locality"`
	} `json:"metadata"`
}

// Result accumulates every page of one sync pass.
type Result struct {
	IDToCell       map[string]string
	CellToLocality map[string]string
	LastCursor     cursor.Cursor
	Rows           int
}

// ControlPlane is the locator's HTTP client for the mapping API.
type ControlPlane struct {
	Client     *http.Client
	BaseURL    string
	DataType   DataType
	Localities []string
	HMACSecret string
	Logger     *slog.Logger
}

// New constructs a ControlPlane client and logs once if HMAC signing is
// disabled because no secret was configured.
func New(client *http.Client, baseURL string, dt DataType, localities []string, hmacSecret string, logger *slog.Logger) *ControlPlane {
	if logger == nil {
		logger = slog.Default()
	}
	if hmacSecret == "" {
		logger.Warn("locator control-plane HMAC signing disabled: SYNAPSE_HMAC_SECRET not set")
	}
	return &ControlPlane{
		Client:     client,
		BaseURL:    baseURL,
		DataType:   dt,
		Localities: localities,
		HMACSecret: hmacSecret,
		Logger:     logger,
	}
}

// computeSignature returns the lowercase-hex HMAC-SHA256 of path+":"+body
// keyed by secret.
func computeSignature(secret, path, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(path + ":" + body))
	return hex.EncodeToString(mac.Sum(nil))
}

// Load performs a full paginated sync, starting from start (the zero Cursor
// to perform a snapshot load, or a prior cursor for an incremental load).
func (cp *ControlPlane) Load(ctx context.Context, start cursor.Cursor) (Result, error) {
	res := Result{
		IDToCell:       make(map[string]string),
		CellToLocality: make(map[string]string),
		LastCursor:     start,
	}

	cur := ""
	if start != (cursor.Cursor{}) {
		cur = start.String()
	}
	for {
		p, err := cp.fetchPageWithRetry(ctx, cur)
		if err != nil {
			return res, err
		}

		for _, rec := range p.Data {
			res.IDToCell[rec.ID] = rec.Cell
			if rec.Slug != nil && *rec.Slug != "" {
				res.IDToCell[*rec.Slug] = rec.Cell
			}
		}
		for cell, loc := range p.Metadata.CellToLocality {
			res.CellToLocality[cell] = loc
		}
		res.Rows += len(p.Data)

		if p.Metadata.Cursor != "" {
			parsed, perr := cursor.Parse(p.Metadata.Cursor)
			if perr == nil {
				res.LastCursor = parsed
			}
		}

		if !p.Metadata.HasMore {
			return res, nil
		}
		cur = p.Metadata.Cursor
	}
}

// fetchPageWithRetry fetches one page, retrying up to maxRetries times with
// exponential backoff on retriable status codes. The retry budget resets
// for every new page (only a single page's failures count toward it).
func (cp *ControlPlane) fetchPageWithRetry(ctx context.Context, cur string) (page, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return page{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		p, status, err := cp.fetchPage(ctx, cur)
		if err == nil {
			return p, nil
		}
		lastErr = err
		if !retriableStatus[status] {
			return page{}, err
		}
		cp.Logger.Warn("control-plane page fetch retrying", "attempt", attempt, "status", status, "err", err)
	}
	return page{}, fmt.Errorf("control-plane: exhausted retries: %w", lastErr)
}

func (cp *ControlPlane) fetchPage(ctx context.Context, cur string) (page, int, error) {
	path := cp.DataType.path()
	u, err := url.Parse(cp.BaseURL + path)
	if err != nil {
		return page{}, 0, fmt.Errorf("control-plane: bad base url: %w", err)
	}
	q := u.Query()
	if cur != "" {
		q.Set("cursor", cur)
	}
	for _, loc := range cp.Localities {
		q.Add("locality", loc)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return page{}, 0, fmt.Errorf("control-plane: build request: %w", err)
	}
	if cp.HMACSecret != "" {
		sig := computeSignature(cp.HMACSecret, path, "")
		req.Header.Set("Authorization", "Signature "+authScheme+":"+sig)
	}

	resp, err := cp.Client.Do(req)
	if err != nil {
		return page{}, 0, fmt.Errorf("control-plane: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return page{}, resp.StatusCode, fmt.Errorf("control-plane: unexpected status %s", strconv.Itoa(resp.StatusCode))
	}

	var p page
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return page{}, resp.StatusCode, fmt.Errorf("control-plane: decode page: %w", err)
	}
	return p, resp.StatusCode, nil
}
