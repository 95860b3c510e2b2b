package controlplane

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mohammed-shakir/synapse-gateway/internal/locator/cursor"
)

func TestLoad_SinglePage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"data": [{"id":"123","slug":"acme","cell":"us1"}],
			"metadata": {"cursor":"", "has_more": false, "cell_to_locality": {"us1":"us"}}
		}`))
	}))
	defer srv.Close()

	cp := New(srv.Client(), srv.URL, Organization, nil, "", nil)
	res, err := cp.Load(context.Background(), cursor.Cursor{})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.IDToCell["123"] != "us1" || res.IDToCell["acme"] != "us1" {
		t.Fatalf("expected both id and slug indexed to the same cell, got %+v", res.IDToCell)
	}
	if res.CellToLocality["us1"] != "us" {
		t.Fatalf("expected cell_to_locality carried through, got %+v", res.CellToLocality)
	}
	if res.Rows != 1 {
		t.Fatalf("expected 1 row, got %d", res.Rows)
	}
}

func TestLoad_Pagination(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("cursor") == "" {
			_, _ = w.Write([]byte(`{"data":[{"id":"1","cell":"us1"}],"metadata":{"cursor":"page2","has_more":true,"cell_to_locality":{}}}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"id":"2","cell":"us2"}],"metadata":{"cursor":"","has_more":false,"cell_to_locality":{}}}`))
	}))
	defer srv.Close()

	cp := New(srv.Client(), srv.URL, Organization, nil, "", nil)
	res, err := cp.Load(context.Background(), cursor.Cursor{})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 page fetches, got %d", calls)
	}
	if len(res.IDToCell) != 2 {
		t.Fatalf("expected both pages' rows accumulated, got %+v", res.IDToCell)
	}
}

func TestLoad_LocalityFilterSentAsRepeatedParam(t *testing.T) {
	var gotLocalities []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLocalities = r.URL.Query()["locality"]
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[],"metadata":{"cursor":"","has_more":false,"cell_to_locality":{}}}`))
	}))
	defer srv.Close()

	cp := New(srv.Client(), srv.URL, Organization, []string{"us", "eu"}, "", nil)
	if _, err := cp.Load(context.Background(), cursor.Cursor{}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(gotLocalities) != 2 || gotLocalities[0] != "us" || gotLocalities[1] != "eu" {
		t.Fatalf("expected locality params [us eu], got %v", gotLocalities)
	}
}

func TestLoad_HMACSignature(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[],"metadata":{"cursor":"","has_more":false,"cell_to_locality":{}}}`))
	}))
	defer srv.Close()

	cp := New(srv.Client(), srv.URL, Organization, nil, "s3cr3t", nil)
	if _, err := cp.Load(context.Background(), cursor.Cursor{}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	want := "Signature synapse0:" + computeSignature("s3cr3t", Organization.path(), "")
	if gotAuth != want {
		t.Fatalf("got %q want %q", gotAuth, want)
	}
}

func TestLoad_NonRetriableErrorFailsFast(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	cp := New(srv.Client(), srv.URL, Organization, nil, "", nil)
	if _, err := cp.Load(context.Background(), cursor.Cursor{}); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected no retries on a non-retriable status, got %d calls", calls)
	}
}
