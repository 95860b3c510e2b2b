package locator

import (
	"testing"

	"github.com/mohammed-shakir/synapse-gateway/internal/ingesterr"
	"github.com/mohammed-shakir/synapse-gateway/internal/locator/cursor"
)

func cursorZero() cursor.Cursor { return cursor.Cursor{} }

func TestLookup_NotReadyBeforeFirstLoad(t *testing.T) {
	l := New(nil, nil, nil, 0, nil)
	_, err := l.Lookup("123", "")
	if _, ok := err.(*ingesterr.LocatorNotReady); !ok {
		t.Fatalf("expected LocatorNotReady, got %v", err)
	}
}

func TestLookup_AfterInstall(t *testing.T) {
	l := New(nil, nil, nil, 0, nil)
	l.installTable(map[string]string{"123": "us1"}, map[string]string{"us1": "us"}, cursorZero())
	l.ready.Store(true)

	cell, err := l.Lookup("123", "")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if cell != "us1" {
		t.Fatalf("got %q want us1", cell)
	}
}

func TestLookup_LocalityMismatch(t *testing.T) {
	l := New(nil, nil, nil, 0, nil)
	l.installTable(map[string]string{"123": "us1"}, map[string]string{"us1": "us"}, cursorZero())
	l.ready.Store(true)

	_, err := l.Lookup("123", "eu")
	mismatch, ok := err.(*ingesterr.LocatorLocalityMismatch)
	if !ok {
		t.Fatalf("expected LocatorLocalityMismatch, got %v", err)
	}
	if mismatch.Requested != "eu" || mismatch.Actual != "us" {
		t.Fatalf("got %+v", mismatch)
	}
}

func TestLookup_DefaultCellByLocality(t *testing.T) {
	l := New(nil, nil, map[string]string{"eu": "eu-default"}, 0, nil)
	l.installTable(map[string]string{}, map[string]string{}, cursorZero())
	l.ready.Store(true)

	cell, err := l.Lookup("unknown-id", "eu")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if cell != "eu-default" {
		t.Fatalf("got %q want eu-default", cell)
	}
}

func TestLookup_NoCellAndNegativeCache(t *testing.T) {
	l := New(nil, nil, nil, 0, nil)
	l.installTable(map[string]string{}, map[string]string{}, cursorZero())
	l.ready.Store(true)

	_, err := l.Lookup("missing", "")
	if _, ok := err.(*ingesterr.LocatorNoCell); !ok {
		t.Fatalf("expected LocatorNoCell, got %v", err)
	}
	if !l.neg.Contains("missing", "") {
		t.Fatal("expected miss to be recorded in the negative cache")
	}
}

func TestIsReady_Monotonic(t *testing.T) {
	l := New(nil, nil, nil, 0, nil)
	if l.IsReady() {
		t.Fatal("expected not ready initially")
	}
	l.ready.Store(true)
	if !l.IsReady() {
		t.Fatal("expected ready after store")
	}
}
