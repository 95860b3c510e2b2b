// Package backupstore persists and restores the locator's identifier→cell
// mapping so the gateway can start (or ride out a control-plane outage)
// without a live sync. Pluggable providers (filesystem, GCS) share one
// binary Codec with optional gzip/zstd compression.
package backupstore

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/mohammed-shakir/synapse-gateway/internal/locator/cursor"
)

// RouteData is the full snapshot persisted by a backup store: the
// identifier→cell map, the cell→locality map, and the cursor it was
// produced at.
type RouteData struct {
	IDToCell       map[string]string
	CellToLocality map[string]string
	LastCursor     cursor.Cursor
}

// Compression selects the backup store's wire-level compression.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionZstd1
	CompressionZstd3
)

// ParseCompression maps a config string to a Compression value.
func ParseCompression(s string) Compression {
	switch s {
	case "gzip":
		return CompressionGzip
	case "zstd1":
		return CompressionZstd1
	case "zstd3":
		return CompressionZstd3
	default:
		return CompressionNone
	}
}

// Codec encodes/decodes a RouteData with the configured compression, using
// encoding/gob for the binary envelope.
type Codec struct {
	Compression Compression
}

// Encode serializes data to bytes.
func (c Codec) Encode(data RouteData) ([]byte, error) {
	var raw bytes.Buffer
	if err := gob.NewEncoder(&raw).Encode(data); err != nil {
		return nil, fmt.Errorf("backupstore: gob encode: %w", err)
	}

	switch c.Compression {
	case CompressionNone:
		return raw.Bytes(), nil
	case CompressionGzip:
		var out bytes.Buffer
		w := gzip.NewWriter(&out)
		if _, err := w.Write(raw.Bytes()); err != nil {
			return nil, fmt.Errorf("backupstore: gzip write: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("backupstore: gzip close: %w", err)
		}
		return out.Bytes(), nil
	case CompressionZstd1, CompressionZstd3:
		level := zstd.SpeedDefault
		if c.Compression == CompressionZstd1 {
			level = zstd.SpeedFastest
		}
		w, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
		if err != nil {
			return nil, fmt.Errorf("backupstore: zstd writer: %w", err)
		}
		defer w.Close()
		return w.EncodeAll(raw.Bytes(), nil), nil
	default:
		return nil, fmt.Errorf("backupstore: unknown compression %d", c.Compression)
	}
}

// Decode deserializes bytes produced by Encode.
func (c Codec) Decode(payload []byte) (RouteData, error) {
	var raw []byte
	switch c.Compression {
	case CompressionNone:
		raw = payload
	case CompressionGzip:
		r, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return RouteData{}, fmt.Errorf("backupstore: gzip reader: %w", err)
		}
		defer r.Close()
		raw, err = io.ReadAll(r)
		if err != nil {
			return RouteData{}, fmt.Errorf("backupstore: gzip read: %w", err)
		}
	case CompressionZstd1, CompressionZstd3:
		d, err := zstd.NewReader(nil)
		if err != nil {
			return RouteData{}, fmt.Errorf("backupstore: zstd reader: %w", err)
		}
		defer d.Close()
		raw, err = d.DecodeAll(payload, nil)
		if err != nil {
			return RouteData{}, fmt.Errorf("backupstore: zstd decode: %w", err)
		}
	default:
		return RouteData{}, fmt.Errorf("backupstore: unknown compression %d", c.Compression)
	}

	var data RouteData
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&data); err != nil {
		return RouteData{}, fmt.Errorf("backupstore: gob decode: %w", err)
	}
	return data, nil
}

// Provider loads and stores RouteData snapshots. Store must refuse to
// overwrite a stored snapshot with an older cursor.
type Provider interface {
	Load(ctx context.Context) (RouteData, error)
	Store(ctx context.Context, data RouteData) error
}
