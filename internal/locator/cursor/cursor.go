// Package cursor implements the locator's opaque, totally-ordered
// resume token: base64-encoded JSON carrying (updated_at, id).
package cursor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Cursor resumes an incremental control-plane sync. ID is nil for the
// "beginning of time" cursor, which sorts before every concrete cursor.
type Cursor struct {
	UpdatedAt uint64  `json:"updated_at"`
	ID        *string `json:"id,omitempty"`
}

// String encodes c as base64 JSON.
func (c Cursor) String() string {
	raw, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(raw)
}

// Parse decodes a base64-JSON cursor string.
func Parse(s string) (Cursor, error) {
	if s == "" {
		return Cursor{}, nil
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, fmt.Errorf("cursor: base64 decode: %w", err)
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return Cursor{}, fmt.Errorf("cursor: json decode: %w", err)
	}
	return c, nil
}

// Less reports whether c sorts strictly before other: compare UpdatedAt
// first, then ID, with a nil ID sorting before any non-nil ID.
func (c Cursor) Less(other Cursor) bool {
	if c.UpdatedAt != other.UpdatedAt {
		return c.UpdatedAt < other.UpdatedAt
	}
	if c.ID == nil && other.ID == nil {
		return false
	}
	if c.ID == nil {
		return true
	}
	if other.ID == nil {
		return false
	}
	return *c.ID < *other.ID
}

// NewerThan reports whether c is a valid replacement for stored — strictly
// greater, never equal or older. Used by the backup store to refuse to
// overwrite a newer snapshot with an older one.
func (c Cursor) NewerThan(stored Cursor) bool {
	return stored.Less(c)
}
