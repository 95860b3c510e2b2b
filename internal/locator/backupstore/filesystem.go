package backupstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mohammed-shakir/synapse-gateway/internal/obsv"
)

// FilesystemProvider persists a RouteData snapshot as a single file on
// local disk.
type FilesystemProvider struct {
	Path  string
	Codec Codec
}

// NewFilesystemProvider returns a provider rooted at path.
func NewFilesystemProvider(path string, compression Compression) *FilesystemProvider {
	return &FilesystemProvider{Path: path, Codec: Codec{Compression: compression}}
}

func (p *FilesystemProvider) Load(_ context.Context) (RouteData, error) {
	raw, err := os.ReadFile(p.Path)
	if err != nil {
		obsv.ObserveBackupStoreOp("fs_load", "error")
		return RouteData{}, fmt.Errorf("backupstore: read %s: %w", p.Path, err)
	}
	data, err := p.Codec.Decode(raw)
	if err != nil {
		obsv.ObserveBackupStoreOp("fs_load", "error")
		return RouteData{}, err
	}
	obsv.ObserveBackupStoreOp("fs_load", "ok")
	return data, nil
}

// Store skips the write if the file already holds a snapshot whose cursor
// is at or ahead of data.LastCursor, never regressing a newer snapshot.
func (p *FilesystemProvider) Store(_ context.Context, data RouteData) error {
	if raw, err := os.ReadFile(p.Path); err == nil {
		if stored, err := p.Codec.Decode(raw); err == nil && !data.LastCursor.NewerThan(stored.LastCursor) {
			obsv.ObserveBackupStoreOp("fs_store", "skipped_not_newer")
			return nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(p.Path), 0o755); err != nil {
		obsv.ObserveBackupStoreOp("fs_store", "error")
		return fmt.Errorf("backupstore: mkdir: %w", err)
	}

	payload, err := p.Codec.Encode(data)
	if err != nil {
		obsv.ObserveBackupStoreOp("fs_store", "error")
		return err
	}

	tmp := p.Path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		obsv.ObserveBackupStoreOp("fs_store", "error")
		return fmt.Errorf("backupstore: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, p.Path); err != nil {
		obsv.ObserveBackupStoreOp("fs_store", "error")
		return fmt.Errorf("backupstore: rename into place: %w", err)
	}
	obsv.ObserveBackupStoreOp("fs_store", "ok")
	return nil
}
