package backupstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/mohammed-shakir/synapse-gateway/internal/locator/cursor"
	"github.com/mohammed-shakir/synapse-gateway/internal/obsv"
)

const cursorMetadataKey = "last_cursor"

// GCSProvider persists a RouteData snapshot as a single object in a GCS
// bucket, storing the cursor as object metadata so freshness can be checked
// without downloading the payload.
type GCSProvider struct {
	Bucket    string
	ObjectKey string
	Codec     Codec
	client    *storage.Client
}

// NewGCSProvider constructs a provider. opts are forwarded to the
// underlying storage.Client (credentials, endpoint overrides for testing).
func NewGCSProvider(ctx context.Context, bucket, objectKey string, compression Compression, opts ...option.ClientOption) (*GCSProvider, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("backupstore: gcs client: %w", err)
	}
	return &GCSProvider{
		Bucket:    bucket,
		ObjectKey: objectKey,
		Codec:     Codec{Compression: compression},
		client:    client,
	}, nil
}

func (p *GCSProvider) object() *storage.ObjectHandle {
	return p.client.Bucket(p.Bucket).Object(p.ObjectKey)
}

// cursorFromMetadata reads the freshness-check cursor out of object
// metadata without downloading the payload. Returns the zero cursor and no
// error if the object does not exist yet.
func (p *GCSProvider) cursorFromMetadata(ctx context.Context) (cursor.Cursor, bool, error) {
	attrs, err := p.object().Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return cursor.Cursor{}, false, nil
	}
	if err != nil {
		return cursor.Cursor{}, false, fmt.Errorf("backupstore: gcs attrs: %w", err)
	}
	raw, ok := attrs.Metadata[cursorMetadataKey]
	if !ok {
		return cursor.Cursor{}, true, nil
	}
	c, err := cursor.Parse(raw)
	if err != nil {
		return cursor.Cursor{}, true, err
	}
	return c, true, nil
}

func (p *GCSProvider) Load(ctx context.Context) (RouteData, error) {
	r, err := p.object().NewReader(ctx)
	if err != nil {
		obsv.ObserveBackupStoreOp("gcs_load", "error")
		return RouteData{}, fmt.Errorf("backupstore: gcs reader: %w", err)
	}
	defer r.Close()

	raw, err := io.ReadAll(r)
	if err != nil {
		obsv.ObserveBackupStoreOp("gcs_load", "error")
		return RouteData{}, fmt.Errorf("backupstore: gcs read: %w", err)
	}

	data, err := p.Codec.Decode(raw)
	if err != nil {
		obsv.ObserveBackupStoreOp("gcs_load", "error")
		return RouteData{}, err
	}
	obsv.ObserveBackupStoreOp("gcs_load", "ok")
	return data, nil
}

// Store skips the upload entirely if the object's existing metadata cursor
// is already at or ahead of data.LastCursor, avoiding a redundant write and
// never regressing a newer snapshot.
func (p *GCSProvider) Store(ctx context.Context, data RouteData) error {
	stored, exists, err := p.cursorFromMetadata(ctx)
	if err != nil {
		obsv.ObserveBackupStoreOp("gcs_store", "error")
		return err
	}
	if exists && !data.LastCursor.NewerThan(stored) {
		obsv.ObserveBackupStoreOp("gcs_store", "skipped_not_newer")
		return nil
	}

	payload, err := p.Codec.Encode(data)
	if err != nil {
		obsv.ObserveBackupStoreOp("gcs_store", "error")
		return err
	}

	w := p.object().NewWriter(ctx)
	w.Metadata = map[string]string{cursorMetadataKey: data.LastCursor.String()}
	if _, err := w.Write(payload); err != nil {
		obsv.ObserveBackupStoreOp("gcs_store", "error")
		_ = w.Close()
		return fmt.Errorf("backupstore: gcs write: %w", err)
	}
	if err := w.Close(); err != nil {
		obsv.ObserveBackupStoreOp("gcs_store", "error")
		return fmt.Errorf("backupstore: gcs close: %w", err)
	}
	obsv.ObserveBackupStoreOp("gcs_store", "ok")
	return nil
}

// Close releases the underlying client.
func (p *GCSProvider) Close() error {
	return p.client.Close()
}
