// Package gcs archives items as objects in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"maps"

	"cloud.google.com/go/storage"

	archive "github.com/JakeFAU/listcrawler/internal/storage"
)

// Config names the archive bucket.
type Config struct {
	Bucket string
}

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Store uploads archive objects to one bucket.
type Store struct {
	client *storage.Client
	bucket string
}

// New wraps client. The Store owns the client and closes it.
func New(client *storage.Client, cfg Config) (*Store, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// PutObject uploads obj with its content type and origin metadata and
// returns a gs:// URI. The upload carries a CRC32C so GCS rejects corrupt
// bodies.
func (s *Store) PutObject(ctx context.Context, obj archive.Object) (string, error) {
	if err := archive.ValidateKey(obj.Key); err != nil {
		return "", err
	}
	w := s.client.Bucket(s.bucket).Object(obj.Key).NewWriter(ctx)
	applyAttrs(&w.ObjectAttrs, obj)
	w.SendCRC32C = true

	if _, err := w.Write(obj.Body); err != nil {
		if closeErr := w.Close(); closeErr != nil {
			return "", fmt.Errorf("upload %s: %w (close writer: %v)", obj.Key, err, closeErr)
		}
		return "", fmt.Errorf("upload %s: %w", obj.Key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize %s: %w", obj.Key, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, obj.Key), nil
}

// applyAttrs copies the archive object's content type, checksum and
// origin metadata onto the upload attributes.
func applyAttrs(attrs *storage.ObjectAttrs, obj archive.Object) {
	attrs.ContentType = obj.ContentType
	attrs.CRC32C = crc32.Checksum(obj.Body, castagnoli)
	if len(obj.Metadata) > 0 {
		attrs.Metadata = maps.Clone(obj.Metadata)
	}
}

// Close releases the storage client.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close gcs client: %w", err)
	}
	return nil
}
