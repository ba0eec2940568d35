// Package storage archives items as blobs. Backends live in the local, gcs
// and memory subpackages.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/listcrawler/internal/codec"
	"github.com/JakeFAU/listcrawler/internal/crawler"
	"github.com/JakeFAU/listcrawler/internal/hash/sha256"
	"github.com/JakeFAU/listcrawler/internal/metrics"
)

// Extension is the suffix of every archived item object.
const Extension = ".msgpack"

// Metadata keys attached to archived objects.
const (
	MetaSessionID    = "session_id"
	MetaPartitionKey = "partition_key"
	MetaURL          = "url"
)

// ErrInvalidKey reports an object key that is empty, absolute or contains
// empty, "." or ".." segments.
var ErrInvalidKey = errors.New("invalid object key")

// Object is one archived item.
type Object struct {
	Key         string
	ContentType string
	Body        []byte
	// Metadata carries the item origin so objects can be traced without
	// decoding them.
	Metadata map[string]string
}

// BlobStore writes an object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, obj Object) (string, error)
}

// ValidateKey checks that key is a relative slash-separated path that
// cannot escape its root.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for seg := range strings.SplitSeq(key, "/") {
		if err := validSegment(seg); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}

func validSegment(seg string) error {
	if seg == "" || seg == "." || seg == ".." || strings.ContainsAny(seg, "/\\") {
		return fmt.Errorf("%w: segment %q", ErrInvalidKey, seg)
	}
	return nil
}

// ArchiveStage writes each item to a BlobStore as one msgpack object keyed
// <prefix>/<partition>/<session>/<sha256(url)>.msgpack.
type ArchiveStage struct {
	store   BlobStore
	prefix  string
	hasher  *sha256.Hasher
	logger  *zap.Logger
	metrics *metrics.Recorder
}

// NewArchiveStage archives into store under prefix.
func NewArchiveStage(store BlobStore, prefix string) *ArchiveStage {
	return &ArchiveStage{store: store, prefix: prefix, hasher: sha256.New(), logger: zap.NewNop()}
}

// Name implements pipeline.Stage.
func (*ArchiveStage) Name() string { return "archive" }

// Start binds the runtime logger and recorder.
func (s *ArchiveStage) Start(_ context.Context, rt *crawler.Runtime) error {
	if rt != nil {
		if rt.Logger != nil {
			s.logger = rt.Logger.Named("archive")
		}
		s.metrics = rt.Metrics
	}
	return nil
}

// ObjectKey returns where item is stored. Partition and session must be
// usable as single path segments.
func (s *ArchiveStage) ObjectKey(item *crawler.Item) (string, error) {
	digest, err := s.hasher.Hash([]byte(item.URL()))
	if err != nil {
		return "", fmt.Errorf("hash url: %w", err)
	}
	segs := []string{item.PartitionKey(), item.SessionID(), digest + Extension}
	for _, seg := range segs {
		if err := validSegment(seg); err != nil {
			return "", err
		}
	}
	key := strings.Join(segs, "/")
	if prefix := strings.Trim(s.prefix, "/"); prefix != "" {
		key = prefix + "/" + key
	}
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return key, nil
}

// Process writes the item and passes it on.
func (s *ArchiveStage) Process(ctx context.Context, item *crawler.Item) (*crawler.Item, error) {
	key, err := s.ObjectKey(item)
	if err != nil {
		return nil, err
	}
	data, err := codec.Marshal(item)
	if err != nil {
		return nil, err
	}
	uri, err := s.store.PutObject(ctx, Object{
		Key:         key,
		ContentType: codec.ContentType,
		Body:        data,
		Metadata: map[string]string{
			MetaSessionID:    item.SessionID(),
			MetaPartitionKey: item.PartitionKey(),
			MetaURL:          item.URL(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("archive %s: %w", item.URL(), err)
	}
	s.logger.Debug("item archived", zap.String("url", item.URL()), zap.String("uri", uri))
	s.metrics.ItemArchived()
	return item, nil
}

// Stop does nothing.
func (*ArchiveStage) Stop(context.Context) error { return nil }

// Close closes the store if it holds resources.
func (s *ArchiveStage) Close(context.Context) error {
	if c, ok := s.store.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("close blob store: %w", err)
		}
	}
	return nil
}
