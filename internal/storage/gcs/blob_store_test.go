package gcs

import (
	"context"
	"hash/crc32"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	archive "github.com/JakeFAU/listcrawler/internal/storage"
)

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "items"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)

	_, err = New(client, Config{})
	require.Error(t, err)

	store, err := New(client, Config{Bucket: "items"})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), archive.Object{Key: "items/../x.msgpack", Body: []byte("x")})
	require.ErrorIs(t, err, archive.ErrInvalidKey)
	require.NoError(t, store.Close())
}

func TestApplyAttrsCarriesItemOrigin(t *testing.T) {
	t.Parallel()

	body := []byte{0x83, 0xa3, 'u', 'r', 'l'}
	meta := map[string]string{
		archive.MetaSessionID:    "s1",
		archive.MetaPartitionKey: "newyork",
		archive.MetaURL:          "https://newyork.craigslist.org/bik/1.html",
	}
	attrs := storage.ObjectAttrs{Name: "items/newyork/s1/abc.msgpack"}
	applyAttrs(&attrs, archive.Object{
		Key:         attrs.Name,
		ContentType: "application/msgpack",
		Body:        body,
		Metadata:    meta,
	})

	assert.Equal(t, "items/newyork/s1/abc.msgpack", attrs.Name)
	assert.Equal(t, "application/msgpack", attrs.ContentType)
	assert.Equal(t, crc32.Checksum(body, crc32.MakeTable(crc32.Castagnoli)), attrs.CRC32C)
	assert.Equal(t, meta, attrs.Metadata)

	meta[archive.MetaURL] = "changed"
	assert.NotEqual(t, "changed", attrs.Metadata[archive.MetaURL])
}
