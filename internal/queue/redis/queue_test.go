package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listcrawler/internal/crawler"
	"github.com/JakeFAU/listcrawler/internal/queue/queuetest"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, Config{KeyPrefix: "test", PollTimeout: 20 * time.Millisecond}, nil), srv
}

func TestQueueBehaviour(t *testing.T) {
	t.Parallel()

	queuetest.Run(t, func(t *testing.T) crawler.Queue {
		q, _ := newTestQueue(t)
		return q
	})
}

func TestQueueKeysAndRestart(t *testing.T) {
	t.Parallel()

	q, srv := newTestQueue(t)
	ctx := context.Background()
	req, err := crawler.NewListRequest("s", "city-A", "https://example.org/search", 0)
	require.NoError(t, err)
	require.NoError(t, q.Put(ctx, req))

	assert.True(t, srv.Exists("test:seen"))
	assert.True(t, srv.Exists("test:pending"))

	// A second process sharing the store sees the identity as already admitted.
	other := New(redis.NewClient(&redis.Options{Addr: srv.Addr()}), Config{KeyPrefix: "test"}, nil)
	require.NoError(t, other.Put(ctx, req))
	size, err := other.Size(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, size)

	got, err := other.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, req, got)
}

func TestQueueSkipsUndecodableEntries(t *testing.T) {
	t.Parallel()

	q, srv := newTestQueue(t)
	ctx := context.Background()
	_, err := srv.RPush("test:pending", "garbage")
	require.NoError(t, err)
	req, err := crawler.NewItemRequest("s", "p", "https://example.org/ok")
	require.NoError(t, err)
	require.NoError(t, q.Put(ctx, req))

	got, err := q.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, req.Identity(), got.Identity())
}

func TestQueueUnavailable(t *testing.T) {
	t.Parallel()

	q, srv := newTestQueue(t)
	srv.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := crawler.NewItemRequest("s", "p", "https://example.org/")
	require.NoError(t, err)

	var qe *crawler.QueueUnavailableError
	require.ErrorAs(t, q.Put(ctx, req), &qe)
	assert.Equal(t, "put", qe.Op)

	_, err = q.Size(ctx)
	require.ErrorAs(t, err, &qe)
	require.ErrorAs(t, q.Clear(ctx), &qe)
	require.ErrorAs(t, q.Ping(ctx), &qe)
	assert.True(t, crawler.IsFatal(qe))
}
