// Package queuetest holds behaviour checks shared by every crawler.Queue
// implementation.
package queuetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listcrawler/internal/crawler"
)

// Factory returns an empty queue. Each call must yield an isolated queue.
type Factory func(t *testing.T) crawler.Queue

// Run exercises ordering, deduplication, clearing and cancellation.
func Run(t *testing.T, newQueue Factory) {
	t.Helper()

	t.Run("fifo", func(t *testing.T) {
		q := newQueue(t)
		ctx := context.Background()
		a := mustItem(t, "https://example.org/a")
		b := mustItem(t, "https://example.org/b")
		require.NoError(t, q.Put(ctx, a, b))

		size, err := q.Size(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 2, size)

		got, err := q.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, a.Identity(), got.Identity())
		got, err = q.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, b.Identity(), got.Identity())
	})

	t.Run("dedup survives dequeue", func(t *testing.T) {
		q := newQueue(t)
		ctx := context.Background()
		a := mustItem(t, "https://example.org/a")
		require.NoError(t, q.Put(ctx, a, a))
		_, err := q.Get(ctx)
		require.NoError(t, err)

		equivalent := mustItem(t, "HTTPS://EXAMPLE.ORG:443/a#frag")
		require.NoError(t, q.Put(ctx, equivalent))
		size, err := q.Size(ctx)
		require.NoError(t, err)
		assert.Zero(t, size)
	})

	t.Run("invalid request writes nothing", func(t *testing.T) {
		q := newQueue(t)
		ctx := context.Background()
		err := q.Put(ctx, mustItem(t, "https://example.org/a"), crawler.Request{})
		require.ErrorIs(t, err, crawler.ErrInvalidRequest)
		size, err := q.Size(ctx)
		require.NoError(t, err)
		assert.Zero(t, size)
	})

	t.Run("clear forgets identities", func(t *testing.T) {
		q := newQueue(t)
		ctx := context.Background()
		a := mustItem(t, "https://example.org/a")
		require.NoError(t, q.Put(ctx, a))
		require.NoError(t, q.Clear(ctx))
		size, err := q.Size(ctx)
		require.NoError(t, err)
		assert.Zero(t, size)

		require.NoError(t, q.Put(ctx, a))
		size, err = q.Size(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 1, size)
	})

	t.Run("get honours cancellation", func(t *testing.T) {
		q := newQueue(t)
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := q.Get(ctx)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("get wakes on put", func(t *testing.T) {
		q := newQueue(t)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		got := make(chan crawler.Request, 1)
		go func() {
			req, err := q.Get(ctx)
			if err == nil {
				got <- req
			}
		}()
		time.Sleep(20 * time.Millisecond)
		a := mustItem(t, "https://example.org/late")
		require.NoError(t, q.Put(ctx, a))
		select {
		case req := <-got:
			assert.Equal(t, a.Identity(), req.Identity())
		case <-ctx.Done():
			t.Fatal("get did not return the request")
		}
	})

	t.Run("concurrent puts admit once", func(t *testing.T) {
		q := newQueue(t)
		ctx := context.Background()
		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 20; i++ {
					assert.NoError(t, q.Put(ctx, mustItem(t, fmt.Sprintf("https://example.org/%d", i))))
				}
			}()
		}
		wg.Wait()
		size, err := q.Size(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 20, size)
	})
}

func mustItem(t *testing.T, rawURL string) crawler.Request {
	t.Helper()
	req, err := crawler.NewItemRequest("session", "city-A", rawURL)
	require.NoError(t, err)
	return req
}
