package downloader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listcrawler/internal/crawler"
)

// fakeFetcher answers with the request URL as body. Paths listed in fail
// error; paths listed in hang ignore their context until release is closed.
type fakeFetcher struct {
	delay   time.Duration
	fail    map[string]bool
	hang    map[string]bool
	panics  map[string]bool
	release chan struct{}

	inFlight atomic.Int64
	peak     atomic.Int64
	calls    atomic.Int64
}

func (f *fakeFetcher) Fetch(_ context.Context, req crawler.Request) (crawler.Response, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.panics[req.URL()] {
		panic("boom")
	}
	if f.hang[req.URL()] {
		<-f.release
	}
	time.Sleep(f.delay)
	if f.fail[req.URL()] {
		return crawler.Response{}, errors.New("connection reset")
	}
	return crawler.NewResponse(req, []byte(req.URL()), crawler.Meta{StatusCode: 200}), nil
}

func requests(t *testing.T, n int) []crawler.Request {
	t.Helper()
	out := make([]crawler.Request, n)
	for i := range out {
		req, err := crawler.NewItemRequest("s", "p", fmt.Sprintf("https://example.org/%d", i))
		require.NoError(t, err)
		out[i] = req
	}
	return out
}

func TestDownloaderRespectsConcurrencyCap(t *testing.T) {
	t.Parallel()

	const k, m = 3, 5
	f := &fakeFetcher{delay: 30 * time.Millisecond}
	d := New(f, Config{Concurrency: k, Timeout: time.Second}, nil)

	reqs := requests(t, k+m)
	pending := d.Get(context.Background(), reqs...)
	require.Len(t, pending, k+m)

	for i, p := range pending {
		resp, err := p.Wait(context.Background())
		require.NoError(t, err)
		assert.Equal(t, reqs[i].URL(), string(resp.Body()))
		assert.Equal(t, reqs[i], p.Request())
	}
	assert.LessOrEqual(t, f.peak.Load(), int64(k))
	assert.EqualValues(t, k+m, f.calls.Load())
}

// orderFetcher records, for every request it starts, how many fetches had
// already finished.
type orderFetcher struct {
	mu       sync.Mutex
	started  []string
	finished map[string]int
	done     int
}

func (f *orderFetcher) Fetch(_ context.Context, req crawler.Request) (crawler.Response, error) {
	f.mu.Lock()
	f.started = append(f.started, req.URL())
	f.finished[req.URL()] = f.done
	f.mu.Unlock()

	time.Sleep(20 * time.Millisecond)

	f.mu.Lock()
	f.done++
	f.mu.Unlock()
	return crawler.NewResponse(req, nil, crawler.Meta{StatusCode: 200}), nil
}

func TestDownloaderGrantsSlotsInSubmissionOrder(t *testing.T) {
	t.Parallel()

	const k = 2
	reqs := requests(t, 5)
	f := &orderFetcher{finished: map[string]int{}}
	d := New(f, Config{Concurrency: k, Timeout: time.Second}, nil)

	for _, p := range d.Get(context.Background(), reqs...) {
		_, err := p.Wait(context.Background())
		require.NoError(t, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.started, len(reqs))
	assert.ElementsMatch(t, []string{reqs[0].URL(), reqs[1].URL()}, f.started[:k])
	for i, req := range reqs[k:] {
		assert.GreaterOrEqual(t, f.finished[req.URL()], i+1,
			"request %d started before enough earlier fetches finished", i+k)
	}
}

func TestDownloaderIsolatesFailures(t *testing.T) {
	t.Parallel()

	reqs := requests(t, 3)
	f := &fakeFetcher{
		fail:   map[string]bool{reqs[1].URL(): true},
		panics: map[string]bool{reqs[2].URL(): true},
	}
	d := New(f, Config{Concurrency: 2, Timeout: time.Second}, nil)
	pending := d.Get(context.Background(), reqs...)

	_, err := pending[0].Wait(context.Background())
	require.NoError(t, err)

	var fe *crawler.FetchError
	_, err = pending[1].Wait(context.Background())
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, reqs[1], fe.Request)

	_, err = pending[2].Wait(context.Background())
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, err.Error(), "panic")
}

func TestDownloaderTimeoutIgnoringTransport(t *testing.T) {
	t.Parallel()

	reqs := requests(t, 2)
	f := &fakeFetcher{
		hang:    map[string]bool{reqs[0].URL(): true},
		release: make(chan struct{}),
	}
	d := New(f, Config{Concurrency: 1, Timeout: 50 * time.Millisecond}, nil)
	pending := d.Get(context.Background(), reqs...)

	start := time.Now()
	_, err := pending[0].Wait(context.Background())
	var te *crawler.FetchTimeoutError
	require.ErrorAs(t, err, &te)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	// The slot stays taken until the stuck transport returns.
	select {
	case <-pending[1].Done():
		t.Fatal("second request ran while the slot was still held")
	case <-time.After(30 * time.Millisecond):
	}
	close(f.release)
	_, err = pending[1].Wait(context.Background())
	require.NoError(t, err)
}

func TestDownloaderCancellation(t *testing.T) {
	t.Parallel()

	reqs := requests(t, 1)
	f := &fakeFetcher{hang: map[string]bool{reqs[0].URL(): true}, release: make(chan struct{})}
	defer close(f.release)
	d := New(f, Config{Concurrency: 1, Timeout: time.Minute}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	pending := d.Get(ctx, reqs...)
	cancel()

	_, err := pending[0].Wait(context.Background())
	require.ErrorIs(t, err, context.Canceled)
}

func TestPendingResolvesOnce(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{}
	d := New(f, Config{}, nil)
	pending := d.Get(context.Background(), requests(t, 1)...)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := pending[0].Wait(context.Background())
			assert.NoError(t, err)
			assert.NotZero(t, resp.Len())
		}()
	}
	wg.Wait()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	blocked := newPending(requests(t, 1)[0])
	_, err := blocked.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
