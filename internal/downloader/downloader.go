// Package downloader runs fetches with a global concurrency cap and hands
// back deferred results.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/listcrawler/internal/crawler"
)

// Config controls fetch concurrency and the per-request timeout.
type Config struct {
	Concurrency int
	Timeout     time.Duration
}

// Defaults applied when Config fields are zero.
const (
	DefaultConcurrency = 3
	DefaultTimeout     = 30 * time.Second
)

// Downloader multiplexes requests onto a Fetcher. At most Concurrency
// fetches are in flight at any moment; a slot is held until the underlying
// fetch returns, even after its handle resolved with a timeout.
type Downloader struct {
	fetcher crawler.Fetcher
	sem     *semaphore.Weighted
	timeout time.Duration
	logger  *zap.Logger
}

// New builds a Downloader around fetcher.
func New(fetcher crawler.Fetcher, cfg Config, logger *zap.Logger) *Downloader {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{
		fetcher: fetcher,
		sem:     semaphore.NewWeighted(int64(cfg.Concurrency)),
		timeout: cfg.Timeout,
		logger:  logger.Named("downloader"),
	}
}

// Get schedules every request and returns one handle per request, in order.
// Slots are granted in submission order. It never blocks on the network.
func (d *Downloader) Get(ctx context.Context, reqs ...crawler.Request) []*Pending {
	out := make([]*Pending, len(reqs))
	for i, req := range reqs {
		out[i] = newPending(req)
	}
	go d.schedule(ctx, out)
	return out
}

type outcome struct {
	resp crawler.Response
	err  error
}

// schedule acquires one slot per handle, strictly in order, and starts each
// fetch once its slot is held. Handles still waiting when ctx ends resolve
// with *crawler.FetchError.
func (d *Downloader) schedule(ctx context.Context, pending []*Pending) {
	for i, p := range pending {
		if err := d.sem.Acquire(ctx, 1); err != nil {
			for _, rest := range pending[i:] {
				rest.resolve(crawler.Response{}, &crawler.FetchError{Request: rest.req, Err: err})
			}
			return
		}
		go d.run(ctx, p)
	}
}

// run owns one acquired slot and releases it when the transport returns.
func (d *Downloader) run(ctx context.Context, p *Pending) {
	req := p.req
	fetchCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	results := make(chan outcome, 1)
	go func() {
		defer d.sem.Release(1)
		results <- d.fetch(fetchCtx, req)
	}()

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	select {
	case out := <-results:
		p.resolve(out.resp, out.err)
	case <-timer.C:
		d.logger.Debug("fetch timed out", zap.Stringer("request", req), zap.Duration("timeout", d.timeout))
		p.resolve(crawler.Response{}, &crawler.FetchTimeoutError{Request: req, Timeout: d.timeout})
	case <-ctx.Done():
		p.resolve(crawler.Response{}, &crawler.FetchError{Request: req, Err: ctx.Err()})
	}
}

// fetch calls the transport and normalizes its result into the error types
// the rest of the engine understands.
func (d *Downloader) fetch(ctx context.Context, req crawler.Request) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("fetcher panicked", zap.Stringer("request", req), zap.Any("panic", r))
			out = outcome{err: &crawler.FetchError{Request: req, Err: fmt.Errorf("fetcher panic: %v", r)}}
		}
	}()

	resp, err := d.fetcher.Fetch(ctx, req)
	if err == nil {
		return outcome{resp: resp}
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
		return outcome{err: &crawler.FetchTimeoutError{Request: req, Timeout: d.timeout}}
	}
	var fe *crawler.FetchError
	if errors.As(err, &fe) {
		return outcome{err: err}
	}
	return outcome{err: &crawler.FetchError{Request: req, Err: err}}
}

// Pending is a deferred fetch result. It resolves exactly once.
type Pending struct {
	req  crawler.Request
	done chan struct{}
	resp crawler.Response
	err  error
}

func newPending(req crawler.Request) *Pending {
	return &Pending{req: req, done: make(chan struct{})}
}

func (p *Pending) resolve(resp crawler.Response, err error) {
	p.resp, p.err = resp, err
	close(p.done)
}

// Request returns the request this handle tracks.
func (p *Pending) Request() crawler.Request { return p.req }

// Done is closed once the result is available.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the fetch resolves or ctx ends. Abandoning the wait does
// not cancel the fetch; cancel the context passed to Get for that.
func (p *Pending) Wait(ctx context.Context) (crawler.Response, error) {
	select {
	case <-p.done:
		return p.resp, p.err
	case <-ctx.Done():
		return crawler.Response{}, fmt.Errorf("wait for %s: %w", p.req.URL(), ctx.Err())
	}
}
