// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/listcrawler/internal/crawler"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	Headers       http.Header
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// fetchResult is filled by the collector callbacks.
type fetchResult struct {
	resp   crawler.Response
	status int
	err    error
}

// New builds a Fetcher. Clones share the transport, robots cache and
// cookie jar of the base collector.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET. Transport failures and non-2xx statuses
// return *crawler.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, req crawler.Request) (crawler.Response, error) {
	var result fetchResult
	collector := f.buildCollector(req, time.Now(), &result)

	status, err := f.runCollector(ctx, collector, req.URL(), &result)
	if err != nil {
		return crawler.Response{}, &crawler.FetchError{Request: req, StatusCode: status, Err: err}
	}
	return result.resp, nil
}

func (f *Fetcher) buildCollector(req crawler.Request, start time.Time, result *fetchResult) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	f.configureCollectorHooks(collector, req, start, result)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	req crawler.Request,
	start time.Time,
	result *fetchResult,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		var header http.Header
		if r.Headers != nil {
			header = *r.Headers
		}
		finalURL := req.URL()
		if r.Request != nil && r.Request.URL != nil {
			finalURL = r.Request.URL.String()
		}
		result.status = r.StatusCode
		result.resp = crawler.NewResponse(req, r.Body, crawler.Meta{
			StatusCode: r.StatusCode,
			Header:     header,
			FinalURL:   finalURL,
			FetchedAt:  time.Now().UTC(),
			Duration:   time.Since(start),
		})
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.status = r.StatusCode
		}
		result.err = err
	})
}

// runCollector visits url and returns the observed status with any failure.
// result is only read once Visit has returned.
func (f *Fetcher) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	url string,
	result *fetchResult,
) (int, error) {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if result.err != nil {
			return result.status, fmt.Errorf("colly response failed: %w", result.err)
		}
		if err != nil {
			return 0, fmt.Errorf("colly visit failed: %w", err)
		}
		return result.status, nil
	}
}

func (f *Fetcher) copyHeaders(r *colly.Request) {
	for key, values := range f.cfg.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
