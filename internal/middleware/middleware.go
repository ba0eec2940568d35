// Package middleware holds the hooks that run around every fetch. Hooks run
// in registration order and may rewrite requests and responses or decide the
// fate of a failure.
package middleware

import (
	"context"

	"github.com/JakeFAU/listcrawler/internal/crawler"
)

// Middleware intercepts the fetch of one request.
//
// ProcessException decides the fate of a failure:
//   - (nil, err) propagates err (possibly replaced) to the next middleware;
//   - (nil, nil) swallows the failure;
//   - (resp, nil) substitutes resp, which goes straight to extraction.
type Middleware interface {
	ProcessRequest(ctx context.Context, req crawler.Request) (crawler.Request, error)
	ProcessResponse(ctx context.Context, resp crawler.Response) (crawler.Response, error)
	ProcessException(ctx context.Context, req crawler.Request, err error) (*crawler.Response, error)
}

// Starter is implemented by middleware that acquire resources.
type Starter interface {
	Start(ctx context.Context, rt *crawler.Runtime) error
}

// Stopper is implemented by middleware that flush work on shutdown.
type Stopper interface {
	Stop(ctx context.Context) error
}

// Closer is implemented by middleware that release resources.
type Closer interface {
	Close(ctx context.Context) error
}

// Base passes everything through unchanged. Embed it to override only the
// hooks you need.
type Base struct{}

// ProcessRequest returns req.
func (Base) ProcessRequest(_ context.Context, req crawler.Request) (crawler.Request, error) {
	return req, nil
}

// ProcessResponse returns resp.
func (Base) ProcessResponse(_ context.Context, resp crawler.Response) (crawler.Response, error) {
	return resp, nil
}

// ProcessException propagates err.
func (Base) ProcessException(_ context.Context, _ crawler.Request, err error) (*crawler.Response, error) {
	return nil, err
}
