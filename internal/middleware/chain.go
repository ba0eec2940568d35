package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/listcrawler/internal/crawler"
)

// Chain runs middleware in registration order. Its lifecycle methods run at
// most once each, no matter how many times or from where they are called.
type Chain struct {
	mws []Middleware

	startOnce sync.Once
	stopOnce  sync.Once
	closeOnce sync.Once
	startErr  error
	stopErr   error
	closeErr  error
}

// NewChain builds a chain; nil entries are skipped.
func NewChain(mws ...Middleware) *Chain {
	c := &Chain{}
	for _, mw := range mws {
		if mw != nil {
			c.mws = append(c.mws, mw)
		}
	}
	return c
}

// Len returns the number of registered middleware.
func (c *Chain) Len() int { return len(c.mws) }

// ProcessRequest threads req through every middleware. The first error stops
// the chain.
func (c *Chain) ProcessRequest(ctx context.Context, req crawler.Request) (crawler.Request, error) {
	for _, mw := range c.mws {
		next, err := mw.ProcessRequest(ctx, req)
		if err != nil {
			return crawler.Request{}, err
		}
		req = next
	}
	return req, nil
}

// ProcessResponse threads resp through every middleware. The first error
// stops the chain.
func (c *Chain) ProcessResponse(ctx context.Context, resp crawler.Response) (crawler.Response, error) {
	for _, mw := range c.mws {
		next, err := mw.ProcessResponse(ctx, resp)
		if err != nil {
			return crawler.Response{}, err
		}
		resp = next
	}
	return resp, nil
}

// ProcessException offers err to each middleware until one swallows it or
// substitutes a response. With no middleware the error propagates.
func (c *Chain) ProcessException(ctx context.Context, req crawler.Request, err error) (*crawler.Response, error) {
	for _, mw := range c.mws {
		resp, next := mw.ProcessException(ctx, req, err)
		if resp != nil {
			return resp, nil
		}
		if next == nil {
			return nil, nil
		}
		err = next
	}
	return nil, err
}

// Start starts every Starter in order and stops at the first failure.
func (c *Chain) Start(ctx context.Context, rt *crawler.Runtime) error {
	c.startOnce.Do(func() {
		for _, mw := range c.mws {
			if s, ok := mw.(Starter); ok {
				if err := s.Start(ctx, rt); err != nil {
					c.startErr = fmt.Errorf("start middleware %T: %w", mw, err)
					return
				}
			}
		}
	})
	return c.startErr
}

// Stop calls every Stopper even if some fail.
func (c *Chain) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() {
		var errs []error
		for _, mw := range c.mws {
			if s, ok := mw.(Stopper); ok {
				if err := s.Stop(ctx); err != nil {
					errs = append(errs, fmt.Errorf("stop middleware %T: %w", mw, err))
				}
			}
		}
		c.stopErr = errors.Join(errs...)
	})
	return c.stopErr
}

// Close calls every Closer even if some fail.
func (c *Chain) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		var errs []error
		for _, mw := range c.mws {
			if cl, ok := mw.(Closer); ok {
				if err := cl.Close(ctx); err != nil {
					errs = append(errs, fmt.Errorf("close middleware %T: %w", mw, err))
				}
			}
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}
