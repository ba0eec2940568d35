package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/listcrawler/internal/crawler"
	"github.com/JakeFAU/listcrawler/internal/metrics"
)

// Option configures a registered stage.
type Option func(*entry)

// Critical makes a failure of the stage fatal to the crawl session.
func Critical() Option {
	return func(e *entry) { e.critical = true }
}

type entry struct {
	stage    Stage
	critical bool
}

// Chain runs stages in registration order. Start, Stop and Close run at most
// once each.
type Chain struct {
	entries []entry
	logger  *zap.Logger
	metrics *metrics.Recorder

	startOnce sync.Once
	stopOnce  sync.Once
	closeOnce sync.Once
	startErr  error
	stopErr   error
	closeErr  error
}

// NewChain returns an empty chain.
func NewChain() *Chain {
	return &Chain{logger: zap.NewNop()}
}

// Add registers stage after the stages already present.
func (c *Chain) Add(stage Stage, opts ...Option) *Chain {
	e := entry{stage: stage}
	for _, opt := range opts {
		opt(&e)
	}
	c.entries = append(c.entries, e)
	return c
}

// Names lists the stages in order.
func (c *Chain) Names() []string {
	out := make([]string, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.stage.Name()
	}
	return out
}

// Start binds the runtime logger and recorder and starts every stage in
// order, stopping at the first failure.
func (c *Chain) Start(ctx context.Context, rt *crawler.Runtime) error {
	c.startOnce.Do(func() {
		if rt != nil {
			if rt.Logger != nil {
				c.logger = rt.Logger.Named("pipeline")
			}
			c.metrics = rt.Metrics
		}
		for _, e := range c.entries {
			if err := e.stage.Start(ctx, rt); err != nil {
				c.startErr = fmt.Errorf("start stage %s: %w", e.stage.Name(), err)
				return
			}
		}
	})
	return c.startErr
}

// Process passes item through every stage. It returns the final item, or nil
// when a stage dropped or rejected it. Only failures of critical stages are
// returned, as *crawler.PipelineStageError.
func (c *Chain) Process(ctx context.Context, item *crawler.Item) (*crawler.Item, error) {
	for _, e := range c.entries {
		name := e.stage.Name()
		out, err := e.stage.Process(ctx, item)
		if err == nil && out != nil && !out.SameOrigin(item) {
			err = fmt.Errorf("stage changed item origin from %s to %s", item.URL(), out.URL())
		}
		switch {
		case errors.Is(err, ErrDrop), err == nil && out == nil:
			c.logger.Debug("item dropped", zap.String("stage", name), zap.String("url", item.URL()))
			c.metrics.ItemDropped(name, "drop")
			return nil, nil
		case err != nil:
			stageErr := &crawler.PipelineStageError{
				Stage:    name,
				URL:      item.URL(),
				Critical: e.critical,
				Err:      err,
			}
			c.logger.Error("pipeline stage failed",
				zap.String("stage", name),
				zap.String("url", item.URL()),
				zap.Bool("critical", e.critical),
				zap.Error(err),
			)
			c.metrics.ItemDropped(name, "error")
			if e.critical {
				return nil, stageErr
			}
			return nil, nil
		}
		item = out
	}
	return item, nil
}

// Stop stops every stage even if some fail.
func (c *Chain) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() {
		var errs []error
		for _, e := range c.entries {
			if err := e.stage.Stop(ctx); err != nil {
				errs = append(errs, fmt.Errorf("stop stage %s: %w", e.stage.Name(), err))
			}
		}
		c.stopErr = errors.Join(errs...)
	})
	return c.stopErr
}

// Close closes every stage even if some fail.
func (c *Chain) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		var errs []error
		for _, e := range c.entries {
			if err := e.stage.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("close stage %s: %w", e.stage.Name(), err))
			}
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}
