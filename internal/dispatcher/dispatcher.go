// Package dispatcher runs a pool of workers over the shared queue and owns
// the middleware and pipeline lifecycles.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/listcrawler/internal/crawler"
	"github.com/JakeFAU/listcrawler/internal/worker"
)

// Defaults applied when Config fields are zero.
const (
	DefaultWorkers           = 2
	DefaultQueueSizeInterval = 5 * time.Second
	DefaultShutdownTimeout   = 30 * time.Second
)

// Config controls the pool.
type Config struct {
	Workers           int
	QueueSizeInterval time.Duration
	ShutdownTimeout   time.Duration
	Worker            worker.Config
}

// Dispatcher fans queue work out to a pool of workers.
type Dispatcher struct {
	deps   worker.Deps
	cfg    Config
	logger *zap.Logger
}

// New creates a Dispatcher.
func New(deps worker.Deps, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSizeInterval <= 0 {
		cfg.QueueSizeInterval = DefaultQueueSizeInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{deps: deps, cfg: cfg, logger: logger}
}

// Run starts the middleware and pipeline hooks, then the workers, and blocks
// until ctx ends or a worker hits a fatal error. Stop and Close run on both
// chains on every exit path. Cancellation is not an error.
func (d *Dispatcher) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatcher panic: %v", r)
		}
		if shutdownErr := d.shutdown(ctx); shutdownErr != nil {
			d.logger.Error("shutdown", zap.Error(shutdownErr))
			if err == nil {
				err = shutdownErr
			}
		}
	}()

	rt := &crawler.Runtime{Logger: d.logger, Metrics: d.deps.Metrics, Queue: d.deps.Queue}
	if d.deps.Middleware != nil {
		if err := d.deps.Middleware.Start(ctx, rt); err != nil {
			return err
		}
	}
	if d.deps.Pipeline != nil {
		if err := d.deps.Pipeline.Start(ctx, rt); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range d.cfg.Workers {
		w := worker.New(i, d.deps, d.cfg.Worker, d.logger)
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error("worker panicked", zap.Int("worker", i), zap.Any("panic", r))
					err = fmt.Errorf("worker %d panic: %v", i, r)
				}
			}()
			return w.Run(gctx)
		})
	}
	g.Go(func() error {
		d.reportQueueSize(gctx)
		return nil
	})

	d.logger.Info("crawl started", zap.Int("workers", d.cfg.Workers))
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		d.logger.Error("crawl stopped on fatal error", zap.Error(err))
		return err
	}
	d.logger.Info("crawl stopped")
	return nil
}

// shutdown stops then closes both chains with a context detached from the
// caller so it still runs after cancellation.
func (d *Dispatcher) shutdown(ctx context.Context) error {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if d.deps.Middleware != nil {
		errs = append(errs, d.deps.Middleware.Stop(sctx))
	}
	if d.deps.Pipeline != nil {
		errs = append(errs, d.deps.Pipeline.Stop(sctx))
	}
	if d.deps.Middleware != nil {
		errs = append(errs, d.deps.Middleware.Close(sctx))
	}
	if d.deps.Pipeline != nil {
		errs = append(errs, d.deps.Pipeline.Close(sctx))
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) reportQueueSize(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.QueueSizeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := d.deps.Queue.Size(ctx)
			if err != nil {
				if ctx.Err() == nil {
					d.logger.Warn("queue size", zap.Error(err))
				}
				continue
			}
			d.deps.Metrics.QueueSize(n)
		}
	}
}
