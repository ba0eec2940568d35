// Package worker runs the crawl loop: dequeue, download, extract, enqueue
// follow-ups and hand items to the pipeline.
package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/listcrawler/internal/crawler"
	"github.com/JakeFAU/listcrawler/internal/downloader"
	"github.com/JakeFAU/listcrawler/internal/metrics"
	"github.com/JakeFAU/listcrawler/internal/middleware"
	"github.com/JakeFAU/listcrawler/internal/pipeline"
)

// DefaultMaxPage bounds pagination when Config.MaxPage is zero.
const DefaultMaxPage = 3

// Config controls Worker behavior.
type Config struct {
	// MaxPage is the last list page number that may be requested.
	MaxPage int
}

// Deps are the components a Worker drives. Middleware and Pipeline are
// shared between workers and started by the dispatcher.
type Deps struct {
	Queue      crawler.Queue
	Downloader *downloader.Downloader
	Extractor  crawler.Extractor
	Middleware *middleware.Chain
	Pipeline   *pipeline.Chain
	Metrics    *metrics.Recorder
}

// Worker consumes requests until its context ends or a fatal error occurs.
type Worker struct {
	id     int
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(id int, deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if cfg.MaxPage <= 0 {
		cfg.MaxPage = DefaultMaxPage
	}
	if deps.Middleware == nil {
		deps.Middleware = middleware.NewChain()
	}
	if deps.Pipeline == nil {
		deps.Pipeline = pipeline.NewChain()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:     id,
		deps:   deps,
		cfg:    cfg,
		logger: logger.Named("worker").With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming requests until ctx is done. It returns nil on
// cancellation and the error otherwise, which is always fatal.
func (w *Worker) Run(ctx context.Context) error {
	w.deps.Metrics.IncActiveWorkers()
	defer w.deps.Metrics.DecActiveWorkers()

	for {
		req, err := w.deps.Queue.Get(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := w.Handle(ctx, req); err != nil {
			if ctx.Err() != nil && !crawler.IsFatal(err) {
				return nil
			}
			return err
		}
	}
}

// Handle processes a single request. Only fatal errors are returned.
func (w *Worker) Handle(ctx context.Context, req crawler.Request) error {
	log := w.logger.With(zap.Stringer("request", req))
	log.Debug("request dequeued")

	resp, ok, err := w.download(ctx, req)
	if !ok {
		return err
	}

	outputs, err := w.extract(resp)
	if err != nil {
		extractErr := &crawler.ExtractionError{Request: resp.Request(), Err: err}
		sub, err := w.deps.Middleware.ProcessException(ctx, resp.Request(), extractErr)
		if err != nil {
			return w.escalate(log, err)
		}
		if sub != nil {
			log.Debug("extraction failure replaced by response; discarding it")
		}
		return nil
	}

	d := advance(resp.Request(), outputs, w.cfg.MaxPage)
	if d.dropped > 0 {
		log.Debug("outputs discarded", zap.Int("count", d.dropped))
	}
	if len(d.requests) > 0 {
		if err := w.deps.Queue.Put(ctx, d.requests...); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var unavailable *crawler.QueueUnavailableError
			if !errors.As(err, &unavailable) {
				err = &crawler.QueueUnavailableError{Op: "put", Err: err}
			}
			sub, err := w.deps.Middleware.ProcessException(ctx, resp.Request(), err)
			if err != nil {
				return w.escalate(log, err)
			}
			if sub != nil {
				log.Debug("queue failure replaced by response; discarding it")
			}
		}
	}
	for _, item := range d.items {
		if _, err := w.deps.Pipeline.Process(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

// download runs the request through the middleware and the downloader.
// ok is false when there is nothing to extract; err is then set only when
// the failure is fatal.
func (w *Worker) download(ctx context.Context, req crawler.Request) (crawler.Response, bool, error) {
	log := w.logger.With(zap.Stringer("request", req))

	prepared, err := w.deps.Middleware.ProcessRequest(ctx, req)
	if err != nil {
		return w.handleException(ctx, log, req, err)
	}

	resp, err := w.deps.Downloader.Get(ctx, prepared)[0].Wait(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return crawler.Response{}, false, nil
		}
		return w.handleException(ctx, log, prepared, err)
	}

	resp, err = w.deps.Middleware.ProcessResponse(ctx, resp)
	if err != nil {
		return w.handleException(ctx, log, prepared, err)
	}
	return resp, true, nil
}

// handleException offers err to the exception hooks. A substituted response is
// extracted as if it had been downloaded.
func (w *Worker) handleException(ctx context.Context, log *zap.Logger, req crawler.Request, err error) (crawler.Response, bool, error) {
	sub, err := w.deps.Middleware.ProcessException(ctx, req, err)
	if err != nil {
		return crawler.Response{}, false, w.escalate(log, err)
	}
	if sub == nil {
		return crawler.Response{}, false, nil
	}
	return *sub, true, nil
}

// escalate returns err when it is fatal and logs it otherwise.
func (w *Worker) escalate(log *zap.Logger, err error) error {
	if crawler.IsFatal(err) {
		return err
	}
	log.Warn("request failed", zap.Error(err))
	return nil
}

// extract collects every output, turning a panic into an error.
func (w *Worker) extract(resp crawler.Response) (outputs []crawler.Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			outputs = nil
			err = fmt.Errorf("extractor panic: %v", r)
		}
	}()
	for out, err := range w.deps.Extractor.Extract(resp) {
		if err != nil {
			return nil, err
		}
		if out != nil {
			outputs = append(outputs, out)
		}
	}
	return outputs, nil
}
