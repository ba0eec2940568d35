// Package app builds and holds the long-lived services shared by the CLI
// commands, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	gcsstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/listcrawler/internal/api"
	"github.com/JakeFAU/listcrawler/internal/clock"
	"github.com/JakeFAU/listcrawler/internal/config"
	"github.com/JakeFAU/listcrawler/internal/crawler"
	"github.com/JakeFAU/listcrawler/internal/dispatcher"
	"github.com/JakeFAU/listcrawler/internal/downloader"
	"github.com/JakeFAU/listcrawler/internal/export/kafka"
	"github.com/JakeFAU/listcrawler/internal/extractor/classifieds"
	collyfetcher "github.com/JakeFAU/listcrawler/internal/fetcher/colly"
	"github.com/JakeFAU/listcrawler/internal/fetcher/headless"
	"github.com/JakeFAU/listcrawler/internal/headless/detector"
	"github.com/JakeFAU/listcrawler/internal/id/uuid"
	"github.com/JakeFAU/listcrawler/internal/logging"
	"github.com/JakeFAU/listcrawler/internal/metrics"
	"github.com/JakeFAU/listcrawler/internal/middleware"
	"github.com/JakeFAU/listcrawler/internal/pipeline"
	"github.com/JakeFAU/listcrawler/internal/policy/ratelimit"
	"github.com/JakeFAU/listcrawler/internal/queue/memory"
	redisqueue "github.com/JakeFAU/listcrawler/internal/queue/redis"
	"github.com/JakeFAU/listcrawler/internal/storage"
	"github.com/JakeFAU/listcrawler/internal/storage/gcs"
	"github.com/JakeFAU/listcrawler/internal/storage/local"
	memoryblob "github.com/JakeFAU/listcrawler/internal/storage/memory"
	"github.com/JakeFAU/listcrawler/internal/storage/postgres"
	"github.com/JakeFAU/listcrawler/internal/worker"
)

// App holds the shared services. Components that need external resources
// are built on demand so a command only connects to what it uses.
type App struct {
	Config   config.Config
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Recorder
	Queue    crawler.Queue
	IDs      crawler.IDGenerator
	Clock    crawler.Clock

	redis   redis.UniversalClient
	closers []io.Closer
}

// New builds the logger, metrics and queue from cfg.
func New(cfg config.Config) (*App, error) {
	logger, err := logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return nil, err
	}
	return NewWithLogger(cfg, logger)
}

// NewWithLogger is New with a caller-supplied logger.
func NewWithLogger(cfg config.Config, logger *zap.Logger) (*App, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("register go collector: %w", err)
	}
	rec, err := metrics.New(reg)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: reg,
		Metrics:  rec,
		IDs:      uuid.New(),
		Clock:    clock.System{},
	}

	switch cfg.Queue.Backend {
	case "memory":
		a.Queue = memory.NewQueue(logger)
	case "redis":
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, a.redis)
		a.Queue = redisqueue.New(a.redis, redisqueue.Config{
			KeyPrefix:   cfg.Queue.KeyPrefix,
			PollTimeout: cfg.Queue.PollTimeout,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}

	logger.Debug("app initialized", zap.String("queue", cfg.Queue.Backend))
	return a, nil
}

// Fetcher builds the configured transport. Any headless browser is closed
// with the App.
func (a *App) Fetcher() (crawler.Fetcher, error) {
	d := a.Config.Downloader
	header := http.Header{}
	header.Set("Accept-Language", "en-US,en;q=0.9")
	httpFetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     d.UserAgent,
		RespectRobots: d.RespectRobots,
		Timeout:       d.Timeout,
		Headers:       header,
	})
	if d.Engine == "http" {
		return httpFetcher, nil
	}

	hf, err := headless.NewChromedp(headless.Config{
		MaxParallel:       d.Concurrency,
		UserAgent:         d.UserAgent,
		NavigationTimeout: d.Timeout,
		Headers:           header,
		SettleDelay:       d.SettleDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("start headless fetcher: %w", err)
	}
	a.closers = append(a.closers, hf)
	if d.Engine == "auto" {
		return detector.NewPromoting(httpFetcher, hf, detector.NewHeuristic(d.PromoteThreshold), a.Logger), nil
	}
	return hf, nil
}

// Middleware builds the fetch middleware chain.
func (a *App) Middleware() *middleware.Chain {
	mws := []middleware.Middleware{
		middleware.NewLogException(a.Logger),
		middleware.NewMetrics(a.Metrics),
	}
	if rl := a.Config.RateLimit; rl.Enabled {
		limiter := ratelimit.New(ratelimit.Config{
			DefaultRPS:   rl.RPS,
			DefaultBurst: rl.Burst,
			Hosts:        rl.HostRates(),
		}, a.Metrics)
		mws = append([]middleware.Middleware{middleware.NewRateLimit(limiter)}, mws...)
	}
	return middleware.NewChain(mws...)
}

// Pipeline builds the item pipeline from the enabled sinks. Once built, the
// stages own their sinks; if a later sink fails to build, the ones already
// opened are closed here.
func (a *App) Pipeline(ctx context.Context) (_ *pipeline.Chain, err error) {
	var opened []io.Closer
	defer func() {
		if err == nil || len(opened) == 0 {
			return
		}
		for i := len(opened) - 1; i >= 0; i-- {
			if cerr := opened[i].Close(); cerr != nil {
				a.Logger.Warn("close pipeline sink", zap.Error(cerr))
			}
		}
		a.Logger.Debug("pipeline build failed; sinks released", zap.Int("released", len(opened)))
	}()

	chain := pipeline.NewChain().
		Add(pipeline.NewLogStage(a.Logger)).
		Add(pipeline.NewMetricsStage(a.Metrics))

	if k := a.Config.Kafka; k.Enabled {
		sink, err := a.Sink()
		if err != nil {
			return nil, err
		}
		opened = append(opened, sink)
		var opts []pipeline.Option
		if k.Critical {
			opts = append(opts, pipeline.Critical())
		}
		chain.Add(kafka.NewExportStage(sink, k.Topic), opts...)
	}

	if a.Config.Postgres.Enabled {
		store, err := a.newItemStore(ctx)
		if err != nil {
			return nil, err
		}
		opened = append(opened, closerFunc(func() error { store.Close(); return nil }))
		chain.Add(postgres.NewStoreStage(store, a.Config.Postgres.BatchSize))
	}

	blobs, err := a.blobStore(ctx)
	if err != nil {
		return nil, err
	}
	if blobs != nil {
		chain.Add(storage.NewArchiveStage(blobs, a.Config.Archive.Prefix))
	}
	return chain, nil
}

// Dispatcher wires the whole crawl engine.
func (a *App) Dispatcher(ctx context.Context) (*dispatcher.Dispatcher, error) {
	fetcher, err := a.Fetcher()
	if err != nil {
		return nil, err
	}
	pipe, err := a.Pipeline(ctx)
	if err != nil {
		return nil, err
	}
	deps := worker.Deps{
		Queue: a.Queue,
		Downloader: downloader.New(fetcher, downloader.Config{
			Concurrency: a.Config.Downloader.Concurrency,
			Timeout:     a.Config.Downloader.Timeout,
		}, a.Logger),
		Extractor:  classifieds.New(a.Clock),
		Middleware: a.Middleware(),
		Pipeline:   pipe,
		Metrics:    a.Metrics,
	}
	return dispatcher.New(deps, dispatcher.Config{
		Workers:           a.Config.Crawler.Workers,
		QueueSizeInterval: a.Config.Metrics.QueueSizeInterval,
		ShutdownTimeout:   a.Config.Crawler.ShutdownTimeout,
		Worker:            worker.Config{MaxPage: a.Config.Crawler.MaxPage},
	}, a.Logger), nil
}

// APIServer builds the operator HTTP server.
func (a *App) APIServer() *http.Server {
	checks := map[string]api.Pinger{}
	if p, ok := a.Queue.(api.Pinger); ok {
		checks["queue"] = p
	}
	srv := api.NewServer(api.Deps{
		Queue:   a.Queue,
		Metrics: a.Metrics,
		IDs:     a.IDs,
		Checks:  checks,
	}, api.Options{
		APIKey:         a.Config.Server.APIKey,
		RequestTimeout: a.Config.Server.RequestTimeout,
		Partitions:     a.Config.Crawler.Partitions,
		URLTemplate:    a.Config.Crawler.URLTemplate,
	}, a.Logger)
	return &http.Server{
		Addr:              ":" + strconv.Itoa(a.Config.Server.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: a.Config.Server.RequestTimeout,
	}
}

// Sink builds a Kafka sink. Its writer is closed by the export stage when
// the stage stops, or by the App otherwise.
func (a *App) Sink() (*kafka.Sink, error) {
	sink, err := kafka.NewSink(kafka.Config{
		Brokers:      a.Config.Kafka.Brokers,
		BatchTimeout: a.Config.Kafka.BatchTimeout,
	}, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("kafka sink: %w", err)
	}
	return sink, nil
}

// Importer builds the Postgres importer used by dbimport.
func (a *App) Importer(ctx context.Context) (*postgres.Importer, error) {
	store, err := a.newItemStore(ctx)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closerFunc(func() error { store.Close(); return nil }))
	return postgres.NewImporter(store, postgres.ImportConfig{
		BatchSize:     a.Config.Postgres.BatchSize,
		FlushInterval: a.Config.Postgres.FlushInterval,
	}, a.Logger, a.Metrics), nil
}

func (a *App) newItemStore(ctx context.Context) (*postgres.ItemStore, error) {
	pg := a.Config.Postgres
	store, err := postgres.NewItemStore(ctx, postgres.Config{
		DSN:             pg.DSN,
		Table:           pg.Table,
		MaxConns:        pg.MaxConns,
		MinConns:        pg.MinConns,
		MaxConnLifetime: pg.MaxConnLifetime,
	}, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	return store, nil
}

func (a *App) blobStore(ctx context.Context) (storage.BlobStore, error) {
	arc := a.Config.Archive
	switch arc.Backend {
	case "":
		return nil, nil
	case "memory":
		return memoryblob.NewBlobStore(), nil
	case "local":
		store, err := local.New(local.Config{BaseDir: arc.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local archive: %w", err)
		}
		return store, nil
	case "gcs":
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: arc.GCSBucket})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("gcs archive: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown archive backend %q", arc.Backend)
	}
}

// Ping checks the queue store when it is remote.
func (a *App) Ping(ctx context.Context) error {
	if a.redis == nil {
		return nil
	}
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return &crawler.QueueUnavailableError{Op: "ping", Err: err}
	}
	return nil
}

// Close releases every resource the App opened, in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := a.Logger.Sync(); err != nil {
		a.Logger.Debug("sync logger", zap.Error(err))
	}
	return errors.Join(errs...)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
