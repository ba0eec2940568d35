package postgres

import (
	"context"
	"fmt"
	"iter"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listcrawler/internal/codec"
	"github.com/JakeFAU/listcrawler/internal/crawler"
	"github.com/JakeFAU/listcrawler/internal/metrics"
)

// ImportConfig controls an import run.
type ImportConfig struct {
	BatchSize int
	// FlushInterval inserts a partial batch once it has waited this long.
	FlushInterval time.Duration
}

// Importer moves exported items from a byte stream into the store.
type Importer struct {
	store   *ItemStore
	cfg     ImportConfig
	logger  *zap.Logger
	metrics *metrics.Recorder
	now     func() time.Time
}

// NewImporter returns an Importer writing to store.
func NewImporter(store *ItemStore, cfg ImportConfig, logger *zap.Logger, rec *metrics.Recorder) *Importer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{
		store:   store,
		cfg:     cfg,
		logger:  logger.Named("import"),
		metrics: rec,
		now:     time.Now,
	}
}

// Run decodes every value in values and inserts them in batches. Undecodable
// values are logged and skipped. It returns the number of rows inserted.
func (im *Importer) Run(ctx context.Context, values iter.Seq2[[]byte, error]) (int, error) {
	if err := im.store.EnsureSchema(ctx); err != nil {
		return 0, err
	}

	var (
		total      int
		batch      = make([]*crawler.Item, 0, im.cfg.BatchSize)
		batchStart time.Time
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := im.store.InsertBatch(ctx, batch)
		if err != nil {
			return fmt.Errorf("import batch: %w", err)
		}
		total += n
		im.metrics.ItemsImported(n)
		im.logger.Info("batch imported", zap.Int("rows", n), zap.Int("total", total))
		batch = batch[:0]
		return nil
	}

	for value, err := range values {
		if err != nil {
			return total, err
		}
		item, err := codec.Unmarshal(value)
		if err != nil {
			im.logger.Warn("skipping undecodable item", zap.Error(err))
			continue
		}
		if len(batch) == 0 {
			batchStart = im.now()
		}
		batch = append(batch, item)
		due := im.cfg.FlushInterval > 0 && im.now().Sub(batchStart) >= im.cfg.FlushInterval
		if len(batch) >= im.cfg.BatchSize || due {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := flush(); err != nil {
		return total, err
	}
	return total, nil
}
