package postgres

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/listcrawler/internal/crawler"
	"github.com/JakeFAU/listcrawler/internal/metrics"
)

const defaultBatchSize = 100

// StoreStage buffers items and inserts them in batches. The remaining buffer
// is flushed on Stop.
type StoreStage struct {
	store     *ItemStore
	batchSize int
	logger    *zap.Logger
	metrics   *metrics.Recorder

	mu      sync.Mutex
	pending []*crawler.Item
}

// NewStoreStage writes through store in batches of batchSize.
func NewStoreStage(store *ItemStore, batchSize int) *StoreStage {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &StoreStage{store: store, batchSize: batchSize, logger: zap.NewNop()}
}

// Name implements pipeline.Stage.
func (*StoreStage) Name() string { return "postgres" }

// Start ensures the table exists.
func (s *StoreStage) Start(ctx context.Context, rt *crawler.Runtime) error {
	if rt != nil {
		if rt.Logger != nil {
			s.logger = rt.Logger.Named("postgres")
		}
		s.metrics = rt.Metrics
	}
	return s.store.EnsureSchema(ctx)
}

// Process buffers a copy of the item and flushes a full batch.
func (s *StoreStage) Process(ctx context.Context, item *crawler.Item) (*crawler.Item, error) {
	s.mu.Lock()
	s.pending = append(s.pending, item.Clone())
	var batch []*crawler.Item
	if len(s.pending) >= s.batchSize {
		batch = s.pending
		s.pending = nil
	}
	s.mu.Unlock()

	if batch != nil {
		if err := s.flush(ctx, batch); err != nil {
			return nil, err
		}
	}
	return item, nil
}

// Stop inserts whatever is still buffered.
func (s *StoreStage) Stop(ctx context.Context) error {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}
	return s.flush(ctx, batch)
}

// Close releases the pool.
func (s *StoreStage) Close(context.Context) error {
	s.store.Close()
	return nil
}

func (s *StoreStage) flush(ctx context.Context, batch []*crawler.Item) error {
	n, err := s.store.InsertBatch(ctx, batch)
	if err != nil {
		return fmt.Errorf("insert %d items: %w", len(batch), err)
	}
	s.metrics.ItemsImported(n)
	s.logger.Debug("batch stored", zap.Int("items", n), zap.Int("skipped", len(batch)-n))
	return nil
}
