package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/listcrawler/internal/crawler"
	"github.com/JakeFAU/listcrawler/internal/metrics"
)

// LogStage logs every item at debug level.
type LogStage struct {
	Base
	logger *zap.Logger
}

// NewLogStage returns a LogStage. The runtime logger is used when logger is nil.
func NewLogStage(logger *zap.Logger) *LogStage {
	return &LogStage{logger: logger}
}

// Name implements Stage.
func (*LogStage) Name() string { return "log" }

// Start picks up the runtime logger if none was given.
func (s *LogStage) Start(_ context.Context, rt *crawler.Runtime) error {
	if s.logger == nil && rt != nil {
		s.logger = rt.Logger
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger = s.logger.Named("items")
	return nil
}

// Process logs the item and passes it on.
func (s *LogStage) Process(_ context.Context, item *crawler.Item) (*crawler.Item, error) {
	fields := make([]zap.Field, 0, len(item.Fields())+2)
	fields = append(fields, zap.String("url", item.URL()), zap.String("partition", item.PartitionKey()))
	for _, f := range item.Fields() {
		fields = append(fields, zap.Any(f.Name, f.Value))
	}
	s.logger.Debug("item", fields...)
	return item, nil
}

// MetricsStage counts parsed items per partition.
type MetricsStage struct {
	Base
	rec *metrics.Recorder
}

// NewMetricsStage returns a MetricsStage. The runtime recorder is used when
// rec is nil.
func NewMetricsStage(rec *metrics.Recorder) *MetricsStage {
	return &MetricsStage{rec: rec}
}

// Name implements Stage.
func (*MetricsStage) Name() string { return "metrics" }

// Start picks up the runtime recorder if none was given.
func (s *MetricsStage) Start(_ context.Context, rt *crawler.Runtime) error {
	if s.rec == nil && rt != nil {
		s.rec = rt.Metrics
	}
	return nil
}

// Process counts the item and passes it on.
func (s *MetricsStage) Process(_ context.Context, item *crawler.Item) (*crawler.Item, error) {
	s.rec.ItemParsed(item.PartitionKey())
	return item, nil
}
