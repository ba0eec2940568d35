package kafka

import (
	"context"

	"github.com/JakeFAU/listcrawler/internal/codec"
	"github.com/JakeFAU/listcrawler/internal/crawler"
	"github.com/JakeFAU/listcrawler/internal/metrics"
)

// appender is the part of Sink the export stage needs.
type appender interface {
	Append(ctx context.Context, topic string, value []byte) error
	Close() error
}

// ExportStage appends every item to the export topic in msgpack form.
type ExportStage struct {
	sink    appender
	topic   string
	metrics *metrics.Recorder
}

// NewExportStage exports to topic through sink. The stage owns the sink and
// closes it on Stop.
func NewExportStage(sink *Sink, topic string) *ExportStage {
	return &ExportStage{sink: sink, topic: topic}
}

// Name implements pipeline.Stage.
func (*ExportStage) Name() string { return "export" }

// Start binds the runtime recorder.
func (s *ExportStage) Start(_ context.Context, rt *crawler.Runtime) error {
	if rt != nil {
		s.metrics = rt.Metrics
	}
	return nil
}

// Process encodes and appends the item.
func (s *ExportStage) Process(ctx context.Context, item *crawler.Item) (*crawler.Item, error) {
	data, err := codec.Marshal(item)
	if err != nil {
		return nil, err
	}
	if err := s.sink.Append(ctx, s.topic, data); err != nil {
		return nil, err
	}
	s.metrics.ItemExported()
	return item, nil
}

// Stop flushes and closes the writer.
func (s *ExportStage) Stop(context.Context) error {
	return s.sink.Close()
}

// Close does nothing; the writer is released by Stop.
func (*ExportStage) Close(context.Context) error { return nil }
