// Package kafka implements the append-only export topic: items are appended
// as they are scraped and can later be replayed from the start of the topic.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// From selects where a stream starts.
type From int

// Stream start positions.
const (
	Earliest From = iota
	Latest
)

// StreamOptions configures Stream.
type StreamOptions struct {
	From From
	// GroupID joins a consumer group and commits each message after it has
	// been yielded. Without a group the first partition is read.
	GroupID string
	// IdleTimeout ends the stream once no message arrived for this long.
	// Zero waits forever.
	IdleTimeout time.Duration
}

// Config holds broker settings.
type Config struct {
	Brokers      []string
	BatchTimeout time.Duration
}

// Sink appends to and streams from Kafka topics.
type Sink struct {
	writer    messageWriter
	newReader func(topic string, opts StreamOptions) messageReader
	logger    *zap.Logger
}

// NewSink connects lazily to cfg.Brokers.
func NewSink(cfg Config, logger *zap.Logger) (*Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers not configured")
	}
	batch := cfg.BatchTimeout
	if batch <= 0 {
		batch = 10 * time.Millisecond
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           batch,
		AllowAutoTopicCreation: true,
	}
	brokers := append([]string(nil), cfg.Brokers...)
	newReader := func(topic string, opts StreamOptions) messageReader {
		start := kafka.FirstOffset
		if opts.From == Latest {
			start = kafka.LastOffset
		}
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers:     brokers,
			Topic:       topic,
			GroupID:     opts.GroupID,
			StartOffset: start,
			MinBytes:    1,
			MaxBytes:    10e6,
		})
		if opts.GroupID == "" && start == kafka.LastOffset {
			// StartOffset only applies to consumer groups.
			_ = r.SetOffset(kafka.LastOffset)
		}
		return r
	}
	return newSinkWithClients(writer, newReader, logger), nil
}

func newSinkWithClients(
	writer messageWriter,
	newReader func(string, StreamOptions) messageReader,
	logger *zap.Logger,
) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{writer: writer, newReader: newReader, logger: logger.Named("kafka")}
}

// Append writes value to topic and waits for the broker acknowledgement.
func (s *Sink) Append(ctx context.Context, topic string, value []byte) error {
	msg := kafka.Message{
		Topic: topic,
		Value: value,
		Time:  time.Now().UTC(),
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("append to %s: %w", topic, err)
	}
	return nil
}

// Close flushes pending writes and closes the writer.
func (s *Sink) Close() error {
	if err := s.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}

// Stream yields message values from topic in offset order. The sequence
// ends when the idle timeout elapses, the reader reaches EOF, or the consumer
// stops iterating. Cancellation of ctx is reported as an error.
func (s *Sink) Stream(ctx context.Context, topic string, opts StreamOptions) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		reader := s.newReader(topic, opts)
		defer func() {
			if err := reader.Close(); err != nil {
				s.logger.Warn("close kafka reader", zap.String("topic", topic), zap.Error(err))
			}
		}()

		for {
			msg, err := s.fetch(ctx, reader, opts.IdleTimeout)
			switch {
			case err == nil:
			case errors.Is(err, errIdle), errors.Is(err, io.EOF):
				return
			default:
				yield(nil, fmt.Errorf("stream %s: %w", topic, err))
				return
			}

			if !yield(msg.Value, nil) {
				return
			}
			if opts.GroupID != "" {
				if err := reader.CommitMessages(ctx, msg); err != nil {
					yield(nil, fmt.Errorf("commit %s offset %d: %w", topic, msg.Offset, err))
					return
				}
			}
		}
	}
}

var errIdle = errors.New("stream idle")

func (s *Sink) fetch(ctx context.Context, reader messageReader, idle time.Duration) (kafka.Message, error) {
	if idle <= 0 {
		return reader.FetchMessage(ctx)
	}
	fetchCtx, cancel := context.WithTimeout(ctx, idle)
	defer cancel()
	msg, err := reader.FetchMessage(fetchCtx)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return kafka.Message{}, errIdle
	}
	return msg, err
}
