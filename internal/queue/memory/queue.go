// Package memory provides an in-process work queue for local development
// and tests. It has the same deduplication semantics as the Redis queue but
// nothing survives a restart.
package memory

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/listcrawler/internal/crawler"
)

// Queue is an unbounded FIFO with a seen-set.
type Queue struct {
	logger *zap.Logger

	mu      sync.Mutex
	seen    map[string]struct{}
	pending []crawler.Request
	wake    chan struct{}
}

// NewQueue constructs an empty queue.
func NewQueue(logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		logger: logger.Named("queue"),
		seen:   make(map[string]struct{}),
		wake:   make(chan struct{}),
	}
}

// Put admits requests whose identity is new.
func (q *Queue) Put(ctx context.Context, reqs ...crawler.Request) error {
	for _, req := range reqs {
		if err := req.Validate(); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue canceled: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	added := false
	for _, req := range reqs {
		if _, dup := q.seen[req.Identity()]; dup {
			q.logger.Debug("duplicate request ignored", zap.Stringer("request", req))
			continue
		}
		q.seen[req.Identity()] = struct{}{}
		q.pending = append(q.pending, req)
		added = true
	}
	if added {
		close(q.wake)
		q.wake = make(chan struct{})
	}
	return nil
}

// Get pops the oldest request, blocking until one arrives or ctx ends.
func (q *Queue) Get(ctx context.Context) (crawler.Request, error) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			req := q.pending[0]
			q.pending[0] = crawler.Request{}
			q.pending = q.pending[1:]
			q.mu.Unlock()
			return req, nil
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return crawler.Request{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-wake:
		}
	}
}

// Size returns the number of pending requests.
func (q *Queue) Size(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.pending)), nil
}

// Clear drops pending requests and forgets seen identities.
func (q *Queue) Clear(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = nil
	q.seen = make(map[string]struct{})
	return nil
}
