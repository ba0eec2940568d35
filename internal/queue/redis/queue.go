// Package redis implements the durable work queue on Redis. The seen-set and
// the pending list live under a shared key prefix so several processes can
// cooperate on one crawl and a restarted process resumes where it stopped.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/listcrawler/internal/crawler"
)

// putScript admits an entry only when its identity is new. SADD and RPUSH run
// in one atomic step so two workers can never enqueue the same identity.
var putScript = redis.NewScript(`
if redis.call("SADD", KEYS[1], ARGV[1]) == 1 then
  redis.call("RPUSH", KEYS[2], ARGV[2])
  return 1
end
return 0
`)

// Config tunes the queue.
type Config struct {
	KeyPrefix   string
	PollTimeout time.Duration
}

// Queue is a Redis backed crawler.Queue.
type Queue struct {
	client     redis.UniversalClient
	logger     *zap.Logger
	seenKey    string
	pendingKey string
	poll       time.Duration
}

// New wraps an existing client. The caller owns the client's lifetime.
func New(client redis.UniversalClient, cfg Config, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "listcrawler"
	}
	poll := cfg.PollTimeout
	if poll <= 0 {
		poll = time.Second
	}
	return &Queue{
		client:     client,
		logger:     logger.Named("queue"),
		seenKey:    prefix + ":seen",
		pendingKey: prefix + ":pending",
		poll:       poll,
	}
}

// Put admits every request whose identity is new. All requests are validated
// and encoded before anything is written.
func (q *Queue) Put(ctx context.Context, reqs ...crawler.Request) error {
	entries := make([][]byte, len(reqs))
	for i, req := range reqs {
		data, err := crawler.EncodeEntry(req)
		if err != nil {
			return err
		}
		entries[i] = data
	}

	for i, req := range reqs {
		added, err := putScript.Run(ctx, q.client, []string{q.seenKey, q.pendingKey}, req.Identity(), entries[i]).Int()
		if err != nil {
			return &crawler.QueueUnavailableError{Op: "put", Err: err}
		}
		if added == 0 {
			q.logger.Debug("duplicate request ignored", zap.Stringer("request", req))
		}
	}
	return nil
}

// Get blocks until a request is available. BLPOP is issued with a bounded
// timeout so cancellation of ctx is observed between polls.
func (q *Queue) Get(ctx context.Context) (crawler.Request, error) {
	for {
		if err := ctx.Err(); err != nil {
			return crawler.Request{}, fmt.Errorf("dequeue canceled: %w", err)
		}
		res, err := q.client.BLPop(ctx, q.poll, q.pendingKey).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return crawler.Request{}, fmt.Errorf("dequeue canceled: %w", ctxErr)
			}
			return crawler.Request{}, &crawler.QueueUnavailableError{Op: "get", Err: err}
		}
		// res is [key, value].
		if len(res) != 2 {
			continue
		}
		req, err := crawler.DecodeEntry([]byte(res[1]))
		if err != nil {
			q.logger.Warn("skipping undecodable queue entry", zap.Error(err))
			continue
		}
		return req, nil
	}
}

// Size returns the number of pending requests.
func (q *Queue) Size(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.pendingKey).Result()
	if err != nil {
		return 0, &crawler.QueueUnavailableError{Op: "size", Err: err}
	}
	return n, nil
}

// Clear drops the pending list and the seen set.
func (q *Queue) Clear(ctx context.Context) error {
	if err := q.client.Del(ctx, q.seenKey, q.pendingKey).Err(); err != nil {
		return &crawler.QueueUnavailableError{Op: "clear", Err: err}
	}
	return nil
}

// Ping reports whether the store is reachable.
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return &crawler.QueueUnavailableError{Op: "ping", Err: err}
	}
	return nil
}
