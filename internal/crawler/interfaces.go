package crawler

import (
	"context"
	"iter"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listcrawler/internal/metrics"
)

// Queue is the deduplicating work queue shared by all workers.
type Queue interface {
	// Put enqueues requests whose identity has not been seen before. Already
	// seen identities are ignored.
	Put(ctx context.Context, reqs ...Request) error
	// Get blocks until a request is available or ctx ends.
	Get(ctx context.Context) (Request, error)
	Size(ctx context.Context) (int64, error)
	// Clear removes pending requests and forgets every seen identity.
	Clear(ctx context.Context) error
}

// Fetcher downloads a request. Implementations return *FetchError for
// transport failures and non-2xx statuses.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Response, error)
}

// Output is a value produced by an Extractor: a Request or an *Item.
type Output interface {
	isOutput()
}

// Extractor turns a response into follow-up requests and items. Yielding a
// non-nil error aborts extraction for that response.
type Extractor interface {
	Extract(resp Response) iter.Seq2[Output, error]
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator yields unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher computes digests for blob names.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Runtime carries the shared services handed to middleware and pipeline
// stages when they start.
type Runtime struct {
	Logger  *zap.Logger
	Metrics *metrics.Recorder
	Queue   Queue
}
