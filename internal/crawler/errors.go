package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRequest marks a request that cannot be enqueued, typically
// because it has no identity.
var ErrInvalidRequest = errors.New("invalid request")

// QueueUnavailableError reports that the queue store could not be reached.
// It is fatal to the current engine iteration.
type QueueUnavailableError struct {
	Op  string
	Err error
}

func (e *QueueUnavailableError) Error() string {
	return fmt.Sprintf("queue unavailable during %s: %v", e.Op, e.Err)
}

func (e *QueueUnavailableError) Unwrap() error { return e.Err }

// FetchError reports a failed download for one request.
type FetchError struct {
	Request    Request
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.Request.URL(), e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Request.URL(), e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// FetchTimeoutError reports that a download exceeded its per-request timeout.
type FetchTimeoutError struct {
	Request Request
	Timeout time.Duration
}

func (e *FetchTimeoutError) Error() string {
	return fmt.Sprintf("fetch %s: timed out after %s", e.Request.URL(), e.Timeout)
}

// Unwrap exposes the deadline so errors.Is(err, context.DeadlineExceeded) holds.
func (e *FetchTimeoutError) Unwrap() error { return context.DeadlineExceeded }

// ExtractionError reports a malformed page. The response yields nothing.
type ExtractionError struct {
	Request Request
	Err     error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Request.URL(), e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// PipelineStageError reports a sink failure for one item.
type PipelineStageError struct {
	Stage    string
	URL      string
	Critical bool
	Err      error
}

func (e *PipelineStageError) Error() string {
	return fmt.Sprintf("pipeline stage %s failed for %s: %v", e.Stage, e.URL, e.Err)
}

func (e *PipelineStageError) Unwrap() error { return e.Err }

// IsFatal reports whether err must stop the crawl session.
func IsFatal(err error) bool {
	var qe *QueueUnavailableError
	if errors.As(err, &qe) {
		return true
	}
	var pe *PipelineStageError
	return errors.As(err, &pe) && pe.Critical
}
