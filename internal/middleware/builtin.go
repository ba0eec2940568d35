package middleware

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/listcrawler/internal/crawler"
	"github.com/JakeFAU/listcrawler/internal/metrics"
	"github.com/JakeFAU/listcrawler/internal/policy/ratelimit"
)

// LogException logs every failure on the "exceptions" logger and lets it
// propagate.
type LogException struct {
	Base
	logger *zap.Logger
}

// NewLogException returns a LogException writing to logger. When logger is
// nil the runtime logger handed to Start is used.
func NewLogException(logger *zap.Logger) *LogException {
	l := &LogException{}
	if logger != nil {
		l.logger = logger.Named("exceptions")
	}
	return l
}

// Start picks up the runtime logger if none was given.
func (l *LogException) Start(_ context.Context, rt *crawler.Runtime) error {
	if l.logger == nil && rt != nil && rt.Logger != nil {
		l.logger = rt.Logger.Named("exceptions")
	}
	return nil
}

// ProcessException logs err and propagates it.
func (l *LogException) ProcessException(_ context.Context, req crawler.Request, err error) (*crawler.Response, error) {
	if l.logger != nil {
		l.logger.Warn("request failed",
			zap.String("url", req.URL()),
			zap.Stringer("kind", req.Kind()),
			zap.String("partition", req.PartitionKey()),
			zap.String("type", ErrorType(err)),
			zap.Error(err),
		)
	}
	return nil, err
}

// Metrics counts requests started and finished and failures by type.
type Metrics struct {
	Base
	rec *metrics.Recorder
}

// NewMetrics returns a Metrics middleware. When rec is nil the runtime
// recorder handed to Start is used.
func NewMetrics(rec *metrics.Recorder) *Metrics {
	return &Metrics{rec: rec}
}

// Start picks up the runtime recorder if none was given.
func (m *Metrics) Start(_ context.Context, rt *crawler.Runtime) error {
	if m.rec == nil && rt != nil {
		m.rec = rt.Metrics
	}
	return nil
}

// ProcessRequest counts a started request.
func (m *Metrics) ProcessRequest(_ context.Context, req crawler.Request) (crawler.Request, error) {
	m.rec.RequestStarted(req.Kind().String())
	return req, nil
}

// ProcessResponse counts a finished request.
func (m *Metrics) ProcessResponse(_ context.Context, resp crawler.Response) (crawler.Response, error) {
	meta := resp.Meta()
	req := resp.Request()
	m.rec.RequestFinished(req.Kind().String(), req.URL(), meta.StatusCode, resp.Len(), meta.Duration)
	return resp, nil
}

// ProcessException counts the failure by type and propagates it.
func (m *Metrics) ProcessException(_ context.Context, _ crawler.Request, err error) (*crawler.Response, error) {
	m.rec.Exception(ErrorType(err))
	return nil, err
}

// RateLimit delays requests with a per-host token bucket.
type RateLimit struct {
	Base
	limiter *ratelimit.Limiter
}

// NewRateLimit wraps limiter.
func NewRateLimit(limiter *ratelimit.Limiter) *RateLimit {
	return &RateLimit{limiter: limiter}
}

// ProcessRequest waits for a token. The wait ends with ctx.
func (r *RateLimit) ProcessRequest(ctx context.Context, req crawler.Request) (crawler.Request, error) {
	if err := r.limiter.Wait(ctx, req.URL()); err != nil {
		return crawler.Request{}, fmt.Errorf("throttle %s: %w", req.URL(), err)
	}
	return req, nil
}

// ErrorType names the most specific crawler error in err's chain, falling
// back to the dynamic type of err.
func ErrorType(err error) string {
	var (
		timeout    *crawler.FetchTimeoutError
		fetch      *crawler.FetchError
		extraction *crawler.ExtractionError
		queue      *crawler.QueueUnavailableError
	)
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &timeout):
		return "FetchTimeoutError"
	case errors.As(err, &fetch):
		return "FetchError"
	case errors.As(err, &extraction):
		return "ExtractionError"
	case errors.As(err, &queue):
		return "QueueUnavailableError"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Canceled"
	}
	return strings.TrimPrefix(reflect.TypeOf(err).String(), "*")
}
