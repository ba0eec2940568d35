// Package metrics exposes Prometheus collectors for the crawler.
package metrics

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns every crawler collector. All methods are safe on a nil
// receiver so components can run without metrics.
type Recorder struct {
	gatherer prometheus.Gatherer

	requestsStarted  *prometheus.CounterVec
	requestsFinished *prometheus.CounterVec
	exceptions       *prometheus.CounterVec
	fetchDuration    *prometheus.HistogramVec
	fetchBytes       *prometheus.CounterVec
	rateLimitDelay   *prometheus.HistogramVec

	itemsParsed   *prometheus.CounterVec
	itemsDropped  *prometheus.CounterVec
	itemsExported prometheus.Counter
	itemsImported prometheus.Counter
	itemsArchived prometheus.Counter

	queueSize     prometheus.Gauge
	activeWorkers prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New registers the collectors against reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	r := &Recorder{
		gatherer: reg,
		requestsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "listcrawler_requests_started_total",
			Help: "Requests handed to the downloader, by kind.",
		}, []string{"kind"}),
		requestsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "listcrawler_requests_finished_total",
			Help: "Requests that produced a response, by kind and status class.",
		}, []string{"kind", "status_class"}),
		exceptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "listcrawler_exceptions_total",
			Help: "Failures routed through the exception hooks, by type.",
		}, []string{"type"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "listcrawler_fetch_duration_seconds",
			Help:    "Download duration by site.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"site"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "listcrawler_fetch_bytes_total",
			Help: "Bytes downloaded by site.",
		}, []string{"site"}),
		rateLimitDelay: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "listcrawler_rate_limit_delay_seconds",
			Help:    "Time spent waiting for a per-host rate limit token.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"site"}),
		itemsParsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "listcrawler_items_parsed_total",
			Help: "Items extracted, by partition.",
		}, []string{"partition"}),
		itemsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "listcrawler_items_dropped_total",
			Help: "Items dropped by a pipeline stage, by stage and reason.",
		}, []string{"stage", "reason"}),
		itemsExported: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "listcrawler_items_exported_total",
			Help: "Items appended to the export topic.",
		}),
		itemsImported: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "listcrawler_items_imported_total",
			Help: "Items inserted into the relational store.",
		}),
		itemsArchived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "listcrawler_items_archived_total",
			Help: "Items written to blob storage.",
		}),
		queueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "listcrawler_queue_size",
			Help: "Pending requests in the work queue.",
		}),
		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "listcrawler_active_workers",
			Help: "Workers currently processing a request.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Ops API requests by method and code.",
		}, []string{"method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Ops API latencies by method and route.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"method", "route"}),
	}
	for _, collector := range []prometheus.Collector{
		r.requestsStarted,
		r.requestsFinished,
		r.exceptions,
		r.fetchDuration,
		r.fetchBytes,
		r.rateLimitDelay,
		r.itemsParsed,
		r.itemsDropped,
		r.itemsExported,
		r.itemsImported,
		r.itemsArchived,
		r.queueSize,
		r.activeWorkers,
		r.httpRequests,
		r.httpDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register crawler collector: %w", err)
		}
	}
	return r, nil
}

// Handler exposes the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

// SanitizeSite extracts a lowercase hostname from a URL, or "unknown".
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// StatusClass buckets an HTTP status code as "2xx", "4xx" and so on.
func StatusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}

// RequestStarted counts a request entering the downloader.
func (r *Recorder) RequestStarted(kind string) {
	if r == nil {
		return
	}
	r.requestsStarted.WithLabelValues(kind).Inc()
}

// RequestFinished counts a delivered response.
func (r *Recorder) RequestFinished(kind, rawURL string, status, size int, took time.Duration) {
	if r == nil {
		return
	}
	site := SanitizeSite(rawURL)
	r.requestsFinished.WithLabelValues(kind, StatusClass(status)).Inc()
	r.fetchDuration.WithLabelValues(site).Observe(took.Seconds())
	if size > 0 {
		r.fetchBytes.WithLabelValues(site).Add(float64(size))
	}
}

// Exception counts a failure by its error type name.
func (r *Recorder) Exception(kind string) {
	if r == nil {
		return
	}
	r.exceptions.WithLabelValues(kind).Inc()
}

// RateLimitDelay records a wait imposed by the per-host limiter.
func (r *Recorder) RateLimitDelay(rawURL string, d time.Duration) {
	if r == nil {
		return
	}
	r.rateLimitDelay.WithLabelValues(SanitizeSite(rawURL)).Observe(d.Seconds())
}

// ItemParsed counts an item leaving extraction.
func (r *Recorder) ItemParsed(partition string) {
	if r == nil {
		return
	}
	r.itemsParsed.WithLabelValues(partition).Inc()
}

// ItemDropped counts an item a stage dropped ("drop") or failed ("error").
func (r *Recorder) ItemDropped(stage, reason string) {
	if r == nil {
		return
	}
	r.itemsDropped.WithLabelValues(stage, reason).Inc()
}

// ItemExported counts an item appended to the export topic.
func (r *Recorder) ItemExported() {
	if r == nil {
		return
	}
	r.itemsExported.Inc()
}

// ItemsImported counts rows inserted into the relational store.
func (r *Recorder) ItemsImported(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.itemsImported.Add(float64(n))
}

// ItemArchived counts an item written to blob storage.
func (r *Recorder) ItemArchived() {
	if r == nil {
		return
	}
	r.itemsArchived.Inc()
}

// QueueSize sets the pending-queue gauge.
func (r *Recorder) QueueSize(n int64) {
	if r == nil {
		return
	}
	r.queueSize.Set(float64(n))
}

// IncActiveWorkers increments the active workers gauge.
func (r *Recorder) IncActiveWorkers() {
	if r == nil {
		return
	}
	r.activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func (r *Recorder) DecActiveWorkers() {
	if r == nil {
		return
	}
	r.activeWorkers.Dec()
}

// ObserveHTTPRequest records one ops API request.
func (r *Recorder) ObserveHTTPRequest(method, route string, code int, took time.Duration) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	r.httpDuration.WithLabelValues(method, route).Observe(took.Seconds())
}
