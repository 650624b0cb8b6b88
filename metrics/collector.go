// Package metrics exposes Prometheus collectors for the ledger, sign-ins,
// caches, background tasks and HTTP requests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wordcheck/points-engine/points"
)

// Collector implements the Recorder interfaces of points, signin, cache and
// tasks on top of one registry.
type Collector struct {
	gatherer prometheus.Gatherer

	mutations       *prometheus.CounterVec
	mutationSeconds *prometheus.HistogramVec
	storageRetries  *prometheus.CounterVec
	signIns         *prometheus.CounterVec
	cacheRequests   *prometheus.CounterVec
	tasksDropped    *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpSeconds     *prometheus.HistogramVec
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Collector {
	f := promauto.With(reg)
	return &Collector{
		gatherer: reg,
		mutations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "points_ledger_mutations_total",
				Help: "Ledger mutations labeled by operation, category and outcome",
			},
			[]string{"op", "category", "outcome"},
		),
		mutationSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "points_ledger_mutation_duration_seconds",
				Help:    "Duration of ledger mutations including retries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		storageRetries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "points_storage_retries_total",
				Help: "Units of work re-run after a storage conflict",
			},
			[]string{"op"},
		),
		signIns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "points_signins_total",
				Help: "Sign-in attempts labeled by outcome",
			},
			[]string{"outcome"},
		),
		cacheRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "points_cache_requests_total",
				Help: "Cache lookups labeled by cache and result",
			},
			[]string{"cache", "result"},
		),
		tasksDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "points_tasks_dropped_total",
				Help: "Background tasks dropped before running",
			},
			[]string{"task"},
		),
		httpRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "points_http_requests_total",
				Help: "HTTP requests labeled by route, method and status",
			},
			[]string{"route", "method", "status"},
		),
		httpSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "points_http_request_duration_seconds",
				Help:    "HTTP request latency by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}
}

// ObserveMutation implements points.Recorder.
func (c *Collector) ObserveMutation(op string, category points.Category, outcome string, d time.Duration) {
	c.mutations.WithLabelValues(op, string(category), outcome).Inc()
	c.mutationSeconds.WithLabelValues(op).Observe(d.Seconds())
}

// StorageRetry implements points.Recorder.
func (c *Collector) StorageRetry(op string) {
	c.storageRetries.WithLabelValues(op).Inc()
}

// ObserveSignIn implements signin.Recorder.
func (c *Collector) ObserveSignIn(outcome string) {
	c.signIns.WithLabelValues(outcome).Inc()
}

// CacheRequest implements cache.Recorder.
func (c *Collector) CacheRequest(cache, result string) {
	c.cacheRequests.WithLabelValues(cache, result).Inc()
}

// TaskDropped implements tasks.Recorder.
func (c *Collector) TaskDropped(name string) {
	c.tasksDropped.WithLabelValues(name).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency by chi route pattern, so
// path parameters do not explode label cardinality.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		c.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		c.httpSeconds.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
