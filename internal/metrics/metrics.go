// Package metrics exposes Prometheus collectors for the uplens service.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal                 *prometheus.CounterVec
	itemsProcessedTotal       *prometheus.CounterVec
	collectorRequestsTotal    *prometheus.CounterVec
	collectorRequestSeconds   *prometheus.HistogramVec
	collectorRateLimitSeconds prometheus.Histogram
	schedulerDispatchedTotal  prometheus.Counter
	schedulerLockContended    prometheus.Counter
	alertsCreatedTotal        prometheus.Counter
	httpRequestsTotal         *prometheus.CounterVec
	httpRequestSeconds        *prometheus.HistogramVec

	once sync.Once
)

// Init registers the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uplens_runs_total",
				Help: "Total task runs, labeled by terminal status.",
			},
			[]string{"status"},
		)
		itemsProcessedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uplens_items_processed_total",
				Help: "Per-item pipeline outcomes.",
			},
			[]string{"result"},
		)
		collectorRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uplens_collector_requests_total",
				Help: "Outbound collector calls, labeled by endpoint and outcome.",
			},
			[]string{"endpoint", "outcome"},
		)
		collectorRequestSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "uplens_collector_request_duration_seconds",
				Help:    "Latency of outbound collector calls.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		)
		collectorRateLimitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "uplens_collector_rate_limit_wait_seconds",
				Help:    "Time spent waiting on the serial request pacer.",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5},
			},
		)
		schedulerDispatchedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "uplens_scheduler_dispatched_total",
				Help: "Run requests enqueued by the scheduler.",
			},
		)
		schedulerLockContended = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "uplens_scheduler_lock_contended_total",
				Help: "Due slots skipped because another replica held the lock.",
			},
		)
		alertsCreatedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "uplens_alerts_created_total",
				Help: "Alerts created by the failure policy.",
			},
		)
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uplens_http_requests_total",
				Help: "Inbound HTTP requests, labeled by method, route and status.",
			},
			[]string{"method", "route", "status"},
		)
		httpRequestSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "uplens_http_request_duration_seconds",
				Help:    "Latency of inbound HTTP requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		)
	})
}

// ObserveRun records a finalized run status.
func ObserveRun(status string) {
	Init()
	runsTotal.WithLabelValues(status).Inc()
}

// ObserveItem records a per-item pipeline outcome.
func ObserveItem(result string) {
	Init()
	itemsProcessedTotal.WithLabelValues(result).Inc()
}

// ObserveCollectorRequest records one outbound call.
func ObserveCollectorRequest(endpoint, outcome string, duration time.Duration) {
	Init()
	collectorRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
	collectorRequestSeconds.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObserveRateLimitWait records time spent in the serial pacer.
func ObserveRateLimitWait(duration time.Duration) {
	if duration <= 0 {
		return
	}
	Init()
	collectorRateLimitSeconds.Observe(duration.Seconds())
}

// ObserveDispatch records a scheduler enqueue.
func ObserveDispatch() {
	Init()
	schedulerDispatchedTotal.Inc()
}

// ObserveLockContended records a skipped due slot.
func ObserveLockContended() {
	Init()
	schedulerLockContended.Inc()
}

// ObserveAlert records a created alert.
func ObserveAlert() {
	Init()
	alertsCreatedTotal.Inc()
}

// ObserveHTTPRequest records one inbound request.
func ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
