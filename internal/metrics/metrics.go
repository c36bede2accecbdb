// Package metrics holds the Prometheus metrics of feed runs and catalog refreshes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace prefixes every metric.
	Namespace = "feedmaker"

	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultBusy    = "busy"
)

// Metrics is nil-safe: every method on a nil *Metrics is a no-op.
type Metrics struct {
	FeedRunsTotal      *prometheus.CounterVec
	FeedRunDuration    *prometheus.HistogramVec
	FeedsRunning       prometheus.Gauge
	ItemsTotal         *prometheus.CounterVec
	BatchRunsTotal     *prometheus.CounterVec
	BatchFailedFeeds   prometheus.Gauge
	CatalogRefreshes   *prometheus.CounterVec
	CatalogRefreshTime prometheus.Histogram
	AccessEventsTotal  *prometheus.CounterVec
}

// New creates and registers the metrics on reg, or on the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	m := &Metrics{}
	m.initFeedMetrics(factory)
	m.initCatalogMetrics(factory)
	return m
}

func (m *Metrics) initFeedMetrics(factory promauto.Factory) {
	m.FeedRunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "feed",
			Name:      "runs_total",
			Help:      "Single-feed runs by result",
		},
		[]string{"result"},
	)
	m.FeedRunDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "feed",
			Name:      "run_duration_seconds",
			Help:      "Duration of single-feed runs",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		},
		[]string{"result"},
	)
	m.FeedsRunning = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "feed",
			Name:      "running",
			Help:      "Feeds currently being built",
		},
	)
	m.ItemsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "feed",
			Name:      "items_total",
			Help:      "Working-set items by outcome",
		},
		[]string{"outcome"},
	)
	m.BatchRunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "batch",
			Name:      "runs_total",
			Help:      "All-feed batch runs by result",
		},
		[]string{"result"},
	)
	m.BatchFailedFeeds = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "batch",
			Name:      "failed_feeds",
			Help:      "Failed feeds in the last batch",
		},
	)
}

func (m *Metrics) initCatalogMetrics(factory promauto.Factory) {
	m.CatalogRefreshes = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "catalog",
			Name:      "refreshes_total",
			Help:      "Catalog refreshes by result",
		},
		[]string{"result"},
	)
	m.CatalogRefreshTime = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "catalog",
			Name:      "refresh_duration_seconds",
			Help:      "Duration of full catalog refreshes",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
	)
	m.AccessEventsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "access",
			Name:      "events_total",
			Help:      "Ingested access log events by kind",
		},
		[]string{"kind"},
	)
}

// ObserveFeedRun records one single-feed run.
func (m *Metrics) ObserveFeedRun(result string, elapsed time.Duration, built, excluded int) {
	if m == nil {
		return
	}
	m.FeedRunsTotal.WithLabelValues(result).Inc()
	m.FeedRunDuration.WithLabelValues(result).Observe(elapsed.Seconds())
	m.ItemsTotal.WithLabelValues("included").Add(float64(built))
	m.ItemsTotal.WithLabelValues("excluded").Add(float64(excluded))
}

// FeedStarted and FeedFinished track FeedsRunning.
func (m *Metrics) FeedStarted() {
	if m != nil {
		m.FeedsRunning.Inc()
	}
}

func (m *Metrics) FeedFinished() {
	if m != nil {
		m.FeedsRunning.Dec()
	}
}

// ObserveBatch records one all-feed batch.
func (m *Metrics) ObserveBatch(failed int) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if failed > 0 {
		result = ResultFailure
	}
	m.BatchRunsTotal.WithLabelValues(result).Inc()
	m.BatchFailedFeeds.Set(float64(failed))
}

// ObserveCatalogRefresh records one full catalog refresh.
func (m *Metrics) ObserveCatalogRefresh(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.CatalogRefreshes.WithLabelValues(result).Inc()
	if result == ResultSuccess {
		m.CatalogRefreshTime.Observe(elapsed.Seconds())
	}
}

// AddAccessEvents counts ingested events of kind "access" or "view".
func (m *Metrics) AddAccessEvents(kind string, n int) {
	if m != nil && n > 0 {
		m.AccessEventsTotal.WithLabelValues(kind).Add(float64(n))
	}
}
