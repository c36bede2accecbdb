package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/jonesrussell/north-cloud/feedmaker/internal/metrics"
)

func TestObserveFeedRun(t *testing.T) {
	t.Parallel()

	m := metrics.New(prometheus.NewRegistry())
	m.ObserveFeedRun(metrics.ResultSuccess, 2*time.Second, 3, 1)
	m.ObserveFeedRun(metrics.ResultFailure, time.Second, 0, 0)

	assert.InDelta(t, 1, testutil.ToFloat64(m.FeedRunsTotal.WithLabelValues(metrics.ResultSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.FeedRunsTotal.WithLabelValues(metrics.ResultFailure)), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.ItemsTotal.WithLabelValues("included")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ItemsTotal.WithLabelValues("excluded")), 0)
}

func TestObserveBatchAndGauges(t *testing.T) {
	t.Parallel()

	m := metrics.New(prometheus.NewRegistry())
	m.FeedStarted()
	m.FeedStarted()
	m.FeedFinished()
	m.ObserveBatch(2)
	m.AddAccessEvents("view", 4)

	assert.InDelta(t, 1, testutil.ToFloat64(m.FeedsRunning), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.BatchFailedFeeds), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.BatchRunsTotal.WithLabelValues(metrics.ResultFailure)), 0)
	assert.InDelta(t, 4, testutil.ToFloat64(m.AccessEventsTotal.WithLabelValues("view")), 0)
}

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()

	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.ObserveFeedRun(metrics.ResultSuccess, time.Second, 1, 1)
		m.FeedStarted()
		m.FeedFinished()
		m.ObserveBatch(0)
		m.ObserveCatalogRefresh(metrics.ResultBusy, time.Second)
		m.AddAccessEvents("access", 1)
	})
}
