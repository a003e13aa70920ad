package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// QueueStats is what the store exposes about its write queue
type QueueStats struct {
	Depth     int
	Capacity  int
	Flushed   int64
	Failed    int64
	Fallbacks int64
}

// QueueStatsProvider reports the current write queue state
type QueueStatsProvider interface {
	QueueStats() QueueStats
}

// StoreCollector exports the event store write queue at scrape time
type StoreCollector struct {
	provider QueueStatsProvider

	queueDepth    *prometheus.Desc
	queueCapacity *prometheus.Desc
	written       *prometheus.Desc
	fallbacks     *prometheus.Desc
}

// NewStoreCollector creates a new store collector
func NewStoreCollector(namespace string, provider QueueStatsProvider) *StoreCollector {
	return &StoreCollector{
		provider: provider,

		queueDepth: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "store", "queue_depth"),
			"Cost events waiting for a batch flush",
			nil, nil,
		),
		queueCapacity: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "store", "queue_capacity"),
			"Size of the bounded write queue",
			nil, nil,
		),
		written: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "store", "events_written_total"),
			"Cost events flushed by outcome",
			[]string{"status"}, // status: success|error
			nil,
		),
		fallbacks: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "store", "batch_fallbacks_total"),
			"Batches retried item by item after a failed insert",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *StoreCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queueDepth
	ch <- c.queueCapacity
	ch <- c.written
	ch <- c.fallbacks
}

// Collect implements prometheus.Collector
func (c *StoreCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.provider.QueueStats()

	ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(stats.Depth))
	ch <- prometheus.MustNewConstMetric(c.queueCapacity, prometheus.GaugeValue, float64(stats.Capacity))
	ch <- prometheus.MustNewConstMetric(c.written, prometheus.CounterValue, float64(stats.Flushed), "success")
	ch <- prometheus.MustNewConstMetric(c.written, prometheus.CounterValue, float64(stats.Failed), "error")
	ch <- prometheus.MustNewConstMetric(c.fallbacks, prometheus.CounterValue, float64(stats.Fallbacks))
}
