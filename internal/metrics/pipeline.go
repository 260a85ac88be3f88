package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WriterFlushesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name:      "writer_flushes_total",
		Namespace: Namespace,
		Help:      "The total number of batches flushed to the database.",
	})

	WriterRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name:      "writer_rows_total",
			Namespace: Namespace,
			Help:      "The total number of reading rows written, by outcome.",
		},
		[]string{"outcome"},
	)

	WriterErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name:      "writer_errors_total",
		Namespace: Namespace,
		Help:      "The total number of failed batch inserts.",
	})

	WriterFlushLatencySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:      "writer_flush_latency_seconds",
		Namespace: Namespace,
		Buckets:   prometheus.DefBuckets,
		Help:      "The latency of batch inserts in seconds.",
	})

	RelayDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name:      "relay_deliveries_total",
			Namespace: Namespace,
			Help:      "The total number of readings delivered, by sink.",
		},
		[]string{"sink"},
	)

	RelayFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name:      "relay_failures_total",
			Namespace: Namespace,
			Help:      "The total number of readings a sink failed to deliver, by sink.",
		},
		[]string{"sink"},
	)

	CacheWriteLatencySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:      "cache_write_latency_seconds",
		Namespace: Namespace,
		Buckets:   prometheus.DefBuckets,
		Help:      "The latency of cache write operations in seconds.",
	})

	CacheReadLatencySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:      "cache_read_latency_seconds",
		Namespace: Namespace,
		Buckets:   prometheus.DefBuckets,
		Help:      "The latency of cache read operations in seconds.",
	})
)
