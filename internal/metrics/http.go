package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HttpRequestLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:      "http_request_latency_seconds",
			Namespace: Namespace,
			Buckets:   prometheus.DefBuckets,
			Help:      "The latency of http operations in seconds.",
		},
		[]string{"route", "method"},
	)

	WebsocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name:      "websocket_clients",
		Namespace: Namespace,
		Help:      "The number of browser clients attached to the reading fan-out.",
	})
)
