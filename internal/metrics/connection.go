package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rickgao/skysense/internal/model"
)

// Namespace prefixes every SkySense metric.
const Namespace = "skysense"

var (
	ConnectionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:      "connection_state",
			Namespace: Namespace,
			Help:      "1 for the connection manager's current state, 0 for every other state.",
		},
		[]string{"state"},
	)

	ReadingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name:      "readings_total",
			Namespace: Namespace,
			Help:      "The total number of readings published, by source.",
		},
		[]string{"source"},
	)

	MalformedPayloadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name:      "malformed_payloads_total",
		Namespace: Namespace,
		Help:      "The total number of inbound payloads dropped because they did not parse as readings.",
	})

	TransportErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name:      "transport_errors_total",
			Namespace: Namespace,
			Help:      "The total number of live transport failures, by kind.",
		},
		[]string{"kind"},
	)

	ReconnectAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name:      "reconnect_attempts_total",
		Namespace: Namespace,
		Help:      "The total number of live transport attempts.",
	})

	SimulationActivationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name:      "simulation_activations_total",
		Namespace: Namespace,
		Help:      "The total number of times the simulated source was started.",
	})
)

// SetConnectionState marks s as the only active state.
func SetConnectionState(s model.ConnectionState) {
	for _, known := range model.States {
		v := 0.0
		if known == s {
			v = 1
		}
		ConnectionState.WithLabelValues(string(known)).Set(v)
	}
}
