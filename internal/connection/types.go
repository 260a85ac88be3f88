package connection

import (
	"errors"
	"net/http"
	"time"

	"github.com/rickgao/skysense/internal/model"
)

// Errors
var (
	ErrTransportUnavailable = errors.New("transport unavailable")
	ErrMalformedPayload     = errors.New("malformed payload")
	ErrUnexpectedClosure    = errors.New("unexpected closure")
	ErrInvalidEndpoint      = errors.New("invalid endpoint")
	ErrStaleConnection      = errors.New("connection stale (no ping)")
	ErrManagerClosed        = errors.New("manager closed")
)

// WebSocket close codes the manager distinguishes.
const (
	CloseNormalClosure   = 1000
	CloseAbnormalClosure = 1006
)

// Handler receives the lifecycle callbacks of one transport. A transport
// delivers HandleOpen, then any number of HandleMessage calls, then at most
// one of HandleError or HandleClose.
type Handler interface {
	HandleOpen()
	HandleMessage(data []byte)
	HandleError(err error)
	HandleClose(code int)
}

// Transport is an open or opening live connection.
type Transport interface {
	// Close shuts the transport down with the given close code. Callbacks
	// already in flight may still arrive and must be discarded by the
	// caller.
	Close(code int) error
}

// Dialer starts live transports.
type Dialer interface {
	// Open begins connecting to url and returns immediately. It must not
	// invoke h before returning. An error wrapping ErrInvalidEndpoint means
	// the url can never be dialled.
	Open(url string, h Handler) (Transport, error)
}

// Publisher receives everything the manager emits.
type Publisher interface {
	PublishReading(r model.SensorReading)
	PublishState(s model.ConnectionState)
}

// ClientConfig configures a WebSocket transport.
type ClientConfig struct {
	HandshakeTimeout time.Duration // Dial + upgrade deadline
	PingInterval     time.Duration // How often we ping the server
	PingTimeout      time.Duration // Max time without ping/pong before considering connection stale
	WriteTimeout     time.Duration // Write deadline for control frames
	Header           http.Header   // Extra handshake headers
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	URL                string        // Live source endpoint (ws:// or wss://)
	Policy             Policy        // Retry bounds and delays
	SimulationInterval time.Duration // Period of the synthetic generator
	SensorPool         int           // Number of synthetic sensor ids
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Policy:             DefaultPolicy(),
		SimulationInterval: 2 * time.Second,
		SensorPool:         5,
	}
}

// Stats is a snapshot of manager counters.
type Stats struct {
	SessionID             string                `json:"session_id"`
	State                 model.ConnectionState `json:"state"`
	Simulating            bool                  `json:"simulating"`
	Retries               int                   `json:"retries"`
	RetriesExhausted      bool                  `json:"retries_exhausted"`
	Attempts              int64                 `json:"attempts"`
	Opens                 int64                 `json:"opens"`
	TransportErrors       int64                 `json:"transport_errors"`
	UnexpectedClosures    int64                 `json:"unexpected_closures"`
	MalformedPayloads     int64                 `json:"malformed_payloads"`
	LiveReadings          int64                 `json:"live_readings"`
	SimulatedReadings     int64                 `json:"simulated_readings"`
	SimulationActivations int64                 `json:"simulation_activations"`
	LastAttemptID         string                `json:"last_attempt_id,omitempty"`
	LastError             string                `json:"last_error,omitempty"`
	ConnectedSince        *time.Time            `json:"connected_since,omitempty"`
}

// ConnectedFor reports how long the live transport has been connected at now.
func (s Stats) ConnectedFor(now time.Time) time.Duration {
	if s.ConnectedSince == nil {
		return 0
	}
	return now.Sub(*s.ConnectedSince)
}
