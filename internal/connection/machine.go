package connection

import (
	"fmt"
	"time"

	"github.com/rickgao/skysense/internal/model"
)

// Policy bounds automatic reconnection.
type Policy struct {
	MaxRetries      int           // Consecutive failures before falling back to simulation
	RetryDelay      time.Duration // Delay after a transport error
	CloseRetryDelay time.Duration // Delay after an unexpected closure
}

// DefaultPolicy returns 3 retries, 3s after errors and 2s after closures.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:      3,
		RetryDelay:      3 * time.Second,
		CloseRetryDelay: 2 * time.Second,
	}
}

// Machine is the connection manager's state. It holds flags, not handles:
// the manager owns the transport and timers the flags describe.
type Machine struct {
	Policy       Policy
	State        model.ConnectionState
	Retries      int
	Live         bool // a transport is open or opening
	Simulating   bool // the synthetic generator is running
	RetryPending bool // a reconnect timer is scheduled
	Exhausted    bool // retries ran out; no automatic live attempts remain
}

// NewMachine returns a disconnected machine.
func NewMachine(p Policy) Machine {
	if p.MaxRetries < 1 {
		p.MaxRetries = 1
	}
	return Machine{Policy: p, State: model.StateDisconnected}
}

// EventKind enumerates the inputs of Transition.
type EventKind int

const (
	EventConnect EventKind = iota
	EventDisconnect
	EventReconnect
	EventToggleSimulation
	EventStartSimulation
	EventTransportOpen
	EventTransportMessage
	EventTransportError
	EventTransportClosed
	EventTransportRejected
	EventRetryTimer
	EventSimulationTick
)

var eventNames = [...]string{
	EventConnect:           "connect",
	EventDisconnect:        "disconnect",
	EventReconnect:         "reconnect",
	EventToggleSimulation:  "toggle_simulation",
	EventStartSimulation:   "start_simulation",
	EventTransportOpen:     "transport_open",
	EventTransportMessage:  "transport_message",
	EventTransportError:    "transport_error",
	EventTransportClosed:   "transport_closed",
	EventTransportRejected: "transport_rejected",
	EventRetryTimer:        "retry_timer",
	EventSimulationTick:    "simulation_tick",
}

func (k EventKind) String() string {
	if int(k) < len(eventNames) {
		return eventNames[k]
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is one input to the state machine.
type Event struct {
	Kind EventKind
	Data []byte // TransportMessage payload
	Code int    // TransportClosed close code
	Err  error  // TransportError and TransportRejected cause
}

// EffectKind enumerates the side effects Transition asks the manager to perform.
type EffectKind int

const (
	EffectOpenTransport EffectKind = iota
	EffectCloseTransport
	EffectReleaseTransport
	EffectScheduleRetry
	EffectCancelRetry
	EffectStartSimulation
	EffectStopSimulation
	EffectEmitReadings
	EffectSynthesize
	EffectReportMalformed
	EffectPublishState
)

var effectNames = [...]string{
	EffectOpenTransport:    "open_transport",
	EffectCloseTransport:   "close_transport",
	EffectReleaseTransport: "release_transport",
	EffectScheduleRetry:    "schedule_retry",
	EffectCancelRetry:      "cancel_retry",
	EffectStartSimulation:  "start_simulation",
	EffectStopSimulation:   "stop_simulation",
	EffectEmitReadings:     "emit_readings",
	EffectSynthesize:       "synthesize",
	EffectReportMalformed:  "report_malformed",
	EffectPublishState:     "publish_state",
}

func (k EffectKind) String() string {
	if int(k) < len(effectNames) {
		return effectNames[k]
	}
	return fmt.Sprintf("effect(%d)", int(k))
}

// Effect is one side effect, applied by the manager in order.
type Effect struct {
	Kind     EffectKind
	Code     int                   // CloseTransport close code
	Delay    time.Duration         // ScheduleRetry delay
	Readings []model.SensorReading // EmitReadings
	Err      error                 // ReportMalformed and ReleaseTransport cause
	State    model.ConnectionState // PublishState
}

// Transition applies ev to m and returns the next machine with the effects
// to perform. It has no side effects of its own.
func Transition(m Machine, ev Event) (Machine, []Effect) {
	var fx []Effect

	switch ev.Kind {
	case EventConnect:
		m, fx = teardown(m, fx)
		m, fx = open(m, fx)

	case EventDisconnect:
		m, fx = teardown(m, fx)
		m, fx = publish(m, fx, model.StateDisconnected)

	case EventReconnect:
		m.Retries = 0
		m.Exhausted = false
		m, fx = teardown(m, fx)
		m, fx = publish(m, fx, model.StateDisconnected)
		m, fx = open(m, fx)

	case EventToggleSimulation:
		wasSimulating := m.Simulating
		m, fx = teardown(m, fx)
		if wasSimulating {
			m, fx = open(m, fx)
		} else {
			m, fx = startSimulation(m, fx)
		}

	case EventStartSimulation:
		if m.Simulating {
			return m, nil
		}
		m, fx = teardown(m, fx)
		m, fx = startSimulation(m, fx)

	case EventTransportOpen:
		if !m.Live {
			return m, nil
		}
		m.Retries = 0
		m.Exhausted = false
		if m.Simulating {
			m.Simulating = false
			fx = append(fx, Effect{Kind: EffectStopSimulation})
		}
		m, fx = publish(m, fx, model.StateConnected)

	case EventTransportMessage:
		if !m.Live {
			return m, nil
		}
		readings, err := DecodeFrame(ev.Data)
		switch {
		case err != nil:
			fx = append(fx, Effect{Kind: EffectReportMalformed, Err: err})
		case len(readings) > 0:
			fx = append(fx, Effect{Kind: EffectEmitReadings, Readings: readings})
		}

	case EventTransportError:
		if !m.Live {
			return m, nil
		}
		m.Live = false
		fx = append(fx, Effect{Kind: EffectReleaseTransport, Err: ev.Err})
		m, fx = publish(m, fx, model.StateError)
		m, fx = retryOrFallback(m, fx, m.Policy.RetryDelay)

	case EventTransportClosed:
		if !m.Live {
			return m, nil
		}
		m.Live = false
		var cause error
		if ev.Code != CloseNormalClosure {
			cause = fmt.Errorf("%w: close code %d", ErrUnexpectedClosure, ev.Code)
		}
		fx = append(fx, Effect{Kind: EffectReleaseTransport, Code: ev.Code, Err: cause})
		m, fx = publish(m, fx, model.StateDisconnected)
		if cause != nil {
			m, fx = retryOrFallback(m, fx, m.Policy.CloseRetryDelay)
		}

	case EventTransportRejected:
		if !m.Live {
			return m, nil
		}
		m.Live = false
		m.Exhausted = true
		fx = append(fx, Effect{Kind: EffectReleaseTransport, Err: ev.Err})
		m, fx = publish(m, fx, model.StateFailed)
		m, fx = startSimulation(m, fx)

	case EventRetryTimer:
		if !m.RetryPending {
			return m, nil
		}
		m.RetryPending = false
		m, fx = open(m, fx)

	case EventSimulationTick:
		if !m.Simulating {
			return m, nil
		}
		fx = append(fx, Effect{Kind: EffectSynthesize})
	}

	return m, fx
}

// teardown cancels the pending retry, stops the simulation and closes the
// live transport with a normal closure.
func teardown(m Machine, fx []Effect) (Machine, []Effect) {
	if m.RetryPending {
		m.RetryPending = false
		fx = append(fx, Effect{Kind: EffectCancelRetry})
	}
	if m.Simulating {
		m.Simulating = false
		fx = append(fx, Effect{Kind: EffectStopSimulation})
	}
	if m.Live {
		m.Live = false
		fx = append(fx, Effect{Kind: EffectCloseTransport, Code: CloseNormalClosure})
	}
	return m, fx
}

func open(m Machine, fx []Effect) (Machine, []Effect) {
	m.Live = true
	fx = append(fx, Effect{Kind: EffectOpenTransport})
	return publish(m, fx, model.StateConnecting)
}

func startSimulation(m Machine, fx []Effect) (Machine, []Effect) {
	if m.Simulating {
		return m, fx
	}
	m.Simulating = true
	fx = append(fx, Effect{Kind: EffectStartSimulation})
	return publish(m, fx, model.StateSimulation)
}

// retryOrFallback counts a failure and either schedules the next attempt or,
// once MaxRetries consecutive failures are reached, reports failed and
// switches to simulation for the rest of the session.
func retryOrFallback(m Machine, fx []Effect, delay time.Duration) (Machine, []Effect) {
	m.Retries++
	if m.Retries >= m.Policy.MaxRetries {
		m.Exhausted = true
		m, fx = publish(m, fx, model.StateFailed)
		return startSimulation(m, fx)
	}
	m.RetryPending = true
	fx = append(fx, Effect{Kind: EffectScheduleRetry, Delay: delay})
	return m, fx
}

func publish(m Machine, fx []Effect, s model.ConnectionState) (Machine, []Effect) {
	if m.State == s {
		return m, fx
	}
	m.State = s
	return m, append(fx, Effect{Kind: EffectPublishState, State: s})
}
