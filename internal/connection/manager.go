package connection

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/rickgao/skysense/internal/metrics"
	"github.com/rickgao/skysense/internal/model"
	"github.com/rickgao/skysense/internal/scheduler"
	"github.com/rickgao/skysense/internal/simulator"
)

// Manager owns the session's single data source: a live transport or the
// synthetic generator, never both. Every input (API call, transport
// callback, timer) is serialized under one mutex and fed to Transition.
type Manager struct {
	cfg       ManagerConfig
	dialer    Dialer
	sched     scheduler.Scheduler
	generator *simulator.Generator
	pub       Publisher
	logger    *slog.Logger
	sessionID uuid.UUID

	mu      sync.Mutex
	machine Machine
	closed  bool
	pending []Event // follow-up events raised while applying effects

	transport    Transport
	transportGen uint64
	attemptID    uuid.UUID

	retryTimer scheduler.Timer
	retryGen   uint64
	simTimer   scheduler.Timer
	simGen     uint64

	stats Stats
}

// NewManager creates a disconnected manager. A nil sched uses the real clock
// and a nil generator draws from the dashboard profile.
func NewManager(
	cfg ManagerConfig,
	dialer Dialer,
	pub Publisher,
	sched scheduler.Scheduler,
	generator *simulator.Generator,
	logger *slog.Logger,
) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultManagerConfig()
	if cfg.SimulationInterval <= 0 {
		cfg.SimulationInterval = def.SimulationInterval
	}
	if cfg.SensorPool <= 0 {
		cfg.SensorPool = def.SensorPool
	}
	if sched == nil {
		sched = scheduler.NewClock()
	}
	if generator == nil {
		generator = simulator.New(simulator.DashboardProfile(cfg.SensorPool), nil, sched.Now)
	}

	sessionID := uuid.New()
	m := &Manager{
		cfg:       cfg,
		dialer:    dialer,
		sched:     sched,
		generator: generator,
		pub:       pub,
		sessionID: sessionID,
		logger:    logger.With("component", "connection", "session", sessionID.String()),
		machine:   NewMachine(cfg.Policy),
	}
	m.stats.SessionID = sessionID.String()
	metrics.SetConnectionState(model.StateDisconnected)
	return m
}

// Connect tears down the current source and starts a live attempt.
func (m *Manager) Connect() error {
	return m.dispatch(Event{Kind: EventConnect})
}

// Disconnect cancels every pending timer, stops the simulation and closes the
// live transport with a normal closure. Safe to call repeatedly.
func (m *Manager) Disconnect() error {
	return m.dispatch(Event{Kind: EventDisconnect})
}

// Reconnect resets the retry counter and attempts the live source first,
// even after retries were exhausted.
func (m *Manager) Reconnect() error {
	return m.dispatch(Event{Kind: EventReconnect})
}

// ToggleSimulation switches from simulation to a live attempt, or from any
// other mode to simulation.
func (m *Manager) ToggleSimulation() error {
	return m.dispatch(Event{Kind: EventToggleSimulation})
}

// StartSimulation switches to the synthetic source. No-op if already simulating.
func (m *Manager) StartSimulation() error {
	return m.dispatch(Event{Kind: EventStartSimulation})
}

// Close disconnects and rejects every later call.
func (m *Manager) Close() error {
	if err := m.Disconnect(); err != nil && !errors.Is(err, ErrManagerClosed) {
		return err
	}
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.logger.Info("connection manager closed")
	return nil
}

// IsSimulationMode reports whether the synthetic source is active.
func (m *Manager) IsSimulationMode() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.machine.Simulating
}

// State returns the current connection state.
func (m *Manager) State() model.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.machine.State
}

// Retries returns the consecutive failure count.
func (m *Manager) Retries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.machine.Retries
}

// SessionID identifies this manager instance.
func (m *Manager) SessionID() uuid.UUID {
	return m.sessionID
}

// Stats returns a snapshot of the manager's counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.State = m.machine.State
	s.Simulating = m.machine.Simulating
	s.Retries = m.machine.Retries
	s.RetriesExhausted = m.machine.Exhausted
	if s.ConnectedSince != nil {
		since := *s.ConnectedSince
		s.ConnectedSince = &since
	}
	return s
}

// -----------------------------------------------------------------------------
// Event dispatch
// -----------------------------------------------------------------------------

func (m *Manager) dispatch(ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	m.run(ev)
	return nil
}

// run applies ev and any follow-up events. Must be called with mu held.
func (m *Manager) run(ev Event) {
	m.pending = append(m.pending, ev)
	for len(m.pending) > 0 {
		next := m.pending[0]
		m.pending = m.pending[1:]

		machine, effects := Transition(m.machine, next)
		m.machine = machine
		for _, fx := range effects {
			m.apply(fx)
		}
	}
}

// transportHandler tags callbacks with the generation of the transport that
// produced them so callbacks from a superseded transport are dropped.
type transportHandler struct {
	m   *Manager
	gen uint64
}

func (h transportHandler) HandleOpen() {
	h.m.transportEvent(h.gen, Event{Kind: EventTransportOpen})
}

func (h transportHandler) HandleMessage(data []byte) {
	h.m.transportEvent(h.gen, Event{Kind: EventTransportMessage, Data: data})
}

func (h transportHandler) HandleError(err error) {
	h.m.transportEvent(h.gen, Event{Kind: EventTransportError, Err: err})
}

func (h transportHandler) HandleClose(code int) {
	h.m.transportEvent(h.gen, Event{Kind: EventTransportClosed, Code: code})
}

func (m *Manager) transportEvent(gen uint64, ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || gen != m.transportGen || m.transport == nil {
		m.logger.Debug("dropping stale transport callback", "event", ev.Kind, "gen", gen)
		return
	}
	m.run(ev)
}

// timerEvent runs ev if the timer generation at *current still matches gen.
func (m *Manager) timerEvent(current *uint64, gen uint64, ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || *current != gen {
		return
	}
	if ev.Kind == EventRetryTimer {
		m.retryTimer = nil
	}
	m.run(ev)
}

// -----------------------------------------------------------------------------
// Effects
// -----------------------------------------------------------------------------

// apply performs one effect. Must be called with mu held.
func (m *Manager) apply(fx Effect) {
	switch fx.Kind {
	case EffectOpenTransport:
		m.openTransport()

	case EffectCloseTransport:
		m.closeTransport(fx.Code)

	case EffectReleaseTransport:
		m.releaseTransport(fx)

	case EffectScheduleRetry:
		m.cancelRetry()
		m.retryGen++
		gen := m.retryGen
		m.retryTimer = m.sched.AfterFunc(fx.Delay, func() {
			m.timerEvent(&m.retryGen, gen, Event{Kind: EventRetryTimer})
		})
		m.logger.Info("reconnect scheduled",
			"delay", fx.Delay,
			"retry", m.machine.Retries,
			"max_retries", m.machine.Policy.MaxRetries,
		)

	case EffectCancelRetry:
		m.cancelRetry()

	case EffectStartSimulation:
		m.stopSimulation()
		m.simGen++
		gen := m.simGen
		m.simTimer = m.sched.Every(m.cfg.SimulationInterval, func() {
			m.timerEvent(&m.simGen, gen, Event{Kind: EventSimulationTick})
		})
		m.stats.SimulationActivations++
		metrics.SimulationActivationsTotal.Inc()
		m.logger.Info("simulation started", "interval", m.cfg.SimulationInterval)

	case EffectStopSimulation:
		m.stopSimulation()
		m.logger.Info("simulation stopped")

	case EffectEmitReadings:
		for _, r := range fx.Readings {
			m.emit(r.WithSource(model.SourceLive))
		}

	case EffectSynthesize:
		m.emit(m.generator.Next())

	case EffectReportMalformed:
		m.stats.MalformedPayloads++
		metrics.MalformedPayloadsTotal.Inc()
		m.logger.Warn("dropping malformed payload", "error", fx.Err)

	case EffectPublishState:
		if fx.State == model.StateConnected {
			now := m.sched.Now()
			m.stats.Opens++
			m.stats.ConnectedSince = &now
		} else {
			m.stats.ConnectedSince = nil
		}
		metrics.SetConnectionState(fx.State)
		if m.pub != nil {
			m.pub.PublishState(fx.State)
		}
		m.logger.Info("connection state changed", "state", fx.State, "retries", m.machine.Retries)
	}
}

func (m *Manager) openTransport() {
	m.transportGen++
	m.attemptID = uuid.New()
	m.stats.Attempts++
	m.stats.LastAttemptID = m.attemptID.String()
	metrics.ReconnectAttemptsTotal.Inc()

	m.logger.Info("opening live transport",
		"url", m.cfg.URL,
		"attempt", m.attemptID.String(),
		"retries", m.machine.Retries,
	)

	if m.dialer == nil {
		m.pending = append(m.pending, Event{Kind: EventTransportRejected, Err: ErrInvalidEndpoint})
		return
	}

	t, err := m.dialer.Open(m.cfg.URL, transportHandler{m: m, gen: m.transportGen})
	if err != nil {
		kind := EventTransportError
		if errors.Is(err, ErrInvalidEndpoint) {
			kind = EventTransportRejected
		}
		m.pending = append(m.pending, Event{Kind: kind, Err: err})
		return
	}
	m.transport = t
}

func (m *Manager) closeTransport(code int) {
	t := m.transport
	m.transport = nil
	m.transportGen++
	if t == nil {
		return
	}
	if err := t.Close(code); err != nil {
		m.logger.Debug("transport close failed", "error", err)
	}
}

// releaseTransport drops a transport that already ended on its own.
func (m *Manager) releaseTransport(fx Effect) {
	m.transport = nil
	m.transportGen++
	if fx.Err == nil {
		m.logger.Info("live transport closed", "code", fx.Code)
		return
	}

	m.stats.LastError = fx.Err.Error()
	switch {
	case errors.Is(fx.Err, ErrUnexpectedClosure):
		m.stats.UnexpectedClosures++
		metrics.TransportErrorsTotal.WithLabelValues("closure").Inc()
	case errors.Is(fx.Err, ErrInvalidEndpoint):
		metrics.TransportErrorsTotal.WithLabelValues("endpoint").Inc()
	default:
		m.stats.TransportErrors++
		metrics.TransportErrorsTotal.WithLabelValues("unavailable").Inc()
	}
	m.logger.Warn("live transport failed",
		"error", fx.Err,
		"attempt", m.attemptID.String(),
		"retries", m.machine.Retries,
	)
}

func (m *Manager) cancelRetry() {
	m.retryGen++
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

func (m *Manager) stopSimulation() {
	m.simGen++
	if m.simTimer != nil {
		m.simTimer.Stop()
		m.simTimer = nil
	}
}

func (m *Manager) emit(r model.SensorReading) {
	if r.Source == model.SourceSimulation {
		m.stats.SimulatedReadings++
	} else {
		m.stats.LiveReadings++
	}
	metrics.ReadingsTotal.WithLabelValues(string(r.Source)).Inc()
	if m.pub != nil {
		m.pub.PublishReading(r)
	}
}
