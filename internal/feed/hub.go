package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/rickgao/skysense/internal/model"
)

// ErrClosed is returned by receives on a closed, drained subscription.
var ErrClosed = errors.New("feed closed")

const subscriberBufferSize = 64

// Subscription is one consumer's view of a feed. Items are delivered in
// publish order and are never dropped.
type Subscription[T any] struct {
	buf   *GrowableBuffer[T]
	close func()
	once  sync.Once
}

// Next blocks until the next item is available.
func (s *Subscription[T]) Next(ctx context.Context) (T, error) {
	return s.buf.Receive(ctx)
}

// Ready signals that items may be available; see GrowableBuffer.Ready.
func (s *Subscription[T]) Ready() <-chan struct{} {
	return s.buf.Ready()
}

// Done is closed once the subscription is closed.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.buf.Done()
}

// Drain removes up to max queued items without blocking.
func (s *Subscription[T]) Drain(max int) []T {
	return s.buf.DrainTo(max)
}

// Len returns the number of queued items.
func (s *Subscription[T]) Len() int {
	return s.buf.Len()
}

// Close detaches the subscription from its hub. Queued items can still be
// received.
func (s *Subscription[T]) Close() {
	s.once.Do(s.close)
}

// Event is one item of the combined feed. Reading is nil for a state change.
type Event struct {
	Reading *model.SensorReading
	State   model.ConnectionState
}

// HubStats reports subscriber counts and publish totals.
type HubStats struct {
	ReadingSubscribers int
	StatusSubscribers  int
	EventSubscribers   int
	ReadingsPublished  int64
	StatesPublished    int64
}

// Hub fans readings and connection states out to subscribers. Publishing
// never blocks: every subscriber owns an unbounded buffer.
type Hub struct {
	logger *slog.Logger

	mu       sync.Mutex
	state    model.ConnectionState
	readings map[uint64]*GrowableBuffer[model.SensorReading]
	statuses map[uint64]*GrowableBuffer[model.ConnectionState]
	events   map[uint64]*GrowableBuffer[Event]
	nextID   uint64
	closed   bool

	readingsPublished int64
	statesPublished   int64
}

// NewHub creates a hub whose status feed starts at disconnected.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:   logger.With("component", "feed"),
		state:    model.StateDisconnected,
		readings: make(map[uint64]*GrowableBuffer[model.SensorReading]),
		statuses: make(map[uint64]*GrowableBuffer[model.ConnectionState]),
		events:   make(map[uint64]*GrowableBuffer[Event]),
	}
}

// PublishReading delivers r to every reading subscriber.
func (h *Hub) PublishReading(r model.SensorReading) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.readingsPublished++
	for _, buf := range h.readings {
		buf.Send(r)
	}
	for _, buf := range h.events {
		buf.Send(Event{Reading: &r})
	}
}

// PublishState records s as the current state and delivers it to every
// status subscriber.
func (h *Hub) PublishState(s model.ConnectionState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.state = s
	h.statesPublished++
	for _, buf := range h.statuses {
		buf.Send(s)
	}
	for _, buf := range h.events {
		buf.Send(Event{State: s})
	}
	h.logger.Debug("state published", "state", s, "subscribers", len(h.statuses))
}

// State returns the most recently published state.
func (h *Hub) State() model.ConnectionState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// SubscribeReadings returns a subscription to readings published from now on.
func (h *Hub) SubscribeReadings() *Subscription[model.SensorReading] {
	buf := NewGrowableBuffer[model.SensorReading](subscriberBufferSize)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		buf.Close()
		return &Subscription[model.SensorReading]{buf: buf, close: func() {}}
	}
	id := h.nextID
	h.nextID++
	h.readings[id] = buf

	return &Subscription[model.SensorReading]{
		buf: buf,
		close: func() {
			h.mu.Lock()
			delete(h.readings, id)
			h.mu.Unlock()
			buf.Close()
		},
	}
}

// SubscribeStatus returns a subscription whose first item is the current
// state, followed by every state published afterwards.
func (h *Hub) SubscribeStatus() *Subscription[model.ConnectionState] {
	buf := NewGrowableBuffer[model.ConnectionState](subscriberBufferSize)

	h.mu.Lock()
	defer h.mu.Unlock()
	buf.Send(h.state)
	if h.closed {
		buf.Close()
		return &Subscription[model.ConnectionState]{buf: buf, close: func() {}}
	}
	id := h.nextID
	h.nextID++
	h.statuses[id] = buf

	return &Subscription[model.ConnectionState]{
		buf: buf,
		close: func() {
			h.mu.Lock()
			delete(h.statuses, id)
			h.mu.Unlock()
			buf.Close()
		},
	}
}

// SubscribeEvents returns a subscription to readings and state changes in
// the order they were published. The first item is the current state.
func (h *Hub) SubscribeEvents() *Subscription[Event] {
	buf := NewGrowableBuffer[Event](subscriberBufferSize)

	h.mu.Lock()
	defer h.mu.Unlock()
	buf.Send(Event{State: h.state})
	if h.closed {
		buf.Close()
		return &Subscription[Event]{buf: buf, close: func() {}}
	}
	id := h.nextID
	h.nextID++
	h.events[id] = buf

	return &Subscription[Event]{
		buf: buf,
		close: func() {
			h.mu.Lock()
			delete(h.events, id)
			h.mu.Unlock()
			buf.Close()
		},
	}
}

// Close ends every subscription. Later publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, buf := range h.readings {
		buf.Close()
		delete(h.readings, id)
	}
	for id, buf := range h.statuses {
		buf.Close()
		delete(h.statuses, id)
	}
	for id, buf := range h.events {
		buf.Close()
		delete(h.events, id)
	}
}

// Stats returns a snapshot of hub counters.
func (h *Hub) Stats() HubStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HubStats{
		ReadingSubscribers: len(h.readings),
		StatusSubscribers:  len(h.statuses),
		EventSubscribers:   len(h.events),
		ReadingsPublished:  h.readingsPublished,
		StatesPublished:    h.statesPublished,
	}
}
