// Package emitter is a stand-in sensor backend. It serves /ws/sensors,
// greeting each client with a connection frame and the most recent
// readings, then broadcasting a synthesized reading every interval.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/skysense/internal/feed"
	"github.com/rickgao/skysense/internal/model"
	"github.com/rickgao/skysense/internal/scheduler"
	"github.com/rickgao/skysense/internal/simulator"
)

const (
	writeWait         = 5 * time.Second
	clientBufferSize  = 16
	welcomeMessage    = "connected to sensor server"
	DefaultInterval   = 2 * time.Second
	DefaultHistory    = 5
	DefaultSensorPool = 5
)

// Config configures an Emitter.
type Config struct {
	Interval    time.Duration
	HistorySize int // readings replayed to a new client
	Profile     simulator.Profile
	Seed        uint64 // 0 picks a random seed
}

// DefaultConfig mirrors the original sensor backend.
func DefaultConfig() Config {
	return Config{
		Interval:    DefaultInterval,
		HistorySize: DefaultHistory,
		Profile:     simulator.BackendProfile(DefaultSensorPool),
	}
}

// Frame types sent to clients.
const (
	FrameConnection = "connection"
	FrameHistory    = "history"
	FrameSensorData = "sensor_data"
)

type connectionFrame struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type historyFrame struct {
	Type string                `json:"type"`
	Data []model.SensorReading `json:"data"`
}

type sensorDataFrame struct {
	Type string `json:"type"`
	model.SensorReading
}

type client struct {
	conn *websocket.Conn
	out  *feed.GrowableBuffer[[]byte]
}

// Emitter broadcasts synthesized readings to WebSocket clients.
type Emitter struct {
	cfg      Config
	sched    scheduler.Scheduler
	gen      *simulator.Generator
	history  *feed.History
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	sent    int64
	stopped bool
}

// New creates an Emitter. A nil sched uses the real clock.
func New(cfg Config, sched scheduler.Scheduler, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	if sched == nil {
		sched = scheduler.NewClock()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.HistorySize < 1 {
		cfg.HistorySize = DefaultHistory
	}
	if cfg.Profile.PoolSize < 1 {
		cfg.Profile = simulator.BackendProfile(DefaultSensorPool)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	return &Emitter{
		cfg:     cfg,
		sched:   sched,
		gen:     simulator.New(cfg.Profile, rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), sched.Now),
		history: feed.NewHistory(cfg.HistorySize),
		logger:  logger.With("component", "emitter"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Run broadcasts a reading every interval until ctx ends, then disconnects
// every client.
func (e *Emitter) Run(ctx context.Context) error {
	timer := e.sched.Every(e.cfg.Interval, e.Tick)
	e.logger.Info("emitter started", "interval", e.cfg.Interval, "sensors", e.cfg.Profile.SensorIDs())

	<-ctx.Done()
	timer.Stop()

	e.mu.Lock()
	e.stopped = true
	for c := range e.clients {
		c.out.Close()
	}
	e.mu.Unlock()

	e.logger.Info("emitter stopped", "sent", e.Sent())
	return nil
}

// Tick synthesizes one reading and queues it for every client.
func (e *Emitter) Tick() {
	r := e.gen.Next()
	r.Source = ""

	frame, err := json.Marshal(sensorDataFrame{Type: FrameSensorData, SensorReading: r})
	if err != nil {
		e.logger.Error("marshal reading", "error", err)
		return
	}

	// History and broadcast change together so a joining client sees each
	// reading exactly once.
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history.Add(r)
	e.sent++
	for c := range e.clients {
		c.out.Send(frame)
	}
	e.logger.Debug("reading broadcast", "sensor_id", r.SensorID, "clients", len(e.clients))
}

// Prime seeds the history with one reading per sensor so the first clients
// get a full history frame. Primed readings are not broadcast.
func (e *Emitter) Prime() {
	batch := e.gen.Batch()

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range batch {
		r.Source = ""
		e.history.Add(r)
	}
}

// Clients returns the number of attached clients.
func (e *Emitter) Clients() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.clients)
}

// Sent returns the number of readings broadcast.
func (e *Emitter) Sent() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sent
}

// ServeHTTP upgrades the request and streams frames until either side
// closes.
func (e *Emitter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		e.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	// Register before greeting: readings ticked from here on queue behind
	// the history snapshot taken under the same lock.
	c := &client{conn: conn, out: feed.NewGrowableBuffer[[]byte](clientBufferSize)}
	e.mu.Lock()
	recent := e.history.Latest(0)
	e.clients[c] = struct{}{}
	total := len(e.clients)
	if e.stopped {
		c.out.Close()
	}
	e.mu.Unlock()

	if err := e.greet(c, recent); err != nil {
		e.logger.Warn("greeting failed", "remote", r.RemoteAddr, "error", err)
		e.remove(c)
		conn.Close()
		return
	}
	e.logger.Info("client connected", "remote", r.RemoteAddr, "clients", total)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	e.writeLoop(ctx, c)

	total = e.remove(c)
	cancel()
	conn.Close()
	e.logger.Info("client disconnected", "remote", r.RemoteAddr, "clients", total)
}

// remove detaches c and closes its queue. It returns the remaining count.
func (e *Emitter) remove(c *client) int {
	e.mu.Lock()
	delete(e.clients, c)
	total := len(e.clients)
	e.mu.Unlock()
	c.out.Close()
	return total
}

// greet sends the connection frame and, when recent is not empty, a history
// frame with the newest first.
func (e *Emitter) greet(c *client, recent []model.SensorReading) error {
	welcome := connectionFrame{
		Type:      FrameConnection,
		Status:    "connected",
		Message:   welcomeMessage,
		Timestamp: e.sched.Now().Format(time.RFC3339Nano),
	}
	if err := e.write(c.conn, welcome); err != nil {
		return fmt.Errorf("send welcome: %w", err)
	}

	if len(recent) == 0 {
		return nil
	}
	if err := e.write(c.conn, historyFrame{Type: FrameHistory, Data: recent}); err != nil {
		return fmt.Errorf("send history: %w", err)
	}
	return nil
}

func (e *Emitter) writeLoop(ctx context.Context, c *client) {
	for {
		frame, err := c.out.Receive(ctx)
		if err != nil {
			// Closed by Run on shutdown, or the client went away.
			if ctx.Err() == nil {
				c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(writeWait))
			}
			return
		}
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			e.logger.Warn("send failed, dropping client", "error", err)
			return
		}
	}
}

func (e *Emitter) write(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}
