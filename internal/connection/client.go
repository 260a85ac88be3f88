package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSDialer opens WebSocket transports to a sensor backend.
type WSDialer struct {
	cfg    ClientConfig
	logger *slog.Logger
}

// NewWSDialer creates a dialer. Zero durations in cfg take the defaults.
func NewWSDialer(cfg ClientConfig, logger *slog.Logger) *WSDialer {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultClientConfig()
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = def.PingTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	return &WSDialer{cfg: cfg, logger: logger}
}

// ValidateURL reports whether raw is a dialable ws:// or wss:// address.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: scheme %q is not ws or wss", ErrInvalidEndpoint, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidEndpoint)
	}
	return nil
}

// Open validates rawURL and starts dialling it in the background.
func (d *WSDialer) Open(rawURL string, h Handler) (Transport, error) {
	if err := ValidateURL(rawURL); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &wsTransport{
		cfg:    d.cfg,
		logger: d.logger,
		url:    rawURL,
		h:      h,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go t.run()
	return t, nil
}

// wsTransport is one WebSocket connection attempt and, if it succeeds, the
// connection itself.
type wsTransport struct {
	cfg    ClientConfig
	logger *slog.Logger
	url    string
	h      Handler

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	conn       *websocket.Conn
	lastPingAt time.Time
	closed     bool // Close was called
	terminated bool // HandleError or HandleClose was delivered
}

func (t *wsTransport) run() {
	defer t.cancel()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: t.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(t.ctx, t.url, t.cfg.Header)
	if err != nil {
		t.terminate(func() {
			t.h.HandleError(fmt.Errorf("%w: %v", ErrTransportUnavailable, err))
		})
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		closeConn(conn, CloseNormalClosure)
		return
	}
	t.conn = conn
	t.lastPingAt = time.Now()
	t.mu.Unlock()

	// Server sends ping, we respond with pong
	conn.SetPingHandler(func(data string) error {
		t.touch()
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})
	conn.SetPongHandler(func(string) error {
		t.touch()
		return nil
	})

	t.logger.Debug("websocket connected", "url", t.url)
	t.deliver(t.h.HandleOpen)

	if t.cfg.PingInterval > 0 {
		go t.heartbeatLoop(conn)
	}
	t.readLoop(conn)
}

// readLoop forwards every data frame until the connection ends, then reports
// the close code. Errors that are not close frames count as abnormal closure.
func (t *wsTransport) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			code := CloseAbnormalClosure
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code = ce.Code
			}
			t.terminate(func() { t.h.HandleClose(code) })
			conn.Close()
			return
		}
		t.deliver(func() { t.h.HandleMessage(data) })
	}
}

// heartbeatLoop pings the server and reports a stale connection when neither
// pings nor pongs arrive within PingTimeout.
func (t *wsTransport) heartbeatLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(t.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				t.logger.Debug("failed to send ping", "error", err)
			}

			t.mu.Lock()
			lastPing := t.lastPingAt
			t.mu.Unlock()

			if time.Since(lastPing) > t.cfg.PingTimeout {
				t.logger.Warn("no ping received, connection stale",
					"last_ping", lastPing,
					"timeout", t.cfg.PingTimeout,
				)
				t.terminate(func() {
					t.h.HandleError(fmt.Errorf("%w: %w", ErrTransportUnavailable, ErrStaleConnection))
				})
				conn.Close()
				return
			}
		}
	}
}

// Close sends a close frame with code and releases the connection. Callbacks
// already in flight may still arrive; later ones are suppressed.
func (t *wsTransport) Close(code int) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	t.mu.Unlock()

	t.cancel()
	close(t.done)

	if conn == nil {
		return nil
	}
	return closeConn(conn, code)
}

func (t *wsTransport) touch() {
	t.mu.Lock()
	t.lastPingAt = time.Now()
	t.mu.Unlock()
}

// deliver runs fn unless the transport was closed or already terminated.
func (t *wsTransport) deliver(fn func()) {
	t.mu.Lock()
	skip := t.closed || t.terminated
	t.mu.Unlock()
	if !skip {
		fn()
	}
}

// terminate delivers the single terminal callback.
func (t *wsTransport) terminate(fn func()) {
	t.mu.Lock()
	skip := t.closed || t.terminated
	t.terminated = true
	t.mu.Unlock()
	if !skip {
		fn()
	}
}

func closeConn(conn *websocket.Conn, code int) error {
	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, ""),
		time.Now().Add(time.Second),
	)
	return conn.Close()
}
