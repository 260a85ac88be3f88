package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/skysense/internal/cache"
	"github.com/rickgao/skysense/internal/connection"
	"github.com/rickgao/skysense/internal/feed"
	"github.com/rickgao/skysense/internal/metrics"
	"github.com/rickgao/skysense/internal/model"
	"github.com/rickgao/skysense/internal/writer"
)

const shutdownTimeout = 5 * time.Second

// Controller is the connection manager as seen by the API.
type Controller interface {
	Connect() error
	Disconnect() error
	Reconnect() error
	ToggleSimulation() error
	IsSimulationMode() bool
	State() model.ConnectionState
	Stats() connection.Stats
}

// Database is the persisted-readings store. *pgxpool.Pool satisfies it.
type Database interface {
	writer.Querier
	Ping(ctx context.Context) error
}

// Deps are the components the API serves from. Database and Cache are
// optional; endpoints that need them answer 503 when they are nil.
type Deps struct {
	Controller Controller
	Hub        *feed.Hub
	History    *feed.History
	Database   Database
	Cache      cache.Cache

	MetricsPath string
	StaticDir   string
	AccessLog   io.Writer // defaults to os.Stdout
}

// Server serves the HTTP API.
type Server struct {
	deps     Deps
	logger   *slog.Logger
	upgrader websocket.Upgrader
	clients  atomic.Int64
	now      func() time.Time
}

// NewServer creates a Server.
func NewServer(deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.MetricsPath == "" {
		deps.MetricsPath = "/metrics"
	}
	if deps.AccessLog == nil {
		deps.AccessLog = os.Stdout
	}
	return &Server{
		deps:   deps,
		logger: logger.With("component", "httpapi"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		now: time.Now,
	}
}

// Router returns the route table without middleware.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.instrument)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle(s.deps.MetricsPath, promhttp.Handler()).Methods(http.MethodGet)

	// API routes hang off the root router so a wrong method answers 405.
	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/connection/connect", s.action(s.deps.Controller.Connect)).Methods(http.MethodPost)
	r.HandleFunc("/api/connection/disconnect", s.action(s.deps.Controller.Disconnect)).Methods(http.MethodPost)
	r.HandleFunc("/api/connection/reconnect", s.action(s.deps.Controller.Reconnect)).Methods(http.MethodPost)
	r.HandleFunc("/api/simulation/toggle", s.action(s.deps.Controller.ToggleSimulation)).Methods(http.MethodPost)
	r.HandleFunc("/api/readings/latest", s.handleLatest).Methods(http.MethodGet)
	r.HandleFunc("/api/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/api/sensors", s.handleSensors).Methods(http.MethodGet)
	r.HandleFunc("/api/sensors/{sensor_id}/recent", s.handleSensorRecent).Methods(http.MethodGet)

	r.HandleFunc("/ws/readings", s.handleReadingsSocket).Methods(http.MethodGet)

	if s.deps.StaticDir != "" {
		r.PathPrefix("/").
			Methods(http.MethodGet, http.MethodHead).
			MatcherFunc(func(req *http.Request, _ *mux.RouteMatch) bool {
				return !strings.HasPrefix(req.URL.Path, "/api/")
			}).
			Handler(http.FileServer(http.Dir(s.deps.StaticDir)))
	}
	return r
}

// Handler returns the router wrapped with CORS and access logging.
func (s *Server) Handler() http.Handler {
	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)
	return handlers.CombinedLoggingHandler(s.deps.AccessLog, cors(s.Router()))
}

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully.
// WebSocket clients end when the hub closes.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

// instrument records request latency per route template.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		if route == "/ws/readings" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		next.ServeHTTP(w, r)
		metrics.HttpRequestLatencySeconds.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
