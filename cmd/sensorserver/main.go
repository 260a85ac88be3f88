// sensorserver serves synthesized sensor readings over WebSocket at
// /ws/sensors, in the format the gateway consumes. Use it as a local
// backend when no real sensor network is available.
//
// Usage: go run ./cmd/sensorserver --addr :8000 --interval 2s
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/skysense/internal/config"
	"github.com/rickgao/skysense/internal/emitter"
	"github.com/rickgao/skysense/internal/simulator"
	"github.com/rickgao/skysense/internal/version"
)

func main() {
	addr := flag.String("addr", ":8000", "listen address")
	interval := flag.Duration("interval", emitter.DefaultInterval, "time between readings")
	sensors := flag.Int("sensors", emitter.DefaultSensorPool, "number of sensor ids")
	history := flag.Int("history", emitter.DefaultHistory, "readings replayed to new clients")
	seed := flag.Uint64("seed", 0, "random seed (0 = random)")
	prime := flag.Bool("prime", true, "seed the history with one reading per sensor at startup")
	logLevel := flag.String("log-level", "info", "debug, info, warn or error")
	flag.Parse()

	level, err := config.ParseLevel(*logLevel)
	if err != nil {
		slog.Error("invalid flag", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("starting sensor server",
		"version", version.Version,
		"addr", *addr,
		"interval", *interval,
		"sensors", *sensors,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	em := emitter.New(emitter.Config{
		Interval:    *interval,
		HistorySize: *history,
		Profile:     simulator.BackendProfile(*sensors),
		Seed:        *seed,
	}, nil, logger)
	if *prime {
		em.Prime()
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           newHandler(em),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return em.Run(gctx)
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("sensor server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("sensor server stopped", "readings_sent", em.Sent())
}

func newHandler(em *emitter.Emitter) http.Handler {
	r := mux.NewRouter()
	r.Handle("/ws/sensors", em)
	r.HandleFunc("/api/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{
			"status":    "healthy",
			"timestamp": time.Now().Format(time.RFC3339Nano),
		})
	}).Methods(http.MethodGet)
	r.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{
			"status":            "sensor server running",
			"version":           version.Version,
			"active_websockets": em.Clients(),
			"timestamp":         time.Now().Format(time.RFC3339Nano),
		})
	}).Methods(http.MethodGet)

	cors := handlers.CORS(handlers.AllowedOrigins([]string{"*"}))
	return handlers.LoggingHandler(os.Stdout, cors(r))
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}
