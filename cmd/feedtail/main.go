// feedtail connects a connection manager to a sensor source and prints every
// reading and state change to the console.
// Usage: go run ./cmd/feedtail --url ws://localhost:8000/ws/sensors
//
// With --config the source settings come from a gateway config file instead.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickgao/skysense/internal/config"
	"github.com/rickgao/skysense/internal/connection"
	"github.com/rickgao/skysense/internal/feed"
	"github.com/rickgao/skysense/internal/model"
)

func main() {
	configPath := flag.String("config", "", "path to gateway config file (optional)")
	url := flag.String("url", "ws://localhost:8000/ws/sensors", "sensor source WebSocket URL")
	simulate := flag.Bool("simulate", false, "start in simulation mode")
	verbose := flag.Bool("verbose", false, "print full reading JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	mgrCfg := connection.DefaultManagerConfig()
	clientCfg := connection.DefaultClientConfig()
	mgrCfg.URL = *url

	if *configPath != "" {
		cfg, err := config.LoadAndValidate(*configPath)
		if err != nil {
			logger.Error("failed to load config", "error", err)
			os.Exit(1)
		}
		mgrCfg.URL = cfg.Source.URL
		mgrCfg.Policy = connection.Policy{
			MaxRetries:      cfg.Source.MaxRetries,
			RetryDelay:      cfg.Source.RetryDelay,
			CloseRetryDelay: cfg.Source.CloseRetryDelay,
		}
		mgrCfg.SimulationInterval = cfg.Source.SimulationInterval
		mgrCfg.SensorPool = cfg.Source.SensorPool
		clientCfg.HandshakeTimeout = cfg.Source.HandshakeTimeout
		clientCfg.PingInterval = cfg.Source.PingInterval
		clientCfg.PingTimeout = cfg.Source.PingTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	hub := feed.NewHub(logger)
	mgr := connection.NewManager(mgrCfg, connection.NewWSDialer(clientCfg, logger), hub, nil, nil, logger)

	readings := hub.SubscribeReadings()
	statuses := hub.SubscribeStatus()
	go printReadings(ctx, readings, *verbose)
	go printStates(ctx, statuses)

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st := mgr.Stats()
				logger.Info("stats",
					"state", st.State,
					"retries", st.Retries,
					"live_readings", st.LiveReadings,
					"simulated_readings", st.SimulatedReadings,
					"malformed", st.MalformedPayloads,
					"transport_errors", st.TransportErrors,
					"connected_for", st.ConnectedFor(time.Now()).Round(time.Second),
				)
			}
		}
	}()

	var err error
	if *simulate {
		err = mgr.StartSimulation()
	} else {
		err = mgr.Connect()
	}
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}

	logger.Info("tailing feed - press Ctrl+C to stop", "url", mgrCfg.URL, "session_id", mgr.SessionID())

	<-ctx.Done()

	logger.Info("shutting down...")
	mgr.Close()
	hub.Close()
	logger.Info("shutdown complete")
}

func printReadings(ctx context.Context, sub *feed.Subscription[model.SensorReading], verbose bool) {
	for {
		r, err := sub.Next(ctx)
		if err != nil {
			if !errors.Is(err, feed.ErrClosed) && !errors.Is(err, context.Canceled) {
				fmt.Fprintf(os.Stderr, "reading feed: %v\n", err)
			}
			return
		}
		if verbose {
			data, _ := json.MarshalIndent(r, "", "  ")
			fmt.Printf("[READING] %s\n", data)
			continue
		}
		fmt.Printf("[READING] %s\n", r)
	}
}

func printStates(ctx context.Context, sub *feed.Subscription[model.ConnectionState]) {
	for {
		s, err := sub.Next(ctx)
		if err != nil {
			return
		}
		fmt.Printf("[STATE] %s\n", s)
	}
}
