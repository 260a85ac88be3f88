// gateway runs the sensor-feed gateway: it holds a live WebSocket session to
// the sensor backend (falling back to simulated readings when the backend is
// unreachable), persists and relays every reading, and serves the HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/skysense/internal/cache"
	"github.com/rickgao/skysense/internal/config"
	"github.com/rickgao/skysense/internal/connection"
	"github.com/rickgao/skysense/internal/database"
	"github.com/rickgao/skysense/internal/feed"
	"github.com/rickgao/skysense/internal/httpapi"
	"github.com/rickgao/skysense/internal/relay"
	"github.com/rickgao/skysense/internal/version"
	"github.com/rickgao/skysense/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/gateway.example.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	level, _ := config.ParseLevel(cfg.Log.Level)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("starting gateway",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"instance_id", cfg.Instance.ID,
		"source_url", cfg.Source.URL,
	)
	for _, name := range cfg.UnsetEnv() {
		logger.Warn("config references unset environment variable", "name", name)
	}
	logger.Debug("config defaults applied", "keys", cfg.Defaulted())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("gateway failed", "error", err)
		os.Exit(1)
	}
	logger.Info("gateway stopped")
}

func run(ctx context.Context, cfg *config.GatewayConfig, logger *slog.Logger) error {
	hub := feed.NewHub(logger)
	history := feed.NewHistory(cfg.HTTP.HistorySize)

	dialer := connection.NewWSDialer(connection.ClientConfig{
		HandshakeTimeout: cfg.Source.HandshakeTimeout,
		PingInterval:     cfg.Source.PingInterval,
		PingTimeout:      cfg.Source.PingTimeout,
		WriteTimeout:     cfg.Source.WriteTimeout,
	}, logger)

	mgr := connection.NewManager(connection.ManagerConfig{
		URL: cfg.Source.URL,
		Policy: connection.Policy{
			MaxRetries:      cfg.Source.MaxRetries,
			RetryDelay:      cfg.Source.RetryDelay,
			CloseRetryDelay: cfg.Source.CloseRetryDelay,
		},
		SimulationInterval: cfg.Source.SimulationInterval,
		SensorPool:         cfg.Source.SensorPool,
	}, dialer, hub, nil, nil, logger)

	pool := connectDatabase(ctx, cfg.Database, logger)
	if pool != nil {
		defer pool.Close()
	}

	var readingCache cache.Cache
	if cfg.Cache.Enabled {
		rc := cache.NewRedis(cfg.Cache)
		pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
		if err := rc.Ping(pingCtx); err != nil {
			logger.Warn("cache not reachable yet", "addrs", cfg.Cache.Addrs, "error", err)
		}
		pingCancel()
		readingCache = rc
		// Closed on return, after the HTTP server has stopped reading it.
		defer func() {
			if err := rc.Close(); err != nil {
				logger.Warn("close cache", "error", err)
			}
		}()
	}

	sinks := buildSinks(cfg.Relay, readingCache, logger)

	g, gctx := errgroup.WithContext(ctx)

	historySub := hub.SubscribeReadings()
	g.Go(func() error {
		return history.Run(gctx, historySub)
	})

	var readingWriter *writer.ReadingWriter
	if pool != nil {
		readingWriter = writer.NewReadingWriter(writer.WriterConfig{
			BatchSize:     cfg.Writer.BatchSize,
			FlushInterval: cfg.Writer.FlushInterval,
		}, hub.SubscribeReadings(), pool, mgr.SessionID(), logger)
		if err := readingWriter.Start(gctx); err != nil {
			return fmt.Errorf("start writer: %w", err)
		}
	}

	for _, sink := range sinks {
		sub := hub.SubscribeReadings()
		g.Go(func() error {
			defer sink.Close()
			return relay.Pump(gctx, sink, sub, logger)
		})
	}

	deps := httpapi.Deps{
		Controller:  mgr,
		Hub:         hub,
		History:     history,
		MetricsPath: cfg.Metrics.Path,
		StaticDir:   cfg.HTTP.StaticDir,
	}
	if pool != nil {
		deps.Database = pool
	}
	if readingCache != nil {
		deps.Cache = readingCache
	}
	server := httpapi.NewServer(deps, logger)
	g.Go(func() error {
		return server.ListenAndServe(gctx, fmt.Sprintf(":%d", cfg.HTTP.Port))
	})

	if cfg.Source.ShouldAutoConnect() {
		if err := mgr.Connect(); err != nil {
			return fmt.Errorf("connect source: %w", err)
		}
	} else {
		logger.Info("auto connect disabled, waiting for POST /api/connection/connect")
	}

	logger.Info("gateway running",
		"session_id", mgr.SessionID(),
		"http_port", cfg.HTTP.Port,
		"database", pool != nil,
		"cache", readingCache != nil,
		"relays", len(sinks),
	)

	<-gctx.Done()
	logger.Info("shutting down...")

	if err := mgr.Close(); err != nil {
		logger.Warn("close connection manager", "error", err)
	}
	hub.Close()

	if readingWriter != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := readingWriter.Stop(shutdownCtx); err != nil {
			logger.Warn("stop writer", "error", err)
		}
		logger.Info("writer stats", "stats", readingWriter.Stats())
	}

	logger.Info("session stats", "stats", mgr.Stats())

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// connectDatabase returns nil when persistence is disabled or unreachable;
// the gateway keeps streaming without it.
func connectDatabase(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) *pgxpool.Pool {
	if !cfg.Enabled {
		logger.Info("database disabled")
		return nil
	}

	logger.Info("connecting to database",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.Name,
	)
	pool, err := database.ConnectWithRetry(ctx, cfg, logger)
	if err != nil {
		logger.Error("database unavailable, continuing without persistence", "error", err)
		return nil
	}

	if err := writer.EnsureSchema(ctx, pool); err != nil {
		logger.Error("create schema failed, continuing without persistence", "error", err)
		pool.Close()
		return nil
	}
	logger.Info("database schema ready")
	return pool
}

func buildSinks(cfg config.RelayConfig, c cache.Cache, logger *slog.Logger) []relay.Sink {
	var sinks []relay.Sink

	if c != nil {
		sinks = append(sinks, relay.NewCacheSink(c))
	}

	if cfg.MQTT.Enabled {
		m, err := relay.NewMQTT(cfg.MQTT, logger)
		if err != nil {
			logger.Error("mqtt relay disabled", "broker", cfg.MQTT.Broker, "error", err)
		} else {
			sinks = append(sinks, m)
		}
	}

	if cfg.Kafka.Enabled {
		sinks = append(sinks, relay.NewKafka(cfg.Kafka))
	}

	return sinks
}
