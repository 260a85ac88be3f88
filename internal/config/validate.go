package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
//
// The source URL is only checked for presence: an undialable URL is
// handled at runtime by falling back to simulation.
func (c *GatewayConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if err := c.Source.validate(); err != nil {
		return err
	}

	if c.Database.Enabled {
		if err := c.Database.DBConfig.validate("database"); err != nil {
			return err
		}
		if c.Database.ConnectRetries < 1 {
			return errors.New("database.connect_retries must be >= 1")
		}
	}

	if c.Writer.BatchSize < 1 {
		return errors.New("writer.batch_size must be >= 1")
	}
	if c.Writer.FlushInterval <= 0 {
		return errors.New("writer.flush_interval must be > 0")
	}

	if c.Cache.Enabled {
		if len(c.Cache.Addrs) == 0 {
			return errors.New("cache.addrs is required when cache is enabled")
		}
		if c.Cache.Keep < 1 {
			return errors.New("cache.keep must be >= 1")
		}
	}

	if c.Relay.MQTT.Enabled {
		if c.Relay.MQTT.Broker == "" {
			return errors.New("relay.mqtt.broker is required when mqtt relay is enabled")
		}
		if c.Relay.MQTT.QoS < 0 || c.Relay.MQTT.QoS > 2 {
			return fmt.Errorf("relay.mqtt.qos must be 0, 1 or 2, got %d", c.Relay.MQTT.QoS)
		}
	}

	if c.Relay.Kafka.Enabled && len(c.Relay.Kafka.Brokers) == 0 {
		return errors.New("relay.kafka.brokers is required when kafka relay is enabled")
	}

	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.HTTP.HistorySize < 1 {
		return errors.New("http.history_size must be >= 1")
	}

	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}

	return nil
}

func (s *SourceConfig) validate() error {
	if s.URL == "" {
		return errors.New("source.url is required")
	}
	if s.MaxRetries < 1 {
		return errors.New("source.max_retries must be >= 1")
	}
	if s.RetryDelay <= 0 {
		return errors.New("source.retry_delay must be > 0")
	}
	if s.CloseRetryDelay <= 0 {
		return errors.New("source.close_retry_delay must be > 0")
	}
	if s.SimulationInterval <= 0 {
		return errors.New("source.simulation_interval must be > 0")
	}
	if s.SensorPool < 1 {
		return errors.New("source.sensor_pool must be >= 1")
	}
	if s.PingTimeout <= s.PingInterval {
		return fmt.Errorf("source.ping_timeout (%s) must exceed ping_interval (%s)", s.PingTimeout, s.PingInterval)
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

// ParseLevel maps a log.level value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log.level must be debug, info, warn or error, got %q", s)
	}
}
