package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultMaxRetries         = 3
	DefaultRetryDelay         = 3 * time.Second
	DefaultCloseRetryDelay    = 2 * time.Second
	DefaultHandshakeTimeout   = 10 * time.Second
	DefaultPingInterval       = 30 * time.Second
	DefaultPingTimeout        = 60 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultSimulationInterval = 2 * time.Second
	DefaultSensorPool         = 5
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 10
	DefaultMinConns           = 2
	DefaultConnectRetries     = 10
	DefaultConnectRetryWait   = 5 * time.Second
	DefaultBatchSize          = 500
	DefaultFlushInterval      = 1 * time.Second
	DefaultCacheTTL           = 1 * time.Hour
	DefaultCacheKeep          = 100
	DefaultMQTTTopic          = "skysense/readings"
	DefaultMQTTClientID       = "skysense-gateway"
	DefaultKafkaTopic         = "sensor-readings"
	DefaultKafkaBatchTimeout  = 100 * time.Millisecond
	DefaultHTTPPort           = 8080
	DefaultHistorySize        = 10
	DefaultMetricsPath        = "/metrics"
	DefaultLogLevel           = "info"
)

// defaultTo sets *field to value when it holds the zero value and records key.
func defaultTo[T comparable](c *GatewayConfig, key string, field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
		c.defaulted = append(c.defaulted, key)
	}
}

func (c *GatewayConfig) applyDefaults() {
	c.defaulted = c.defaulted[:0]

	// Source defaults
	defaultTo(c, "source.max_retries", &c.Source.MaxRetries, DefaultMaxRetries)
	defaultTo(c, "source.retry_delay", &c.Source.RetryDelay, DefaultRetryDelay)
	defaultTo(c, "source.close_retry_delay", &c.Source.CloseRetryDelay, DefaultCloseRetryDelay)
	defaultTo(c, "source.handshake_timeout", &c.Source.HandshakeTimeout, DefaultHandshakeTimeout)
	defaultTo(c, "source.ping_interval", &c.Source.PingInterval, DefaultPingInterval)
	defaultTo(c, "source.ping_timeout", &c.Source.PingTimeout, DefaultPingTimeout)
	defaultTo(c, "source.write_timeout", &c.Source.WriteTimeout, DefaultWriteTimeout)
	defaultTo(c, "source.simulation_interval", &c.Source.SimulationInterval, DefaultSimulationInterval)
	defaultTo(c, "source.sensor_pool", &c.Source.SensorPool, DefaultSensorPool)

	// Database defaults
	defaultTo(c, "database.port", &c.Database.Port, DefaultDBPort)
	defaultTo(c, "database.ssl_mode", &c.Database.SSLMode, DefaultDBSSLMode)
	defaultTo(c, "database.max_conns", &c.Database.MaxConns, DefaultMaxConns)
	defaultTo(c, "database.min_conns", &c.Database.MinConns, DefaultMinConns)
	defaultTo(c, "database.connect_retries", &c.Database.ConnectRetries, DefaultConnectRetries)
	defaultTo(c, "database.retry_interval", &c.Database.RetryInterval, DefaultConnectRetryWait)

	// Writer defaults
	defaultTo(c, "writer.batch_size", &c.Writer.BatchSize, DefaultBatchSize)
	defaultTo(c, "writer.flush_interval", &c.Writer.FlushInterval, DefaultFlushInterval)

	// Cache defaults
	defaultTo(c, "cache.ttl", &c.Cache.TTL, DefaultCacheTTL)
	defaultTo(c, "cache.keep", &c.Cache.Keep, DefaultCacheKeep)

	// Relay defaults
	defaultTo(c, "relay.mqtt.topic", &c.Relay.MQTT.Topic, DefaultMQTTTopic)
	clientID := DefaultMQTTClientID
	if c.Instance.ID != "" {
		clientID += "-" + c.Instance.ID
	}
	defaultTo(c, "relay.mqtt.client_id", &c.Relay.MQTT.ClientID, clientID)
	defaultTo(c, "relay.kafka.topic", &c.Relay.Kafka.Topic, DefaultKafkaTopic)
	defaultTo(c, "relay.kafka.batch_timeout", &c.Relay.Kafka.BatchTimeout, DefaultKafkaBatchTimeout)

	// HTTP defaults
	defaultTo(c, "http.port", &c.HTTP.Port, DefaultHTTPPort)
	defaultTo(c, "http.history_size", &c.HTTP.HistorySize, DefaultHistorySize)

	// Metrics and log defaults
	defaultTo(c, "metrics.path", &c.Metrics.Path, DefaultMetricsPath)
	defaultTo(c, "log.level", &c.Log.Level, DefaultLogLevel)
}
