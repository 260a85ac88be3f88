package config

import "time"

// GatewayConfig is the root configuration for a gateway instance.
type GatewayConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	Source   SourceConfig   `yaml:"source"`
	Database DatabaseConfig `yaml:"database"`
	Writer   WriterConfig   `yaml:"writer"`
	Cache    CacheConfig    `yaml:"cache"`
	Relay    RelayConfig    `yaml:"relay"`
	HTTP     HTTPConfig     `yaml:"http"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`

	unsetEnv  []string
	defaulted []string
}

// InstanceConfig identifies this gateway.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// SourceConfig holds the live sensor source and fallback settings.
type SourceConfig struct {
	URL                string        `yaml:"url"` // ws:// or wss:// endpoint of the sensor backend
	MaxRetries         int           `yaml:"max_retries"`
	RetryDelay         time.Duration `yaml:"retry_delay"`
	CloseRetryDelay    time.Duration `yaml:"close_retry_delay"`
	HandshakeTimeout   time.Duration `yaml:"handshake_timeout"`
	PingInterval       time.Duration `yaml:"ping_interval"`
	PingTimeout        time.Duration `yaml:"ping_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	SimulationInterval time.Duration `yaml:"simulation_interval"`
	SensorPool         int           `yaml:"sensor_pool"`
	AutoConnect        *bool         `yaml:"auto_connect"` // nil means true
}

// ShouldAutoConnect reports whether the gateway connects at startup.
func (s SourceConfig) ShouldAutoConnect() bool {
	return s.AutoConnect == nil || *s.AutoConnect
}

// DatabaseConfig holds the PostgreSQL connection for persisted readings.
type DatabaseConfig struct {
	Enabled        bool          `yaml:"enabled"`
	ConnectRetries int           `yaml:"connect_retries"`
	RetryInterval  time.Duration `yaml:"retry_interval"`
	DBConfig       `yaml:",inline"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// WriterConfig holds batch writer settings.
type WriterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// CacheConfig holds the Redis recent-readings cache.
type CacheConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addrs    []string      `yaml:"addrs"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
	Keep     int           `yaml:"keep"` // readings kept per sensor
}

// RelayConfig holds the broker relays.
type RelayConfig struct {
	MQTT  MQTTConfig  `yaml:"mqtt"`
	Kafka KafkaConfig `yaml:"kafka"`
}

// MQTTConfig configures the MQTT relay.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"` // e.g. tcp://localhost:1883
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	QoS      int    `yaml:"qos"`
}

// KafkaConfig configures the Kafka relay.
type KafkaConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

// HTTPConfig holds the HTTP API settings.
type HTTPConfig struct {
	Port        int    `yaml:"port"`
	HistorySize int    `yaml:"history_size"` // readings kept in memory for /api/readings/latest and /api/stats
	StaticDir   string `yaml:"static_dir"`   // optional dashboard assets served at /
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Path string `yaml:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}
