package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for HTD Core.
// All configuration is loaded from YAML; secrets can be overridden
// by environment variables.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	API       APIConfig       `yaml:"api"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Bluetooth BluetoothConfig `yaml:"bluetooth"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// LoggingConfig contains structured logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
	Output string `yaml:"output"` // stdout or stderr
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	JWT      JWTConfig        `yaml:"jwt"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// JWTConfig contains token signing settings.
// The secret can be overridden via HTDCORE_JWT_SECRET.
type JWTConfig struct {
	Secret     string `yaml:"secret"`
	ExpiryMins int    `yaml:"expiry_mins"`
}

// MQTTConfig contains MQTT telemetry mirror settings.
// The mirror is optional; when disabled no broker connection is made.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTReconnectConfig contains reconnection backoff settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
// The password can be overridden via HTDCORE_MQTT_PASSWORD.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// InfluxDBConfig contains the optional time-series mirror settings.
// The token can be overridden via HTDCORE_INFLUXDB_TOKEN.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`     // points per batch, default 100
	FlushInterval int    `yaml:"flush_interval"` // seconds, default 10
}

// BluetoothConfig contains peripheral session settings.
//
// PollInterval and DedupEpsilon are deliberately configurable rather than
// hard-coded; the defaults match the thermometer vendor's reference
// behaviour and should not be changed without confirming against a device.
type BluetoothConfig struct {
	Enabled        bool    `yaml:"enabled"`
	ScanTimeout    int     `yaml:"scan_timeout"`     // seconds
	ConnectTimeout int     `yaml:"connect_timeout"`  // seconds
	PollIntervalMS int     `yaml:"poll_interval_ms"` // realtime poll period
	DedupEpsilon   float64 `yaml:"dedup_epsilon"`    // realtime temperature dedup threshold
	DataMarker     string  `yaml:"data_marker"`      // advert substring meaning unread data
}

// Default values applied when the YAML omits a field.
const (
	defaultBusyTimeout    = 5
	defaultAPIPort        = 8090
	defaultJWTExpiryMins  = 720
	defaultScanTimeout    = 20
	defaultConnectTimeout = 20
	defaultPollIntervalMS = 2000
	defaultDedupEpsilon   = 0.0001
	defaultDataMarker     = "DATA"
	maxPort               = 65535
)

// Load reads and parses the configuration file at the given path.
// Missing optional fields receive defaults; the result is validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// applyDefaults fills in zero-valued optional fields.
func (c *Config) applyDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = "data/htdcore.db"
	}
	if c.Database.BusyTimeout == 0 {
		c.Database.BusyTimeout = defaultBusyTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
	if c.API.Port == 0 {
		c.API.Port = defaultAPIPort
	}
	if c.API.JWT.ExpiryMins == 0 {
		c.API.JWT.ExpiryMins = defaultJWTExpiryMins
	}
	if c.MQTT.Reconnect.InitialDelay == 0 {
		c.MQTT.Reconnect.InitialDelay = 1
	}
	if c.MQTT.Reconnect.MaxDelay == 0 {
		c.MQTT.Reconnect.MaxDelay = 60
	}
	if c.Bluetooth.ScanTimeout == 0 {
		c.Bluetooth.ScanTimeout = defaultScanTimeout
	}
	if c.Bluetooth.ConnectTimeout == 0 {
		c.Bluetooth.ConnectTimeout = defaultConnectTimeout
	}
	if c.Bluetooth.PollIntervalMS == 0 {
		c.Bluetooth.PollIntervalMS = defaultPollIntervalMS
	}
	if c.Bluetooth.DedupEpsilon == 0 {
		c.Bluetooth.DedupEpsilon = defaultDedupEpsilon
	}
	if c.Bluetooth.DataMarker == "" {
		c.Bluetooth.DataMarker = defaultDataMarker
	}
}

// applyEnvOverrides replaces secrets with environment values when set.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("HTDCORE_JWT_SECRET"); v != "" {
		c.API.JWT.Secret = v
	}
	if v := os.Getenv("HTDCORE_MQTT_PASSWORD"); v != "" {
		c.MQTT.Auth.Password = v
	}
	if v := os.Getenv("HTDCORE_INFLUXDB_TOKEN"); v != "" {
		c.InfluxDB.Token = v
	}
}

// Validate checks the configuration for values that would misbehave at runtime.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.API.Port < 0 || c.API.Port > maxPort {
		return fmt.Errorf("api.port %d out of range", c.API.Port)
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker.Host == "" {
			return fmt.Errorf("mqtt.broker.host is required when mqtt is enabled")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
	}
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			return fmt.Errorf("influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			return fmt.Errorf("influxdb.bucket is required when influxdb is enabled")
		}
	}
	if c.Bluetooth.PollIntervalMS < 0 {
		return fmt.Errorf("bluetooth.poll_interval_ms must be positive")
	}
	if c.Bluetooth.DedupEpsilon < 0 {
		return fmt.Errorf("bluetooth.dedup_epsilon must not be negative")
	}
	return nil
}

// PollInterval returns the realtime polling period as a duration.
func (c *BluetoothConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// ScanDuration returns the discovery scan bound as a duration.
func (c *BluetoothConfig) ScanDuration() time.Duration {
	return time.Duration(c.ScanTimeout) * time.Second
}

// ConnectDuration returns the connect attempt bound as a duration.
func (c *BluetoothConfig) ConnectDuration() time.Duration {
	return time.Duration(c.ConnectTimeout) * time.Second
}
