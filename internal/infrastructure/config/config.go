package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Column Relay.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Relay     RelayConfig     `yaml:"relay"`
	Auth      AuthConfig      `yaml:"auth"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Queue     QueueConfig     `yaml:"queue"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// RelayConfig contains HTTP/WebSocket listener settings.
type RelayConfig struct {
	Host     string             `yaml:"host"`
	Port     int                `yaml:"port"`
	TLS      TLSConfig          `yaml:"tls"`
	Timeouts RelayTimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig         `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// RelayTimeoutConfig contains HTTP timeout settings (seconds).
type RelayTimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// AuthConfig contains the role-scoped shared secrets for the two relay
// endpoints. Controllers present DeviceToken, supervisory clients present
// ClientToken. Both are required; the process refuses to start without them.
type AuthConfig struct {
	DeviceToken string `yaml:"device_token"`
	ClientToken string `yaml:"client_token"`
}

// WebSocketConfig contains relay connection supervision settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"` // seconds between heartbeat pings
	PongTimeout    int `yaml:"pong_timeout"`  // seconds to wait for a pong reply
	SendBuffer     int `yaml:"send_buffer"`   // per-connection outbound buffer (messages)
}

// QueueConfig contains offline command queue settings.
type QueueConfig struct {
	// PerDeviceCap is the maximum number of commands retained per device.
	// Exceeding the cap evicts the oldest entry.
	PerDeviceCap int `yaml:"per_device_cap"`

	// LivenessWindow is how long after the last traffic a device is still
	// considered online (seconds).
	LivenessWindow int `yaml:"liveness_window"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains settings for the optional MQTT ops mirror.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains settings for the optional telemetry recorder.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: COLUMNRELAY_SECTION_KEY
// For example: COLUMNRELAY_AUTH_DEVICE_TOKEN, COLUMNRELAY_RELAY_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Relay: RelayConfig{
			Host: "0.0.0.0",
			Port: 3000,
			Timeouts: RelayTimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 65536,
			PingInterval:   30,
			PongTimeout:    10,
			SendBuffer:     256,
		},
		Queue: QueueConfig{
			PerDeviceCap:   10,
			LivenessWindow: 60,
		},
		Database: DatabaseConfig{
			Path:        "./data/columnrelay.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "columnrelay",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: COLUMNRELAY_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Relay
	if v := os.Getenv("COLUMNRELAY_RELAY_HOST"); v != "" {
		cfg.Relay.Host = v
	}
	if v := os.Getenv("COLUMNRELAY_RELAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Relay.Port = port
		}
	}

	// Auth - tokens should always come from the environment in production
	if v := os.Getenv("COLUMNRELAY_AUTH_DEVICE_TOKEN"); v != "" {
		cfg.Auth.DeviceToken = v
	}
	if v := os.Getenv("COLUMNRELAY_AUTH_CLIENT_TOKEN"); v != "" {
		cfg.Auth.ClientToken = v
	}

	// Database
	if v := os.Getenv("COLUMNRELAY_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("COLUMNRELAY_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("COLUMNRELAY_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("COLUMNRELAY_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("COLUMNRELAY_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	// Relay validation
	if c.Relay.Port < 1 || c.Relay.Port > 65535 {
		errs = append(errs, "relay.port must be between 1 and 65535")
	}

	// Auth validation - both tokens are REQUIRED.
	// An empty token would let anyone attach to the fleet or inject commands
	// into a live still, so startup refuses to proceed without them.
	if c.Auth.DeviceToken == "" {
		errs = append(errs, "auth.device_token is required (set COLUMNRELAY_AUTH_DEVICE_TOKEN environment variable)")
	}
	if c.Auth.ClientToken == "" {
		errs = append(errs, "auth.client_token is required (set COLUMNRELAY_AUTH_CLIENT_TOKEN environment variable)")
	}

	// Queue validation
	if c.Queue.PerDeviceCap < 1 {
		errs = append(errs, "queue.per_device_cap must be at least 1")
	}
	if c.Queue.LivenessWindow < 1 {
		errs = append(errs, "queue.liveness_window must be at least 1 second")
	}

	// WebSocket validation
	if c.WebSocket.PingInterval < 1 {
		errs = append(errs, "websocket.ping_interval must be at least 1 second")
	}
	if c.WebSocket.PongTimeout < 1 {
		errs = append(errs, "websocket.pong_timeout must be at least 1 second")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation (only when the mirror is enabled)
	if c.MQTT.Enabled {
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
	}

	// InfluxDB validation (only when the recorder is enabled)
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the relay read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.Relay.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the relay write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.Relay.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the relay idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.Relay.Timeouts.Idle) * time.Second
}

// GetPingInterval returns the heartbeat ping interval as a Duration.
func (w WebSocketConfig) GetPingInterval() time.Duration {
	return time.Duration(w.PingInterval) * time.Second
}

// GetPongTimeout returns the pong response deadline as a Duration.
func (w WebSocketConfig) GetPongTimeout() time.Duration {
	return time.Duration(w.PongTimeout) * time.Second
}

// GetLivenessWindow returns the liveness window as a Duration.
func (q QueueConfig) GetLivenessWindow() time.Duration {
	return time.Duration(q.LivenessWindow) * time.Second
}
