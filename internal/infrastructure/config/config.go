package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Bluetooth bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge   BridgeConfig   `yaml:"bridge"`
	Device   DeviceConfig   `yaml:"device"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// BridgeConfig contains supervisor and reporting settings.
type BridgeConfig struct {
	// ID identifies this bridge instance in health messages and telemetry.
	ID string `yaml:"id"`

	// ReconnectDelay is the fixed wait (in seconds) between a transport
	// disconnection and the next connect attempt.
	ReconnectDelay int `yaml:"reconnect_delay"`

	// CommandQueueSize bounds the number of broker commands waiting for
	// the transport. Commands arriving on a full queue are dropped.
	CommandQueueSize int `yaml:"command_queue_size"`

	// HealthInterval is how often (in seconds) health status is published.
	HealthInterval int `yaml:"health_interval"`

	// TelemetryInterval is how often (in seconds) statistics are written
	// to InfluxDB when it is enabled.
	TelemetryInterval int `yaml:"telemetry_interval"`
}

// DeviceConfig identifies the embedded peer.
type DeviceConfig struct {
	// Transport is "rfcomm" (default) or "tcp" for serial-over-TCP simulators.
	Transport string `yaml:"transport"`

	// Address is the Bluetooth MAC ("10:97:BD:31:E2:5A") for rfcomm,
	// or "host:port" for tcp.
	Address string `yaml:"address"`

	// Channel is the RFCOMM channel (1-30). Ignored for tcp.
	Channel int `yaml:"channel"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
	Topics    MQTTTopicsConfig    `yaml:"topics"`
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

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// MQTTTopicsConfig names the topics the bridge uses.
type MQTTTopicsConfig struct {
	// Data receives structured device messages (bridge publishes).
	Data string `yaml:"data"`

	// Command carries commands for the device (bridge subscribes).
	Command string `yaml:"command"`

	// Health receives retained bridge health status and the Last Will.
	Health string `yaml:"health"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains the optional local status HTTP server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	Stream   StreamConfig     `yaml:"stream"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// StreamConfig contains settings for the WebSocket live message stream.
type StreamConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Transport names accepted in device.transport.
const (
	TransportRFCOMM = "rfcomm"
	TransportTCP    = "tcp"
)

// maxRFCOMMChannel is the highest valid RFCOMM server channel.
const maxRFCOMMChannel = 30

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: BTBRIDGE_SECTION_KEY
// For example: BTBRIDGE_DEVICE_ADDRESS, BTBRIDGE_MQTT_HOST
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config matching the living-room deployment the
// bridge was first built for.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:                "bt-bridge",
			ReconnectDelay:    5,
			CommandQueueSize:  64,
			HealthInterval:    30,
			TelemetryInterval: 60,
		},
		Device: DeviceConfig{
			Transport: TransportRFCOMM,
			Address:   "10:97:BD:31:E2:5A",
			Channel:   1,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "btbridge",
			},
			QoS: 0,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			Topics: MQTTTopicsConfig{
				Data:    "home/sensor/livingroom",
				Command: "home/command/livingroom",
				Health:  "home/bridge/livingroom/health",
			},
		},
		InfluxDB: InfluxDBConfig{
			Enabled:       false,
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
			Stream: StreamConfig{
				MaxMessageSize: 4096,
				PingInterval:   30,
				PongTimeout:    10,
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
// Environment variables follow the pattern: BTBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// Device
	if v := os.Getenv("BTBRIDGE_DEVICE_ADDRESS"); v != "" {
		cfg.Device.Address = v
	}
	if v := os.Getenv("BTBRIDGE_DEVICE_CHANNEL"); v != "" {
		ch, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BTBRIDGE_DEVICE_CHANNEL: %w", err)
		}
		cfg.Device.Channel = ch
	}

	// MQTT
	if v := os.Getenv("BTBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("BTBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("BTBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("BTBRIDGE_TOPIC_DATA"); v != "" {
		cfg.MQTT.Topics.Data = v
	}
	if v := os.Getenv("BTBRIDGE_TOPIC_COMMAND"); v != "" {
		cfg.MQTT.Topics.Command = v
	}

	// InfluxDB
	if v := os.Getenv("BTBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// API
	if v := os.Getenv("BTBRIDGE_API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BTBRIDGE_API_PORT: %w", err)
		}
		cfg.API.Port = port
	}

	return nil
}

// Validate checks the configuration for errors.
// All problems are reported together in a single error.
func (c *Config) Validate() error {
	var errs []string

	// Bridge validation
	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}
	if c.Bridge.ReconnectDelay < 1 {
		errs = append(errs, "bridge.reconnect_delay must be at least 1 second")
	}
	if c.Bridge.CommandQueueSize < 1 {
		errs = append(errs, "bridge.command_queue_size must be at least 1")
	}

	// Device validation
	switch c.Device.Transport {
	case TransportRFCOMM:
		if c.Device.Channel < 1 || c.Device.Channel > maxRFCOMMChannel {
			errs = append(errs, "device.channel must be between 1 and 30")
		}
	case TransportTCP:
	default:
		errs = append(errs, fmt.Sprintf("device.transport %q is not supported (use rfcomm or tcp)", c.Device.Transport))
	}
	if c.Device.Address == "" {
		errs = append(errs, "device.address is required")
	}

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	errs = appendTopicErrors(errs, "mqtt.topics.data", c.MQTT.Topics.Data, false)
	errs = appendTopicErrors(errs, "mqtt.topics.command", c.MQTT.Topics.Command, true)
	errs = appendTopicErrors(errs, "mqtt.topics.health", c.MQTT.Topics.Health, false)
	if c.MQTT.Topics.Data != "" && c.MQTT.Topics.Data == c.MQTT.Topics.Command {
		errs = append(errs, "mqtt.topics.data and mqtt.topics.command must differ")
	}

	// InfluxDB validation (only when enabled)
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	// API validation (only when enabled)
	if c.API.Enabled {
		if c.API.Port < 0 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 0 and 65535")
		}
		if c.API.Stream.PingInterval < 1 {
			errs = append(errs, "api.stream.ping_interval must be at least 1 second")
		}
		if c.API.Stream.PongTimeout < 1 {
			errs = append(errs, "api.stream.pong_timeout must be at least 1 second")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// appendTopicErrors validates a topic name. Wildcards are only allowed on
// topics the bridge subscribes to.
func appendTopicErrors(errs []string, field, topic string, subscribe bool) []string {
	if topic == "" {
		return append(errs, field+" is required")
	}
	if !subscribe && strings.ContainsAny(topic, "+#") {
		return append(errs, field+" must not contain wildcards")
	}
	return errs
}

// GetReconnectDelay returns the transport reconnect delay as a Duration.
func (c *Config) GetReconnectDelay() time.Duration {
	return time.Duration(c.Bridge.ReconnectDelay) * time.Second
}

// GetHealthInterval returns the health publishing interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

// GetTelemetryInterval returns the telemetry write interval as a Duration.
func (c *Config) GetTelemetryInterval() time.Duration {
	return time.Duration(c.Bridge.TelemetryInterval) * time.Second
}
