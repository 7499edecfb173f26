// btbridge relays line-delimited text between an embedded device on a
// Bluetooth RFCOMM channel and an MQTT broker.
//
// Structured lines from the device ({...}) are published to the data topic;
// payloads on the command topic are written to the device. The device link
// is reconnected forever; a broker that cannot be reached at startup is fatal.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/nerrad567/btbridge/internal/api"
	"github.com/nerrad567/btbridge/internal/bridges/rfcomm"
	"github.com/nerrad567/btbridge/internal/infrastructure/config"
	"github.com/nerrad567/btbridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/btbridge/internal/infrastructure/logging"
	"github.com/nerrad567/btbridge/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// configEnvVar overrides the default configuration path.
const configEnvVar = "BTBRIDGE_CONFIG"

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It blocks until ctx is cancelled and returns nil on clean shutdown.
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting btbridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Connect to MQTT broker. There is no retry here: without a broker the
	// bridge has nothing to do.
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	mqttClient.SetLogger(log.With("component", "mqtt"))
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT connection lost", "error", err)
	})
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT connected")
	})
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Optional telemetry
	var metrics rfcomm.MetricsWriter
	var influx *influxdb.Client // nil when disabled
	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		metrics = influxClient
		influx = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	// The stream hub exists before the bridge so it can observe device lines.
	var hub *api.Hub
	var onMessage func(string)
	if cfg.API.Enabled {
		hub = api.NewHub(cfg.API.Stream, log.With("component", "api"))
		onMessage = hub.Broadcast
	}

	bridge, err := rfcomm.NewBridge(rfcomm.BridgeOptions{
		Config:     cfg,
		MQTTClient: &mqttBridgeAdapter{client: mqttClient},
		Metrics:    metrics,
		OnMessage:  onMessage,
		Logger:     log.With("component", "bridge"),
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer bridge.Stop()

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer, err = api.New(api.Deps{
			Config:   cfg.API,
			Logger:   log.With("component", "api"),
			Bridge:   bridge.Supervisor(),
			MQTT:     mqttClient,
			Hub:      hub,
			BridgeID: cfg.Bridge.ID,
			Version:  version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := apiServer.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("status API disabled")
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, mqttClient, influx, apiServer); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal",
		"device", cfg.Device.Address,
		"data_topic", cfg.MQTT.Topics.Data,
		"command_topic", cfg.MQTT.Topics.Command,
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API, bridge, InfluxDB, MQTT.
	return nil
}

// healthCheck verifies every started component once after startup.
// influxClient and apiServer may be nil when disabled.
func healthCheck(ctx context.Context, mqttClient *mqtt.Client, influxClient *influxdb.Client, apiServer *api.Server) error {
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	if apiServer != nil {
		if err := apiServer.HealthCheck(ctx); err != nil {
			return fmt.Errorf("api: %w", err)
		}
	}

	return nil
}

// resolveConfigPath returns flagPath when set, else BTBRIDGE_CONFIG, else
// the default path.
func resolveConfigPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The only difference is the handler signature:
// the infrastructure client's handlers return an error, the bridge's don't.
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements rfcomm.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements rfcomm.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// Unsubscribe implements rfcomm.MQTTClient.
func (a *mqttBridgeAdapter) Unsubscribe(topic string) error {
	return a.client.Unsubscribe(topic)
}

// IsConnected implements rfcomm.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
