package rfcomm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/btbridge/internal/infrastructure/config"
)

// Bridge relays lines between the device and the MQTT broker.
// It handles:
//   - Publishing structured device lines to the data topic
//   - Forwarding command topic payloads to the device
//   - Health reporting and optional telemetry
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg        *config.Config
	mqtt       MQTTClient
	supervisor *Supervisor
	health     *HealthReporter
	telemetry  *TelemetryRecorder // nil when no MetricsWriter is configured
	onMessage  func(line string)
	logger     Logger

	// Shutdown coordination
	mu       sync.Mutex
	cancel   context.CancelFunc
	group    *errgroup.Group
	stopOnce sync.Once
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// Unsubscribe removes the handler for a topic.
	Unsubscribe(topic string) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Config is the loaded configuration.
	Config *config.Config

	// MQTTClient is the MQTT client implementation.
	MQTTClient MQTTClient

	// Dialer opens device connections. Default: NewDialer().
	Dialer Dialer

	// Metrics is optional. When nil no telemetry is recorded.
	Metrics MetricsWriter

	// OnMessage, if set, observes every structured line after it has been
	// handed to the broker, whether or not the publish succeeded. It runs
	// on the receive goroutine and must not block.
	OnMessage func(line string)

	// Logger is optional structured logger.
	Logger Logger

	// Version is reported in health messages.
	Version string
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}

	ep, err := NewEndpoint(opts.Config.Device)
	if err != nil {
		return nil, fmt.Errorf("device endpoint: %w", err)
	}

	b := &Bridge{
		cfg:       opts.Config,
		mqtt:      opts.MQTTClient,
		onMessage: opts.OnMessage,
		logger:    orNop(opts.Logger),
	}

	b.supervisor = NewSupervisor(SupervisorConfig{
		Endpoint:       ep,
		Dialer:         opts.Dialer,
		ReconnectDelay: opts.Config.GetReconnectDelay(),
		QueueSize:      opts.Config.Bridge.CommandQueueSize,
		Publish:        b.publishData,
		Logger:         opts.Logger,
	})

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.Config.Bridge.ID,
		Version:   opts.Version,
		Topic:     opts.Config.MQTT.Topics.Health,
		Interval:  opts.Config.GetHealthInterval(),
		Publisher: opts.MQTTClient,
		Source:    b.supervisor,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}
	b.supervisor.OnStateChange(func(State) { b.health.Notify() })

	if opts.Metrics != nil {
		b.telemetry = NewTelemetryRecorder(
			opts.Config.Bridge.ID,
			ep.Network,
			opts.Config.GetTelemetryInterval(),
			opts.Metrics,
			b.supervisor,
		)
	}

	return b, nil
}

// Start subscribes to the command topic and launches the supervisor,
// command forwarder, health reporter and telemetry recorder. It returns
// once they are running; call Stop to shut them down.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logger.Error("failed to publish starting status", "error", err)
	}

	commandTopic := b.cfg.MQTT.Topics.Command
	// #nosec G115 -- QoS validated to 0-2 by config
	if err := b.mqtt.Subscribe(commandTopic, byte(b.cfg.MQTT.QoS), b.handleCommand); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logger.Info("subscribed to commands", "topic", commandTopic)

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error { return b.supervisor.Run(gctx) })
	g.Go(func() error { return b.supervisor.RunForwarder(gctx) })
	g.Go(func() error { return b.health.Run(gctx) })
	if b.telemetry != nil {
		g.Go(func() error { return b.telemetry.Run(gctx) })
	}

	b.mu.Lock()
	b.cancel = cancel
	b.group = g
	b.mu.Unlock()

	b.logger.Info("bridge started",
		"bridge_id", b.cfg.Bridge.ID,
		"device", b.supervisor.Endpoint().String(),
		"data_topic", b.cfg.MQTT.Topics.Data)

	return nil
}

// Stop cancels all bridge goroutines, waits for them and publishes a final
// "stopping" status. Safe to call multiple times, and before Start.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		cancel, g := b.cancel, b.group
		b.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if g != nil {
			if err := g.Wait(); err != nil {
				b.logger.Error("bridge goroutine failed", "error", err)
			}
		}

		// No more commands once the device side is gone.
		if b.mqtt.IsConnected() {
			if err := b.mqtt.Unsubscribe(b.cfg.MQTT.Topics.Command); err != nil {
				b.logger.Warn("failed to unsubscribe from commands", "error", err)
			}
		}

		//nolint:errcheck // best-effort during shutdown
		b.health.PublishStopping()

		b.logger.Info("bridge stopped")
	})
}

// Supervisor returns the device supervisor.
func (b *Bridge) Supervisor() *Supervisor {
	return b.supervisor
}

// Stats returns a snapshot of the bridge counters.
func (b *Bridge) Stats() Stats {
	return b.supervisor.Stats()
}

// publishData publishes one structured line to the data topic, byte for byte.
func (b *Bridge) publishData(line string) error {
	// #nosec G115 -- QoS validated to 0-2 by config
	err := b.mqtt.Publish(b.cfg.MQTT.Topics.Data, []byte(line), byte(b.cfg.MQTT.QoS), false)
	if b.onMessage != nil {
		b.onMessage(line)
	}
	return err
}

// handleCommand runs on the MQTT delivery goroutine. It hands the payload
// to the supervisor without blocking and logs when it is dropped.
func (b *Bridge) handleCommand(topic string, payload []byte) {
	err := b.supervisor.Submit(payload)
	switch {
	case err == nil:
		b.logger.Debug("command queued", "topic", topic, "bytes", len(payload))
	case errors.Is(err, ErrNotConnected):
		b.logger.Warn("command dropped: no active device session", "topic", topic)
	case errors.Is(err, ErrCommandQueueFull):
		b.logger.Warn("command dropped: queue full", "topic", topic)
	default:
		b.logger.Warn("command dropped", "topic", topic, "error", err)
	}
}
