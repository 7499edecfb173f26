package rfcomm

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// defaultHealthInterval is used when HealthReporterConfig.Interval is zero.
const defaultHealthInterval = 30 * time.Second

// HealthReporter publishes retained health messages to the broker at a
// fixed interval, and immediately whenever Notify is called.
type HealthReporter struct {
	bridgeID  string
	version   string
	topic     string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	source    HealthSource

	// notify is buffered; repeated Notify calls collapse into one publish.
	notify chan struct{}

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex
}

// HealthPublisher is the interface for publishing health messages.
// This is typically implemented by an MQTT client.
type HealthPublisher interface {
	// Publish sends a message to a topic with the specified QoS and retention.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// IsConnected returns true if the publisher is connected.
	IsConnected() bool
}

// HealthSource provides the device state. Implemented by *Supervisor.
type HealthSource interface {
	State() State
	Stats() Stats
	Endpoint() Endpoint
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// BridgeID is the bridge identifier for health messages.
	BridgeID string

	// Version is the bridge software version.
	Version string

	// Topic is the health topic. An empty topic disables reporting.
	Topic string

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	// Publisher is the MQTT client for publishing messages.
	Publisher HealthPublisher

	// Source provides device state and statistics.
	Source HealthSource
}

// NewHealthReporter creates a new health reporter. Call Run to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}

	return &HealthReporter{
		bridgeID:  cfg.BridgeID,
		version:   cfg.Version,
		topic:     cfg.Topic,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		source:    cfg.Source,
		notify:    make(chan struct{}, 1),
	}
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// Run publishes the current status immediately, then on every tick and
// every Notify, until ctx is cancelled. It always returns nil.
func (h *HealthReporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-h.notify:
		}
		if err := h.PublishNow(); err != nil {
			h.logError("failed to publish health", err)
		}
	}
}

// Notify requests an immediate publish from Run. It never blocks, so it is
// safe to call from a Supervisor state-change hook.
func (h *HealthReporter) Notify() {
	select {
	case h.notify <- struct{}{}:
	default:
	}
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishStopping publishes a "stopping" status.
func (h *HealthReporter) PublishStopping() error {
	return h.publishStatus(HealthStopping, "bridge stopping")
}

// PublishNow publishes the current health status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

// determineStatus evaluates the current bridge status.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.source == nil {
		if h.publisher == nil || !h.publisher.IsConnected() {
			return HealthDegraded, ReasonMQTTDisconnected
		}
		return HealthDegraded, "device state unknown"
	}
	return DetermineStatus(h.publisher != nil && h.publisher.IsConnected(), h.source.State())
}

// ReasonMQTTDisconnected is the degraded reason when the broker is down.
const ReasonMQTTDisconnected = "MQTT disconnected"

// DetermineStatus derives the health status and degraded reason from broker
// connectivity and the supervisor state. The broker is checked first: without
// it no health message leaves the bridge over MQTT at all.
func DetermineStatus(brokerConnected bool, state State) (HealthStatus, string) {
	if !brokerConnected {
		return HealthDegraded, ReasonMQTTDisconnected
	}
	if state != StateConnected {
		return HealthDegraded, "device " + state.String()
	}
	return HealthHealthy, ""
}

// publishStatus publishes a health status message (QoS 1, retained).
func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil || h.topic == "" {
		return nil
	}

	var (
		ep    Endpoint
		state State
		stats Stats
	)
	if h.source != nil {
		ep = h.source.Endpoint()
		state = h.source.State()
		stats = h.source.Stats()
	}

	msg := NewHealthMessage(h.bridgeID, h.version, status, ep, state, stats, h.startTime)
	msg.Reason = reason

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return h.publisher.Publish(h.topic, payload, 1, true)
}

// logError logs an error if logger is set.
func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
