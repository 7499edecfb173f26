package rfcomm

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/btbridge/internal/infrastructure/config"
)

// testEndpoint is a valid rfcomm endpoint; mock dialers never touch the radio.
var testEndpoint = Endpoint{Network: NetworkRFCOMM, Address: "10:97:BD:31:E2:5A", Channel: 1}

// testConfig returns a complete configuration for bridge tests.
func testConfig() *config.Config {
	return &config.Config{
		Bridge: config.BridgeConfig{
			ID:                "test-bridge",
			ReconnectDelay:    1,
			CommandQueueSize:  8,
			HealthInterval:    30,
			TelemetryInterval: 60,
		},
		Device: config.DeviceConfig{
			Transport: config.TransportRFCOMM,
			Address:   "10:97:BD:31:E2:5A",
			Channel:   1,
		},
		MQTT: config.MQTTConfig{
			QoS: 0,
			Topics: config.MQTTTopicsConfig{
				Data:    "home/sensor/livingroom",
				Command: "home/command/livingroom",
				Health:  "home/bridge/livingroom/health",
			},
		},
	}
}

// =============================================================================
// MQTT mock
// =============================================================================

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []mockSubscription
	unsubscribes  []mockUnsubscribe
	connected     bool
	publishErr    error
	handlers      map[string]func(topic string, payload []byte)
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

type mockSubscription struct {
	Topic string
	QoS   byte
}

// mockUnsubscribe records an Unsubscribe call and how many messages had
// been published before it.
type mockUnsubscribe struct {
	Topic           string
	PublishedBefore int
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]func(topic string, payload []byte)),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  bytes.Clone(payload),
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, mockSubscription{Topic: topic, QoS: qos})
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribes = append(m.unsubscribes, mockUnsubscribe{Topic: topic, PublishedBefore: len(m.published)})
	delete(m.handlers, topic)
	return nil
}

func (m *MockMQTTClient) GetUnsubscribes() []mockUnsubscribe {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockUnsubscribe(nil), m.unsubscribes...)
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishErr = err
}

func (m *MockMQTTClient) GetSubscriptions() []mockSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockSubscription(nil), m.subscriptions...)
}

// PublishedOn returns the payloads published on topic, in order.
func (m *MockMQTTClient) PublishedOn(topic string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, p := range m.published {
		if p.Topic == topic {
			out = append(out, string(p.Payload))
		}
	}
	return out
}

// SimulateMessage simulates receiving an MQTT message on a topic.
func (m *MockMQTTClient) SimulateMessage(topic string, payload []byte) {
	m.mu.Lock()
	handler, ok := m.handlers[topic]
	m.mu.Unlock()
	if ok {
		handler(topic, payload)
	}
}

// =============================================================================
// Transport mocks
// =============================================================================

// mockDialer hands out net.Pipe connections and records every attempt.
// The first `failures` attempts fail.
type mockDialer struct {
	mu       sync.Mutex
	attempts []time.Time
	failures int
	devices  chan net.Conn
}

func newMockDialer(failures int) *mockDialer {
	return &mockDialer{
		failures: failures,
		devices:  make(chan net.Conn, 16),
	}
}

func (d *mockDialer) Dial(_ context.Context, _ Endpoint) (io.ReadWriteCloser, error) {
	d.mu.Lock()
	d.attempts = append(d.attempts, time.Now())
	fail := len(d.attempts) <= d.failures
	d.mu.Unlock()

	if fail {
		return nil, errors.New("host is down")
	}

	bridgeEnd, deviceEnd := net.Pipe()
	d.devices <- deviceEnd
	return bridgeEnd, nil
}

func (d *mockDialer) attemptTimes() []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Time(nil), d.attempts...)
}

// nextDevice waits for the device end of the next successful dial.
func (d *mockDialer) nextDevice(t *testing.T) net.Conn {
	t.Helper()
	select {
	case c := <-d.devices:
		t.Cleanup(func() { c.Close() })
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for connection")
		return nil
	}
}

// readResult is one scripted Read return.
type readResult struct {
	data []byte
	err  error
}

// scriptedConn replays scripted reads and records writes.
// Once the script is exhausted reads return io.EOF.
type scriptedConn struct {
	mu       sync.Mutex
	reads    []readResult
	written  bytes.Buffer
	writeErr error
	closed   bool
	closes   int
}

func (c *scriptedConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.reads) == 0 {
		return 0, io.EOF
	}
	r := c.reads[0]
	c.reads = c.reads[1:]
	n := copy(p, r.data)
	return n, r.err
}

func (c *scriptedConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	return c.written.Write(p)
}

func (c *scriptedConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closes++
	return nil
}

func (c *scriptedConn) Written() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.written.String()
}

// =============================================================================
// Helpers
// =============================================================================

// lineRecorder collects structured lines from a ReceiveLoop or Publish hook.
type lineRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *lineRecorder) add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
}

func (r *lineRecorder) publish(line string) error {
	r.add(line)
	return nil
}

func (r *lineRecorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

// waitFor polls cond until it is true or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

// readLine reads from conn until a newline, with a deadline.
func readLine(t *testing.T, conn net.Conn) string {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}
	var out []byte
	buf := make([]byte, 1)
	for {
		if _, err := conn.Read(buf); err != nil {
			t.Fatalf("device read: %v (got %q)", err, out)
		}
		out = append(out, buf[0])
		if buf[0] == '\n' {
			return string(out)
		}
	}
}
