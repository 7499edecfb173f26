package rfcomm

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

const testHealthTopic = "home/bridge/livingroom/health"

// mockSource implements HealthSource and StatsSource for testing.
type mockSource struct {
	mu    sync.Mutex
	state State
	stats Stats
}

func (m *mockSource) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *mockSource) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *mockSource) Endpoint() Endpoint {
	return testEndpoint
}

func (m *mockSource) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func newTestReporter(pub HealthPublisher, src HealthSource) *HealthReporter {
	return NewHealthReporter(HealthReporterConfig{
		BridgeID:  "test-bridge",
		Version:   "1.2.3",
		Topic:     testHealthTopic,
		Interval:  time.Hour,
		Publisher: pub,
		Source:    src,
	})
}

func decodeHealth(t *testing.T, payload string) HealthMessage {
	t.Helper()
	var msg HealthMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		t.Fatalf("invalid health JSON %q: %v", payload, err)
	}
	return msg
}

func TestNewHealthReporter_DefaultInterval(t *testing.T) {
	hr := NewHealthReporter(HealthReporterConfig{BridgeID: "b"})

	if hr.interval != defaultHealthInterval {
		t.Errorf("interval = %v, want %v", hr.interval, defaultHealthInterval)
	}
}

func TestDetermineStatus(t *testing.T) {
	tests := []struct {
		broker     bool
		state      State
		want       HealthStatus
		wantReason string
	}{
		{true, StateConnected, HealthHealthy, ""},
		{true, StateConnecting, HealthDegraded, "device connecting"},
		{false, StateConnected, HealthDegraded, ReasonMQTTDisconnected},
		{false, StateDisconnected, HealthDegraded, ReasonMQTTDisconnected}, // broker wins
	}

	for _, tt := range tests {
		status, reason := DetermineStatus(tt.broker, tt.state)
		if status != tt.want || reason != tt.wantReason {
			t.Errorf("DetermineStatus(%v, %v) = (%q, %q), want (%q, %q)",
				tt.broker, tt.state, status, reason, tt.want, tt.wantReason)
		}
	}
}

func TestHealthReporter_DetermineStatus(t *testing.T) {
	tests := []struct {
		name          string
		mqttConnected bool
		state         State
		want          HealthStatus
		wantReason    string
	}{
		{name: "all connected", mqttConnected: true, state: StateConnected, want: HealthHealthy},
		{name: "mqtt down", mqttConnected: false, state: StateConnected, want: HealthDegraded, wantReason: "MQTT disconnected"},
		{name: "device connecting", mqttConnected: true, state: StateConnecting, want: HealthDegraded, wantReason: "device connecting"},
		{name: "device disconnected", mqttConnected: true, state: StateDisconnected, want: HealthDegraded, wantReason: "device disconnected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := NewMockMQTTClient()
			pub.connected = tt.mqttConnected
			hr := newTestReporter(pub, &mockSource{state: tt.state})

			status, reason := hr.determineStatus()
			if status != tt.want {
				t.Errorf("status = %q, want %q", status, tt.want)
			}
			if reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", reason, tt.wantReason)
			}
		})
	}
}

func TestHealthReporter_PublishNow(t *testing.T) {
	pub := NewMockMQTTClient()
	src := &mockSource{
		state: StateConnected,
		stats: Stats{
			LinesReceived:       10,
			StructuredForwarded: 7,
			CommandsDropped:     2,
			LastActivity:        time.Now(),
		},
	}
	hr := newTestReporter(pub, src)

	if err := hr.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}

	msgs := pub.PublishedOn(testHealthTopic)
	if len(msgs) != 1 {
		t.Fatalf("published %d health messages, want 1", len(msgs))
	}
	msg := decodeHealth(t, msgs[0])

	if msg.Status != HealthHealthy {
		t.Errorf("Status = %q, want healthy", msg.Status)
	}
	if msg.BridgeID != "test-bridge" || msg.Version != "1.2.3" {
		t.Errorf("BridgeID/Version = %q/%q", msg.BridgeID, msg.Version)
	}
	if msg.Device == nil || msg.Device.Address != testEndpoint.Address || msg.Device.State != "connected" {
		t.Errorf("Device = %+v", msg.Device)
	}
	if msg.Device.LastActivity == nil {
		t.Error("Device.LastActivity missing")
	}
	if msg.Statistics == nil || msg.Statistics.StructuredForwarded != 7 || msg.Statistics.CommandsDropped != 2 {
		t.Errorf("Statistics = %+v", msg.Statistics)
	}

	pub.mu.Lock()
	retained, qos := pub.published[0].Retained, pub.published[0].QoS
	pub.mu.Unlock()
	if !retained || qos != 1 {
		t.Errorf("retained/qos = %v/%d, want true/1", retained, qos)
	}
}

func TestHealthReporter_StartingStopping(t *testing.T) {
	pub := NewMockMQTTClient()
	hr := newTestReporter(pub, &mockSource{})

	if err := hr.PublishStarting(); err != nil {
		t.Fatalf("PublishStarting() error = %v", err)
	}
	if err := hr.PublishStopping(); err != nil {
		t.Fatalf("PublishStopping() error = %v", err)
	}

	msgs := pub.PublishedOn(testHealthTopic)
	if len(msgs) != 2 {
		t.Fatalf("published %d messages, want 2", len(msgs))
	}
	if got := decodeHealth(t, msgs[0]).Status; got != HealthStarting {
		t.Errorf("first status = %q, want starting", got)
	}
	if got := decodeHealth(t, msgs[1]).Status; got != HealthStopping {
		t.Errorf("second status = %q, want stopping", got)
	}
}

func TestHealthReporter_NoTopic(t *testing.T) {
	pub := NewMockMQTTClient()
	hr := NewHealthReporter(HealthReporterConfig{BridgeID: "b", Publisher: pub})

	if err := hr.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.published) != 0 {
		t.Errorf("published %d messages with no topic, want 0", len(pub.published))
	}
}

func TestHealthReporter_RunPublishesOnNotify(t *testing.T) {
	pub := NewMockMQTTClient()
	src := &mockSource{state: StateConnecting}
	hr := newTestReporter(pub, src)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hr.Run(ctx) }()

	waitFor(t, time.Second, "initial health", func() bool { return len(pub.PublishedOn(testHealthTopic)) == 1 })

	src.setState(StateConnected)
	hr.Notify()

	waitFor(t, time.Second, "notified health", func() bool { return len(pub.PublishedOn(testHealthTopic)) == 2 })
	msgs := pub.PublishedOn(testHealthTopic)
	if got := decodeHealth(t, msgs[1]).Status; got != HealthHealthy {
		t.Errorf("status after Notify = %q, want healthy", got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestHealthReporter_NotifyNeverBlocks(t *testing.T) {
	hr := newTestReporter(NewMockMQTTClient(), &mockSource{})

	// Nothing is draining the channel.
	for i := 0; i < 10; i++ {
		hr.Notify()
	}
}
