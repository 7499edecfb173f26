package rfcomm

import "time"

// HealthStatus represents the bridge health state.
type HealthStatus string

const (
	// HealthHealthy: broker and device both connected.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded: running, but the broker or the device is unreachable.
	HealthDegraded HealthStatus = "degraded"

	// HealthStarting: the bridge is initialising.
	HealthStarting HealthStatus = "starting"

	// HealthStopping: the bridge is shutting down gracefully.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is the retained message published on the health topic.
type HealthMessage struct {
	BridgeID      string       `json:"bridge_id"`
	Status        HealthStatus `json:"status"`
	Timestamp     time.Time    `json:"timestamp"`
	Version       string       `json:"version,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Reason        string       `json:"reason,omitempty"`
	Device        *DeviceInfo  `json:"device,omitempty"`
	Statistics    *StatsInfo   `json:"statistics,omitempty"`
}

// DeviceInfo describes the device link.
type DeviceInfo struct {
	Transport    string     `json:"transport"`
	Address      string     `json:"address"`
	Channel      int        `json:"channel,omitempty"`
	State        string     `json:"state"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// StatsInfo carries the bridge counters.
type StatsInfo struct {
	LinesReceived       uint64 `json:"lines_received"`
	StructuredForwarded uint64 `json:"structured_forwarded"`
	Diagnostics         uint64 `json:"diagnostics"`
	PublishErrors       uint64 `json:"publish_errors"`
	CommandsSent        uint64 `json:"commands_sent"`
	CommandsDropped     uint64 `json:"commands_dropped"`
	ConnectAttempts     uint64 `json:"connect_attempts"`
	ConnectFailures     uint64 `json:"connect_failures"`
	SessionsOpened      uint64 `json:"sessions_opened"`
}

// NewHealthMessage builds a health message from the current device state
// and counters.
func NewHealthMessage(bridgeID, version string, status HealthStatus, ep Endpoint, state State, stats Stats, startTime time.Time) HealthMessage {
	now := time.Now().UTC()

	device := &DeviceInfo{
		Transport: ep.Network,
		Address:   ep.Address,
		Channel:   ep.Channel,
		State:     state.String(),
	}
	if !stats.LastActivity.IsZero() {
		t := stats.LastActivity.UTC()
		device.LastActivity = &t
	}

	return HealthMessage{
		BridgeID:      bridgeID,
		Status:        status,
		Timestamp:     now,
		Version:       version,
		UptimeSeconds: int64(now.Sub(startTime).Seconds()),
		Device:        device,
		Statistics: &StatsInfo{
			LinesReceived:       stats.LinesReceived,
			StructuredForwarded: stats.StructuredForwarded,
			Diagnostics:         stats.Diagnostics,
			PublishErrors:       stats.PublishErrors,
			CommandsSent:        stats.CommandsSent,
			CommandsDropped:     stats.CommandsDropped,
			ConnectAttempts:     stats.ConnectAttempts,
			ConnectFailures:     stats.ConnectFailures,
			SessionsOpened:      stats.SessionsOpened,
		},
	}
}
