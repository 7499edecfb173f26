package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	Stream        StreamMetrics  `json:"stream"`
	MQTT          *MQTTMetrics   `json:"mqtt,omitempty"`
	Device        DeviceMetrics  `json:"device"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// StreamMetrics contains WebSocket hub statistics.
type StreamMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// DeviceMetrics summarises the device link.
type DeviceMetrics struct {
	Connected      bool   `json:"connected"`
	State          string `json:"state"`
	LinesReceived  uint64 `json:"lines_received"`
	CommandsSent   uint64 `json:"commands_sent"`
	SessionsOpened uint64 `json:"sessions_opened"`
}

// handleMetrics returns runtime and connection metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	stats := s.bridge.Stats()
	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Stream: StreamMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Device: DeviceMetrics{
			Connected:      stats.Connected,
			State:          s.bridge.State().String(),
			LinesReceived:  stats.LinesReceived,
			CommandsSent:   stats.CommandsSent,
			SessionsOpened: stats.SessionsOpened,
		},
	}

	if s.mqtt != nil {
		metrics.MQTT = &MQTTMetrics{Connected: s.mqtt.IsConnected()}
	}

	writeJSON(w, http.StatusOK, metrics)
}
