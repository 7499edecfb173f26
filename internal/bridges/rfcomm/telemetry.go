package rfcomm

import (
	"context"
	"time"
)

const defaultTelemetryInterval = 60 * time.Second

// MetricsWriter stores bridge counters. Implemented by *influxdb.Client.
type MetricsWriter interface {
	WriteBridgeStats(bridgeID, transport string, fields map[string]interface{})
}

// StatsSource provides counter snapshots. Implemented by *Supervisor.
type StatsSource interface {
	Stats() Stats
}

// TelemetryRecorder periodically writes Stats snapshots to a MetricsWriter.
type TelemetryRecorder struct {
	bridgeID  string
	transport string
	interval  time.Duration
	writer    MetricsWriter
	source    StatsSource
}

// NewTelemetryRecorder creates a recorder. Interval defaults to 60 seconds.
func NewTelemetryRecorder(bridgeID, transport string, interval time.Duration, writer MetricsWriter, source StatsSource) *TelemetryRecorder {
	if interval <= 0 {
		interval = defaultTelemetryInterval
	}
	return &TelemetryRecorder{
		bridgeID:  bridgeID,
		transport: transport,
		interval:  interval,
		writer:    writer,
		source:    source,
	}
}

// Run writes a snapshot on every tick, and a final one when ctx is
// cancelled. It always returns nil.
func (t *TelemetryRecorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.Record()
			return nil
		case <-ticker.C:
			t.Record()
		}
	}
}

// Record writes one snapshot now.
func (t *TelemetryRecorder) Record() {
	t.writer.WriteBridgeStats(t.bridgeID, t.transport, statsFields(t.source.Stats()))
}

// statsFields converts a snapshot to InfluxDB fields.
// Counters are written as signed integers.
//
// #nosec G115 -- counters never approach MaxInt64
func statsFields(s Stats) map[string]interface{} {
	return map[string]interface{}{
		"lines_received":       int64(s.LinesReceived),
		"structured_forwarded": int64(s.StructuredForwarded),
		"diagnostics":          int64(s.Diagnostics),
		"publish_errors":       int64(s.PublishErrors),
		"commands_sent":        int64(s.CommandsSent),
		"commands_dropped":     int64(s.CommandsDropped),
		"connect_attempts":     int64(s.ConnectAttempts),
		"connect_failures":     int64(s.ConnectFailures),
		"sessions_opened":      int64(s.SessionsOpened),
		"connected":            s.Connected,
	}
}
