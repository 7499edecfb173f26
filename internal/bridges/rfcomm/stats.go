package rfcomm

import (
	"sync/atomic"
	"time"
)

// Stats is a point-in-time snapshot of bridge counters.
type Stats struct {
	LinesReceived       uint64    `json:"lines_received"`       // non-empty lines produced by the decoder
	StructuredForwarded uint64    `json:"structured_forwarded"` // structured lines published to the broker
	Diagnostics         uint64    `json:"diagnostics"`          // diagnostic lines logged
	PublishErrors       uint64    `json:"publish_errors"`       // structured lines the broker rejected
	CommandsSent        uint64    `json:"commands_sent"`        // commands written to the device
	CommandsDropped     uint64    `json:"commands_dropped"`     // no session, queue full, invalid or send failure
	ConnectAttempts     uint64    `json:"connect_attempts"`
	ConnectFailures     uint64    `json:"connect_failures"`
	SessionsOpened      uint64    `json:"sessions_opened"`
	LastActivity        time.Time `json:"last_activity"` // last line received or command sent; zero if none
	Connected           bool      `json:"connected"`
}

// counters holds the live values behind Stats.
type counters struct {
	linesReceived       atomic.Uint64
	structuredForwarded atomic.Uint64
	diagnostics         atomic.Uint64
	publishErrors       atomic.Uint64
	commandsSent        atomic.Uint64
	commandsDropped     atomic.Uint64
	connectAttempts     atomic.Uint64
	connectFailures     atomic.Uint64
	sessionsOpened      atomic.Uint64
	lastActivity        atomic.Int64 // unix nanoseconds
}

func (c *counters) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *counters) snapshot() Stats {
	s := Stats{
		LinesReceived:       c.linesReceived.Load(),
		StructuredForwarded: c.structuredForwarded.Load(),
		Diagnostics:         c.diagnostics.Load(),
		PublishErrors:       c.publishErrors.Load(),
		CommandsSent:        c.commandsSent.Load(),
		CommandsDropped:     c.commandsDropped.Load(),
		ConnectAttempts:     c.connectAttempts.Load(),
		ConnectFailures:     c.connectFailures.Load(),
		SessionsOpened:      c.sessionsOpened.Load(),
	}
	if ns := c.lastActivity.Load(); ns != 0 {
		s.LastActivity = time.Unix(0, ns)
	}
	return s
}
