package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// measurementBridgeStats is the measurement holding periodic bridge counters.
const measurementBridgeStats = "bridge_stats"

// WriteBridgeStats records one snapshot of bridge counters, tagged with the
// bridge ID and the device transport ("rfcomm" or "tcp").
//
// Example:
//
//	client.WriteBridgeStats("bt-bridge", "rfcomm", map[string]interface{}{
//	    "lines_received": int64(120),
//	    "connected":      true,
//	})
func (c *Client) WriteBridgeStats(bridgeID, transport string, fields map[string]interface{}) {
	c.WritePoint(measurementBridgeStats,
		map[string]string{
			"bridge_id": bridgeID,
			"transport": transport,
		},
		fields,
	)
}

// WritePoint writes a point stamped with the current time.
// Dropped silently when the client is not connected or fields is empty.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a point with an explicit timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() || len(fields) == 0 {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
