// Package influxdb provides optional telemetry storage for btbridge.
//
// It wraps influxdb-client-go v2 and writes periodic snapshots of the
// bridge's counters (lines received, messages forwarded, commands dropped,
// connect attempts) to the "bridge_stats" measurement.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	switch {
//	case errors.Is(err, influxdb.ErrDisabled):
//	    // run without telemetry
//	case err != nil:
//	    log.Printf("telemetry unavailable: %v", err)
//	}
//	defer client.Close()
//
//	client.WriteBridgeStats("bt-bridge", "rfcomm", fields)
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Write failures are delivered to the SetOnError callback.
package influxdb
