// Package rfcomm implements the Bluetooth RFCOMM to MQTT bridge.
//
// The bridge connects to one embedded device over an RFCOMM channel (or a
// TCP endpoint for simulators) and relays newline-delimited text between it
// and an MQTT broker.
//
// # Architecture
//
//	┌──────────────┐  RFCOMM  ┌──────────────┐   MQTT   ┌──────────────┐
//	│    Device    │◄────────►│    Bridge    │◄────────►│    Broker    │
//	└──────────────┘          └──────────────┘          └──────────────┘
//
// Device to broker: bytes are split into lines by a FrameDecoder, each line
// is classified, and structured lines (a '{' ... '}' object) are published
// verbatim to the data topic. Other lines are diagnostics and only logged.
//
// Broker to device: command topic payloads are queued for the live session
// and written with a trailing newline. With no live session a command is
// dropped; nothing is buffered for a later connection.
//
// # Reconnection
//
// The Supervisor connects at startup and, after every lost session or
// failed attempt, waits a fixed delay (5 seconds by default) and tries
// again, forever. Transport errors never stop the bridge.
//
// # Example
//
//	b, err := rfcomm.NewBridge(rfcomm.BridgeOptions{
//	    Config:     cfg,
//	    MQTTClient: mqttAdapter,
//	    Logger:     log,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := b.Start(ctx); err != nil {
//	    return err
//	}
//	defer b.Stop()
package rfcomm
