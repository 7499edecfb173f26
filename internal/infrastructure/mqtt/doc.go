// Package mqtt provides the broker session for btbridge.
//
// This package manages:
//   - Connection to the MQTT broker with auto-reconnect
//   - Publishing device data (fire-and-forget from the bridge's view)
//   - The command topic subscription, restored after every reconnect
//   - Last Will and Testament on the health topic for offline detection
//
// # Concurrency
//
// The client runs its own network I/O on paho goroutines. It never waits on
// the Bluetooth transport; message handlers are expected to hand work off
// without blocking.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err // fatal: the bridge cannot run without a broker
//	}
//	defer client.Close()
//
//	err = client.Subscribe(cfg.MQTT.Topics.Command, 0,
//	    func(topic string, payload []byte) error {
//	        log.Printf("command: %s", payload)
//	        return nil
//	    })
//
//	client.Publish(cfg.MQTT.Topics.Data, []byte(`{"t":21.5}`), 0, false)
package mqtt
