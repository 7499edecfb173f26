// Package api provides the optional local status HTTP server for btbridge.
//
// It exposes read-only endpoints for health checkers and operators:
//
//	GET /api/v1/health   bridge health (200 healthy, 503 degraded)
//	GET /api/v1/stats    transport counters
//	GET /api/v1/metrics  Go runtime and connection metrics
//	GET /api/v1/stream   WebSocket feed of structured device messages
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Nothing here can send commands to the device; the MQTT command topic is
// the only inbound path.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
