// Package logging provides structured logging for btbridge.
//
// This package wraps Go's standard log/slog package so every component
// logs the same way: JSON in production, text when developing, a level
// filter, and default service/version fields on every entry.
//
// Logging is configured via the LoggingConfig in config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("transport connected", "address", addr)
//	logger.Error("publish failed", "error", err)
//
// Never log MQTT passwords or InfluxDB tokens.
package logging
