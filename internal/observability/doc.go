// Package observability provides monitoring and debugging capabilities for
// the loom runtime through Prometheus metrics and structured logging.
//
// # Metrics
//
// Metrics are implemented with the Prometheus client libraries and track:
//   - Message flow through channels (Telegram, HTTP API)
//   - Ingestion pipeline throughput and latency by payload kind
//   - HTTP request/response metrics
//   - Error rates by component and type
//
// Example usage:
//
//	metrics := observability.NewMetrics()
//	metrics.MessageReceived("telegram", "inbound")
//
//	start := time.Now()
//	// ... ingest payload ...
//	metrics.RecordIngest("voice", "success", time.Since(start).Seconds())
//
// # Logging
//
// Logging is built on Go's slog package with enhancements for:
//   - Automatic request ID correlation from context
//   - Sensitive data redaction (API keys, bot tokens, passwords)
//   - JSON output for production, text for development
//   - Configurable log levels
//
// Example usage:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:  "info",
//	    Format: "json",
//	})
//	ctx = observability.AddRequestID(ctx, requestID)
//	logger.Info(ctx, "message processed", "channel", "telegram")
package observability
