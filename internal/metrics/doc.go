// Package metrics provides Prometheus metrics for monitoring.
//
// Collectors are registered on the default registry at init and exposed by
// the HTTP API under the configured metrics path.
//
// Key metrics:
//   - Connection state, transport errors and reconnect attempts
//   - Reading throughput by source, malformed payloads
//   - Writer flushes, rows and failures
//   - Relay delivery failures per sink
//   - HTTP request latency per route
package metrics
