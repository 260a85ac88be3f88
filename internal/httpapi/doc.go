// Package httpapi exposes the gateway over HTTP: connection control,
// dashboard statistics, persisted and cached readings, a WebSocket fan-out of
// the live feed and Prometheus metrics.
//
// Routes:
//
//	GET  /health
//	GET  /api/status
//	POST /api/connection/{connect,disconnect,reconnect}
//	POST /api/simulation/toggle
//	GET  /api/readings/latest
//	GET  /api/stats
//	GET  /api/sensors?limit=N
//	GET  /api/sensors/{sensor_id}/recent?n=N
//	GET  /ws/readings
//	GET  /metrics
package httpapi
