// Package model defines shared data types used across the SkySense gateway.
//
// Conventions:
//   - Measurements: float64 in °C, %RH and hPa
//   - Timestamps: time.Time, RFC 3339 on the wire
//   - Sensor IDs: free-form strings assigned by the sensor backend
package model
