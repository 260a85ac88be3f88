package model

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// -----------------------------------------------------------------------------
// Connection State
// -----------------------------------------------------------------------------

// ConnectionState is the Connection Manager's current mode.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
	StateSimulation   ConnectionState = "simulation"
	StateFailed       ConnectionState = "failed"
)

// States lists every ConnectionState in declaration order.
var States = []ConnectionState{
	StateDisconnected,
	StateConnecting,
	StateConnected,
	StateError,
	StateSimulation,
	StateFailed,
}

// Valid reports whether s is one of the known states.
func (s ConnectionState) Valid() bool {
	for _, known := range States {
		if s == known {
			return true
		}
	}
	return false
}

func (s ConnectionState) String() string {
	return string(s)
}

// -----------------------------------------------------------------------------
// Readings
// -----------------------------------------------------------------------------

// Source identifies where a reading came from.
type Source string

const (
	SourceLive       Source = "live"
	SourceSimulation Source = "simulation"
)

// SensorReading is one timestamped measurement tagged with a sensor identifier.
//
// The JSON form is the wire contract: sensor_id, temperature, humidity,
// pressure and an ISO-8601 timestamp. Source is set locally and only
// serialized on the way out.
type SensorReading struct {
	SensorID    string    `json:"sensor_id"`
	Temperature float64   `json:"temperature"` // °C
	Humidity    float64   `json:"humidity"`    // %RH
	Pressure    float64   `json:"pressure"`    // hPa
	Timestamp   time.Time `json:"timestamp"`
	Source      Source    `json:"source,omitempty"`
}

// Validation errors.
var (
	ErrMissingSensorID  = errors.New("sensor_id is required")
	ErrMissingTimestamp = errors.New("timestamp is required")
)

// Validate checks that a reading carries an id, a timestamp and finite values.
func (r SensorReading) Validate() error {
	if r.SensorID == "" {
		return ErrMissingSensorID
	}
	if r.Timestamp.IsZero() {
		return ErrMissingTimestamp
	}
	for name, v := range map[string]float64{
		"temperature": r.Temperature,
		"humidity":    r.Humidity,
		"pressure":    r.Pressure,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s is not a finite number", name)
		}
	}
	return nil
}

// WithSource returns a copy of r tagged with src.
func (r SensorReading) WithSource(src Source) SensorReading {
	r.Source = src
	return r
}

func (r SensorReading) String() string {
	return fmt.Sprintf("%s temp=%.1f°C humidity=%.1f%% pressure=%.1fhPa at %s",
		r.SensorID,
		r.Temperature,
		r.Humidity,
		r.Pressure,
		r.Timestamp.Format(time.RFC3339),
	)
}

// timestampLayouts are accepted when parsing wire timestamps. Python's
// datetime.isoformat() omits the zone, so naive layouts are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses an ISO-8601 timestamp as sent by sensor backends.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
