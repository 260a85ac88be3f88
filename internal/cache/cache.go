// Package cache keeps the most recent readings per sensor in Redis so the
// HTTP API can answer per-sensor queries without the database.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rickgao/skysense/internal/model"
)

// ErrInvalidCount is returned when fewer than one reading is requested.
var ErrInvalidCount = errors.New("count must be >= 1")

// Cache stores recent readings per sensor.
type Cache interface {
	Store(ctx context.Context, r model.SensorReading) error
	FetchLast(ctx context.Context, sensorID string, n int) ([]model.SensorReading, error)
	Ping(ctx context.Context) error
	Close() error
}

const keyPrefix = "readings:"

// Key returns the sorted-set key holding a sensor's readings.
func Key(sensorID string) string {
	return keyPrefix + sensorID
}

func encodeMember(r model.SensorReading) (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode reading: %w", err)
	}
	return string(b), nil
}

func decodeMember(s string) (model.SensorReading, error) {
	var r model.SensorReading
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return model.SensorReading{}, fmt.Errorf("decode reading: %w", err)
	}
	return r, nil
}
