package connection

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/rickgao/skysense/internal/model"
)

// Frame types sent by the sensor backend. A frame without a type is a bare
// reading.
const (
	frameReading    = "sensor_data"
	frameHistory    = "history"
	frameConnection = "connection"
)

// wireReading is the inbound JSON shape. Pointer fields distinguish a
// missing value from zero.
type wireReading struct {
	SensorID    *string  `json:"sensor_id"`
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	Pressure    *float64 `json:"pressure"`
	Timestamp   *string  `json:"timestamp"`
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// DecodeFrame parses one inbound text frame into zero or more readings.
// Every error wraps ErrMalformedPayload.
func DecodeFrame(data []byte) ([]model.SensorReading, error) {
	data = bytes.TrimSpace(data)

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	switch env.Type {
	case "", frameReading:
		// sensor_data frames carry the reading inline or under data
		raw := json.RawMessage(data)
		if env.Type == frameReading && len(env.Data) > 0 && env.Data[0] == '{' {
			raw = env.Data
		}
		r, err := DecodeReading(raw)
		if err != nil {
			return nil, err
		}
		return []model.SensorReading{r}, nil

	case frameHistory:
		var items []json.RawMessage
		if err := json.Unmarshal(env.Data, &items); err != nil {
			return nil, fmt.Errorf("%w: history data: %v", ErrMalformedPayload, err)
		}
		readings := make([]model.SensorReading, 0, len(items))
		for i, item := range items {
			r, err := DecodeReading(item)
			if err != nil {
				return nil, fmt.Errorf("history[%d]: %w", i, err)
			}
			readings = append(readings, r)
		}
		return readings, nil

	case frameConnection:
		return nil, nil

	default:
		return nil, fmt.Errorf("%w: unknown frame type %q", ErrMalformedPayload, env.Type)
	}
}

// DecodeReading parses a single JSON reading object.
func DecodeReading(data []byte) (model.SensorReading, error) {
	var w wireReading
	if err := json.Unmarshal(data, &w); err != nil {
		return model.SensorReading{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	switch {
	case w.SensorID == nil || *w.SensorID == "":
		return model.SensorReading{}, fmt.Errorf("%w: missing sensor_id", ErrMalformedPayload)
	case w.Temperature == nil:
		return model.SensorReading{}, fmt.Errorf("%w: missing temperature", ErrMalformedPayload)
	case w.Humidity == nil:
		return model.SensorReading{}, fmt.Errorf("%w: missing humidity", ErrMalformedPayload)
	case w.Pressure == nil:
		return model.SensorReading{}, fmt.Errorf("%w: missing pressure", ErrMalformedPayload)
	case w.Timestamp == nil:
		return model.SensorReading{}, fmt.Errorf("%w: missing timestamp", ErrMalformedPayload)
	}

	ts, err := model.ParseTimestamp(*w.Timestamp)
	if err != nil {
		return model.SensorReading{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	r := model.SensorReading{
		SensorID:    *w.SensorID,
		Temperature: *w.Temperature,
		Humidity:    *w.Humidity,
		Pressure:    *w.Pressure,
		Timestamp:   ts,
		Source:      model.SourceLive,
	}
	if err := r.Validate(); err != nil {
		return model.SensorReading{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return r, nil
}
