package connection

import (
	"errors"
	"testing"
	"time"

	"github.com/rickgao/skysense/internal/model"
)

func TestDecodeFrame(t *testing.T) {
	ts := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		data    string
		wantIDs []string
		wantErr bool
	}{
		{
			name:    "bare reading",
			data:    `{"sensor_id":"sensor_1","temperature":21.5,"humidity":50.25,"pressure":1010.5,"timestamp":"2024-01-15T12:00:00Z"}`,
			wantIDs: []string{"sensor_1"},
		},
		{
			name:    "sensor_data frame with naive timestamp",
			data:    `{"type":"sensor_data","sensor_id":"sensor_2","temperature":18.01,"humidity":40,"pressure":990,"timestamp":"2024-01-15T12:00:00"}`,
			wantIDs: []string{"sensor_2"},
		},
		{
			name:    "unknown fields ignored",
			data:    `{"sensor_id":"sensor_3","temperature":1,"humidity":2,"pressure":3,"timestamp":"2024-01-15T12:00:00Z","battery":87}`,
			wantIDs: []string{"sensor_3"},
		},
		{
			name: "history frame",
			data: `{"type":"history","data":[
				{"sensor_id":"sensor_4","temperature":20,"humidity":50,"pressure":1000,"timestamp":"2024-01-15T12:00:00.123456"},
				{"sensor_id":"sensor_5","temperature":21,"humidity":51,"pressure":1001,"timestamp":"2024-01-15T11:59:58.000001"}
			]}`,
			wantIDs: []string{"sensor_4", "sensor_5"},
		},
		{
			name: "connection frame",
			data: `{"type":"connection","status":"connected","message":"hello","timestamp":"2024-01-15T12:00:00"}`,
		},
		{name: "not json", data: `not json`, wantErr: true},
		{name: "json array", data: `[1,2,3]`, wantErr: true},
		{name: "missing sensor_id", data: `{"temperature":1,"humidity":2,"pressure":3,"timestamp":"2024-01-15T12:00:00Z"}`, wantErr: true},
		{name: "empty sensor_id", data: `{"sensor_id":"","temperature":1,"humidity":2,"pressure":3,"timestamp":"2024-01-15T12:00:00Z"}`, wantErr: true},
		{name: "missing temperature", data: `{"sensor_id":"s","humidity":2,"pressure":3,"timestamp":"2024-01-15T12:00:00Z"}`, wantErr: true},
		{name: "string temperature", data: `{"sensor_id":"s","temperature":"hot","humidity":2,"pressure":3,"timestamp":"2024-01-15T12:00:00Z"}`, wantErr: true},
		{name: "missing timestamp", data: `{"sensor_id":"s","temperature":1,"humidity":2,"pressure":3}`, wantErr: true},
		{name: "bad timestamp", data: `{"sensor_id":"s","temperature":1,"humidity":2,"pressure":3,"timestamp":"yesterday"}`, wantErr: true},
		{name: "unknown type", data: `{"type":"command","sensor_id":"s"}`, wantErr: true},
		{name: "history with bad entry", data: `{"type":"history","data":[{"sensor_id":"s"}]}`, wantErr: true},
		{name: "history without array", data: `{"type":"history","data":{}}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			readings, err := DecodeFrame([]byte(tt.data))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedPayload) {
					t.Fatalf("DecodeFrame() error = %v, want ErrMalformedPayload", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeFrame() error = %v", err)
			}
			if len(readings) != len(tt.wantIDs) {
				t.Fatalf("got %d readings, want %d", len(readings), len(tt.wantIDs))
			}
			for i, r := range readings {
				if r.SensorID != tt.wantIDs[i] {
					t.Errorf("readings[%d].SensorID = %q, want %q", i, r.SensorID, tt.wantIDs[i])
				}
				if r.Source != model.SourceLive {
					t.Errorf("readings[%d].Source = %q, want live", i, r.Source)
				}
			}
		})
	}

	t.Run("values preserved", func(t *testing.T) {
		readings, err := DecodeFrame([]byte(tests[0].data))
		if err != nil {
			t.Fatal(err)
		}
		r := readings[0]
		if r.Temperature != 21.5 || r.Humidity != 50.25 || r.Pressure != 1010.5 {
			t.Errorf("values = %v/%v/%v", r.Temperature, r.Humidity, r.Pressure)
		}
		if !r.Timestamp.Equal(ts) {
			t.Errorf("Timestamp = %v, want %v", r.Timestamp, ts)
		}
	})
}
