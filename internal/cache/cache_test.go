package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rickgao/skysense/internal/config"
	"github.com/rickgao/skysense/internal/model"
)

func TestKey(t *testing.T) {
	if got := Key("sensor_1"); got != "readings:sensor_1" {
		t.Errorf("Key() = %q, want readings:sensor_1", got)
	}
}

func TestMemberRoundTrip(t *testing.T) {
	in := model.SensorReading{
		SensorID:    "simulated_3",
		Temperature: 27.4,
		Humidity:    61.2,
		Pressure:    1004.9,
		Timestamp:   time.Date(2025, 3, 1, 10, 0, 0, 123000000, time.UTC),
		Source:      model.SourceSimulation,
	}

	s, err := encodeMember(in)
	if err != nil {
		t.Fatalf("encodeMember() error = %v", err)
	}
	out, err := decodeMember(s)
	if err != nil {
		t.Fatalf("decodeMember() error = %v", err)
	}
	if out.SensorID != in.SensorID || out.Source != in.Source || !out.Timestamp.Equal(in.Timestamp) {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}

func TestDecodeMember_Invalid(t *testing.T) {
	if _, err := decodeMember("not json"); err == nil {
		t.Error("decodeMember() error = nil, want failure")
	}
}

func unreachable() *Redis {
	return NewRedis(config.CacheConfig{
		Addrs: []string{"127.0.0.1:1"},
		TTL:   time.Minute,
		Keep:  10,
	})
}

func TestRedis_FetchLastInvalidCount(t *testing.T) {
	c := unreachable()
	defer c.Close()

	if _, err := c.FetchLast(context.Background(), "sensor_1", 0); !errors.Is(err, ErrInvalidCount) {
		t.Errorf("FetchLast(0) error = %v, want ErrInvalidCount", err)
	}
}

func TestRedis_Unreachable(t *testing.T) {
	c := unreachable()
	defer c.Close()
	ctx := context.Background()

	if err := c.Ping(ctx); err == nil {
		t.Error("Ping() error = nil, want connection failure")
	}
	r := model.SensorReading{SensorID: "sensor_1", Timestamp: time.Now()}
	if err := c.Store(ctx, r); err == nil {
		t.Error("Store() error = nil, want connection failure")
	}
	if _, err := c.FetchLast(ctx, "sensor_1", 5); err == nil {
		t.Error("FetchLast() error = nil, want connection failure")
	}
}
