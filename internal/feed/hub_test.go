package feed

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rickgao/skysense/internal/model"
)

func reading(id string, temp float64) model.SensorReading {
	return model.SensorReading{
		SensorID:    id,
		Temperature: temp,
		Humidity:    50,
		Pressure:    1000,
		Timestamp:   time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
	}
}

func TestHub_ReadingsFanOut(t *testing.T) {
	hub := NewHub(nil)
	a := hub.SubscribeReadings()
	b := hub.SubscribeReadings()

	for i := 0; i < 3; i++ {
		hub.PublishReading(reading(fmt.Sprintf("sensor_%d", i), float64(20+i)))
	}

	ctx := context.Background()
	for name, sub := range map[string]*Subscription[model.SensorReading]{"a": a, "b": b} {
		for i := 0; i < 3; i++ {
			r, err := sub.Next(ctx)
			if err != nil {
				t.Fatalf("%s: Next() error = %v", name, err)
			}
			if want := fmt.Sprintf("sensor_%d", i); r.SensorID != want {
				t.Errorf("%s: reading %d = %q, want %q", name, i, r.SensorID, want)
			}
		}
	}

	if got := hub.Stats().ReadingsPublished; got != 3 {
		t.Errorf("ReadingsPublished = %d, want 3", got)
	}
}

func TestHub_LateSubscriberMissesEarlierReadings(t *testing.T) {
	hub := NewHub(nil)
	hub.PublishReading(reading("early", 20))

	sub := hub.SubscribeReadings()
	if sub.Len() != 0 {
		t.Errorf("late subscriber has %d queued readings, want 0", sub.Len())
	}
}

func TestHub_StatusLatestValue(t *testing.T) {
	hub := NewHub(nil)
	ctx := context.Background()

	first := hub.SubscribeStatus()
	s, err := first.Next(ctx)
	if err != nil || s != model.StateDisconnected {
		t.Fatalf("initial state = %q, %v; want disconnected", s, err)
	}

	hub.PublishState(model.StateConnecting)
	hub.PublishState(model.StateConnected)

	late := hub.SubscribeStatus()
	s, _ = late.Next(ctx)
	if s != model.StateConnected {
		t.Errorf("late subscriber first state = %q, want connected", s)
	}
	if late.Len() != 0 {
		t.Errorf("late subscriber has %d extra states, want 0", late.Len())
	}

	got := first.Drain(0)
	if len(got) != 2 || got[0] != model.StateConnecting || got[1] != model.StateConnected {
		t.Errorf("first subscriber states = %v, want [connecting connected]", got)
	}
	if hub.State() != model.StateConnected {
		t.Errorf("State() = %q, want connected", hub.State())
	}
}

func TestHub_EventsKeepPublishOrder(t *testing.T) {
	hub := NewHub(nil)
	hub.PublishState(model.StateConnected)
	sub := hub.SubscribeEvents()
	defer sub.Close()

	hub.PublishReading(reading("sensor_1", 21))
	hub.PublishState(model.StateError)
	hub.PublishReading(reading("sensor_2", 22))
	hub.PublishState(model.StateSimulation)

	want := []string{"state:connected", "reading:sensor_1", "state:error", "reading:sensor_2", "state:simulation"}
	got := make([]string, 0, len(want))
	for _, ev := range sub.Drain(0) {
		if ev.Reading != nil {
			got = append(got, "reading:"+ev.Reading.SensorID)
		} else {
			got = append(got, "state:"+string(ev.State))
		}
	}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	if n := hub.Stats().EventSubscribers; n != 1 {
		t.Errorf("EventSubscribers = %d, want 1", n)
	}

	hub.Close()
	if _, err := sub.Next(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Next() after Close = %v, want ErrClosed", err)
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := NewHub(nil)
	sub := hub.SubscribeReadings()
	if hub.Stats().ReadingSubscribers != 1 {
		t.Fatalf("ReadingSubscribers = %d, want 1", hub.Stats().ReadingSubscribers)
	}

	hub.PublishReading(reading("kept", 1))
	sub.Close()
	sub.Close()
	hub.PublishReading(reading("dropped", 2))

	if hub.Stats().ReadingSubscribers != 0 {
		t.Errorf("ReadingSubscribers = %d after Close, want 0", hub.Stats().ReadingSubscribers)
	}

	ctx := context.Background()
	r, err := sub.Next(ctx)
	if err != nil || r.SensorID != "kept" {
		t.Errorf("Next() = %q, %v; want kept", r.SensorID, err)
	}
	if _, err := sub.Next(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Next() after drain = %v, want ErrClosed", err)
	}
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(nil)
	readings := hub.SubscribeReadings()
	status := hub.SubscribeStatus()
	status.Drain(0)

	hub.Close()
	hub.PublishReading(reading("ignored", 1))
	hub.PublishState(model.StateConnected)

	ctx := context.Background()
	if _, err := readings.Next(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("readings.Next() = %v, want ErrClosed", err)
	}
	if _, err := status.Next(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("status.Next() = %v, want ErrClosed", err)
	}

	// subscribing after close still yields the last state
	late := hub.SubscribeStatus()
	if s, err := late.Next(ctx); err != nil || s != model.StateDisconnected {
		t.Errorf("late.Next() = %q, %v; want disconnected", s, err)
	}
}

func TestHistory(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 5; i++ {
		h.Add(reading(fmt.Sprintf("s%d", i), float64(i)))
	}

	if h.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", h.Len())
	}

	got := h.Latest(0)
	want := []string{"s4", "s3", "s2"}
	for i := range want {
		if got[i].SensorID != want[i] {
			t.Errorf("Latest[%d] = %q, want %q", i, got[i].SensorID, want[i])
		}
	}

	if got := h.Latest(1); len(got) != 1 || got[0].SensorID != "s4" {
		t.Errorf("Latest(1) = %v, want [s4]", got)
	}
}

func TestHistory_Run(t *testing.T) {
	hub := NewHub(nil)
	h := NewHistory(10)
	sub := hub.SubscribeReadings()

	done := make(chan error, 1)
	go func() { done <- h.Run(context.Background(), sub) }()

	hub.PublishReading(reading("a", 1))
	hub.PublishReading(reading("b", 2))
	hub.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after hub Close")
	}

	if h.Len() != 2 {
		t.Errorf("Len() = %d, want 2", h.Len())
	}
}
