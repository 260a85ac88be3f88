package feed

import (
	"context"
	"errors"
	"sync"

	"github.com/rickgao/skysense/internal/model"
)

// History keeps the most recent readings in memory.
type History struct {
	mu    sync.RWMutex
	ring  []model.SensorReading
	next  int
	count int
}

// NewHistory creates a History holding at most size readings.
func NewHistory(size int) *History {
	if size < 1 {
		size = 1
	}
	return &History{ring: make([]model.SensorReading, size)}
}

// Add records r, evicting the oldest reading when full.
func (h *History) Add(r model.SensorReading) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ring[h.next] = r
	h.next = (h.next + 1) % len(h.ring)
	if h.count < len(h.ring) {
		h.count++
	}
}

// Latest returns up to n readings, newest first. n <= 0 returns everything held.
func (h *History) Latest(n int) []model.SensorReading {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || n > h.count {
		n = h.count
	}
	out := make([]model.SensorReading, n)
	for i := 0; i < n; i++ {
		idx := (h.next - 1 - i + len(h.ring)) % len(h.ring)
		out[i] = h.ring[idx]
	}
	return out
}

// Len returns the number of readings held.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Run records every reading from sub until ctx ends or sub is closed.
func (h *History) Run(ctx context.Context, sub *Subscription[model.SensorReading]) error {
	for {
		r, err := sub.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return nil
			}
			return err
		}
		h.Add(r)
	}
}
