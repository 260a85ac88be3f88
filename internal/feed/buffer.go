package feed

import (
	"context"
	"sync"
)

// GrowableBuffer is an unbounded thread-safe FIFO. Its ring doubles in
// capacity once it reaches 70% full, so Send never blocks.
type GrowableBuffer[T any] struct {
	mu       sync.Mutex
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	closed   bool

	ready chan struct{} // holds a token while items may be available
	done  chan struct{} // closed by Close

	// Stats
	totalReceived int64
	totalSent     int64
	resizeCount   int
}

// NewGrowableBuffer creates a new buffer with the given initial capacity.
func NewGrowableBuffer[T any](initialCapacity int) *GrowableBuffer[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	return &GrowableBuffer[T]{
		buf:      make([]T, initialCapacity),
		capacity: initialCapacity,
		ready:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Send appends an item. Returns false if the buffer is closed.
func (b *GrowableBuffer[T]) Send(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}

	threshold := (b.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if b.count+1 >= threshold {
		b.grow()
	}

	b.buf[b.tail] = item
	b.tail = (b.tail + 1) % b.capacity
	b.count++
	b.totalReceived++

	b.signal()
	return true
}

// Receive removes and returns the oldest item, blocking until one is
// available. It returns ErrClosed once the buffer is closed and empty, or the
// context error if ctx ends first.
func (b *GrowableBuffer[T]) Receive(ctx context.Context) (T, error) {
	for {
		if item, ok := b.TryReceive(); ok {
			return item, nil
		}

		b.mu.Lock()
		closed := b.closed && b.count == 0
		b.mu.Unlock()
		if closed {
			var zero T
			return zero, ErrClosed
		}

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-b.ready:
		case <-b.done:
		}
	}
}

// TryReceive returns the oldest item without blocking.
func (b *GrowableBuffer[T]) TryReceive() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		var zero T
		return zero, false
	}

	item := b.pop()
	if b.count > 0 {
		b.signal()
	}
	return item, true
}

// Ready returns a channel that receives a value when items may be available.
// Callers must still use TryReceive or DrainTo, which may find nothing.
func (b *GrowableBuffer[T]) Ready() <-chan struct{} {
	return b.ready
}

// Done returns a channel that is closed when the buffer is closed.
func (b *GrowableBuffer[T]) Done() <-chan struct{} {
	return b.done
}

// Close stops further sends. Receivers still get the remaining items.
func (b *GrowableBuffer[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
}

// Len returns the current number of items in the buffer.
func (b *GrowableBuffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the current capacity of the buffer.
func (b *GrowableBuffer[T]) Cap() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity
}

// Stats returns buffer statistics.
func (b *GrowableBuffer[T]) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStats{
		Count:         b.count,
		Capacity:      b.capacity,
		TotalReceived: b.totalReceived,
		TotalSent:     b.totalSent,
		ResizeCount:   b.resizeCount,
	}
}

// BufferStats contains buffer statistics.
type BufferStats struct {
	Count         int
	Capacity      int
	TotalReceived int64
	TotalSent     int64
	ResizeCount   int
}

// DrainTo removes up to max items (all if max <= 0) in FIFO order.
func (b *GrowableBuffer[T]) DrainTo(max int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}

	n := b.count
	if max > 0 && max < n {
		n = max
	}

	result := make([]T, n)
	for i := range result {
		result[i] = b.pop()
	}
	if b.count > 0 {
		b.signal()
	}
	return result
}

// pop must be called with the lock held and count > 0.
func (b *GrowableBuffer[T]) pop() T {
	item := b.buf[b.head]
	var zero T
	b.buf[b.head] = zero
	b.head = (b.head + 1) % b.capacity
	b.count--
	b.totalSent++
	return item
}

func (b *GrowableBuffer[T]) signal() {
	select {
	case b.ready <- struct{}{}:
	default:
	}
}

// grow doubles the buffer capacity. Must be called with lock held.
func (b *GrowableBuffer[T]) grow() {
	newCapacity := b.capacity * 2
	newBuf := make([]T, newCapacity)

	if b.count > 0 {
		if b.head < b.tail {
			copy(newBuf, b.buf[b.head:b.tail])
		} else {
			n := copy(newBuf, b.buf[b.head:])
			copy(newBuf[n:], b.buf[:b.tail])
		}
	}

	b.buf = newBuf
	b.head = 0
	b.tail = b.count
	b.capacity = newCapacity
	b.resizeCount++
}
