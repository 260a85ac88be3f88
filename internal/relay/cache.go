package relay

import (
	"context"

	"github.com/rickgao/skysense/internal/cache"
	"github.com/rickgao/skysense/internal/model"
)

// CacheSink stores readings in a recent-readings cache.
type CacheSink struct {
	cache cache.Cache
}

// NewCacheSink wraps c as a Sink. The caller owns c: other readers such as
// the HTTP API may still use it after the sink stops, so Close leaves it open.
func NewCacheSink(c cache.Cache) *CacheSink {
	return &CacheSink{cache: c}
}

// Name implements Sink.
func (s *CacheSink) Name() string { return "cache" }

// Send implements Sink.
func (s *CacheSink) Send(ctx context.Context, r model.SensorReading) error {
	return s.cache.Store(ctx, r)
}

// Close implements Sink. It does not close the wrapped cache.
func (s *CacheSink) Close() error {
	return nil
}
