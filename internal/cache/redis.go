package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rickgao/skysense/internal/config"
	"github.com/rickgao/skysense/internal/metrics"
	"github.com/rickgao/skysense/internal/model"
)

const (
	writeTimeout = 200 * time.Millisecond
	readTimeout  = 100 * time.Millisecond
)

var _ Cache = (*Redis)(nil)

// Redis stores each sensor's readings in a sorted set scored by timestamp
// milliseconds. A single address gives a plain client, several give a
// cluster client.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
	keep   int
}

// NewRedis creates a Redis cache. No connection is made until first use.
func NewRedis(cfg config.CacheConfig) *Redis {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:       cfg.Addrs,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 2 * time.Second,
	})
	return &Redis{
		client: client,
		ttl:    cfg.TTL,
		keep:   max(cfg.Keep, 1),
	}
}

// Store adds r to its sensor's set, trims the set to the newest keep
// entries and refreshes the key TTL.
func (c *Redis) Store(ctx context.Context, r model.SensorReading) error {
	member, err := encodeMember(r)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	key := Key(r.SensorID)
	start := time.Now()
	_, err = c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{
			Score:  float64(r.Timestamp.UnixMilli()),
			Member: member,
		})
		pipe.ZRemRangeByRank(ctx, key, 0, int64(-c.keep-1))
		if c.ttl > 0 {
			pipe.Expire(ctx, key, c.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache store %s: %w", key, err)
	}
	metrics.CacheWriteLatencySeconds.Observe(time.Since(start).Seconds())
	return nil
}

// FetchLast returns up to n readings for sensorID, newest first. An unknown
// sensor yields an empty slice.
func (c *Redis) FetchLast(ctx context.Context, sensorID string, n int) ([]model.SensorReading, error) {
	if n < 1 {
		return nil, ErrInvalidCount
	}

	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	start := time.Now()
	members, err := c.client.ZRevRange(ctx, Key(sensorID), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("cache fetch %s: %w", Key(sensorID), err)
	}
	metrics.CacheReadLatencySeconds.Observe(time.Since(start).Seconds())

	out := make([]model.SensorReading, 0, len(members))
	for _, m := range members {
		r, err := decodeMember(m)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Ping checks the connection.
func (c *Redis) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the client.
func (c *Redis) Close() error {
	return c.client.Close()
}
