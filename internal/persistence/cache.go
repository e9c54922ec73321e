package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/alihanbolat/kernel-universe/internal/sim"
)

// StateKey is the Redis key holding the latest frame.
const StateKey = "kernel_universe:state"

const cacheTimeout = 2 * time.Second

// Cache keeps the most recent snapshot in Redis so snapshot reads never
// touch the tick loop or SQLite.
type Cache struct {
	client *redis.Client
	key    string
}

// OpenCache connects to Redis at the given URL (redis://host:port/db) and
// verifies the connection.
func OpenCache(url string) (*Cache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Cache{client: client, key: StateKey}, nil
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// SaveSnapshot stores snap as the latest frame.
func (c *Cache) SaveSnapshot(ctx context.Context, snap *sim.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return c.client.Set(ctx, c.key, data, 0).Err()
}

// LoadSnapshot returns the cached frame, or nil when none is stored.
func (c *Cache) LoadSnapshot(ctx context.Context) (*sim.Snapshot, error) {
	data, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cached snapshot: %w", err)
	}
	var snap sim.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode cached snapshot: %w", err)
	}
	return &snap, nil
}

// Clear removes the cached frame.
func (c *Cache) Clear(ctx context.Context) error {
	return c.client.Del(ctx, c.key).Err()
}
