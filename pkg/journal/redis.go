package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis journal backend, used on base-station
// deployments where the journal should survive the tracker host.
type RedisConfig struct {
	// Address is the Redis server address (e.g., "localhost:6379")
	Address string

	// Password for Redis authentication (optional)
	Password string

	// Database number to use (default: 0)
	Database int

	// Prefix is prepended to all journal keys
	Prefix string

	// TTL is the time-to-live for resolved-adjacent keys (0 = none)
	TTL time.Duration

	// Timeout for Redis operations
	Timeout time.Duration

	// PoolSize is the maximum number of connections
	PoolSize int
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig(address string) RedisConfig {
	return RedisConfig{
		Address:  address,
		Prefix:   "trackflow:journal:",
		TTL:      72 * time.Hour,
		Timeout:  5 * time.Second,
		PoolSize: 10,
	}
}

// RedisBackend stores journal entries in Redis.
type RedisBackend struct {
	cfg    RedisConfig
	client *redis.Client
}

// NewRedisBackend connects to Redis and verifies the connection.
func NewRedisBackend(cfg RedisConfig) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &RedisBackend{cfg: cfg, client: client}, nil
}

// Name returns the backend name.
func (b *RedisBackend) Name() string { return "redis" }

// Close releases the connection pool.
func (b *RedisBackend) Close() error { return b.client.Close() }

// Save persists an entry, overwriting any previous version.
func (b *RedisBackend) Save(ctx context.Context, e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return b.client.Set(ctx, b.key(e.ID), data, b.cfg.TTL).Err()
}

// Load retrieves an entry by ID.
func (b *RedisBackend) Load(ctx context.Context, id string) (*Entry, error) {
	data, err := b.client.Get(ctx, b.key(id)).Bytes()
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Delete removes an entry. Deleting a missing entry is not an error.
func (b *RedisBackend) Delete(ctx context.Context, id string) error {
	return b.client.Del(ctx, b.key(id)).Err()
}

// List returns every persisted entry under the prefix.
func (b *RedisBackend) List(ctx context.Context) ([]*Entry, error) {
	var entries []*Entry
	iter := b.client.Scan(ctx, 0, b.cfg.Prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := b.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			continue
		}
		entries = append(entries, &e)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (b *RedisBackend) key(id string) string {
	return b.cfg.Prefix + id
}
