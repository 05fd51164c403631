// Package redis provides Redis-backed implementations of the claim store and
// dedup cache, for deployments where several guildwatch instances share one
// correlation state. Both build on SET NX, which makes the check-and-mark
// step a single linearizable operation.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/guildwatch/guildwatch/internal/domain"
)

const (
	claimKeyPrefix = "gw:claim:"
	dedupKeyPrefix = "gw:dedup:"
)

// Store wraps a Redis client shared by the claim and dedup stores.
type Store struct {
	client *redis.Client
}

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, addr, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis.New: ping: %w", err)
	}

	return &Store{client: client}, nil
}

// NewFromClient wraps an existing client. Used by tests with miniredis.
func NewFromClient(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("redis.Store.Close: %w", err)
	}
	return nil
}

// Claims returns a claim store whose entries expire after ttl.
func (s *Store) Claims(ttl time.Duration) *Claims {
	return &Claims{client: s.client, ttl: ttl}
}

// Dedup returns a dedup cache whose keys expire after ttl.
func (s *Store) Dedup(ttl time.Duration) *Dedup {
	return &Dedup{client: s.client, ttl: ttl}
}

// Claims enforces at-most-once audit entry consumption across instances.
type Claims struct {
	client *redis.Client
	ttl    time.Duration
}

// Compile-time interface check.
var _ domain.ClaimStore = (*Claims)(nil) //nolint:gochecknoglobals // compile-time check

// Claim atomically marks an entry consumed. SET NX guarantees exactly one
// winner across all concurrent callers on all instances.
func (c *Claims) Claim(ctx context.Context, entryID string) (bool, error) {
	ok, err := c.client.SetNX(ctx, claimKeyPrefix+entryID, "1", c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis.Claims.Claim: %w", err)
	}
	return ok, nil
}

// Dedup collapses duplicate feed deliveries by content key.
type Dedup struct {
	client *redis.Client
	ttl    time.Duration
}

// Compile-time interface check.
var _ domain.DedupCache = (*Dedup)(nil) //nolint:gochecknoglobals // compile-time check

// Seen atomically records key and reports whether it was already present.
func (d *Dedup) Seen(ctx context.Context, key string) (bool, error) {
	ok, err := d.client.SetNX(ctx, dedupKeyPrefix+key, "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis.Dedup.Seen: %w", err)
	}
	return !ok, nil
}
