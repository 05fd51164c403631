package audit

import (
	"context"
	"sync"
	"time"

	"github.com/guildwatch/guildwatch/internal/domain"
)

// MemoryClaims is a process-local claim store. Suitable for single-instance
// deployments and tests; multi-instance deployments use the Redis store so
// claims are exclusive across processes.
type MemoryClaims struct {
	mu      sync.Mutex
	claimed map[string]time.Time
	ttl     time.Duration
}

// Compile-time interface check.
var _ domain.ClaimStore = (*MemoryClaims)(nil) //nolint:gochecknoglobals // compile-time check

// NewMemoryClaims creates a claim store whose entries expire after ttl.
// Expiry only bounds memory; a claim is never handed back within the
// correlation horizon.
func NewMemoryClaims(ttl time.Duration) *MemoryClaims {
	return &MemoryClaims{
		claimed: make(map[string]time.Time),
		ttl:     ttl,
	}
}

// Claim atomically marks an entry consumed. Returns true only for the first
// caller per entry ID.
func (c *MemoryClaims) Claim(_ context.Context, entryID string) (bool, error) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.sweep(now)

	if _, ok := c.claimed[entryID]; ok {
		return false, nil
	}
	c.claimed[entryID] = now.Add(c.ttl)
	return true, nil
}

// sweep drops expired claims. Caller holds the lock.
func (c *MemoryClaims) sweep(now time.Time) {
	for id, expiry := range c.claimed {
		if expiry.Before(now) {
			delete(c.claimed, id)
		}
	}
}
