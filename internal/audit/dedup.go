package audit

import (
	"context"
	"sync"
	"time"

	"github.com/guildwatch/guildwatch/internal/domain"
)

// MemoryDedup is a process-local dedup cache. Suitable for single-instance
// deployments; multi-instance deployments use the Redis cache so duplicate
// feed deliveries collapse across processes.
type MemoryDedup struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
}

// Compile-time interface check.
var _ domain.DedupCache = (*MemoryDedup)(nil) //nolint:gochecknoglobals // compile-time check

// NewMemoryDedup creates a dedup cache whose keys expire after ttl.
func NewMemoryDedup(ttl time.Duration) *MemoryDedup {
	return &MemoryDedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// Seen atomically records key and reports whether it was already present.
func (d *MemoryDedup) Seen(_ context.Context, key string) (bool, error) {
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	d.sweep(now)

	if _, ok := d.seen[key]; ok {
		return true, nil
	}
	d.seen[key] = now.Add(d.ttl)
	return false, nil
}

// sweep drops expired keys. Caller holds the lock.
func (d *MemoryDedup) sweep(now time.Time) {
	for key, expiry := range d.seen {
		if expiry.Before(now) {
			delete(d.seen, key)
		}
	}
}
