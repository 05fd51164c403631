// Package flood protects the sink from bursty administrative actions and
// raises pattern-based abuse signals. A single operation upstream (say, one
// role handed to dozens of members) arrives here as many near-identical
// diffs; the coalescer folds them into one count-annotated event.
package flood

import (
	"strings"
	"sync"
	"time"

	"github.com/guildwatch/guildwatch/internal/domain"
	"github.com/guildwatch/guildwatch/internal/metrics"
)

// FlushFunc receives each event when its coalescing window closes.
type FlushFunc func(*domain.AuditEvent)

// Coalescer holds the first event of each (kind, target, field set, actor)
// group for one window and folds repetitions into it. Events always reach
// the flush callback eventually; Close flushes everything still held.
type Coalescer struct {
	window time.Duration
	flush  FlushFunc

	mu      sync.Mutex
	pending map[string]*pendingEvent
	closed  bool
}

type pendingEvent struct {
	event *domain.AuditEvent
	timer *time.Timer
}

// NewCoalescer creates a coalescer delivering to flush after each window.
func NewCoalescer(window time.Duration, flush FlushFunc) *Coalescer {
	return &Coalescer{
		window:  window,
		flush:   flush,
		pending: make(map[string]*pendingEvent),
	}
}

// Admit routes an event through the sliding window. The first event of a
// group is held for the window; repetitions increment its count instead of
// producing further events. Signal events bypass coalescing entirely.
func (c *Coalescer) Admit(event *domain.AuditEvent) {
	if event.Signal != "" {
		c.flush(event)
		return
	}

	key := coalesceKey(event)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.flush(event)
		return
	}

	if p, ok := c.pending[key]; ok {
		p.event.Count++
		c.mu.Unlock()
		metrics.CoalescedEventsTotal.Inc()
		return
	}

	if event.Count == 0 {
		event.Count = 1
	}
	p := &pendingEvent{event: event}
	p.timer = time.AfterFunc(c.window, func() { c.expire(key) })
	c.pending[key] = p
	c.mu.Unlock()
}

// Close flushes all held events. Further Admit calls pass straight through.
func (c *Coalescer) Close() {
	c.mu.Lock()
	c.closed = true
	held := make([]*pendingEvent, 0, len(c.pending))
	for key, p := range c.pending {
		p.timer.Stop()
		held = append(held, p)
		delete(c.pending, key)
	}
	c.mu.Unlock()

	for _, p := range held {
		c.flush(p.event)
	}
}

func (c *Coalescer) expire(key string) {
	c.mu.Lock()
	p, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.mu.Unlock()

	if ok {
		c.flush(p.event)
	}
}

// coalesceKey groups events that repeat the same administrative action:
// same kind, target scope, touched field set and resolved actor.
func coalesceKey(event *domain.AuditEvent) string {
	return strings.Join([]string{
		string(event.Kind),
		string(event.GuildID),
		string(event.TargetID),
		domain.FieldSignature(event.Diff),
		string(event.Actor),
	}, "|")
}
