// Package dispatch hands finished audit events to the notification sink
// without ever blocking the correlation pipeline. Delivery is
// fire-and-forget: sink latency shows up as buffered events, sink failure as
// a log line, never as backpressure on correlation.
package dispatch

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"

	"github.com/guildwatch/guildwatch/internal/domain"
	"github.com/guildwatch/guildwatch/internal/metrics"
	"github.com/guildwatch/guildwatch/internal/sink"
)

// Config tunes the dispatcher.
type Config struct {
	BufferSize  int
	EmitTimeout time.Duration
}

// Dispatcher queues events for a single drain goroutine. When the buffer is
// full the event is dropped and counted rather than stalling the caller.
type Dispatcher struct {
	cfg     Config
	sink    sink.Sink
	dedup   domain.DedupCache // nil disables content dedup
	ch      chan *domain.AuditEvent
	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Uint64
	closed  atomic.Bool
}

// New creates a Dispatcher and starts its drain goroutine. dedup may be nil
// when the upstream feed is trusted to deliver each change once.
func New(cfg Config, s sink.Sink, dedup domain.DedupCache) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.EmitTimeout <= 0 {
		cfg.EmitTimeout = 5 * time.Second
	}

	d := &Dispatcher{
		cfg:   cfg,
		sink:  s,
		dedup: dedup,
		ch:    make(chan *domain.AuditEvent, cfg.BufferSize),
		done:  make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

// Dispatch enqueues an event for delivery. Duplicate content (same kind,
// target, diff and occurrence time — the at-least-once feed redelivering) is
// swallowed here so every semantically real change reaches the sink once.
func (d *Dispatcher) Dispatch(ctx context.Context, event *domain.AuditEvent) {
	if d.closed.Load() {
		return
	}

	if d.dedup != nil && event.Signal == "" {
		seen, err := d.dedup.Seen(ctx, EventKey(event))
		if err != nil {
			// Dedup is best-effort; a broken cache must not block delivery.
			log.Warn().Err(err).Msg("dispatch: dedup check failed")
		} else if seen {
			metrics.EventsDroppedTotal.WithLabelValues("dedup").Inc()
			return
		}
	}

	select {
	case d.ch <- event:
	case <-d.done:
	default:
		d.dropped.Add(1)
		metrics.EventsDroppedTotal.WithLabelValues("buffer_full").Inc()
		log.Warn().
			Str("kind", string(event.Kind)).
			Str("target_id", string(event.TargetID)).
			Uint64("dropped_total", d.dropped.Load()).
			Msg("dispatch: buffer full, event dropped")
	}
}

// Dropped reports how many events were lost to a full buffer.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Close stops accepting events and drains the buffer to the sink.
func (d *Dispatcher) Close() {
	if d.closed.Swap(true) {
		return
	}
	close(d.done)
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.emit(event)
		case <-d.done:
			for {
				select {
				case event := <-d.ch:
					d.emit(event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) emit(event *domain.AuditEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.EmitTimeout)
	defer cancel()

	if err := d.sink.Emit(ctx, event); err != nil {
		metrics.SinkEmitsTotal.WithLabelValues("error").Inc()
		log.Error().Err(err).
			Str("platform", d.sink.Platform()).
			Str("kind", string(event.Kind)).
			Str("target_id", string(event.TargetID)).
			Msg("dispatch: sink emit failed")
		return
	}
	metrics.SinkEmitsTotal.WithLabelValues("ok").Inc()
}

// EventKey derives the content dedup key: kind, target and a hash of the
// canonical diff, pinned to the occurrence time so the same change observed
// at different times is still two events.
func EventKey(event *domain.AuditEvent) string {
	h := xxhash.Sum64String(domain.CanonicalDiff(event.Diff))
	return string(event.Kind) + ":" + string(event.TargetID) + ":" +
		strconv.FormatUint(h, 16) + ":" +
		strconv.FormatInt(event.OccurredAt.UnixMilli(), 10)
}
