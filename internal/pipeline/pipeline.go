// Package pipeline wires the stages together: normalize, diff, correlate,
// coalesce, dispatch. Incoming snapshot pairs fan out across targets, but
// correlation for one (kind, target) is strictly serialized so claims are
// assigned in diff order when two changes to the same target land close
// together.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/guildwatch/guildwatch/internal/correlate"
	"github.com/guildwatch/guildwatch/internal/diff"
	"github.com/guildwatch/guildwatch/internal/domain"
	"github.com/guildwatch/guildwatch/internal/flood"
	"github.com/guildwatch/guildwatch/internal/metrics"
	"github.com/guildwatch/guildwatch/internal/snapshot"
)

const (
	// Deep enough to absorb a correlation-bound backlog on a single hot
	// entity; a full queue means the process is pathologically behind and
	// dropping is the only option left.
	workerQueueDepth = 1024
	workerIdleTTL    = time.Minute
)

// FeedEvent is one tuple from the upstream feed: a snapshot pair for an
// entity. Either raw side may be nil (creation/deletion).
type FeedEvent struct {
	Kind       domain.EntityKind
	Before     map[string]any
	After      map[string]any
	OccurredAt time.Time
}

// Resolver is the correlator boundary, substitutable in tests.
type Resolver interface {
	Resolve(ctx context.Context, req *domain.CorrelationRequest) (correlate.Resolution, error)
}

// EventSink receives events whose correlation finished; in production this
// is the flood coalescer feeding the dispatcher.
type EventSink interface {
	Admit(event *domain.AuditEvent)
}

// Config tunes the pipeline.
type Config struct {
	CorrelationWindow time.Duration
}

// Pipeline is the orchestrator. One worker goroutine exists per active
// (kind, targetID) key; workers are created lazily and reaped when idle.
type Pipeline struct {
	cfg        Config
	correlator Resolver
	admitter   EventSink
	scanner    *flood.MentionScanner

	mu      sync.Mutex
	workers map[string]*worker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type worker struct {
	ch chan job
}

type job struct {
	req        *domain.CorrelationRequest
	occurredAt time.Time
}

// New creates a Pipeline delivering resolved events to admitter.
func New(cfg Config, correlator Resolver, admitter EventSink, scanner *flood.MentionScanner) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		cfg:        cfg,
		correlator: correlator,
		admitter:   admitter,
		scanner:    scanner,
		workers:    make(map[string]*worker),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Submit runs one feed event through the pipeline front half: normalize,
// diff, and hand any non-empty diff to the target's serial worker. Input
// inconsistency is fatal to this event only — logged and dropped, never
// raised.
func (p *Pipeline) Submit(ev FeedEvent) {
	metrics.EventsConsumedTotal.WithLabelValues(string(ev.Kind)).Inc()

	// Message creations have no before/after to compare; they only feed the
	// abuse scanner.
	if ev.Kind == domain.KindMessage && ev.Before == nil {
		p.scanMessage(ev)
		return
	}

	before, after, err := p.normalizePair(ev)
	if err != nil {
		metrics.EventsDroppedTotal.WithLabelValues("normalize").Inc()
		log.Error().Err(err).Str("kind", string(ev.Kind)).Msg("pipeline: payload rejected")
		return
	}

	records, err := diff.Compute(before, after)
	if err != nil {
		reason := "normalize"
		if errors.Is(err, domain.ErrSnapshotMismatch) {
			reason = "mismatch"
		}
		metrics.EventsDroppedTotal.WithLabelValues(reason).Inc()
		log.Error().Err(err).Str("kind", string(ev.Kind)).Msg("pipeline: event dropped")
		return
	}
	if len(records) == 0 {
		return
	}
	metrics.DiffsProducedTotal.WithLabelValues(string(ev.Kind)).Inc()

	target := snapshotID(before, after)
	opened := time.Now()
	req := &domain.CorrelationRequest{
		ID:       uuid.New(),
		Kind:     ev.Kind,
		TargetID: target,
		GuildID:  snapshotGuild(before, after),
		Diff:     records,
		Created:  before == nil,
		Deleted:  after == nil,
		OpenedAt: opened,
		Deadline: opened.Add(p.cfg.CorrelationWindow),
	}

	p.enqueue(string(ev.Kind)+"|"+string(target), job{req: req, occurredAt: ev.OccurredAt})
}

// Close stops accepting work and waits for in-flight correlations.
func (p *Pipeline) Close() {
	p.cancel()
	p.wg.Wait()
}

// scanMessage handles a message creation: every new message is logged as a
// message-sent event (the author is its own actor, no trail correlation),
// and its content runs through the abuse scanner.
func (p *Pipeline) scanMessage(ev FeedEvent) {
	if ev.After == nil {
		return
	}

	content, _ := ev.After["content"].(string)
	messageID, _ := ev.After["id"].(string)
	channelID, _ := ev.After["channel_id"].(string)
	guildID, _ := ev.After["guild_id"].(string)
	authorID, _ := ev.After["author_id"].(string)

	if messageID == "" {
		metrics.EventsDroppedTotal.WithLabelValues("normalize").Inc()
		log.Error().Str("kind", string(ev.Kind)).Msg("pipeline: message payload missing id")
		return
	}

	p.admitter.Admit(&domain.AuditEvent{
		Kind:       domain.KindMessage,
		TargetID:   domain.Identity(messageID),
		GuildID:    domain.Identity(guildID),
		Diff:       []domain.ChangeRecord{{Field: "content", After: content}},
		Created:    true,
		Actor:      domain.Identity(authorID),
		Count:      1,
		OccurredAt: ev.OccurredAt,
		ProducedAt: time.Now(),
	})

	if p.scanner == nil {
		return
	}

	event := p.scanner.Scan(flood.MessagePayload{
		MessageID:  domain.Identity(messageID),
		ChannelID:  domain.Identity(channelID),
		GuildID:    domain.Identity(guildID),
		AuthorID:   domain.Identity(authorID),
		Content:    content,
		OccurredAt: ev.OccurredAt,
	})
	if event != nil {
		p.admitter.Admit(event)
	}
}

func (p *Pipeline) normalizePair(ev FeedEvent) (before, after *domain.EntitySnapshot, err error) {
	if ev.Before != nil {
		before, err = snapshot.Normalize(ev.Kind, ev.Before, ev.OccurredAt)
		if err != nil {
			return nil, nil, err
		}
	}
	if ev.After != nil {
		after, err = snapshot.Normalize(ev.Kind, ev.After, ev.OccurredAt)
		if err != nil {
			return nil, nil, err
		}
	}
	return before, after, nil
}

// enqueue routes a job to its key's worker, creating one if needed. The
// send happens under the lock so a worker cannot reap itself between the
// lookup and the send.
func (p *Pipeline) enqueue(key string, j job) {
	p.mu.Lock()
	defer p.mu.Unlock()

	select {
	case <-p.ctx.Done():
		return
	default:
	}

	w, ok := p.workers[key]
	if !ok {
		w = &worker{ch: make(chan job, workerQueueDepth)}
		p.workers[key] = w
		p.wg.Add(1)
		go p.runWorker(key, w)
	}

	select {
	case w.ch <- j:
	default:
		metrics.EventsDroppedTotal.WithLabelValues("buffer_full").Inc()
		log.Warn().Str("key", key).Msg("pipeline: worker queue full, diff dropped")
	}
}

// runWorker drains one key's queue in order. Exits when idle for a while
// (removing itself from the map) or on shutdown after draining.
func (p *Pipeline) runWorker(key string, w *worker) {
	defer p.wg.Done()

	idle := time.NewTimer(workerIdleTTL)
	defer idle.Stop()

	for {
		select {
		case j := <-w.ch:
			p.process(j)
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(workerIdleTTL)

		case <-idle.C:
			p.mu.Lock()
			if len(w.ch) == 0 {
				delete(p.workers, key)
				p.mu.Unlock()
				return
			}
			p.mu.Unlock()
			idle.Reset(workerIdleTTL)

		case <-p.ctx.Done():
			for {
				select {
				case j := <-w.ch:
					p.process(j)
				default:
					return
				}
			}
		}
	}
}

// process runs the back half for one diff: correlate, then admit. The
// correlator never propagates trail errors; the only error here is a
// malformed window, which is a programming error worth logging loudly.
func (p *Pipeline) process(j job) {
	res, err := p.correlator.Resolve(p.ctx, j.req)
	if err != nil {
		log.Error().Err(err).
			Str("kind", string(j.req.Kind)).
			Str("target_id", string(j.req.TargetID)).
			Msg("pipeline: correlation rejected")
		res = correlate.Resolution{Actor: domain.UnknownActor}
	}

	p.admitter.Admit(&domain.AuditEvent{
		Kind:       j.req.Kind,
		TargetID:   j.req.TargetID,
		GuildID:    j.req.GuildID,
		Diff:       j.req.Diff,
		Created:    j.req.Created,
		Deleted:    j.req.Deleted,
		Actor:      res.Actor,
		Count:      1,
		OccurredAt: j.occurredAt,
		ProducedAt: time.Now(),
	})
}

func snapshotID(before, after *domain.EntitySnapshot) domain.Identity {
	if after != nil {
		return after.ID
	}
	return before.ID
}

func snapshotGuild(before, after *domain.EntitySnapshot) domain.Identity {
	if after != nil {
		return after.GuildID
	}
	return before.GuildID
}
