// Package correlate matches freshly observed diffs to the audit trail
// entries that caused them. The trail is populated asynchronously with
// variable lag, so each request polls with backoff inside a bounded window
// and degrades to an unknown actor rather than failing.
package correlate

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/guildwatch/guildwatch/internal/domain"
	"github.com/guildwatch/guildwatch/internal/metrics"
)

// ErrWindowInvalid is returned when a request's deadline does not fall
// strictly after its open time.
var ErrWindowInvalid = errors.New("correlate: deadline must be after open time") //nolint:gochecknoglobals // sentinel error

// Resolution is the outcome of one correlation request. Entry is nil when
// the actor is unknown.
type Resolution struct {
	Actor domain.Identity
	Entry *domain.AuditEntry
}

// Config bounds the polling loop. All values come from configuration; zero
// values are not defaulted here.
type Config struct {
	Epsilon        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	FetchLimit     int
	FetchRate      float64
	FetchBurst     int
	MaxInFlight    int64
}

// Correlator resolves correlation requests against the audit trail. Safe for
// concurrent use; the fetch limiter and in-flight semaphore are shared so
// concurrent requests cannot amplify load on the trail.
type Correlator struct {
	trail   domain.Trail
	claims  domain.ClaimStore
	limiter *rate.Limiter
	sem     *semaphore.Weighted
	cfg     Config
}

// New creates a Correlator.
func New(trail domain.Trail, claims domain.ClaimStore, cfg Config) *Correlator {
	return &Correlator{
		trail:   trail,
		claims:  claims,
		limiter: rate.NewLimiter(rate.Limit(cfg.FetchRate), cfg.FetchBurst),
		sem:     semaphore.NewWeighted(cfg.MaxInFlight),
		cfg:     cfg,
	}
}

// Resolve runs the attribution loop for one request and always returns a
// resolution: either the claimed entry's executor or the unknown actor.
// Adapter failures are counted as empty attempts, never propagated — diff
// delivery must not depend on attribution succeeding.
func (c *Correlator) Resolve(ctx context.Context, req *domain.CorrelationRequest) (Resolution, error) {
	if !req.Deadline.After(req.OpenedAt) {
		return Resolution{}, ErrWindowInvalid
	}

	actions := ActionsFor(req)
	if len(actions) == 0 {
		metrics.ResolutionsTotal.WithLabelValues("unattributable").Inc()
		return Resolution{Actor: domain.UnknownActor}, nil
	}

	ctx, cancel := context.WithDeadline(ctx, req.Deadline)
	defer cancel()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.InitialBackoff
	bo.MaxInterval = c.cfg.MaxBackoff
	bo.MaxElapsedTime = 0 // the context deadline bounds the loop

	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		entry := c.scan(ctx, req, actions)
		if entry != nil {
			metrics.ResolutionsTotal.WithLabelValues("actor").Inc()
			return Resolution{Actor: entry.ExecutorID, Entry: entry}, nil
		}

		select {
		case <-ctx.Done():
			metrics.ResolutionsTotal.WithLabelValues("unknown").Inc()
			return Resolution{Actor: domain.UnknownActor}, nil
		case <-time.After(bo.NextBackOff()):
		}
	}

	metrics.ResolutionsTotal.WithLabelValues("unknown").Inc()
	return Resolution{Actor: domain.UnknownActor}, nil
}

// scan performs one fetch pass over the candidate action kinds and tries to
// claim the best matching entry. Returns nil when nothing could be claimed
// this attempt.
func (c *Correlator) scan(ctx context.Context, req *domain.CorrelationRequest, actions []domain.ActionKind) *domain.AuditEntry {
	var candidates []domain.AuditEntry

	for _, action := range actions {
		entries, err := c.fetch(ctx, action, req.TargetID)
		if err != nil {
			// Unreachable or unauthorized trail counts as "no candidates
			// this attempt"; the backoff budget absorbs it.
			log.Debug().Err(err).
				Stringer("request_id", req.ID).
				Str("action", string(action)).
				Str("target_id", string(req.TargetID)).
				Msg("correlate: trail fetch failed")
			continue
		}
		candidates = append(candidates, filterCandidates(entries, req, c.cfg.Epsilon)...)
	}

	if len(candidates) == 0 {
		return nil
	}

	rankCandidates(candidates, req.OpenedAt)

	// Claim in rank order. Losing a claim race just means another in-flight
	// request owned that entry; fall through to the next candidate.
	for i := range candidates {
		ok, err := c.claims.Claim(ctx, candidates[i].EntryID)
		if err != nil {
			log.Warn().Err(err).
				Stringer("request_id", req.ID).
				Str("entry_id", candidates[i].EntryID).
				Msg("correlate: claim failed")
			continue
		}
		if ok {
			return &candidates[i]
		}
		metrics.ClaimConflictsTotal.Inc()
	}

	return nil
}

// fetch pulls one page from the trail under the shared rate limiter and
// in-flight cap.
func (c *Correlator) fetch(ctx context.Context, action domain.ActionKind, targetID domain.Identity) ([]domain.AuditEntry, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	entries, err := c.trail.FetchRecent(ctx, action, targetID, c.cfg.FetchLimit)
	metrics.TrailFetchSeconds.Observe(time.Since(start).Seconds())
	return entries, err
}

// filterCandidates keeps entries for the request's target whose occurredAt
// falls inside [openedAt-ε, deadline]. ε absorbs minor clock skew and
// out-of-order delivery.
func filterCandidates(entries []domain.AuditEntry, req *domain.CorrelationRequest, epsilon time.Duration) []domain.AuditEntry {
	earliest := req.OpenedAt.Add(-epsilon)

	var out []domain.AuditEntry
	for _, e := range entries {
		if e.TargetID != req.TargetID {
			continue
		}
		if e.OccurredAt.Before(earliest) || e.OccurredAt.After(req.Deadline) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// rankCandidates orders entries by proximity of occurredAt to the request's
// open time; on exact ties the larger entry ID (most recently enqueued)
// wins. A documented heuristic, not a proof: the trail offers no stronger
// linkage between a state change and its entry.
func rankCandidates(candidates []domain.AuditEntry, openedAt time.Time) {
	sort.SliceStable(candidates, func(i, j int) bool {
		di := absDuration(candidates[i].OccurredAt.Sub(openedAt))
		dj := absDuration(candidates[j].OccurredAt.Sub(openedAt))
		if di != dj {
			return di < dj
		}
		return domain.EntryIDLess(candidates[j].EntryID, candidates[i].EntryID)
	})
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
