// Package metrics registers the Prometheus collectors shared across the
// pipeline. Collectors are package-level promauto registrations so every
// stage records into the default registry exposed by the ops server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsConsumedTotal counts snapshot-pair events read from the feed,
	// labeled by entity kind.
	EventsConsumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guildwatch_events_consumed_total",
		Help: "Snapshot-pair events consumed from the upstream feed",
	}, []string{"kind"})

	// DiffsProducedTotal counts non-empty diffs entering correlation.
	DiffsProducedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guildwatch_diffs_produced_total",
		Help: "Non-empty diffs produced by the diff engine",
	}, []string{"kind"})

	// EventsDroppedTotal counts events dropped before dispatch, labeled by
	// reason (mismatch, normalize, dedup, buffer_full).
	EventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guildwatch_events_dropped_total",
		Help: "Events dropped before reaching the sink",
	}, []string{"reason"})

	// ResolutionsTotal counts correlation outcomes (actor, unknown,
	// unattributable).
	ResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guildwatch_resolutions_total",
		Help: "Correlation request outcomes",
	}, []string{"outcome"})

	// ClaimConflictsTotal counts audit entries lost to a concurrent claim.
	ClaimConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guildwatch_claim_conflicts_total",
		Help: "Audit entry claims lost to a concurrent correlation request",
	})

	// CoalescedEventsTotal counts diffs folded into an already-held event.
	CoalescedEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guildwatch_coalesced_events_total",
		Help: "Diff events folded into a coalesced event by the flood filter",
	})

	// AbuseSignalsTotal counts standalone abuse-signal events.
	AbuseSignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guildwatch_abuse_signals_total",
		Help: "Abuse-signal events raised by the flood filter",
	}, []string{"signal"})

	// SinkEmitsTotal counts dispatcher hand-offs to the sink by result.
	SinkEmitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guildwatch_sink_emits_total",
		Help: "Audit events handed to the notification sink",
	}, []string{"result"})

	// TrailFetchSeconds observes audit trail fetch latency.
	TrailFetchSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "guildwatch_trail_fetch_seconds",
		Help:    "Latency of audit trail fetches",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})
)
