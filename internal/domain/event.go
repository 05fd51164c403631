package domain

import "time"

// SignalKind marks an event produced by the abuse filter rather than the
// diff/correlation path.
type SignalKind string

// SignalMassMention flags a message whose mention count crossed the
// configured threshold.
const SignalMassMention SignalKind = "mass_mention"

// AuditEvent is the terminal, immutable artifact handed to the notification
// sink. Exactly one of two shapes: a diff event (Diff non-empty, Signal
// empty) or an abuse signal (Signal set, Diff nil).
type AuditEvent struct {
	Kind     EntityKind
	TargetID Identity
	GuildID  Identity
	Diff     []ChangeRecord
	Created  bool // entity came into existence with this change
	Deleted  bool // entity ceased to exist with this change
	Actor    Identity
	Count    int // >1 when the flood filter coalesced repetitions
	Signal   SignalKind
	Detail   string // signal events only: human-readable context

	OccurredAt time.Time
	ProducedAt time.Time
}
