package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ActionKind identifies an administrative action recorded in the platform's
// audit trail.
type ActionKind string

const (
	ActionMemberUpdate     ActionKind = "member_update"
	ActionMemberRoleUpdate ActionKind = "member_role_update"
	ActionMemberMove       ActionKind = "member_move"
	ActionMemberDisconnect ActionKind = "member_disconnect"
	ActionRoleCreate       ActionKind = "role_create"
	ActionRoleUpdate       ActionKind = "role_update"
	ActionRoleDelete       ActionKind = "role_delete"
	ActionChannelCreate    ActionKind = "channel_create"
	ActionChannelUpdate    ActionKind = "channel_update"
	ActionChannelDelete    ActionKind = "channel_delete"
	ActionGuildUpdate      ActionKind = "guild_update"
	ActionMessageDelete    ActionKind = "message_delete"
)

// AuditEntry is one record from the external, append-only audit trail.
// Read-only to this system; EntryID is assumed monotonically increasing
// within a guild.
type AuditEntry struct {
	ActionKind ActionKind
	TargetID   Identity
	ExecutorID Identity
	OccurredAt time.Time
	EntryID    string
}

// EntryIDLess orders opaque decimal entry IDs numerically. Shorter decimal
// strings are always smaller; equal lengths compare lexicographically.
func EntryIDLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

// CorrelationRequest is the unit of attribution work: one non-empty diff
// awaiting an actor. Created when the diff is produced, resolved (claiming
// an entry or expiring to unknown) by the deadline, then discarded.
type CorrelationRequest struct {
	ID       uuid.UUID
	Kind     EntityKind
	TargetID Identity
	GuildID  Identity
	Diff     []ChangeRecord
	Created  bool // before snapshot was absent
	Deleted  bool // after snapshot was absent
	OpenedAt time.Time
	Deadline time.Time
}

// Trail is the audit trail adapter boundary. FetchRecent returns up to limit
// entries of the given action kind, newest first. targetID narrows the query
// when non-empty. Transient failures return an error; the correlator treats
// them as an empty attempt.
type Trail interface {
	FetchRecent(ctx context.Context, action ActionKind, targetID Identity, limit int) ([]AuditEntry, error)
}

// ClaimStore enforces at-most-once consumption of audit entries. Claim is
// atomic: exactly one concurrent caller wins a given entry ID. Claims are
// never released.
type ClaimStore interface {
	Claim(ctx context.Context, entryID string) (bool, error)
}

// DedupCache marks event content keys as seen. Seen atomically records the
// key and reports whether it was already present, so duplicate feed
// deliveries collapse to a single dispatched event.
type DedupCache interface {
	Seen(ctx context.Context, key string) (bool, error)
}
