package domain

import (
	"slices"
	"time"
)

// EntityKind identifies which kind of guild object a snapshot describes.
// The set is closed: every pipeline stage switches on it rather than
// registering per-event callbacks.
type EntityKind string

const (
	KindMember     EntityKind = "member"
	KindRole       EntityKind = "role"
	KindChannel    EntityKind = "channel"
	KindVoiceState EntityKind = "voice_state"
	KindGuild      EntityKind = "guild"
	KindMessage    EntityKind = "message"
)

// Valid reports whether k is one of the known entity kinds.
func (k EntityKind) Valid() bool {
	switch k {
	case KindMember, KindRole, KindChannel, KindVoiceState, KindGuild, KindMessage:
		return true
	}
	return false
}

// Identity is an opaque platform identifier (snowflake-style decimal string).
// The zero value means "unknown"; attribution degrades to it when the audit
// trail yields no match.
type Identity string

// UnknownActor is the resolved actor when correlation fails or expires.
const UnknownActor Identity = ""

// IsUnknown reports whether the identity is the unknown sentinel.
func (id Identity) IsUnknown() bool { return id == "" }

// Value is a snapshot field value. Supported dynamic types are string,
// int64, bool and StringSet. nil marks an absent side in a ChangeRecord.
type Value any

// StringSet is a set-valued field (role IDs, permission names). Kept sorted
// so snapshots of equal sets are byte-for-byte identical.
type StringSet []string

// NewStringSet builds a sorted, deduplicated set from members.
func NewStringSet(members ...string) StringSet {
	out := slices.Clone(members)
	slices.Sort(out)
	return slices.Compact(out)
}

// Equal reports set equality, not representation equality.
func (s StringSet) Equal(other StringSet) bool {
	return slices.Equal(s, other)
}

// Contains reports whether member is in the set.
func (s StringSet) Contains(member string) bool {
	_, ok := slices.BinarySearch(s, member)
	return ok
}

// Diff returns the members present in s but not in other, preserving order.
func (s StringSet) Diff(other StringSet) StringSet {
	var out StringSet
	for _, m := range s {
		if !other.Contains(m) {
			out = append(out, m)
		}
	}
	return out
}

// EntitySnapshot is a point-in-time capture of one entity's observable
// fields. Snapshots are immutable once created; a later capture supersedes
// an earlier one, it never mutates it.
type EntitySnapshot struct {
	Kind       EntityKind
	ID         Identity
	GuildID    Identity
	Fields     map[string]Value
	CapturedAt time.Time
}

// fieldOrder fixes the per-kind field priority used to order diff output.
// Deterministic ordering keeps rendered events stable and testable.
var fieldOrder = map[EntityKind][]string{
	KindMember:     {"nickname", "roles", "avatar", "timeout_until"},
	KindRole:       {"name", "color", "hoist", "mentionable", "position", "permissions"},
	KindChannel:    {"name", "topic", "nsfw", "bitrate", "slowmode", "parent_id"},
	KindVoiceState: {"channel_id", "mute", "deaf", "self_mute", "self_deaf", "streaming"},
	KindGuild:      {"name", "icon", "afk_channel_id", "verification_level", "system_channel_id"},
	KindMessage:    {"content", "pinned", "channel_id"},
}

// FieldOrder returns the fixed field priority for a kind. The returned slice
// must not be modified.
func FieldOrder(kind EntityKind) []string {
	return fieldOrder[kind]
}
