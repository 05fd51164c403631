// Package diff compares two snapshots of the same entity down to a minimal,
// ordered list of field changes. The engine is pure: no I/O, no clock, no
// shared state.
package diff

import (
	"fmt"

	"github.com/guildwatch/guildwatch/internal/domain"
)

// Compute diffs two snapshots of the same (kind, id). A nil before means the
// entity was just created; a nil after means it was deleted. Mismatched kind
// or identity is an input-inconsistency error, not a recoverable condition.
//
// Scalar fields that differ yield one record carrying both sides. Set-valued
// fields yield separate added ("field+") and removed ("field-") records
// holding just the delta, so a permission change from {A,B} to {A,C} reads
// "removed B, added C" rather than an opaque "changed". Output order follows
// the kind's fixed field priority, making results deterministic.
func Compute(before, after *domain.EntitySnapshot) ([]domain.ChangeRecord, error) {
	if before == nil && after == nil {
		return nil, fmt.Errorf("diff.Compute: %w", domain.ErrEmptySnapshot)
	}

	if before != nil && after != nil {
		if before.Kind != after.Kind || before.ID != after.ID {
			return nil, fmt.Errorf("diff.Compute: before %s/%s vs after %s/%s: %w",
				before.Kind, before.ID, after.Kind, after.ID, domain.ErrSnapshotMismatch)
		}
	}

	kind := kindOf(before, after)

	var records []domain.ChangeRecord
	for _, field := range domain.FieldOrder(kind) {
		bv := fieldOf(before, field)
		av := fieldOf(after, field)
		if bv == nil && av == nil {
			continue
		}

		bSet, bIsSet := bv.(domain.StringSet)
		aSet, aIsSet := av.(domain.StringSet)
		if bIsSet || aIsSet {
			records = append(records, diffSet(field, bSet, aSet)...)
			continue
		}

		if !scalarEqual(bv, av) {
			records = append(records, domain.ChangeRecord{Field: field, Before: bv, After: av})
		}
	}

	return records, nil
}

// diffSet emits added/removed sub-records under set equality. Either side
// may be nil (treated as the empty set).
func diffSet(field string, before, after domain.StringSet) []domain.ChangeRecord {
	if before.Equal(after) {
		return nil
	}

	var records []domain.ChangeRecord
	if added := after.Diff(before); len(added) > 0 {
		records = append(records, domain.ChangeRecord{Field: field + "+", After: added})
	}
	if removed := before.Diff(after); len(removed) > 0 {
		records = append(records, domain.ChangeRecord{Field: field + "-", Before: removed})
	}
	return records
}

// scalarEqual compares two scalar values. Absent (nil) equals only absent;
// strings compare case-sensitively.
func scalarEqual(a, b domain.Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a == b
}

func kindOf(before, after *domain.EntitySnapshot) domain.EntityKind {
	if after != nil {
		return after.Kind
	}
	return before.Kind
}

func fieldOf(snap *domain.EntitySnapshot, field string) domain.Value {
	if snap == nil {
		return nil
	}
	return snap.Fields[field]
}
