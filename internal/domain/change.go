package domain

import (
	"fmt"
	"strings"
)

// ChangeRecord is one field-level difference between two snapshots.
// A nil Before means the field (or the whole entity) did not exist before;
// a nil After means it was removed. A record is never produced when both
// sides are equal under the field's equality.
type ChangeRecord struct {
	Field  string
	Before Value
	After  Value
}

// FieldSignature summarizes which fields a diff touches, independent of
// values. Coalescing treats diffs with the same signature as repetitions of
// the same administrative action.
func FieldSignature(diff []ChangeRecord) string {
	fields := make([]string, 0, len(diff))
	for _, rec := range diff {
		fields = append(fields, rec.Field)
	}
	return strings.Join(fields, ",")
}

// CanonicalDiff encodes a diff as a stable string. Records are expected in
// engine output order, so identical diffs encode identically; used for
// content-keyed deduplication.
func CanonicalDiff(diff []ChangeRecord) string {
	var b strings.Builder
	for i, rec := range diff {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(rec.Field)
		b.WriteByte('=')
		b.WriteString(canonicalValue(rec.Before))
		b.WriteString("->")
		b.WriteString(canonicalValue(rec.After))
	}
	return b.String()
}

func canonicalValue(v Value) string {
	switch val := v.(type) {
	case nil:
		return "<absent>"
	case StringSet:
		return "{" + strings.Join(val, ",") + "}"
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}
