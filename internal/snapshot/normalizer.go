// Package snapshot converts raw feed payloads into canonical entity
// snapshots. The raw side is whatever the upstream session decoded from the
// wire (JSON objects with loose typing); the canonical side is a fixed field
// set per entity kind with stable value types, so the diff engine never sees
// representation noise.
package snapshot

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/guildwatch/guildwatch/internal/domain"
)

// setFields names the fields folded into sorted StringSets per kind.
var setFields = map[domain.EntityKind]map[string]bool{
	domain.KindMember: {"roles": true},
	domain.KindRole:   {"permissions": true},
}

// Normalize builds an EntitySnapshot from a raw payload. Only the kind's
// known fields are kept; absent fields are simply omitted. The payload must
// carry a non-empty "id".
func Normalize(kind domain.EntityKind, raw map[string]any, capturedAt time.Time) (*domain.EntitySnapshot, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("snapshot.Normalize: kind %q: %w", kind, domain.ErrUnknownKind)
	}

	id, _ := raw["id"].(string)
	if id == "" {
		return nil, fmt.Errorf("snapshot.Normalize: kind %q: missing entity id", kind)
	}
	guildID, _ := raw["guild_id"].(string)

	fields := make(map[string]domain.Value)
	for _, name := range domain.FieldOrder(kind) {
		rawVal, ok := raw[name]
		if !ok || rawVal == nil {
			continue
		}

		if setFields[kind][name] {
			set, err := coerceSet(rawVal)
			if err != nil {
				return nil, fmt.Errorf("snapshot.Normalize: field %q: %w", name, err)
			}
			fields[name] = set
			continue
		}

		val, err := coerceScalar(rawVal)
		if err != nil {
			return nil, fmt.Errorf("snapshot.Normalize: field %q: %w", name, err)
		}
		fields[name] = val
	}

	return &domain.EntitySnapshot{
		Kind:       kind,
		ID:         domain.Identity(id),
		GuildID:    domain.Identity(guildID),
		Fields:     fields,
		CapturedAt: capturedAt,
	}, nil
}

// coerceScalar maps loosely-typed JSON values onto the snapshot value types.
// JSON numbers arrive as float64 or json.Number depending on the decoder.
func coerceScalar(v any) (domain.Value, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case bool:
		return val, nil
	case int64:
		return val, nil
	case int:
		return int64(val), nil
	case float64:
		return int64(val), nil
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("numeric field %q not integral", val.String())
		}
		return n, nil
	default:
		return nil, fmt.Errorf("unsupported scalar type %T", v)
	}
}

func coerceSet(v any) (domain.StringSet, error) {
	switch val := v.(type) {
	case []string:
		return domain.NewStringSet(val...), nil
	case []any:
		members := make([]string, 0, len(val))
		for _, m := range val {
			s, ok := m.(string)
			if !ok {
				return nil, fmt.Errorf("set member type %T, want string", m)
			}
			members = append(members, s)
		}
		return domain.NewStringSet(members...), nil
	default:
		return nil, fmt.Errorf("unsupported set type %T", v)
	}
}
