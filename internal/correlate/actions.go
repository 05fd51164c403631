package correlate

import (
	"strings"

	"github.com/guildwatch/guildwatch/internal/domain"
)

// ActionsFor maps a correlation request onto the audit trail action kinds
// that could have produced its diff. An empty result means the change is not
// attributable through the trail at all (e.g. a message edit by its author)
// and the request resolves to Unknown without polling.
func ActionsFor(req *domain.CorrelationRequest) []domain.ActionKind {
	switch req.Kind {
	case domain.KindMember:
		if touchesField(req.Diff, "roles") {
			return []domain.ActionKind{domain.ActionMemberRoleUpdate}
		}
		return []domain.ActionKind{domain.ActionMemberUpdate}

	case domain.KindRole:
		switch {
		case req.Created:
			return []domain.ActionKind{domain.ActionRoleCreate}
		case req.Deleted:
			return []domain.ActionKind{domain.ActionRoleDelete}
		default:
			return []domain.ActionKind{domain.ActionRoleUpdate}
		}

	case domain.KindChannel:
		switch {
		case req.Created:
			return []domain.ActionKind{domain.ActionChannelCreate}
		case req.Deleted:
			return []domain.ActionKind{domain.ActionChannelDelete}
		default:
			return []domain.ActionKind{domain.ActionChannelUpdate}
		}

	case domain.KindVoiceState:
		if touchesField(req.Diff, "channel_id") {
			// Leaving voice entirely is a disconnect; anything else is a
			// move. Either may also be the user's own doing, in which case
			// no entry will match and the request expires to Unknown.
			if fieldCleared(req.Diff, "channel_id") {
				return []domain.ActionKind{domain.ActionMemberDisconnect}
			}
			return []domain.ActionKind{domain.ActionMemberMove}
		}
		return []domain.ActionKind{domain.ActionMemberUpdate}

	case domain.KindGuild:
		return []domain.ActionKind{domain.ActionGuildUpdate}

	case domain.KindMessage:
		if req.Deleted {
			return []domain.ActionKind{domain.ActionMessageDelete}
		}
		return nil

	default:
		return nil
	}
}

// touchesField reports whether the diff contains field or one of its set
// sub-records (field+ / field-).
func touchesField(diff []domain.ChangeRecord, field string) bool {
	for _, rec := range diff {
		if rec.Field == field || strings.TrimRight(rec.Field, "+-") == field {
			return true
		}
	}
	return false
}

// fieldCleared reports whether the diff sets field to absent.
func fieldCleared(diff []domain.ChangeRecord, field string) bool {
	for _, rec := range diff {
		if rec.Field == field {
			return rec.After == nil
		}
	}
	return false
}
