package sink

import (
	"fmt"
	"strings"

	"github.com/guildwatch/guildwatch/internal/domain"
)

// Render formats an audit event as moderator-facing text: a headline naming
// the entity and actor, then one line per change. Coalesced events carry a
// repetition suffix.
func Render(event *domain.AuditEvent) string {
	var b strings.Builder

	if event.Signal != "" {
		fmt.Fprintf(&b, "Abuse signal (%s) by <@%s>", event.Signal, event.Actor)
		if event.Detail != "" {
			b.WriteString(": ")
			b.WriteString(event.Detail)
		}
		return b.String()
	}

	b.WriteString(headline(event))
	if event.Count > 1 {
		fmt.Fprintf(&b, " (x%d)", event.Count)
	}
	fmt.Fprintf(&b, "\nBy: %s", actorLabel(event.Actor))

	for _, rec := range event.Diff {
		b.WriteByte('\n')
		b.WriteString(changeLine(rec))
	}

	return b.String()
}

func headline(event *domain.AuditEvent) string {
	verb := "updated"
	switch {
	case event.Created:
		verb = "created"
	case event.Deleted:
		verb = "deleted"
	}

	switch event.Kind {
	case domain.KindMember:
		switch verb {
		case "created":
			return fmt.Sprintf("Member joined: <@%s>", event.TargetID)
		case "deleted":
			return fmt.Sprintf("Member left: <@%s>", event.TargetID)
		}
		return fmt.Sprintf("Member updated: <@%s>", event.TargetID)
	case domain.KindRole:
		return fmt.Sprintf("Role %s: <@&%s>", verb, event.TargetID)
	case domain.KindChannel:
		return fmt.Sprintf("Channel %s: <#%s>", verb, event.TargetID)
	case domain.KindVoiceState:
		return fmt.Sprintf("Voice state changed: <@%s>", event.TargetID)
	case domain.KindGuild:
		return "Server settings updated"
	case domain.KindMessage:
		switch {
		case event.Created:
			return fmt.Sprintf("Message sent: %s", event.TargetID)
		case event.Deleted:
			return fmt.Sprintf("Message deleted: %s", event.TargetID)
		}
		return fmt.Sprintf("Message edited: %s", event.TargetID)
	default:
		return fmt.Sprintf("%s %s: %s", event.Kind, verb, event.TargetID)
	}
}

// changeLine renders one change record. Set deltas read as added/removed
// lists; scalar changes as before -> after; creations and deletions show
// only their present side.
func changeLine(rec domain.ChangeRecord) string {
	if strings.HasSuffix(rec.Field, "+") {
		if set, ok := rec.After.(domain.StringSet); ok {
			return fmt.Sprintf("%s added: %s", strings.TrimSuffix(rec.Field, "+"), strings.Join(set, ", "))
		}
	}
	if strings.HasSuffix(rec.Field, "-") {
		if set, ok := rec.Before.(domain.StringSet); ok {
			return fmt.Sprintf("%s removed: %s", strings.TrimSuffix(rec.Field, "-"), strings.Join(set, ", "))
		}
	}

	// Voice moves read as a transition from one channel to another.
	if rec.Field == "channel_id" {
		return fmt.Sprintf("Moved: %s -> %s", valueLabel(rec.Before), valueLabel(rec.After))
	}

	label := valueLabel
	if rec.Field == "color" {
		label = colorLabel
	}

	switch {
	case rec.Before == nil:
		return fmt.Sprintf("%s set: %s", rec.Field, label(rec.After))
	case rec.After == nil:
		return fmt.Sprintf("%s removed: %s", rec.Field, label(rec.Before))
	default:
		return fmt.Sprintf("%s: %s -> %s", rec.Field, label(rec.Before), label(rec.After))
	}
}

func valueLabel(v domain.Value) string {
	switch val := v.(type) {
	case nil:
		return "none"
	case string:
		if val == "" {
			return "none"
		}
		return val
	case domain.StringSet:
		return strings.Join(val, ", ")
	default:
		return fmt.Sprint(val)
	}
}

// colorLabel renders a role color as a hex triplet, the form guild
// operators recognize from the role settings screen.
func colorLabel(v domain.Value) string {
	switch val := v.(type) {
	case int:
		return fmt.Sprintf("#%06x", val)
	case int64:
		return fmt.Sprintf("#%06x", val)
	case float64:
		return fmt.Sprintf("#%06x", int64(val))
	default:
		return valueLabel(v)
	}
}

func actorLabel(actor domain.Identity) string {
	if actor.IsUnknown() {
		return "Unknown"
	}
	return fmt.Sprintf("<@%s>", actor)
}
