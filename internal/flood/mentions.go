package flood

import (
	"fmt"
	"regexp"
	"time"

	"github.com/guildwatch/guildwatch/internal/domain"
	"github.com/guildwatch/guildwatch/internal/metrics"
)

// mentionPattern matches platform user mention tokens, with or without the
// nickname marker.
var mentionPattern = regexp.MustCompile(`<@!?\d+>`) //nolint:gochecknoglobals // compiled once

// MessagePayload is the slice of a message event the scanner needs. It is
// evaluated directly; there is no before/after state to diff.
type MessagePayload struct {
	MessageID  domain.Identity
	ChannelID  domain.Identity
	GuildID    domain.Identity
	AuthorID   domain.Identity
	Content    string
	OccurredAt time.Time
}

// MentionScanner raises a standalone abuse-signal event when a single
// message carries an unusual number of user mentions.
type MentionScanner struct {
	threshold int
}

// NewMentionScanner creates a scanner with the given threshold.
func NewMentionScanner(threshold int) *MentionScanner {
	return &MentionScanner{threshold: threshold}
}

// Scan evaluates one message payload. Returns at most one event per message
// regardless of how far past the threshold the count is; nil below the
// threshold.
func (s *MentionScanner) Scan(msg MessagePayload) *domain.AuditEvent {
	count := len(mentionPattern.FindAllStringIndex(msg.Content, -1))
	if count < s.threshold {
		return nil
	}

	metrics.AbuseSignalsTotal.WithLabelValues(string(domain.SignalMassMention)).Inc()

	return &domain.AuditEvent{
		Kind:       domain.KindMessage,
		TargetID:   msg.MessageID,
		GuildID:    msg.GuildID,
		Actor:      msg.AuthorID,
		Count:      1,
		Signal:     domain.SignalMassMention,
		Detail:     fmt.Sprintf("%d user mentions in one message (threshold %d)", count, s.threshold),
		OccurredAt: msg.OccurredAt,
		ProducedAt: time.Now(),
	}
}
