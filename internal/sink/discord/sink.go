package discord

import (
	"context"
	"fmt"

	"github.com/guildwatch/guildwatch/internal/domain"
	"github.com/guildwatch/guildwatch/internal/sink"
)

// DiscordAPI abstracts the subset of the Discord client used by the sink.
// This allows testing without real HTTP calls.
type DiscordAPI interface {
	ChannelMessageSend(channelID, content string) (messageID string, err error)
}

// DiscordSink delivers rendered audit events to a Discord log channel.
type DiscordSink struct {
	api       DiscordAPI
	channelID string
}

// Compile-time interface check.
var _ sink.Sink = (*DiscordSink)(nil) //nolint:gochecknoglobals // compile-time check

// NewDiscordSink creates a DiscordSink posting to the given channel.
func NewDiscordSink(api DiscordAPI, channelID string) *DiscordSink {
	return &DiscordSink{api: api, channelID: channelID}
}

// Emit renders the event and posts it to the log channel.
func (s *DiscordSink) Emit(_ context.Context, event *domain.AuditEvent) error {
	_, err := s.api.ChannelMessageSend(s.channelID, sink.Render(event))
	if err != nil {
		return fmt.Errorf("discord.DiscordSink.Emit: %w", err)
	}
	return nil
}

// Platform returns the sink platform identifier.
func (s *DiscordSink) Platform() string { return "discord" }
