package slack

import (
	"context"
	"fmt"

	slacklib "github.com/slack-go/slack"

	"github.com/guildwatch/guildwatch/internal/domain"
	"github.com/guildwatch/guildwatch/internal/sink"
)

// SlackAPI abstracts the subset of the Slack client used by the sink.
// This allows testing without real HTTP calls.
type SlackAPI interface {
	PostMessage(channelID string, options ...slacklib.MsgOption) (string, string, error)
}

// SlackSink delivers rendered audit events to a Slack channel.
type SlackSink struct {
	api       SlackAPI
	channelID string
}

// Compile-time interface check.
var _ sink.Sink = (*SlackSink)(nil) //nolint:gochecknoglobals // compile-time check

// NewSlackSink creates a SlackSink posting to the given channel.
func NewSlackSink(api SlackAPI, channelID string) *SlackSink {
	return &SlackSink{api: api, channelID: channelID}
}

// Emit renders the event and posts it to the log channel.
func (s *SlackSink) Emit(_ context.Context, event *domain.AuditEvent) error {
	_, _, err := s.api.PostMessage(s.channelID, slacklib.MsgOptionText(sink.Render(event), false))
	if err != nil {
		return fmt.Errorf("slack.SlackSink.Emit: %w", err)
	}
	return nil
}

// Platform returns the sink platform identifier.
func (s *SlackSink) Platform() string { return "slack" }
