// Package sink defines the notification sink boundary and renders audit
// events into human-reviewable text. Delivery retries and persistence are
// the sink implementation's own concern; the core only hands events over.
package sink

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/guildwatch/guildwatch/internal/domain"
)

// Sink receives finished audit events for rendering and delivery.
type Sink interface {
	// Emit delivers one event. Failures are the implementation's problem;
	// the dispatcher logs them and moves on.
	Emit(ctx context.Context, event *domain.AuditEvent) error

	// Platform returns the sink platform identifier (e.g. "discord").
	Platform() string
}

// LogSink writes rendered events to the structured log. The default sink for
// local runs and the fallback when no platform is configured.
type LogSink struct{}

// Compile-time interface check.
var _ Sink = (*LogSink)(nil) //nolint:gochecknoglobals // compile-time check

func (LogSink) Emit(_ context.Context, event *domain.AuditEvent) error {
	log.Info().
		Str("kind", string(event.Kind)).
		Str("target_id", string(event.TargetID)).
		Str("actor", actorLabel(event.Actor)).
		Int("count", event.Count).
		Msg(Render(event))
	return nil
}

func (LogSink) Platform() string { return "log" }
