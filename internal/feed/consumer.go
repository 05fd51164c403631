// Package feed consumes the upstream stream of entity-change tuples. The
// session behind the socket (authentication, resume, reconnection policy) is
// the upstream collaborator's concern; this package only decodes tuples and
// hands them to the pipeline.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/guildwatch/guildwatch/internal/domain"
	"github.com/guildwatch/guildwatch/internal/pipeline"
)

// wireTuple is the upstream wire shape of one change event.
type wireTuple struct {
	Kind       string         `json:"kind"`
	Before     map[string]any `json:"before,omitempty"`
	After      map[string]any `json:"after,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Submitter is the pipeline boundary.
type Submitter interface {
	Submit(ev pipeline.FeedEvent)
}

// Consumer reads change tuples from the feed websocket.
type Consumer struct {
	url      string
	token    string
	pipeline Submitter
}

// NewConsumer creates a Consumer delivering into p.
func NewConsumer(url, token string, p Submitter) *Consumer {
	return &Consumer{url: url, token: token, pipeline: p}
}

// Run connects and consumes until the context is cancelled or the socket
// fails. Undecodable or unknown-kind tuples are logged and skipped; the
// feed is at-least-once, so losing a malformed frame is recoverable
// upstream.
func (c *Consumer) Run(ctx context.Context) error {
	opts := &websocket.DialOptions{}
	if c.token != "" {
		opts.HTTPHeader = http.Header{"Authorization": {"Bearer " + c.token}}
	}

	conn, _, err := websocket.Dial(ctx, c.url, opts)
	if err != nil {
		return fmt.Errorf("feed.Consumer.Run: dial: %w", err)
	}
	defer conn.CloseNow()

	log.Info().Str("url", c.url).Msg("feed: connected")

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "shutting down")
				return nil
			}
			return fmt.Errorf("feed.Consumer.Run: read: %w", err)
		}
		if msgType != websocket.MessageText {
			continue
		}

		ev, err := DecodeTuple(data)
		if err != nil {
			log.Warn().Err(err).Msg("feed: tuple skipped")
			continue
		}

		c.pipeline.Submit(ev)
	}
}

// DecodeTuple parses one wire frame into a pipeline event.
func DecodeTuple(data []byte) (pipeline.FeedEvent, error) {
	var t wireTuple
	if err := json.Unmarshal(data, &t); err != nil {
		return pipeline.FeedEvent{}, fmt.Errorf("feed.DecodeTuple: %w", err)
	}

	kind := domain.EntityKind(t.Kind)
	if !kind.Valid() {
		return pipeline.FeedEvent{}, fmt.Errorf("feed.DecodeTuple: kind %q: %w", t.Kind, domain.ErrUnknownKind)
	}
	if t.Before == nil && t.After == nil {
		return pipeline.FeedEvent{}, errors.New("feed.DecodeTuple: tuple has neither side")
	}

	occurred := t.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}

	return pipeline.FeedEvent{
		Kind:       kind,
		Before:     t.Before,
		After:      t.After,
		OccurredAt: occurred,
	}, nil
}
