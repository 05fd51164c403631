package flood_test

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildwatch/guildwatch/internal/domain"
	"github.com/guildwatch/guildwatch/internal/flood"
)

// --- helpers ---

type collector struct {
	mu     sync.Mutex
	events []*domain.AuditEvent
}

func (c *collector) flush(e *domain.AuditEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) all() []*domain.AuditEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*domain.AuditEvent(nil), c.events...)
}

func roleAddEvent(targetID domain.Identity) *domain.AuditEvent {
	return &domain.AuditEvent{
		Kind:     domain.KindMember,
		TargetID: targetID,
		GuildID:  "999",
		Actor:    "777",
		Diff: []domain.ChangeRecord{
			{Field: "roles+", After: domain.NewStringSet("mod")},
		},
		OccurredAt: time.Now(),
		ProducedAt: time.Now(),
	}
}

func TestCoalescerFoldsRepetitions(t *testing.T) {
	t.Parallel()

	sink := &collector{}
	c := flood.NewCoalescer(50*time.Millisecond, sink.flush)

	for range 50 {
		c.Admit(roleAddEvent("111"))
	}

	require.Eventually(t, func() bool {
		return len(sink.all()) == 1
	}, time.Second, 5*time.Millisecond)

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, 50, events[0].Count)
	assert.Equal(t, domain.Identity("111"), events[0].TargetID)
}

func TestCoalescerSeparatesGroups(t *testing.T) {
	t.Parallel()

	sink := &collector{}
	c := flood.NewCoalescer(50*time.Millisecond, sink.flush)

	// Different targets are different groups.
	c.Admit(roleAddEvent("111"))
	c.Admit(roleAddEvent("222"))

	// Different field set for the same target is also its own group.
	nickname := roleAddEvent("111")
	nickname.Diff = []domain.ChangeRecord{{Field: "nickname", Before: "a", After: "b"}}
	c.Admit(nickname)

	require.Eventually(t, func() bool {
		return len(sink.all()) == 3
	}, time.Second, 5*time.Millisecond)

	for _, e := range sink.all() {
		assert.Equal(t, 1, e.Count)
	}
}

func TestCoalescerNewWindowAfterFlush(t *testing.T) {
	t.Parallel()

	sink := &collector{}
	c := flood.NewCoalescer(30*time.Millisecond, sink.flush)

	c.Admit(roleAddEvent("111"))
	require.Eventually(t, func() bool {
		return len(sink.all()) == 1
	}, time.Second, 5*time.Millisecond)

	// The group flushed; the next repetition opens a fresh window.
	c.Admit(roleAddEvent("111"))
	require.Eventually(t, func() bool {
		return len(sink.all()) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestCoalescerCloseFlushesHeld(t *testing.T) {
	t.Parallel()

	sink := &collector{}
	c := flood.NewCoalescer(time.Hour, sink.flush)

	c.Admit(roleAddEvent("111"))
	c.Admit(roleAddEvent("111"))
	assert.Empty(t, sink.all())

	c.Close()

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, 2, events[0].Count)
}

func TestCoalescerSignalBypass(t *testing.T) {
	t.Parallel()

	sink := &collector{}
	c := flood.NewCoalescer(time.Hour, sink.flush)

	c.Admit(&domain.AuditEvent{
		Kind:   domain.KindMessage,
		Signal: domain.SignalMassMention,
		Count:  1,
	})

	require.Len(t, sink.all(), 1)
}

func TestMentionScanner(t *testing.T) {
	t.Parallel()

	scanner := flood.NewMentionScanner(5)

	t.Run("below threshold yields nothing", func(t *testing.T) {
		t.Parallel()

		event := scanner.Scan(flood.MessagePayload{
			MessageID: "m1",
			AuthorID:  "777",
			Content:   "hey <@1> <@2> <@3> <@4>",
		})
		assert.Nil(t, event)
	})

	t.Run("threshold raises exactly one signal", func(t *testing.T) {
		t.Parallel()

		event := scanner.Scan(flood.MessagePayload{
			MessageID: "m2",
			GuildID:   "999",
			AuthorID:  "777",
			Content:   "<@1> <@2> <@!3> <@4> <@5>",
		})
		require.NotNil(t, event)
		assert.Equal(t, domain.SignalMassMention, event.Signal)
		assert.Equal(t, domain.Identity("777"), event.Actor)
		assert.Equal(t, domain.Identity("m2"), event.TargetID)
		assert.Equal(t, 1, event.Count)
	})

	t.Run("far past threshold still one signal", func(t *testing.T) {
		t.Parallel()

		event := scanner.Scan(flood.MessagePayload{
			MessageID: "m3",
			Content:   strings.Repeat("<@42> ", 50),
		})
		require.NotNil(t, event)
		assert.Contains(t, event.Detail, "50 user mentions")
	})

	t.Run("plain at-signs do not count", func(t *testing.T) {
		t.Parallel()

		event := scanner.Scan(flood.MessagePayload{
			MessageID: "m4",
			Content:   "@a @b @c @d @e @f",
		})
		assert.Nil(t, event)
	})
}
