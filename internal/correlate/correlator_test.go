package correlate_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildwatch/guildwatch/internal/audit"
	"github.com/guildwatch/guildwatch/internal/correlate"
	"github.com/guildwatch/guildwatch/internal/domain"
)

// --- mocks ---

type fakeTrail struct {
	mu      sync.Mutex
	entries map[domain.ActionKind][]domain.AuditEntry
	err     error
	fetches int
}

func (f *fakeTrail) FetchRecent(_ context.Context, action domain.ActionKind, _ domain.Identity, _ int) ([]domain.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	return f.entries[action], nil
}

func (f *fakeTrail) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func testConfig() correlate.Config {
	return correlate.Config{
		Epsilon:        100 * time.Millisecond,
		MaxAttempts:    3,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     40 * time.Millisecond,
		FetchLimit:     25,
		FetchRate:      1000,
		FetchBurst:     1000,
		MaxInFlight:    8,
	}
}

func roleUpdateRequest(opened time.Time, window time.Duration) *domain.CorrelationRequest {
	return &domain.CorrelationRequest{
		Kind:     domain.KindRole,
		TargetID: "222",
		GuildID:  "999",
		Diff: []domain.ChangeRecord{
			{Field: "name", Before: "a", After: "b"},
		},
		OpenedAt: opened,
		Deadline: opened.Add(window),
	}
}

func TestResolveSingleMatch(t *testing.T) {
	t.Parallel()

	opened := time.Now()
	trail := &fakeTrail{entries: map[domain.ActionKind][]domain.AuditEntry{
		domain.ActionRoleUpdate: {
			{ActionKind: domain.ActionRoleUpdate, TargetID: "222", ExecutorID: "777", OccurredAt: opened.Add(20 * time.Millisecond), EntryID: "1001"},
		},
	}}
	claims := audit.NewMemoryClaims(time.Minute)
	c := correlate.New(trail, claims, testConfig())

	res, err := c.Resolve(context.Background(), roleUpdateRequest(opened, time.Second))
	require.NoError(t, err)

	assert.Equal(t, domain.Identity("777"), res.Actor)
	require.NotNil(t, res.Entry)
	assert.Equal(t, "1001", res.Entry.EntryID)
}

func TestResolveExclusiveClaim(t *testing.T) {
	t.Parallel()

	opened := time.Now()
	trail := &fakeTrail{entries: map[domain.ActionKind][]domain.AuditEntry{
		domain.ActionRoleUpdate: {
			{ActionKind: domain.ActionRoleUpdate, TargetID: "222", ExecutorID: "777", OccurredAt: opened, EntryID: "1001"},
		},
	}}
	claims := audit.NewMemoryClaims(time.Minute)
	c := correlate.New(trail, claims, testConfig())

	var wg sync.WaitGroup
	results := make([]correlate.Resolution, 2)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.Resolve(context.Background(), roleUpdateRequest(opened, 200*time.Millisecond))
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	actors := 0
	for _, res := range results {
		if !res.Actor.IsUnknown() {
			actors++
			assert.Equal(t, domain.Identity("777"), res.Actor)
		}
	}
	// Exactly one request wins the entry; the other expires to Unknown.
	assert.Equal(t, 1, actors)
}

func TestResolveNoMatchExpiresWithinDeadline(t *testing.T) {
	t.Parallel()

	opened := time.Now()
	trail := &fakeTrail{entries: map[domain.ActionKind][]domain.AuditEntry{}}
	claims := audit.NewMemoryClaims(time.Minute)
	c := correlate.New(trail, claims, testConfig())

	window := 300 * time.Millisecond
	start := time.Now()
	res, err := c.Resolve(context.Background(), roleUpdateRequest(opened, window))
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.True(t, res.Actor.IsUnknown())
	assert.Less(t, elapsed, window+100*time.Millisecond, "must resolve by the deadline, not later")
	assert.GreaterOrEqual(t, trail.fetchCount(), 1)
}

func TestResolveAdapterFailureDegradesToUnknown(t *testing.T) {
	t.Parallel()

	opened := time.Now()
	trail := &fakeTrail{err: errors.New("trail unreachable")}
	claims := audit.NewMemoryClaims(time.Minute)
	c := correlate.New(trail, claims, testConfig())

	res, err := c.Resolve(context.Background(), roleUpdateRequest(opened, 150*time.Millisecond))
	require.NoError(t, err)
	assert.True(t, res.Actor.IsUnknown())
}

func TestResolveWindowFilter(t *testing.T) {
	t.Parallel()

	opened := time.Now()
	trail := &fakeTrail{entries: map[domain.ActionKind][]domain.AuditEntry{
		domain.ActionRoleUpdate: {
			// Too old: predates openedAt by more than epsilon.
			{ActionKind: domain.ActionRoleUpdate, TargetID: "222", ExecutorID: "111", OccurredAt: opened.Add(-time.Second), EntryID: "900"},
			// Wrong target.
			{ActionKind: domain.ActionRoleUpdate, TargetID: "555", ExecutorID: "222", OccurredAt: opened, EntryID: "901"},
		},
	}}
	claims := audit.NewMemoryClaims(time.Minute)
	c := correlate.New(trail, claims, testConfig())

	res, err := c.Resolve(context.Background(), roleUpdateRequest(opened, 150*time.Millisecond))
	require.NoError(t, err)
	assert.True(t, res.Actor.IsUnknown())
}

func TestResolveTieBreak(t *testing.T) {
	t.Parallel()

	opened := time.Now()

	t.Run("closest occurredAt wins", func(t *testing.T) {
		t.Parallel()

		trail := &fakeTrail{entries: map[domain.ActionKind][]domain.AuditEntry{
			domain.ActionRoleUpdate: {
				{ActionKind: domain.ActionRoleUpdate, TargetID: "222", ExecutorID: "far", OccurredAt: opened.Add(400 * time.Millisecond), EntryID: "1002"},
				{ActionKind: domain.ActionRoleUpdate, TargetID: "222", ExecutorID: "near", OccurredAt: opened.Add(10 * time.Millisecond), EntryID: "1001"},
			},
		}}
		c := correlate.New(trail, audit.NewMemoryClaims(time.Minute), testConfig())

		res, err := c.Resolve(context.Background(), roleUpdateRequest(opened, time.Second))
		require.NoError(t, err)
		assert.Equal(t, domain.Identity("near"), res.Actor)
	})

	t.Run("exact tie goes to larger entry id", func(t *testing.T) {
		t.Parallel()

		at := opened.Add(10 * time.Millisecond)
		trail := &fakeTrail{entries: map[domain.ActionKind][]domain.AuditEntry{
			domain.ActionRoleUpdate: {
				{ActionKind: domain.ActionRoleUpdate, TargetID: "222", ExecutorID: "older", OccurredAt: at, EntryID: "999"},
				{ActionKind: domain.ActionRoleUpdate, TargetID: "222", ExecutorID: "newer", OccurredAt: at, EntryID: "1000"},
			},
		}}
		c := correlate.New(trail, audit.NewMemoryClaims(time.Minute), testConfig())

		res, err := c.Resolve(context.Background(), roleUpdateRequest(opened, time.Second))
		require.NoError(t, err)
		assert.Equal(t, domain.Identity("newer"), res.Actor)
	})
}

func TestResolveClaimRaceFallsToNextCandidate(t *testing.T) {
	t.Parallel()

	opened := time.Now()
	at := opened.Add(10 * time.Millisecond)
	trail := &fakeTrail{entries: map[domain.ActionKind][]domain.AuditEntry{
		domain.ActionRoleUpdate: {
			{ActionKind: domain.ActionRoleUpdate, TargetID: "222", ExecutorID: "first", OccurredAt: at, EntryID: "1002"},
			{ActionKind: domain.ActionRoleUpdate, TargetID: "222", ExecutorID: "second", OccurredAt: at, EntryID: "1001"},
		},
	}}
	claims := audit.NewMemoryClaims(time.Minute)

	// Pre-claim the top-ranked entry, as a concurrent request would have.
	ok, err := claims.Claim(context.Background(), "1002")
	require.NoError(t, err)
	require.True(t, ok)

	c := correlate.New(trail, claims, testConfig())
	res, err := c.Resolve(context.Background(), roleUpdateRequest(opened, time.Second))
	require.NoError(t, err)
	assert.Equal(t, domain.Identity("second"), res.Actor)
}

func TestResolveInvalidWindow(t *testing.T) {
	t.Parallel()

	opened := time.Now()
	req := roleUpdateRequest(opened, 0)

	c := correlate.New(&fakeTrail{}, audit.NewMemoryClaims(time.Minute), testConfig())
	_, err := c.Resolve(context.Background(), req)
	require.ErrorIs(t, err, correlate.ErrWindowInvalid)
}

func TestActionsFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  *domain.CorrelationRequest
		want []domain.ActionKind
	}{
		{
			name: "member role diff maps to role update action",
			req: &domain.CorrelationRequest{Kind: domain.KindMember, Diff: []domain.ChangeRecord{
				{Field: "roles+", After: domain.NewStringSet("mod")},
			}},
			want: []domain.ActionKind{domain.ActionMemberRoleUpdate},
		},
		{
			name: "member nickname diff maps to member update",
			req: &domain.CorrelationRequest{Kind: domain.KindMember, Diff: []domain.ChangeRecord{
				{Field: "nickname", Before: "a", After: "b"},
			}},
			want: []domain.ActionKind{domain.ActionMemberUpdate},
		},
		{
			name: "role creation",
			req:  &domain.CorrelationRequest{Kind: domain.KindRole, Created: true},
			want: []domain.ActionKind{domain.ActionRoleCreate},
		},
		{
			name: "role deletion",
			req:  &domain.CorrelationRequest{Kind: domain.KindRole, Deleted: true},
			want: []domain.ActionKind{domain.ActionRoleDelete},
		},
		{
			name: "voice disconnect when channel cleared",
			req: &domain.CorrelationRequest{Kind: domain.KindVoiceState, Diff: []domain.ChangeRecord{
				{Field: "channel_id", Before: "10", After: nil},
			}},
			want: []domain.ActionKind{domain.ActionMemberDisconnect},
		},
		{
			name: "voice move when channel changed",
			req: &domain.CorrelationRequest{Kind: domain.KindVoiceState, Diff: []domain.ChangeRecord{
				{Field: "channel_id", Before: "10", After: "11"},
			}},
			want: []domain.ActionKind{domain.ActionMemberMove},
		},
		{
			name: "message edit is unattributable",
			req: &domain.CorrelationRequest{Kind: domain.KindMessage, Diff: []domain.ChangeRecord{
				{Field: "content", Before: "a", After: "b"},
			}},
			want: nil,
		},
		{
			name: "message deletion",
			req:  &domain.CorrelationRequest{Kind: domain.KindMessage, Deleted: true},
			want: []domain.ActionKind{domain.ActionMessageDelete},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, correlate.ActionsFor(tc.req))
		})
	}
}
