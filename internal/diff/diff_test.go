package diff_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildwatch/guildwatch/internal/diff"
	"github.com/guildwatch/guildwatch/internal/domain"
)

func roleSnap(fields map[string]domain.Value) *domain.EntitySnapshot {
	return &domain.EntitySnapshot{
		Kind:       domain.KindRole,
		ID:         "222",
		GuildID:    "999",
		Fields:     fields,
		CapturedAt: time.Now(),
	}
}

func TestComputeIdenticalSnapshots(t *testing.T) {
	t.Parallel()

	a := roleSnap(map[string]domain.Value{
		"name":        "Mods",
		"color":       int64(0xff0000),
		"permissions": domain.NewStringSet("kick_members", "ban_members"),
	})
	b := roleSnap(map[string]domain.Value{
		"name":        "Mods",
		"color":       int64(0xff0000),
		"permissions": domain.NewStringSet("ban_members", "kick_members"),
	})

	records, err := diff.Compute(a, b)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestComputeSingleScalarChange(t *testing.T) {
	t.Parallel()

	before := roleSnap(map[string]domain.Value{"name": "Mods", "color": int64(1)})
	after := roleSnap(map[string]domain.Value{"name": "Mods", "color": int64(2)})

	records, err := diff.Compute(before, after)
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, "color", records[0].Field)
	assert.Equal(t, int64(1), records[0].Before)
	assert.Equal(t, int64(2), records[0].After)
}

func TestComputePermissionSetDelta(t *testing.T) {
	t.Parallel()

	before := roleSnap(map[string]domain.Value{"permissions": domain.NewStringSet("A", "B")})
	after := roleSnap(map[string]domain.Value{"permissions": domain.NewStringSet("A", "C")})

	records, err := diff.Compute(before, after)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "permissions+", records[0].Field)
	assert.Equal(t, domain.NewStringSet("C"), records[0].After)
	assert.Nil(t, records[0].Before)

	assert.Equal(t, "permissions-", records[1].Field)
	assert.Equal(t, domain.NewStringSet("B"), records[1].Before)
	assert.Nil(t, records[1].After)
}

func TestComputeCreationAndDeletion(t *testing.T) {
	t.Parallel()

	snap := roleSnap(map[string]domain.Value{
		"name":        "Mods",
		"permissions": domain.NewStringSet("kick_members"),
	})

	t.Run("creation has absent before", func(t *testing.T) {
		t.Parallel()

		records, err := diff.Compute(nil, snap)
		require.NoError(t, err)
		require.Len(t, records, 2)

		assert.Equal(t, "name", records[0].Field)
		assert.Nil(t, records[0].Before)
		assert.Equal(t, "Mods", records[0].After)

		assert.Equal(t, "permissions+", records[1].Field)
		assert.Equal(t, domain.NewStringSet("kick_members"), records[1].After)
	})

	t.Run("deletion has absent after", func(t *testing.T) {
		t.Parallel()

		records, err := diff.Compute(snap, nil)
		require.NoError(t, err)
		require.Len(t, records, 2)

		assert.Equal(t, "name", records[0].Field)
		assert.Equal(t, "Mods", records[0].Before)
		assert.Nil(t, records[0].After)

		assert.Equal(t, "permissions-", records[1].Field)
		assert.Equal(t, domain.NewStringSet("kick_members"), records[1].Before)
	})
}

func TestComputeFieldOrderIsStable(t *testing.T) {
	t.Parallel()

	before := roleSnap(map[string]domain.Value{
		"position": int64(1),
		"name":     "a",
		"color":    int64(1),
	})
	after := roleSnap(map[string]domain.Value{
		"position": int64(2),
		"name":     "b",
		"color":    int64(2),
	})

	for range 10 {
		records, err := diff.Compute(before, after)
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, "name", records[0].Field)
		assert.Equal(t, "color", records[1].Field)
		assert.Equal(t, "position", records[2].Field)
	}
}

func TestComputeIdempotent(t *testing.T) {
	t.Parallel()

	before := roleSnap(map[string]domain.Value{"permissions": domain.NewStringSet("A", "B")})
	after := roleSnap(map[string]domain.Value{"permissions": domain.NewStringSet("A", "C")})

	first, err := diff.Compute(before, after)
	require.NoError(t, err)
	second, err := diff.Compute(before, after)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, domain.CanonicalDiff(first), domain.CanonicalDiff(second))
}

func TestComputeMismatch(t *testing.T) {
	t.Parallel()

	t.Run("identity mismatch", func(t *testing.T) {
		t.Parallel()

		a := roleSnap(nil)
		b := roleSnap(nil)
		b.ID = "333"

		_, err := diff.Compute(a, b)
		require.ErrorIs(t, err, domain.ErrSnapshotMismatch)
	})

	t.Run("kind mismatch", func(t *testing.T) {
		t.Parallel()

		a := roleSnap(nil)
		b := roleSnap(nil)
		b.Kind = domain.KindChannel

		_, err := diff.Compute(a, b)
		require.ErrorIs(t, err, domain.ErrSnapshotMismatch)
	})

	t.Run("both nil", func(t *testing.T) {
		t.Parallel()

		_, err := diff.Compute(nil, nil)
		require.ErrorIs(t, err, domain.ErrEmptySnapshot)
	})
}

func TestComputeAbsentVersusZero(t *testing.T) {
	t.Parallel()

	// A field absent on one side and present with a zero value on the other
	// is still a change.
	before := roleSnap(map[string]domain.Value{})
	after := roleSnap(map[string]domain.Value{"color": int64(0)})

	records, err := diff.Compute(before, after)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Nil(t, records[0].Before)
	assert.Equal(t, int64(0), records[0].After)
}
