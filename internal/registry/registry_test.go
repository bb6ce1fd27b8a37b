package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickerdesk/tickerdesk/internal/common/logger"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)
	return NewRegistry(log)
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }
func intPtr(n int) *int       { return &n }

func TestUpsertCreatesCard(t *testing.T) {
	r := newTestRegistry(t)

	r.Upsert("research:abc", TaskUpdate{
		DisplayID:   strPtr("Task-1"),
		Description: strPtr("earnings digest"),
		IsActive:    boolPtr(true),
		Status:      strPtr(StatusActive),
	})

	card, ok := r.Get("research:abc")
	require.True(t, ok)
	assert.Equal(t, "Task-1", card.Task.DisplayID)
	assert.Equal(t, StatusActive, card.Task.Status)
	assert.True(t, card.Task.IsActive)
	assert.Greater(t, card.Presentation.ZIndex, 0)
}

func TestUpsertPreservesCompletedStatus(t *testing.T) {
	r := newTestRegistry(t)

	r.Upsert("research:abc", TaskUpdate{IsActive: boolPtr(true), Status: strPtr(StatusCompleted)})

	// A straggler update without an explicit status must not revive it.
	r.Upsert("research:abc", TaskUpdate{ToolCallCount: intPtr(4)})

	card, _ := r.Get("research:abc")
	assert.Equal(t, StatusCompleted, card.Task.Status)
	assert.Equal(t, 4, card.Task.ToolCallCount)
}

func TestUpsertCurrentToolClearVersusPreserve(t *testing.T) {
	r := newTestRegistry(t)

	r.Upsert("research:abc", TaskUpdate{IsActive: boolPtr(true), CurrentTool: strPtr("fetch_quote")})

	// Absent field: preserve.
	r.Upsert("research:abc", TaskUpdate{ToolCallCount: intPtr(1)})
	card, _ := r.Get("research:abc")
	assert.Equal(t, "fetch_quote", card.Task.CurrentTool)

	// Empty string: clear.
	r.Upsert("research:abc", TaskUpdate{CurrentTool: strPtr("")})
	card, _ = r.Get("research:abc")
	assert.Equal(t, "", card.Task.CurrentTool)
}

func TestUpsertFromHistoryForcesInactive(t *testing.T) {
	r := newTestRegistry(t)

	r.Upsert("research:abc", TaskUpdate{IsActive: boolPtr(true), FromHistory: true})

	card, ok := r.Get("research:abc")
	require.True(t, ok, "history may create cards")
	assert.False(t, card.Task.IsActive)
}

func TestUpsertSuppressesPhantomCompletedCards(t *testing.T) {
	r := newTestRegistry(t)

	// First live sighting already says finished: no card.
	r.Upsert("research:gone", TaskUpdate{IsActive: boolPtr(false), Status: strPtr(StatusCompleted)})
	_, ok := r.Get("research:gone")
	assert.False(t, ok)

	// The same update from history does create one.
	r.Upsert("research:hist", TaskUpdate{IsActive: boolPtr(false), Status: strPtr(StatusCompleted), FromHistory: true})
	_, ok = r.Get("research:hist")
	assert.True(t, ok)
}

func TestUpsertKeepsPositionPointer(t *testing.T) {
	r := newTestRegistry(t)

	r.Upsert("research:abc", TaskUpdate{IsActive: boolPtr(true)})
	r.SetPosition("research:abc", Position{X: 100, Y: 50})

	before, _ := r.Get("research:abc")
	r.Upsert("research:abc", TaskUpdate{ToolCallCount: intPtr(2), CurrentTool: strPtr("screen_stocks")})
	after, _ := r.Get("research:abc")

	// Data merges never replace the position pointer; only SetPosition does.
	assert.Same(t, before.Presentation.Position, after.Presentation.Position)

	r.SetPosition("research:abc", Position{X: 10, Y: 10})
	moved, _ := r.Get("research:abc")
	assert.NotSame(t, before.Presentation.Position, moved.Presentation.Position)
}

func TestUnreadFlagOnlyWhileMinimizedAndActive(t *testing.T) {
	r := newTestRegistry(t)

	r.Upsert("research:abc", TaskUpdate{IsActive: boolPtr(true)})
	card, _ := r.Get("research:abc")
	assert.False(t, card.Presentation.HasUnreadUpdate, "open card has no unread flag")

	r.Toggle("research:abc") // minimize while still active
	card, _ = r.Get("research:abc")
	assert.True(t, card.Presentation.HasUnreadUpdate)

	r.Upsert("research:abc", TaskUpdate{ToolCallCount: intPtr(5)})
	card, _ = r.Get("research:abc")
	assert.True(t, card.Presentation.HasUnreadUpdate)

	r.Toggle("research:abc") // restore clears it
	card, _ = r.Get("research:abc")
	assert.False(t, card.Presentation.HasUnreadUpdate)
}

func TestInactivateAllCompletesLiveTasks(t *testing.T) {
	r := newTestRegistry(t)

	r.Upsert("research:a", TaskUpdate{IsActive: boolPtr(true), Status: strPtr(StatusActive), CurrentTool: strPtr("fetch_quote")})
	r.Upsert("research:b", TaskUpdate{IsActive: boolPtr(true), Status: strPtr(StatusActive)})

	r.InactivateAll()

	for _, id := range []string{"research:a", "research:b"} {
		card, _ := r.Get(id)
		assert.False(t, card.Task.IsActive)
		assert.Equal(t, StatusCompleted, card.Task.Status)
		assert.Equal(t, "", card.Task.CurrentTool)
	}
}

func TestMinimizeOrderNeverRestarts(t *testing.T) {
	r := newTestRegistry(t)

	for _, id := range []string{"a", "b", "c"} {
		r.Upsert(id, TaskUpdate{IsActive: boolPtr(true)})
	}
	r.InactivateAll()
	r.MinimizeInactive()

	cardA, _ := r.Get("a")
	cardB, _ := r.Get("b")
	cardC, _ := r.Get("c")
	assert.ElementsMatch(t,
		[]int{1, 2, 3},
		[]int{cardA.Presentation.MinimizeOrder, cardB.Presentation.MinimizeOrder, cardC.Presentation.MinimizeOrder})

	// Restore b, then minimize it again: it sorts after a and c.
	r.Toggle("b")
	r.Toggle("b")
	cardA, _ = r.Get("a")
	cardB, _ = r.Get("b")
	cardC, _ = r.Get("c")
	assert.Greater(t, cardB.Presentation.MinimizeOrder, cardA.Presentation.MinimizeOrder)
	assert.Greater(t, cardB.Presentation.MinimizeOrder, cardC.Presentation.MinimizeOrder)
}

func TestBringToFrontRaisesZOrder(t *testing.T) {
	r := newTestRegistry(t)

	r.Upsert("a", TaskUpdate{IsActive: boolPtr(true)})
	r.Upsert("b", TaskUpdate{IsActive: boolPtr(true)})

	cardA, _ := r.Get("a")
	cardB, _ := r.Get("b")
	assert.Greater(t, cardB.Presentation.ZIndex, cardA.Presentation.ZIndex)

	r.BringToFront("a")
	cardA, _ = r.Get("a")
	cardB, _ = r.Get("b")
	assert.Greater(t, cardA.Presentation.ZIndex, cardB.Presentation.ZIndex)
}

func TestOpenCreatesHistoricalCard(t *testing.T) {
	r := newTestRegistry(t)

	// Explicit open of a task never seen live.
	r.Open("research:old")

	card, ok := r.Get("research:old")
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, card.Task.Status)
	assert.False(t, card.Task.IsActive)
	assert.False(t, card.Presentation.Minimized)
}

func TestSnapshotIsolation(t *testing.T) {
	r := newTestRegistry(t)

	r.Upsert("a", TaskUpdate{IsActive: boolPtr(true), Message: strPtr("first")})
	snap := r.Snapshot()
	require.Contains(t, snap, "a")

	r.Upsert("a", TaskUpdate{Message: strPtr("second")})
	assert.Len(t, snap["a"].Task.Messages, 1, "snapshot is a copy")
}
