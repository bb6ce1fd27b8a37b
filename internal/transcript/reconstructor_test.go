package transcript

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickerdesk/tickerdesk/internal/registry"
)

// newTestReconstructor uses an hour-long flush interval so state only
// moves on explicit flushes and terminal events, keeping tests
// deterministic.
func newTestReconstructor(t *testing.T) *Reconstructor {
	t.Helper()
	r := NewReconstructor("sess-1", time.Hour, nil, nil, newTestLogger(t))
	t.Cleanup(r.Close)
	return r
}

func TestReconstructorEndToEndTurn(t *testing.T) {
	r := newTestReconstructor(t)
	r.BeginTurn("turn-1")

	events := []map[string]interface{}{
		{"type": "text-chunk", "text": "Scanning the market. "},
		{"type": "reasoning-signal", "signal": "start", "block_id": "b1"},
		{"type": "reasoning-chunk", "block_id": "b1", "text": "volume spike on NVDA"},
		{"type": "reasoning-signal", "signal": "complete", "block_id": "b1"},
		{"type": "tool-calls", "calls": []interface{}{
			map[string]interface{}{"id": "call-1", "name": "spawn_agent", "args": map[string]interface{}{"goal": "earnings digest"}},
		}},
		{"type": "subagent-status", "active": []interface{}{
			map[string]interface{}{"id": "Task-1", "agent_id": "research:abc", "description": "earnings digest", "status": "active"},
		}},
		{"type": "tool-call-result", "id": "call-1", "content": "agent launched", "status": "completed"},
		{"type": "text-chunk", "text": "Dispatched a research agent."},
		{"type": "complete"},
	}
	for _, ev := range events {
		r.HandleRaw(ev, false)
	}

	snap := r.Snapshot()
	require.Len(t, snap.Turns, 1)
	turn := snap.Turns[0]
	assert.False(t, turn.Streaming)
	assert.False(t, turn.Failed)

	// text, reasoning, tool call, text: arrival order preserved.
	require.Len(t, turn.Segments, 4)
	assert.Equal(t, SegmentText, turn.Segments[0].Kind)
	assert.Equal(t, SegmentReasoning, turn.Segments[1].Kind)
	assert.Equal(t, SegmentToolCall, turn.Segments[2].Kind)
	assert.Equal(t, SegmentText, turn.Segments[3].Kind)
	assert.Equal(t, "volume spike on NVDA", turn.Blocks["b1"].Content)
	assert.True(t, turn.Calls["call-1"].Complete)

	// The spawn call was matched FIFO to the announced subagent.
	res := r.Resolver().ResolveToolCall("call-1")
	assert.Equal(t, "research:abc", res.AgentID)

	// Turn completion retired and minimized the card.
	card, ok := snap.Cards["research:abc"]
	require.True(t, ok)
	assert.False(t, card.Task.IsActive)
	assert.Equal(t, registry.StatusCompleted, card.Task.Status)
	assert.True(t, card.Presentation.Minimized)
}

func TestReconstructorAnnouncedCallSortsAfterStreamedContent(t *testing.T) {
	r := newTestReconstructor(t)
	r.BeginTurn("turn-1")

	// The spawn call is announced up front but the agent works while
	// reasoning and text stream; the call segment must render after them.
	events := []map[string]interface{}{
		{"type": "tool-calls", "calls": []interface{}{
			map[string]interface{}{"id": "tc1", "name": "spawn_agent"},
		}},
		{"type": "subagent-status", "active": []interface{}{
			map[string]interface{}{"id": "Task-1", "agent_id": "research:abc", "status": "active"},
		}},
		{"type": "reasoning-signal", "signal": "start", "block_id": "b1"},
		{"type": "reasoning-chunk", "block_id": "b1", "text": "while the agent works"},
		{"type": "reasoning-signal", "signal": "complete", "block_id": "b1"},
		{"type": "text-chunk", "text": "The research agent "},
		{"type": "text-chunk", "text": "is running."},
		{"type": "tool-call-result", "id": "tc1", "content": "agent finished", "status": "completed"},
	}
	for _, ev := range events {
		r.HandleRaw(ev, false)
	}
	r.Flush()

	snap := r.Snapshot()
	require.Len(t, snap.Turns, 1)
	segs := snap.Turns[0].Segments
	require.Len(t, segs, 3)
	assert.Equal(t, SegmentReasoning, segs[0].Kind)
	assert.Equal(t, SegmentText, segs[1].Kind)
	assert.Equal(t, SegmentToolCall, segs[2].Kind)
	assert.Equal(t, "The research agent is running.", segs[1].Text)
	assert.True(t, snap.Turns[0].Calls["tc1"].Complete)
}

func TestReconstructorBatchingDelaysVisibility(t *testing.T) {
	r := newTestReconstructor(t)
	r.BeginTurn("turn-1")

	r.HandleRaw(map[string]interface{}{"type": "text-chunk", "text": "queued"}, false)

	// Not yet applied: the batch window is still open.
	snap := r.Snapshot()
	require.Len(t, snap.Turns, 1)
	assert.Empty(t, snap.Turns[0].Segments)

	r.Flush()
	snap = r.Snapshot()
	assert.Equal(t, "queued", snap.Turns[0].Segments[0].Text)
}

func TestReconstructorEmitsOncePerBatch(t *testing.T) {
	emits := 0
	r := NewReconstructor("sess-1", time.Hour, nil, func(Snapshot) { emits++ }, newTestLogger(t))
	t.Cleanup(r.Close)
	r.BeginTurn("turn-1")

	for i := 0; i < 10; i++ {
		r.HandleRaw(map[string]interface{}{"type": "text-chunk", "text": "x"}, false)
	}
	r.Flush()

	assert.Equal(t, 1, emits)
}

func TestReconstructorDeliveryIDDedup(t *testing.T) {
	r := newTestReconstructor(t)
	r.BeginTurn("turn-1")

	r.HandleRaw(map[string]interface{}{"type": "text-chunk", "text": "a", "delivery_id": float64(1)}, false)
	r.HandleRaw(map[string]interface{}{"type": "text-chunk", "text": "b", "delivery_id": float64(2)}, false)
	// Reconnect replays the same deliveries.
	r.HandleRaw(map[string]interface{}{"type": "text-chunk", "text": "a", "delivery_id": float64(1)}, false)
	r.HandleRaw(map[string]interface{}{"type": "text-chunk", "text": "b", "delivery_id": float64(2)}, false)
	r.HandleRaw(map[string]interface{}{"type": "text-chunk", "text": "c", "delivery_id": float64(3)}, false)
	r.Flush()

	snap := r.Snapshot()
	require.Len(t, snap.Turns[0].Segments, 1)
	assert.Equal(t, "abc", snap.Turns[0].Segments[0].Text)
}

func TestReconstructorHistoryReplayBypassesDedup(t *testing.T) {
	r := newTestReconstructor(t)
	r.BeginTurn("turn-1")

	r.HandleRaw(map[string]interface{}{"type": "text-chunk", "text": "a", "delivery_id": float64(5)}, true)
	r.HandleRaw(map[string]interface{}{"type": "text-chunk", "text": "b", "delivery_id": float64(5)}, true)
	r.Flush()

	snap := r.Snapshot()
	assert.Equal(t, "ab", snap.Turns[0].Segments[0].Text)
}

func TestReconstructorCancelRetainsPartialContent(t *testing.T) {
	r := newTestReconstructor(t)
	r.BeginTurn("turn-1")

	r.HandleRaw(map[string]interface{}{"type": "text-chunk", "text": "partial ans"}, false)
	require.NoError(t, r.Cancel())

	snap := r.Snapshot()
	require.Len(t, snap.Turns, 1)
	assert.False(t, snap.Turns[0].Streaming)
	assert.Equal(t, "partial ans", snap.Turns[0].Segments[0].Text)
	assert.False(t, snap.Turns[0].Segments[0].Streaming)
}

func TestReconstructorCancelEmptyTurn(t *testing.T) {
	r := newTestReconstructor(t)
	r.BeginTurn("turn-1")

	err := r.Cancel()
	assert.ErrorIs(t, err, ErrEmptyStream)

	snap := r.Snapshot()
	assert.Empty(t, snap.Turns, "empty aborted turn is discarded")
	assert.NotEmpty(t, snap.Err)
}

func TestReconstructorRateLimitDiscardsEmptyTurn(t *testing.T) {
	r := newTestReconstructor(t)
	r.BeginTurn("turn-1")

	r.HandleRaw(map[string]interface{}{"type": "error", "code": "rate_limited", "message": "quota exceeded"}, false)

	assert.ErrorIs(t, r.Err(), ErrRateLimited)
	assert.Empty(t, r.Snapshot().Turns)
}

func TestReconstructorErrorRetainsContent(t *testing.T) {
	r := newTestReconstructor(t)
	r.BeginTurn("turn-1")

	r.HandleRaw(map[string]interface{}{"type": "text-chunk", "text": "got this far"}, false)
	r.HandleRaw(map[string]interface{}{"type": "error", "code": "upstream", "message": "connection reset"}, false)

	snap := r.Snapshot()
	require.Len(t, snap.Turns, 1)
	assert.True(t, snap.Turns[0].Failed)
	assert.Equal(t, "connection reset", snap.Turns[0].ErrorMessage)
	assert.Equal(t, "got this far", snap.Turns[0].Segments[0].Text)
}

func TestReconstructorMalformedEventSkipped(t *testing.T) {
	r := newTestReconstructor(t)
	r.BeginTurn("turn-1")

	r.HandleRaw(map[string]interface{}{"bogus": true}, false)
	r.HandleRaw(map[string]interface{}{"type": "text-chunk", "text": "still alive"}, false)
	r.Flush()

	snap := r.Snapshot()
	assert.Equal(t, "still alive", snap.Turns[0].Segments[0].Text)
}

func TestReconstructorNewTurnFinalizesPrevious(t *testing.T) {
	r := newTestReconstructor(t)
	r.BeginTurn("turn-1")
	r.HandleRaw(map[string]interface{}{"type": "text-chunk", "text": "first"}, false)
	r.BeginTurn("turn-2")
	r.HandleRaw(map[string]interface{}{"type": "text-chunk", "text": "second"}, false)
	r.Flush()

	snap := r.Snapshot()
	require.Len(t, snap.Turns, 2)
	assert.False(t, snap.Turns[0].Streaming)
	assert.Equal(t, "first", snap.Turns[0].Segments[0].Text)
	assert.True(t, snap.Turns[1].Streaming)
	assert.Equal(t, "second", snap.Turns[1].Segments[0].Text)
}

func TestReconstructorHistoryStatusNeverActivatesCards(t *testing.T) {
	r := newTestReconstructor(t)
	r.BeginTurn("turn-1")

	r.HandleRaw(map[string]interface{}{"type": "subagent-status", "active": []interface{}{
		map[string]interface{}{"id": "Task-1", "agent_id": "research:abc", "status": "active"},
	}}, true)
	r.Flush()

	card, ok := r.Registry().Get("research:abc")
	require.True(t, ok)
	assert.False(t, card.Task.IsActive)
}

func TestReconstructorCompletedDisplayIDResolution(t *testing.T) {
	r := newTestReconstructor(t)
	r.BeginTurn("turn-1")

	r.HandleRaw(map[string]interface{}{"type": "subagent-status", "active": []interface{}{
		map[string]interface{}{"id": "Task-1", "agent_id": "research:abc", "status": "active"},
	}}, false)
	r.HandleRaw(map[string]interface{}{"type": "subagent-status",
		"completed": []interface{}{"Task-1"},
	}, false)
	r.Flush()

	card, ok := r.Registry().Get("research:abc")
	require.True(t, ok)
	assert.Equal(t, registry.StatusCompleted, card.Task.Status)
	assert.False(t, card.Task.IsActive)
}
