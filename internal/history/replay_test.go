package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickerdesk/tickerdesk/internal/transcript"
)

func TestReplayRebuildsTranscript(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	log := newTestLogger(t)

	events := []map[string]interface{}{
		{"type": "text-chunk", "text": "Portfolio summary: "},
		{"type": "tool-calls", "calls": []interface{}{
			map[string]interface{}{"id": "c1", "name": "list_positions"},
		}},
		{"type": "tool-call-result", "id": "c1", "content": "3 open positions", "status": "completed"},
		{"type": "text-chunk", "text": "three open positions."},
		{"type": "complete"},
	}
	for _, ev := range events {
		_, err := store.Append(ctx, "sess-1", "turn-1", ev)
		require.NoError(t, err)
	}

	rec := transcript.NewReconstructor("sess-1", time.Hour, nil, nil, log)
	defer rec.Close()

	lastSeq, err := NewReplayer(store, log).Replay(ctx, "sess-1", 0, rec)
	require.NoError(t, err)
	assert.Equal(t, int64(len(events)), lastSeq)

	snap := rec.Snapshot()
	require.Len(t, snap.Turns, 1)
	turn := snap.Turns[0]
	assert.False(t, turn.Streaming)
	require.Len(t, turn.Segments, 3)
	assert.Equal(t, "Portfolio summary: ", turn.Segments[0].Text)
	assert.True(t, turn.Calls["c1"].Complete)
	assert.Equal(t, "three open positions.", turn.Segments[2].Text)
}

func TestReplaySplitsTurnsOnTurnIDChange(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	log := newTestLogger(t)

	_, err := store.Append(ctx, "sess-1", "turn-1", map[string]interface{}{"type": "text-chunk", "text": "one"})
	require.NoError(t, err)
	_, err = store.Append(ctx, "sess-1", "turn-2", map[string]interface{}{"type": "text-chunk", "text": "two"})
	require.NoError(t, err)

	rec := transcript.NewReconstructor("sess-1", time.Hour, nil, nil, log)
	defer rec.Close()

	_, err = NewReplayer(store, log).Replay(ctx, "sess-1", 0, rec)
	require.NoError(t, err)
	rec.Flush()

	snap := rec.Snapshot()
	require.Len(t, snap.Turns, 2)
	assert.Equal(t, "turn-1", snap.Turns[0].ID)
	assert.Equal(t, "turn-2", snap.Turns[1].ID)
}

func TestReplayEmptySessionReturnsCursorUnchanged(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	log := newTestLogger(t)

	rec := transcript.NewReconstructor("sess-1", time.Hour, nil, nil, log)
	defer rec.Close()

	lastSeq, err := NewReplayer(store, log).Replay(ctx, "sess-1", 42, rec)
	require.NoError(t, err)
	assert.Equal(t, int64(42), lastSeq)
	assert.Empty(t, rec.Snapshot().Turns)
}

func TestFixtureLoadAndSeed(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	scenario := `
session_id: sess-demo
turns:
  - turn_id: turn-1
    events:
      - type: text-chunk
        text: "Hello"
      - type: complete
`
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(scenario), 0o644))

	fixture, err := LoadFixture(path)
	require.NoError(t, err)
	assert.Equal(t, "sess-demo", fixture.SessionID)
	require.Len(t, fixture.Turns, 1)

	require.NoError(t, fixture.Seed(ctx, store))

	events, err := store.List(ctx, "sess-demo", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Hello", events[0].Payload["text"])
	assert.Equal(t, "complete", events[1].Payload["type"])
}

func TestFixtureRequiresSessionID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("turns: []\n"), 0o644))

	_, err := LoadFixture(path)
	assert.Error(t, err)
}
