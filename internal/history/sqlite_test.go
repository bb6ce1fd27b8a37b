package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickerdesk/tickerdesk/internal/common/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)
	return log
}

func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNormalizeSQLitePathExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t,
		filepath.Join(home, ".tickerdesk", "history.db"),
		normalizeSQLitePath("~/.tickerdesk/history.db"))

	// Paths without a tilde prefix are only made absolute.
	abs, err := filepath.Abs("history.db")
	require.NoError(t, err)
	assert.Equal(t, abs, normalizeSQLitePath("history.db"))
}

func TestSQLiteStoreAppendAndList(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	seq1, err := store.Append(ctx, "sess-1", "turn-1", map[string]interface{}{"type": "text-chunk", "text": "a"})
	require.NoError(t, err)
	seq2, err := store.Append(ctx, "sess-1", "turn-1", map[string]interface{}{"type": "text-chunk", "text": "b"})
	require.NoError(t, err)
	assert.Greater(t, seq2, seq1)

	_, err = store.Append(ctx, "sess-2", "turn-9", map[string]interface{}{"type": "complete"})
	require.NoError(t, err)

	events, err := store.List(ctx, "sess-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "turn-1", events[0].TurnID)
	assert.Equal(t, "a", events[0].Payload["text"])
	assert.Equal(t, "b", events[1].Payload["text"])
}

func TestSQLiteStoreListAfterSeq(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Append(ctx, "sess-1", "turn-1", map[string]interface{}{"type": "text-chunk", "text": "old"})
	require.NoError(t, err)
	cursor, err := store.Append(ctx, "sess-1", "turn-1", map[string]interface{}{"type": "text-chunk", "text": "cursor"})
	require.NoError(t, err)
	_, err = store.Append(ctx, "sess-1", "turn-1", map[string]interface{}{"type": "text-chunk", "text": "new"})
	require.NoError(t, err)

	events, err := store.List(ctx, "sess-1", cursor)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "new", events[0].Payload["text"])
}

func TestSQLiteStoreSessions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Append(ctx, "sess-b", "t", map[string]interface{}{"type": "complete"})
	require.NoError(t, err)
	_, err = store.Append(ctx, "sess-a", "t", map[string]interface{}{"type": "complete"})
	require.NoError(t, err)
	_, err = store.Append(ctx, "sess-a", "t", map[string]interface{}{"type": "complete"})
	require.NoError(t, err)

	ids, err := store.Sessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"sess-a", "sess-b"}, ids)
}
