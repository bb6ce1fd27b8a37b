package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

type sqliteStore struct {
	db *sqlx.DB // writer
	ro *sqlx.DB // reader
}

var _ Store = (*sqliteStore)(nil)

// NewSQLiteStore opens (or creates) the event log at dbPath using separate
// writer and reader pools.
func NewSQLiteStore(dbPath string) (*sqliteStore, error) {
	writer, err := openSQLiteWriter(dbPath)
	if err != nil {
		return nil, err
	}
	store := &sqliteStore{db: writer}
	if err := store.initSchema(); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("history schema init: %w", err)
	}

	reader, err := openSQLiteReader(dbPath)
	if err != nil {
		_ = writer.Close()
		return nil, err
	}
	store.ro = reader
	return store, nil
}

func (s *sqliteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS stream_events (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		turn_id    TEXT NOT NULL,
		payload    TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_stream_events_session ON stream_events(session_id, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *sqliteStore) Append(ctx context.Context, sessionID, turnID string, payload map[string]interface{}) (int64, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal event payload: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO stream_events (session_id, turn_id, payload, created_at)
		VALUES (?, ?, ?, ?)`,
		sessionID, turnID, string(raw), time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("event sequence: %w", err)
	}
	return seq, nil
}

func (s *sqliteStore) List(ctx context.Context, sessionID string, afterSeq int64) ([]StoredEvent, error) {
	var rows []eventRow
	err := s.ro.SelectContext(ctx, &rows, `
		SELECT seq, session_id, turn_id, payload, created_at
		FROM stream_events
		WHERE session_id = ? AND seq > ?
		ORDER BY seq`, sessionID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return decodeRows(rows)
}

func (s *sqliteStore) Sessions(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.ro.SelectContext(ctx, &ids, `
		SELECT DISTINCT session_id FROM stream_events ORDER BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return ids, nil
}

func (s *sqliteStore) Close() error {
	if s.ro != nil {
		_ = s.ro.Close()
	}
	return s.db.Close()
}

// eventRow is the scan target shared by the SQL stores.
type eventRow struct {
	Seq       int64     `db:"seq"`
	SessionID string    `db:"session_id"`
	TurnID    string    `db:"turn_id"`
	Payload   string    `db:"payload"`
	CreatedAt time.Time `db:"created_at"`
}

func decodeRows(rows []eventRow) ([]StoredEvent, error) {
	out := make([]StoredEvent, 0, len(rows))
	for _, row := range rows {
		var payload map[string]interface{}
		if err := json.Unmarshal([]byte(row.Payload), &payload); err != nil {
			return nil, fmt.Errorf("decode event payload seq=%d: %w", row.Seq, err)
		}
		out = append(out, StoredEvent{
			Seq:       row.Seq,
			SessionID: row.SessionID,
			TurnID:    row.TurnID,
			Payload:   payload,
			CreatedAt: row.CreatedAt,
		})
	}
	return out, nil
}
