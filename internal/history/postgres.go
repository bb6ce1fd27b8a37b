package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

type postgresStore struct {
	db *sqlx.DB
}

var _ Store = (*postgresStore)(nil)

// NewPostgresStore opens the event log on PostgreSQL.
func NewPostgresStore(dsn string) (*postgresStore, error) {
	db, err := openPostgres(dsn, 0, 0)
	if err != nil {
		return nil, err
	}
	store := &postgresStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history schema init: %w", err)
	}
	return store, nil
}

func (s *postgresStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS stream_events (
		seq        BIGSERIAL PRIMARY KEY,
		session_id TEXT NOT NULL,
		turn_id    TEXT NOT NULL,
		payload    JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_stream_events_session ON stream_events(session_id, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *postgresStore) Append(ctx context.Context, sessionID, turnID string, payload map[string]interface{}) (int64, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal event payload: %w", err)
	}

	var seq int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO stream_events (session_id, turn_id, payload, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING seq`,
		sessionID, turnID, string(raw), time.Now().UTC(),
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	return seq, nil
}

func (s *postgresStore) List(ctx context.Context, sessionID string, afterSeq int64) ([]StoredEvent, error) {
	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT seq, session_id, turn_id, payload, created_at
		FROM stream_events
		WHERE session_id = $1 AND seq > $2
		ORDER BY seq`, sessionID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return decodeRows(rows)
}

func (s *postgresStore) Sessions(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `
		SELECT DISTINCT session_id FROM stream_events ORDER BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return ids, nil
}

func (s *postgresStore) Close() error {
	return s.db.Close()
}
