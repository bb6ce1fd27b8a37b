// Package history persists the raw event stream per session so transcripts
// can be reconstructed after restarts. Storage is append-only: replaying the
// stored rows through the engine reproduces the transcript, so no derived
// state needs persisting.
package history

import (
	"context"
	"time"
)

// StoredEvent is one raw wire record as it was received, with a storage
// sequence number assigned on append. Seq is the replay order and the
// resume cursor for List.
type StoredEvent struct {
	Seq       int64                  `db:"seq" json:"seq"`
	SessionID string                 `db:"session_id" json:"session_id"`
	TurnID    string                 `db:"turn_id" json:"turn_id"`
	Payload   map[string]interface{} `db:"-" json:"payload"`
	CreatedAt time.Time              `db:"created_at" json:"created_at"`
}

// Store is the event log. Implementations must assign strictly increasing
// Seq values per session in append order.
type Store interface {
	// Append persists one event and returns its assigned sequence number.
	Append(ctx context.Context, sessionID, turnID string, payload map[string]interface{}) (int64, error)

	// List returns events for a session with Seq > afterSeq, ordered by Seq.
	List(ctx context.Context, sessionID string, afterSeq int64) ([]StoredEvent, error)

	// Sessions returns the distinct session ids present in the log.
	Sessions(ctx context.Context) ([]string, error)

	Close() error
}
