package history

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tickerdesk/tickerdesk/internal/common/logger"
	"github.com/tickerdesk/tickerdesk/internal/transcript"
)

// Replayer rebuilds a session's transcript from the stored event log.
// Replay uses the same engine code path as live streaming; the only
// difference is the history flag, which suppresses live-only behavior
// (card activation, delivery-id dedup).
type Replayer struct {
	store  Store
	logger *logger.Logger
}

// NewReplayer creates a Replayer over the given store.
func NewReplayer(store Store, log *logger.Logger) *Replayer {
	return &Replayer{
		store:  store,
		logger: log.WithFields(zap.String("component", "history-replayer")),
	}
}

// Replay feeds all events for sessionID with seq > afterSeq into rec,
// starting a new turn whenever the stored turn id changes. Returns the
// last replayed sequence number (afterSeq if nothing was replayed), which
// the caller uses as its live-resume cursor.
func (r *Replayer) Replay(ctx context.Context, sessionID string, afterSeq int64, rec *transcript.Reconstructor) (int64, error) {
	events, err := r.store.List(ctx, sessionID, afterSeq)
	if err != nil {
		return afterSeq, fmt.Errorf("load history for session %s: %w", sessionID, err)
	}

	lastSeq := afterSeq
	currentTurn := ""
	for _, ev := range events {
		if ev.TurnID != currentTurn {
			currentTurn = ev.TurnID
			rec.BeginTurn(currentTurn)
		}
		rec.HandleRaw(ev.Payload, true)
		lastSeq = ev.Seq
	}

	r.logger.Debug("history replay finished",
		zap.String("session_id", sessionID),
		zap.Int("events", len(events)),
		zap.Int64("last_seq", lastSeq))
	return lastSeq, nil
}
