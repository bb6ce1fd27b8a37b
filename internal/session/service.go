// Package session owns the per-conversation reconstruction engines: it
// consumes agent stream events from the event bus, persists them to the
// history store, and fans reconstructed snapshots out over the gateway.
package session

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tickerdesk/tickerdesk/internal/common/config"
	"github.com/tickerdesk/tickerdesk/internal/common/logger"
	"github.com/tickerdesk/tickerdesk/internal/events/bus"
	gatewayws "github.com/tickerdesk/tickerdesk/internal/gateway/websocket"
	"github.com/tickerdesk/tickerdesk/internal/history"
	"github.com/tickerdesk/tickerdesk/internal/identity"
	"github.com/tickerdesk/tickerdesk/internal/registry"
	"github.com/tickerdesk/tickerdesk/internal/transcript"
	ws "github.com/tickerdesk/tickerdesk/pkg/websocket"
)

// sessionState pairs a live engine with its history cursor and current
// turn id.
type sessionState struct {
	rec     *transcript.Reconstructor
	turnID  string
	lastSeq int64
}

// Service manages one Reconstructor per conversation session. Sessions
// are created lazily on first event or first snapshot request; history is
// replayed into the engine before any live event is applied.
type Service struct {
	mu       sync.Mutex
	sessions map[string]*sessionState

	store    history.Store
	replayer *history.Replayer
	eventBus bus.EventBus
	hub      *gatewayws.Hub
	cfg      config.StreamConfig

	sub    bus.Subscription
	logger *logger.Logger
}

// NewService creates the session service. hub may be nil in tests.
func NewService(store history.Store, eventBus bus.EventBus, hub *gatewayws.Hub, cfg config.StreamConfig, log *logger.Logger) *Service {
	return &Service{
		sessions: make(map[string]*sessionState),
		store:    store,
		replayer: history.NewReplayer(store, log),
		eventBus: eventBus,
		hub:      hub,
		cfg:      cfg,
		logger:   log.WithFields(zap.String("component", "session-service")),
	}
}

// Start subscribes to the agent stream subject tree. Events are published
// to "<prefix>.<sessionID>" with session_id, turn_id, and the raw wire
// record in the event data.
func (s *Service) Start(ctx context.Context) error {
	subject := s.cfg.SubjectPrefix + ".>"
	sub, err := s.eventBus.Subscribe(subject, s.handleBusEvent)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	s.sub = sub

	// Warm the engines for known sessions so reconnecting clients get a
	// snapshot without paying replay latency on first request.
	ids, err := s.store.Sessions(ctx)
	if err != nil {
		s.logger.Warn("failed to list sessions for preload", zap.Error(err))
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(4)
		for _, id := range ids {
			id := id
			g.Go(func() error {
				_, err := s.getOrCreate(gctx, id)
				return err
			})
		}
		if err := g.Wait(); err != nil {
			s.logger.Warn("session preload failed", zap.Error(err))
		}
	}

	s.logger.Info("session service started",
		zap.String("subject", subject),
		zap.Int("preloaded", len(ids)))
	return nil
}

// Stop unsubscribes and tears down every live engine, flushing pending
// snapshot updates.
func (s *Service) Stop() {
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, st := range s.sessions {
		st.rec.Close()
		delete(s.sessions, id)
	}
	s.logger.Info("session service stopped")
}

func (s *Service) handleBusEvent(ctx context.Context, ev *bus.Event) error {
	sessionID, _ := ev.Data["session_id"].(string)
	turnID, _ := ev.Data["turn_id"].(string)
	payload, _ := ev.Data["event"].(map[string]interface{})

	if sessionID == "" || payload == nil {
		s.logger.Warn("ignoring malformed bus event", zap.String("event_id", ev.ID))
		return nil
	}

	return s.Ingest(ctx, sessionID, turnID, payload)
}

// Ingest persists one live wire record and applies it to the session's
// engine. A turn id different from the session's current one starts a new
// turn first.
func (s *Service) Ingest(ctx context.Context, sessionID, turnID string, payload map[string]interface{}) error {
	st, err := s.getOrCreate(ctx, sessionID)
	if err != nil {
		return err
	}

	seq, err := s.store.Append(ctx, sessionID, turnID, payload)
	if err != nil {
		// Persistence failure does not lose the live update; replay will
		// miss this event after a restart, which is the lesser problem.
		s.logger.Error("failed to persist stream event",
			zap.String("session_id", sessionID),
			zap.Error(err))
	} else {
		s.mu.Lock()
		st.lastSeq = seq
		s.mu.Unlock()
	}

	s.mu.Lock()
	if turnID != "" && turnID != st.turnID {
		st.turnID = turnID
		s.mu.Unlock()
		st.rec.BeginTurn(turnID)
	} else {
		s.mu.Unlock()
	}

	st.rec.HandleRaw(payload, false)
	return nil
}

// getOrCreate returns the engine for sessionID, creating it and replaying
// its history on first access.
func (s *Service) getOrCreate(ctx context.Context, sessionID string) (*sessionState, error) {
	s.mu.Lock()
	if st, ok := s.sessions[sessionID]; ok {
		s.mu.Unlock()
		return st, nil
	}

	rec := transcript.NewReconstructor(sessionID, s.cfg.FlushInterval(), nil,
		func(snap transcript.Snapshot) { s.publishSnapshot(snap) },
		s.logger)
	st := &sessionState{rec: rec}
	s.sessions[sessionID] = st
	s.mu.Unlock()

	lastSeq, err := s.replayer.Replay(ctx, sessionID, 0, rec)
	if err != nil {
		s.logger.Error("history replay failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}

	s.mu.Lock()
	st.lastSeq = lastSeq
	s.mu.Unlock()
	return st, nil
}

// publishSnapshot pushes a batched snapshot to session subscribers.
func (s *Service) publishSnapshot(snap transcript.Snapshot) {
	if s.hub == nil {
		return
	}
	msg, err := ws.NewNotification(ws.ActionSessionSnapshot, snap)
	if err != nil {
		s.logger.Error("failed to build snapshot notification", zap.Error(err))
		return
	}
	s.hub.BroadcastToSession(snap.SessionID, msg)
}

// Snapshot returns the current reconstructed state for a session,
// creating the engine (and replaying history) if needed.
func (s *Service) Snapshot(ctx context.Context, sessionID string) (transcript.Snapshot, error) {
	st, err := s.getOrCreate(ctx, sessionID)
	if err != nil {
		return transcript.Snapshot{}, err
	}
	return st.rec.Snapshot(), nil
}

// BeginTurn starts a new turn explicitly (used by the HTTP API when the
// client submits a prompt).
func (s *Service) BeginTurn(ctx context.Context, sessionID, turnID string) error {
	st, err := s.getOrCreate(ctx, sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	st.turnID = turnID
	s.mu.Unlock()
	st.rec.BeginTurn(turnID)
	return nil
}

// Cancel aborts the in-flight turn for a session. The returned error is
// the engine's verdict (nil, or empty-stream).
func (s *Service) Cancel(ctx context.Context, sessionID string) error {
	st, err := s.getOrCreate(ctx, sessionID)
	if err != nil {
		return err
	}
	return st.rec.Cancel()
}

// Rebuild discards a session's in-memory engine and reconstructs it from
// history alone. Live delivery resumes on the next bus event.
func (s *Service) Rebuild(ctx context.Context, sessionID string) (transcript.Snapshot, error) {
	s.mu.Lock()
	if st, ok := s.sessions[sessionID]; ok {
		st.rec.Close()
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()

	return s.Snapshot(ctx, sessionID)
}

// Sessions lists every session id known to the history store.
func (s *Service) Sessions(ctx context.Context) ([]string, error) {
	return s.store.Sessions(ctx)
}

// ResolveCall resolves a tool-call id to its subagent for a session.
func (s *Service) ResolveCall(ctx context.Context, sessionID, callID string) (identity.Resolution, error) {
	st, err := s.getOrCreate(ctx, sessionID)
	if err != nil {
		return identity.Resolution{}, err
	}
	return st.rec.Resolver().ResolveToolCall(callID), nil
}

// ToggleCard minimizes or restores a task card.
func (s *Service) ToggleCard(ctx context.Context, sessionID, agentID string) error {
	st, err := s.getOrCreate(ctx, sessionID)
	if err != nil {
		return err
	}
	st.rec.Registry().Toggle(agentID)
	s.publishSnapshot(st.rec.Snapshot())
	return nil
}

// BringCardToFront raises a card's z-order.
func (s *Service) BringCardToFront(ctx context.Context, sessionID, agentID string) error {
	st, err := s.getOrCreate(ctx, sessionID)
	if err != nil {
		return err
	}
	st.rec.Registry().BringToFront(agentID)
	s.publishSnapshot(st.rec.Snapshot())
	return nil
}

// SetCardPosition records an explicit card drag.
func (s *Service) SetCardPosition(ctx context.Context, sessionID, agentID string, x, y float64) error {
	st, err := s.getOrCreate(ctx, sessionID)
	if err != nil {
		return err
	}
	st.rec.Registry().SetPosition(agentID, registry.Position{X: x, Y: y})
	s.publishSnapshot(st.rec.Snapshot())
	return nil
}

// OpenCard opens (or creates) a card for a historical task.
func (s *Service) OpenCard(ctx context.Context, sessionID, agentID string) error {
	st, err := s.getOrCreate(ctx, sessionID)
	if err != nil {
		return err
	}
	st.rec.Registry().Open(agentID)
	s.publishSnapshot(st.rec.Snapshot())
	return nil
}
