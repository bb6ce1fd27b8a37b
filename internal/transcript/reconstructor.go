package transcript

import (
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tickerdesk/tickerdesk/internal/common/logger"
	"github.com/tickerdesk/tickerdesk/internal/identity"
	"github.com/tickerdesk/tickerdesk/internal/registry"
)

var (
	// ErrEmptyStream is surfaced when the transport aborted before any
	// event was received: a hard failure, not a silently empty message.
	ErrEmptyStream = errors.New("stream aborted before any event was received")

	// ErrRateLimited is surfaced on a quota rejection. The empty
	// assistant turn is discarded entirely.
	ErrRateLimited = errors.New("stream rejected by rate limit")
)

// spawnToolNames are the main-agent tools whose calls create subagents.
// A call to one of these queues its call id for order-based identity
// matching against the next subagent-status event.
var spawnToolNames = map[string]bool{
	"spawn":        true,
	"spawn_agent":  true,
	"task":         true,
	"create_task":  true,
	"launch_agent": true,
}

// Snapshot is the read-only state emitted to consumers: the transcript
// per turn plus the card registry.
type Snapshot struct {
	SessionID string                           `json:"session_id"`
	Turns     []TurnSnapshot                   `json:"turns"`
	Cards     map[string]registry.CardSnapshot `json:"cards"`
	Err       string                           `json:"error,omitempty"`
}

// EmitFunc receives coalesced state snapshots.
type EmitFunc func(Snapshot)

// Reconstructor is the engine façade. It receives decoded events from the
// transport collaborator (live stream or history replay), drives the
// segment builder, identity resolver, and task registry, and emits
// batched snapshots. All mutations are single-writer per session;
// ordering discipline substitutes for finer locking.
type Reconstructor struct {
	mu sync.Mutex

	sessionID string
	logger    *logger.Logger

	builder  *Builder
	resolver *identity.Resolver
	registry *registry.Registry
	sched    *Scheduler
	emit     EmitFunc

	turns   []*Turn
	current *Turn

	// lastDeliveryID is the reconnect-dedup cursor: live events with a
	// delivery id at or before it are skipped. History replay bypasses
	// the cursor.
	lastDeliveryID int64

	// eventCount counts events applied to the current turn, used to
	// distinguish "aborted with partial data" from "aborted empty".
	eventCount int

	err error
}

// NewReconstructor creates a Reconstructor for one conversation session.
// flushInterval bounds snapshot emission frequency; emit may be nil for
// pull-only consumers.
func NewReconstructor(sessionID string, flushInterval time.Duration, failure FailurePredicate, emit EmitFunc, log *logger.Logger) *Reconstructor {
	log = log.WithSessionID(sessionID)
	r := &Reconstructor{
		sessionID: sessionID,
		logger:    log,
		builder:   NewBuilder(failure, log),
		resolver:  identity.NewResolver(log),
		registry:  registry.NewRegistry(log),
		emit:      emit,
	}
	r.sched = NewScheduler(flushInterval, r.emitSnapshot, log)
	return r
}

// Resolver exposes the identity maps for read-time indirection: segments
// store the raw tool-call id they saw, and lookups go through the
// resolver, so no segment data needs patching when resolution lands late.
func (r *Reconstructor) Resolver() *identity.Resolver {
	return r.resolver
}

// Registry exposes the card registry for presentation-driven operations
// (toggle, bring-to-front, drag).
func (r *Reconstructor) Registry() *registry.Registry {
	return r.registry
}

// BeginTurn starts a new turn. The ordering counter (owned by the turn)
// and the pending-identity queue are reset here and only here; a stray
// mid-turn reset would corrupt ordering for the rest of the stream.
func (r *Reconstructor) BeginTurn(turnID string) {
	r.sched.Flush()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil && r.current.Streaming {
		r.current.closeOpenSegments()
		r.current.Streaming = false
	}

	r.current = NewTurn(turnID)
	r.turns = append(r.turns, r.current)
	r.eventCount = 0
	r.err = nil
	r.resolver.ResetPending()

	r.logger.Debug("turn started", zap.String("turn_id", turnID))
}

// HandleRaw decodes and applies one wire record. Malformed records are
// logged and skipped; decoding problems never halt the stream.
func (r *Reconstructor) HandleRaw(raw map[string]interface{}, fromHistory bool) {
	ev, err := Decode(raw)
	if err != nil {
		r.logger.Warn("skipping malformed event", zap.Error(err))
		return
	}
	r.Handle(ev, fromHistory)
}

// Handle applies one decoded event. Events referencing no live turn are
// no-ops; duplicate deliveries (at or before the dedup cursor) are
// skipped for live streams.
func (r *Reconstructor) Handle(ev *StreamEvent, fromHistory bool) {
	r.mu.Lock()

	if r.current == nil || !r.current.Streaming {
		r.mu.Unlock()
		r.logger.Debug("dropping event for finalized turn", zap.String("type", ev.Type))
		return
	}

	if !fromHistory && ev.DeliveryID != 0 {
		if ev.DeliveryID <= r.lastDeliveryID {
			r.mu.Unlock()
			r.logger.Debug("skipping re-delivered event",
				zap.Int64("delivery_id", ev.DeliveryID))
			return
		}
		r.lastDeliveryID = ev.DeliveryID
	}

	r.eventCount++
	turn := r.current
	r.mu.Unlock()

	switch ev.Type {
	case EventTextDelta, EventReasoningStart, EventReasoningDelta, EventReasoningEnd:
		r.enqueueApply(turn, ev)

	case EventToolCalls:
		// Spawn-style calls feed the pending identity queue before the
		// builder transform is even applied, so a status event arriving
		// within the same batch window still matches FIFO.
		for _, call := range ev.ToolCalls {
			if spawnToolNames[strings.ToLower(call.Name)] {
				r.resolver.EnqueuePending(call.ID)
			}
		}
		r.enqueueApply(turn, ev)

	case EventToolResult:
		r.enqueueApply(turn, ev)

	case EventAgentStatus:
		r.sched.Enqueue(func() { r.applyAgentStatus(ev, fromHistory) })

	case EventTurnComplete:
		r.sched.Enqueue(func() { r.finishTurn(turn) })
		r.sched.Flush()

	case EventError:
		r.sched.Enqueue(func() { r.failTurn(turn, ev) })
		r.sched.Flush()

	default:
		r.logger.Warn("unhandled event type", zap.String("type", ev.Type))
	}
}

// enqueueApply queues a builder transform. The turn is mutated under the
// engine mutex so snapshots taken from other goroutines never observe a
// half-applied transform.
func (r *Reconstructor) enqueueApply(turn *Turn, ev *StreamEvent) {
	r.sched.Enqueue(func() {
		r.mu.Lock()
		err := r.builder.Apply(turn, ev)
		r.mu.Unlock()
		if err != nil {
			r.logger.Warn("builder rejected event", zap.Error(err))
		}
	})
}

// applyAgentStatus updates the identity maps and the card registry from a
// subagent-status event.
func (r *Reconstructor) applyAgentStatus(ev *StreamEvent, fromHistory bool) {
	active := true
	inactive := false

	for i := range ev.Active {
		entry := &ev.Active[i]

		_, known := r.resolver.Resolve(entry.DisplayID, identity.KindDisplay)
		r.resolver.Declare(entry.DisplayID, identity.KindDisplay, entry.AgentID)
		if !known && !fromHistory {
			// First sighting of this subagent: bind the oldest pending
			// spawn tool call to it.
			r.resolver.MatchPending(entry.AgentID)
		}

		u := registry.TaskUpdate{
			IsActive:    &active,
			FromHistory: fromHistory,
		}
		if entry.DisplayID != "" {
			u.DisplayID = &entry.DisplayID
		}
		if entry.Description != "" {
			u.Description = &entry.Description
		}
		if entry.Kind != "" {
			u.Kind = &entry.Kind
		}
		if entry.Status != "" {
			u.Status = &entry.Status
		}
		u.CurrentTool = entry.CurrentTool
		u.ToolCallCount = entry.ToolCallCount
		r.registry.Upsert(entry.AgentID, u)
	}

	completed := registry.StatusCompleted
	for _, id := range ev.Completed {
		agentID := id
		if !ev.LegacyAgentIDs {
			// Preferred shape reports completed tasks by display id
			// only; the mapping must already exist from when the task
			// was active.
			resolved, ok := r.resolver.Resolve(id, identity.KindDisplay)
			if !ok {
				r.logger.Warn("completed task with unknown display id",
					zap.String("display_id", id))
				continue
			}
			agentID = resolved
		}
		r.registry.Upsert(agentID, registry.TaskUpdate{
			Status:      &completed,
			IsActive:    &inactive,
			FromHistory: fromHistory,
		})
	}
}

// finishTurn handles natural completion: seal open segments, retire
// cards, minimize what finished.
func (r *Reconstructor) finishTurn(turn *Turn) {
	r.mu.Lock()
	turn.closeOpenSegments()
	turn.Streaming = false
	r.mu.Unlock()

	r.registry.InactivateAll()
	r.registry.MinimizeInactive()
	r.logger.Debug("turn complete", zap.String("turn_id", turn.ID))
}

// failTurn handles a terminal error event. Rate limiting discards the
// turn entirely (nothing useful was produced); anything else retains the
// partial transcript and marks it failed.
func (r *Reconstructor) failTurn(turn *Turn, ev *StreamEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	turn.closeOpenSegments()
	turn.Streaming = false

	// A quota rejection arrives instead of content; the empty assistant
	// turn is discarded rather than shown as a failed message. A rate
	// limit mid-stream keeps whatever was produced.
	if ev.ErrorCode == ErrorCodeRateLimited && len(turn.Segments) == 0 {
		r.dropTurnLocked(turn)
		r.err = ErrRateLimited
		r.logger.Warn("turn discarded by rate limit", zap.String("turn_id", turn.ID))
		return
	}

	turn.Failed = true
	turn.ErrorMessage = ev.ErrorMessage
	r.logger.Warn("turn failed",
		zap.String("turn_id", turn.ID),
		zap.String("code", ev.ErrorCode),
		zap.String("message", ev.ErrorMessage))
}

// Cancel handles a transport abort (user stop, navigation, connection
// loss). Pending batched updates are flushed first so partial progress is
// not dropped; open segments are marked non-streaming with their content
// retained. A turn that never received a single event is discarded and
// surfaced as ErrEmptyStream.
func (r *Reconstructor) Cancel() error {
	r.sched.Flush()

	r.mu.Lock()

	turn := r.current
	if turn == nil || !turn.Streaming {
		r.mu.Unlock()
		return nil
	}

	turn.closeOpenSegments()
	turn.Streaming = false

	var err error
	if r.eventCount == 0 {
		r.dropTurnLocked(turn)
		r.err = ErrEmptyStream
		err = ErrEmptyStream
	}
	r.mu.Unlock()

	r.registry.InactivateAll()
	r.emitSnapshot()
	return err
}

// Flush applies all queued transforms immediately instead of waiting for
// the batch timer.
func (r *Reconstructor) Flush() {
	r.sched.Flush()
}

// Err returns the terminal error state, if any.
func (r *Reconstructor) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Snapshot returns the full read-only state.
func (r *Reconstructor) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Close tears the engine down, forcing a final flush so no update is
// stranded on the timer.
func (r *Reconstructor) Close() {
	r.sched.Close()
}

func (r *Reconstructor) emitSnapshot() {
	if r.emit == nil {
		return
	}
	r.mu.Lock()
	snap := r.snapshotLocked()
	r.mu.Unlock()
	r.emit(snap)
}

func (r *Reconstructor) snapshotLocked() Snapshot {
	snap := Snapshot{
		SessionID: r.sessionID,
		Turns:     make([]TurnSnapshot, 0, len(r.turns)),
		Cards:     r.registry.Snapshot(),
	}
	for _, t := range r.turns {
		snap.Turns = append(snap.Turns, t.snapshot())
	}
	if r.err != nil {
		snap.Err = r.err.Error()
	}
	return snap
}

func (r *Reconstructor) dropTurnLocked(turn *Turn) {
	for i, t := range r.turns {
		if t == turn {
			r.turns = append(r.turns[:i], r.turns[i+1:]...)
			break
		}
	}
	if r.current == turn {
		r.current = nil
	}
}
