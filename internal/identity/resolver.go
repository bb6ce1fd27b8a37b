// Package identity maps the three identifier schemes used by the agent
// stream onto each other: ephemeral tool-call ids, human-readable display
// ids, and durable agent ids. Both maps are append-only for the life of
// the process so historical references (an old tool-call chip, a
// completed task reported by display id) keep resolving indefinitely.
package identity

import (
	"sync"

	"go.uber.org/zap"

	"github.com/tickerdesk/tickerdesk/internal/common/logger"
)

// Kind selects which identifier map a raw id belongs to.
type Kind string

const (
	KindToolCall Kind = "tool_call"
	KindDisplay  Kind = "display"
)

// Resolution is the answer to a tool-call lookup. Pending means the id is
// queued for order-based matching but no agent id has landed yet; callers
// defer the dependent action instead of failing.
type Resolution struct {
	AgentID string
	Pending bool
}

// Resolver owns the identifier maps and the pending queue for order-based
// matching of spawn tool calls to subagents.
type Resolver struct {
	mu         sync.RWMutex
	byToolCall map[string]string
	byDisplay  map[string]string

	// pending holds tool-call ids seen before any status event named
	// their subagent. Matching is FIFO on the assumption that subagent
	// creation order matches tool-call emission order. The wire protocol
	// does not guarantee this; it is a structural assumption of the
	// matching scheme, not a proven invariant.
	pending []string

	logger *logger.Logger
}

// NewResolver creates an empty Resolver.
func NewResolver(log *logger.Logger) *Resolver {
	return &Resolver{
		byToolCall: make(map[string]string),
		byDisplay:  make(map[string]string),
		logger:     log.WithFields(zap.String("component", "identity-resolver")),
	}
}

// Declare records a raw-id → agent-id mapping. Entries are only ever
// added, never removed or overwritten with a different value; a
// conflicting redeclare is logged and ignored.
func (r *Resolver) Declare(rawID string, kind Kind, agentID string) {
	if rawID == "" || agentID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.mapFor(kind)
	if existing, ok := m[rawID]; ok {
		if existing != agentID {
			r.logger.Warn("conflicting identity declaration ignored",
				zap.String("raw_id", rawID),
				zap.String("kind", string(kind)),
				zap.String("existing", existing),
				zap.String("declared", agentID))
		}
		return
	}
	m[rawID] = agentID
}

// Resolve looks up a raw id. The second return is false when no mapping
// exists yet.
func (r *Resolver) Resolve(rawID string, kind Kind) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agentID, ok := r.mapFor(kind)[rawID]
	return agentID, ok
}

// ResolveToolCall resolves a tool-call id, distinguishing "queued but not
// yet matched" from "never seen". Callers must treat Pending as a signal
// to defer, never as an error.
func (r *Resolver) ResolveToolCall(toolCallID string) Resolution {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if agentID, ok := r.byToolCall[toolCallID]; ok {
		return Resolution{AgentID: agentID}
	}
	for _, id := range r.pending {
		if id == toolCallID {
			return Resolution{Pending: true}
		}
	}
	return Resolution{}
}

// EnqueuePending queues a spawn tool-call id for order-based matching.
func (r *Resolver) EnqueuePending(toolCallID string) {
	if toolCallID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byToolCall[toolCallID]; ok {
		return
	}
	for _, id := range r.pending {
		if id == toolCallID {
			return
		}
	}
	r.pending = append(r.pending, toolCallID)
}

// MatchPending binds the oldest pending tool-call id to a newly
// introduced agent id (FIFO). Returns the matched tool-call id, or false
// when the queue is empty.
func (r *Resolver) MatchPending(agentID string) (string, bool) {
	if agentID == "" {
		return "", false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.pending) == 0 {
		return "", false
	}
	toolCallID := r.pending[0]
	r.pending = r.pending[1:]
	r.byToolCall[toolCallID] = agentID

	r.logger.Debug("matched pending tool call to agent",
		zap.String("tool_call_id", toolCallID),
		zap.String("agent_id", agentID))
	return toolCallID, true
}

// ResetPending clears the pending queue. Called exactly once at the start
// of each turn; the identifier maps themselves are never cleared.
func (r *Resolver) ResetPending() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.pending) > 0 {
		r.logger.Warn("discarding unmatched pending tool calls at turn start",
			zap.Int("count", len(r.pending)))
	}
	r.pending = nil
}

func (r *Resolver) mapFor(kind Kind) map[string]string {
	if kind == KindDisplay {
		return r.byDisplay
	}
	return r.byToolCall
}
