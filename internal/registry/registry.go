package registry

import (
	"sync"

	"go.uber.org/zap"

	"github.com/tickerdesk/tickerdesk/internal/common/logger"
)

// Registry is the durable floating-card registry. Cards are never
// deleted, only inactivated and minimized, so history replay can re-open
// them.
type Registry struct {
	mu    sync.Mutex
	cards map[string]*card

	// zCounter and minimizeCounter are monotonically increasing for the
	// life of the registry; they never restart.
	zCounter        int
	minimizeCounter int

	logger *logger.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		cards:  make(map[string]*card),
		logger: log.WithFields(zap.String("component", "task-registry")),
	}
}

// Upsert merges a partial update into the task for agentID, creating the
// card if the creation rules allow it.
//
// Merge rules, in order:
//  1. a completed status is only downgraded by an explicit status;
//  2. CurrentTool "" clears, nil preserves;
//  3. history-originated updates force IsActive=false;
//  4. the position pointer is never replaced by a data merge;
//  5. an already-finished task first seen during live streaming does not
//     create a card (no phantom completed cards);
//  6. HasUnreadUpdate is true only if minimized and active after merge.
func (r *Registry) Upsert(agentID string, u TaskUpdate) {
	if agentID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, exists := r.cards[agentID]
	if !exists {
		if r.suppressCreation(u) {
			r.logger.Debug("suppressed card creation for finished task",
				zap.String("agent_id", agentID))
			return
		}
		c = &card{
			task: AgentTask{
				AgentID: agentID,
				Status:  StatusInitializing,
			},
			pres: CardPresentation{ZIndex: r.nextZ()},
		}
		r.cards[agentID] = c
	}

	t := &c.task
	if u.DisplayID != nil {
		t.DisplayID = *u.DisplayID
	}
	if u.Description != nil {
		t.Description = *u.Description
	}
	if u.Kind != nil {
		t.Kind = *u.Kind
	}
	if u.ToolCallCount != nil {
		t.ToolCallCount = *u.ToolCallCount
	}

	// Rule 1: "preserve completed" guards against flapping from delayed
	// or duplicate events. An explicit status always wins.
	if u.Status != nil {
		t.Status = *u.Status
	}

	// Rule 2: empty string and absent field are distinct.
	if u.CurrentTool != nil {
		t.CurrentTool = *u.CurrentTool
	}

	// Rule 3: history replay never produces a live card.
	if u.FromHistory {
		t.IsActive = false
	} else if u.IsActive != nil {
		t.IsActive = *u.IsActive
	}

	if u.Message != nil {
		t.Messages = append(t.Messages, *u.Message)
	}

	// Rule 4: c.pres.Position is deliberately untouched here.

	// Rule 6.
	c.pres.HasUnreadUpdate = c.pres.Minimized && t.IsActive
}

// suppressCreation implements rule 5: during live streaming, a first
// sighting that already says inactive/completed must not create a card.
// History replay and explicit opens may.
func (r *Registry) suppressCreation(u TaskUpdate) bool {
	if u.FromHistory {
		return false
	}
	if u.IsActive != nil && !*u.IsActive {
		return true
	}
	if u.IsActive == nil && u.Status != nil && *u.Status == StatusCompleted {
		return true
	}
	return false
}

// InactivateAll is the end-of-turn hook: every still-active task is
// forced inactive and completed with its current tool cleared.
func (r *Registry) InactivateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.cards {
		if !c.task.IsActive {
			continue
		}
		c.task.IsActive = false
		c.task.Status = StatusCompleted
		c.task.CurrentTool = ""
		c.pres.HasUnreadUpdate = false
	}
}

// MinimizeInactive minimizes every inactive, not-yet-minimized card.
// Minimize order continues from the current maximum so newly minimized
// cards sort after previously minimized ones.
func (r *Registry) MinimizeInactive() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.cards {
		if c.task.IsActive || c.pres.Minimized {
			continue
		}
		r.minimizeCounter++
		c.pres.Minimized = true
		c.pres.MinimizeOrder = r.minimizeCounter
		c.pres.HasUnreadUpdate = false
	}
}

// Toggle minimizes an open card, or restores a minimized one (bringing it
// to the front). Restoring clears the unread flag.
func (r *Registry) Toggle(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.cards[agentID]
	if !ok {
		return
	}

	if c.pres.Minimized {
		c.pres.Minimized = false
		c.pres.ZIndex = r.nextZ()
		c.pres.HasUnreadUpdate = false
		return
	}

	r.minimizeCounter++
	c.pres.Minimized = true
	c.pres.MinimizeOrder = r.minimizeCounter
	c.pres.HasUnreadUpdate = c.task.IsActive
}

// BringToFront assigns the next z-order value and clears the unread flag.
func (r *Registry) BringToFront(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.cards[agentID]
	if !ok {
		return
	}
	c.pres.ZIndex = r.nextZ()
	c.pres.HasUnreadUpdate = false
}

// SetPosition records an explicit drag. This is the only operation that
// writes a new Position pointer.
func (r *Registry) SetPosition(agentID string, pos Position) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.cards[agentID]
	if !ok {
		return
	}
	p := pos
	c.pres.Position = &p
}

// Open creates (or restores) a card as an explicit history-open request.
// Unlike live streaming updates, this may create a card for an
// already-finished task.
func (r *Registry) Open(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.cards[agentID]
	if !ok {
		c = &card{
			task: AgentTask{
				AgentID: agentID,
				Status:  StatusCompleted,
			},
			pres: CardPresentation{},
		}
		r.cards[agentID] = c
	}
	c.pres.Minimized = false
	c.pres.ZIndex = r.nextZ()
	c.pres.HasUnreadUpdate = false
}

// Get returns a snapshot of one card.
func (r *Registry) Get(agentID string) (CardSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.cards[agentID]
	if !ok {
		return CardSnapshot{}, false
	}
	return r.snapshotCard(c), true
}

// Snapshot returns a read-only view of every card keyed by agent id.
func (r *Registry) Snapshot() map[string]CardSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]CardSnapshot, len(r.cards))
	for id, c := range r.cards {
		out[id] = r.snapshotCard(c)
	}
	return out
}

func (r *Registry) snapshotCard(c *card) CardSnapshot {
	s := CardSnapshot{Task: c.task, Presentation: c.pres}
	if len(c.task.Messages) > 0 {
		s.Task.Messages = append([]string(nil), c.task.Messages...)
	}
	// Position is shared by pointer: reference stability is the contract.
	return s
}

func (r *Registry) nextZ() int {
	r.zCounter++
	return r.zCounter
}
