// Package registry maintains the durable cross-turn registry of subagent
// tasks and their floating-card presentation state.
package registry

// Task statuses.
const (
	StatusInitializing = "initializing"
	StatusActive       = "active"
	StatusCompleted    = "completed"
)

// Position is a card's screen position. The registry holds positions by
// pointer and never replaces the pointer on data merges; only explicit
// drag operations write a new one. Pointer identity is the "unchanged"
// sentinel the presentation layer compares to avoid re-layout jank.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// AgentTask is the durable record for one subagent/background worker,
// keyed by its stable agent id ("{kind}:{opaque-unique-token}").
type AgentTask struct {
	AgentID       string   `json:"agent_id"`
	DisplayID     string   `json:"display_id,omitempty"`
	Description   string   `json:"description,omitempty"`
	Kind          string   `json:"kind,omitempty"`
	ToolCallCount int      `json:"tool_call_count"`
	CurrentTool   string   `json:"current_tool,omitempty"`
	Status        string   `json:"status"`
	IsActive      bool     `json:"is_active"`
	Messages      []string `json:"messages,omitempty"`
}

// CardPresentation is the UI-adjacent state the registry owns for a card.
type CardPresentation struct {
	Position *Position `json:"position,omitempty"`
	ZIndex   int       `json:"z_index"`

	Minimized bool `json:"minimized"`

	// MinimizeOrder captures temporal minimize order for sorting the
	// minimized tray. Zero means never minimized. The counter never
	// restarts, so newly minimized cards always sort after older ones.
	MinimizeOrder int `json:"minimize_order,omitempty"`

	// HasUnreadUpdate is true only while the card is minimized and the
	// underlying task is active. Opening or interacting clears it.
	HasUnreadUpdate bool `json:"has_unread_update"`
}

// card pairs a task with its presentation state.
type card struct {
	task AgentTask
	pres CardPresentation
}

// TaskUpdate is a partial update merged into an AgentTask. Nil pointer
// fields mean "preserve existing"; this is how the empty-string-vs-absent
// distinction for CurrentTool survives the merge.
type TaskUpdate struct {
	DisplayID     *string
	Description   *string
	Kind          *string
	Status        *string
	CurrentTool   *string
	ToolCallCount *int
	IsActive      *bool
	Message       *string

	// FromHistory marks updates originating from history replay. They
	// force IsActive=false so a history-opened card never collides with
	// a live card sharing the same display id in a later turn.
	FromHistory bool
}

// CardSnapshot is the read-only view of one card. Position is shared with
// the registry's internal state on purpose (reference stability);
// consumers must treat it as immutable.
type CardSnapshot struct {
	Task         AgentTask        `json:"task"`
	Presentation CardPresentation `json:"presentation"`
}
