// Package transcript implements the streaming conversation reconstruction
// engine. It consumes the normalized agent event stream and incrementally
// materializes an ordered transcript per conversation turn, together with
// the tool-call ledger and subagent attribution data the presentation
// layer reads.
package transcript

// StreamEvent type constants define the normalized event vocabulary.
// Vendor wire shapes are normalized into these by Decode.
const (
	// EventTextDelta indicates streaming answer text from the agent.
	EventTextDelta = "text_delta"

	// EventReasoningStart opens a reasoning ("thinking") block.
	EventReasoningStart = "reasoning_start"

	// EventReasoningDelta appends content to the open reasoning block.
	EventReasoningDelta = "reasoning_delta"

	// EventReasoningEnd seals the open reasoning block.
	EventReasoningEnd = "reasoning_end"

	// EventToolCalls announces one or more tool invocations.
	EventToolCalls = "tool_calls"

	// EventToolResult carries the result of a previously announced tool call.
	// The result may arrive before its announcement.
	EventToolResult = "tool_result"

	// EventAgentStatus reports active and completed subagents.
	EventAgentStatus = "agent_status"

	// EventTurnComplete indicates the turn finished naturally.
	EventTurnComplete = "turn_complete"

	// EventError indicates a terminal stream error.
	EventError = "error"
)

// Error codes carried by EventError events.
const (
	// ErrorCodeRateLimited marks a quota rejection. The empty assistant
	// turn is discarded entirely rather than retained as a failed turn.
	ErrorCodeRateLimited = "rate_limited"
)

// Tool statuses carried by EventToolResult events. An empty status means
// the wire gave no explicit outcome and the failure heuristic decides.
const (
	ToolStatusCompleted = "completed"
	ToolStatusFailed    = "failed"
)

// ToolCallAnnouncement describes one tool invocation within an
// EventToolCalls event.
type ToolCallAnnouncement struct {
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// AgentStatusEntry describes one active subagent within an
// EventAgentStatus event (preferred wire shape).
type AgentStatusEntry struct {
	// DisplayID is the short human label (e.g. "Task-3"). Not unique
	// across sessions; used for presentation and identity-map lookups.
	DisplayID string `json:"display_id"`

	// AgentID is the durable cross-turn identifier, format
	// "{kind}:{opaque-unique-token}".
	AgentID string `json:"agent_id"`

	Description string `json:"description,omitempty"`
	Kind        string `json:"kind,omitempty"`

	// CurrentTool distinguishes empty string ("clear") from absent
	// ("preserve"): nil means the field was omitted on the wire.
	CurrentTool *string `json:"current_tool,omitempty"`

	ToolCallCount *int   `json:"tool_call_count,omitempty"`
	Status        string `json:"status,omitempty"`
}

// StreamEvent is the normalized event record the engine accepts.
// Exactly one group of fields is meaningful per Type.
type StreamEvent struct {
	Type string `json:"type"`

	// DeliveryID is an optional monotonically increasing id used for
	// reconnect deduplication. Zero means absent.
	DeliveryID int64 `json:"delivery_id,omitempty"`

	// Text content (EventTextDelta).
	Text string `json:"text,omitempty"`

	// Reasoning fields (EventReasoningStart/Delta/End). BlockID may be
	// empty on the wire; the builder then targets the open block.
	BlockID       string `json:"block_id,omitempty"`
	ReasoningText string `json:"reasoning_text,omitempty"`

	// Tool call announcements (EventToolCalls).
	ToolCalls    []ToolCallAnnouncement `json:"tool_calls,omitempty"`
	FinishReason string                 `json:"finish_reason,omitempty"`

	// Tool result fields (EventToolResult).
	CallID      string `json:"call_id,omitempty"`
	Result      string `json:"result,omitempty"`
	ResultType  string `json:"result_type,omitempty"`
	ToolStatus  string `json:"tool_status,omitempty"`

	// Subagent status fields (EventAgentStatus). Completed holds display
	// ids in the preferred shape; when LegacyAgentIDs is true it holds
	// bare stable agent ids (legacy wire shape, no display indirection).
	Active         []AgentStatusEntry `json:"active,omitempty"`
	Completed      []string           `json:"completed,omitempty"`
	LegacyAgentIDs bool               `json:"legacy_agent_ids,omitempty"`

	// Error fields (EventError).
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}
