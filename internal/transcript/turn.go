package transcript

// SegmentKind discriminates the content segment union.
type SegmentKind string

const (
	SegmentText      SegmentKind = "text"
	SegmentReasoning SegmentKind = "reasoning"
	SegmentToolCall  SegmentKind = "tool_call"
)

// ContentSegment is one ordered unit of turn content. Order is assigned
// once at creation from the turn's shared counter and never changes; it
// is the total-order key for rendering across the three content kinds.
type ContentSegment struct {
	Kind  SegmentKind `json:"kind"`
	Order int64       `json:"order"`

	// Text is the append-only buffer for SegmentText segments.
	Text string `json:"text,omitempty"`

	// BlockID references a ReasoningBlock for SegmentReasoning segments.
	BlockID string `json:"block_id,omitempty"`

	// CallID references a ToolCallState for SegmentToolCall segments.
	CallID string `json:"call_id,omitempty"`

	// Streaming is true while the segment is still accepting content.
	Streaming bool `json:"streaming"`
}

// ReasoningBlock is a delimited span of thinking content.
type ReasoningBlock struct {
	ID       string `json:"id"`
	Order    int64  `json:"order"`
	Content  string `json:"content"`
	Complete bool   `json:"complete"`
}

// ToolResult is the recorded outcome of a tool call.
type ToolResult struct {
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
}

// ToolCallState tracks one tool invocation's lifecycle. A call id is
// never reused within a turn; the entry is upserted because the
// announcement and the result may arrive in either order.
type ToolCallState struct {
	CallID     string                 `json:"call_id"`
	ToolName   string                 `json:"tool_name"`
	Invocation map[string]interface{} `json:"invocation,omitempty"`
	Result     *ToolResult            `json:"result,omitempty"`
	InProgress bool                   `json:"in_progress"`
	Complete   bool                   `json:"complete"`
	Failed     bool                   `json:"failed"`
}

// Turn is one user-initiated exchange: the ordered segments plus the
// reasoning-block and tool-call maps they reference. A turn is mutated
// throughout the response stream and becomes effectively immutable once
// the stream ends.
type Turn struct {
	ID       string                    `json:"id"`
	Segments []*ContentSegment         `json:"segments"`
	Blocks   map[string]*ReasoningBlock `json:"blocks"`
	Calls    map[string]*ToolCallState  `json:"calls"`

	// Streaming is false once the turn ended (naturally or by abort).
	Streaming bool `json:"streaming"`

	// Failed and ErrorMessage record a transport-level failure. Content
	// accumulated before the failure is retained.
	Failed       bool   `json:"failed,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	// seq is the single shared ordering counter for the turn. It is
	// reset exactly once, when the turn is created; resetting it
	// mid-turn would corrupt ordering for the rest of the stream.
	seq int64

	// openTextIdx indexes the currently-appending text segment in
	// Segments, or -1. At most one text segment is open at a time.
	openTextIdx int

	// openBlockID is the reasoning block currently accepting chunks.
	// Tracked here rather than inferred from the data because
	// interleaved tool-call chunks must not be misattributed.
	openBlockID string

	// lastBlockID is the most recently sealed block, the target for
	// orphan reasoning chunks (recovery policy, not silent loss).
	lastBlockID string

	// blockCount numbers generated block ids for wire shapes that omit
	// them.
	blockCount int
}

// NewTurn creates an empty streaming turn.
func NewTurn(id string) *Turn {
	return &Turn{
		ID:          id,
		Blocks:      make(map[string]*ReasoningBlock),
		Calls:       make(map[string]*ToolCallState),
		Streaming:   true,
		openTextIdx: -1,
	}
}

// nextOrder consumes the next ordering value. Order values are assigned
// once, at segment/block creation, and never reassigned.
func (t *Turn) nextOrder() int64 {
	t.seq++
	return t.seq
}

// hasCallSegment reports whether a transcript segment already exists for
// a tool-call id. Replayed results must not duplicate the segment.
func (t *Turn) hasCallSegment(callID string) bool {
	for _, seg := range t.Segments {
		if seg.Kind == SegmentToolCall && seg.CallID == callID {
			return true
		}
	}
	return false
}

// closeOpenSegments marks every still-streaming segment as no longer
// streaming without discarding accumulated content. Used on turn end and
// on transport abort.
func (t *Turn) closeOpenSegments() {
	for _, seg := range t.Segments {
		seg.Streaming = false
	}
	t.openTextIdx = -1
	if t.openBlockID != "" {
		t.lastBlockID = t.openBlockID
		t.openBlockID = ""
	}
}

// TurnSnapshot is a read-only deep copy of a turn.
type TurnSnapshot struct {
	ID           string                    `json:"id"`
	Segments     []ContentSegment          `json:"segments"`
	Blocks       map[string]ReasoningBlock `json:"blocks"`
	Calls        map[string]ToolCallState  `json:"calls"`
	Streaming    bool                      `json:"streaming"`
	Failed       bool                      `json:"failed,omitempty"`
	ErrorMessage string                    `json:"error_message,omitempty"`
}

// snapshot deep-copies the turn for consumers. Segment order in the
// slice already matches the order values.
func (t *Turn) snapshot() TurnSnapshot {
	s := TurnSnapshot{
		ID:           t.ID,
		Segments:     make([]ContentSegment, 0, len(t.Segments)),
		Blocks:       make(map[string]ReasoningBlock, len(t.Blocks)),
		Calls:        make(map[string]ToolCallState, len(t.Calls)),
		Streaming:    t.Streaming,
		Failed:       t.Failed,
		ErrorMessage: t.ErrorMessage,
	}
	for _, seg := range t.Segments {
		s.Segments = append(s.Segments, *seg)
	}
	for id, b := range t.Blocks {
		s.Blocks[id] = *b
	}
	for id, c := range t.Calls {
		cc := *c
		if c.Result != nil {
			r := *c.Result
			cc.Result = &r
		}
		s.Calls[id] = cc
	}
	return s
}
