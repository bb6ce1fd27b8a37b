package transcript

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/tickerdesk/tickerdesk/internal/common/logger"
)

// Builder is the ordering state machine. Apply folds one decoded event
// into a turn; applying the same event sequence from an empty turn always
// reproduces the same transcript (idempotent replay), which is what makes
// live streaming and history replay share one code path.
type Builder struct {
	failure FailurePredicate
	logger  *logger.Logger
}

// NewBuilder creates a Builder. A nil predicate selects
// DefaultFailurePredicate.
func NewBuilder(failure FailurePredicate, log *logger.Logger) *Builder {
	if failure == nil {
		failure = DefaultFailurePredicate
	}
	return &Builder{
		failure: failure,
		logger:  log.WithFields(zap.String("component", "segment-builder")),
	}
}

// Apply folds ev into t. Content kinds arrive as three logically
// independent streams multiplexed onto one wire; the turn's shared
// ordering counter interleaves them into one total order. Events that do
// not touch transcript content (agent status, errors, completion) are
// handled by the Reconstructor, not here.
func (b *Builder) Apply(t *Turn, ev *StreamEvent) error {
	if t == nil {
		return fmt.Errorf("no turn")
	}

	switch ev.Type {
	case EventTextDelta:
		b.applyText(t, ev)
	case EventReasoningStart:
		b.applyReasoningStart(t, ev)
	case EventReasoningDelta:
		b.applyReasoningDelta(t, ev)
	case EventReasoningEnd:
		b.applyReasoningEnd(t, ev)
	case EventToolCalls:
		b.applyToolCalls(t, ev)
	case EventToolResult:
		b.applyToolResult(t, ev)
	default:
		return fmt.Errorf("builder does not handle event type %q", ev.Type)
	}
	return nil
}

// applyText extends the open text segment, or opens a new one. A text
// event after a reasoning block or tool call opens a new segment rather
// than reusing an earlier one, preserving true interleaving order.
func (b *Builder) applyText(t *Turn, ev *StreamEvent) {
	if t.openTextIdx >= 0 {
		t.Segments[t.openTextIdx].Text += ev.Text
		return
	}
	seg := &ContentSegment{
		Kind:      SegmentText,
		Order:     t.nextOrder(),
		Text:      ev.Text,
		Streaming: true,
	}
	t.Segments = append(t.Segments, seg)
	t.openTextIdx = len(t.Segments) - 1
}

// closeText implicitly closes the open text segment the instant a
// different content kind arrives.
func (b *Builder) closeText(t *Turn) {
	if t.openTextIdx >= 0 {
		t.Segments[t.openTextIdx].Streaming = false
		t.openTextIdx = -1
	}
}

func (b *Builder) applyReasoningStart(t *Turn, ev *StreamEvent) {
	b.closeText(t)

	// A start while a block is open is an ordering anomaly: seal the
	// current block so chunks cannot be misattributed.
	if t.openBlockID != "" {
		b.logger.Warn("reasoning start while block open, sealing previous",
			zap.String("turn_id", t.ID),
			zap.String("open_block", t.openBlockID))
		b.sealBlock(t, t.openBlockID)
	}

	id := ev.BlockID
	if id == "" {
		t.blockCount++
		id = fmt.Sprintf("rb-%d", t.blockCount)
	}

	if _, exists := t.Blocks[id]; exists {
		// Replayed start for a known block: just reopen it.
		t.openBlockID = id
		return
	}

	order := t.nextOrder()
	t.Blocks[id] = &ReasoningBlock{ID: id, Order: order}
	t.Segments = append(t.Segments, &ContentSegment{
		Kind:      SegmentReasoning,
		Order:     order,
		BlockID:   id,
		Streaming: true,
	})
	t.openBlockID = id
}

// applyReasoningDelta appends to the open block. A chunk with no open
// block is an ordering anomaly: it is buffered against the most recently
// sealed block, or a fresh unsignalled block if none exists. Recovery,
// not silent loss.
func (b *Builder) applyReasoningDelta(t *Turn, ev *StreamEvent) {
	id := t.openBlockID
	if id == "" {
		if t.lastBlockID != "" {
			b.logger.Warn("reasoning chunk with no open block, buffering against last block",
				zap.String("turn_id", t.ID),
				zap.String("block_id", t.lastBlockID))
			id = t.lastBlockID
		} else {
			b.logger.Warn("reasoning chunk before any block, opening unsignalled block",
				zap.String("turn_id", t.ID))
			b.applyReasoningStart(t, &StreamEvent{Type: EventReasoningStart, BlockID: ev.BlockID})
			id = t.openBlockID
		}
	}
	if block, ok := t.Blocks[id]; ok {
		block.Content += ev.ReasoningText
	}
}

func (b *Builder) applyReasoningEnd(t *Turn, ev *StreamEvent) {
	id := ev.BlockID
	if id == "" {
		id = t.openBlockID
	}
	if id == "" {
		b.logger.Warn("reasoning end with no open block", zap.String("turn_id", t.ID))
		return
	}
	b.sealBlock(t, id)
}

func (b *Builder) sealBlock(t *Turn, id string) {
	if block, ok := t.Blocks[id]; ok {
		block.Complete = true
	}
	for _, seg := range t.Segments {
		if seg.Kind == SegmentReasoning && seg.BlockID == id {
			seg.Streaming = false
		}
	}
	if t.openBlockID == id {
		t.openBlockID = ""
	}
	t.lastBlockID = id
}

// applyToolCalls upserts ledger entries. The announcement alone puts
// nothing in the transcript: the segment is materialized when the result
// lands, so a call never sorts ahead of reasoning or text that streamed
// while it ran. Repeat announcements for a known id update the displayed
// name and payload only.
func (b *Builder) applyToolCalls(t *Turn, ev *StreamEvent) {
	for _, call := range ev.ToolCalls {
		state, seen := t.Calls[call.ID]
		if !seen {
			state = &ToolCallState{CallID: call.ID, InProgress: true}
			t.Calls[call.ID] = state
		}
		if call.Name != "" {
			state.ToolName = call.Name
		}
		if call.Args != nil {
			state.Invocation = call.Args
		}
		if !state.Complete && !state.Failed {
			state.InProgress = true
		}
	}
}

// applyToolResult records a result and gives the call its ordered place
// in the transcript. Works whether or not the announcement was seen.
func (b *Builder) applyToolResult(t *Turn, ev *StreamEvent) {
	b.closeText(t)

	state, seen := t.Calls[ev.CallID]
	if !seen {
		state = &ToolCallState{CallID: ev.CallID}
		t.Calls[ev.CallID] = state
	}
	if !t.hasCallSegment(ev.CallID) {
		t.Segments = append(t.Segments, &ContentSegment{
			Kind:   SegmentToolCall,
			Order:  t.nextOrder(),
			CallID: ev.CallID,
		})
	}

	state.Result = &ToolResult{Content: ev.Result, ContentType: ev.ResultType}
	state.InProgress = false

	switch ev.ToolStatus {
	case ToolStatusFailed:
		state.Failed = true
		state.Complete = false
	case ToolStatusCompleted:
		state.Complete = true
		state.Failed = false
	default:
		// No explicit status on the wire: fall back to the heuristic.
		if b.failure(ev.Result) {
			state.Failed = true
		} else {
			state.Complete = true
		}
	}
}
