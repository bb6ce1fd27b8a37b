package transcript

import (
	"fmt"
)

// Decode normalizes a JSON-decoded wire record into a StreamEvent.
// The boundary is a tagged-variant decoder: one normalization function per
// known wire shape, so downstream logic never sniffs field presence.
// Unknown or malformed records return an error; callers log and skip them
// (protocol anomalies are non-fatal).
func Decode(raw map[string]interface{}) (*StreamEvent, error) {
	if raw == nil {
		return nil, fmt.Errorf("nil event record")
	}

	typ, _ := raw["type"].(string)
	if typ == "" {
		return nil, fmt.Errorf("event record has no type discriminator")
	}

	var (
		ev  *StreamEvent
		err error
	)

	switch typ {
	case "text-chunk", EventTextDelta:
		ev, err = decodeTextChunk(raw)
	case "reasoning-signal":
		ev, err = decodeReasoningSignal(raw)
	case EventReasoningStart:
		ev = &StreamEvent{Type: EventReasoningStart, BlockID: stringField(raw, "block_id")}
	case EventReasoningEnd:
		ev = &StreamEvent{Type: EventReasoningEnd, BlockID: stringField(raw, "block_id")}
	case "reasoning-chunk", EventReasoningDelta:
		ev, err = decodeReasoningChunk(raw)
	case "tool-calls", EventToolCalls:
		ev, err = decodeToolCalls(raw)
	case "tool-call-result", EventToolResult:
		ev, err = decodeToolResult(raw)
	case "subagent-status", EventAgentStatus:
		ev, err = decodeAgentStatus(raw)
	case "complete", "turn-complete", EventTurnComplete:
		ev = &StreamEvent{Type: EventTurnComplete}
	case EventError:
		ev = &StreamEvent{
			Type:         EventError,
			ErrorCode:    stringField(raw, "code"),
			ErrorMessage: stringField(raw, "message"),
		}
	default:
		return nil, fmt.Errorf("unknown event type %q", typ)
	}
	if err != nil {
		return nil, err
	}

	ev.DeliveryID = intField(raw, "delivery_id")
	if ev.DeliveryID == 0 {
		ev.DeliveryID = intField(raw, "seq")
	}
	return ev, nil
}

func decodeTextChunk(raw map[string]interface{}) (*StreamEvent, error) {
	text := stringField(raw, "text")
	if text == "" {
		text = stringField(raw, "delta")
	}
	return &StreamEvent{Type: EventTextDelta, Text: text}, nil
}

// decodeReasoningSignal handles the combined start/complete signal shape:
// {"type":"reasoning-signal","signal":"start"|"complete","block_id":...}
func decodeReasoningSignal(raw map[string]interface{}) (*StreamEvent, error) {
	signal := stringField(raw, "signal")
	blockID := stringField(raw, "block_id")
	switch signal {
	case "start":
		return &StreamEvent{Type: EventReasoningStart, BlockID: blockID}, nil
	case "complete", "end":
		return &StreamEvent{Type: EventReasoningEnd, BlockID: blockID}, nil
	default:
		return nil, fmt.Errorf("reasoning-signal with unknown signal %q", signal)
	}
}

func decodeReasoningChunk(raw map[string]interface{}) (*StreamEvent, error) {
	text := stringField(raw, "text")
	if text == "" {
		text = stringField(raw, "reasoning_text")
	}
	return &StreamEvent{
		Type:          EventReasoningDelta,
		BlockID:       stringField(raw, "block_id"),
		ReasoningText: text,
	}, nil
}

func decodeToolCalls(raw map[string]interface{}) (*StreamEvent, error) {
	ev := &StreamEvent{
		Type:         EventToolCalls,
		FinishReason: stringField(raw, "finish_reason"),
	}

	calls, _ := raw["calls"].([]interface{})
	if calls == nil {
		calls, _ = raw["tool_calls"].([]interface{})
	}
	for _, c := range calls {
		cm, ok := c.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("tool-calls entry is not an object")
		}
		id := stringField(cm, "id")
		if id == "" {
			return nil, fmt.Errorf("tool-calls entry has no id")
		}
		args, _ := cm["args"].(map[string]interface{})
		if args == nil {
			args, _ = cm["arguments"].(map[string]interface{})
		}
		ev.ToolCalls = append(ev.ToolCalls, ToolCallAnnouncement{
			ID:   id,
			Name: stringField(cm, "name"),
			Args: args,
		})
	}
	return ev, nil
}

func decodeToolResult(raw map[string]interface{}) (*StreamEvent, error) {
	id := stringField(raw, "id")
	if id == "" {
		id = stringField(raw, "call_id")
	}
	if id == "" {
		return nil, fmt.Errorf("tool-call-result has no call id")
	}
	return &StreamEvent{
		Type:       EventToolResult,
		CallID:     id,
		Result:     stringField(raw, "content"),
		ResultType: stringField(raw, "content_type"),
		ToolStatus: stringField(raw, "status"),
	}, nil
}

// decodeAgentStatus handles both subagent-status wire shapes.
//
// Preferred: {"active":[{"id":"Task-1","agent_id":"research:abc",...}],
// "completed":["Task-2"]} where completed entries are display ids that
// must resolve through the display-id map.
//
// Legacy: {"agents":["research:abc", ...]} with bare stable ids and no
// display indirection.
func decodeAgentStatus(raw map[string]interface{}) (*StreamEvent, error) {
	if agents, ok := raw["agents"].([]interface{}); ok {
		ev := &StreamEvent{Type: EventAgentStatus, LegacyAgentIDs: true}
		for _, a := range agents {
			id, ok := a.(string)
			if !ok {
				return nil, fmt.Errorf("legacy subagent-status entry is not a string")
			}
			ev.Completed = append(ev.Completed, id)
		}
		return ev, nil
	}

	ev := &StreamEvent{Type: EventAgentStatus}

	active, _ := raw["active"].([]interface{})
	for _, a := range active {
		am, ok := a.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("subagent-status active entry is not an object")
		}
		agentID := stringField(am, "agent_id")
		if agentID == "" {
			return nil, fmt.Errorf("subagent-status active entry has no agent_id")
		}
		entry := AgentStatusEntry{
			DisplayID:   stringField(am, "id"),
			AgentID:     agentID,
			Description: stringField(am, "description"),
			Kind:        stringField(am, "kind"),
			Status:      stringField(am, "status"),
		}
		// current_tool: empty string means "clear", absence means
		// "preserve". The distinction survives normalization.
		if v, ok := am["current_tool"]; ok {
			s, _ := v.(string)
			entry.CurrentTool = &s
		}
		if v, ok := am["tool_call_count"]; ok {
			if f, ok := v.(float64); ok {
				n := int(f)
				entry.ToolCallCount = &n
			}
		}
		ev.Active = append(ev.Active, entry)
	}

	completed, _ := raw["completed"].([]interface{})
	for _, c := range completed {
		id, ok := c.(string)
		if !ok {
			return nil, fmt.Errorf("subagent-status completed entry is not a string")
		}
		ev.Completed = append(ev.Completed, id)
	}
	return ev, nil
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func intField(m map[string]interface{}, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}
