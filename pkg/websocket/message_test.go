package websocket

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNotificationRoundTrip(t *testing.T) {
	msg, err := NewNotification(ActionSessionSnapshot, map[string]interface{}{
		"session_id": "sess-1",
	})
	require.NoError(t, err)
	assert.Equal(t, MessageTypeNotification, msg.Type)
	assert.Equal(t, ActionSessionSnapshot, msg.Action)
	assert.False(t, msg.Timestamp.IsZero())

	var payload map[string]interface{}
	require.NoError(t, msg.ParsePayload(&payload))
	assert.Equal(t, "sess-1", payload["session_id"])
}

func TestNewErrorCarriesPayload(t *testing.T) {
	msg, err := NewError("req-1", ActionCardToggle, ErrorCodeNotFound, "no such card", map[string]interface{}{"agent_id": "research:abc"})
	require.NoError(t, err)
	assert.Equal(t, MessageTypeError, msg.Type)

	var payload ErrorPayload
	require.NoError(t, msg.ParsePayload(&payload))
	assert.Equal(t, ErrorCodeNotFound, payload.Code)
	assert.Equal(t, "no such card", payload.Message)
	assert.Equal(t, "research:abc", payload.Details["agent_id"])
}

func TestDispatcherRoutesByAction(t *testing.T) {
	d := NewDispatcher()

	d.RegisterFunc(ActionHealthCheck, func(ctx context.Context, msg *Message) (*Message, error) {
		return NewResponse(msg.ID, msg.Action, map[string]interface{}{"status": "ok"})
	})
	assert.True(t, d.HasHandler(ActionHealthCheck))
	assert.False(t, d.HasHandler(ActionCardToggle))

	req := &Message{ID: "req-1", Type: MessageTypeRequest, Action: ActionHealthCheck}
	resp, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, MessageTypeResponse, resp.Type)
	assert.Equal(t, "req-1", resp.ID)
}

func TestDispatcherUnknownAction(t *testing.T) {
	d := NewDispatcher()

	resp, err := d.Dispatch(context.Background(), &Message{ID: "req-1", Action: "nope"})
	require.NoError(t, err)
	assert.Equal(t, MessageTypeError, resp.Type)

	var payload ErrorPayload
	require.NoError(t, resp.ParsePayload(&payload))
	assert.Equal(t, ErrorCodeUnknownAction, payload.Code)
}
