package websocket

// Action constants for WebSocket messages
const (
	// Health
	ActionHealthCheck = "health.check"

	// Subscription actions
	ActionSessionSubscribe   = "session.subscribe"
	ActionSessionUnsubscribe = "session.unsubscribe"

	// Card actions (client -> server)
	ActionCardToggle   = "card.toggle"
	ActionCardFront    = "card.front"
	ActionCardPosition = "card.position"
	ActionCardOpen     = "card.open"

	// Notification actions (server -> client)
	ActionSessionSnapshot = "session.snapshot"
	ActionSessionError    = "session.error"
)

// Error codes
const (
	ErrorCodeBadRequest    = "BAD_REQUEST"
	ErrorCodeNotFound      = "NOT_FOUND"
	ErrorCodeInternalError = "INTERNAL_ERROR"
	ErrorCodeValidation    = "VALIDATION_ERROR"
	ErrorCodeUnknownAction = "UNKNOWN_ACTION"
)
