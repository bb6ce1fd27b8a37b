package session

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tickerdesk/tickerdesk/internal/common/logger"
	"github.com/tickerdesk/tickerdesk/internal/transcript"
	ws "github.com/tickerdesk/tickerdesk/pkg/websocket"
)

// Handlers exposes the session API over HTTP and the WebSocket
// dispatcher.
type Handlers struct {
	service *Service
	prefs   *Preferences
	logger  *logger.Logger
}

func NewHandlers(svc *Service, prefs *Preferences, log *logger.Logger) *Handlers {
	return &Handlers{
		service: svc,
		prefs:   prefs,
		logger:  log.WithFields(zap.String("component", "session-handlers")),
	}
}

func RegisterRoutes(router *gin.Engine, dispatcher *ws.Dispatcher, svc *Service, prefs *Preferences, log *logger.Logger) {
	h := NewHandlers(svc, prefs, log)
	h.registerHTTP(router)
	h.registerWS(dispatcher)
}

func (h *Handlers) registerHTTP(router *gin.Engine) {
	api := router.Group("/api/v1")
	api.GET("/sessions", h.httpListSessions)
	api.GET("/sessions/:sessionID/snapshot", h.httpGetSnapshot)
	api.POST("/sessions/:sessionID/turns", h.httpBeginTurn)
	api.POST("/sessions/:sessionID/events", h.httpIngestEvent)
	api.POST("/sessions/:sessionID/cancel", h.httpCancel)
	api.POST("/sessions/:sessionID/rebuild", h.httpRebuild)
	api.GET("/sessions/:sessionID/calls/:callID/agent", h.httpResolveCall)
	api.POST("/sessions/:sessionID/cards/:agentID/toggle", h.httpToggleCard)
	api.POST("/sessions/:sessionID/cards/:agentID/front", h.httpCardFront)
	api.PUT("/sessions/:sessionID/cards/:agentID/position", h.httpCardPosition)
	api.POST("/sessions/:sessionID/cards/:agentID/open", h.httpOpenCard)
	api.GET("/preferences", h.httpGetPreferences)
	api.POST("/preferences/dismiss", h.httpDismissHint)
	api.DELETE("/preferences/dismiss/:hint", h.httpResetHint)
}

func (h *Handlers) registerWS(dispatcher *ws.Dispatcher) {
	dispatcher.RegisterFunc(ws.ActionCardToggle, h.wsCardToggle)
	dispatcher.RegisterFunc(ws.ActionCardFront, h.wsCardFront)
	dispatcher.RegisterFunc(ws.ActionCardPosition, h.wsCardPosition)
	dispatcher.RegisterFunc(ws.ActionCardOpen, h.wsCardOpen)
}

func (h *Handlers) httpListSessions(c *gin.Context) {
	ids, err := h.service.Sessions(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list sessions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sessions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": ids})
}

func (h *Handlers) httpGetSnapshot(c *gin.Context) {
	snap, err := h.service.Snapshot(c.Request.Context(), c.Param("sessionID"))
	if err != nil {
		h.logger.Error("failed to build snapshot", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build snapshot"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

type beginTurnRequest struct {
	TurnID string `json:"turn_id" binding:"required"`
}

func (h *Handlers) httpBeginTurn(c *gin.Context) {
	var body beginTurnRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := h.service.BeginTurn(c.Request.Context(), c.Param("sessionID"), body.TurnID); err != nil {
		h.logger.Error("failed to begin turn", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to begin turn"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"turn_id": body.TurnID})
}

type ingestEventRequest struct {
	TurnID string                 `json:"turn_id"`
	Event  map[string]interface{} `json:"event" binding:"required"`
}

// httpIngestEvent accepts a raw wire record over HTTP, for agent
// processes that do not speak the event bus.
func (h *Handlers) httpIngestEvent(c *gin.Context) {
	var body ingestEventRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := h.service.Ingest(c.Request.Context(), c.Param("sessionID"), body.TurnID, body.Event); err != nil {
		h.logger.Error("failed to ingest event", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to ingest event"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

func (h *Handlers) httpCancel(c *gin.Context) {
	err := h.service.Cancel(c.Request.Context(), c.Param("sessionID"))
	switch {
	case errors.Is(err, transcript.ErrEmptyStream):
		c.JSON(http.StatusOK, gin.H{"cancelled": true, "empty": true})
	case err != nil:
		h.logger.Error("failed to cancel turn", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel turn"})
	default:
		c.JSON(http.StatusOK, gin.H{"cancelled": true})
	}
}

func (h *Handlers) httpRebuild(c *gin.Context) {
	snap, err := h.service.Rebuild(c.Request.Context(), c.Param("sessionID"))
	if err != nil {
		h.logger.Error("failed to rebuild session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to rebuild session"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// httpResolveCall answers "which subagent did this tool call create".
// 202 means the call is queued for matching but no subagent has been
// announced yet; clients should retry, not error.
func (h *Handlers) httpResolveCall(c *gin.Context) {
	res, err := h.service.ResolveCall(c.Request.Context(), c.Param("sessionID"), c.Param("callID"))
	if err != nil {
		h.logger.Error("failed to resolve tool call", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve tool call"})
		return
	}
	switch {
	case res.Pending:
		c.JSON(http.StatusAccepted, gin.H{"pending": true})
	case res.AgentID == "":
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown tool call"})
	default:
		c.JSON(http.StatusOK, gin.H{"agent_id": res.AgentID})
	}
}

func (h *Handlers) httpToggleCard(c *gin.Context) {
	if err := h.service.ToggleCard(c.Request.Context(), c.Param("sessionID"), c.Param("agentID")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to toggle card"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) httpCardFront(c *gin.Context) {
	if err := h.service.BringCardToFront(c.Request.Context(), c.Param("sessionID"), c.Param("agentID")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to raise card"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type cardPositionRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (h *Handlers) httpCardPosition(c *gin.Context) {
	var body cardPositionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := h.service.SetCardPosition(c.Request.Context(), c.Param("sessionID"), c.Param("agentID"), body.X, body.Y); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to move card"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) httpOpenCard(c *gin.Context) {
	if err := h.service.OpenCard(c.Request.Context(), c.Param("sessionID"), c.Param("agentID")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to open card"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) httpGetPreferences(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"dismissed": h.prefs.Snapshot()})
}

type dismissHintRequest struct {
	Hint string `json:"hint" binding:"required"`
}

func (h *Handlers) httpDismissHint(c *gin.Context) {
	var body dismissHintRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	h.prefs.Dismiss(body.Hint)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) httpResetHint(c *gin.Context) {
	h.prefs.Reset(c.Param("hint"))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type wsCardRequest struct {
	SessionID string  `json:"session_id"`
	AgentID   string  `json:"agent_id"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
}

func (h *Handlers) wsCardToggle(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsCardRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if err := h.service.ToggleCard(ctx, req.SessionID, req.AgentID); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeInternalError, "Failed to toggle card", nil)
	}
	return ws.NewResponse(msg.ID, msg.Action, gin.H{"success": true})
}

func (h *Handlers) wsCardFront(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsCardRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if err := h.service.BringCardToFront(ctx, req.SessionID, req.AgentID); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeInternalError, "Failed to raise card", nil)
	}
	return ws.NewResponse(msg.ID, msg.Action, gin.H{"success": true})
}

func (h *Handlers) wsCardPosition(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsCardRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if err := h.service.SetCardPosition(ctx, req.SessionID, req.AgentID, req.X, req.Y); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeInternalError, "Failed to move card", nil)
	}
	return ws.NewResponse(msg.ID, msg.Action, gin.H{"success": true})
}

func (h *Handlers) wsCardOpen(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsCardRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if err := h.service.OpenCard(ctx, req.SessionID, req.AgentID); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeInternalError, "Failed to open card", nil)
	}
	return ws.NewResponse(msg.ID, msg.Action, gin.H{"success": true})
}
