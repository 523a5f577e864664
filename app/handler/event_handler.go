package handler

import (
	"net/http"

	"trainfleet/internal/events"
	"trainfleet/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Dashboard clients connect cross-origin; auth happens at the middleware
	CheckOrigin: func(r *http.Request) bool { return true },
}

// EventHandler streams job lifecycle events to websocket subscribers
type EventHandler struct {
	hub *events.Hub
}

// NewEventHandler creates event handler
func NewEventHandler(hub *events.Hub) *EventHandler {
	return &EventHandler{hub: hub}
}

// Subscribe upgrades the connection and registers it with the hub
// @Summary Subscribe to job events
// @Description Websocket stream of job lifecycle events (submitted, claimed, completed, ...)
// @Tags events
// @Router /v1/events/ws [get]
func (h *EventHandler) Subscribe(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "websocket upgrade failed: %v", err)
		return
	}

	h.hub.Register(conn)
	logger.DebugCtx(c.Request.Context(), "event subscriber connected, total: %d", h.hub.SubscriberCount())

	// Drain reads so control frames are processed; unregister on close
	go func() {
		defer h.hub.Unregister(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
