package events

import (
	"context"
	"sync"
	"time"

	"trainfleet/internal/model"
	"trainfleet/pkg/logger"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout  = 5 * time.Second
	broadcastSize = 256
)

// Hub fans job lifecycle events out to websocket subscribers (the live
// dashboard). Delivery is best-effort: a slow subscriber is dropped rather
// than allowed to block coordination traffic.
type Hub struct {
	mu        sync.Mutex
	conns     map[*websocket.Conn]struct{}
	broadcast chan *model.JobEvent
}

// NewHub creates an event hub
func NewHub() *Hub {
	return &Hub{
		conns:     make(map[*websocket.Conn]struct{}),
		broadcast: make(chan *model.JobEvent, broadcastSize),
	}
}

// Run delivers broadcast events until the context is cancelled
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case event := <-h.broadcast:
			h.deliver(event)
		}
	}
}

// Register adds a subscriber connection
func (h *Hub) Register(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = struct{}{}
}

// Unregister removes and closes a subscriber connection
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[conn]; ok {
		delete(h.conns, conn)
		conn.Close()
	}
}

// PublishJobEvent queues an event for broadcast. Never blocks: if the
// buffer is full the event is dropped (the asynq queue is the durable path).
func (h *Hub) PublishJobEvent(ctx context.Context, event *model.JobEvent) error {
	select {
	case h.broadcast <- event:
	default:
		logger.WarnCtx(ctx, "event hub buffer full, dropping event, type: %s, job_id: %s", event.Type, event.JobID)
	}
	return nil
}

// SubscriberCount returns the number of live subscribers
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Hub) deliver(event *model.JobEvent) {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(event); err != nil {
			logger.Debugf("dropping slow event subscriber: %v", err)
			h.Unregister(conn)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		conn.Close()
	}
	h.conns = make(map[*websocket.Conn]struct{})
}
