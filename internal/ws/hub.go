package ws

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Hub tracks active WebSocket connections keyed by user ID so the server can
// close them on shutdown. Event fan-out itself goes through the bus; each
// connection follows its own user feed.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]map[*websocket.Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{
		conns: make(map[string]map[*websocket.Conn]struct{}),
	}
}

// Register adds a connection for the given user.
func (h *Hub) Register(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*websocket.Conn]struct{})
	}
	h.conns[userID][conn] = struct{}{}
}

// Unregister removes a connection for the given user.
func (h *Hub) Unregister(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.conns[userID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.conns, userID)
		}
	}
}

// CloseAll closes every tracked connection; used on graceful shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, conns := range h.conns {
		for conn := range conns {
			conn.Close()
		}
	}
	h.conns = make(map[string]map[*websocket.Conn]struct{})
}
