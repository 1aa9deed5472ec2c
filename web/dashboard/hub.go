package dashboard

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cascadehq/cascade/internal/domain"
	"github.com/gorilla/websocket"
)

const writeTimeout = 5 * time.Second

// wsEvent is the wire shape delivered to dashboard clients.
type wsEvent struct {
	Type string       `json:"type"`
	Data domain.Event `json:"data"`
	TS   float64      `json:"ts"`
}

// Hub fans lifecycle events out to connected WebSocket clients.
// Delivery is best effort: a client that cannot keep up is dropped.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Local dashboard, no cross-origin restrictions.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// Handler upgrades HTTP requests to WebSocket connections and keeps
// them registered until the peer disconnects.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		h.mu.Lock()
		h.clients[conn] = struct{}{}
		h.mu.Unlock()

		// Drain reads so close frames are processed.
		go func() {
			defer h.remove(conn)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}

// Broadcast publishes one event to every connected client.
func (h *Hub) Broadcast(e domain.Event) {
	payload, err := json.Marshal(wsEvent{
		Type: string(e.Type),
		Data: e,
		TS:   float64(time.Now().UnixMilli()) / 1000,
	})
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects all clients.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn.Close()
	delete(h.clients, conn)
}
