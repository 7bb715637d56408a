package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// pushEvent is the wire shape of one live push. The payload intentionally
// carries no notification content; clients re-pull the list on receipt.
type pushEvent struct {
	Event string `json:"event"`
}

const eventNewNotification = "newNotification"

type wsClient struct {
	userID int64
	conn   *websocket.Conn
	send   chan []byte
}

// Hub fans push events out to each user's live websocket connections.
type Hub struct {
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[int64]map[*wsClient]struct{}
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: map[int64]map[*wsClient]struct{}{},
	}
}

// NotifyUser pushes a newNotification event to every live connection the
// user holds. Slow consumers are dropped rather than blocking the sender.
func (h *Hub) NotifyUser(userID int64) {
	msg, _ := json.Marshal(pushEvent{Event: eventNewNotification})

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients[userID] {
		select {
		case c.send <- msg:
		default:
			h.log.Warn().Int64("user_id", userID).Msg("dropping slow websocket consumer")
			close(c.send)
			delete(h.clients[userID], c)
		}
	}
}

// ServeWS upgrades an authenticated request to a websocket and keeps it
// registered until the peer goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := callerID(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &wsClient{userID: userID, conn: conn, send: make(chan []byte, 8)}
	h.register(c)

	go c.writePump()
	go func() {
		defer h.unregister(c)
		// Reads are discarded; the stream is server-to-client only. The
		// loop exists to notice the peer closing.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.userID] == nil {
		h.clients[c.userID] = map[*wsClient]struct{}{}
	}
	h.clients[c.userID][c] = struct{}{}
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c.userID][c]; ok {
		delete(h.clients[c.userID], c)
		close(c.send)
	}
	h.mu.Unlock()
	_ = c.conn.Close()
}

// Shutdown closes every live connection.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, set := range h.clients {
		for c := range set {
			close(c.send)
			_ = c.conn.Close()
		}
		delete(h.clients, userID)
	}
}

func (c *wsClient) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
