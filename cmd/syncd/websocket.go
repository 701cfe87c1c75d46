// WebSocket push notifications: a device that syncs is told when
// another of the same user's devices lands new data on the server.
package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shelfmark/shelfmark/backend/internal/auth"
	"github.com/shelfmark/shelfmark/backend/internal/logging"
	"github.com/shelfmark/shelfmark/backend/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Clients are native apps, not browsers; origin is meaningless.
		return true
	},
}

// WSClient represents one connected device.
type WSClient struct {
	id     string
	userID string
	conn   *websocket.Conn
	send   chan []byte
	hub    *WSHub
}

// WSHub tracks connected devices grouped by user.
type WSHub struct {
	clients    map[string]map[*WSClient]bool // userID -> devices
	register   chan *WSClient
	unregister chan *WSClient
	mu         sync.RWMutex
}

// WSEnvelope wraps all WebSocket messages.
type WSEnvelope struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}

const (
	EventSyncApplied = "sync.applied"
	EventConnected   = "connected"
)

// NewWSHub creates the hub and starts its event loop.
func NewWSHub() *WSHub {
	hub := &WSHub{
		clients:    make(map[string]map[*WSClient]bool),
		register:   make(chan *WSClient, 16),
		unregister: make(chan *WSClient, 16),
	}
	go hub.run()
	return hub
}

func (h *WSHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.userID] == nil {
				h.clients[client.userID] = make(map[*WSClient]bool)
			}
			h.clients[client.userID][client] = true
			h.mu.Unlock()
			logging.Debug("ws client connected", map[string]interface{}{
				"client_id": client.id, "user_id": client.userID,
			})

		case client := <-h.unregister:
			h.mu.Lock()
			if devices, ok := h.clients[client.userID]; ok && devices[client] {
				delete(devices, client)
				close(client.send)
				if len(devices) == 0 {
					delete(h.clients, client.userID)
				}
			}
			h.mu.Unlock()
			logging.Debug("ws client disconnected", map[string]interface{}{
				"client_id": client.id, "user_id": client.userID,
			})
		}
	}
}

// BroadcastSyncApplied tells every device of userID that the server
// holds new data past timestamp. Devices with full send buffers are
// dropped; they will reconnect and pull.
func (h *WSHub) BroadcastSyncApplied(userID string, timestamp int64) {
	envelope := WSEnvelope{
		Type:      EventSyncApplied,
		Data:      map[string]interface{}{"timestamp": timestamp},
		Timestamp: models.NowMillis(),
	}
	bytes, err := json.Marshal(envelope)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[userID] {
		select {
		case client.send <- bytes:
		default:
			go func(c *WSClient) { h.unregister <- c }(client)
		}
	}
}

// ServeWS handles GET /api/sync/ws, upgrading to a WebSocket after
// verifying the bearer token (header or token query parameter).
func (h *WSHub) ServeWS(verifier auth.Verifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := auth.FromRequest(r, verifier)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Warn("ws upgrade failed", map[string]interface{}{"error": err.Error()})
			return
		}

		client := &WSClient{
			id:     models.NewID().String(),
			userID: userID,
			conn:   conn,
			send:   make(chan []byte, 64),
			hub:    h,
		}
		h.register <- client

		go client.writePump()
		go client.readPump()
	}
}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
)

func (c *WSClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	// Greet so the client knows the session is live.
	hello, _ := json.Marshal(WSEnvelope{
		Type:      EventConnected,
		Data:      map[string]interface{}{"client_id": c.id},
		Timestamp: models.NowMillis(),
	})
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		return
	}

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	for {
		// Inbound messages are ignored; the socket is notify-only.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
