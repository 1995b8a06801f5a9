package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/your-org/facesync/internal/models"
	"github.com/your-org/facesync/internal/observability"
	"github.com/your-org/facesync/pkg/dto"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client represents a connected WebSocket client.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	action string // optional filter
}

// Hub maintains active WebSocket clients and broadcasts attempt events.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub event loop until ctx is cancelled. Call this in a goroutine.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
				observability.WSConnections.Dec()
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			observability.WSConnections.Inc()
			slog.Debug("ws client connected", "filter", client.action)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				observability.WSConnections.Dec()
			}
			h.mu.Unlock()
			slog.Debug("ws client disconnected")

		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

func (h *Hub) deliver(message []byte) {
	var evt dto.AttemptEvent
	_ = json.Unmarshal(message, &evt)

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		if client.action != "" && client.action != evt.Action {
			continue
		}
		select {
		case client.send <- message:
		default:
			// Client buffer full, disconnect
			delete(h.clients, client)
			close(client.send)
			observability.WSConnections.Dec()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastAttempt sends an attempt event to all connected clients. It has
// the signature of an attempt consumer handler.
func (h *Hub) BroadcastAttempt(_ context.Context, entry *models.AttemptLog) error {
	data, err := json.Marshal(AttemptEvent(entry))
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- data:
	default:
		slog.Warn("ws broadcast queue full, dropping attempt event", "attempt_id", entry.ID)
	}
	return nil
}

// AttemptEvent converts a logged attempt to its wire form.
func AttemptEvent(entry *models.AttemptLog) *dto.AttemptEvent {
	return &dto.AttemptEvent{
		ID:         entry.ID,
		Action:     string(entry.Action),
		IdentityID: entry.IdentityID,
		Success:    entry.Success,
		Confidence: entry.Confidence,
		OriginIP:   entry.OriginIP,
		Error:      entry.ErrorMessage,
		LatencyMS:  entry.LatencyMS,
		CreatedAt:  entry.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// HandleWS handles WebSocket upgrade requests.
func (h *Hub) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "error", err)
		return
	}

	client := &Client{
		conn:   conn,
		send:   make(chan []byte, 64),
		action: c.Query("action"),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(h)
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		// Incoming messages are ignored; the loop only detects disconnection.
	}
}
