package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"fxreversal/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSEventType names the live-prediction push events streamed over
// /reversal/ws.
type WSEventType string

const (
	WSEventVersionSwitched     WSEventType = "version_switched"
	WSEventExperimentActivated WSEventType = "experiment_activated"
	WSEventPrediction          WSEventType = "prediction"
)

// WSEvent is the envelope broadcast to every subscriber.
type WSEvent struct {
	Type      WSEventType `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// wsClient is one subscriber connection.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// WSHub fans out prediction-service events to every subscribed
// dashboard, mirroring the teacher's register/unregister/broadcast
// channel shape.
type WSHub struct {
	clients    map[*wsClient]bool
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
	mu         sync.RWMutex
}

func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan []byte, 1024),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
	}
}

// Run drains the hub's channels until the process exits; call in its
// own goroutine.
func (h *WSHub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Emit broadcasts one typed event to every connected subscriber. A
// full broadcast buffer drops the event rather than blocking the
// caller (best-effort push channel, not a durable log).
func (h *WSHub) Emit(eventType WSEventType, payload interface{}) {
	data, err := json.Marshal(WSEvent{Type: eventType, Payload: payload, Timestamp: time.Now()})
	if err != nil {
		logging.Default().WithComponent("ws").WithError(err).Warn("failed to marshal event")
		return
	}
	select {
	case h.broadcast <- data:
	default:
		logging.Default().WithComponent("ws").Warn("broadcast buffer full, dropping event")
	}
}

func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client input, only watching for the connection
// closing; subscribers are receive-only.
func (c *wsClient) readPump(hub *WSHub) {
	defer func() {
		hub.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// handleWebSocket upgrades the request and registers the connection
// with the hub.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, 256)}
	s.hub.register <- client

	go client.writePump()
	go client.readPump(s.hub)
}
