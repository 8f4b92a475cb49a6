package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/blockedge/carbonx/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS is enforced on the main router
		return true
	},
}

// Hub maintains active WebSocket connections and fans out broadcasts.
type Hub struct {
	clients map[*Client]bool

	// hub-wide messages, e.g. the reset notice
	broadcast chan []byte

	register   chan *Client
	unregister chan *Client
	// closed when Run exits, so client registration and teardown never
	// block on a hub loop that is gone
	done chan struct{}

	mu      sync.RWMutex
	metrics *metrics.Metrics
	logger  *zap.SugaredLogger
}

func NewHub(m *metrics.Metrics, logger *zap.SugaredLogger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		metrics:    m,
		logger:     logger,
	}
}

// Run owns the client set until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			close(h.done)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			if h.metrics != nil {
				h.metrics.ClientConnected()
			}
			h.logger.Infow("ws_client_connected", "client", client.id, "total", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				if h.metrics != nil {
					h.metrics.ClientDisconnected()
				}
				h.logger.Infow("ws_client_disconnected", "client", client.id, "total", len(h.clients))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// send buffer full, drop the slow client
					close(client.send)
					delete(h.clients, client)
					if h.metrics != nil {
						h.metrics.ClientDisconnected()
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

// add hands a new client to the hub loop. Reports false once the hub
// has shut down.
func (h *Hub) add(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// remove returns a client to the hub loop for cleanup. After shutdown
// the hub has already closed every client, so this is a no-op.
func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// BroadcastAll queues a message for every connected client.
func (h *Hub) BroadcastAll(data interface{}) {
	message, err := json.Marshal(data)
	if err != nil {
		h.logger.Warnw("ws_marshal_failed", "err", err)
		return
	}
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warnw("ws_broadcast_queue_full")
	}
}

// BroadcastToChannel sends a message to clients subscribed to a channel.
func (h *Hub) BroadcastToChannel(channel string, data interface{}) {
	message, err := json.Marshal(data)
	if err != nil {
		h.logger.Warnw("ws_marshal_failed", "channel", channel, "err", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if client.IsSubscribed(channel) {
			select {
			case client.send <- message:
			default:
				// buffer full, skip this client; the hub loop will
				// drop it if it stays stuck
			}
		}
	}
}

// Client represents one WebSocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string

	subscriptions map[string]bool
	subsMu        sync.RWMutex
}

// IsSubscribed checks if the client listens on a channel.
func (c *Client) IsSubscribed(channel string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return c.subscriptions[channel]
}

// Subscribe adds a channel subscription.
func (c *Client) Subscribe(channel string) {
	c.subsMu.Lock()
	c.subscriptions[channel] = true
	c.subsMu.Unlock()
	c.hub.logger.Infow("ws_subscribed", "client", c.id, "channel", channel)
}

// Unsubscribe removes a channel subscription.
func (c *Client) Unsubscribe(channel string) {
	c.subsMu.Lock()
	delete(c.subscriptions, channel)
	c.subsMu.Unlock()
	c.hub.logger.Infow("ws_unsubscribed", "client", c.id, "channel", channel)
}

// readPump consumes subscription requests until the connection drops.
func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Infow("ws_read_error", "client", c.id, "err", err)
			}
			break
		}

		var req WSSubscribeRequest
		if err := json.Unmarshal(message, &req); err != nil {
			c.hub.logger.Infow("ws_invalid_message", "client", c.id, "err", err)
			continue
		}

		switch req.Op {
		case "subscribe":
			for _, channel := range req.Channels {
				c.Subscribe(channel)
			}
		case "unsubscribe":
			for _, channel := range req.Channels {
				c.Unsubscribe(channel)
			}
		default:
			c.hub.logger.Infow("ws_unknown_op", "client", c.id, "op", req.Op)
		}
	}
}

// writePump flushes queued messages and keeps the connection alive
// with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// flush whatever queued behind this message
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleWebSocket upgrades the connection and starts the client pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("ws_upgrade_failed", "err", err)
		return
	}

	client := &Client{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, sendBufferSize),
		id:            conn.RemoteAddr().String(),
		subscriptions: make(map[string]bool),
	}

	if !client.hub.add(client) {
		// hub already shut down; refuse the connection
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
