package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pfrederiksen/hockeygamebot/internal/logger"
	"github.com/pfrederiksen/hockeygamebot/internal/notifier"
	"github.com/pfrederiksen/hockeygamebot/internal/render"
)

const (
	writeWait      = 10 * time.Second
	clientBacklog  = 64
	broadcastQueue = 256
)

// WSMessage is what websocket clients receive.
type WSMessage struct {
	Type   string          `json:"type"`
	GameID string          `json:"game_id,omitempty"`
	Event  string          `json:"event,omitempty"`
	Key    string          `json:"key,omitempty"`
	Text   string          `json:"text,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// client is one websocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu    sync.Mutex
	games map[string]bool
}

// Hub fans rendered events out to websocket clients. It implements
// notifier.Publisher so it can be used as a dispatch route.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan *WSMessage
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mu         sync.RWMutex
	log        *logger.Logger
}

// NewHub creates a hub. Call Run before publishing.
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Default()
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan *WSMessage, broadcastQueue),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run serves the hub until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("Websocket client registered", logger.Fields{"clients": n})

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("Websocket client unregistered", logger.Fields{"clients": n})

		case msg := <-h.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				h.log.Error("Failed to marshal websocket message", nil, err)
				continue
			}
			h.mu.Lock()
			for c := range h.clients {
				if !c.wants(msg.GameID) {
					continue
				}
				select {
				case c.send <- data:
				default:
					// Slow client.
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// add registers c. It reports false once the hub has stopped.
func (h *Hub) add(c *client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Name implements notifier.Publisher.
func (h *Hub) Name() string {
	return "websocket"
}

// Publish queues p for every client subscribed to its game. channel is
// ignored.
func (h *Hub) Publish(ctx context.Context, p render.Payload, _ string) (notifier.Ack, error) {
	msg := &WSMessage{
		Type:   "event",
		GameID: p.GameID,
		Event:  p.Event,
		Key:    p.Key,
		Text:   p.Text,
		Data:   p.Data,
	}

	select {
	case h.broadcast <- msg:
	case <-ctx.Done():
		return notifier.Ack{}, notifier.Transient(h.Name(), ctx.Err())
	default:
		return notifier.Ack{}, notifier.Transient(h.Name(), errors.New("broadcast queue full"))
	}
	return notifier.Ack{Publisher: h.Name(), Channel: "broadcast", ID: p.Key, At: time.Now()}, nil
}

// wants reports whether the client subscribed to gameID. Clients without a
// subscription receive everything.
func (c *client) wants(gameID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.games) == 0 || c.games[gameID]
}

// readPump handles subscription requests until the connection closes.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("Websocket read failed", logger.Fields{"error": err.Error()})
			}
			return
		}
		c.handleMessage(data)
	}
}

// writePump writes queued messages until send is closed.
func (c *client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// subscription is a request sent by a client.
type subscription struct {
	Type    string   `json:"type"`
	GameIDs []string `json:"game_ids"`
}

func (c *client) handleMessage(data []byte) {
	var sub subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		c.hub.log.Debug("Ignoring malformed websocket message", logger.Fields{"error": err.Error()})
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch sub.Type {
	case "subscribe":
		c.games = make(map[string]bool, len(sub.GameIDs))
		for _, id := range sub.GameIDs {
			c.games[id] = true
		}
	case "unsubscribe":
		c.games = nil
	}
}
