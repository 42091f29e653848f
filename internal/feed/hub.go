// Package feed broadcasts swap lifecycle transitions to connected WebSocket
// clients, for dashboards and external resolvers that want to watch a swap
// without polling Engine.GetStatus.
package feed

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/klingon-exchange/swapd/internal/swap"
	"github.com/klingon-exchange/swapd/pkg/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// EventType identifies the kind of message sent to a subscriber.
type EventType string

const (
	EventSwapStateChanged EventType = "swap_state_changed"
)

// Event is a single WebSocket message.
type Event struct {
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// swapSnapshot is the JSON projection of a swap.Record sent to subscribers.
// It mirrors Record's externally interesting fields rather than exposing
// the whole struct verbatim.
type swapSnapshot struct {
	ID               string `json:"id"`
	State            string `json:"state"`
	SourceChain      string `json:"sourceChain"`
	DestChain        string `json:"destChain"`
	ErrorDescription string `json:"errorDescription,omitempty"`
}

func snapshot(rec swap.Record) swapSnapshot {
	return swapSnapshot{
		ID:               rec.ID,
		State:            string(rec.State),
		SourceChain:      rec.Request.SourceChain,
		DestChain:        rec.Request.DestChain,
		ErrorDescription: rec.ErrorDescription,
	}
}

// client is one connected WebSocket subscriber.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans swap state transitions out to every connected client. A Hub must
// be started with Run before it can broadcast anything.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan *Event
	register   chan *client
	unregister chan *client
	log        *logging.Logger
	mu         sync.RWMutex
}

// NewHub creates an unstarted Hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan *Event, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		log:        logging.Component("feed"),
	}
}

// Run drives the hub's registration/broadcast loop until stop is closed.
func (h *Hub) Run(stop <-chan struct{}) {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.log.Debug("feed client connected", "clients", len(h.clients))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.log.Debug("feed client disconnected", "clients", len(h.clients))

		case evt := <-h.broadcast:
			data, err := json.Marshal(evt)
			if err != nil {
				h.log.Error("marshal event failed", "err", err)
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					h.log.Warn("feed client buffer full, dropping")
				}
			}
			h.mu.RUnlock()

		case <-stop:
			return
		}
	}
}

// BroadcastRecord publishes a swap state transition. Safe to call from
// Engine's setState while the swap's own per-entry lock is held: this never
// blocks beyond enqueueing onto the hub's own buffered channel.
func (h *Hub) BroadcastRecord(rec swap.Record) {
	evt := &Event{Type: EventSwapStateChanged, Data: snapshot(rec), Timestamp: time.Now().Unix()}
	select {
	case h.broadcast <- evt:
	default:
		h.log.Warn("broadcast channel full, dropping swap event", "swap", rec.ID)
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Handler upgrades incoming HTTP requests to WebSocket connections
// subscribed to every broadcast event.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Error("upgrade failed", "err", err)
			return
		}
		c := &client{conn: conn, send: make(chan []byte, 64)}
		h.register <- c
		go h.writePump(c)
		go h.readPump(c)
	}
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
