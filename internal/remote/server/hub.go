package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/colabottles/basketbuddy/internal/logging"
	"github.com/colabottles/basketbuddy/internal/models"
	"github.com/colabottles/basketbuddy/internal/uuid"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsClient is one socket subscribed to one list's change feed.
type wsClient struct {
	id     string
	listID string
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
}

type listMessage struct {
	listID  string
	payload []byte
}

// Hub fans change events out to the sockets subscribed to each list.
type Hub struct {
	clients    map[string]*wsClient
	broadcast  chan listMessage
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	closeOnce  sync.Once
	mu         sync.RWMutex
}

// NewHub creates a hub and starts its loop.
func NewHub() *Hub {
	h := &Hub{
		clients:    make(map[string]*wsClient),
		broadcast:  make(chan listMessage, sendBuffer),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for id, c := range h.clients {
				close(c.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.id] = c
			n := len(h.clients)
			h.mu.Unlock()
			logging.Debug("realtime client connected", map[string]interface{}{
				"client_id": c.id,
				"list_id":   c.listID,
				"total":     n,
			})

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c.id]; ok {
				delete(h.clients, c.id)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			logging.Debug("realtime client disconnected", map[string]interface{}{
				"client_id": c.id,
				"total":     n,
			})

		case msg := <-h.broadcast:
			h.mu.Lock()
			for id, c := range h.clients {
				if c.listID != msg.listID {
					continue
				}
				select {
				case c.send <- msg.payload:
				default:
					// Slow consumer; drop it and let it reconnect.
					close(c.send)
					delete(h.clients, id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish sends ev to every socket subscribed to its list.
func (h *Hub) Publish(ev models.ChangeEvent) {
	env := models.Envelope{
		Type:      models.EnvelopeChange,
		ListID:    ev.ListID,
		Data:      &ev,
		Timestamp: time.Now().UnixMilli(),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		logging.Error("failed to encode change event", err, nil)
		return
	}
	select {
	case h.broadcast <- listMessage{listID: ev.ListID, payload: payload}:
	case <-h.done:
	}
}

// Subscribers returns how many sockets are watching listID.
func (h *Hub) Subscribers(listID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, c := range h.clients {
		if c.listID == listID {
			n++
		}
	}
	return n
}

// Close stops the hub and closes every socket's send queue.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// Serve upgrades the request and subscribes the socket to listID.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, listID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.WarnErr("websocket upgrade failed", err, map[string]interface{}{"list_id": listID})
		return
	}

	c := &wsClient{
		id:     uuid.New(),
		listID: listID,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		hub:    h,
	}

	ack, _ := json.Marshal(models.Envelope{
		Type:      models.EnvelopeSubscribed,
		ListID:    listID,
		Timestamp: time.Now().UnixMilli(),
	})
	c.send <- ack

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump only watches for close and pong frames; clients send nothing.
func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Debug("realtime read error", map[string]interface{}{"error": err.Error()})
			}
			return
		}
	}
}

func (c *wsClient) writePump() {
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
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
