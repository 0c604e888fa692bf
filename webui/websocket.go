package webui

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sciglob/em27-enclosure/core"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // station network only
	},
}

// WSHub fans the event stream out to browser clients.
type WSHub struct {
	clients    map[*WSClient]bool
	broadcast  chan *core.Event
	register   chan *WSClient
	unregister chan *WSClient
	mu         sync.RWMutex
	hub        *core.Hub
	log        *zap.SugaredLogger
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// WSClient is one connected browser.
type WSClient struct {
	hub  *WSHub
	conn *websocket.Conn
	send chan []byte
}

// NewWSHub creates the websocket hub.
func NewWSHub(hub *core.Hub, log *zap.SugaredLogger) *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan *core.Event, 16),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		hub:        hub,
		log:        log,
		stopCh:     make(chan struct{}),
	}
}

// Start begins relaying events.
func (h *WSHub) Start() {
	h.wg.Add(2)
	go h.run()
	go h.subscribeLoop()
}

// Stop closes all client connections.
func (h *WSHub) Stop() {
	close(h.stopCh)
	h.wg.Wait()
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *WSHub) run() {
	defer h.wg.Done()

	for {
		select {
		case <-h.stopCh:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debugw("websocket client connected", "total", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debugw("websocket client disconnected", "total", n)

		case ev := <-h.broadcast:
			data, err := json.Marshal(ev)
			if err != nil {
				h.log.Warnw("websocket marshal failed", "err", err)
				continue
			}
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					// Client buffer full, skip this message.
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *WSHub) subscribeLoop() {
	defer h.wg.Done()

	sub := h.hub.Subscribe()
	defer sub.Unsubscribe()

	for {
		select {
		case <-h.stopCh:
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			select {
			case h.broadcast <- ev:
			default:
			}
		}
	}
}

// ServeWS upgrades the connection and attaches the client.
func (h *WSHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("websocket upgrade failed", "err", err)
		return
	}

	client := &WSClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 64),
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *WSClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
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

func (c *WSClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
