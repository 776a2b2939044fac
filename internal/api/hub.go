// Package api exposes the engine over HTTP and WebSocket — launching runs,
// polling their status, and streaming live progress/signal/trade events —
// grounded on the teacher's internal/api (server.go, websocket.go),
// re-targeted from its live-trading order/position/PnL channels onto this
// module's backtest run lifecycle.
package api

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// EventType names the channels a client can subscribe to, mirrored on the
// teacher's MessageType constants.
type EventType string

const (
	EventProgress      EventType = "run:progress"
	EventSignal        EventType = "run:signal"
	EventTradeClosed   EventType = "run:trade_closed"
	EventGovernance    EventType = "run:governance"
	EventPortfolioHeat EventType = "run:portfolio_heat"
	EventComplete      EventType = "run:complete"
	EventHeartbeat     EventType = "heartbeat"

	msgSubscribe   = "subscribe"
	msgUnsubscribe = "unsubscribe"
)

// Envelope is the wire format for every server->client push, and the
// subset of fields a client uses to (un)subscribe.
type Envelope struct {
	Type      EventType       `json:"type"`
	RunID     string          `json:"runId,omitempty"`
	Channel   string          `json:"channel,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

type clientCommand struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

// Client is one WebSocket connection, subscribed to zero or more run IDs.
// An empty subscription set means "all runs".
type Client struct {
	id    string
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	mu    sync.RWMutex
	subs  map[string]bool
}

// Hub fans out run events to subscribed clients, grounded on the teacher's
// websocket.Hub (register/unregister/broadcast channels, periodic
// heartbeat).
type Hub struct {
	logger     *zap.Logger
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	mu         sync.RWMutex
}

// NewHub constructs an idle hub; call Run in a goroutine to start it.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
	}
}

// Run pumps the hub's register/unregister/broadcast/heartbeat loop until
// stop is closed.
func (h *Hub) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
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
		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.RUnlock()
		case <-ticker.C:
			h.publish(Envelope{Type: EventHeartbeat, Timestamp: time.Now().UnixMilli()})
		}
	}
}

// Publish broadcasts payload under runID to every client subscribed to
// that run (or subscribed to nothing, meaning "all runs").
func (h *Hub) Publish(runID string, evt EventType, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("marshal event payload failed", zap.String("event", string(evt)), zap.Error(err))
		}
		return
	}
	h.publishFiltered(runID, Envelope{Type: evt, RunID: runID, Payload: body, Timestamp: time.Now().UnixMilli()})
}

func (h *Hub) publish(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
		if h.logger != nil {
			h.logger.Warn("broadcast channel full, dropping event")
		}
	}
}

func (h *Hub) publishFiltered(runID string, env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(runID) {
			continue
		}
		select {
		case c.send <- data:
		default:
			close(c.send)
			delete(h.clients, c)
		}
	}
}

func (c *Client) wants(runID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.subs) == 0 {
		return true
	}
	return c.subs[runID]
}

// NewClient wraps conn, registering it with hub.
func NewClient(id string, hub *Hub, conn *websocket.Conn) *Client {
	return &Client{id: id, hub: hub, conn: conn, send: make(chan []byte, 256), subs: make(map[string]bool)}
}

// ReadPump drains client->server messages (subscribe/unsubscribe) until
// the connection closes, grounded on the teacher's Client.ReadPump.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket read error", zap.String("client", c.id), zap.Error(err))
			}
			return
		}
		var cmd clientCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			continue
		}
		c.mu.Lock()
		switch cmd.Type {
		case msgSubscribe:
			c.subs[cmd.Channel] = true
		case msgUnsubscribe:
			delete(c.subs, cmd.Channel)
		}
		c.mu.Unlock()
	}
}

// WritePump pumps hub->client messages and periodic pings, grounded on
// the teacher's Client.WritePump.
func (c *Client) WritePump() {
	ticker := time.NewTicker(54 * time.Second)
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
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			if err := w.Close(); err != nil {
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
