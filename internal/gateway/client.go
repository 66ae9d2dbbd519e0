package gateway

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendQueue  = 256
)

// Client is one websocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// Channel prefixes the client asked for. Empty means everything.
	subMu sync.RWMutex
	subs  map[string]bool
}

// clientMessage is what peers send: SUBSCRIBE / UNSUBSCRIBE with channel
// prefixes such as "signal:BTC/USDT", or a latency ping.
type clientMessage struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels"`
	Ping     int64    `json:"ping"`
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		conn: conn,
		send: make(chan []byte, sendQueue),
		hub:  h,
		subs: make(map[string]bool),
	}
}

func (c *Client) sendInitialState(lastTS string) {
	var cutoff time.Time
	if lastTS != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, lastTS); err == nil {
			cutoff = parsed
		}
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	for channel, entry := range c.hub.latest {
		if !cutoff.IsZero() && !entry.TS.After(cutoff) {
			continue
		}
		env := buildEnvelope(channel, entry.Data, entry.TS, c.hub.seq, entry.Seq, true)
		select {
		case c.send <- env:
		default:
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		slog.Info("ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if json.Unmarshal(raw, &msg) != nil {
			continue
		}

		switch msg.Type {
		case "SUBSCRIBE":
			c.subMu.Lock()
			for _, ch := range msg.Channels {
				c.subs[ch] = true
			}
			c.subMu.Unlock()
			c.reply(map[string]any{"type": "subscribed", "channels": msg.Channels})
		case "UNSUBSCRIBE":
			c.subMu.Lock()
			for _, ch := range msg.Channels {
				delete(c.subs, ch)
			}
			c.subMu.Unlock()
		default:
			if msg.Ping > 0 {
				c.reply(map[string]any{
					"type":      "pong",
					"ping":      msg.Ping,
					"server_ts": time.Now().UnixMilli(),
				})
			}
		}
	}
}

func (c *Client) reply(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// matchesChannel reports whether channel falls under one of the client's
// subscribed prefixes. A prefix matches whole ':'-separated segments.
func (c *Client) matchesChannel(channel string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	if len(c.subs) == 0 {
		return true
	}
	for prefix := range c.subs {
		if channel == prefix || strings.HasPrefix(channel, prefix+":") {
			return true
		}
	}
	return false
}
