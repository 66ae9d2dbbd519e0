// Package gateway streams live trading events to dashboard clients over
// websockets and exposes a small REST surface for the latest state.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"tradebot/internal/model"

	"github.com/gorilla/websocket"
)

// Channel names. Symbol and timeframe are appended with ':' separators.
const (
	ChannelSignal = "signal"
	ChannelFill   = "fill"
	ChannelEquity = "equity"
	ChannelAlert  = "alert"
)

// Hub tracks websocket clients and fans events out to them. Every channel
// keeps its latest payload, a sequence number and a replay buffer so
// reconnecting clients can backfill gaps.
type Hub struct {
	mu          sync.RWMutex
	clients     map[*Client]bool
	latest      map[string]latestEntry
	channelSeqs map[string]int64
	replayBufs  map[string]*ReplayBuffer
	seq         int64

	replaySize int
	now        func() time.Time

	// OnClientCount is called with the client count after every connect
	// and disconnect.
	OnClientCount func(n int)
}

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
	Seq  int64
}

// NewHub creates an empty hub. replaySize is the number of envelopes kept
// per channel.
func NewHub(replaySize int) *Hub {
	if replaySize <= 0 {
		replaySize = 500
	}
	return &Hub{
		clients:     make(map[*Client]bool),
		latest:      make(map[string]latestEntry),
		channelSeqs: make(map[string]int64),
		replayBufs:  make(map[string]*ReplayBuffer),
		replaySize:  replaySize,
		now:         time.Now,
	}
}

// SignalChannel returns "signal:<symbol>:<tf>".
func SignalChannel(symbol, tf string) string { return ChannelSignal + ":" + symbol + ":" + tf }

// FillChannel returns "fill:<symbol>".
func FillChannel(symbol string) string { return ChannelFill + ":" + symbol }

// EquityChannel returns "equity:<symbol>".
func EquityChannel(symbol string) string { return ChannelEquity + ":" + symbol }

// PublishSignal broadcasts a live signal.
func (h *Hub) PublishSignal(ev model.SignalEvent) {
	h.Publish(SignalChannel(ev.Symbol, ev.Timeframe), ev)
}

// PublishFill broadcasts an order fill.
func (h *Hub) PublishFill(f model.Fill) {
	h.Publish(FillChannel(f.Symbol), f)
}

// PublishEquity broadcasts an equity point.
func (h *Hub) PublishEquity(symbol string, pt model.EquityPoint) {
	h.Publish(EquityChannel(symbol), pt)
}

// Publish marshals v and broadcasts it on channel.
func (h *Hub) Publish(channel string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("gateway marshal failed", "channel", channel, "error", err)
		return
	}
	h.broadcast(channel, data)
}

// HandleConn registers an upgraded connection. When lastTS is set the
// client only receives latest values newer than it.
func (h *Hub) HandleConn(conn *websocket.Conn, lastTS string) *Client {
	c := newClient(h, conn)

	h.mu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()

	slog.Info("ws client connected", "clients", count)
	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}

	c.sendInitialState(lastTS)
	go c.writePump()
	go c.readPump()
	return c
}

// RemoveClient unregisters c and closes its send queue.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	close(c.send)
	h.mu.Unlock()

	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}
}

// Latest returns the latest payload of every channel.
func (h *Hub) Latest() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make(map[string]json.RawMessage, len(h.latest))
	for k, v := range h.latest {
		cp[k] = v.Data
	}
	return cp
}

// ReplayRange returns the envelopes of channel with sequence numbers in
// [fromSeq, toSeq].
func (h *Hub) ReplayRange(channel string, fromSeq, toSeq int64) [][]byte {
	h.mu.RLock()
	rb, ok := h.replayBufs[channel]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	return rb.Range(fromSeq, toSeq)
}

// ChannelSeq returns the last sequence number sent on channel.
func (h *Hub) ChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelSeqs[channel]
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.conn.Close()
	}
}

// RelayPubSub forwards messages from a message source (typically a Redis
// subscription) to the hub until ctx is cancelled or msgs closes. The
// "pub:" prefix of Redis channel names is stripped.
func (h *Hub) RelayPubSub(ctx context.Context, msgs <-chan RelayMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			channel := m.Channel
			if len(channel) > 4 && channel[:4] == "pub:" {
				channel = channel[4:]
			}
			h.broadcast(channel, []byte(m.Payload))
		}
	}
}

// RelayMessage is one message from an external pub/sub source.
type RelayMessage struct {
	Channel string
	Payload string
}
