package gateway

import (
	"log/slog"
	"strconv"
	"time"
)

// broadcast records data as the latest value of channel, stores the
// envelope for replay and queues it to every matching client. Slow clients
// miss messages rather than blocking the caller.
func (h *Hub) broadcast(channel string, data []byte) {
	now := h.now().UTC()

	h.mu.Lock()
	h.channelSeqs[channel]++
	channelSeq := h.channelSeqs[channel]
	h.seq++
	seq := h.seq
	h.latest[channel] = latestEntry{Data: data, TS: now, Seq: channelSeq}
	rb, ok := h.replayBufs[channel]
	if !ok {
		rb = NewReplayBuffer(h.replaySize)
		h.replayBufs[channel] = rb
	}
	h.mu.Unlock()

	buf := buildEnvelope(channel, data, now, seq, channelSeq, false)
	rb.Push(channelSeq, buf)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.matchesChannel(channel) {
			continue
		}
		select {
		case c.send <- buf:
		default:
			slog.Debug("ws client queue full", "channel", channel)
		}
	}
}

// buildEnvelope writes
// {"channel":..,"data":..,"ts":..,"seq":N,"channel_seq":M[,"initial":true]}.
// data must already be valid JSON.
func buildEnvelope(channel string, data []byte, ts time.Time, seq, channelSeq int64, initial bool) []byte {
	buf := make([]byte, 0, len(channel)+len(data)+160)
	buf = append(buf, `{"channel":`...)
	buf = strconv.AppendQuote(buf, channel)
	buf = append(buf, `,"data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = ts.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"channel_seq":`...)
	buf = strconv.AppendInt(buf, channelSeq, 10)
	if initial {
		buf = append(buf, `,"initial":true`...)
	}
	buf = append(buf, '}')
	return buf
}
