package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"tradebot/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// ErrNotFound is returned when no value has been published yet.
var ErrNotFound = errors.New("redis: not found")

// Reader reads back what a Publisher wrote.
type Reader struct {
	client *goredis.Client
}

// NewReader wraps client.
func NewReader(client *goredis.Client) *Reader {
	return &Reader{client: client}
}

// LatestSignal returns the most recent signal for symbol and timeframe.
func (r *Reader) LatestSignal(ctx context.Context, symbol, tf string) (model.SignalEvent, error) {
	var ev model.SignalEvent
	err := r.getJSON(ctx, SignalLatest(symbol, tf), &ev)
	return ev, err
}

// LatestEquity returns the most recent equity update for symbol.
func (r *Reader) LatestEquity(ctx context.Context, symbol string) (EquityEvent, error) {
	var ev EquityEvent
	err := r.getJSON(ctx, EquityLatest(symbol), &ev)
	return ev, err
}

// RecentSignals returns up to count signals, newest first.
func (r *Reader) RecentSignals(ctx context.Context, symbol, tf string, count int64) ([]model.SignalEvent, error) {
	msgs, err := r.client.XRevRangeN(ctx, SignalStream(symbol, tf), "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange %s: %w", SignalStream(symbol, tf), err)
	}
	out := make([]model.SignalEvent, 0, len(msgs))
	for _, m := range msgs {
		raw, ok := m.Values["data"].(string)
		if !ok {
			continue
		}
		var ev model.SignalEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", SignalStream(symbol, tf), m.ID, err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// Subscribe listens on the signal and equity channels for symbol.
func (r *Reader) Subscribe(ctx context.Context, symbol, tf string) *goredis.PubSub {
	return r.client.Subscribe(ctx, SignalChannel(symbol, tf), EquityChannel(symbol))
}

func (r *Reader) getJSON(ctx context.Context, key string, v any) error {
	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}
