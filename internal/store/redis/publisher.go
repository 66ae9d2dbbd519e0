// Package redis publishes live trading events to Redis streams, latest-value
// keys and pub/sub channels so dashboards can follow a running trader.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tradebot/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	defaultStreamMaxLen = 5000
	defaultLatestTTL    = 24 * time.Hour
	defaultMaxBuffer    = 10000
)

// Config configures the Redis publisher.
type Config struct {
	Addr         string // e.g. "localhost:6379"
	Password     string
	DB           int
	StreamMaxLen int64
	LatestTTL    time.Duration
	MaxBuffer    int // events kept while the breaker is open
}

// Key helpers. Signals are keyed by symbol and timeframe, equity by symbol.
func SignalStream(symbol, tf string) string  { return "signals:" + symbol + ":" + tf }
func SignalLatest(symbol, tf string) string  { return "signal:latest:" + symbol + ":" + tf }
func SignalChannel(symbol, tf string) string { return "pub:signal:" + symbol + ":" + tf }
func EquityStream(symbol string) string      { return "equity:" + symbol }
func EquityLatest(symbol string) string      { return "equity:latest:" + symbol }
func EquityChannel(symbol string) string     { return "pub:equity:" + symbol }

// EquityEvent is the payload published for each equity update.
type EquityEvent struct {
	Symbol string    `json:"symbol"`
	Index  int       `json:"index"`
	TS     time.Time `json:"ts"`
	Equity float64   `json:"equity"`
}

type pendingEvent struct {
	stream, latest, channel string
	data                    string
}

// Publisher implements model.EventPublisher. Writes go through a circuit
// breaker; while it is open events are buffered and flushed on recovery.
type Publisher struct {
	client *goredis.Client
	cb     *CircuitBreaker
	cfg    Config

	mu     sync.Mutex
	buffer []pendingEvent
	wg     sync.WaitGroup

	OnBuffer func()
	OnFlush  func(count int)
	OnDrop   func()
}

var _ model.EventPublisher = (*Publisher)(nil)

// New connects to Redis and pings it.
func New(cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	slog.Info("redis connected", "addr", cfg.Addr)
	return NewWithClient(client, NewCircuitBreaker(5, 10*time.Second), cfg), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *goredis.Client, cb *CircuitBreaker, cfg Config) *Publisher {
	if cfg.StreamMaxLen <= 0 {
		cfg.StreamMaxLen = defaultStreamMaxLen
	}
	if cfg.LatestTTL <= 0 {
		cfg.LatestTTL = defaultLatestTTL
	}
	if cfg.MaxBuffer <= 0 {
		cfg.MaxBuffer = defaultMaxBuffer
	}
	p := &Publisher{client: client, cb: cb, cfg: cfg}

	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		slog.Warn("redis circuit breaker", "from", from, "to", to)
		if to == StateClosed {
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				p.flush(context.Background())
			}()
		}
	}
	return p
}

// Client returns the underlying client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Breaker returns the circuit breaker guarding writes.
func (p *Publisher) Breaker() *CircuitBreaker { return p.cb }

// PublishSignal records a live signal.
func (p *Publisher) PublishSignal(ctx context.Context, ev model.SignalEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}
	return p.publish(ctx, pendingEvent{
		stream:  SignalStream(ev.Symbol, ev.Timeframe),
		latest:  SignalLatest(ev.Symbol, ev.Timeframe),
		channel: SignalChannel(ev.Symbol, ev.Timeframe),
		data:    string(data),
	})
}

// PublishEquity records a mark-to-market equity point.
func (p *Publisher) PublishEquity(ctx context.Context, symbol string, pt model.EquityPoint) error {
	data, err := json.Marshal(EquityEvent{Symbol: symbol, Index: pt.Index, TS: pt.TS, Equity: pt.Equity})
	if err != nil {
		return fmt.Errorf("marshal equity: %w", err)
	}
	return p.publish(ctx, pendingEvent{
		stream:  EquityStream(symbol),
		latest:  EquityLatest(symbol),
		channel: EquityChannel(symbol),
		data:    string(data),
	})
}

func (p *Publisher) publish(ctx context.Context, ev pendingEvent) error {
	err := p.cb.Execute(func() error { return p.write(ctx, ev) })
	if errors.Is(err, ErrCircuitOpen) {
		p.bufferEvent(ev)
		return nil
	}
	return err
}

// write issues XADD + SET + PUBLISH in one pipeline.
func (p *Publisher) write(ctx context.Context, ev pendingEvent) error {
	pipe := p.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: ev.stream,
		MaxLen: p.cfg.StreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": ev.data},
	})
	pipe.Set(ctx, ev.latest, ev.data, p.cfg.LatestTTL)
	pipe.Publish(ctx, ev.channel, ev.data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline %s: %w", ev.stream, err)
	}
	return nil
}

func (p *Publisher) bufferEvent(ev pendingEvent) {
	p.mu.Lock()
	if len(p.buffer) >= p.cfg.MaxBuffer {
		p.buffer = p.buffer[1:]
		if p.OnDrop != nil {
			p.OnDrop()
		}
	}
	p.buffer = append(p.buffer, ev)
	p.mu.Unlock()
	if p.OnBuffer != nil {
		p.OnBuffer()
	}
}

// Buffered returns the number of events waiting for the breaker to close.
func (p *Publisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}

func (p *Publisher) flush(ctx context.Context) {
	p.mu.Lock()
	pending := p.buffer
	p.buffer = nil
	p.mu.Unlock()
	if len(pending) == 0 {
		return
	}

	sent := 0
	for i, ev := range pending {
		if err := p.write(ctx, ev); err != nil {
			slog.Error("redis flush failed", "sent", sent, "remaining", len(pending)-i, "error", err)
			p.mu.Lock()
			p.buffer = append(pending[i:], p.buffer...)
			p.mu.Unlock()
			break
		}
		sent++
	}
	slog.Info("redis buffer flushed", "count", sent)
	if p.OnFlush != nil {
		p.OnFlush(sent)
	}
}

// Close waits for pending flushes and closes the client.
func (p *Publisher) Close() error {
	p.wg.Wait()
	return p.client.Close()
}
