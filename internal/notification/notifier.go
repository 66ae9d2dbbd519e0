// Package notification delivers trading alerts to chat channels and
// webhooks. Delivery is best effort: the Dispatcher logs failures and
// never hands them back to the trading loop.
package notification

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	Trade   *Trade     `json:"trade,omitempty"`
}

// Trade describes the position behind an open or close alert. Backends
// that can lay out structured text render it instead of Message.
type Trade struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"` // LONG or SHORT
	Size       float64 `json:"size"`
	Price      float64 `json:"price"` // entry or exit fill
	StopLoss   float64 `json:"stop_loss,omitempty"`
	TakeProfit float64 `json:"take_profit,omitempty"`

	Closed     bool    `json:"closed"`
	ExitReason string  `json:"exit_reason,omitempty"`
	NetPnL     float64 `json:"net_pnl,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	level := slog.LevelInfo
	switch alert.Level {
	case AlertWarning:
		level = slog.LevelWarn
	case AlertCritical:
		level = slog.LevelError
	}
	attrs := []any{"title", alert.Title, "message", alert.Message}
	if tr := alert.Trade; tr != nil {
		attrs = append(attrs, "symbol", tr.Symbol, "side", tr.Side, "size", tr.Size, "price", tr.Price)
		if tr.Closed {
			attrs = append(attrs, "exit_reason", tr.ExitReason, "net_pnl", tr.NetPnL)
		}
	}
	slog.Log(ctx, level, "alert", attrs...)
	return nil
}

// Multi sends to every backend and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dispatcher sends alerts asynchronously. Notify never blocks the caller
// and never returns an error.
type Dispatcher struct {
	n       Notifier
	timeout time.Duration
	wg      sync.WaitGroup

	// OnError is called with every failed delivery, after it is logged.
	OnError func(alert Alert, err error)
}

// NewDispatcher wraps n. Each delivery gets its own timeout.
func NewDispatcher(n Notifier, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{n: n, timeout: timeout}
}

// Notify sends an info alert with the given message.
func (d *Dispatcher) Notify(message string) {
	d.NotifyAlert(Alert{Level: AlertInfo, Title: "tradebot", Message: message})
}

// NotifyAlert sends alert in the background.
func (d *Dispatcher) NotifyAlert(alert Alert) {
	if d == nil || d.n == nil {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.n.Send(ctx, alert); err != nil {
			slog.Warn("notification failed", "title", alert.Title, "error", err)
			if d.OnError != nil {
				d.OnError(alert, err)
			}
		}
	}()
}

// Wait blocks until every pending delivery has finished.
func (d *Dispatcher) Wait() {
	if d != nil {
		d.wg.Wait()
	}
}
