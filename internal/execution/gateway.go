// Package execution places orders for the live trader: the Gateway
// interface with its paper and exchange implementations, retrying
// submission and the SQLite trade journal.
//
// Backtests never touch this package.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tradebot/internal/model"
)

// Gateway errors. Implementations wrap one of these so callers can match
// with errors.Is.
var (
	ErrNetwork           = errors.New("network error")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidOrder      = errors.New("invalid order")
)

// Gateway submits a market order and reports the fill.
type Gateway interface {
	Submit(ctx context.Context, req model.OrderRequest) (model.Fill, error)
}

// FillRecorder persists fills. *Journal implements it.
type FillRecorder interface {
	RecordFill(ctx context.Context, fill model.Fill, reason string) error
}

// Executor submits through a Gateway, retrying network failures with
// exponential backoff, and journals every fill.
type Executor struct {
	gw      Gateway
	journal FillRecorder

	MaxRetries int           // default 3
	Backoff    time.Duration // first retry delay, default 500ms

	// OnResult is called once per Execute with the final outcome.
	OnResult func(req model.OrderRequest, fill model.Fill, err error)
}

// NewExecutor wraps gw. journal may be nil.
func NewExecutor(gw Gateway, journal FillRecorder) *Executor {
	return &Executor{gw: gw, journal: journal, MaxRetries: 3, Backoff: 500 * time.Millisecond}
}

// Execute submits req. Only ErrNetwork is retried.
func (e *Executor) Execute(ctx context.Context, req model.OrderRequest) (fill model.Fill, err error) {
	defer func() {
		if e.OnResult != nil {
			e.OnResult(req, fill, err)
		}
	}()

	delay := e.Backoff
	for attempt := 0; ; attempt++ {
		fill, err = e.gw.Submit(ctx, req)
		if err == nil || !errors.Is(err, ErrNetwork) || attempt >= e.MaxRetries {
			break
		}
		slog.Warn("order submit failed, retrying", "client_id", req.ClientID, "attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			return model.Fill{}, fmt.Errorf("%w: %v", ErrNetwork, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
	if err != nil {
		slog.Error("order rejected", "client_id", req.ClientID, "symbol", req.Symbol, "side", req.Side, "error", err)
		return model.Fill{}, err
	}

	slog.Info("order filled",
		"order_id", fill.OrderID, "symbol", fill.Symbol, "side", fill.Side,
		"size", fill.Size, "price", fill.Price, "reason", req.Reason)
	if e.journal != nil {
		if jerr := e.journal.RecordFill(ctx, fill, req.Reason); jerr != nil {
			slog.Error("journal write failed", "order_id", fill.OrderID, "error", jerr)
		}
	}
	return fill, nil
}
