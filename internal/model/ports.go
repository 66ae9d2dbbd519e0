package model

import (
	"context"
	"time"
)

// ── Storage Port Interfaces ──
// These interfaces decouple the trading core from concrete storage
// implementations (SQLite, Redis). Each adapter satisfies one or more of them.

// BarWriter persists historical bars.
type BarWriter interface {
	WriteBars(ctx context.Context, symbol, timeframe string, bars []Bar) error
	Close() error
}

// RunWriter persists a finished (or aborted) backtest together with its
// ledger and equity curve.
type RunWriter interface {
	SaveRun(ctx context.Context, run RunInfo, ledger []LedgerEntry, equity []EquityPoint) error
	Close() error
}

// EventPublisher fans live decisions out to dashboards and other consumers.
// Publishing is best effort; callers log failures and carry on.
type EventPublisher interface {
	PublishSignal(ctx context.Context, ev SignalEvent) error
	PublishEquity(ctx context.Context, symbol string, pt EquityPoint) error
	Close() error
}

// RunInfo identifies one backtest run.
type RunInfo struct {
	ID             string    `json:"id"`
	Symbol         string    `json:"symbol"`
	Timeframe      string    `json:"timeframe"`
	StartedAt      time.Time `json:"started_at"`
	Bars           int       `json:"bars"`
	InitialCapital float64   `json:"initial_capital"`
	FinalEquity    float64   `json:"final_equity"`
	Completed      bool      `json:"completed"`
	AbortReason    string    `json:"abort_reason,omitempty"`
	ConfigJSON     string    `json:"config,omitempty"`
}

// SignalEvent is a signal emitted for the most recent bar of a live feed.
type SignalEvent struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Index     int       `json:"index"`
	TS        time.Time `json:"ts"`
	Close     float64   `json:"close"`
	Signal    Signal    `json:"signal"`
}
