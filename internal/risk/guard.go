package risk

import (
	"log/slog"
	"sync"
)

// Limits defines account-level thresholds for the live trader.
type Limits struct {
	MaxDailyLoss   float64 `yaml:"max_daily_loss" json:"max_daily_loss"`     // absolute quote currency, 0 disables
	MaxDrawdownPct float64 `yaml:"max_drawdown_pct" json:"max_drawdown_pct"` // percent from peak equity (0-100), 0 disables
	MaxNotional    float64 `yaml:"max_notional" json:"max_notional"`         // per-position notional cap, 0 disables
}

// DefaultLimits returns conservative default limits.
func DefaultLimits() Limits {
	return Limits{
		MaxDailyLoss:   0,
		MaxDrawdownPct: 20,
		MaxNotional:    0,
	}
}

// Guard validates new entries against Limits and tracks equity.
type Guard struct {
	mu     sync.RWMutex
	limits Limits

	dailyPnL   float64
	equity     float64
	peakEquity float64
}

// NewGuard creates a Guard with the given limits and starting equity.
func NewGuard(limits Limits, initialEquity float64) *Guard {
	return &Guard{
		limits:     limits,
		equity:     initialEquity,
		peakEquity: initialEquity,
	}
}

// CanTrade checks if a new position with this notional would violate any
// limit. Returns true if the trade is allowed, false with a reason if not.
func (g *Guard) CanTrade(notional float64) (bool, string) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.limits.MaxNotional > 0 && notional > g.limits.MaxNotional {
		return false, "position notional exceeds limit"
	}
	if g.limits.MaxDailyLoss > 0 && g.dailyPnL < -g.limits.MaxDailyLoss {
		return false, "max daily loss reached"
	}
	if g.limits.MaxDrawdownPct > 0 && g.peakEquity > 0 {
		drawdown := (g.peakEquity - g.equity) / g.peakEquity * 100
		if drawdown > g.limits.MaxDrawdownPct {
			return false, "max drawdown exceeded"
		}
	}
	return true, ""
}

// RecordPnL adds a closed trade's net P&L to the daily counter.
func (g *Guard) RecordPnL(pnl float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dailyPnL += pnl
	slog.Info("risk: pnl recorded", "pnl", pnl, "daily_pnl", g.dailyPnL)
}

// MarkEquity updates equity and the high-water mark.
func (g *Guard) MarkEquity(equity float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.equity = equity
	if equity > g.peakEquity {
		g.peakEquity = equity
	}
}

// ResetDaily resets the daily P&L counter (call at the start of a trading day).
func (g *Guard) ResetDaily() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dailyPnL = 0
}

// Status is a point-in-time view of the guard.
type Status struct {
	DailyPnL    float64 `json:"daily_pnl"`
	Equity      float64 `json:"equity"`
	PeakEquity  float64 `json:"peak_equity"`
	DrawdownPct float64 `json:"drawdown_pct"`
	Limits      Limits  `json:"limits"`
}

// Status returns current risk status.
func (g *Guard) Status() Status {
	g.mu.RLock()
	defer g.mu.RUnlock()

	drawdown := 0.0
	if g.peakEquity > 0 {
		drawdown = (g.peakEquity - g.equity) / g.peakEquity * 100
	}
	return Status{
		DailyPnL:    g.dailyPnL,
		Equity:      g.equity,
		PeakEquity:  g.peakEquity,
		DrawdownPct: drawdown,
		Limits:      g.limits,
	}
}
