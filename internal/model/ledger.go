package model

import "time"

// ExitReason records why a position was closed.
type ExitReason string

const (
	ExitSignalReversal ExitReason = "SIGNAL_REVERSAL"
	ExitStopLoss       ExitReason = "STOP_LOSS"
	ExitTakeProfit     ExitReason = "TAKE_PROFIT"
)

// LedgerEntry is one closed trade. RealizedPnL is gross; Fees holds both legs.
type LedgerEntry struct {
	EntryIndex  int        `json:"entry_index"`
	ExitIndex   int        `json:"exit_index"`
	EntryTime   time.Time  `json:"entry_time"`
	ExitTime    time.Time  `json:"exit_time"`
	Side        Side       `json:"side"`
	EntryPrice  float64    `json:"entry_price"`
	ExitPrice   float64    `json:"exit_price"`
	Size        float64    `json:"size"`
	RealizedPnL float64    `json:"realized_pnl"`
	Fees        float64    `json:"fees"`
	ExitReason  ExitReason `json:"exit_reason"`
}

// Net is realized P&L after fees.
func (e LedgerEntry) Net() float64 { return e.RealizedPnL - e.Fees }

// Ledger is an append-only list of closed trades.
type Ledger struct {
	entries []LedgerEntry
}

func (l *Ledger) Append(e LedgerEntry) { l.entries = append(l.entries, e) }
func (l *Ledger) Len() int             { return len(l.entries) }

// Entries returns a copy of the recorded trades in close order.
func (l *Ledger) Entries() []LedgerEntry {
	cp := make([]LedgerEntry, len(l.entries))
	copy(cp, l.entries)
	return cp
}

// EquityPoint is the mark-to-market account value after bar Index.
type EquityPoint struct {
	Index  int       `json:"index"`
	TS     time.Time `json:"ts"`
	Equity float64   `json:"equity"`
}
