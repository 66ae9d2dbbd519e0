package model

// Position is the single open trade tracked by the simulator and the live trader.
// Brackets are fixed at entry except when a trailing stop ratchets StopLoss.
type Position struct {
	Side       Side    `json:"side"`
	EntryPrice float64 `json:"entry_price"`
	Size       float64 `json:"size"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	OpenedAt   int     `json:"opened_at"` // bar index of entry
	EntryFee   float64 `json:"entry_fee"`
}

// Unrealized returns the gross profit/loss at the given mark price.
func (p *Position) Unrealized(mark float64) float64 {
	return p.Side.Sign() * p.Size * (mark - p.EntryPrice)
}

// MarketValue is the signed notional at the given mark price.
func (p *Position) MarketValue(mark float64) float64 {
	return p.Side.Sign() * p.Size * mark
}
