package indicator

import "tradebot/internal/model"

// EMA calculates Exponential Moving Average seeded with the first close.
// O(1) per update, no window storage.
//
// A value exists from the very first bar, but the first span values are
// numerically dominated by the seed and Ready stays false until span bars
// have been consumed.
type EMA struct {
	span    int
	state   emaState
	count   int
	current float64
}

// NewEMA creates a new EMA indicator with α = 2/(span+1).
func NewEMA(span int) *EMA {
	return &EMA{span: span, state: newEMAState(span), current: nan}
}

func (e *EMA) Name() string { return EMAName(e.span) }

func (e *EMA) Update(bar model.Bar) {
	e.count++
	e.current = e.state.push(bar.Close)
}

func (e *EMA) Value() float64 { return e.current }
func (e *EMA) Ready() bool    { return e.count > e.span }

// Reset clears the EMA state for reuse.
func (e *EMA) Reset() {
	e.state = newEMAState(e.span)
	e.count = 0
	e.current = nan
}
