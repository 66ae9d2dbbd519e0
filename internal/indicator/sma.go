package indicator

import "tradebot/internal/model"

// SMA calculates Simple Moving Average of close over a rolling window.
// Uses a preallocated circular buffer for zero-allocation hot path.
type SMA struct {
	period  int
	win     *window
	current float64
}

// NewSMA creates a new SMA indicator with the given period.
func NewSMA(period int) *SMA {
	return &SMA{period: period, win: newWindow(period), current: nan}
}

func (s *SMA) Name() string { return SMAName(s.period) }

func (s *SMA) Update(bar model.Bar) {
	s.win.push(bar.Close)
	s.current = s.win.mean()
}

func (s *SMA) Value() float64 { return s.current }
func (s *SMA) Ready() bool    { return s.win.full() }

// Reset clears the SMA state for reuse.
func (s *SMA) Reset() {
	s.win = newWindow(s.period)
	s.current = nan
}
