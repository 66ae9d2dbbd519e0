package indicator

import "tradebot/internal/model"

// SMMA calculates the Smoothed Moving Average (Wilder's moving average).
// The first value is the SMA of the first period closes; afterwards
// SMMA = (prev*(period-1) + close) / period.
// Non-finite closes produce NaN for that bar and are skipped.
type SMMA struct {
	period  int
	count   int
	sum     float64
	smma    float64
	current float64
}

// NewSMMA creates a new SMMA indicator with the given period.
func NewSMMA(period int) *SMMA {
	return &SMMA{period: period, current: nan}
}

func (s *SMMA) Name() string { return SMMAName(s.period) }

func (s *SMMA) Update(bar model.Bar) {
	price := bar.Close
	if !isFinite(price) {
		s.current = nan
		return
	}
	s.count++
	p := float64(s.period)

	if s.count <= s.period {
		s.sum += price
		if s.count == s.period {
			s.smma = s.sum / p
			s.current = s.smma
		}
		return
	}

	s.smma = (s.smma*(p-1) + price) / p
	s.current = s.smma
}

func (s *SMMA) Value() float64 { return s.current }
func (s *SMMA) Ready() bool    { return s.count >= s.period }
