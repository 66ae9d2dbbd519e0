package indicator

import (
	"math"

	"tradebot/internal/model"
)

// ATR is the rolling mean of True Range over period bars.
// TR = max(high−low, |high−prevClose|, |low−prevClose|); the first bar has
// no previous close and uses high−low.
type ATR struct {
	period    int
	win       *window
	prevClose float64
	havePrev  bool
	current   float64
}

// NewATR creates a new ATR indicator with the given period.
func NewATR(period int) *ATR {
	return &ATR{period: period, win: newWindow(period), current: nan}
}

func (a *ATR) Name() string { return ATRName(a.period) }

func (a *ATR) Update(bar model.Bar) {
	a.win.push(trueRange(bar, a.prevClose, a.havePrev))
	a.prevClose = bar.Close
	a.havePrev = true
	a.current = a.win.mean()
}

func trueRange(bar model.Bar, prevClose float64, havePrev bool) float64 {
	hl := bar.High - bar.Low
	if !havePrev {
		return hl
	}
	hc := math.Abs(bar.High - prevClose)
	lc := math.Abs(bar.Low - prevClose)
	// math.Max propagates NaN.
	return math.Max(hl, math.Max(hc, lc))
}

func (a *ATR) Value() float64 { return a.current }
func (a *ATR) Ready() bool    { return a.win.full() }
