package indicator

import (
	"math"

	"tradebot/internal/model"
)

// Bollinger computes SMA(period) ± k·stddev(period) over close, using the
// sample (ddof=1) standard deviation.
type Bollinger struct {
	period            int
	k                 float64
	win               *window
	upper, mid, lower float64
}

// NewBollinger creates Bollinger Bands. Callers validate period >= 2, k > 0.
func NewBollinger(period int, k float64) *Bollinger {
	return &Bollinger{period: period, k: k, win: newWindow(period), upper: nan, mid: nan, lower: nan}
}

func (b *Bollinger) Name() string { return BollingerMidName(b.period, b.k) }

func (b *Bollinger) Update(bar model.Bar) {
	b.win.push(bar.Close)
	b.mid = b.win.mean()
	sd := b.win.sampleStd()
	if math.IsNaN(b.mid) || math.IsNaN(sd) {
		b.upper, b.lower = nan, nan
		return
	}
	b.upper = b.mid + b.k*sd
	b.lower = b.mid - b.k*sd
}

func (b *Bollinger) Value() float64 { return b.mid }
func (b *Bollinger) Upper() float64 { return b.upper }
func (b *Bollinger) Lower() float64 { return b.lower }
func (b *Bollinger) Ready() bool    { return b.win.full() }
