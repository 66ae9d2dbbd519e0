package indicator

import "tradebot/internal/model"

// Smoothing selects how RSI averages gains and losses.
type Smoothing string

const (
	// SmoothingSimple uses the arithmetic mean of the last period deltas.
	SmoothingSimple Smoothing = "simple"
	// SmoothingWilder seeds with the simple mean, then applies
	// avg = (prev*(period-1) + x) / period.
	SmoothingWilder Smoothing = "wilder"
)

// RSI calculates the Relative Strength Index over close-to-close deltas.
// Gains and losses are kept separately, losses as positive magnitudes.
// When the average loss is zero RSI is 100, including on a flat series.
type RSI struct {
	period    int
	smoothing Smoothing
	count     int
	prevClose float64
	current   float64

	// simple
	gains  *window
	losses *window

	// wilder
	havePrev bool
	deltas   int
	avgGain  float64
	avgLoss  float64
}

// NewRSI creates a new RSI indicator using simple rolling averages.
func NewRSI(period int) *RSI {
	return NewRSIWithSmoothing(period, SmoothingSimple)
}

// NewRSIWithSmoothing creates an RSI with the given averaging method.
func NewRSIWithSmoothing(period int, smoothing Smoothing) *RSI {
	if smoothing == "" {
		smoothing = SmoothingSimple
	}
	return &RSI{
		period:    period,
		smoothing: smoothing,
		gains:     newWindow(period),
		losses:    newWindow(period),
		current:   nan,
	}
}

func (r *RSI) Name() string { return RSIName(r.period) }

func (r *RSI) Update(bar model.Bar) {
	if r.smoothing == SmoothingWilder {
		r.updateWilder(bar.Close)
		return
	}
	r.updateSimple(bar.Close)
}

func (r *RSI) updateSimple(price float64) {
	r.count++
	if r.count == 1 {
		// First bar: record the price, no delta yet
		r.prevClose = price
		return
	}

	delta := price - r.prevClose
	r.prevClose = price

	if !isFinite(delta) {
		r.gains.push(nan)
		r.losses.push(nan)
	} else if delta > 0 {
		r.gains.push(delta)
		r.losses.push(0)
	} else {
		r.gains.push(0)
		r.losses.push(-delta)
	}

	avgGain := r.gains.mean()
	avgLoss := r.losses.mean()
	if !isFinite(avgGain) || !isFinite(avgLoss) {
		r.current = nan
		return
	}
	r.current = rsiFromAverages(avgGain, avgLoss)
}

// updateWilder skips non-finite closes: the bar reads NaN and the next
// delta is taken against the last finite close.
func (r *RSI) updateWilder(price float64) {
	r.count++
	if !isFinite(price) {
		r.current = nan
		return
	}
	if !r.havePrev {
		r.prevClose = price
		r.havePrev = true
		return
	}

	delta := price - r.prevClose
	r.prevClose = price
	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}
	r.deltas++
	p := float64(r.period)

	if r.deltas <= r.period {
		// Accumulation phase: build initial averages
		r.avgGain += gain
		r.avgLoss += loss
		if r.deltas == r.period {
			r.avgGain /= p
			r.avgLoss /= p
			r.current = rsiFromAverages(r.avgGain, r.avgLoss)
		}
		return
	}

	r.avgGain = (r.avgGain*(p-1) + gain) / p
	r.avgLoss = (r.avgLoss*(p-1) + loss) / p
	r.current = rsiFromAverages(r.avgGain, r.avgLoss)
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}

func (r *RSI) Value() float64 { return r.current }

func (r *RSI) Ready() bool {
	if r.smoothing == SmoothingWilder {
		return r.deltas >= r.period
	}
	return r.gains.full()
}
