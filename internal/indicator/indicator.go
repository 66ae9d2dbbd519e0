// Package indicator provides technical indicator calculations over bar data.
//
// Every indicator is a streaming state machine implementing Indicator: it
// receives bars in timestamp order and never sees a bar before the ones it
// has already consumed. Engine drives a set of indicators over a whole
// PriceSeries and collects their outputs into a Frame.
package indicator

import (
	"math"

	"tradebot/internal/model"
)

// Indicator is the interface for all technical indicators.
type Indicator interface {
	// Name returns the indicator column name (e.g., "SMA_20", "EMA_9").
	Name() string

	// Update feeds the next bar and recalculates.
	Update(bar model.Bar)

	// Value returns the current value, or NaN while the indicator is
	// warming up or its window holds a non-finite input.
	Value() float64

	// Ready returns true once enough bars have been consumed for Value to
	// be usable for trading decisions.
	Ready() bool
}

func isFinite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

var nan = math.NaN()

// window is a fixed-size ring buffer that keeps a running sum of its finite
// entries and a count of the non-finite ones.
type window struct {
	buf   []float64
	idx   int
	count int
	sum   float64
	bad   int
}

func newWindow(n int) *window {
	return &window{buf: make([]float64, n)}
}

func (w *window) push(v float64) {
	if w.count >= len(w.buf) {
		old := w.buf[w.idx]
		if isFinite(old) {
			w.sum -= old
		} else {
			w.bad--
		}
	}
	w.buf[w.idx] = v
	if isFinite(v) {
		w.sum += v
	} else {
		w.bad++
	}
	w.idx = (w.idx + 1) % len(w.buf)
	w.count++
}

func (w *window) full() bool { return w.count >= len(w.buf) }

func (w *window) mean() float64 {
	if !w.full() || w.bad > 0 {
		return nan
	}
	return w.sum / float64(len(w.buf))
}

// sampleStd returns the ddof=1 standard deviation of the window.
func (w *window) sampleStd() float64 {
	n := len(w.buf)
	if !w.full() || w.bad > 0 || n < 2 {
		return nan
	}
	m := w.sum / float64(n)
	ss := 0.0
	for _, v := range w.buf {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(n-1))
}

// emaState is the recursive core shared by EMA and MACD.
type emaState struct {
	alpha  float64
	value  float64
	seeded bool
}

func newEMAState(span int) emaState {
	return emaState{alpha: 2.0 / float64(span+1)}
}

// push folds v into the average and returns the value for this step.
// A non-finite v yields NaN for this step and leaves the state untouched.
func (e *emaState) push(v float64) float64 {
	if !isFinite(v) {
		return nan
	}
	if !e.seeded {
		e.value = v
		e.seeded = true
		return e.value
	}
	e.value = v*e.alpha + e.value*(1-e.alpha)
	return e.value
}
