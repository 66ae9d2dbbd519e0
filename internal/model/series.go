package model

import (
	"fmt"
	"time"
)

// DataIntegrityError reports a price series that cannot be processed:
// empty input or timestamps that are not strictly increasing.
type DataIntegrityError struct {
	Index  int // offending bar, -1 when the series is empty
	Reason string
}

func (e *DataIntegrityError) Error() string {
	if e.Index < 0 {
		return "data integrity: " + e.Reason
	}
	return fmt.Sprintf("data integrity: bar %d: %s", e.Index, e.Reason)
}

// PriceSeries is an ordered, immutable sequence of bars for one instrument.
// Gaps between timestamps are tolerated.
type PriceSeries struct {
	symbol    string
	timeframe string
	bars      []Bar
}

// NewPriceSeries validates bars and returns a series owning a private copy.
func NewPriceSeries(symbol, timeframe string, bars []Bar) (*PriceSeries, error) {
	if len(bars) == 0 {
		return nil, &DataIntegrityError{Index: -1, Reason: "empty series"}
	}
	for i := 1; i < len(bars); i++ {
		if !bars[i].TS.After(bars[i-1].TS) {
			return nil, &DataIntegrityError{
				Index:  i,
				Reason: fmt.Sprintf("timestamp %s not after %s", bars[i].TS.Format(time.RFC3339), bars[i-1].TS.Format(time.RFC3339)),
			}
		}
	}
	cp := make([]Bar, len(bars))
	copy(cp, bars)
	return &PriceSeries{symbol: symbol, timeframe: timeframe, bars: cp}, nil
}

func (s *PriceSeries) Symbol() string    { return s.symbol }
func (s *PriceSeries) Timeframe() string { return s.timeframe }
func (s *PriceSeries) Len() int          { return len(s.bars) }

// Bar returns the i-th bar by value.
func (s *PriceSeries) Bar(i int) Bar { return s.bars[i] }

// Bars returns a copy of all bars.
func (s *PriceSeries) Bars() []Bar {
	cp := make([]Bar, len(s.bars))
	copy(cp, s.bars)
	return cp
}

func (s *PriceSeries) Closes() []float64 { return s.column(func(b Bar) float64 { return b.Close }) }
func (s *PriceSeries) Highs() []float64  { return s.column(func(b Bar) float64 { return b.High }) }
func (s *PriceSeries) Lows() []float64   { return s.column(func(b Bar) float64 { return b.Low }) }

func (s *PriceSeries) column(pick func(Bar) float64) []float64 {
	out := make([]float64, len(s.bars))
	for i, b := range s.bars {
		out[i] = pick(b)
	}
	return out
}

// Truncate returns the series restricted to its first n bars.
// Used to verify that derived values never depend on later bars.
func (s *PriceSeries) Truncate(n int) *PriceSeries {
	if n >= len(s.bars) {
		return s
	}
	if n < 1 {
		n = 1
	}
	return &PriceSeries{symbol: s.symbol, timeframe: s.timeframe, bars: s.bars[:n:n]}
}

// Last returns the most recent bar.
func (s *PriceSeries) Last() Bar { return s.bars[len(s.bars)-1] }
