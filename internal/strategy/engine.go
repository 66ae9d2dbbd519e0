package strategy

import (
	"fmt"

	"tradebot/internal/indicator"
	"tradebot/internal/model"
)

// Evaluation is the decision for the newest bar of a live window.
type Evaluation struct {
	Event    model.SignalEvent
	Decision Decision
	Bar      model.Bar
	Frame    *indicator.Frame
}

// Engine keeps a rolling window of bars for one instrument and evaluates the
// rule chain on each new bar. Not safe for concurrent use.
type Engine struct {
	symbol    string
	timeframe string
	gen       *Generator
	inds      *indicator.Engine
	maxBars   int
	minBars   int
	settle    int

	bars  []model.Bar
	count int
}

// NewEngine creates a streaming engine. extra lists indicators the caller
// needs on top of the rule inputs (e.g. ATR for stop placement).
// maxBars bounds the rolling window.
func NewEngine(symbol, timeframe string, gen *Generator, extra []indicator.IndicatorConfig, maxBars int) *Engine {
	configs := append(gen.Indicators(), extra...)
	minBars, settle := 2, 2
	for _, c := range configs {
		if lb := indicator.Lookback(c) + 1; lb > minBars {
			minBars = lb
		}
		settle = max(settle, indicator.SettleBars(c))
	}
	if maxBars < minBars {
		maxBars = minBars
	}
	return &Engine{
		symbol:    symbol,
		timeframe: timeframe,
		gen:       gen,
		inds:      indicator.NewEngine(configs),
		maxBars:   maxBars,
		minBars:   minBars,
		settle:    settle,
		bars:      make([]model.Bar, 0, maxBars),
	}
}

// MinBars is the window length required before the first evaluation.
func (e *Engine) MinBars() int { return e.minBars }

// SettleBars is the window length at which every indicator's value on the
// newest bar matches a computation over the full history to within 1%.
// Recursive averages are reseeded at the start of each window, so shorter
// windows bias them toward the seed.
func (e *Engine) SettleBars() int { return e.settle }

// OnBar appends bar to the window and evaluates it. It returns nil while
// the window is still shorter than MinBars. Bars that do not move time
// forward are rejected.
func (e *Engine) OnBar(bar model.Bar) (*Evaluation, error) {
	if n := len(e.bars); n > 0 && !bar.TS.After(e.bars[n-1].TS) {
		return nil, &model.DataIntegrityError{Index: e.count, Reason: fmt.Sprintf("bar at %s is not after %s", bar.TS, e.bars[n-1].TS)}
	}
	if len(e.bars) == e.maxBars {
		copy(e.bars, e.bars[1:])
		e.bars = e.bars[:len(e.bars)-1]
	}
	e.bars = append(e.bars, bar)
	e.count++

	if len(e.bars) < e.minBars {
		return nil, nil
	}

	series, err := model.NewPriceSeries(e.symbol, e.timeframe, e.bars)
	if err != nil {
		return nil, err
	}
	frame, err := e.inds.Compute(series)
	if err != nil {
		return nil, fmt.Errorf("strategy engine: %w", err)
	}
	last := series.Len() - 1
	d := e.gen.At(frame, last)

	return &Evaluation{
		Event: model.SignalEvent{
			Symbol:    e.symbol,
			Timeframe: e.timeframe,
			Index:     e.count - 1,
			TS:        bar.TS,
			Close:     bar.Close,
			Signal:    d.Signal,
		},
		Decision: d,
		Bar:      bar,
		Frame:    frame,
	}, nil
}
