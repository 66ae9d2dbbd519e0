package strategy

import (
	"fmt"

	"tradebot/internal/indicator"
	"tradebot/internal/model"
)

// RSIThreshold sells when RSI is above Overbought and buys when it is
// below Oversold. It is meant to sit behind a crossover rule in a Chain.
type RSIThreshold struct {
	Period     int
	Smoothing  indicator.Smoothing
	Overbought float64
	Oversold   float64
}

func (r *RSIThreshold) Name() string { return "rsi_threshold" }

func (r *RSIThreshold) Indicators() []indicator.IndicatorConfig {
	return []indicator.IndicatorConfig{{Type: "RSI", Period: r.Period, Smoothing: r.Smoothing}}
}

func (r *RSIThreshold) Evaluate(frame *indicator.Frame, i int) Decision {
	rsi, ok := frame.Value(indicator.RSIName(r.Period), i)
	if !ok {
		return hold
	}
	switch {
	case rsi > r.Overbought:
		return Decision{Signal: model.Sell, Rule: r.Name(), Reason: fmt.Sprintf("RSI %.1f > %.0f", rsi, r.Overbought)}
	case rsi < r.Oversold:
		return Decision{Signal: model.Buy, Rule: r.Name(), Reason: fmt.Sprintf("RSI %.1f < %.0f", rsi, r.Oversold)}
	}
	return hold
}
