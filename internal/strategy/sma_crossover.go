package strategy

import (
	"fmt"
	"log/slog"

	"tradebot/internal/indicator"
	"tradebot/internal/model"
)

// SMACrossover implements a simple SMA crossover rule.
//
// Buy signal: short SMA crosses above long SMA (golden cross)
// Sell signal: short SMA crosses below long SMA (death cross)
//
// Optional RSI confirmation blocks a buy when RSI is already overbought and
// a sell when RSI is already oversold. If confirmation is enabled and RSI is
// undefined at the bar, the crossover is not acted on.
type SMACrossover struct {
	ShortPeriod  int
	LongPeriod   int
	RSIPeriod    int // 0 disables confirmation
	RSISmoothing indicator.Smoothing
	Overbought   float64
	Oversold     float64
}

func (s *SMACrossover) Name() string { return "sma_crossover" }

func (s *SMACrossover) Indicators() []indicator.IndicatorConfig {
	out := []indicator.IndicatorConfig{
		{Type: "SMA", Period: s.ShortPeriod},
		{Type: "SMA", Period: s.LongPeriod},
	}
	if s.RSIPeriod > 0 {
		out = append(out, indicator.IndicatorConfig{Type: "RSI", Period: s.RSIPeriod, Smoothing: s.RSISmoothing})
	}
	return out
}

func (s *SMACrossover) Evaluate(frame *indicator.Frame, i int) Decision {
	shortName := indicator.SMAName(s.ShortPeriod)
	longName := indicator.SMAName(s.LongPeriod)

	prevShort, curShort, ok1 := pair(frame, shortName, i)
	prevLong, curLong, ok2 := pair(frame, longName, i)
	if !ok1 || !ok2 {
		return hold
	}

	golden := prevShort <= prevLong && curShort > curLong
	death := prevShort >= prevLong && curShort < curLong
	if !golden && !death {
		return hold
	}

	var rsi float64
	if s.RSIPeriod > 0 {
		var ok bool
		rsi, ok = frame.Value(indicator.RSIName(s.RSIPeriod), i)
		if !ok {
			return hold
		}
	}

	// Golden cross: short crosses above long
	if golden {
		if s.RSIPeriod > 0 && rsi >= s.Overbought {
			slog.Debug("golden cross filtered by RSI", "bar", i, "rsi", rsi, "overbought", s.Overbought)
			return hold
		}
		return Decision{
			Signal: model.Buy,
			Rule:   s.Name(),
			Reason: fmt.Sprintf("SMA golden cross (%s > %s)", shortName, longName),
		}
	}

	// Death cross: short crosses below long
	if s.RSIPeriod > 0 && rsi <= s.Oversold {
		slog.Debug("death cross filtered by RSI", "bar", i, "rsi", rsi, "oversold", s.Oversold)
		return hold
	}
	return Decision{
		Signal: model.Sell,
		Rule:   s.Name(),
		Reason: fmt.Sprintf("SMA death cross (%s < %s)", shortName, longName),
	}
}
