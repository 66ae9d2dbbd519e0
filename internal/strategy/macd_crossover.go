package strategy

import (
	"tradebot/internal/indicator"
	"tradebot/internal/model"
)

// MACDCrossover buys when the MACD line crosses above its signal line and
// sells on the opposite cross.
type MACDCrossover struct {
	Fast, Slow, Signal int
}

func (m *MACDCrossover) Name() string { return "macd_crossover" }

func (m *MACDCrossover) Indicators() []indicator.IndicatorConfig {
	return []indicator.IndicatorConfig{{Type: "MACD", Fast: m.Fast, Slow: m.Slow, Signal: m.Signal}}
}

func (m *MACDCrossover) Evaluate(frame *indicator.Frame, i int) Decision {
	prevLine, curLine, ok1 := pair(frame, indicator.MACDName(m.Fast, m.Slow, m.Signal), i)
	prevSig, curSig, ok2 := pair(frame, indicator.MACDSignalName(m.Fast, m.Slow, m.Signal), i)
	if !ok1 || !ok2 {
		return hold
	}
	switch {
	case prevLine <= prevSig && curLine > curSig:
		return Decision{Signal: model.Buy, Rule: m.Name(), Reason: "MACD crossed above signal"}
	case prevLine >= prevSig && curLine < curSig:
		return Decision{Signal: model.Sell, Rule: m.Name(), Reason: "MACD crossed below signal"}
	}
	return hold
}
