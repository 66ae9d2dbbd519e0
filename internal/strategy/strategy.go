// Package strategy turns an indicator Frame into one Signal per bar.
//
// A Rule looks at a single bar index and may read the frame at that index
// and the one before it, never later. Rules are layered in a Chain where
// the first non-Hold decision wins.
package strategy

import (
	"tradebot/internal/indicator"
	"tradebot/internal/model"
)

// Decision is a rule outcome for one bar.
type Decision struct {
	Signal model.Signal `json:"signal"`
	Rule   string       `json:"rule,omitempty"`
	Reason string       `json:"reason,omitempty"`
}

var hold = Decision{Signal: model.Hold}

// Rule is the interface that all signal rules must implement.
type Rule interface {
	// Name returns the unique name of the rule.
	Name() string

	// Indicators lists the indicator configs the rule reads.
	Indicators() []indicator.IndicatorConfig

	// Evaluate decides bar i. Any undefined input yields Hold.
	Evaluate(frame *indicator.Frame, i int) Decision
}

// Chain evaluates rules in order and returns the first non-Hold decision.
type Chain []Rule

func (c Chain) Evaluate(frame *indicator.Frame, i int) Decision {
	for _, r := range c {
		if d := r.Evaluate(frame, i); d.Signal != model.Hold {
			return d
		}
	}
	return hold
}

// pair reads a column at i-1 and i, reporting false if either is undefined.
func pair(frame *indicator.Frame, name string, i int) (prev, cur float64, ok bool) {
	if i < 1 {
		return 0, 0, false
	}
	prev, okPrev := frame.Value(name, i-1)
	cur, okCur := frame.Value(name, i)
	return prev, cur, okPrev && okCur
}
