package model

import "fmt"

// Signal is the per-bar trading decision.
type Signal int

const (
	Hold Signal = iota
	Buy
	Sell
)

func (s Signal) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "HOLD"
	}
}

func (s Signal) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Signal) UnmarshalText(b []byte) error {
	switch string(b) {
	case "BUY":
		*s = Buy
	case "SELL":
		*s = Sell
	case "HOLD":
		*s = Hold
	default:
		return fmt.Errorf("unknown signal %q", string(b))
	}
	return nil
}

// Side is the direction of a position.
type Side int

const (
	Flat Side = iota
	Long
	Short
)

func (s Side) String() string {
	switch s {
	case Long:
		return "LONG"
	case Short:
		return "SHORT"
	default:
		return "FLAT"
	}
}

func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Sign is +1 for long, -1 for short and 0 when flat.
func (s Side) Sign() float64 {
	switch s {
	case Long:
		return 1
	case Short:
		return -1
	default:
		return 0
	}
}

// Opposite returns the other trading side. Flat stays flat.
func (s Side) Opposite() Side {
	switch s {
	case Long:
		return Short
	case Short:
		return Long
	default:
		return Flat
	}
}

// SideFor maps an entry signal to the side it opens.
func SideFor(sig Signal) Side {
	switch sig {
	case Buy:
		return Long
	case Sell:
		return Short
	default:
		return Flat
	}
}
