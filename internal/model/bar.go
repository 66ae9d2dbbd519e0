package model

import "time"

// Bar is one OHLCV sample for a single instrument.
// OHLC sanity (high >= max(open, close), low <= min(open, close)) is not
// enforced; malformed bars flow through the indicators unchanged.
type Bar struct {
	TS     time.Time `json:"ts"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}
