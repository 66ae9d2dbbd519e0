package model

import (
	"errors"
	"testing"
	"time"
)

func TestNewPriceSeries_Validation(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	_, err := NewPriceSeries("X", "1h", nil)
	var derr *DataIntegrityError
	if !errors.As(err, &derr) || derr.Index != -1 {
		t.Fatalf("empty series: got %v", err)
	}

	bars := []Bar{{TS: t0}, {TS: t0.Add(time.Hour)}, {TS: t0.Add(time.Hour)}}
	_, err = NewPriceSeries("X", "1h", bars)
	if !errors.As(err, &derr) || derr.Index != 2 {
		t.Fatalf("duplicate timestamp: got %v", err)
	}

	bars[2].TS = t0.Add(30 * time.Minute)
	if _, err = NewPriceSeries("X", "1h", bars); err == nil {
		t.Fatal("backwards timestamp should fail")
	}

	// Gaps are fine.
	bars[2].TS = t0.Add(5 * time.Hour)
	s, err := NewPriceSeries("X", "1h", bars)
	if err != nil {
		t.Fatalf("gap: %v", err)
	}
	if s.Len() != 3 {
		t.Errorf("Len = %d", s.Len())
	}
}

func TestPriceSeries_Immutable(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	bars := []Bar{{TS: t0, Close: 1}, {TS: t0.Add(time.Minute), Close: 2}}
	s, err := NewPriceSeries("X", "1m", bars)
	if err != nil {
		t.Fatal(err)
	}

	bars[0].Close = 99
	s.Bars()[1].Close = 99
	s.Closes()[0] = 99

	if s.Bar(0).Close != 1 || s.Bar(1).Close != 2 {
		t.Errorf("series mutated: %+v", s.Bars())
	}
}

func TestPriceSeries_Truncate(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]Bar, 5)
	for i := range bars {
		bars[i] = Bar{TS: t0.Add(time.Duration(i) * time.Minute), Close: float64(i)}
	}
	s, _ := NewPriceSeries("X", "1m", bars)

	p := s.Truncate(3)
	if p.Len() != 3 || p.Last().Close != 2 {
		t.Errorf("Truncate(3): len=%d last=%v", p.Len(), p.Last().Close)
	}
	if s.Truncate(10) != s {
		t.Error("Truncate beyond length should return the series itself")
	}
}

func TestSignalText(t *testing.T) {
	for _, sig := range []Signal{Hold, Buy, Sell} {
		b, _ := sig.MarshalText()
		var back Signal
		if err := back.UnmarshalText(b); err != nil || back != sig {
			t.Errorf("%v: round trip gave %v, %v", sig, back, err)
		}
	}
	if SideFor(Buy) != Long || SideFor(Sell) != Short || SideFor(Hold) != Flat {
		t.Error("SideFor mapping wrong")
	}
	if Long.Sign() != 1 || Short.Sign() != -1 || Flat.Sign() != 0 {
		t.Error("Sign mapping wrong")
	}
}

func TestPosition_Unrealized(t *testing.T) {
	long := Position{Side: Long, EntryPrice: 100, Size: 2}
	if got := long.Unrealized(110); got != 20 {
		t.Errorf("long unrealized = %v", got)
	}
	short := Position{Side: Short, EntryPrice: 100, Size: 2}
	if got := short.Unrealized(110); got != -20 {
		t.Errorf("short unrealized = %v", got)
	}
}
