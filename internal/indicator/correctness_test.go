package indicator

import (
	"math"
	"testing"

	"tradebot/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helper
// ────────────────────────────────────────────────────────────

func bar(close float64) model.Bar {
	return model.Bar{Open: close, High: close + 0.5, Low: close - 0.5, Close: close}
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

func assertNaN(t *testing.T, label string, got float64) {
	t.Helper()
	if !math.IsNaN(got) {
		t.Errorf("%s: got %.6f, want NaN", label, got)
	}
}

// ────────────────────────────────────────────────────────────
// SMA Correctness
// ────────────────────────────────────────────────────────────

func TestSMA_Correctness_Period3(t *testing.T) {
	// Prices: 100, 102, 104, 103, 105
	// SMA after bar 3: (100+102+104)/3 = 102.0000
	// SMA after bar 4: (102+104+103)/3 = 103.0000
	// SMA after bar 5: (104+103+105)/3 = 104.0000

	sma := NewSMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102.0, 103.0, 104.0}
	ready := []bool{false, false, true, true, true}

	for i, p := range prices {
		sma.Update(bar(p))
		if sma.Ready() != ready[i] {
			t.Errorf("bar %d: Ready()=%v, want %v", i, sma.Ready(), ready[i])
		}
		if ready[i] {
			assertClose(t, "SMA(3)", sma.Value(), expected[i], 0.0001)
		} else {
			assertNaN(t, "SMA(3) warm-up", sma.Value())
		}
	}
}

func TestSMA_Correctness_Period5(t *testing.T) {
	// Prices: 10, 11, 12, 13, 14, 15, 16
	// SMA(5) after bar 5: (10+11+12+13+14)/5 = 12.0
	// SMA(5) after bar 6: (11+12+13+14+15)/5 = 13.0
	// SMA(5) after bar 7: (12+13+14+15+16)/5 = 14.0

	sma := NewSMA(5)
	prices := []float64{10, 11, 12, 13, 14, 15, 16}
	expected := []float64{0, 0, 0, 0, 12.0, 13.0, 14.0}

	for i, p := range prices {
		sma.Update(bar(p))
		if i >= 4 {
			assertClose(t, "SMA(5)", sma.Value(), expected[i], 0.0001)
		}
	}
}

func TestSMA_NonFiniteInputPropagates(t *testing.T) {
	// SMA(2) over 1, 2, NaN, 4, 5, +Inf, 7
	// The NaN poisons windows [2,NaN] and [NaN,4]; Inf poisons [5,Inf] and [Inf,7].
	sma := NewSMA(2)
	prices := []float64{1, 2, math.NaN(), 4, 5, math.Inf(1), 7}
	want := []float64{math.NaN(), 1.5, math.NaN(), math.NaN(), 4.5, math.NaN(), math.NaN()}

	for i, p := range prices {
		sma.Update(bar(p))
		if math.IsNaN(want[i]) {
			assertNaN(t, "SMA(2) non-finite", sma.Value())
			continue
		}
		assertClose(t, "SMA(2)", sma.Value(), want[i], 1e-9)
	}

	// Window recovers once the bad input has left it.
	sma.Update(bar(9))
	assertClose(t, "SMA(2) recovered", sma.Value(), 8.0, 1e-9)
}

// ────────────────────────────────────────────────────────────
// EMA Correctness
// ────────────────────────────────────────────────────────────

func TestEMA_Correctness_Span3(t *testing.T) {
	// EMA(3): α = 2/(3+1) = 0.5, seeded with the first close.
	// Prices: 100, 102, 104, 103, 105
	//
	// Bar 0: 100 (seed)
	// Bar 1: 102*0.5 + 100*0.5     = 101.0
	// Bar 2: 104*0.5 + 101*0.5     = 102.5
	// Bar 3: 103*0.5 + 102.5*0.5   = 102.75
	// Bar 4: 105*0.5 + 102.75*0.5  = 103.875

	ema := NewEMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{100, 101, 102.5, 102.75, 103.875}
	ready := []bool{false, false, false, true, true}

	for i, p := range prices {
		ema.Update(bar(p))
		assertClose(t, "EMA(3)", ema.Value(), expected[i], 0.0001)
		if ema.Ready() != ready[i] {
			t.Errorf("bar %d: Ready()=%v, want %v", i, ema.Ready(), ready[i])
		}
	}
}

func TestEMA_SkipsNonFinite(t *testing.T) {
	// EMA(3) over 10, NaN, 20: the NaN bar reads NaN and leaves the state
	// alone, so bar 2 = 20*0.5 + 10*0.5 = 15.
	ema := NewEMA(3)
	ema.Update(bar(10))
	assertClose(t, "EMA seed", ema.Value(), 10, 1e-9)
	ema.Update(bar(math.NaN()))
	assertNaN(t, "EMA NaN bar", ema.Value())
	ema.Update(bar(20))
	assertClose(t, "EMA after NaN", ema.Value(), 15, 1e-9)
}

// ────────────────────────────────────────────────────────────
// SMMA Correctness
// ────────────────────────────────────────────────────────────

func TestSMMA_Correctness_Period3(t *testing.T) {
	// Prices: 100, 102, 104, 103, 105
	// Bar 2: seed SMA = 102
	// Bar 3: (102*2 + 103)/3 = 102.3333
	// Bar 4: (102.3333*2 + 105)/3 = 103.2222
	smma := NewSMMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102, 102.3333, 103.2222}

	for i, p := range prices {
		smma.Update(bar(p))
		if i < 2 {
			assertNaN(t, "SMMA warm-up", smma.Value())
			continue
		}
		assertClose(t, "SMMA(3)", smma.Value(), expected[i], 0.0001)
	}
}

// ────────────────────────────────────────────────────────────
// RSI Correctness
// ────────────────────────────────────────────────────────────

func TestRSI_Simple_Period3(t *testing.T) {
	// Prices: 44, 45, 43, 46, 45
	// Deltas:     +1  -2  +3  -1
	// Bar 3: gains [1,0,3] → 4/3, losses [0,2,0] → 2/3, RS=2 → 66.6667
	// Bar 4: gains [0,3,0] → 1,   losses [2,0,1] → 1,   RS=1 → 50
	rsi := NewRSI(3)
	prices := []float64{44, 45, 43, 46, 45}
	expected := []float64{0, 0, 0, 66.6667, 50.0}

	for i, p := range prices {
		rsi.Update(bar(p))
		if i < 3 {
			assertNaN(t, "RSI warm-up", rsi.Value())
			if rsi.Ready() {
				t.Errorf("bar %d: Ready()=true during warm-up", i)
			}
			continue
		}
		assertClose(t, "RSI(3)", rsi.Value(), expected[i], 0.0001)
	}
}

func TestRSI_Wilder_Period3(t *testing.T) {
	// Same prices, Wilder smoothing.
	// Bar 3: seed avgGain=4/3, avgLoss=2/3 → 66.6667
	// Bar 4: delta -1
	//   avgGain = (4/3*2 + 0)/3 = 8/9
	//   avgLoss = (2/3*2 + 1)/3 = 7/9
	//   RS = 8/7 → RSI = 100 − 100/(15/7) = 53.3333
	rsi := NewRSIWithSmoothing(3, SmoothingWilder)
	prices := []float64{44, 45, 43, 46, 45}

	for i, p := range prices {
		rsi.Update(bar(p))
		switch i {
		case 3:
			assertClose(t, "RSI wilder seed", rsi.Value(), 66.6667, 0.0001)
		case 4:
			assertClose(t, "RSI wilder smoothed", rsi.Value(), 53.3333, 0.0001)
		}
	}
}

func TestRSI_ZeroLossIs100(t *testing.T) {
	for _, sm := range []Smoothing{SmoothingSimple, SmoothingWilder} {
		rsi := NewRSIWithSmoothing(5, sm)
		for i := 0; i < 20; i++ {
			rsi.Update(bar(100))
			if i >= 5 {
				assertClose(t, "RSI flat "+string(sm), rsi.Value(), 100, 1e-9)
			}
		}

		up := NewRSIWithSmoothing(5, sm)
		for i := 0; i < 20; i++ {
			up.Update(bar(100 + float64(i)))
		}
		assertClose(t, "RSI rising "+string(sm), up.Value(), 100, 1e-9)
	}
}

func TestRSI_AllLossesIsZero(t *testing.T) {
	rsi := NewRSI(4)
	for i := 0; i < 10; i++ {
		rsi.Update(bar(100 - float64(i)))
	}
	assertClose(t, "RSI falling", rsi.Value(), 0, 1e-9)
}

// ────────────────────────────────────────────────────────────
// ATR / Bollinger / MACD Correctness
// ────────────────────────────────────────────────────────────

func TestATR_Correctness_Period2(t *testing.T) {
	// (high, low, close)
	// Bar 0: (10, 8, 9)   TR = 10−8 = 2 (no previous close)
	// Bar 1: (11, 9, 10)  TR = max(2, |11−9|, |9−9|)   = 2
	// Bar 2: (12, 9, 11)  TR = max(3, |12−10|, |9−10|) = 3
	// Bar 3: (11, 10, 10) TR = max(1, |11−11|, |10−11|) = 1
	// ATR(2): NaN, 2, 2.5, 2
	bars := []model.Bar{
		{High: 10, Low: 8, Close: 9},
		{High: 11, Low: 9, Close: 10},
		{High: 12, Low: 9, Close: 11},
		{High: 11, Low: 10, Close: 10},
	}
	expected := []float64{0, 2, 2.5, 2}

	atr := NewATR(2)
	for i, b := range bars {
		atr.Update(b)
		if i == 0 {
			assertNaN(t, "ATR warm-up", atr.Value())
			continue
		}
		assertClose(t, "ATR(2)", atr.Value(), expected[i], 1e-9)
	}
}

func TestBollinger_SampleStdDev(t *testing.T) {
	// Window 1,2,3: mean 2, sample std = sqrt((1+0+1)/2) = 1 → 4 / 0
	// Window 2,3,4: mean 3, std 1 → 5 / 1
	bb := NewBollinger(3, 2)
	for _, p := range []float64{1, 2, 3} {
		bb.Update(bar(p))
	}
	assertClose(t, "BB mid", bb.Value(), 2, 1e-9)
	assertClose(t, "BB upper", bb.Upper(), 4, 1e-9)
	assertClose(t, "BB lower", bb.Lower(), 0, 1e-9)

	bb.Update(bar(4))
	assertClose(t, "BB mid", bb.Value(), 3, 1e-9)
	assertClose(t, "BB upper", bb.Upper(), 5, 1e-9)
	assertClose(t, "BB lower", bb.Lower(), 1, 1e-9)
}

func TestMACD_Correctness(t *testing.T) {
	// MACD(2,3,2): α_fast = 2/3, α_slow = 1/2, α_signal = 2/3
	// Prices 10, 11, 12
	// Bar 0: fast=10, slow=10, line=0, signal=0
	// Bar 1: fast=10.6667, slow=10.5, line=0.16667, signal=0.11111, hist=0.05556
	// Bar 2: fast=11.55556, slow=11.25, line=0.30556, signal=0.24074, hist=0.06481
	m := NewMACD(2, 3, 2)
	m.Update(bar(10))
	assertClose(t, "MACD line 0", m.Value(), 0, 1e-9)
	assertClose(t, "MACD signal 0", m.SignalLine(), 0, 1e-9)

	m.Update(bar(11))
	assertClose(t, "MACD line 1", m.Value(), 0.16667, 1e-4)
	assertClose(t, "MACD signal 1", m.SignalLine(), 0.11111, 1e-4)
	assertClose(t, "MACD hist 1", m.Histogram(), 0.05556, 1e-4)

	m.Update(bar(12))
	assertClose(t, "MACD line 2", m.Value(), 0.30556, 1e-4)
	assertClose(t, "MACD signal 2", m.SignalLine(), 0.24074, 1e-4)
	assertClose(t, "MACD hist 2", m.Histogram(), 0.06481, 1e-4)
}
