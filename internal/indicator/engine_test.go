package indicator

import (
	"errors"
	"math"
	"testing"
	"time"

	"tradebot/internal/model"
)

func makeSeries(t *testing.T, closes []float64) *model.PriceSeries {
	t.Helper()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]model.Bar, len(closes))
	for i, c := range closes {
		bars[i] = model.Bar{
			TS:   start.Add(time.Duration(i) * time.Hour),
			Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 10,
		}
	}
	s, err := model.NewPriceSeries("BTC/USDT", "1h", bars)
	if err != nil {
		t.Fatalf("NewPriceSeries: %v", err)
	}
	return s
}

func constant(n int, c float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = c
	}
	return out
}

func TestEngine_ConstantSeries(t *testing.T) {
	series := makeSeries(t, constant(40, 250))
	frame, err := Compute(series, []IndicatorConfig{
		{Type: "SMA", Period: 20},
		{Type: "EMA", Period: 10},
		{Type: "RSI", Period: 14},
	})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	for i := 0; i < frame.Len(); i++ {
		sma, ok := frame.Value(SMAName(20), i)
		if ok != (i >= 19) {
			t.Errorf("bar %d: SMA_20 defined=%v", i, ok)
		}
		if ok {
			assertClose(t, "SMA_20", sma, 250, 1e-9)
		}

		rsi, ok := frame.Value(RSIName(14), i)
		if ok != (i >= 14) {
			t.Errorf("bar %d: RSI_14 defined=%v", i, ok)
		}
		if ok && rsi != 100 {
			t.Errorf("bar %d: RSI_14=%.4f, want exactly 100", i, rsi)
		}
	}
}

func TestEngine_EMAWarmUpHidesSeededValues(t *testing.T) {
	series := makeSeries(t, constant(20, 10))
	frame, err := Compute(series, []IndicatorConfig{{Type: "EMA", Period: 5}})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	// A number exists from bar 0 ...
	assertClose(t, "EMA raw bar 0", frame.Raw(EMAName(5), 0), 10, 1e-9)
	// ... but the first span values are warm-up.
	if _, ok := frame.Value(EMAName(5), 4); ok {
		t.Error("bar 4: EMA_5 should still be warming up")
	}
	if _, ok := frame.Value(EMAName(5), 5); !ok {
		t.Error("bar 5: EMA_5 should be defined")
	}
}

func TestEngine_AllColumns(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + 5*math.Sin(float64(i)/4)
	}
	frame, err := Compute(makeSeries(t, closes), []IndicatorConfig{
		{Type: "sma", Period: 5},
		{Type: "EMA", Period: 9},
		{Type: "SMMA", Period: 7},
		{Type: "RSI", Period: 14, Smoothing: SmoothingWilder},
		{Type: "MACD", Fast: 12, Slow: 26, Signal: 9},
		{Type: "BBANDS", Period: 20, K: 2},
		{Type: "ATR", Period: 14},
	})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	want := []string{
		"ATR_14", "BBL_20_2", "BBM_20_2", "BBU_20_2", "EMA_9",
		"MACDHIST_12_26_9", "MACDSIGNAL_12_26_9", "MACD_12_26_9",
		"RSI_14", "SMA_5", "SMMA_7",
	}
	got := frame.Names()
	if len(got) != len(want) {
		t.Fatalf("columns = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("column %d = %s, want %s", i, got[i], want[i])
		}
	}

	if _, ok := frame.Value(MACDSignalName(12, 26, 9), 34); ok {
		t.Error("MACD signal should be warming up at bar 34")
	}
	if _, ok := frame.Value(MACDSignalName(12, 26, 9), 35); !ok {
		t.Error("MACD signal should be defined at bar 35")
	}

	up, _ := frame.Value(BollingerUpperName(20, 2), 40)
	mid, _ := frame.Value(BollingerMidName(20, 2), 40)
	lo, _ := frame.Value(BollingerLowerName(20, 2), 40)
	if !(up > mid && mid > lo) {
		t.Errorf("bands out of order: %.4f %.4f %.4f", up, mid, lo)
	}
	assertClose(t, "band symmetry", up-mid, mid-lo, 1e-9)
}

func TestEngine_NoLookahead(t *testing.T) {
	closes := make([]float64, 120)
	for i := range closes {
		closes[i] = 100 + 10*math.Sin(float64(i)/7) + float64(i%5)
	}
	series := makeSeries(t, closes)
	configs := []IndicatorConfig{
		{Type: "SMA", Period: 10},
		{Type: "EMA", Period: 12},
		{Type: "RSI", Period: 14},
		{Type: "MACD", Fast: 5, Slow: 13, Signal: 4},
		{Type: "BBANDS", Period: 10, K: 2},
		{Type: "ATR", Period: 14},
	}
	full, err := Compute(series, configs)
	if err != nil {
		t.Fatalf("Compute full: %v", err)
	}

	for _, n := range []int{30, 57, 90, 119} {
		part, err := Compute(series.Truncate(n), configs)
		if err != nil {
			t.Fatalf("Compute prefix %d: %v", n, err)
		}
		for _, name := range full.Names() {
			for i := 0; i < n; i++ {
				a, b := full.Raw(name, i), part.Raw(name, i)
				if math.IsNaN(a) && math.IsNaN(b) {
					continue
				}
				if a != b {
					t.Fatalf("%s[%d]: full=%v prefix(%d)=%v", name, i, a, n, b)
				}
			}
		}
	}
}

func TestEngine_ConfigurationErrors(t *testing.T) {
	series := makeSeries(t, constant(10, 1))

	cases := []struct {
		name  string
		cfg   IndicatorConfig
		param string
	}{
		{"zero period", IndicatorConfig{Type: "SMA", Period: 0}, "period"},
		{"negative period", IndicatorConfig{Type: "RSI", Period: -3}, "period"},
		{"window equals length", IndicatorConfig{Type: "SMA", Period: 10}, "period"},
		{"window exceeds length", IndicatorConfig{Type: "ATR", Period: 11}, "period"},
		{"unknown type", IndicatorConfig{Type: "VWAP", Period: 3}, "type"},
		{"fast not below slow", IndicatorConfig{Type: "MACD", Fast: 5, Slow: 5, Signal: 2}, "fast"},
		{"macd slow too long", IndicatorConfig{Type: "MACD", Fast: 2, Slow: 12, Signal: 2}, "slow"},
		{"bollinger k", IndicatorConfig{Type: "BBANDS", Period: 5, K: 0}, "k"},
		{"bollinger single bar", IndicatorConfig{Type: "BBANDS", Period: 1, K: 2}, "period"},
		{"rsi smoothing", IndicatorConfig{Type: "RSI", Period: 3, Smoothing: "ema"}, "smoothing"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Compute(series, []IndicatorConfig{tc.cfg})
			var cerr *ConfigurationError
			if !errors.As(err, &cerr) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
			if cerr.Param != tc.param {
				t.Errorf("Param = %q, want %q (%v)", cerr.Param, tc.param, cerr)
			}
		})
	}
}

func TestEngine_NilSeries(t *testing.T) {
	_, err := Compute(nil, []IndicatorConfig{{Type: "SMA", Period: 2}})
	var derr *model.DataIntegrityError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DataIntegrityError, got %v", err)
	}
}

func TestEngine_DuplicateConfigs(t *testing.T) {
	series := makeSeries(t, constant(30, 5))

	if _, err := Compute(series, []IndicatorConfig{
		{Type: "SMA", Period: 5}, {Type: "SMA", Period: 5},
	}); err != nil {
		t.Errorf("identical duplicates should be merged, got %v", err)
	}

	_, err := Compute(series, []IndicatorConfig{
		{Type: "RSI", Period: 14},
		{Type: "RSI", Period: 14, Smoothing: SmoothingWilder},
	})
	var cerr *ConfigurationError
	if !errors.As(err, &cerr) {
		t.Errorf("conflicting RSI_14 definitions should fail, got %v", err)
	}
}

func TestParseSpec(t *testing.T) {
	cases := map[string]IndicatorConfig{
		"SMA:20":        {Type: "SMA", Period: 20},
		"ema:9":         {Type: "EMA", Period: 9},
		"RSI:14:wilder": {Type: "RSI", Period: 14, Smoothing: SmoothingWilder},
		"MACD:12:26:9":  {Type: "MACD", Fast: 12, Slow: 26, Signal: 9},
		"BBANDS:20:2.5": {Type: "BBANDS", Period: 20, K: 2.5},
	}
	for spec, want := range cases {
		got, err := ParseSpec(spec)
		if err != nil {
			t.Errorf("%s: %v", spec, err)
			continue
		}
		if got != want {
			t.Errorf("%s: got %+v, want %+v", spec, got, want)
		}
	}

	for _, bad := range []string{"SMA", "SMA:x", "MACD:1:2", "FOO:3", "BBANDS:20:z"} {
		if _, err := ParseSpec(bad); err == nil {
			t.Errorf("%s: expected error", bad)
		}
	}
}

func TestSettleBars(t *testing.T) {
	cases := []struct {
		cfg  IndicatorConfig
		want int
	}{
		{IndicatorConfig{Type: "SMA", Period: 20}, 21},
		{IndicatorConfig{Type: "ATR", Period: 14}, 15},
		{IndicatorConfig{Type: "RSI", Period: 14}, 15},
		{IndicatorConfig{Type: "RSI", Period: 14, Smoothing: SmoothingWilder}, 155},
		{IndicatorConfig{Type: "ema", Period: 20}, 125},
		{IndicatorConfig{Type: "SMMA", Period: 7}, 77},
		{IndicatorConfig{Type: "MACD", Fast: 12, Slow: 26, Signal: 9}, 161 + 59},
	}
	for _, c := range cases {
		if got := SettleBars(c.cfg); got != c.want {
			t.Errorf("SettleBars(%+v) = %d, want %d", c.cfg, got, c.want)
		}
	}
}

func TestSettleBars_TailMatchesFullHistory(t *testing.T) {
	closes := make([]float64, 400)
	for i := range closes {
		closes[i] = 100 + 10*math.Sin(float64(i)/7) + 0.2*float64(i)
	}
	full := makeSeries(t, closes)
	for _, cfg := range []IndicatorConfig{
		{Type: "SMA", Period: 20},
		{Type: "EMA", Period: 20},
		{Type: "SMMA", Period: 14},
		{Type: "RSI", Period: 14, Smoothing: SmoothingWilder},
		{Type: "MACD", Fast: 12, Slow: 26, Signal: 9},
	} {
		w := SettleBars(cfg)
		want, err := Compute(full, []IndicatorConfig{cfg})
		if err != nil {
			t.Fatalf("%s full: %v", cfg.Type, err)
		}
		got, err := Compute(makeSeries(t, closes[len(closes)-w:]), []IndicatorConfig{cfg})
		if err != nil {
			t.Fatalf("%s tail: %v", cfg.Type, err)
		}
		for _, name := range want.Names() {
			a, ok := want.Value(name, want.Len()-1)
			b, okTail := got.Value(name, got.Len()-1)
			if !ok || !okTail {
				t.Fatalf("%s: newest value missing (full %v, tail %v)", name, ok, okTail)
			}
			if math.Abs(a-b) > 0.01 {
				t.Errorf("%s over %d bars = %v, full history %v", name, w, b, a)
			}
		}
	}
}
