package risk

import (
	"errors"
	"math"
	"testing"

	"tradebot/internal/model"
)

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f", label, got, want)
	}
}

func mustSizer(t *testing.T, cfg Config) *Sizer {
	t.Helper()
	s, err := NewSizer(cfg)
	if err != nil {
		t.Fatalf("NewSizer: %v", err)
	}
	return s
}

func TestSizeWithStop_Boundary(t *testing.T) {
	// balance=1000, risk=1%, entry=100, stop=95
	// size = (1000 × 0.01) / 5 = 2.0, below the 1000/100 = 10 cap.
	s := mustSizer(t, Config{RiskPercentage: 1, StopBasis: StopPercent, StopPercent: 0.05, RiskRewardRatio: 2})

	size, clamped, err := s.SizeWithStop(1000, 100, 95)
	if err != nil {
		t.Fatalf("SizeWithStop: %v", err)
	}
	assertClose(t, "size", size, 2.0, 1e-12)
	if clamped {
		t.Error("clamp should not trigger")
	}

	// Stop almost on top of entry: the denominator is ~0.
	_, _, err = s.SizeWithStop(1000, 100, 99.9999)
	var rerr *InvalidRiskParametersError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected InvalidRiskParametersError, got %v", err)
	}
	if rerr.Param != "stop_loss" {
		t.Errorf("Param = %s", rerr.Param)
	}
	if !errors.Is(err, ErrInvalidRiskParameters) {
		t.Error("errors.Is(ErrInvalidRiskParameters) should match")
	}
}

func TestSizeWithStop_Invalid(t *testing.T) {
	s := mustSizer(t, DefaultConfig())
	cases := []struct {
		name                 string
		balance, entry, stop float64
		param                string
	}{
		{"zero balance", 0, 100, 95, "balance"},
		{"negative balance", -5, 100, 95, "balance"},
		{"zero price", 1000, 0, 95, "entry"},
		{"nan price", 1000, math.NaN(), 95, "entry"},
		{"stop equals entry", 1000, 100, 100, "stop_loss"},
		{"inf stop", 1000, 100, math.Inf(-1), "stop_loss"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			size, _, err := s.SizeWithStop(tc.balance, tc.entry, tc.stop)
			var rerr *InvalidRiskParametersError
			if !errors.As(err, &rerr) {
				t.Fatalf("expected InvalidRiskParametersError, got size=%v err=%v", size, err)
			}
			if rerr.Param != tc.param {
				t.Errorf("Param = %s, want %s", rerr.Param, tc.param)
			}
		})
	}
}

func TestSizeWithStop_ClampAndLeverage(t *testing.T) {
	// Risk 50% with a 1% stop wants 1000*0.5/1 = 500 units; cap is 1000/100 = 10.
	s := mustSizer(t, Config{RiskPercentage: 50, StopBasis: StopPercent, StopPercent: 0.01, RiskRewardRatio: 2})
	size, clamped, err := s.SizeWithStop(1000, 100, 99)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, "clamped size", size, 10, 1e-12)
	if !clamped {
		t.Error("expected clamp")
	}

	// Leverage 3 raises the cap to 30 but does not change the unclamped size.
	lev := mustSizer(t, Config{RiskPercentage: 50, StopBasis: StopPercent, StopPercent: 0.01, RiskRewardRatio: 2, Leverage: 3})
	size, _, _ = lev.SizeWithStop(1000, 100, 99)
	assertClose(t, "leveraged cap", size, 30, 1e-12)

	// 1000*50%/50 = 10 units, under both caps.
	size, _, _ = lev.SizeWithStop(1000, 100, 50)
	assertClose(t, "leverage leaves risk sizing alone", size, 10, 1e-12)
}

func TestPlan_ATRBasis(t *testing.T) {
	// entry 100, ATR 2.5, multiplier 2 → stop 95 (long) / 105 (short)
	// rr 3 → take profit 115 / 85; size = 1000*1%/5 = 2
	s := mustSizer(t, Config{RiskPercentage: 1, StopBasis: StopATR, ATRMultiplier: 2, RiskRewardRatio: 3})

	long, err := s.Plan(1000, 100, model.Long, 2.5)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, "long stop", long.StopLoss, 95, 1e-12)
	assertClose(t, "long tp", long.TakeProfit, 115, 1e-12)
	assertClose(t, "long size", long.Size, 2, 1e-12)
	assertClose(t, "long risk", long.RiskAmount, 10, 1e-12)

	short, err := s.Plan(1000, 100, model.Short, 2.5)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, "short stop", short.StopLoss, 105, 1e-12)
	assertClose(t, "short tp", short.TakeProfit, 85, 1e-12)
	assertClose(t, "short size", short.Size, 2, 1e-12)

	if _, err := s.Plan(1000, 100, model.Long, math.NaN()); !errors.Is(err, ErrInvalidRiskParameters) {
		t.Errorf("NaN ATR: got %v", err)
	}
	if _, err := s.Plan(1000, 100, model.Flat, 1); !errors.Is(err, ErrInvalidRiskParameters) {
		t.Errorf("flat side: got %v", err)
	}
}

func TestPlan_PercentBasis(t *testing.T) {
	s := mustSizer(t, Config{RiskPercentage: 2, StopBasis: StopPercent, StopPercent: 0.04, RiskRewardRatio: 1.5})
	p, err := s.Plan(5000, 50, model.Long, math.NaN())
	if err != nil {
		t.Fatal(err)
	}
	// stop 48, tp 53, size = 100/2 = 50 → cap 5000/50 = 100, no clamp
	assertClose(t, "stop", p.StopLoss, 48, 1e-12)
	assertClose(t, "tp", p.TakeProfit, 53, 1e-12)
	assertClose(t, "size", p.Size, 50, 1e-12)
}

func TestPlan_RejectsPoorRewardRisk(t *testing.T) {
	s := mustSizer(t, Config{RiskPercentage: 1, StopBasis: StopPercent, StopPercent: 0.05, RiskRewardRatio: 0.5})
	p, err := s.Plan(1000, 100, model.Long, 0)
	if err != nil {
		t.Fatal(err)
	}
	if p.Size != 0 || p.Rejected == "" {
		t.Errorf("expected rejection, got %+v", p)
	}

	// Explicit brackets: reward 4 vs risk 5 is rejected, reward 5 is accepted.
	ok := mustSizer(t, DefaultConfig())
	p, _ = ok.PlanWithBrackets(1000, 100, 95, 104, model.Long)
	if p.Size != 0 {
		t.Errorf("0.8 R should be rejected: %+v", p)
	}
	p, _ = ok.PlanWithBrackets(1000, 100, 95, 105, model.Long)
	assertClose(t, "1 R accepted", p.Size, 2, 1e-12)
}

func TestPlanWithBrackets_WrongSide(t *testing.T) {
	s := mustSizer(t, DefaultConfig())
	if _, err := s.PlanWithBrackets(1000, 100, 105, 120, model.Long); !errors.Is(err, ErrInvalidRiskParameters) {
		t.Errorf("stop above long entry: got %v", err)
	}
	if _, err := s.PlanWithBrackets(1000, 100, 105, 110, model.Short); !errors.Is(err, ErrInvalidRiskParameters) {
		t.Errorf("take profit above short entry: got %v", err)
	}
}

func TestNewSizer_Validation(t *testing.T) {
	bad := []Config{
		{RiskPercentage: 0, RiskRewardRatio: 2, ATRMultiplier: 2},
		{RiskPercentage: 150, RiskRewardRatio: 2, ATRMultiplier: 2},
		{RiskPercentage: 1, RiskRewardRatio: 2, ATRMultiplier: 0},
		{RiskPercentage: 1, RiskRewardRatio: 2, StopBasis: StopPercent, StopPercent: 1.5},
		{RiskPercentage: 1, RiskRewardRatio: 0, ATRMultiplier: 2},
		{RiskPercentage: 1, RiskRewardRatio: 2, ATRMultiplier: 2, Leverage: 0.5},
		{RiskPercentage: 1, RiskRewardRatio: 2, ATRMultiplier: 2, StopBasis: "fixed"},
	}
	for i, cfg := range bad {
		if _, err := NewSizer(cfg); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}
