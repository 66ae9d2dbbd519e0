// Package report turns backtest results into summary metrics, ledger
// records and terminal tables.
package report

import (
	"math"

	"tradebot/internal/backtest"
	"tradebot/internal/model"
)

// Summary aggregates a run. Percentages are in percent, not fractions.
type Summary struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Bars      int    `json:"bars"`
	Completed bool   `json:"completed"`

	InitialCapital float64 `json:"initial_capital"`
	FinalEquity    float64 `json:"final_equity"`
	TotalReturn    float64 `json:"total_return_pct"`
	RealizedPnL    float64 `json:"realized_pnl"`
	UnrealizedPnL  float64 `json:"unrealized_pnl"`
	TotalFees      float64 `json:"total_fees"`

	Trades       int     `json:"trades"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      float64 `json:"win_rate_pct"`
	GrossProfit  float64 `json:"gross_profit"`
	GrossLoss    float64 `json:"gross_loss"`
	ProfitFactor float64 `json:"profit_factor"` // 0 when there is no losing trade
	AverageTrade float64 `json:"average_trade"`
	MaxDrawdown  float64 `json:"max_drawdown_pct"`
	Sharpe       float64 `json:"sharpe"` // per bar, not annualised

	ExitReasons map[model.ExitReason]int `json:"exit_reasons,omitempty"`
	OpenSide    string                   `json:"open_side,omitempty"`
}

// Summarize computes the summary of res. Trade statistics use net P&L.
func Summarize(res *backtest.Result) Summary {
	s := Summary{
		Symbol:         res.Symbol,
		Timeframe:      res.Timeframe,
		Bars:           res.Bars,
		Completed:      res.Completed,
		InitialCapital: res.InitialCapital,
		FinalEquity:    res.FinalEquity,
		RealizedPnL:    res.RealizedPnL,
		UnrealizedPnL:  res.UnrealizedPnL,
		TotalFees:      res.TotalFees,
		Trades:         len(res.Ledger),
		ExitReasons:    make(map[model.ExitReason]int),
	}
	if res.InitialCapital > 0 {
		s.TotalReturn = (res.FinalEquity - res.InitialCapital) / res.InitialCapital * 100
	}
	if res.Open != nil {
		s.OpenSide = res.Open.Side.String()
	}

	net := 0.0
	for _, e := range res.Ledger {
		s.ExitReasons[e.ExitReason]++
		pnl := e.Net()
		net += pnl
		switch {
		case pnl > 0:
			s.Wins++
			s.GrossProfit += pnl
		case pnl < 0:
			s.Losses++
			s.GrossLoss += -pnl
		}
	}
	if s.Trades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Trades) * 100
		s.AverageTrade = net / float64(s.Trades)
	}
	if s.GrossLoss > 0 {
		s.ProfitFactor = s.GrossProfit / s.GrossLoss
	}
	s.MaxDrawdown = MaxDrawdown(res.Equity)
	s.Sharpe = Sharpe(res.Equity)
	return s
}

// MaxDrawdown is the largest peak-to-trough fall of the equity curve, in percent.
func MaxDrawdown(equity []model.EquityPoint) float64 {
	peak, worst := math.Inf(-1), 0.0
	for _, p := range equity {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			if dd := (peak - p.Equity) / peak * 100; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// Sharpe is mean/stddev of bar-to-bar equity returns with a zero risk-free
// rate. Flat or too-short curves give 0.
func Sharpe(equity []model.EquityPoint) float64 {
	if len(equity) < 3 {
		return 0
	}
	rets := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Equity
		if prev == 0 {
			continue
		}
		rets = append(rets, equity[i].Equity/prev-1)
	}
	if len(rets) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range rets {
		mean += r
	}
	mean /= float64(len(rets))
	ss := 0.0
	for _, r := range rets {
		ss += (r - mean) * (r - mean)
	}
	sd := math.Sqrt(ss / float64(len(rets)-1))
	if sd == 0 {
		return 0
	}
	return mean / sd
}
