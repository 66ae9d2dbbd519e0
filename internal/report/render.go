package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/olekukonko/tablewriter"

	"tradebot/internal/backtest"
	"tradebot/internal/model"
)

// RenderSummary prints the summary as a two-column table.
func RenderSummary(w io.Writer, s Summary) {
	status := "completed"
	if !s.Completed {
		status = "ABORTED"
	}
	pf := "n/a"
	if s.ProfitFactor > 0 {
		pf = fmt.Sprintf("%.2f", s.ProfitFactor)
	}

	table := tablewriter.NewWriter(w)
	table.Header("Metric", "Value")
	rows := [][2]string{
		{"Symbol", s.Symbol + " " + s.Timeframe},
		{"Bars", fmt.Sprintf("%d", s.Bars)},
		{"Status", status},
		{"Initial capital", fmt.Sprintf("%.2f", s.InitialCapital)},
		{"Final equity", fmt.Sprintf("%.2f", s.FinalEquity)},
		{"Total return", fmt.Sprintf("%.2f%%", s.TotalReturn)},
		{"Realized P&L", fmt.Sprintf("%.2f", s.RealizedPnL)},
		{"Unrealized P&L", fmt.Sprintf("%.2f", s.UnrealizedPnL)},
		{"Fees", fmt.Sprintf("%.2f", s.TotalFees)},
		{"Trades", fmt.Sprintf("%d (%d W / %d L)", s.Trades, s.Wins, s.Losses)},
		{"Win rate", fmt.Sprintf("%.1f%%", s.WinRate)},
		{"Profit factor", pf},
		{"Average trade", fmt.Sprintf("%.2f", s.AverageTrade)},
		{"Max drawdown", fmt.Sprintf("%.2f%%", s.MaxDrawdown)},
		{"Sharpe (per bar)", fmt.Sprintf("%.4f", s.Sharpe)},
	}
	reasons := make([]string, 0, len(s.ExitReasons))
	for r := range s.ExitReasons {
		reasons = append(reasons, string(r))
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		rows = append(rows, [2]string{"Exits " + r, fmt.Sprintf("%d", s.ExitReasons[model.ExitReason(r)])})
	}
	if s.OpenSide != "" {
		rows = append(rows, [2]string{"Open position", s.OpenSide})
	}
	for _, r := range rows {
		table.Append(r[0], r[1])
	}
	table.Render()
}

// RenderLedger prints every closed trade.
func RenderLedger(w io.Writer, ledger []model.LedgerEntry) {
	recs := Records(ledger)
	table := tablewriter.NewWriter(w)
	header := make([]any, len(recs[0]))
	for i, h := range recs[0] {
		header[i] = h
	}
	table.Header(header...)
	for _, row := range recs[1:] {
		cells := make([]any, len(row))
		for i, c := range row {
			cells[i] = c
		}
		table.Append(cells...)
	}
	table.Render()
}

// RenderSweep prints one line per sweep configuration.
func RenderSweep(w io.Writer, results []backtest.SweepResult) {
	table := tablewriter.NewWriter(w)
	table.Header("#", "Short", "Long", "Trades", "Win rate", "Return", "Max DD", "Status")
	for i, r := range results {
		short, long := r.Config.Strategy.ShortPeriod, r.Config.Strategy.LongPeriod
		if r.Result == nil {
			table.Append(fmt.Sprintf("%d", i+1), fmt.Sprintf("%d", short), fmt.Sprintf("%d", long), "-", "-", "-", "-", "error: "+r.Err.Error())
			continue
		}
		s := Summarize(r.Result)
		status := "ok"
		if r.Err != nil {
			status = r.Err.Error()
		}
		table.Append(
			fmt.Sprintf("%d", i+1),
			fmt.Sprintf("%d", short),
			fmt.Sprintf("%d", long),
			fmt.Sprintf("%d", s.Trades),
			fmt.Sprintf("%.1f%%", s.WinRate),
			fmt.Sprintf("%.2f%%", s.TotalReturn),
			fmt.Sprintf("%.2f%%", s.MaxDrawdown),
			status,
		)
	}
	table.Render()
}
