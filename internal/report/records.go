package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"tradebot/internal/backtest"
	"tradebot/internal/model"
)

// LedgerHeader is the first row returned by Records.
var LedgerHeader = []string{
	"entry_index", "exit_index", "entry_time", "exit_time", "side",
	"entry_price", "exit_price", "size", "realized_pnl", "fees", "net_pnl", "exit_reason",
}

// Records renders the ledger as rows of strings in close order, header first.
func Records(ledger []model.LedgerEntry) [][]string {
	out := make([][]string, 0, len(ledger)+1)
	out = append(out, append([]string(nil), LedgerHeader...))
	for _, e := range ledger {
		out = append(out, []string{
			strconv.Itoa(e.EntryIndex),
			strconv.Itoa(e.ExitIndex),
			e.EntryTime.UTC().Format(time.RFC3339),
			e.ExitTime.UTC().Format(time.RFC3339),
			e.Side.String(),
			num(e.EntryPrice),
			num(e.ExitPrice),
			num(e.Size),
			num(e.RealizedPnL),
			num(e.Fees),
			num(e.Net()),
			string(e.ExitReason),
		})
	}
	return out
}

// num prints the shortest exact decimal form, never exponent notation.
func num(v float64) string {
	return decimal.NewFromFloat(v).String()
}

// WriteCSV writes Records(ledger) as CSV.
func WriteCSV(w io.Writer, ledger []model.LedgerEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(Records(ledger)); err != nil {
		return fmt.Errorf("write ledger csv: %w", err)
	}
	return nil
}

// Document is the JSON form of a run.
type Document struct {
	RunID         string              `json:"run_id,omitempty"`
	Summary       Summary             `json:"summary"`
	Ledger        []model.LedgerEntry `json:"ledger"`
	Equity        []model.EquityPoint `json:"equity,omitempty"`
	OpenPosition  *model.Position     `json:"open_position,omitempty"`
	Skipped       map[string]int      `json:"skipped,omitempty"`
	AbortReason   string              `json:"abort_reason,omitempty"`
	LastGoodIndex *int                `json:"last_good_index,omitempty"`
}

// NewDocument builds the JSON document for res. withEquity controls whether
// the full equity curve is included.
func NewDocument(runID string, res *backtest.Result, withEquity bool) Document {
	d := Document{
		RunID:        runID,
		Summary:      Summarize(res),
		Ledger:       res.Ledger,
		OpenPosition: res.Open,
		Skipped:      res.Skipped,
	}
	if d.Ledger == nil {
		d.Ledger = []model.LedgerEntry{}
	}
	if withEquity {
		d.Equity = res.Equity
	}
	if res.Abort != nil {
		d.AbortReason = res.Abort.Error()
		last := res.Abort.LastGoodIndex
		d.LastGoodIndex = &last
	}
	return d
}

// WriteJSON writes the indented JSON document for res.
func WriteJSON(w io.Writer, runID string, res *backtest.Result, withEquity bool) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(NewDocument(runID, res, withEquity)); err != nil {
		return fmt.Errorf("write result json: %w", err)
	}
	return nil
}
