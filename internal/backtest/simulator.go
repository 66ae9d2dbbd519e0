// Package backtest replays a PriceSeries bar by bar through the indicator,
// signal and risk components and keeps the account: cash, the single open
// position, bracket exits and the trade ledger.
//
// A run is a pure function of (series, config). It performs no I/O and
// holds no state shared with other runs, which is what lets Sweep execute
// many runs in parallel.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"tradebot/internal/indicator"
	"tradebot/internal/model"
	"tradebot/internal/risk"
	"tradebot/internal/strategy"
)

// SignalSource decides each bar. *strategy.Generator implements it.
type SignalSource interface {
	Indicators() []indicator.IndicatorConfig
	Check(frame *indicator.Frame) error
	At(frame *indicator.Frame, i int) strategy.Decision
}

// PositionSizer places brackets and sizes entries. *risk.Sizer implements it.
type PositionSizer interface {
	Plan(balance, entry float64, side model.Side, atr float64) (risk.Plan, error)
	ATRColumn() int
}

// Result is the outcome of a run. When Completed is false, Abort explains
// why and the ledger/equity only cover bars up to Abort.LastGoodIndex.
type Result struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Bars      int    `json:"bars"`

	Signals []model.Signal      `json:"signals"`
	Ledger  []model.LedgerEntry `json:"ledger"`
	Equity  []model.EquityPoint `json:"equity"`
	Open    *model.Position     `json:"open_position,omitempty"`
	Skipped map[string]int      `json:"skipped,omitempty"` // entry signals not acted on, by reason

	InitialCapital float64 `json:"initial_capital"`
	FinalCash      float64 `json:"final_cash"`
	FinalEquity    float64 `json:"final_equity"`
	RealizedPnL    float64 `json:"realized_pnl"`   // gross, closed trades
	UnrealizedPnL  float64 `json:"unrealized_pnl"` // gross, open position at last close
	TotalFees      float64 `json:"total_fees"`     // every fill, including an open entry

	Completed bool             `json:"completed"`
	Abort     *SimulationAbort `json:"-"`
}

// Simulator runs backtests for one configuration.
type Simulator struct {
	cfg    Config
	signal SignalSource
	sizer  PositionSizer
	inds   *indicator.Engine
}

// New builds a simulator from cfg using the default rule chain and sizer.
func New(cfg Config) (*Simulator, error) {
	gen, err := strategy.NewGenerator(cfg.Strategy)
	if err != nil {
		return nil, fmt.Errorf("backtest: %w", err)
	}
	sizer, err := risk.NewSizer(cfg.Risk)
	if err != nil {
		return nil, fmt.Errorf("backtest: %w", err)
	}
	return NewWithComponents(cfg, gen, sizer)
}

// NewWithComponents builds a simulator around caller-supplied components.
func NewWithComponents(cfg Config, signal SignalSource, sizer PositionSizer) (*Simulator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	configs := append([]indicator.IndicatorConfig{}, signal.Indicators()...)
	if p := sizer.ATRColumn(); p > 0 {
		configs = append(configs, indicator.IndicatorConfig{Type: "ATR", Period: p})
	}
	configs = append(configs, cfg.Indicators...)
	return &Simulator{
		cfg:    cfg,
		signal: signal,
		sizer:  sizer,
		inds:   indicator.NewEngine(configs),
	}, nil
}

// Config returns the run configuration.
func (s *Simulator) Config() Config { return s.cfg }

// run is the mutable state of a single backtest.
type run struct {
	cfg    Config
	series *model.PriceSeries
	frame  *indicator.Frame
	res    *Result
	cash   float64
	pos    *model.Position
	ledger model.Ledger
}

// Run executes the backtest. On failure it returns the partial Result
// together with a *SimulationAbort error.
func (s *Simulator) Run(ctx context.Context, series *model.PriceSeries) (res *Result, err error) {
	if series == nil || series.Len() == 0 {
		return nil, &model.DataIntegrityError{Index: -1, Reason: "empty series"}
	}
	n := series.Len()
	r := &run{
		cfg:    s.cfg,
		series: series,
		cash:   s.cfg.InitialCapital,
		res: &Result{
			Symbol:         series.Symbol(),
			Timeframe:      series.Timeframe(),
			Bars:           n,
			Signals:        make([]model.Signal, 0, n),
			Equity:         make([]model.EquityPoint, 0, n),
			Skipped:        make(map[string]int),
			InitialCapital: s.cfg.InitialCapital,
		},
	}

	idx, component := 0, ComponentIndicator
	abort := func(cause error) (*Result, error) {
		a := &SimulationAbort{Index: idx, LastGoodIndex: len(r.res.Equity) - 1, Component: component, Err: cause}
		r.finish(false)
		r.res.Abort = a
		slog.Debug("backtest aborted", "symbol", series.Symbol(), "bar", idx, "component", component, "error", cause)
		return r.res, a
	}
	defer func() {
		if p := recover(); p != nil {
			res, err = abort(fmt.Errorf("panic: %v", p))
		}
	}()

	r.frame, err = s.inds.Compute(series)
	if err != nil {
		return abort(err)
	}
	component = ComponentSignal
	if err := s.signal.Check(r.frame); err != nil {
		return abort(err)
	}

	for idx = 0; idx < n; idx++ {
		if err := ctx.Err(); err != nil {
			component = ComponentSimulator
			return abort(err)
		}
		bar := series.Bar(idx)

		component = ComponentSimulator
		r.checkBracketExit(idx, bar)

		component = ComponentSignal
		d := s.signal.At(r.frame, idx)
		r.res.Signals = append(r.res.Signals, d.Signal)
		r.evaluateSignal(idx, bar, d)

		component = ComponentRisk
		if err := r.maybeOpen(idx, bar, d, s.sizer); err != nil {
			return abort(err)
		}

		component = ComponentSimulator
		r.trail(bar)
		r.recordEquity(idx, bar)
	}

	r.finish(true)
	slog.Debug("backtest complete",
		"symbol", series.Symbol(), "bars", n, "trades", r.ledger.Len(),
		"final_equity", r.res.FinalEquity)
	return r.res, nil
}

// checkBracketExit closes the position when the bar's range reaches the
// stop or the target. Stop-loss wins when both are touched. Never runs on
// the entry bar.
func (r *run) checkBracketExit(i int, bar model.Bar) {
	p := r.pos
	if p == nil || i <= p.OpenedAt {
		return
	}
	var hitStop, hitTarget bool
	switch p.Side {
	case model.Long:
		hitStop = bar.Low <= p.StopLoss
		hitTarget = bar.High >= p.TakeProfit
	case model.Short:
		hitStop = bar.High >= p.StopLoss
		hitTarget = bar.Low <= p.TakeProfit
	}
	switch {
	case hitStop:
		r.close(i, bar, p.StopLoss, model.ExitStopLoss)
	case hitTarget:
		r.close(i, bar, p.TakeProfit, model.ExitTakeProfit)
	}
}

// evaluateSignal closes the position at the bar close on an opposite signal.
func (r *run) evaluateSignal(i int, bar model.Bar, d strategy.Decision) {
	if r.pos == nil {
		return
	}
	if (r.pos.Side == model.Long && d.Signal == model.Sell) || (r.pos.Side == model.Short && d.Signal == model.Buy) {
		r.close(i, bar, bar.Close, model.ExitSignalReversal)
	}
}

// maybeOpen sizes and opens a position when flat. Only errors other than
// invalid risk parameters are returned; those mean "no trade".
func (r *run) maybeOpen(i int, bar model.Bar, d strategy.Decision, sizer PositionSizer) error {
	if r.pos != nil || d.Signal == model.Hold {
		return nil
	}
	side := model.SideFor(d.Signal)
	if side == model.Short && !r.cfg.AllowShort {
		return nil
	}

	atr := math.NaN()
	if p := sizer.ATRColumn(); p > 0 {
		if v, ok := r.frame.Value(indicator.ATRName(p), i); ok {
			atr = v
		}
	}

	entry := bar.Close
	plan, err := sizer.Plan(r.cash, entry, side, atr)
	if err != nil {
		if errors.Is(err, risk.ErrInvalidRiskParameters) {
			r.res.Skipped["invalid_risk_parameters"]++
			slog.Debug("entry skipped", "bar", i, "signal", d.Signal, "error", err)
			return nil
		}
		return err
	}
	if plan.Size <= 0 {
		r.res.Skipped["rejected"]++
		slog.Debug("entry rejected", "bar", i, "signal", d.Signal, "reason", plan.Rejected)
		return nil
	}

	size := plan.Size
	tc := r.cfg.TransactionCost
	leverage := math.Max(1, r.cfg.Risk.Leverage)
	if side == model.Long {
		if maxAffordable := r.cash * leverage / (entry * (1 + tc)); size > maxAffordable {
			size = maxAffordable
		}
		if size <= 0 {
			r.res.Skipped["insufficient_cash"]++
			return nil
		}
	}

	notional := size * entry
	fee := notional * tc
	if side == model.Long {
		r.cash -= notional + fee
	} else {
		r.cash += notional - fee
	}
	r.res.TotalFees += fee
	r.pos = &model.Position{
		Side:       side,
		EntryPrice: entry,
		Size:       size,
		StopLoss:   plan.StopLoss,
		TakeProfit: plan.TakeProfit,
		OpenedAt:   i,
		EntryFee:   fee,
	}
	slog.Debug("position opened", "bar", i, "side", side, "size", size, "entry", entry,
		"stop", plan.StopLoss, "target", plan.TakeProfit, "rule", d.Rule)
	return nil
}

// trail ratchets the stop toward price. It never loosens.
func (r *run) trail(bar model.Bar) {
	t := r.cfg.TrailingPercent
	if r.pos == nil || t <= 0 {
		return
	}
	switch r.pos.Side {
	case model.Long:
		r.pos.StopLoss = math.Max(r.pos.StopLoss, bar.Close*(1-t))
	case model.Short:
		r.pos.StopLoss = math.Min(r.pos.StopLoss, bar.Close*(1+t))
	}
}

func (r *run) close(i int, bar model.Bar, exit float64, reason model.ExitReason) {
	p := r.pos
	notional := p.Size * exit
	fee := notional * r.cfg.TransactionCost
	if p.Side == model.Long {
		r.cash += notional - fee
	} else {
		r.cash -= notional + fee
	}
	r.res.TotalFees += fee

	entry := model.LedgerEntry{
		EntryIndex:  p.OpenedAt,
		ExitIndex:   i,
		EntryTime:   r.series.Bar(p.OpenedAt).TS,
		ExitTime:    bar.TS,
		Side:        p.Side,
		EntryPrice:  p.EntryPrice,
		ExitPrice:   exit,
		Size:        p.Size,
		RealizedPnL: p.Unrealized(exit),
		Fees:        p.EntryFee + fee,
		ExitReason:  reason,
	}
	r.ledger.Append(entry)
	r.res.RealizedPnL += entry.RealizedPnL
	r.pos = nil
	slog.Debug("position closed", "bar", i, "reason", reason, "exit", exit, "pnl", entry.RealizedPnL)
}

func (r *run) recordEquity(i int, bar model.Bar) {
	eq := r.cash
	if r.pos != nil {
		eq += r.pos.MarketValue(bar.Close)
	}
	r.res.Equity = append(r.res.Equity, model.EquityPoint{Index: i, TS: bar.TS, Equity: eq})
}

// finish fills the summary fields. Open positions are marked, not closed.
func (r *run) finish(completed bool) {
	r.res.Completed = completed
	r.res.Ledger = r.ledger.Entries()
	r.res.FinalCash = r.cash
	r.res.FinalEquity = r.cash
	if n := len(r.res.Equity); n > 0 {
		r.res.FinalEquity = r.res.Equity[n-1].Equity
	}
	if r.pos != nil {
		p := *r.pos
		r.res.Open = &p
		if n := len(r.res.Equity); n > 0 {
			last := r.series.Bar(r.res.Equity[n-1].Index).Close
			r.res.UnrealizedPnL = p.Unrealized(last)
		}
	}
}
