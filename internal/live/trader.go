// Package live runs the strategy against a stream of closed bars and trades
// through an order gateway. It applies the same position rules as the
// backtest simulator: one position at a time, stop-loss before take-profit,
// exit on an opposite signal, optional trailing stop.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"tradebot/internal/indicator"
	"tradebot/internal/metrics"
	"tradebot/internal/model"
	"tradebot/internal/notification"
	"tradebot/internal/risk"
	"tradebot/internal/strategy"

	"github.com/google/uuid"
)

// OrderExecutor places market orders. *execution.Executor implements it.
type OrderExecutor interface {
	Execute(ctx context.Context, req model.OrderRequest) (model.Fill, error)
}

// Broadcaster pushes events to dashboard clients. *gateway.Hub implements it.
type Broadcaster interface {
	PublishSignal(ev model.SignalEvent)
	PublishFill(f model.Fill)
	PublishEquity(symbol string, pt model.EquityPoint)
}

// Alerter delivers notifications without blocking. *notification.Dispatcher
// implements it.
type Alerter interface {
	NotifyAlert(a notification.Alert)
}

// Config controls the trading loop.
type Config struct {
	Symbol          string
	Timeframe       string
	InitialCash     float64
	AllowShort      bool
	TrailingPercent float64

	// FeeRate and SlippageBps are the gateway's execution costs. Long entries
	// are capped so the fill plus fee stays within cash.
	FeeRate     float64
	SlippageBps float64

	// Window is the number of bars kept for indicator computation. Zero means
	// the strategy's settle length; smaller values are rejected.
	Window int

	// Bars that closed more than StaleAfter ago only warm the indicators up.
	// Zero means one timeframe.
	StaleAfter time.Duration

	NotifyOnSignals  bool
	NotifyOnBrackets bool
}

// Deps are the trader's collaborators. Everything except Executor and
// Strategy is optional.
type Deps struct {
	Strategy  strategy.Config
	Risk      risk.Config
	Executor  OrderExecutor
	Guard     *risk.Guard
	Alerter   Alerter
	Publisher model.EventPublisher
	Hub       Broadcaster
	Metrics   *metrics.Metrics
	Health    *metrics.HealthStatus
}

// Trader holds the live position and account state for one instrument.
type Trader struct {
	cfg    Config
	deps   Deps
	engine *strategy.Engine
	sizer  *risk.Sizer
	step   time.Duration
	now    func() time.Time

	mu     sync.RWMutex
	cash   float64
	pos    *model.Position
	posTS  time.Time
	ledger model.Ledger
	equity model.EquityPoint
	fees   float64
	bars   int
	day    time.Time
}

// New validates the configuration and builds the strategy engine.
func New(cfg Config, step time.Duration, deps Deps) (*Trader, error) {
	if deps.Executor == nil {
		return nil, errors.New("live: executor is required")
	}
	if !(cfg.InitialCash > 0) {
		return nil, fmt.Errorf("live: initial cash must be positive, got %g", cfg.InitialCash)
	}
	if cfg.TrailingPercent < 0 || cfg.TrailingPercent >= 1 {
		return nil, fmt.Errorf("live: trailing percent must be in [0, 1), got %g", cfg.TrailingPercent)
	}
	gen, err := strategy.NewGenerator(deps.Strategy)
	if err != nil {
		return nil, fmt.Errorf("live: %w", err)
	}
	sizer, err := risk.NewSizer(deps.Risk)
	if err != nil {
		return nil, fmt.Errorf("live: %w", err)
	}
	var extra []indicator.IndicatorConfig
	if p := sizer.ATRColumn(); p > 0 {
		extra = append(extra, indicator.IndicatorConfig{Type: "ATR", Period: p})
	}
	if cfg.FeeRate < 0 || cfg.SlippageBps < 0 {
		return nil, fmt.Errorf("live: fee rate and slippage must be >= 0, got %g and %g", cfg.FeeRate, cfg.SlippageBps)
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = step
	}
	engine := strategy.NewEngine(cfg.Symbol, cfg.Timeframe, gen, extra, cfg.Window)
	settle := engine.SettleBars()
	switch {
	case cfg.Window == 0:
		cfg.Window = settle
		engine = strategy.NewEngine(cfg.Symbol, cfg.Timeframe, gen, extra, cfg.Window)
	case cfg.Window < settle:
		return nil, fmt.Errorf("live: window %d is shorter than the %d bars the indicators need to settle", cfg.Window, settle)
	}

	return &Trader{
		cfg:    cfg,
		deps:   deps,
		engine: engine,
		sizer:  sizer,
		step:   step,
		now:    time.Now,
		cash:   cfg.InitialCash,
	}, nil
}

// MinBars is the number of bars needed before the first signal.
func (t *Trader) MinBars() int { return t.engine.MinBars() }

// Window is the number of bars kept for indicator computation.
func (t *Trader) Window() int { return t.cfg.Window }

// Run processes bars until ctx is cancelled or bars is closed. Rejected
// bars and failed orders are logged and skipped.
func (t *Trader) Run(ctx context.Context, bars <-chan model.Bar) error {
	slog.Info("trader started", "symbol", t.cfg.Symbol, "timeframe", t.cfg.Timeframe,
		"min_bars", t.MinBars(), "cash", t.cfg.InitialCash)
	for {
		select {
		case <-ctx.Done():
			t.logSummary()
			return ctx.Err()
		case bar, ok := <-bars:
			if !ok {
				t.logSummary()
				return nil
			}
			if err := t.OnBar(ctx, bar); err != nil {
				slog.Warn("bar skipped", "symbol", t.cfg.Symbol, "ts", bar.TS, "error", err)
			}
		}
	}
}

// OnBar handles one closed bar: bracket exits, the strategy decision, a
// possible entry, the trailing stop and the equity mark, in that order.
func (t *Trader) OnBar(ctx context.Context, bar model.Bar) error {
	ev, err := t.engine.OnBar(bar)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.bars++
	idx := t.bars - 1
	t.mu.Unlock()

	closedAt := bar.TS.Add(t.step)
	live := t.now().Sub(closedAt) <= t.cfg.StaleAfter
	if t.deps.Health != nil {
		t.deps.Health.SetLastBar(bar.TS)
	}
	if !live {
		slog.Debug("warm-up bar", "symbol", t.cfg.Symbol, "ts", bar.TS)
		return nil
	}
	if t.deps.Metrics != nil {
		t.deps.Metrics.LastBarLag.Set(t.now().Sub(closedAt).Seconds())
	}

	if day := bar.TS.UTC().Truncate(24 * time.Hour); !day.Equal(t.day) {
		if t.deps.Guard != nil && !t.day.IsZero() {
			t.deps.Guard.ResetDaily()
		}
		t.day = day
	}

	t.checkBrackets(ctx, idx, bar)

	if ev != nil {
		t.onSignal(ctx, idx, bar, ev)
	}

	t.trail(bar)
	t.markEquity(ctx, idx, bar)
	return nil
}

func (t *Trader) checkBrackets(ctx context.Context, idx int, bar model.Bar) {
	t.mu.RLock()
	p := t.pos
	t.mu.RUnlock()
	if p == nil || idx <= p.OpenedAt {
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
		t.closePosition(ctx, idx, bar, p.StopLoss, model.ExitStopLoss)
	case hitTarget:
		t.closePosition(ctx, idx, bar, p.TakeProfit, model.ExitTakeProfit)
	}
}

func (t *Trader) onSignal(ctx context.Context, idx int, bar model.Bar, ev *strategy.Evaluation) {
	sig := ev.Decision.Signal
	if t.deps.Metrics != nil {
		t.deps.Metrics.SignalsTotal.WithLabelValues(sig.String()).Inc()
	}
	if t.deps.Hub != nil {
		t.deps.Hub.PublishSignal(ev.Event)
	}
	if t.deps.Publisher != nil {
		if err := t.deps.Publisher.PublishSignal(ctx, ev.Event); err != nil {
			slog.Warn("signal publish failed", "error", err)
		}
	}
	if sig == model.Hold {
		return
	}
	slog.Info("signal", "symbol", t.cfg.Symbol, "ts", bar.TS, "signal", sig,
		"rule", ev.Decision.Rule, "reason", ev.Decision.Reason, "close", bar.Close)
	if t.cfg.NotifyOnSignals {
		t.alert(notification.AlertInfo, sig.String()+" signal",
			fmt.Sprintf("%s %s close %.8g (%s)", t.cfg.Symbol, t.cfg.Timeframe, bar.Close, ev.Decision.Reason))
	}

	t.mu.RLock()
	p := t.pos
	t.mu.RUnlock()
	if p != nil && p.Side == model.SideFor(sig).Opposite() {
		t.closePosition(ctx, idx, bar, bar.Close, model.ExitSignalReversal)
	}
	t.maybeOpen(ctx, idx, bar, ev)
}

func (t *Trader) maybeOpen(ctx context.Context, idx int, bar model.Bar, ev *strategy.Evaluation) {
	t.mu.RLock()
	flat := t.pos == nil
	cash := t.cash
	t.mu.RUnlock()
	if !flat {
		return
	}
	side := model.SideFor(ev.Decision.Signal)
	if side == model.Short && !t.cfg.AllowShort {
		return
	}

	atr := math.NaN()
	if p := t.sizer.ATRColumn(); p > 0 {
		if v, ok := ev.Frame.Value(indicator.ATRName(p), ev.Frame.Len()-1); ok {
			atr = v
		}
	}
	plan, err := t.sizer.Plan(cash, bar.Close, side, atr)
	if err != nil {
		slog.Info("entry skipped", "symbol", t.cfg.Symbol, "signal", ev.Decision.Signal, "error", err)
		return
	}
	if plan.Size <= 0 {
		slog.Info("entry rejected", "symbol", t.cfg.Symbol, "reason", plan.Rejected)
		return
	}
	size := plan.Size
	if side == model.Long {
		unit := bar.Close * (1 + t.cfg.SlippageBps/10000) * (1 + t.cfg.FeeRate)
		if affordable := cash * t.sizer.Config().Leverage / unit; size > affordable {
			slog.Debug("entry size capped by cash", "symbol", t.cfg.Symbol, "planned", size, "size", affordable)
			size = affordable
		}
	}
	if t.deps.Guard != nil {
		if ok, reason := t.deps.Guard.CanTrade(size * bar.Close); !ok {
			slog.Warn("entry blocked by risk guard", "symbol", t.cfg.Symbol, "reason", reason)
			t.alert(notification.AlertWarning, "Entry blocked", t.cfg.Symbol+": "+reason)
			return
		}
	}

	req := model.OrderRequest{
		ClientID:   uuid.NewString(),
		Symbol:     t.cfg.Symbol,
		Side:       ev.Decision.Signal,
		Size:       size,
		Price:      bar.Close,
		StopLoss:   plan.StopLoss,
		TakeProfit: plan.TakeProfit,
		Reason:     "ENTRY",
		CreatedAt:  t.now(),
	}
	fill, err := t.execute(ctx, req)
	if err != nil {
		t.alert(notification.AlertCritical, "Entry order failed", fmt.Sprintf("%s %s %.8g: %v", t.cfg.Symbol, req.Side, req.Size, err))
		return
	}

	// Brackets keep their distance from the actual fill price.
	shift := fill.Price - bar.Close
	t.mu.Lock()
	if side == model.Long {
		t.cash -= fill.Size*fill.Price + fill.Fee
	} else {
		t.cash += fill.Size*fill.Price - fill.Fee
	}
	t.fees += fill.Fee
	t.pos = &model.Position{
		Side:       side,
		EntryPrice: fill.Price,
		Size:       fill.Size,
		StopLoss:   plan.StopLoss + shift,
		TakeProfit: plan.TakeProfit + shift,
		OpenedAt:   idx,
		EntryFee:   fill.Fee,
	}
	t.posTS = bar.TS
	pos := *t.pos
	t.mu.Unlock()

	slog.Info("position opened", "symbol", t.cfg.Symbol, "side", side, "size", pos.Size,
		"entry", pos.EntryPrice, "stop", pos.StopLoss, "target", pos.TakeProfit)
	t.notify(notification.Alert{
		Level:   notification.AlertInfo,
		Title:   "Position opened",
		Message: fmt.Sprintf("%s %s %.8g @ %.8g, stop %.8g, target %.8g", side, t.cfg.Symbol, pos.Size, pos.EntryPrice, pos.StopLoss, pos.TakeProfit),
		Trade: &notification.Trade{
			Symbol:     t.cfg.Symbol,
			Side:       side.String(),
			Size:       pos.Size,
			Price:      pos.EntryPrice,
			StopLoss:   pos.StopLoss,
			TakeProfit: pos.TakeProfit,
		},
	})
}

func (t *Trader) closePosition(ctx context.Context, idx int, bar model.Bar, price float64, reason model.ExitReason) {
	t.mu.RLock()
	p := *t.pos
	t.mu.RUnlock()

	side := model.Sell
	if p.Side == model.Short {
		side = model.Buy
	}
	fill, err := t.execute(ctx, model.OrderRequest{
		ClientID:  uuid.NewString(),
		Symbol:    t.cfg.Symbol,
		Side:      side,
		Size:      p.Size,
		Price:     price,
		Reason:    string(reason),
		CreatedAt: t.now(),
	})
	if err != nil {
		t.alert(notification.AlertCritical, "Exit order failed",
			fmt.Sprintf("%s %s: %v (position still open)", t.cfg.Symbol, reason, err))
		return
	}

	t.mu.Lock()
	if p.Side == model.Long {
		t.cash += fill.Size*fill.Price - fill.Fee
	} else {
		t.cash -= fill.Size*fill.Price + fill.Fee
	}
	t.fees += fill.Fee
	entry := model.LedgerEntry{
		EntryIndex:  p.OpenedAt,
		ExitIndex:   idx,
		EntryTime:   t.posTS,
		ExitTime:    bar.TS,
		Side:        p.Side,
		EntryPrice:  p.EntryPrice,
		ExitPrice:   fill.Price,
		Size:        p.Size,
		RealizedPnL: p.Unrealized(fill.Price),
		Fees:        p.EntryFee + fill.Fee,
		ExitReason:  reason,
	}
	t.ledger.Append(entry)
	t.pos = nil
	t.mu.Unlock()

	if t.deps.Guard != nil {
		t.deps.Guard.RecordPnL(entry.Net())
	}
	if t.deps.Metrics != nil {
		t.deps.Metrics.TradesTotal.WithLabelValues(string(reason)).Inc()
	}
	slog.Info("position closed", "symbol", t.cfg.Symbol, "reason", reason,
		"exit", fill.Price, "pnl", entry.RealizedPnL, "net", entry.Net())

	level := notification.AlertInfo
	if reason == model.ExitStopLoss {
		level = notification.AlertWarning
	}
	if reason == model.ExitSignalReversal || t.cfg.NotifyOnBrackets {
		t.notify(notification.Alert{
			Level:   level,
			Title:   "Position closed",
			Message: fmt.Sprintf("%s %s %s @ %.8g, net %.2f", p.Side, t.cfg.Symbol, reason, fill.Price, entry.Net()),
			Trade: &notification.Trade{
				Symbol:     t.cfg.Symbol,
				Side:       p.Side.String(),
				Size:       p.Size,
				Price:      fill.Price,
				Closed:     true,
				ExitReason: string(reason),
				NetPnL:     entry.Net(),
			},
		})
	}
}

func (t *Trader) execute(ctx context.Context, req model.OrderRequest) (model.Fill, error) {
	start := t.now()
	fill, err := t.deps.Executor.Execute(ctx, req)
	if m := t.deps.Metrics; m != nil {
		m.OrderLatency.Observe(t.now().Sub(start).Seconds())
		status := "FILLED"
		if err != nil {
			status = "FAILED"
		}
		m.OrdersTotal.WithLabelValues(status).Inc()
	}
	if err != nil {
		return fill, err
	}
	if t.deps.Hub != nil {
		t.deps.Hub.PublishFill(fill)
	}
	return fill, nil
}

// trail ratchets the stop toward price. It never loosens.
func (t *Trader) trail(bar model.Bar) {
	pct := t.cfg.TrailingPercent
	if pct <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pos == nil {
		return
	}
	switch t.pos.Side {
	case model.Long:
		t.pos.StopLoss = math.Max(t.pos.StopLoss, bar.Close*(1-pct))
	case model.Short:
		t.pos.StopLoss = math.Min(t.pos.StopLoss, bar.Close*(1+pct))
	}
}

func (t *Trader) markEquity(ctx context.Context, idx int, bar model.Bar) {
	t.mu.Lock()
	eq := t.cash
	if t.pos != nil {
		eq += t.pos.MarketValue(bar.Close)
	}
	pt := model.EquityPoint{Index: idx, TS: bar.TS, Equity: eq}
	t.equity = pt
	t.mu.Unlock()

	if t.deps.Guard != nil {
		t.deps.Guard.MarkEquity(eq)
	}
	if t.deps.Metrics != nil {
		t.deps.Metrics.Equity.WithLabelValues(t.cfg.Symbol).Set(eq)
	}
	if t.deps.Hub != nil {
		t.deps.Hub.PublishEquity(t.cfg.Symbol, pt)
	}
	if t.deps.Publisher != nil {
		if err := t.deps.Publisher.PublishEquity(ctx, t.cfg.Symbol, pt); err != nil {
			slog.Warn("equity publish failed", "error", err)
		}
	}
}

func (t *Trader) alert(level notification.AlertLevel, title, msg string) {
	t.notify(notification.Alert{Level: level, Title: title, Message: msg})
}

func (t *Trader) notify(a notification.Alert) {
	if t.deps.Alerter != nil {
		t.deps.Alerter.NotifyAlert(a)
	}
}

// Snapshot is a consistent view of the trader's account.
type Snapshot struct {
	Cash     float64             `json:"cash"`
	Equity   model.EquityPoint   `json:"equity"`
	Position *model.Position     `json:"position,omitempty"`
	Ledger   []model.LedgerEntry `json:"ledger"`
	Fees     float64             `json:"fees"`
	Bars     int                 `json:"bars"`
}

// Snapshot returns the current account state.
func (t *Trader) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := Snapshot{
		Cash:   t.cash,
		Equity: t.equity,
		Ledger: t.ledger.Entries(),
		Fees:   t.fees,
		Bars:   t.bars,
	}
	if t.pos != nil {
		p := *t.pos
		s.Position = &p
	}
	return s
}

func (t *Trader) logSummary() {
	s := t.Snapshot()
	realized := 0.0
	for _, e := range s.Ledger {
		realized += e.RealizedPnL
	}
	slog.Info("trader stopped", "symbol", t.cfg.Symbol, "bars", s.Bars, "trades", len(s.Ledger),
		"realized_pnl", realized, "fees", s.Fees, "equity", s.Equity.Equity, "open", s.Position != nil)
}
