package marketdata

import (
	"context"
	"log/slog"
	"time"

	"tradebot/internal/model"
)

// Poller turns a Source into a live feed of closed bars. The first poll
// emits up to Backfill closed bars of history; later polls emit only bars
// newer than the last one sent.
type Poller struct {
	Source   Source
	Query    Query // Start/End/Limit are managed by the poller
	Interval time.Duration
	Backfill int
	Now      func() time.Time

	// OnError is called with every failed fetch. The poller keeps going.
	OnError func(err error)
}

// Run blocks until ctx is cancelled. out is not closed.
func (p *Poller) Run(ctx context.Context, out chan<- model.Bar) error {
	step, err := TimeframeDuration(p.Query.Timeframe)
	if err != nil {
		return err
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}
	interval := p.Interval
	if interval <= 0 {
		interval = step
	}
	backfill := p.Backfill
	if backfill <= 0 {
		backfill = 1
	}

	var last time.Time
	poll := func() error {
		q := p.Query
		q.Start, q.End = time.Time{}, time.Time{}
		q.Limit = backfill + 1
		if !last.IsZero() {
			q.Limit = 3 + int(now().Sub(last)/step)
		}
		series, err := p.Source.Fetch(ctx, q)
		if err != nil {
			return err
		}
		t := now()
		for _, b := range series.Bars() {
			if !b.TS.After(last) || b.TS.Add(step).After(t) {
				continue // already sent, or still forming
			}
			select {
			case out <- b:
				last = b.TS
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := poll(); err != nil && ctx.Err() == nil {
			slog.Warn("bar poll failed", "symbol", p.Query.Symbol, "error", err)
			if p.OnError != nil {
				p.OnError(err)
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
