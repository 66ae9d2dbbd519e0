package backtest

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"tradebot/internal/model"
)

// SweepResult pairs one configuration with its outcome.
type SweepResult struct {
	Config Config
	Result *Result
	Err    error
}

// Sweep runs one independent backtest per config over the same series.
// Runs share nothing but the read-only series; at most workers run at once
// (GOMAXPROCS when workers <= 0). A failing run does not stop the others.
// Results come back in input order.
func Sweep(ctx context.Context, series *model.PriceSeries, configs []Config, workers int) []SweepResult {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	out := make([]SweepResult, len(configs))

	var g errgroup.Group
	g.SetLimit(workers)
	for i := range configs {
		i := i
		out[i].Config = configs[i]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				out[i].Err = err
				return nil
			}
			sim, err := New(configs[i])
			if err != nil {
				out[i].Err = err
				return nil
			}
			out[i].Result, out[i].Err = sim.Run(ctx, series)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Grid expands base over every short/long SMA pair with short < long.
func Grid(base Config, shorts, longs []int) []Config {
	var out []Config
	for _, s := range shorts {
		for _, l := range longs {
			if s >= l {
				continue
			}
			c := base
			c.Strategy.ShortPeriod = s
			c.Strategy.LongPeriod = l
			out = append(out, c)
		}
	}
	return out
}
