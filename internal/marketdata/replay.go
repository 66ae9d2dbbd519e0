package marketdata

import (
	"context"
	"log/slog"
	"time"

	"tradebot/internal/model"
)

// Replayer emits a stored series bar by bar, like a live feed.
type Replayer struct {
	Series *model.PriceSeries
	// Speed controls the playback rate: 1.0 = real-time, 10.0 = 10x,
	// 0 = as fast as possible.
	Speed float64
	// MaxGap caps a single sleep. Defaults to 5s.
	MaxGap time.Duration
}

// Run replays every bar into out, then returns. out is not closed.
func (r *Replayer) Run(ctx context.Context, out chan<- model.Bar) error {
	maxGap := r.MaxGap
	if maxGap <= 0 {
		maxGap = 5 * time.Second
	}
	slog.Info("replay started", "symbol", r.Series.Symbol(), "bars", r.Series.Len(), "speed", r.Speed)

	var prevTS time.Time
	emitted := 0
	for i := 0; i < r.Series.Len(); i++ {
		b := r.Series.Bar(i)

		// Simulate time gaps between bars
		if r.Speed > 0 && !prevTS.IsZero() {
			if gap := b.TS.Sub(prevTS); gap > 0 {
				scaled := time.Duration(float64(gap) / r.Speed)
				if scaled > maxGap {
					scaled = maxGap
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(scaled):
				}
			}
		}
		prevTS = b.TS

		select {
		case out <- b:
			emitted++
		case <-ctx.Done():
			slog.Info("replay cancelled", "emitted", emitted)
			return ctx.Err()
		}
	}

	slog.Info("replay completed", "emitted", emitted)
	return nil
}
