package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tradebot/internal/model"
)

// Resampler merges bars into buckets of a longer timeframe. Buckets are
// aligned to multiples of the timeframe since the Unix epoch, so 4h buckets
// start at 00:00, 04:00, ... UTC. A bucket is emitted when the first bar of
// the next bucket arrives.
//
// Not safe for concurrent use.
type Resampler struct {
	step    int64 // bucket width in milliseconds
	bucket  int64
	forming model.Bar
	started bool

	// OnStale is called for a bar older than the forming bucket. The bar is
	// dropped.
	OnStale func(b model.Bar)
}

// NewResampler builds a resampler for the target timeframe, e.g. "4h".
func NewResampler(timeframe string) (*Resampler, error) {
	d, err := TimeframeDuration(timeframe)
	if err != nil {
		return nil, err
	}
	return &Resampler{step: d.Milliseconds()}, nil
}

// Push merges b into the forming bucket. When b opens a new bucket the
// finished one is returned with ok set.
func (r *Resampler) Push(b model.Bar) (done model.Bar, ok bool) {
	ts := b.TS.UnixMilli()
	bucket := ts - mod(ts, r.step)

	if r.started && bucket < r.bucket {
		if r.OnStale != nil {
			r.OnStale(b)
		}
		return done, false
	}
	if r.started && bucket > r.bucket {
		done, ok = r.forming, true
		r.started = false
	}
	if !r.started {
		r.bucket = bucket
		r.forming = model.Bar{
			TS:     time.UnixMilli(bucket).UTC(),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
		}
		r.started = true
		return done, ok
	}

	f := &r.forming
	if b.High > f.High {
		f.High = b.High
	}
	if b.Low < f.Low {
		f.Low = b.Low
	}
	f.Close = b.Close
	f.Volume += b.Volume
	return done, ok
}

// Forming returns the bucket in progress.
func (r *Resampler) Forming() (model.Bar, bool) { return r.forming, r.started }

// Flush returns the bucket in progress and resets the resampler.
func (r *Resampler) Flush() (model.Bar, bool) {
	b, ok := r.forming, r.started
	r.started = false
	return b, ok
}

// Run resamples bars from in to out until ctx is cancelled or in is
// closed. The forming bucket is not emitted on exit since it may be
// incomplete. out is not closed.
func (r *Resampler) Run(ctx context.Context, in <-chan model.Bar, out chan<- model.Bar) {
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-in:
			if !ok {
				return
			}
			done, ok := r.Push(b)
			if !ok {
				continue
			}
			select {
			case out <- done:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Resample converts a series to a longer timeframe. The last bucket is
// kept even when it is only partly covered.
func Resample(series *model.PriceSeries, timeframe string) (*model.PriceSeries, error) {
	r, err := NewResampler(timeframe)
	if err != nil {
		return nil, err
	}
	if src, err := TimeframeDuration(series.Timeframe()); err == nil && src.Milliseconds() > r.step {
		return nil, fmt.Errorf("cannot resample %s bars to shorter timeframe %s", series.Timeframe(), timeframe)
	}
	stale := 0
	r.OnStale = func(model.Bar) { stale++ }

	out := make([]model.Bar, 0, series.Len())
	for _, b := range series.Bars() {
		if done, ok := r.Push(b); ok {
			out = append(out, done)
		}
	}
	if last, ok := r.Flush(); ok {
		out = append(out, last)
	}
	if stale > 0 {
		slog.Warn("resample dropped out-of-order bars", "symbol", series.Symbol(), "count", stale)
	}
	return model.NewPriceSeries(series.Symbol(), timeframe, out)
}

func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
