// Package marketdata loads historical bars from files, SQLite or an
// exchange REST API, and replays them as a live feed.
package marketdata

import (
	"context"
	"errors"
	"sort"
	"time"

	"tradebot/internal/model"
)

// ErrNoData is returned when a query matches no bars.
var ErrNoData = errors.New("marketdata: no bars")

// Query selects bars for one symbol and timeframe. Zero Start/End leave the
// range open; Limit > 0 keeps the most recent Limit bars.
type Query struct {
	Symbol    string
	Timeframe string
	Start     time.Time
	End       time.Time
	Limit     int
}

// Source fetches a validated PriceSeries.
type Source interface {
	Fetch(ctx context.Context, q Query) (*model.PriceSeries, error)
}

// Select sorts bars by time, applies the query range and limit and builds
// the series. Duplicate timestamps keep the last bar seen.
func Select(q Query, bars []model.Bar) (*model.PriceSeries, error) {
	sorted := make([]model.Bar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].TS.Before(sorted[j].TS) })

	out := sorted[:0]
	for _, b := range sorted {
		if !q.Start.IsZero() && b.TS.Before(q.Start) {
			continue
		}
		if !q.End.IsZero() && b.TS.After(q.End) {
			continue
		}
		if n := len(out); n > 0 && out[n-1].TS.Equal(b.TS) {
			out[n-1] = b
			continue
		}
		out = append(out, b)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	if len(out) == 0 {
		return nil, ErrNoData
	}
	return model.NewPriceSeries(q.Symbol, q.Timeframe, out)
}
