package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"tradebot/internal/clock"
	"tradebot/internal/model"
	"tradebot/pkg/exchange"
)

// maxKlinesPerRequest is the exchange's page size.
const maxKlinesPerRequest = 1000

// KlineClient is the part of *exchange.Client RESTSource uses.
type KlineClient interface {
	Klines(ctx context.Context, r exchange.KlineRequest) ([]exchange.Kline, error)
	SetTimeOffset(ms int64)
}

// RESTSource pages through the exchange kline endpoint. When Clock is set
// the client's timestamp offset is refreshed before each Fetch.
type RESTSource struct {
	Client KlineClient
	Clock  clock.OffsetSource
}

func (s *RESTSource) Fetch(ctx context.Context, q Query) (*model.PriceSeries, error) {
	if s.Clock != nil {
		s.Client.SetTimeOffset(s.Clock.OffsetMillis(ctx))
	}
	step, err := TimeframeDuration(q.Timeframe)
	if err != nil {
		return nil, err
	}

	want := q.Limit
	var bars []model.Bar
	start := q.Start
	for {
		limit := maxKlinesPerRequest
		if want > 0 && want-len(bars) < limit && start.IsZero() {
			limit = want - len(bars)
		}
		ks, err := s.Client.Klines(ctx, exchange.KlineRequest{
			Symbol:    ExchangeSymbol(q.Symbol),
			Interval:  q.Timeframe,
			StartTime: start,
			EndTime:   q.End,
			Limit:     limit,
		})
		if err != nil {
			return nil, fmt.Errorf("fetch klines %s %s: %w", q.Symbol, q.Timeframe, err)
		}
		for _, k := range ks {
			b, err := klineBar(k)
			if err != nil {
				return nil, err
			}
			bars = append(bars, b)
		}
		slog.Debug("klines page", "symbol", q.Symbol, "rows", len(ks), "total", len(bars))

		// Without a start time the exchange returns the latest page only.
		// With one, page forward to the end; Select trims to Limit.
		if start.IsZero() || len(ks) < limit {
			break
		}
		start = bars[len(bars)-1].TS.Add(step)
		if !q.End.IsZero() && start.After(q.End) {
			break
		}
	}
	return Select(q, bars)
}

func klineBar(k exchange.Kline) (model.Bar, error) {
	var b model.Bar
	b.TS = time.UnixMilli(k.OpenTime).UTC()
	for _, f := range []struct {
		dst *float64
		src string
	}{{&b.Open, k.Open}, {&b.High, k.High}, {&b.Low, k.Low}, {&b.Close, k.Close}, {&b.Volume, k.Volume}} {
		v, err := strconv.ParseFloat(f.src, 64)
		if err != nil {
			return b, fmt.Errorf("kline at %d: %w", k.OpenTime, err)
		}
		*f.dst = v
	}
	return b, nil
}

// ExchangeSymbol turns "BTC/USDT" into "BTCUSDT".
func ExchangeSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}

// TimeframeDuration parses exchange intervals such as 1m, 15m, 4h, 1d, 1w.
func TimeframeDuration(tf string) (time.Duration, error) {
	if len(tf) < 2 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	n, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	var unit time.Duration
	switch tf[len(tf)-1] {
	case 's':
		unit = time.Second
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	case 'w':
		unit = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	return time.Duration(n) * unit, nil
}
