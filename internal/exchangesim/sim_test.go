package exchangesim

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebot/internal/execution"
	"tradebot/internal/marketdata"
	"tradebot/internal/model"
	"tradebot/pkg/exchange"
)

const totpSecret = "JBSWY3DPEHPK3PXP"

var noon = time.Date(2024, 5, 1, 12, 0, 30, 0, time.UTC)

func fixedMarket(t *testing.T, now *time.Time) *Market {
	t.Helper()
	m, err := newMarket(Config{
		Symbols: map[string]float64{"BTCUSDT": 60000},
		History: 2 * time.Hour,
		Seed:    42,
	}, func() time.Time { return *now })
	require.NoError(t, err)
	return m
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
	_, err = New(Config{Symbols: map[string]float64{"BTCEUR": 1}})
	assert.Error(t, err)
	_, err = New(Config{Symbols: map[string]float64{"BTCUSDT": 0}})
	assert.Error(t, err)
}

func TestMarket_CatchUp(t *testing.T) {
	now := noon
	m := fixedMarket(t, &now)

	bars := m.bars["BTCUSDT"]
	require.Len(t, bars, 120)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), bars[0].TS)
	assert.Equal(t, time.Date(2024, 5, 1, 11, 59, 0, 0, time.UTC), bars[len(bars)-1].TS)
	for i, b := range bars[1:] {
		assert.Equal(t, bars[i].Close, b.Open, "bar %d opens at the previous close", i+1)
		assert.GreaterOrEqual(t, b.High, b.Open)
		assert.GreaterOrEqual(t, b.High, b.Close)
		assert.LessOrEqual(t, b.Low, b.Open)
		assert.LessOrEqual(t, b.Low, b.Close)
	}

	now = noon.Add(5 * time.Minute)
	px, ok := m.LastPrice("BTCUSDT")
	require.True(t, ok)
	bars = m.bars["BTCUSDT"]
	require.Len(t, bars, 125)
	assert.Equal(t, bars[len(bars)-1].Close, px)

	_, ok = m.LastPrice("ETHUSDT")
	assert.False(t, ok)
}

func TestMarket_SeedIsDeterministic(t *testing.T) {
	now := noon
	a := fixedMarket(t, &now)
	b := fixedMarket(t, &now)
	assert.Equal(t, a.bars["BTCUSDT"], b.bars["BTCUSDT"])
}

func TestMarket_Klines(t *testing.T) {
	now := noon
	m := fixedMarket(t, &now)
	base := m.bars["BTCUSDT"]

	rows, err := m.klines("BTCUSDT", "1h", "", "", "")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC).UnixMilli(), rows[0][0])
	assert.Equal(t, formatFloat(base[0].Open), rows[0][1])
	assert.Equal(t, formatFloat(base[59].Close), rows[0][4])
	assert.Equal(t, formatFloat(base[119].Close), rows[1][4])

	rows, err = m.klines("BTCUSDT", "15m", "", "", "3")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, time.Date(2024, 5, 1, 11, 15, 0, 0, time.UTC).UnixMilli(), rows[0][0])

	start := strconv.FormatInt(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC).UnixMilli(), 10)
	rows, err = m.klines("BTCUSDT", "15m", start, "", "2")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 15, 0, 0, time.UTC).UnixMilli(), rows[1][0])

	end := strconv.FormatInt(time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC).UnixMilli(), 10)
	rows, err = m.klines("BTCUSDT", "15m", start, end, "")
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	var ae *apiError
	_, err = m.klines("BTCUSDT", "30s", "", "", "")
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, codeBadInterval, ae.Code)
	_, err = m.klines("ETHUSDT", "1h", "", "", "")
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, codeBadSymbol, ae.Code)
}

// ── end to end through pkg/exchange ──

func startServer(t *testing.T, cfg Config) (*Market, *httptest.Server) {
	t.Helper()
	m, err := New(cfg)
	require.NoError(t, err)
	srv := httptest.NewServer(m.Handler())
	t.Cleanup(srv.Close)
	return m, srv
}

func simConfig() Config {
	return Config{
		Symbols:    map[string]float64{"BTCUSDT": 60000},
		Balances:   map[string]float64{"USDT": 100000},
		History:    24 * time.Hour,
		Seed:       7,
		FeeRate:    0.001,
		APIKey:     "key",
		APISecret:  "secret",
		ClientCode: "trader",
		Password:   "pw",
		TOTPSecret: totpSecret,
	}
}

func newClient(url, secret string) *exchange.Client {
	return exchange.New(exchange.Config{
		BaseURL:           url,
		APIKey:            "key",
		APISecret:         secret,
		ClientCode:        "trader",
		Password:          "pw",
		TOTPSecret:        totpSecret,
		RequestsPerSecond: 1000,
	})
}

func TestEndToEnd_FetchAndTrade(t *testing.T) {
	m, srv := startServer(t, simConfig())
	ctx := context.Background()
	client := newClient(srv.URL, "secret")

	st, err := client.ServerTime(ctx)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), st, 5*time.Second)

	src := &marketdata.RESTSource{Client: client}
	series, err := src.Fetch(ctx, marketdata.Query{Symbol: "BTC/USDT", Timeframe: "1h", Limit: 5})
	require.NoError(t, err)
	require.Equal(t, 5, series.Len())
	assert.Equal(t, time.Hour, series.Bar(1).TS.Sub(series.Bar(0).TS))

	require.NoError(t, client.Login(ctx))

	gw := execution.NewRESTGateway(client, nil, 4)
	last, _ := m.LastPrice("BTCUSDT")
	fill, err := gw.Submit(ctx, model.OrderRequest{ClientID: "c-1", Symbol: "BTC/USDT", Side: model.Buy, Size: 0.5, Price: last})
	require.NoError(t, err)
	assert.Equal(t, "FILLED", fill.Status)
	assert.Equal(t, "c-1", fill.ClientID)
	assert.Equal(t, 0.5, fill.Size)
	assert.InDelta(t, last, fill.Price, 1e-6)
	assert.InDelta(t, 0.5*last*0.001, fill.Fee, 1e-4)

	usdt := m.Balance("USDT").InexactFloat64()
	assert.InDelta(t, 100000-0.5*last*1.001, usdt, 1e-3)
	assert.Equal(t, "0.5", m.Balance("BTC").String())

	_, err = gw.Submit(ctx, model.OrderRequest{Symbol: "BTC/USDT", Side: model.Sell, Size: 2, Price: last})
	assert.ErrorIs(t, err, execution.ErrInsufficientFunds)

	balances, err := client.Account(ctx)
	require.NoError(t, err)
	require.Len(t, balances, 2)
	assert.Equal(t, "BTC", balances[0].Asset)
	assert.Equal(t, "0.5", balances[0].Free)
}

func TestEndToEnd_AllowShort(t *testing.T) {
	cfg := simConfig()
	cfg.AllowShort = true
	m, srv := startServer(t, cfg)
	ctx := context.Background()
	client := newClient(srv.URL, "secret")
	require.NoError(t, client.Login(ctx))

	gw := execution.NewRESTGateway(client, nil, 3)
	_, err := gw.Submit(ctx, model.OrderRequest{Symbol: "BTC/USDT", Side: model.Sell, Size: 1.2345, Price: 1})
	require.NoError(t, err)
	assert.Equal(t, "-1.234", m.Balance("BTC").String())
}

func TestEndToEnd_Rejections(t *testing.T) {
	_, srv := startServer(t, simConfig())
	ctx := context.Background()

	bad := newClient(srv.URL, "wrong")
	_, err := bad.Klines(ctx, exchange.KlineRequest{Symbol: "BTCUSDT", Interval: "1h", Limit: 1})
	var ae *exchange.APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, codeBadSignature, ae.Code)
	assert.Equal(t, http.StatusUnauthorized, ae.Status)

	// Orders need a session.
	client := newClient(srv.URL, "secret")
	expired := false
	client.SessionExpiryHook = func() { expired = true }
	_, err = client.PlaceOrder(ctx, exchange.OrderParams{Symbol: "BTCUSDT", Side: "BUY", Type: "MARKET", Quantity: "1"})
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, codeUnauthorized, ae.Code)
	assert.True(t, expired)

	require.NoError(t, client.Login(ctx))
	_, err = client.PlaceOrder(ctx, exchange.OrderParams{Symbol: "BTCUSDT", Side: "BUY", Type: "LIMIT", Quantity: "1", Price: "1"})
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, codeBadOrderType, ae.Code)

	_, err = client.PlaceOrder(ctx, exchange.OrderParams{Symbol: "DOGEUSDT", Side: "BUY", Type: "MARKET", Quantity: "1"})
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, exchange.CodeBadSymbol, ae.Code)

	gw := execution.NewRESTGateway(client, nil, 4)
	_, err = gw.Submit(ctx, model.OrderRequest{Symbol: "BTC/USDT", Side: model.Buy, Size: 10, Price: 1})
	assert.True(t, errors.Is(err, execution.ErrInsufficientFunds), "got %v", err)

	wrongPw := exchange.New(exchange.Config{BaseURL: srv.URL, ClientCode: "trader", Password: "nope", TOTPSecret: totpSecret})
	assert.Error(t, wrongPw.Login(ctx))
}
