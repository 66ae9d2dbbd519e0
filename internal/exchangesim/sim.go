// Package exchangesim is an in-process spot exchange for paper runs and
// end-to-end tests. It serves the same REST routes as pkg/exchange
// consumes, backed by a seeded random-walk market of one-minute bars that
// catches up to the wall clock on every request.
package exchangesim

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"github.com/shopspring/decimal"

	"tradebot/internal/marketdata"
	"tradebot/internal/model"
)

// Error codes mirror the ones pkg/exchange distinguishes.
const (
	codeUnknown             = -1000
	codeUnauthorized        = -1002
	codeInvalidTimestamp    = -1021
	codeBadSignature        = -1022
	codeBadOrderType        = -1116
	codeBadInterval         = -1120
	codeBadSymbol           = -1121
	codeInvalidQuantity     = -1013
	codeInsufficientBalance = -2010
)

const maxKlines = 1000

type Config struct {
	// Symbols maps exchange symbols such as BTCUSDT to a starting price.
	Symbols map[string]float64
	// QuoteAsset is the suffix shared by every symbol. Default: USDT.
	QuoteAsset string
	// Balances are the initial free amounts per asset.
	Balances map[string]float64

	History    time.Duration // generated before the first request. Default: 7d
	Volatility float64       // per-bar standard deviation of returns. Default: 0.001
	Seed       int64
	FeeRate    float64 // charged in the quote asset
	AllowShort bool    // let base balances go negative on SELL

	// Credentials. Empty values disable the corresponding check.
	APIKey     string
	APISecret  string
	ClientCode string
	Password   string
	TOTPSecret string
}

// Market is safe for concurrent use.
type Market struct {
	cfg  Config
	step time.Duration
	now  func() time.Time

	mu       sync.Mutex
	rng      *rand.Rand
	bars     map[string][]model.Bar
	balances map[string]decimal.Decimal
	sessions map[string]struct{}
	orderSeq int64
}

// New builds a market with History worth of closed bars behind now.
func New(cfg Config) (*Market, error) {
	return newMarket(cfg, time.Now)
}

func newMarket(cfg Config, now func() time.Time) (*Market, error) {
	if len(cfg.Symbols) == 0 {
		return nil, errors.New("exchangesim: no symbols configured")
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	if cfg.History <= 0 {
		cfg.History = 7 * 24 * time.Hour
	}
	if cfg.Volatility <= 0 {
		cfg.Volatility = 0.001
	}
	for sym, px := range cfg.Symbols {
		if !strings.HasSuffix(sym, cfg.QuoteAsset) || len(sym) == len(cfg.QuoteAsset) {
			return nil, fmt.Errorf("exchangesim: symbol %s does not end in quote asset %s", sym, cfg.QuoteAsset)
		}
		if px <= 0 {
			return nil, fmt.Errorf("exchangesim: symbol %s needs a positive start price", sym)
		}
	}

	m := &Market{
		cfg:      cfg,
		step:     time.Minute,
		now:      now,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		bars:     make(map[string][]model.Bar, len(cfg.Symbols)),
		balances: make(map[string]decimal.Decimal, len(cfg.Balances)),
		sessions: make(map[string]struct{}),
	}
	for asset, v := range cfg.Balances {
		m.balances[strings.ToUpper(asset)] = decimal.NewFromFloat(v)
	}

	// Generate in a fixed order so a seed reproduces the same market.
	syms := make([]string, 0, len(cfg.Symbols))
	for sym := range cfg.Symbols {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	first := now().Add(-cfg.History).Truncate(m.step)
	for _, sym := range syms {
		px := cfg.Symbols[sym]
		m.bars[sym] = []model.Bar{{TS: first.UTC(), Open: px, High: px, Low: px, Close: px, Volume: 1}}
	}
	m.catchUp()
	return m, nil
}

// catchUp appends bars until the newest one is the last closed minute.
// Callers hold mu except during construction.
func (m *Market) catchUp() {
	now := m.now()
	syms := make([]string, 0, len(m.bars))
	for sym := range m.bars {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	for _, sym := range syms {
		bars := m.bars[sym]
		for {
			last := bars[len(bars)-1]
			next := last.TS.Add(m.step)
			if next.Add(m.step).After(now) {
				break
			}
			bars = append(bars, m.walk(next, last.Close))
		}
		m.bars[sym] = bars
	}
}

func (m *Market) walk(ts time.Time, prev float64) model.Bar {
	vol := m.cfg.Volatility
	c := prev * (1 + vol*m.rng.NormFloat64())
	if c <= 0 {
		c = prev / 2
	}
	hi := math.Max(prev, c) * (1 + vol*math.Abs(m.rng.NormFloat64())/2)
	lo := math.Min(prev, c) * (1 - vol*math.Abs(m.rng.NormFloat64())/2)
	return model.Bar{TS: ts, Open: prev, High: hi, Low: lo, Close: c, Volume: 1 + m.rng.Float64()*10}
}

// LastPrice returns the latest close for sym.
func (m *Market) LastPrice(sym string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.catchUp()
	bars, ok := m.bars[sym]
	if !ok {
		return 0, false
	}
	return bars[len(bars)-1].Close, true
}

// Balance returns the free amount of asset.
func (m *Market) Balance(asset string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[strings.ToUpper(asset)]
}

// ---- HTTP ----

type apiError struct {
	status int
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
}

func (e *apiError) Error() string { return e.Msg }

func newAPIError(status, code int, format string, args ...any) *apiError {
	return &apiError{status: status, Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Handler returns the REST routes.
func (m *Market) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/time", m.handleTime)
	mux.HandleFunc("/api/v1/klines", m.handleKlines)
	mux.HandleFunc("/api/v1/order", m.handleOrder)
	mux.HandleFunc("/api/v1/account", m.handleAccount)
	mux.HandleFunc("/api/v1/auth/login", m.handleLogin)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "exchangesim"})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("exchangesim write failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	var ae *apiError
	if !errors.As(err, &ae) {
		ae = newAPIError(http.StatusInternalServerError, codeUnknown, "%v", err)
	}
	writeJSON(w, ae.status, ae)
}

func (m *Market) handleTime(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"serverTime": m.now().UnixMilli()})
}

func (m *Market) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		ClientCode string `json:"clientcode"`
		Password   string `json:"password"`
		TOTP       string `json:"totp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, newAPIError(http.StatusBadRequest, codeUnknown, "bad login body: %v", err))
		return
	}
	if m.cfg.ClientCode == "" || body.ClientCode != m.cfg.ClientCode || body.Password != m.cfg.Password {
		writeError(w, newAPIError(http.StatusUnauthorized, codeUnauthorized, "invalid credentials"))
		return
	}
	if m.cfg.TOTPSecret != "" && !totp.Validate(body.TOTP, m.cfg.TOTPSecret) {
		writeError(w, newAPIError(http.StatusUnauthorized, codeUnauthorized, "invalid totp"))
		return
	}

	tok := uuid.NewString()
	m.mu.Lock()
	m.sessions[tok] = struct{}{}
	m.mu.Unlock()
	slog.Info("exchangesim session opened", "client", body.ClientCode)
	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]string{"jwtToken": tok}})
}

// authorize checks the API key, the HMAC signature and the request
// timestamp. Session-scoped routes also need a Bearer token from login.
func (m *Market) authorize(r *http.Request, session bool) error {
	q := r.URL.Query()
	if m.cfg.APIKey != "" && r.Header.Get("X-MBX-APIKEY") != m.cfg.APIKey {
		return newAPIError(http.StatusUnauthorized, codeUnauthorized, "invalid api key")
	}
	if m.cfg.APISecret != "" {
		sig := q.Get("signature")
		q.Del("signature")
		mac := hmac.New(sha256.New, []byte(m.cfg.APISecret))
		mac.Write([]byte(q.Encode()))
		if !hmac.Equal([]byte(sig), []byte(hex.EncodeToString(mac.Sum(nil)))) {
			return newAPIError(http.StatusUnauthorized, codeBadSignature, "signature for this request is not valid")
		}
	}
	if v := q.Get("timestamp"); v != "" {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return newAPIError(http.StatusBadRequest, codeInvalidTimestamp, "bad timestamp %q", v)
		}
		window := int64(10_000)
		if rw, err := strconv.ParseInt(q.Get("recvWindow"), 10, 64); err == nil && rw > 0 {
			window = rw
		}
		now := m.now().UnixMilli()
		if ts > now+1000 || now-ts > window {
			return newAPIError(http.StatusBadRequest, codeInvalidTimestamp, "timestamp for this request is outside of the recvWindow")
		}
	}
	if session && m.cfg.ClientCode != "" {
		tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		m.mu.Lock()
		_, ok := m.sessions[tok]
		m.mu.Unlock()
		if !ok {
			return newAPIError(http.StatusUnauthorized, codeUnauthorized, "session expired")
		}
	}
	return nil
}

func (m *Market) handleKlines(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := m.authorize(r, false); err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	rows, err := m.klines(q.Get("symbol"), q.Get("interval"), q.Get("startTime"), q.Get("endTime"), q.Get("limit"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// klines resamples the minute bars to interval. The newest row may be a
// candle that has not closed yet.
func (m *Market) klines(sym, interval, startParam, endParam, limitParam string) ([][]any, error) {
	step, err := marketdata.TimeframeDuration(interval)
	if err != nil || step < m.step || step%m.step != 0 {
		return nil, newAPIError(http.StatusBadRequest, codeBadInterval, "invalid interval %q", interval)
	}
	limit := 500
	if limitParam != "" {
		n, err := strconv.Atoi(limitParam)
		if err != nil || n <= 0 {
			return nil, newAPIError(http.StatusBadRequest, codeUnknown, "invalid limit %q", limitParam)
		}
		limit = n
	}
	if limit > maxKlines {
		limit = maxKlines
	}
	var start, end int64
	if startParam != "" {
		if start, err = strconv.ParseInt(startParam, 10, 64); err != nil {
			return nil, newAPIError(http.StatusBadRequest, codeUnknown, "invalid startTime %q", startParam)
		}
	}
	end = math.MaxInt64
	if endParam != "" {
		if end, err = strconv.ParseInt(endParam, 10, 64); err != nil {
			return nil, newAPIError(http.StatusBadRequest, codeUnknown, "invalid endTime %q", endParam)
		}
	}

	m.mu.Lock()
	m.catchUp()
	base, ok := m.bars[sym]
	if ok {
		base = append([]model.Bar(nil), base...)
	}
	m.mu.Unlock()
	if !ok {
		return nil, newAPIError(http.StatusBadRequest, codeBadSymbol, "invalid symbol %q", sym)
	}

	rs, err := marketdata.NewResampler(interval)
	if err != nil {
		return nil, newAPIError(http.StatusBadRequest, codeBadInterval, "%v", err)
	}
	var candles []model.Bar
	for _, b := range base {
		if done, ok := rs.Push(b); ok {
			candles = append(candles, done)
		}
	}
	if last, ok := rs.Flush(); ok {
		candles = append(candles, last)
	}

	var sel []model.Bar
	for _, c := range candles {
		ts := c.TS.UnixMilli()
		if ts >= start && ts <= end {
			sel = append(sel, c)
		}
	}
	if len(sel) > limit {
		if startParam != "" {
			sel = sel[:limit]
		} else {
			sel = sel[len(sel)-limit:]
		}
	}

	rows := make([][]any, len(sel))
	for i, c := range sel {
		rows[i] = []any{
			c.TS.UnixMilli(),
			formatFloat(c.Open),
			formatFloat(c.High),
			formatFloat(c.Low),
			formatFloat(c.Close),
			formatFloat(c.Volume),
			c.TS.Add(step).UnixMilli() - 1,
		}
	}
	return rows, nil
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', 8, 64) }

type fill struct {
	Price      string `json:"price"`
	Qty        string `json:"qty"`
	Commission string `json:"commission"`
}

type orderResponse struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	TransactTime        int64  `json:"transactTime"`
	Status              string `json:"status"`
	Side                string `json:"side"`
	Type                string `json:"type"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Fills               []fill `json:"fills"`
}

func (m *Market) handleOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := m.authorize(r, true); err != nil {
		writeError(w, err)
		return
	}
	resp, err := m.placeOrder(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// placeOrder fills a MARKET order in full at the last close.
func (m *Market) placeOrder(q url.Values) (*orderResponse, error) {
	sym := q.Get("symbol")
	side := strings.ToUpper(q.Get("side"))
	if side != "BUY" && side != "SELL" {
		return nil, newAPIError(http.StatusBadRequest, codeUnknown, "invalid side %q", q.Get("side"))
	}
	if typ := strings.ToUpper(q.Get("type")); typ != "MARKET" {
		return nil, newAPIError(http.StatusBadRequest, codeBadOrderType, "unsupported order type %q", q.Get("type"))
	}
	qty, err := decimal.NewFromString(q.Get("quantity"))
	if err != nil || !qty.IsPositive() {
		return nil, newAPIError(http.StatusBadRequest, codeInvalidQuantity, "invalid quantity %q", q.Get("quantity"))
	}
	clientID := q.Get("newClientOrderId")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.catchUp()
	bars, ok := m.bars[sym]
	if !ok {
		return nil, newAPIError(http.StatusBadRequest, codeBadSymbol, "invalid symbol %q", sym)
	}
	price := decimal.NewFromFloat(bars[len(bars)-1].Close).Round(8)
	notional := qty.Mul(price)
	fee := notional.Mul(decimal.NewFromFloat(m.cfg.FeeRate)).Round(8)

	baseAsset := strings.TrimSuffix(sym, m.cfg.QuoteAsset)
	quote := m.balances[m.cfg.QuoteAsset]
	base := m.balances[baseAsset]
	switch side {
	case "BUY":
		cost := notional.Add(fee)
		if quote.LessThan(cost) {
			return nil, newAPIError(http.StatusBadRequest, codeInsufficientBalance, "Account has insufficient balance for requested action.")
		}
		m.balances[m.cfg.QuoteAsset] = quote.Sub(cost)
		m.balances[baseAsset] = base.Add(qty)
	case "SELL":
		if !m.cfg.AllowShort && base.LessThan(qty) {
			return nil, newAPIError(http.StatusBadRequest, codeInsufficientBalance, "Account has insufficient balance for requested action.")
		}
		m.balances[baseAsset] = base.Sub(qty)
		m.balances[m.cfg.QuoteAsset] = quote.Add(notional).Sub(fee)
	}

	m.orderSeq++
	slog.Info("exchangesim order filled", "symbol", sym, "side", side, "qty", qty.String(), "price", price.String(), "order_id", m.orderSeq)
	return &orderResponse{
		Symbol:              sym,
		OrderID:             m.orderSeq,
		ClientOrderID:       clientID,
		TransactTime:        m.now().UnixMilli(),
		Status:              "FILLED",
		Side:                side,
		Type:                "MARKET",
		ExecutedQty:         qty.String(),
		CummulativeQuoteQty: notional.String(),
		Fills:               []fill{{Price: price.String(), Qty: qty.String(), Commission: fee.String()}},
	}, nil
}

type balance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

func (m *Market) handleAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := m.authorize(r, true); err != nil {
		writeError(w, err)
		return
	}
	m.mu.Lock()
	out := make([]balance, 0, len(m.balances))
	for asset, v := range m.balances {
		out = append(out, balance{Asset: asset, Free: v.String(), Locked: "0"})
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	writeJSON(w, http.StatusOK, map[string]any{"balances": out})
}
