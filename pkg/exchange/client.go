// Package exchange is a small REST client for a Binance-style spot exchange:
// public kline and server-time endpoints, and session-authenticated order
// endpoints behind a password + TOTP login.
//
// Usage example:
//
//	c := exchange.New(exchange.Config{BaseURL: "https://api.example.com", APIKey: key, APISecret: secret})
//	if err := c.Login(ctx); err != nil { ... }
//	klines, err := c.Klines(ctx, exchange.KlineRequest{Symbol: "BTCUSDT", Interval: "1h", Limit: 500})
package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/time/rate"
)

// ---- Config & client ----

type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string // HMAC key for signed requests

	// Session login, only needed for order endpoints on exchanges that require it.
	ClientCode string
	Password   string
	TOTPSecret string

	Timeout           time.Duration // default: 10s
	RequestsPerSecond float64       // default: 10
	RecvWindow        time.Duration // default: 10s
	Debug             bool
}

// Client is safe for concurrent use.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter

	mu          sync.RWMutex
	accessToken string

	offsetMillis atomic.Int64
	now          func() time.Time

	// Optional callback for 401/403 session expiry
	SessionExpiryHook func()
}

var routes = map[string]string{
	"api.login":       "/api/v1/auth/login",
	"api.time":        "/api/v1/time",
	"api.klines":      "/api/v1/klines",
	"api.order.place": "/api/v1/order",
	"api.account":     "/api/v1/account",
}

// New initializes the client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 10 * time.Second
	}
	return &Client{
		cfg:        cfg,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		now:        time.Now,
	}
}

// SetTimeOffset sets the server-minus-local clock offset added to every
// signed request timestamp.
func (c *Client) SetTimeOffset(ms int64) { c.offsetMillis.Store(ms) }
func (c *Client) TimeOffset() int64      { return c.offsetMillis.Load() }

func (c *Client) SetAccessToken(t string) {
	c.mu.Lock()
	c.accessToken = t
	c.mu.Unlock()
}

func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// ---- Errors ----

// APIError is an error reported by the exchange in a JSON body.
type APIError struct {
	Status  int    // HTTP status
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange: http %d code %d: %s", e.Status, e.Code, e.Message)
}

// Binance-style error codes the order gateway distinguishes.
const (
	CodeInsufficientBalance = -2010
	CodeInvalidQuantity     = -1013
	CodeBadSymbol           = -1121
	CodeInvalidTimestamp    = -1021
)

// TransportError wraps failures that never produced an exchange response.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "exchange transport: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is a network-level failure or a 5xx.
func IsTransport(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var ae *APIError
	return errors.As(err, &ae) && ae.Status >= 500
}

// ---- Helpers ----

func (c *Client) requestHeaders() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		h.Set("X-MBX-APIKEY", c.cfg.APIKey)
	}
	if tok := c.AccessToken(); tok != "" {
		h.Set("Authorization", "Bearer "+tok)
	}
	return h
}

func (c *Client) buildURL(route string) (string, error) {
	uri, ok := routes[route]
	if !ok {
		return "", fmt.Errorf("unknown route: %s", route)
	}
	return c.baseURL + uri, nil
}

// sign adds timestamp, recvWindow and an HMAC-SHA256 signature of the
// encoded query.
func (c *Client) sign(q url.Values) {
	ts := c.now().UnixMilli() + c.offsetMillis.Load()
	q.Set("timestamp", strconv.FormatInt(ts, 10))
	q.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow.Milliseconds(), 10))
	if c.cfg.APISecret == "" {
		return
	}
	mac := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	mac.Write([]byte(q.Encode()))
	q.Set("signature", hex.EncodeToString(mac.Sum(nil)))
}

// do sends the request and decodes a 2xx JSON body into out. GET/DELETE
// params go in the query string, others in a JSON body.
func (c *Client) do(ctx context.Context, method, route string, params url.Values, body any, signed bool, out any) error {
	fullURL, err := c.buildURL(route)
	if err != nil {
		return err
	}
	if params == nil {
		params = url.Values{}
	}
	if signed {
		c.sign(params)
	}
	reqURL := fullURL
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return &TransportError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, rd)
	if err != nil {
		return err
	}
	req.Header = c.requestHeaders()

	if c.cfg.Debug {
		slog.Debug("exchange request", "method", method, "url", fullURL)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Warn("exchange http error", "method", method, "route", route, "error", err)
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Err: err}
	}

	if c.cfg.Debug {
		slog.Debug("exchange response", "status", resp.StatusCode, "body", string(raw))
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(raw, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		if c.SessionExpiryHook != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			c.SessionExpiryHook()
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("couldn't parse JSON response: %w", err)
	}
	return nil
}

// ---- API Methods ----

// ServerTime returns the exchange clock.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	var out struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := c.do(ctx, http.MethodGet, "api.time", nil, nil, false, &out); err != nil {
		return time.Time{}, err
	}
	if out.ServerTime <= 0 {
		return time.Time{}, errors.New("exchange: server time missing from response")
	}
	return time.UnixMilli(out.ServerTime).UTC(), nil
}

// Login opens a session with the configured credentials and a TOTP code
// generated from TOTPSecret.
func (c *Client) Login(ctx context.Context) error {
	if c.cfg.ClientCode == "" || c.cfg.Password == "" || c.cfg.TOTPSecret == "" {
		return errors.New("exchange: login requires client code, password and TOTP secret")
	}
	code, err := totp.GenerateCode(c.cfg.TOTPSecret, c.now())
	if err != nil {
		return fmt.Errorf("exchange: generate totp: %w", err)
	}
	var out struct {
		Data struct {
			JWTToken string `json:"jwtToken"`
		} `json:"data"`
	}
	body := map[string]string{"clientcode": c.cfg.ClientCode, "password": c.cfg.Password, "totp": code}
	if err := c.do(ctx, http.MethodPost, "api.login", nil, body, false, &out); err != nil {
		return fmt.Errorf("exchange login: %w", err)
	}
	if out.Data.JWTToken == "" {
		return errors.New("exchange login: unexpected response format")
	}
	c.SetAccessToken(out.Data.JWTToken)
	slog.Info("exchange session opened", "client", c.cfg.ClientCode)
	return nil
}

// KlineRequest selects candles. Zero times are omitted.
type KlineRequest struct {
	Symbol    string
	Interval  string
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

// Kline is one candle as returned by the exchange. Prices stay strings
// until the caller parses them.
type Kline struct {
	OpenTime int64
	Open     string
	High     string
	Low      string
	Close    string
	Volume   string
}

// UnmarshalJSON reads the array form [openTime, "o", "h", "l", "c", "v", ...].
func (k *Kline) UnmarshalJSON(b []byte) error {
	var row []json.RawMessage
	if err := json.Unmarshal(b, &row); err != nil {
		return err
	}
	if len(row) < 6 {
		return fmt.Errorf("kline: want at least 6 fields, got %d", len(row))
	}
	if err := json.Unmarshal(row[0], &k.OpenTime); err != nil {
		return fmt.Errorf("kline open time: %w", err)
	}
	for i, dst := range []*string{&k.Open, &k.High, &k.Low, &k.Close, &k.Volume} {
		if err := unmarshalNumber(row[i+1], dst); err != nil {
			return fmt.Errorf("kline field %d: %w", i+1, err)
		}
	}
	return nil
}

// unmarshalNumber accepts both "1.5" and 1.5.
func unmarshalNumber(raw json.RawMessage, dst *string) error {
	if len(raw) > 0 && raw[0] == '"' {
		return json.Unmarshal(raw, dst)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return err
	}
	*dst = n.String()
	return nil
}

// Klines fetches candles, oldest first.
func (c *Client) Klines(ctx context.Context, r KlineRequest) ([]Kline, error) {
	q := url.Values{}
	q.Set("symbol", r.Symbol)
	q.Set("interval", r.Interval)
	if !r.StartTime.IsZero() {
		q.Set("startTime", strconv.FormatInt(r.StartTime.UnixMilli(), 10))
	}
	if !r.EndTime.IsZero() {
		q.Set("endTime", strconv.FormatInt(r.EndTime.UnixMilli(), 10))
	}
	if r.Limit > 0 {
		q.Set("limit", strconv.Itoa(r.Limit))
	}
	var out []Kline
	if err := c.do(ctx, http.MethodGet, "api.klines", q, nil, true, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// OrderParams is a new market or limit order. Quantity and Price are
// decimal strings already rounded to the exchange's precision.
type OrderParams struct {
	Symbol           string
	Side             string // BUY or SELL
	Type             string // MARKET or LIMIT
	Quantity         string
	Price            string
	NewClientOrderID string
}

// OrderResponse is the exchange's acknowledgement of a filled order.
type OrderResponse struct {
	OrderID             json.Number `json:"orderId"`
	ClientOrderID       string      `json:"clientOrderId"`
	Status              string      `json:"status"`
	ExecutedQty         string      `json:"executedQty"`
	CummulativeQuoteQty string      `json:"cummulativeQuoteQty"`
	TransactTime        int64       `json:"transactTime"`
	Fills               []struct {
		Price      string `json:"price"`
		Qty        string `json:"qty"`
		Commission string `json:"commission"`
	} `json:"fills"`
}

// PlaceOrder submits a signed order.
func (c *Client) PlaceOrder(ctx context.Context, p OrderParams) (*OrderResponse, error) {
	q := url.Values{}
	q.Set("symbol", p.Symbol)
	q.Set("side", p.Side)
	q.Set("type", p.Type)
	q.Set("quantity", p.Quantity)
	if p.Price != "" {
		q.Set("price", p.Price)
		q.Set("timeInForce", "GTC")
	}
	if p.NewClientOrderID != "" {
		q.Set("newClientOrderId", p.NewClientOrderID)
	}
	q.Set("newOrderRespType", "FULL")
	var out OrderResponse
	if err := c.do(ctx, http.MethodPost, "api.order.place", q, nil, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Balance is a free/locked amount of one asset.
type Balance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// Account returns the account balances.
func (c *Client) Account(ctx context.Context) ([]Balance, error) {
	var out struct {
		Balances []Balance `json:"balances"`
	}
	if err := c.do(ctx, http.MethodGet, "api.account", nil, nil, true, &out); err != nil {
		return nil, err
	}
	return out.Balances, nil
}
