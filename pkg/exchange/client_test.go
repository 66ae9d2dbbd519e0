package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTOTPSecret = "JBSWY3DPEHPK3PXP"

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := New(Config{
		BaseURL: srv.URL, APIKey: "key", APISecret: "secret",
		ClientCode: "C1", Password: "pw", TOTPSecret: testTOTPSecret,
		RequestsPerSecond: 1000,
	})
	c.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	return c
}

func TestServerTime(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/time", r.URL.Path)
		w.Write([]byte(`{"serverTime":1700000000500}`))
	})
	ts, err := c.ServerTime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000500), ts.UnixMilli())
}

func TestKlines_SignedAndParsed(t *testing.T) {
	var got url.Values
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		assert.Equal(t, "key", r.Header.Get("X-MBX-APIKEY"))
		w.Write([]byte(`[
			[1700000000000, "100.5", "101", "99", "100.75", "12.5", 1700003599999],
			[1700003600000, 100.75, 102, 100, 101.5, 3]
		]`))
	})
	c.SetTimeOffset(250)

	ks, err := c.Klines(context.Background(), KlineRequest{
		Symbol: "BTCUSDT", Interval: "1h", StartTime: time.UnixMilli(1_700_000_000_000), Limit: 2,
	})
	require.NoError(t, err)
	require.Len(t, ks, 2)
	assert.Equal(t, Kline{OpenTime: 1700000000000, Open: "100.5", High: "101", Low: "99", Close: "100.75", Volume: "12.5"}, ks[0])
	assert.Equal(t, "101.5", ks[1].Close)

	assert.Equal(t, "BTCUSDT", got.Get("symbol"))
	assert.Equal(t, "1700000000000", got.Get("startTime"))
	assert.Equal(t, "1700000000250", got.Get("timestamp"), "offset is added to the local clock")
	assert.Equal(t, "10000", got.Get("recvWindow"))

	sig := got.Get("signature")
	got.Del("signature")
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte(got.Encode()))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), sig)
}

func TestAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-2010,"msg":"Account has insufficient balance for requested action."}`))
	})
	_, err := c.PlaceOrder(context.Background(), OrderParams{Symbol: "BTCUSDT", Side: "BUY", Type: "MARKET", Quantity: "1"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, CodeInsufficientBalance, apiErr.Code)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.False(t, IsTransport(err))
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()
	c := New(Config{BaseURL: srv.URL, Timeout: time.Second})
	_, err := c.ServerTime(context.Background())
	require.Error(t, err)
	assert.True(t, IsTransport(err))

	c5 := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	})
	_, err = c5.ServerTime(context.Background())
	assert.True(t, IsTransport(err))
	assert.Contains(t, err.Error(), "upstream down")
}

func TestLogin_SendsTOTP(t *testing.T) {
	var expired bool
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/login":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "C1", body["clientcode"])
			want, err := totp.GenerateCode(testTOTPSecret, time.UnixMilli(1_700_000_000_000))
			require.NoError(t, err)
			assert.Equal(t, want, body["totp"])
			w.Write([]byte(`{"status":true,"data":{"jwtToken":"tok-1"}}`))
		case "/api/v1/account":
			if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer tok-1") {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write([]byte(`{"balances":[{"asset":"USDT","free":"1000.5","locked":"0"}]}`))
		}
	})
	c.SessionExpiryHook = func() { expired = true }

	_, err := c.Account(context.Background())
	require.Error(t, err)
	assert.True(t, expired)

	require.NoError(t, c.Login(context.Background()))
	assert.Equal(t, "tok-1", c.AccessToken())

	bals, err := c.Account(context.Background())
	require.NoError(t, err)
	require.Len(t, bals, 1)
	assert.Equal(t, "1000.5", bals[0].Free)
}

func TestLogin_RequiresCredentials(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:0"})
	assert.Error(t, c.Login(context.Background()))
}
