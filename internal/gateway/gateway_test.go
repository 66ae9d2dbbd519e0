package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tradebot/internal/execution"
	"tradebot/internal/model"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wireEnvelope struct {
	Channel    string          `json:"channel"`
	Data       json.RawMessage `json:"data"`
	TS         string          `json:"ts"`
	Seq        int64           `json:"seq"`
	ChannelSeq int64           `json:"channel_seq"`
	Initial    bool            `json:"initial"`
}

type fakeTrades struct{ records []execution.TradeRecord }

func (f fakeTrades) Trades(_ context.Context, limit int) ([]execution.TradeRecord, error) {
	if limit < len(f.records) {
		return f.records[:limit], nil
	}
	return f.records, nil
}

func startServer(t *testing.T, routes Routes) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(10)
	mux := http.NewServeMux()
	RegisterRoutes(mux, hub, routes)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, srv
}

func dial(t *testing.T, hub *Hub, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	want := hub.ClientCount() + 1
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return hub.ClientCount() == want }, 2*time.Second, 5*time.Millisecond)
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) wireEnvelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var env wireEnvelope
	require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	return env
}

func testSignal() model.SignalEvent {
	return model.SignalEvent{
		Symbol: "BTC/USDT", Timeframe: "1h", Index: 42,
		TS:    time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Close: 61250.5, Signal: model.Buy,
	}
}

func TestHub_BroadcastsSignal(t *testing.T) {
	hub, srv := startServer(t, Routes{})
	conn := dial(t, hub, srv, "")

	hub.PublishSignal(testSignal())
	env := readEnvelope(t, conn)
	assert.Equal(t, "signal:BTC/USDT:1h", env.Channel)
	assert.Equal(t, int64(1), env.ChannelSeq)
	assert.False(t, env.Initial)

	var got model.SignalEvent
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, testSignal(), got)
}

func TestHub_InitialStateOnConnect(t *testing.T) {
	hub, srv := startServer(t, Routes{})
	hub.PublishEquity("BTC/USDT", model.EquityPoint{Index: 3, Equity: 10100})

	conn := dial(t, hub, srv, "")
	env := readEnvelope(t, conn)
	assert.Equal(t, "equity:BTC/USDT", env.Channel)
	assert.True(t, env.Initial)

	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339Nano)
	conn2 := dial(t, hub, srv, "?last_ts="+future)
	hub.PublishFill(model.Fill{OrderID: "PAPER-1", Symbol: "BTC/USDT", Side: model.Buy, Size: 0.5, Price: 100})
	env = readEnvelope(t, conn2)
	assert.Equal(t, "fill:BTC/USDT", env.Channel, "stale latest values skipped")
}

func TestHub_SubscribeFiltersChannels(t *testing.T) {
	hub, srv := startServer(t, Routes{})
	conn := dial(t, hub, srv, "")

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "SUBSCRIBE", "channels": []string{"equity"}}))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ack map[string]any
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "subscribed", ack["type"])

	hub.PublishSignal(testSignal())
	hub.Publish("equityish:x", map[string]int{"a": 1})
	hub.PublishEquity("ETH/USDT", model.EquityPoint{Index: 1, Equity: 5})

	env := readEnvelope(t, conn)
	assert.Equal(t, "equity:ETH/USDT", env.Channel)
}

func TestHub_PingPong(t *testing.T) {
	hub, srv := startServer(t, Routes{})
	conn := dial(t, hub, srv, "")
	require.NoError(t, conn.WriteJSON(map[string]any{"ping": 12345}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var pong map[string]any
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, "pong", pong["type"])
	assert.Equal(t, float64(12345), pong["ping"])
}

func TestHub_DisconnectUpdatesCount(t *testing.T) {
	hub, srv := startServer(t, Routes{})
	var counts []int
	done := make(chan struct{}, 4)
	hub.OnClientCount = func(n int) { counts = append(counts, n); done <- struct{}{} }

	conn := dial(t, hub, srv, "")
	<-done
	conn.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect not observed")
	}
	assert.Equal(t, []int{1, 0}, counts)
}

func TestRoutes_MissedAndLatest(t *testing.T) {
	hub, srv := startServer(t, Routes{})
	for i := 0; i < 5; i++ {
		hub.PublishEquity("BTC/USDT", model.EquityPoint{Index: i, Equity: float64(1000 + i)})
	}

	resp, err := http.Get(srv.URL + "/api/missed?channel=equity:BTC/USDT&from=2&to=4")
	require.NoError(t, err)
	defer resp.Body.Close()
	var missed []wireEnvelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&missed))
	require.Len(t, missed, 3)
	assert.Equal(t, int64(2), missed[0].ChannelSeq)
	assert.Equal(t, int64(4), missed[2].ChannelSeq)

	resp2, err := http.Get(srv.URL + "/api/missed")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)

	resp3, err := http.Get(srv.URL + "/api/latest")
	require.NoError(t, err)
	defer resp3.Body.Close()
	var latest map[string]model.EquityPoint
	require.NoError(t, json.NewDecoder(resp3.Body).Decode(&latest))
	assert.Equal(t, 1004.0, latest["equity:BTC/USDT"].Equity)
}

func TestRoutes_Trades(t *testing.T) {
	_, srv := startServer(t, Routes{Trades: fakeTrades{records: []execution.TradeRecord{
		{ID: 2, Reason: "STOP_LOSS"},
		{ID: 1, Reason: "ENTRY"},
	}}})

	resp, err := http.Get(srv.URL + "/api/trades?limit=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	var got []execution.TradeRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, "STOP_LOSS", got[0].Reason)

	resp2, err := http.Get(srv.URL + "/api/runs")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

type fakeSignals struct {
	gotSymbol, gotTF string
	gotCount         int64
}

func (f *fakeSignals) RecentSignals(_ context.Context, symbol, tf string, count int64) ([]model.SignalEvent, error) {
	f.gotSymbol, f.gotTF, f.gotCount = symbol, tf, count
	return []model.SignalEvent{testSignal()}, nil
}

func TestRoutes_Signals(t *testing.T) {
	sigs := &fakeSignals{}
	_, srv := startServer(t, Routes{Signals: sigs})

	resp, err := http.Get(srv.URL + "/api/signals?symbol=BTC/USDT&tf=1h&limit=5")
	require.NoError(t, err)
	defer resp.Body.Close()
	var got []model.SignalEvent
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, model.Buy, got[0].Signal)
	assert.Equal(t, "BTC/USDT", sigs.gotSymbol)
	assert.Equal(t, "1h", sigs.gotTF)
	assert.Equal(t, int64(5), sigs.gotCount)

	resp2, err := http.Get(srv.URL + "/api/signals?symbol=BTC/USDT")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestRelayPubSub_StripsPrefix(t *testing.T) {
	hub := NewHub(10)
	msgs := make(chan RelayMessage, 1)
	msgs <- RelayMessage{Channel: "pub:signal:BTC/USDT:1h", Payload: `{"signal":"SELL"}`}
	close(msgs)
	hub.RelayPubSub(context.Background(), msgs)

	assert.JSONEq(t, `{"signal":"SELL"}`, string(hub.Latest()["signal:BTC/USDT:1h"]))
}
