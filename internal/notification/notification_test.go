package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhook_SlackPayload(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{Level: AlertWarning, Title: "Stop loss", Message: "BTC/USDT closed at 95"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"text": "[WARNING] Stop loss: BTC/USDT closed at 95"}, got)
}

func TestWebhook_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	err := NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{Message: "x"})
	assert.ErrorContains(t, err, "unexpected status 500")
}

func telegramServer(t *testing.T, status int, reply string) (*TelegramNotifier, *map[string]any, *string) {
	t.Helper()
	body := map[string]any{}
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return newTelegramNotifier(srv.URL, "TOKEN", "42"), &body, &path
}

func TestTelegram_EscapesMarkdown(t *testing.T) {
	n, body, path := telegramServer(t, http.StatusOK, `{"ok":true}`)
	require.NoError(t, n.Send(context.Background(), Alert{Level: AlertCritical, Title: "Order rejected", Message: "size 0.5 > max"}))
	assert.Equal(t, "/botTOKEN/sendMessage", *path)
	assert.Equal(t, "42", (*body)["chat_id"])
	assert.Equal(t, "MarkdownV2", (*body)["parse_mode"])
	assert.NotContains(t, *body, "disable_notification")
	assert.True(t, strings.HasSuffix((*body)["text"].(string), `size 0\.5 \> max`), (*body)["text"])
}

func TestTelegram_OpenTradeTicket(t *testing.T) {
	n, body, _ := telegramServer(t, http.StatusOK, `{"ok":true}`)
	err := n.Send(context.Background(), Alert{
		Level:   AlertInfo,
		Title:   "Position opened",
		Message: "ignored when a trade is attached",
		Trade: &Trade{
			Symbol: "BTC/USDT", Side: "LONG", Size: 0.5, Price: 60000,
			StopLoss: 59400, TakeProfit: 61200,
		},
	})
	require.NoError(t, err)
	want := "ℹ️ *Position opened*\n```\n" +
		"LONG   BTC/USDT\n" +
		"size   0.5\n" +
		"entry  60000\n" +
		"stop   59400\n" +
		"target 61200\n" +
		"```"
	assert.Equal(t, want, (*body)["text"])
	assert.Equal(t, true, (*body)["disable_notification"])
}

func TestTelegram_ClosedTradeTicket(t *testing.T) {
	n, body, _ := telegramServer(t, http.StatusOK, `{"ok":true}`)
	err := n.Send(context.Background(), Alert{
		Level: AlertWarning,
		Title: "Position closed",
		Trade: &Trade{
			Symbol: "ETH/USDT", Side: "SHORT", Size: 2, Price: 3100,
			Closed: true, ExitReason: "stop_loss", NetPnL: -204.3,
		},
	})
	require.NoError(t, err)
	want := "⚠️ *Position closed*\n```\n" +
		"SHORT  ETH/USDT\n" +
		"size   2\n" +
		"exit   3100\n" +
		"reason stop_loss\n" +
		"net    -204.30\n" +
		"```"
	assert.Equal(t, want, (*body)["text"])
	assert.NotContains(t, *body, "disable_notification")
}

func TestTelegram_APIErrors(t *testing.T) {
	n, _, _ := telegramServer(t, http.StatusTooManyRequests,
		`{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":17}}`)
	err := n.Send(context.Background(), Alert{Title: "t"})
	assert.ErrorContains(t, err, "retry after 17s")

	n, _, _ = telegramServer(t, http.StatusBadRequest, `{"ok":false,"description":"Bad Request: chat not found"}`)
	err = n.Send(context.Background(), Alert{Title: "t"})
	assert.ErrorContains(t, err, "chat not found")

	n, _, _ = telegramServer(t, http.StatusBadGateway, "")
	err = n.Send(context.Background(), Alert{Title: "t"})
	assert.ErrorContains(t, err, "unexpected status 502")
}

type recorder struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (r *recorder) Send(_ context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return r.err
}

func TestMulti_JoinsErrors(t *testing.T) {
	ok := &recorder{}
	bad := &recorder{err: errors.New("down")}
	err := Multi{ok, bad, NewLogNotifier()}.Send(context.Background(), Alert{Title: "t"})
	assert.ErrorContains(t, err, "down")
	assert.Len(t, ok.alerts, 1)
}

type blocking struct{ release chan struct{} }

func (b blocking) Send(ctx context.Context, _ Alert) error {
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestDispatcher_NeverBlocksOrPropagates(t *testing.T) {
	b := blocking{release: make(chan struct{})}
	d := NewDispatcher(b, 50*time.Millisecond)
	var failures atomic.Int32
	d.OnError = func(Alert, error) { failures.Add(1) }

	start := time.Now()
	d.Notify("golden cross on BTC/USDT")
	d.Notify("again")
	assert.Less(t, time.Since(start), 40*time.Millisecond)

	d.Wait()
	assert.Equal(t, int32(2), failures.Load(), "both time out and are only logged")

	rec := &recorder{}
	d = NewDispatcher(rec, time.Second)
	d.Notify("hello")
	d.Wait()
	require.Len(t, rec.alerts, 1)
	assert.Equal(t, AlertInfo, rec.alerts[0].Level)
	assert.Equal(t, "hello", rec.alerts[0].Message)

	var nilDispatcher *Dispatcher
	nilDispatcher.Notify("ignored")
	nilDispatcher.Wait()
}
