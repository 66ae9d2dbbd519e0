package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"tradebot/internal/execution"
	"tradebot/internal/model"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// TradeLister lists journaled fills, newest first.
type TradeLister interface {
	Trades(ctx context.Context, limit int) ([]execution.TradeRecord, error)
}

// RunLister lists stored backtest runs, newest first.
type RunLister interface {
	ListRuns(ctx context.Context, limit int) ([]model.RunInfo, error)
}

// SignalHistory returns recent signals for one stream, newest first.
// *redis.Reader implements it.
type SignalHistory interface {
	RecentSignals(ctx context.Context, symbol, tf string, count int64) ([]model.SignalEvent, error)
}

// Routes holds the optional stores behind the REST endpoints.
type Routes struct {
	Trades  TradeLister
	Runs    RunLister
	Signals SignalHistory
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// RegisterRoutes registers the websocket and REST endpoints on mux.
func RegisterRoutes(mux *http.ServeMux, hub *Hub, routes Routes) {
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("ws upgrade failed", "error", err)
			return
		}
		hub.HandleConn(conn, r.URL.Query().Get("last_ts"))
	})

	mux.HandleFunc("/api/latest", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, hub.Latest())
	})

	// GET /api/missed?channel=signal:BTC/USDT:1h&from=5&to=9
	mux.HandleFunc("/api/missed", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		channel := q.Get("channel")
		from, err1 := strconv.ParseInt(q.Get("from"), 10, 64)
		to, err2 := strconv.ParseInt(q.Get("to"), 10, 64)
		if channel == "" || err1 != nil {
			writeError(w, http.StatusBadRequest, "channel and from are required")
			return
		}
		if err2 != nil {
			to = hub.ChannelSeq(channel)
		}
		envs := hub.ReplayRange(channel, from, to)
		out := make([]json.RawMessage, len(envs))
		for i, e := range envs {
			out[i] = e
		}
		writeJSON(w, http.StatusOK, out)
	})

	mux.HandleFunc("/api/trades", func(w http.ResponseWriter, r *http.Request) {
		if routes.Trades == nil {
			writeError(w, http.StatusNotFound, "trade journal disabled")
			return
		}
		trades, err := routes.Trades.Trades(r.Context(), limitParam(r, 100))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, trades)
	})

	mux.HandleFunc("/api/runs", func(w http.ResponseWriter, r *http.Request) {
		if routes.Runs == nil {
			writeError(w, http.StatusNotFound, "run store disabled")
			return
		}
		runs, err := routes.Runs.ListRuns(r.Context(), limitParam(r, 50))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, runs)
	})

	// GET /api/signals?symbol=BTC/USDT&tf=1h&limit=20
	mux.HandleFunc("/api/signals", func(w http.ResponseWriter, r *http.Request) {
		if routes.Signals == nil {
			writeError(w, http.StatusNotFound, "signal history disabled")
			return
		}
		q := r.URL.Query()
		symbol, tf := q.Get("symbol"), q.Get("tf")
		if symbol == "" || tf == "" {
			writeError(w, http.StatusBadRequest, "symbol and tf are required")
			return
		}
		signals, err := routes.Signals.RecentSignals(r.Context(), symbol, tf, int64(limitParam(r, 50)))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, signals)
	})
}

func limitParam(r *http.Request, def int) int {
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		return n
	}
	return def
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	SetCORS(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
