// cmd/trader runs the strategy on live bars. In paper mode orders fill
// against a simulated account; in live mode they go to the exchange.
//
// Pipeline:
//
//	[Poller | Replayer] → FanOut ─┬→ live.Trader → Executor → Journal
//	                              │        ├→ Redis streams + pub/sub
//	                              │        ├→ WebSocket hub
//	                              │        └→ notifications
//	                              └→ SQLite bar writer
//
// Usage:
//
//	go run ./cmd/trader --config tradebot.yaml
//	go run ./cmd/trader --replay data/btc_1h.csv --speed 0
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"tradebot/config"
	"tradebot/internal/clock"
	"tradebot/internal/execution"
	"tradebot/internal/gateway"
	"tradebot/internal/live"
	"tradebot/internal/logger"
	"tradebot/internal/marketdata"
	"tradebot/internal/metrics"
	"tradebot/internal/model"
	"tradebot/internal/notification"
	"tradebot/internal/risk"
	redisstore "tradebot/internal/store/redis"
	sqlitestore "tradebot/internal/store/sqlite"
	"tradebot/pkg/exchange"
)

func main() {
	app := cli.NewApp()
	app.Name = "trader"
	app.Usage = "trade the configured strategy on live or replayed bars"
	app.Flags = []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to the YAML config (optional)", EnvVars: []string{"TRADEBOT_CONFIG"}},
		&cli.StringFlag{Name: "mode", Usage: "override trader.mode (paper, live)"},
		&cli.StringFlag{Name: "symbol", Usage: "override market.symbol"},
		&cli.StringFlag{Name: "timeframe", Usage: "override market.timeframe"},
		&cli.StringFlag{Name: "replay", Usage: "replay bars from this CSV instead of polling the exchange"},
		&cli.Float64Flag{Name: "speed", Value: 0, Usage: "replay speed multiplier (0 = as fast as possible, 1 = real time)"},
	}
	app.Action = run

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.RunContext(ctx, os.Args); err != nil {
		slog.Error("trader failed", "error", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if v := c.String("mode"); v != "" {
		cfg.Trader.Mode = v
	}
	if v := c.String("symbol"); v != "" {
		cfg.Market.Symbol = v
	}
	if v := c.String("timeframe"); v != "" {
		cfg.Market.Timeframe = v
	}
	logger.Init("trader", logger.ParseLevel(cfg.Log.Level), cfg.Log.Format)

	replayPath := c.String("replay")
	if cfg.Live() && replayPath != "" {
		return errors.New("replay is only allowed in paper mode")
	}
	step, err := marketdata.TimeframeDuration(cfg.Market.Timeframe)
	if err != nil {
		return err
	}
	bt := cfg.BacktestConfig()

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()

	// ---- SQLite: bars and trade journal ----
	if dir := filepath.Dir(cfg.Storage.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	barWriter, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.Storage.SQLitePath})
	if err != nil {
		return err
	}
	defer barWriter.Close()
	runReader, err := sqlitestore.NewReader(cfg.Storage.SQLitePath)
	if err != nil {
		return err
	}
	defer runReader.Close()
	journal, err := execution.NewJournal(cfg.Storage.JournalPath)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer journal.Close()

	// ---- Exchange client & order gateway ----
	client := exchange.New(exchange.Config{
		BaseURL:           cfg.Exchange.BaseURL,
		APIKey:            cfg.Exchange.APIKey,
		APISecret:         cfg.Exchange.APISecret,
		ClientCode:        cfg.Exchange.ClientCode,
		Password:          cfg.Exchange.Password,
		TOTPSecret:        cfg.Exchange.TOTPSecret,
		RequestsPerSecond: cfg.Exchange.RequestsPerSecond,
		RecvWindow:        time.Duration(cfg.Exchange.RecvWindowMillis) * time.Millisecond,
	})
	client.SessionExpiryHook = func() {
		health.SetExchangeOK(false)
		slog.Warn("exchange session expired")
	}
	var offsets clock.OffsetSource = clock.Static(0)
	if cfg.Exchange.SyncClock {
		offsets = &clock.ServerTime{Fetcher: client}
	}

	var orderGW execution.Gateway
	if cfg.Live() {
		if err := cfg.ValidateExchange(); err != nil {
			return err
		}
		if cfg.Exchange.ClientCode != "" {
			if err := client.Login(c.Context); err != nil {
				return err
			}
		}
		orderGW = execution.NewRESTGateway(client, offsets, cfg.Exchange.QuantityDecimals)
	} else {
		orderGW = execution.NewPaperGateway(bt.InitialCapital, cfg.Trader.SlippageBps, bt.TransactionCost, bt.AllowShort)
	}
	health.SetExchangeOK(true)
	executor := execution.NewExecutor(orderGW, journal)

	// ---- Notifications ----
	backends := notification.Multi{notification.NewLogNotifier()}
	if cfg.Notify.WebhookURL != "" {
		backends = append(backends, notification.NewWebhookNotifier(cfg.Notify.WebhookURL))
	}
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		backends = append(backends, notification.NewTelegramNotifier(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	alerts := notification.NewDispatcher(backends, cfg.NotifyTimeout())
	alerts.OnError = func(notification.Alert, error) { prom.NotifyFailures.Inc() }
	defer alerts.Wait()

	// ---- Redis publisher (optional) ----
	var publisher *redisstore.Publisher
	var rdb *goredis.Client
	health.SetRedisEnabled(cfg.Redis.Enabled)
	if cfg.Redis.Enabled {
		publisher, err = openPublisher(c.Context, cfg, prom)
		if err != nil {
			slog.Warn("redis unavailable, continuing without it", "error", err)
		} else {
			rdb = publisher.Client()
			defer publisher.Close()
		}
	}

	// ---- Trader ----
	deps := live.Deps{
		Strategy: bt.Strategy,
		Risk:     bt.Risk,
		Executor: executor,
		Guard:    risk.NewGuard(cfg.Trader.Limits, bt.InitialCapital),
		Alerter:  alerts,
		Metrics:  prom,
		Health:   health,
	}
	if publisher != nil {
		deps.Publisher = publisher
	}
	var hub *gateway.Hub
	if cfg.Gateway.Addr != "" {
		hub = gateway.NewHub(cfg.Gateway.ReplaySize)
		hub.OnClientCount = func(n int) { prom.WSClients.Set(float64(n)) }
		defer hub.Close()
		deps.Hub = hub
	}
	liveCfg := live.Config{
		Symbol:           cfg.Market.Symbol,
		Timeframe:        cfg.Market.Timeframe,
		InitialCash:      bt.InitialCapital,
		AllowShort:       bt.AllowShort,
		TrailingPercent:  bt.TrailingPercent,
		FeeRate:          bt.TransactionCost,
		SlippageBps:      cfg.Trader.SlippageBps,
		Window:           cfg.Trader.Window,
		NotifyOnSignals:  cfg.Notify.NotifyOnSignals,
		NotifyOnBrackets: cfg.Notify.NotifyOnBrackets,
	}
	if replayPath != "" {
		liveCfg.StaleAfter = time.Duration(math.MaxInt64)
	}
	trader, err := live.New(liveCfg, step, deps)
	if err != nil {
		return err
	}

	runCtx, stop := context.WithCancel(c.Context)
	defer stop()
	g, ctx := errgroup.WithContext(runCtx)

	// ---- HTTP: metrics/health and the dashboard gateway ----
	if cfg.Metrics.Addr != "" {
		srv, _ := metrics.NewServer(cfg.Metrics.Addr, prom, health)
		g.Go(func() error { return srv.Serve(ctx) })
	}
	if hub != nil {
		mux := http.NewServeMux()
		gateway.RegisterRoutes(mux, hub, gateway.Routes{Trades: journal, Runs: runReader})
		g.Go(func() error { return serveHTTP(ctx, cfg.Gateway.Addr, mux) })
	}
	health.StartLivenessChecker(ctx, rdb, barWriter.DB(), 10*time.Second)

	// ---- Bar feed → fan-out ----
	rawCh := make(chan model.Bar, 1000)
	fanout := marketdata.NewFanOut(1000)
	fanout.OnDrop = func(idx int) {
		prom.FanoutDropsTotal.WithLabelValues(strconv.Itoa(idx)).Inc()
	}
	traderCh := fanout.Subscribe()
	storeCh := fanout.Subscribe()

	if replayPath != "" {
		series, err := marketdata.CSVSource{Path: replayPath}.Fetch(ctx, marketdata.Query{
			Symbol: cfg.Market.Symbol, Timeframe: cfg.Market.Timeframe,
		})
		if err != nil {
			return err
		}
		g.Go(func() error {
			defer close(rawCh)
			return (&marketdata.Replayer{Series: series, Speed: c.Float64("speed")}).Run(ctx, rawCh)
		})
	} else {
		poller := &marketdata.Poller{
			Source:   &marketdata.RESTSource{Client: client, Clock: offsets},
			Query:    marketdata.Query{Symbol: cfg.Market.Symbol, Timeframe: cfg.Market.Timeframe},
			Interval: cfg.PollInterval(),
			Backfill: trader.Window(),
			OnError: func(err error) {
				health.SetFeedOK(false)
				if exchange.IsTransport(err) {
					health.SetExchangeOK(false)
				}
			},
		}
		g.Go(func() error {
			defer close(rawCh)
			return poller.Run(ctx, rawCh)
		})
	}

	go fanout.Run(ctx, rawCh)
	g.Go(func() error {
		barWriter.Run(ctx, cfg.Market.Symbol, cfg.Market.Timeframe, storeCh)
		return nil
	})

	slog.Info("trader ready", "mode", cfg.Trader.Mode, "symbol", cfg.Market.Symbol,
		"timeframe", cfg.Market.Timeframe, "replay", replayPath != "",
		"redis", publisher != nil, "gateway", cfg.Gateway.Addr, "metrics", cfg.Metrics.Addr)
	alerts.Notify(fmt.Sprintf("trader started: %s %s (%s)", cfg.Market.Symbol, cfg.Market.Timeframe, cfg.Trader.Mode))

	err = trader.Run(ctx, traderCh)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	stop()
	if gErr := g.Wait(); gErr != nil && !errors.Is(gErr, context.Canceled) && err == nil {
		err = gErr
	}

	s := trader.Snapshot()
	alerts.Notify(fmt.Sprintf("trader stopped: %d trades, equity %.2f", len(s.Ledger), s.Equity.Equity))
	return err
}

func openPublisher(ctx context.Context, cfg *config.Config, prom *metrics.Metrics) (*redisstore.Publisher, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
	cb.OnStateChange = func(_, to redisstore.State) {
		prom.RedisCircuitBreakerState.Set(float64(to))
	}
	p := redisstore.NewWithClient(rdb, cb, redisstore.Config{Addr: cfg.Redis.Addr})
	p.OnBuffer = func() { prom.RedisBufferedEvents.Inc() }
	p.OnDrop = func() { slog.Warn("redis buffer full, oldest event dropped") }
	slog.Info("redis publisher ready", "addr", cfg.Redis.Addr)
	return p, nil
}

func serveHTTP(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("gateway listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
