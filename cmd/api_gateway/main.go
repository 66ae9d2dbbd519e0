// cmd/api_gateway serves dashboards from a separate process. It relays the
// trader's Redis pub/sub channels to WebSocket clients and exposes the trade
// journal, stored backtest runs and recent signals over REST.
//
// Usage:
//
//	go run ./cmd/api_gateway --config tradebot.yaml --addr :8080
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"tradebot/config"
	"tradebot/internal/execution"
	"tradebot/internal/gateway"
	"tradebot/internal/logger"
	"tradebot/internal/metrics"
	redisstore "tradebot/internal/store/redis"
	sqlitestore "tradebot/internal/store/sqlite"
)

func main() {
	app := cli.NewApp()
	app.Name = "api_gateway"
	app.Usage = "relay live trader events from Redis to WebSocket dashboards"
	app.Flags = []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to the YAML config (optional)", EnvVars: []string{"TRADEBOT_CONFIG"}},
		&cli.StringFlag{Name: "addr", Usage: "override gateway.addr"},
		&cli.StringFlag{Name: "pattern", Value: "pub:*", Usage: "Redis channel pattern to relay"},
	}
	app.Action = run

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.RunContext(ctx, os.Args); err != nil {
		slog.Error("api_gateway failed", "error", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if v := c.String("addr"); v != "" {
		cfg.Gateway.Addr = v
	}
	if cfg.Gateway.Addr == "" {
		cfg.Gateway.Addr = ":8080"
	}
	logger.Init("api_gateway", logger.ParseLevel(cfg.Log.Level), cfg.Log.Format)

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	pingCtx, cancel := context.WithTimeout(c.Context, 5*time.Second)
	err = rdb.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	slog.Info("redis connected", "addr", cfg.Redis.Addr)

	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	health.SetRedisEnabled(true)
	health.SetFeedOK(true)
	health.SetExchangeOK(true)

	routes := gateway.Routes{Signals: redisstore.NewReader(rdb)}
	if journal, err := execution.NewJournal(cfg.Storage.JournalPath); err != nil {
		slog.Warn("trade journal unavailable", "path", cfg.Storage.JournalPath, "error", err)
	} else {
		defer journal.Close()
		routes.Trades = journal
	}
	runs, err := sqlitestore.NewReader(cfg.Storage.SQLitePath)
	if err != nil {
		slog.Warn("run store unavailable", "path", cfg.Storage.SQLitePath, "error", err)
	} else {
		defer runs.Close()
		routes.Runs = runs
	}

	hub := gateway.NewHub(cfg.Gateway.ReplaySize)
	hub.OnClientCount = func(n int) { prom.WSClients.Set(float64(n)) }
	defer hub.Close()

	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, hub, routes)
	mux.Handle("/healthz", health)

	g, ctx := errgroup.WithContext(c.Context)
	g.Go(func() error { return relay(ctx, rdb, hub, c.String("pattern")) })
	g.Go(func() error { return serve(ctx, cfg.Gateway.Addr, mux) })
	if cfg.Metrics.Addr != "" {
		srv, _ := metrics.NewServer(cfg.Metrics.Addr, prom, health)
		g.Go(func() error { return srv.Serve(ctx) })
	}
	if runs != nil {
		health.StartLivenessChecker(ctx, rdb, runs.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, rdb, nil, 10*time.Second)
	}

	slog.Info("api_gateway ready", "addr", cfg.Gateway.Addr, "pattern", c.String("pattern"))
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// relay forwards every message matching pattern to the hub until ctx ends.
func relay(ctx context.Context, rdb *goredis.Client, hub *gateway.Hub, pattern string) error {
	pubsub := rdb.PSubscribe(ctx, pattern)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("psubscribe %s: %w", pattern, err)
	}
	slog.Info("relaying redis channels", "pattern", pattern)

	msgs := make(chan gateway.RelayMessage, 256)
	go func() {
		defer close(msgs)
		in := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-in:
				if !ok {
					return
				}
				select {
				case msgs <- gateway.RelayMessage{Channel: m.Channel, Payload: m.Payload}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	hub.RelayPubSub(ctx, msgs)
	return ctx.Err()
}

func serve(ctx context.Context, addr string, h http.Handler) error {
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
