// cmd/exchangesim serves a simulated spot exchange so the trader and the
// backtest REST source can run without real exchange credentials.
//
// It accepts the same EXCHANGE_* credentials the trader reads (from the
// environment, .env or the YAML config), so both sides agree on keys,
// password and TOTP secret.
//
// Usage:
//
//	go run ./cmd/exchangesim --addr :9001 --symbols BTCUSDT:60000,ETHUSDT:3000 --balances USDT:100000
//	EXCHANGE_BASE_URL=http://localhost:9001 go run ./cmd/trader
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"tradebot/config"
	"tradebot/internal/exchangesim"
	"tradebot/internal/logger"
)

func main() {
	app := cli.NewApp()
	app.Name = "exchangesim"
	app.Usage = "serve a random-walk spot exchange over the exchange REST API"
	app.Flags = []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to the YAML config (optional)", EnvVars: []string{"TRADEBOT_CONFIG"}},
		&cli.StringFlag{Name: "addr", Value: ":9001", EnvVars: []string{"EXCHANGESIM_ADDR"}},
		&cli.StringFlag{Name: "symbols", Value: "BTCUSDT:60000", Usage: "comma-separated SYMBOL:START_PRICE pairs"},
		&cli.StringFlag{Name: "balances", Value: "USDT:100000", Usage: "comma-separated ASSET:AMOUNT pairs"},
		&cli.StringFlag{Name: "quote", Value: "USDT", Usage: "quote asset shared by all symbols"},
		&cli.DurationFlag{Name: "history", Value: 7 * 24 * time.Hour, Usage: "history generated at startup"},
		&cli.Float64Flag{Name: "volatility", Value: 0.001, Usage: "per-minute return standard deviation"},
		&cli.Int64Flag{Name: "seed", Usage: "random seed (default: current time)"},
		&cli.Float64Flag{Name: "fee", Value: 0.001, Usage: "taker fee rate"},
		&cli.BoolFlag{Name: "allow-short", Value: true, Usage: "allow selling more than the base balance"},
	}
	app.Action = run

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.RunContext(ctx, os.Args); err != nil {
		slog.Error("exchangesim failed", "error", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	logger.Init("exchangesim", logger.ParseLevel(cfg.Log.Level), cfg.Log.Format)

	symbols, err := parsePairs(c.String("symbols"))
	if err != nil {
		return fmt.Errorf("--symbols: %w", err)
	}
	balances, err := parsePairs(c.String("balances"))
	if err != nil {
		return fmt.Errorf("--balances: %w", err)
	}
	seed := c.Int64("seed")
	if !c.IsSet("seed") {
		seed = time.Now().UnixNano()
	}

	market, err := exchangesim.New(exchangesim.Config{
		Symbols:    symbols,
		QuoteAsset: strings.ToUpper(c.String("quote")),
		Balances:   balances,
		History:    c.Duration("history"),
		Volatility: c.Float64("volatility"),
		Seed:       seed,
		FeeRate:    c.Float64("fee"),
		AllowShort: c.Bool("allow-short"),
		APIKey:     cfg.Exchange.APIKey,
		APISecret:  cfg.Exchange.APISecret,
		ClientCode: cfg.Exchange.ClientCode,
		Password:   cfg.Exchange.Password,
		TOTPSecret: cfg.Exchange.TOTPSecret,
	})
	if err != nil {
		return err
	}

	addr := c.String("addr")
	srv := &http.Server{Addr: addr, Handler: market.Handler(), ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("exchangesim listening", "addr", addr, "symbols", len(symbols), "seed", seed,
			"signed", cfg.Exchange.APISecret != "", "login", cfg.Exchange.ClientCode != "")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-c.Context.Done():
		slog.Info("exchangesim shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// parsePairs reads "A:1,B:2.5" into a map. Keys are upper-cased.
func parsePairs(s string) (map[string]float64, error) {
	out := make(map[string]float64)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, val, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("%q: want KEY:VALUE", part)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", part, err)
		}
		out[strings.ToUpper(strings.TrimSpace(key))] = v
	}
	return out, nil
}
