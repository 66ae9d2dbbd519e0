// cmd/backtest runs the signal and risk pipeline over historical bars and
// reports the resulting ledger. Bars come from a CSV file, the exchange
// REST API or the SQLite store.
//
// Usage:
//
//	go run ./cmd/backtest --config tradebot.yaml run --ledger --save
//	go run ./cmd/backtest sweep --shorts 5,10,20 --longs 30,50,100
//	go run ./cmd/backtest import --csv data/btc_1h.csv
//	go run ./cmd/backtest runs --limit 20
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	"tradebot/config"
	"tradebot/internal/backtest"
	"tradebot/internal/clock"
	"tradebot/internal/logger"
	"tradebot/internal/marketdata"
	"tradebot/internal/metrics"
	"tradebot/internal/model"
	"tradebot/internal/report"
	sqlitestore "tradebot/internal/store/sqlite"
	"tradebot/pkg/exchange"
)

var configPath string

func main() {
	app := cli.NewApp()
	app.Name = "backtest"
	app.Usage = "replay historical bars through the strategy and risk sizer"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "path to the YAML config (optional)",
			EnvVars:     []string{"TRADEBOT_CONFIG"},
			Destination: &configPath,
		},
		&cli.StringFlag{Name: "source", Usage: "override market.source (csv, rest, sqlite)"},
		&cli.StringFlag{Name: "csv", Usage: "override market.csv_path"},
		&cli.StringFlag{Name: "symbol", Usage: "override market.symbol"},
		&cli.StringFlag{Name: "timeframe", Usage: "override market.timeframe"},
		&cli.StringFlag{Name: "resample", Usage: "override market.resample (e.g. 4h)"},
	}
	app.Commands = []*cli.Command{
		runCommand,
		sweepCommand,
		importCommand,
		runsCommand,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.RunContext(ctx, os.Args); err != nil {
		slog.Error("backtest failed", "error", err)
		os.Exit(1)
	}
}

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "run one backtest and print its summary",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "ledger", Usage: "print every closed trade"},
		&cli.BoolFlag{Name: "save", Usage: "store the run in SQLite"},
		&cli.StringFlag{Name: "json", Usage: "write the result document to this file"},
		&cli.BoolFlag{Name: "equity", Usage: "include the equity curve in --json output"},
		&cli.StringFlag{Name: "ledger-csv", Usage: "write the ledger as CSV to this file"},
		&cli.BoolFlag{Name: "metrics", Usage: "serve Prometheus metrics on metrics.addr while running"},
	},
	Action: runBacktest,
}

var sweepCommand = &cli.Command{
	Name:  "sweep",
	Usage: "run the SMA period grid in parallel and rank the results",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "shorts", Value: "5,10,20", Usage: "comma-separated short SMA periods"},
		&cli.StringFlag{Name: "longs", Value: "30,50,100", Usage: "comma-separated long SMA periods"},
		&cli.IntFlag{Name: "workers", Usage: "parallel runs (0 = GOMAXPROCS)"},
		&cli.BoolFlag{Name: "metrics", Usage: "serve Prometheus metrics on metrics.addr while running"},
	},
	Action: runSweep,
}

var importCommand = &cli.Command{
	Name:  "import",
	Usage: "load bars from the configured source into SQLite",
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		if cfg.Market.Source == "sqlite" {
			return errors.New("import: source is already sqlite")
		}
		series, err := fetchSeries(c.Context, cfg)
		if err != nil {
			return err
		}
		w, err := openWriter(cfg.Storage.SQLitePath)
		if err != nil {
			return err
		}
		defer w.Close()

		if err := w.WriteBars(c.Context, cfg.Market.Symbol, cfg.Market.Timeframe, series.Bars()); err != nil {
			return err
		}
		slog.Info("bars imported", "symbol", cfg.Market.Symbol, "timeframe", cfg.Market.Timeframe,
			"bars", series.Len(), "db", cfg.Storage.SQLitePath)
		return nil
	},
}

var runsCommand = &cli.Command{
	Name:  "runs",
	Usage: "list stored backtest runs",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "limit", Value: 20},
	},
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		r, err := sqlitestore.NewReader(cfg.Storage.SQLitePath)
		if err != nil {
			return err
		}
		defer r.Close()

		runs, err := r.ListRuns(c.Context, c.Int("limit"))
		if err != nil {
			return err
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("ID", "Symbol", "Started", "Bars", "Initial", "Final", "Status")
		for _, run := range runs {
			status := "completed"
			if !run.Completed {
				status = "aborted: " + run.AbortReason
			}
			table.Append(run.ID, run.Symbol+" "+run.Timeframe, run.StartedAt.Format(time.RFC3339),
				strconv.Itoa(run.Bars), fmt.Sprintf("%.2f", run.InitialCapital), fmt.Sprintf("%.2f", run.FinalEquity), status)
		}
		table.Render()
		return nil
	},
}

func runBacktest(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	m := metrics.NewMetrics()
	stop := maybeServeMetrics(c, cfg, m)
	defer stop()

	series, err := fetchSeries(c.Context, cfg)
	if err != nil {
		return err
	}
	sim, err := backtest.New(cfg.BacktestConfig())
	if err != nil {
		return err
	}

	runID := sqlitestore.NewRunID()
	ctx := logger.WithRunID(c.Context, runID)
	slog.Info("backtest started", append(logger.LogWithRun(ctx), "symbol", series.Symbol(),
		"timeframe", series.Timeframe(), "bars", series.Len())...)

	start := time.Now()
	res, runErr := sim.Run(ctx, series)
	if res == nil {
		return runErr
	}
	m.ObserveRun(res.Completed, res.Bars, res.Ledger, time.Since(start))
	if runErr != nil {
		slog.Warn("backtest aborted", append(logger.LogWithRun(ctx), "error", runErr)...)
	}

	report.RenderSummary(os.Stdout, report.Summarize(res))
	if c.Bool("ledger") {
		report.RenderLedger(os.Stdout, res.Ledger)
	}
	if path := c.String("json"); path != "" {
		if err := writeFile(path, func(f *os.File) error { return report.WriteJSON(f, runID, res, c.Bool("equity")) }); err != nil {
			return err
		}
	}
	if path := c.String("ledger-csv"); path != "" {
		if err := writeFile(path, func(f *os.File) error { return report.WriteCSV(f, res.Ledger) }); err != nil {
			return err
		}
	}
	if c.Bool("save") {
		if err := saveRun(ctx, cfg, runID, start, res); err != nil {
			return err
		}
		slog.Info("run saved", append(logger.LogWithRun(ctx), "db", cfg.Storage.SQLitePath)...)
	}
	return runErr
}

func runSweep(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	shorts, err := parseInts(c.String("shorts"))
	if err != nil {
		return fmt.Errorf("--shorts: %w", err)
	}
	longs, err := parseInts(c.String("longs"))
	if err != nil {
		return fmt.Errorf("--longs: %w", err)
	}
	configs := backtest.Grid(cfg.BacktestConfig(), shorts, longs)
	if len(configs) == 0 {
		return errors.New("sweep: no short < long pairs in the grid")
	}

	m := metrics.NewMetrics()
	stop := maybeServeMetrics(c, cfg, m)
	defer stop()

	series, err := fetchSeries(c.Context, cfg)
	if err != nil {
		return err
	}
	slog.Info("sweep started", "runs", len(configs), "bars", series.Len(), "workers", c.Int("workers"))

	start := time.Now()
	results := backtest.Sweep(c.Context, series, configs, c.Int("workers"))
	took := time.Since(start)
	for _, r := range results {
		if r.Result != nil {
			m.ObserveRun(r.Result.Completed, r.Result.Bars, r.Result.Ledger, took/time.Duration(len(results)))
		} else {
			m.RunsTotal.WithLabelValues("error").Inc()
		}
	}
	report.RenderSweep(os.Stdout, results)
	slog.Info("sweep finished", "runs", len(results), "took", took)
	return nil
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if v := c.String("source"); v != "" {
		cfg.Market.Source = v
	}
	if v := c.String("csv"); v != "" {
		cfg.Market.CSVPath = v
		if c.String("source") == "" {
			cfg.Market.Source = "csv"
		}
	}
	if v := c.String("symbol"); v != "" {
		cfg.Market.Symbol = v
	}
	if v := c.String("timeframe"); v != "" {
		cfg.Market.Timeframe = v
	}
	if v := c.String("resample"); v != "" {
		cfg.Market.Resample = v
	}
	logger.Init("backtest", logger.ParseLevel(cfg.Log.Level), cfg.Log.Format)
	return cfg, nil
}

func fetchSeries(ctx context.Context, cfg *config.Config) (*model.PriceSeries, error) {
	start, end, err := cfg.Range()
	if err != nil {
		return nil, err
	}
	q := marketdata.Query{
		Symbol:    cfg.Market.Symbol,
		Timeframe: cfg.Market.Timeframe,
		Start:     start,
		End:       end,
		Limit:     cfg.Market.Limit,
	}

	var src marketdata.Source
	switch cfg.Market.Source {
	case "csv":
		if cfg.Market.CSVPath == "" {
			return nil, errors.New("market.csv_path is required for the csv source")
		}
		src = marketdata.CSVSource{Path: cfg.Market.CSVPath}
	case "rest":
		client := exchange.New(exchangeConfig(cfg))
		rs := &marketdata.RESTSource{Client: client}
		if cfg.Exchange.SyncClock {
			rs.Clock = &clock.ServerTime{Fetcher: client}
		}
		src = rs
	case "sqlite":
		r, err := sqlitestore.NewReader(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		defer r.Close()
		src = r
	default:
		return nil, fmt.Errorf("unknown market.source %q", cfg.Market.Source)
	}

	series, err := src.Fetch(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("fetch %s %s from %s: %w", q.Symbol, q.Timeframe, cfg.Market.Source, err)
	}
	if tf := cfg.Market.Resample; tf != "" && tf != series.Timeframe() {
		before := series.Len()
		if series, err = marketdata.Resample(series, tf); err != nil {
			return nil, err
		}
		slog.Info("resampled series", "from", q.Timeframe, "to", tf, "bars_in", before, "bars_out", series.Len())
	}
	return series, nil
}

func exchangeConfig(cfg *config.Config) exchange.Config {
	return exchange.Config{
		BaseURL:           cfg.Exchange.BaseURL,
		APIKey:            cfg.Exchange.APIKey,
		APISecret:         cfg.Exchange.APISecret,
		RequestsPerSecond: cfg.Exchange.RequestsPerSecond,
		RecvWindow:        time.Duration(cfg.Exchange.RecvWindowMillis) * time.Millisecond,
	}
}

func openWriter(path string) (*sqlitestore.Writer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	return sqlitestore.New(sqlitestore.WriterConfig{DBPath: path})
}

func saveRun(ctx context.Context, cfg *config.Config, runID string, started time.Time, res *backtest.Result) error {
	w, err := openWriter(cfg.Storage.SQLitePath)
	if err != nil {
		return err
	}
	defer w.Close()

	cfgJSON, err := json.Marshal(cfg.BacktestConfig())
	if err != nil {
		return fmt.Errorf("encode run config: %w", err)
	}
	info := model.RunInfo{
		ID:             runID,
		Symbol:         res.Symbol,
		Timeframe:      res.Timeframe,
		StartedAt:      started,
		Bars:           res.Bars,
		InitialCapital: res.InitialCapital,
		FinalEquity:    res.FinalEquity,
		Completed:      res.Completed,
		ConfigJSON:     string(cfgJSON),
	}
	if res.Abort != nil {
		info.AbortReason = res.Abort.Error()
	}
	return w.SaveRun(ctx, info, res.Ledger, res.Equity)
}

// maybeServeMetrics starts the metrics endpoint when --metrics is set and
// returns a function that stops it.
func maybeServeMetrics(c *cli.Context, cfg *config.Config, m *metrics.Metrics) func() {
	if !c.Bool("metrics") || cfg.Metrics.Addr == "" {
		return func() {}
	}
	srv, _ := metrics.NewServer(cfg.Metrics.Addr, m, metrics.NewHealthStatus())
	ctx, cancel := context.WithCancel(c.Context)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ctx); err != nil {
			slog.Error("metrics server failed", "error", err)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func parseInts(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("invalid period %q", part)
		}
		out = append(out, v)
	}
	return out, nil
}
