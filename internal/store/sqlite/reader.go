package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"tradebot/internal/marketdata"
	"tradebot/internal/model"
)

// ErrRunNotFound is returned by LoadRun for an unknown ID.
var ErrRunNotFound = errors.New("sqlite: run not found")

// Reader provides read-only access to stored bars and runs.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	return &Reader{db: db}, nil
}

// ReadBars returns stored bars for symbol/timeframe within [from, to],
// ordered by timestamp ascending. Zero times leave the range open.
func (r *Reader) ReadBars(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]model.Bar, error) {
	lo, hi := int64(-1<<62), int64(1<<62)
	if !from.IsZero() {
		lo = from.UnixMilli()
	}
	if !to.IsZero() {
		hi = to.UnixMilli()
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM bars
		WHERE symbol = ? AND timeframe = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC
	`, symbol, timeframe, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var b model.Bar
		var ts int64
		var vol sql.NullFloat64
		if err := rows.Scan(&ts, &b.Open, &b.High, &b.Low, &b.Close, &vol); err != nil {
			return nil, fmt.Errorf("sqlite scan bars: %w", err)
		}
		b.TS = time.UnixMilli(ts).UTC()
		b.Volume = vol.Float64
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// Fetch implements marketdata.Source over the bars table.
func (r *Reader) Fetch(ctx context.Context, q marketdata.Query) (*model.PriceSeries, error) {
	bars, err := r.ReadBars(ctx, q.Symbol, q.Timeframe, q.Start, q.End)
	if err != nil {
		return nil, err
	}
	return marketdata.Select(q, bars)
}

// ListRuns returns the most recent runs first.
func (r *Reader) ListRuns(ctx context.Context, limit int) ([]model.RunInfo, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, symbol, timeframe, started_at, bars, initial_capital, final_equity, completed, abort_reason, config
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query runs: %w", err)
	}
	defer rows.Close()

	var out []model.RunInfo
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (model.RunInfo, error) {
	var run model.RunInfo
	var started int64
	var abort, cfg sql.NullString
	if err := s.Scan(&run.ID, &run.Symbol, &run.Timeframe, &started, &run.Bars, &run.InitialCapital,
		&run.FinalEquity, &run.Completed, &abort, &cfg); err != nil {
		return run, err
	}
	run.StartedAt = time.UnixMilli(started).UTC()
	run.AbortReason = abort.String
	run.ConfigJSON = cfg.String
	return run, nil
}

// LoadRun returns a stored run with its ledger and equity curve.
func (r *Reader) LoadRun(ctx context.Context, id string) (model.RunInfo, []model.LedgerEntry, []model.EquityPoint, error) {
	run, err := scanRun(r.db.QueryRowContext(ctx, `
		SELECT id, symbol, timeframe, started_at, bars, initial_capital, final_equity, completed, abort_reason, config
		FROM runs WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return run, nil, nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return run, nil, nil, fmt.Errorf("sqlite read run: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT entry_index, exit_index, entry_ts, exit_ts, side, entry_price, exit_price, size, realized_pnl, fees, exit_reason
		FROM ledger WHERE run_id = ? ORDER BY seq ASC
	`, id)
	if err != nil {
		return run, nil, nil, fmt.Errorf("sqlite query ledger: %w", err)
	}
	defer rows.Close()

	var ledger []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var entryTS, exitTS int64
		var side, reason string
		if err := rows.Scan(&e.EntryIndex, &e.ExitIndex, &entryTS, &exitTS, &side, &e.EntryPrice, &e.ExitPrice,
			&e.Size, &e.RealizedPnL, &e.Fees, &reason); err != nil {
			return run, nil, nil, fmt.Errorf("sqlite scan ledger: %w", err)
		}
		e.EntryTime = time.UnixMilli(entryTS).UTC()
		e.ExitTime = time.UnixMilli(exitTS).UTC()
		e.Side = parseSide(side)
		e.ExitReason = model.ExitReason(reason)
		ledger = append(ledger, e)
	}
	if err := rows.Err(); err != nil {
		return run, nil, nil, err
	}

	eqRows, err := r.db.QueryContext(ctx, `SELECT idx, ts, equity FROM equity WHERE run_id = ? ORDER BY idx ASC`, id)
	if err != nil {
		return run, nil, nil, fmt.Errorf("sqlite query equity: %w", err)
	}
	defer eqRows.Close()

	var equity []model.EquityPoint
	for eqRows.Next() {
		var p model.EquityPoint
		var ts int64
		if err := eqRows.Scan(&p.Index, &ts, &p.Equity); err != nil {
			return run, nil, nil, fmt.Errorf("sqlite scan equity: %w", err)
		}
		p.TS = time.UnixMilli(ts).UTC()
		equity = append(equity, p)
	}
	return run, ledger, equity, eqRows.Err()
}

func parseSide(s string) model.Side {
	switch s {
	case "LONG":
		return model.Long
	case "SHORT":
		return model.Short
	default:
		return model.Flat
	}
}

// DB returns the underlying sql.DB for health checks.
func (r *Reader) DB() *sql.DB { return r.db }

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
