package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"tradebot/internal/model"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/tradebot.db"
}

// Writer is a single-connection SQLite writer for bars and backtest runs.
type Writer struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New opens the database in WAL mode and creates the schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	slog.Info("sqlite opened", "path", cfg.DBPath)
	return &Writer{db: db}, nil
}

func open(path string) (*sql.DB, error) {
	return sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			symbol    TEXT    NOT NULL,
			timeframe TEXT    NOT NULL,
			ts        INTEGER NOT NULL,
			open      REAL    NOT NULL,
			high      REAL    NOT NULL,
			low       REAL    NOT NULL,
			close     REAL    NOT NULL,
			volume    REAL,
			PRIMARY KEY (symbol, timeframe, ts)
		);

		CREATE TABLE IF NOT EXISTS runs (
			id              TEXT    PRIMARY KEY,
			symbol          TEXT    NOT NULL,
			timeframe       TEXT    NOT NULL,
			started_at      INTEGER NOT NULL,
			bars            INTEGER NOT NULL,
			initial_capital REAL    NOT NULL,
			final_equity    REAL    NOT NULL,
			completed       INTEGER NOT NULL,
			abort_reason    TEXT,
			config          TEXT
		);

		CREATE TABLE IF NOT EXISTS ledger (
			run_id       TEXT    NOT NULL REFERENCES runs(id),
			seq          INTEGER NOT NULL,
			entry_index  INTEGER NOT NULL,
			exit_index   INTEGER NOT NULL,
			entry_ts     INTEGER NOT NULL,
			exit_ts      INTEGER NOT NULL,
			side         TEXT    NOT NULL,
			entry_price  REAL    NOT NULL,
			exit_price   REAL    NOT NULL,
			size         REAL    NOT NULL,
			realized_pnl REAL    NOT NULL,
			fees         REAL    NOT NULL,
			exit_reason  TEXT    NOT NULL,
			PRIMARY KEY (run_id, seq)
		);

		CREATE TABLE IF NOT EXISTS equity (
			run_id TEXT    NOT NULL REFERENCES runs(id),
			idx    INTEGER NOT NULL,
			ts     INTEGER NOT NULL,
			equity REAL    NOT NULL,
			PRIMARY KEY (run_id, idx)
		);
	`)
	return err
}

// NewRunID returns a fresh run identifier.
func NewRunID() string { return uuid.NewString() }

// WriteBars upserts bars in a single transaction.
func (w *Writer) WriteBars(ctx context.Context, symbol, timeframe string, bars []model.Bar) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars (symbol, timeframe, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, symbol, timeframe, b.TS.UnixMilli(), b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert bar %s: %w", b.TS.Format(time.RFC3339), err)
		}
	}

	return tx.Commit()
}

// Run reads live bars from barCh and inserts them in batched transactions.
// Flushes every batchSize bars OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or barCh is closed.
func (w *Writer) Run(ctx context.Context, symbol, timeframe string, barCh <-chan model.Bar) {
	batch := make([]model.Bar, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		// ctx may already be cancelled on the final flush.
		if err := w.WriteBars(context.Background(), symbol, timeframe, batch); err != nil {
			slog.Error("sqlite batch insert failed", "symbol", symbol, "bars", len(batch), "error", err)
		} else {
			slog.Debug("sqlite committed bars", "symbol", symbol, "bars", len(batch), "took", time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case bar, ok := <-barCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, bar)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// LastTimestamp returns the newest stored bar time, or the zero time.
func (w *Writer) LastTimestamp(ctx context.Context, symbol, timeframe string) (time.Time, error) {
	var ts sql.NullInt64
	err := w.db.QueryRowContext(ctx,
		`SELECT MAX(ts) FROM bars WHERE symbol = ? AND timeframe = ?`,
		symbol, timeframe,
	).Scan(&ts)
	if err != nil {
		return time.Time{}, err
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return time.UnixMilli(ts.Int64).UTC(), nil
}

// SaveRun stores a run with its ledger and equity curve. An empty run.ID
// gets a fresh one.
func (w *Writer) SaveRun(ctx context.Context, run model.RunInfo, ledger []model.LedgerEntry, equity []model.EquityPoint) error {
	if run.ID == "" {
		run.ID = NewRunID()
	}
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (id, symbol, timeframe, started_at, bars, initial_capital, final_equity, completed, abort_reason, config)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Symbol, run.Timeframe, run.StartedAt.UnixMilli(), run.Bars, run.InitialCapital,
		run.FinalEquity, run.Completed, run.AbortReason, run.ConfigJSON)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM ledger WHERE run_id = ?`, run.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM equity WHERE run_id = ?`, run.ID); err != nil {
		return err
	}

	ls, err := tx.PrepareContext(ctx, `
		INSERT INTO ledger (run_id, seq, entry_index, exit_index, entry_ts, exit_ts, side, entry_price, exit_price, size, realized_pnl, fees, exit_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer ls.Close()
	for i, e := range ledger {
		if _, err := ls.ExecContext(ctx, run.ID, i, e.EntryIndex, e.ExitIndex, e.EntryTime.UnixMilli(), e.ExitTime.UnixMilli(),
			e.Side.String(), e.EntryPrice, e.ExitPrice, e.Size, e.RealizedPnL, e.Fees, string(e.ExitReason)); err != nil {
			return fmt.Errorf("insert ledger row %d: %w", i, err)
		}
	}

	es, err := tx.PrepareContext(ctx, `INSERT INTO equity (run_id, idx, ts, equity) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer es.Close()
	for _, p := range equity {
		if _, err := es.ExecContext(ctx, run.ID, p.Index, p.TS.UnixMilli(), p.Equity); err != nil {
			return fmt.Errorf("insert equity point %d: %w", p.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Info("run saved", "run_id", run.ID, "trades", len(ledger), "completed", run.Completed)
	return nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
