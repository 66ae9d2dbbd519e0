package execution

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"tradebot/internal/model"
)

// Journal persists trade fills to SQLite for analysis and audit.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// NewJournal opens (or creates) a SQLite journal database.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id    TEXT NOT NULL,
		client_id   TEXT NOT NULL,
		symbol      TEXT NOT NULL,
		side        TEXT NOT NULL,
		size        REAL NOT NULL,
		price       REAL NOT NULL,
		fee         REAL DEFAULT 0,
		status      TEXT NOT NULL,
		reason      TEXT,
		filled_at   INTEGER NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
	CREATE INDEX IF NOT EXISTS idx_trades_filled_at ON trades(filled_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}

	slog.Info("trade journal opened", "path", dbPath)
	return &Journal{db: db}, nil
}

// RecordFill persists a fill to the journal.
func (j *Journal) RecordFill(ctx context.Context, fill model.Fill, reason string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO trades (order_id, client_id, symbol, side, size, price, fee, status, reason, filled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fill.OrderID,
		fill.ClientID,
		fill.Symbol,
		fill.Side.String(),
		fill.Size,
		fill.Price,
		fill.Fee,
		fill.Status,
		reason,
		fill.Timestamp.UnixMilli(),
	)
	return err
}

// TradeRecord represents a row from the trades table.
type TradeRecord struct {
	ID     int64      `json:"id"`
	Fill   model.Fill `json:"fill"`
	Reason string     `json:"reason"`
}

// Trades returns the last N trades, newest first.
func (j *Journal) Trades(ctx context.Context, limit int) ([]TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, order_id, client_id, symbol, side, size, price, fee, status, reason, filled_at
		 FROM trades ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []TradeRecord
	for rows.Next() {
		var t TradeRecord
		var side string
		var reason sql.NullString
		var filled int64
		if err := rows.Scan(&t.ID, &t.Fill.OrderID, &t.Fill.ClientID, &t.Fill.Symbol, &side,
			&t.Fill.Size, &t.Fill.Price, &t.Fill.Fee, &t.Fill.Status, &reason, &filled); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		if err := t.Fill.Side.UnmarshalText([]byte(side)); err != nil {
			return nil, err
		}
		t.Reason = reason.String
		t.Fill.Timestamp = time.UnixMilli(filled).UTC()
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
