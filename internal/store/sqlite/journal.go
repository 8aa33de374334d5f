package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"trading-enginev1/internal/model"
)

// Journal persists completed trades for analysis and audit.
// It implements model.TradeSink.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// NewJournal opens (or creates) a SQLite trade journal.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("sqlite open journal: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		id           TEXT PRIMARY KEY,
		ts           INTEGER NOT NULL,
		symbol       TEXT NOT NULL,
		strategy     TEXT NOT NULL,
		direction    TEXT NOT NULL,
		entry_price  REAL NOT NULL,
		exit_price   REAL NOT NULL,
		size         REAL NOT NULL,
		realized_pnl REAL NOT NULL,
		exit_reason  TEXT,
		opened_at    INTEGER,
		created_at   DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_trades_strategy ON trades(strategy);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
	CREATE INDEX IF NOT EXISTS idx_trades_ts ON trades(ts);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite journal schema: %w", err)
	}

	log.Printf("[journal] opened trade journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// DB returns the underlying sql.DB for health checks.
func (j *Journal) DB() *sql.DB { return j.db }

// RecordTrade persists a completed trade. Re-recording the same trade ID is
// a no-op.
func (j *Journal) RecordTrade(ctx context.Context, rec model.TradeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO trades (id, ts, symbol, strategy, direction, entry_price, exit_price, size, realized_pnl, exit_reason, opened_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Timestamp.UnixNano(),
		rec.Symbol,
		rec.Strategy,
		string(rec.Direction),
		rec.EntryPrice,
		rec.ExitPrice,
		rec.Size,
		rec.RealizedPnL,
		rec.ExitReason,
		rec.OpenedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite journal: record %s: %w", rec.ID, err)
	}
	return nil
}

// GetTrades returns the last limit trades, newest first.
func (j *Journal) GetTrades(limit int) ([]model.TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT id, ts, symbol, strategy, direction, entry_price, exit_price, size, realized_pnl, exit_reason, opened_at
		 FROM trades ORDER BY ts DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite journal: query: %w", err)
	}
	defer rows.Close()

	var trades []model.TradeRecord
	for rows.Next() {
		var (
			t          model.TradeRecord
			dir        string
			ts, opened int64
			reason     sql.NullString
		)
		if err := rows.Scan(&t.ID, &ts, &t.Symbol, &t.Strategy, &dir, &t.EntryPrice,
			&t.ExitPrice, &t.Size, &t.RealizedPnL, &reason, &opened); err != nil {
			return nil, fmt.Errorf("sqlite journal: scan: %w", err)
		}
		t.Direction = model.Direction(dir)
		t.ExitReason = reason.String
		t.Timestamp = time.Unix(0, ts).UTC()
		t.OpenedAt = time.Unix(0, opened).UTC()
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// RealizedPnL sums realized P&L over all journaled trades.
func (j *Journal) RealizedPnL(ctx context.Context) (float64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var total sql.NullFloat64
	if err := j.db.QueryRowContext(ctx, `SELECT SUM(realized_pnl) FROM trades`).Scan(&total); err != nil {
		return 0, fmt.Errorf("sqlite journal: sum: %w", err)
	}
	return total.Float64, nil
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
