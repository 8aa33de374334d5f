// Package sqlite persists candle history and the trade journal to SQLite.
//
// Candle history feeds the replay tool; the journal is a reporting sink
// (model.TradeSink). Both use WAL mode so a reader can run alongside the
// single writer.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"trading-enginev1/internal/model"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond

	dsnOptions = "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
)

// WriterConfig configures the SQLite candle writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/candles.db"
}

// CandleRow is a candle tagged with its symbol and timeframe.
type CandleRow struct {
	Symbol    string
	Timeframe string
	model.Candle
}

// Writer is a single-goroutine SQLite candle writer with transaction batching.
type Writer struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New opens the database in WAL mode and creates the schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createCandleSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

func createCandleSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			symbol    TEXT    NOT NULL,
			timeframe TEXT    NOT NULL,
			open_time INTEGER NOT NULL,
			open      REAL    NOT NULL,
			high      REAL    NOT NULL,
			low       REAL    NOT NULL,
			close     REAL    NOT NULL,
			volume    REAL    NOT NULL DEFAULT 0,
			PRIMARY KEY (symbol, timeframe, open_time)
		);
	`)
	return err
}

// Run reads candles from ch and inserts them in batched transactions.
// Flushes every batch of defaultBatchSize candles or every
// defaultFlushDelay, whichever comes first. Blocks until ctx is cancelled
// or ch is closed.
func (w *Writer) Run(ctx context.Context, ch <-chan CandleRow) {
	batch := make([]CandleRow, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.insertBatch(batch); err != nil {
			log.Printf("[sqlite] batch insert error: %v", err)
		} else {
			log.Printf("[sqlite] committed %d candles in %v", len(batch), time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case row, ok := <-ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, row)
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

// WriteCandles stores candles for symbol/timeframe in one transaction.
// Existing rows with the same open time are replaced.
func (w *Writer) WriteCandles(symbol, timeframe string, candles []model.Candle) error {
	rows := make([]CandleRow, len(candles))
	for i, c := range candles {
		rows[i] = CandleRow{Symbol: symbol, Timeframe: timeframe, Candle: c}
	}
	return w.insertBatch(rows)
}

func (w *Writer) insertBatch(rows []CandleRow) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO candles (symbol, timeframe, open_time, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.Exec(r.Symbol, r.Timeframe, r.OpenTime.UnixMilli(), r.Open, r.High, r.Low, r.Close, r.Volume); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// GetLastOpenTime returns the newest stored open time for symbol/timeframe,
// or the zero time when none exists.
func (w *Writer) GetLastOpenTime(symbol, timeframe string) (time.Time, error) {
	var ms sql.NullInt64
	err := w.db.QueryRow(
		`SELECT MAX(open_time) FROM candles WHERE symbol = ? AND timeframe = ?`,
		symbol, timeframe,
	).Scan(&ms)
	if err != nil {
		return time.Time{}, err
	}
	if !ms.Valid {
		return time.Time{}, nil
	}
	return time.UnixMilli(ms.Int64).UTC(), nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
