package sqlite

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"trading-enginev1/internal/model"
)

// Reader provides read-only access to stored candles for replay.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// ReadCandles returns candles for symbol/timeframe opened after the given
// time, oldest first. A zero after reads the full history.
func (r *Reader) ReadCandles(symbol, timeframe string, after time.Time) ([]model.Candle, error) {
	var afterMS int64 = -1
	if !after.IsZero() {
		afterMS = after.UnixMilli()
	}
	rows, err := r.db.Query(`
		SELECT open_time, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND timeframe = ? AND open_time > ?
		ORDER BY open_time ASC
	`, symbol, timeframe, afterMS)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		var ms int64
		if err := rows.Scan(&ms, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan candles: %w", err)
		}
		c.OpenTime = time.UnixMilli(ms).UTC()
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// Symbols lists the symbols stored for timeframe.
func (r *Reader) Symbols(timeframe string) ([]string, error) {
	rows, err := r.db.Query(`SELECT DISTINCT symbol FROM candles WHERE timeframe = ? ORDER BY symbol`, timeframe)
	if err != nil {
		return nil, fmt.Errorf("sqlite query symbols: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("sqlite scan symbols: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
