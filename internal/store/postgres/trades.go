package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"trading-enginev1/internal/model"
)

// TradeStore persists completed trades. It implements model.TradeSink.
type TradeStore struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewTradeStore wraps pool.
func NewTradeStore(pool *pgxpool.Pool, log *slog.Logger) *TradeStore {
	if log == nil {
		log = slog.Default()
	}
	return &TradeStore{pool: pool, log: log.With("component", "postgres")}
}

// Migrate creates the trades table and its indexes.
func (s *TradeStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`create table if not exists trades (
			id text primary key,
			ts timestamptz not null,
			symbol text not null,
			strategy text not null,
			direction text not null,
			entry_price double precision not null,
			exit_price double precision not null,
			size double precision not null,
			realized_pnl double precision not null,
			exit_reason text not null default '',
			opened_at timestamptz null
		);`,
		`create index if not exists trades_symbol_ts_idx on trades(symbol, ts desc);`,
		`create index if not exists trades_strategy_idx on trades(strategy);`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	return nil
}

// RecordTrade inserts rec. Duplicate IDs are ignored.
func (s *TradeStore) RecordTrade(ctx context.Context, rec model.TradeRecord) error {
	_, err := s.pool.Exec(ctx, `
		insert into trades(id, ts, symbol, strategy, direction, entry_price, exit_price, size, realized_pnl, exit_reason, opened_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		on conflict (id) do nothing
	`, tradeArgs(rec)...)
	if err != nil {
		return fmt.Errorf("postgres: record trade %s: %w", rec.ID, err)
	}
	s.log.Debug("trade stored", "trade_id", rec.ID, "symbol", rec.Symbol, "strategy", rec.Strategy)
	return nil
}

// tradeArgs orders rec's fields for the insert statement.
func tradeArgs(rec model.TradeRecord) []any {
	var opened *time.Time
	if !rec.OpenedAt.IsZero() {
		t := rec.OpenedAt.UTC()
		opened = &t
	}
	return []any{
		rec.ID,
		rec.Timestamp.UTC(),
		rec.Symbol,
		rec.Strategy,
		string(rec.Direction),
		rec.EntryPrice,
		rec.ExitPrice,
		rec.Size,
		rec.RealizedPnL,
		rec.ExitReason,
		opened,
	}
}

// RecentTrades returns the last limit trades for symbol, newest first. An
// empty symbol returns trades for all symbols.
func (s *TradeStore) RecentTrades(ctx context.Context, symbol string, limit int) ([]model.TradeRecord, error) {
	rows, err := s.pool.Query(ctx, `
		select id, ts, symbol, strategy, direction, entry_price, exit_price, size, realized_pnl, exit_reason, opened_at
		from trades
		where $1 = '' or symbol = $1
		order by ts desc
		limit $2
	`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: query trades: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.TradeRecord, error) {
		var (
			rec    model.TradeRecord
			dir    string
			opened *time.Time
		)
		err := row.Scan(&rec.ID, &rec.Timestamp, &rec.Symbol, &rec.Strategy, &dir, &rec.EntryPrice,
			&rec.ExitPrice, &rec.Size, &rec.RealizedPnL, &rec.ExitReason, &opened)
		rec.Direction = model.Direction(dir)
		if opened != nil {
			rec.OpenedAt = *opened
		}
		return rec, err
	})
}

// Close closes the pool.
func (s *TradeStore) Close() {
	s.pool.Close()
}
