// Package redis publishes trades and signals to Redis for dashboards and
// downstream consumers. Publishing never blocks the trading loop: failures
// are logged, and the buffered publisher holds writes while Redis is down.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"trading-enginev1/internal/model"
)

const (
	// TradeStream holds every completed trade.
	TradeStream = "trades"
	// TradeChannel is the pub/sub channel for completed trades.
	TradeChannel = "pub:trades"

	tradeStreamMaxLen = 10000
	defaultLatestTTL  = 24 * time.Hour
	signalLatestTTL   = 30 * time.Minute
)

// WriterConfig configures the Redis publisher.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Publisher writes trades and signals to Redis streams, keys and channels.
type Publisher struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// New creates a Publisher and pings the server.
func New(cfg WriterConfig) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Publisher{client: client}, nil
}

// tradeLatestKey is the key holding the last trade of a (symbol, strategy).
func tradeLatestKey(rec model.TradeRecord) string {
	return "trade:latest:" + rec.Symbol + ":" + rec.Strategy
}

// signalChannel is the pub/sub channel for a loop's signals.
func signalChannel(symbol, strategy string) string {
	return "pub:signal:" + symbol + ":" + strategy
}

func signalLatestKey(symbol, strategy string) string {
	return "signal:latest:" + symbol + ":" + strategy
}

// SignalEvent is the payload published for every non-HOLD signal.
type SignalEvent struct {
	Symbol   string       `json:"symbol"`
	Strategy string       `json:"strategy"`
	Cycle    time.Time    `json:"cycle"`
	TraceID  string       `json:"trace_id,omitempty"`
	Signal   model.Signal `json:"signal"`
}

// RecordTrade implements model.TradeSink: XADD to the trade stream, SET the
// latest trade and PUBLISH, in one pipeline.
func (p *Publisher) RecordTrade(ctx context.Context, rec model.TradeRecord) error {
	return p.writeTrade(ctx, rec)
}

func (p *Publisher) writeTrade(ctx context.Context, rec model.TradeRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis: marshal trade: %w", err)
	}
	jsonData := string(data)

	pipe := p.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: TradeStream,
		MaxLen: tradeStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": jsonData},
	})
	pipe.Set(ctx, tradeLatestKey(rec), jsonData, defaultLatestTTL)
	pipe.Publish(ctx, TradeChannel, jsonData)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: trade %s pipeline: %w", rec.ID, err)
	}
	return nil
}

// PublishSignal publishes a signal event and stores it as the loop's
// latest signal.
func (p *Publisher) PublishSignal(ctx context.Context, ev SignalEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redis: marshal signal: %w", err)
	}
	jsonData := string(data)

	pipe := p.client.Pipeline()
	pipe.Set(ctx, signalLatestKey(ev.Symbol, ev.Strategy), jsonData, signalLatestTTL)
	pipe.Publish(ctx, signalChannel(ev.Symbol, ev.Strategy), jsonData)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] signal pipeline error for %s:%s: %v", ev.Symbol, ev.Strategy, err)
		return err
	}
	return nil
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
