// Package ws keeps a per-symbol cache of closed candles fed by a
// Binance-style kline websocket stream, and serves it as model.MarketData.
//
// Only closed klines ("x": true) enter the cache. When the cache is
// shorter than the requested window (cold start, reconnect gap) the feed
// falls back to a REST backfill and seeds the cache from it.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"trading-enginev1/internal/candlestore"
	"trading-enginev1/internal/marketdata"
	"trading-enginev1/internal/model"
)

// DefaultBaseURL is the public Binance spot stream endpoint.
const DefaultBaseURL = "wss://stream.binance.com:9443"

// Config configures the feed.
type Config struct {
	BaseURL   string
	Symbols   []string
	Timeframe string
	Capacity  int // candles kept per symbol

	ReadTimeout  time.Duration
	PingInterval time.Duration
}

// Feed is a websocket kline feed for one timeframe.
type Feed struct {
	cfg      Config
	store    *candlestore.Store
	backfill model.MarketData
	log      *slog.Logger

	seedMu sync.Mutex // serializes stream appends with backfill merges

	mu        sync.Mutex
	connected bool
	lastMsg   time.Time

	// OnReconnect is called before every reconnect attempt.
	OnReconnect func()
}

// New creates a feed. backfill serves cache misses, spreads and stop
// distances and must not be nil.
func New(cfg Config, backfill model.MarketData, log *slog.Logger) (*Feed, error) {
	if len(cfg.Symbols) == 0 {
		return nil, errors.New("ws: at least one symbol is required")
	}
	if _, err := marketdata.ParseTimeframe(cfg.Timeframe); err != nil {
		return nil, fmt.Errorf("ws: %w", err)
	}
	if backfill == nil {
		return nil, errors.New("ws: backfill market data is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 500
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Feed{
		cfg:      cfg,
		store:    candlestore.New(cfg.Capacity, 0),
		backfill: backfill,
		log:      log.With("component", "ws", "timeframe", cfg.Timeframe),
	}, nil
}

// StreamURL returns the combined stream URL for the configured symbols.
func (f *Feed) StreamURL() string {
	streams := make([]string, len(f.cfg.Symbols))
	for i, s := range f.cfg.Symbols {
		streams[i] = strings.ToLower(s) + "@kline_" + f.cfg.Timeframe
	}
	return strings.TrimRight(f.cfg.BaseURL, "/") + "/stream?streams=" + strings.Join(streams, "/")
}

// Connected reports whether the stream is currently up.
func (f *Feed) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// LastMessage returns the time the last stream message was received.
func (f *Feed) LastMessage() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastMsg
}

// Run connects and consumes the stream, reconnecting with exponential
// backoff, until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	bo := backoff.WithContext(b, ctx)

	for {
		err := f.session(ctx, bo)
		if ctx.Err() != nil {
			return nil
		}
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return ctx.Err()
		}
		f.log.Warn("stream disconnected, reconnecting", "error", err, "retry_in", wait)
		if f.OnReconnect != nil {
			f.OnReconnect()
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (f *Feed) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

// session runs one connection until it fails or ctx is cancelled.
func (f *Feed) session(ctx context.Context, bo backoff.BackOff) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.StreamURL(), nil)
	if err != nil {
		return fmt.Errorf("ws: dial: %w", err)
	}
	defer conn.Close()
	f.setConnected(true)
	defer f.setConnected(false)
	bo.Reset()
	f.log.Info("stream connected", "symbols", f.cfg.Symbols)

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(f.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("ws: read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
		f.mu.Lock()
		f.lastMsg = time.Now()
		f.mu.Unlock()

		if err := f.handle(msg); err != nil {
			f.log.Warn("bad stream message", "error", err)
		}
	}
}

type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// klineEvent mirrors the Binance kline payload. encoding/json matches keys
// case-insensitively, so every upper-case key gets its own field to keep it
// from binding to its lower-case twin (E to e, T to t, V to v, ...).
type klineEvent struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Kline     struct {
		OpenTime    int64           `json:"t"`
		CloseTime   int64           `json:"T"`
		Symbol      string          `json:"s"`
		Interval    string          `json:"i"`
		FirstTrade  int64           `json:"f"`
		LastTrade   int64           `json:"L"`
		Open        string          `json:"o"`
		High        string          `json:"h"`
		Low         string          `json:"l"`
		Close       string          `json:"c"`
		Volume      string          `json:"v"`
		Trades      int64           `json:"n"`
		Closed      bool            `json:"x"`
		QuoteVolume string          `json:"q"`
		TakerBase   string          `json:"V"`
		TakerQuote  string          `json:"Q"`
		Ignore      json.RawMessage `json:"B"`
	} `json:"k"`
}

// handle decodes one message, combined-stream envelope or raw event.
func (f *Feed) handle(msg []byte) error {
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return err
	}
	payload := msg
	if len(env.Data) > 0 {
		payload = env.Data
	}

	var ev klineEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	if ev.Event != "kline" || !ev.Kline.Closed || ev.Kline.Interval != f.cfg.Timeframe {
		return nil
	}
	c, err := ev.candle()
	if err != nil {
		return fmt.Errorf("%s: %w", ev.Symbol, err)
	}
	f.seedMu.Lock()
	f.store.Append(ev.Symbol, f.cfg.Timeframe, []model.Candle{c})
	f.seedMu.Unlock()
	return nil
}

func (ev klineEvent) candle() (model.Candle, error) {
	k := ev.Kline
	var vals [5]float64
	for i, s := range []string{k.Open, k.High, k.Low, k.Close, k.Volume} {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return model.Candle{}, err
		}
		vals[i] = v
	}
	return model.Candle{
		OpenTime: time.UnixMilli(k.OpenTime).UTC(),
		Open:     vals[0],
		High:     vals[1],
		Low:      vals[2],
		Close:    vals[3],
		Volume:   vals[4],
	}, nil
}

// Last returns the newest cached candle for symbol.
func (f *Feed) Last(symbol string) (model.Candle, bool) {
	return f.store.LastOf(symbol, f.cfg.Timeframe)
}

// GetCandles serves window candles from the cache, backfilling over REST
// when the cache is short.
func (f *Feed) GetCandles(ctx context.Context, symbol, timeframe string, window int) ([]model.Candle, error) {
	if timeframe != f.cfg.Timeframe {
		return nil, fmt.Errorf("ws: feed serves %s, asked for %s: %w", f.cfg.Timeframe, timeframe, marketdata.ErrUnknownTimeframe)
	}
	if f.store.Len(symbol, timeframe) >= window {
		return f.store.Window(symbol, timeframe, window), nil
	}
	candles, err := f.backfill.GetCandles(ctx, symbol, timeframe, window)
	if err != nil {
		return nil, fmt.Errorf("ws: backfill %s: %w", symbol, err)
	}
	f.seedMu.Lock()
	defer f.seedMu.Unlock()
	merged := mergeCandles(candles, f.store.Window(symbol, timeframe, 0))
	f.store.Reset(symbol, timeframe)
	f.store.Append(symbol, timeframe, merged)
	return f.store.Window(symbol, timeframe, window), nil
}

// mergeCandles merges two oldest-first candle slices by open time. On a
// tie the streamed candle wins.
func mergeCandles(backfill, streamed []model.Candle) []model.Candle {
	out := make([]model.Candle, 0, len(backfill)+len(streamed))
	i, j := 0, 0
	for i < len(backfill) || j < len(streamed) {
		switch {
		case j == len(streamed):
			out = append(out, backfill[i])
			i++
		case i == len(backfill):
			out = append(out, streamed[j])
			j++
		case backfill[i].OpenTime.Before(streamed[j].OpenTime):
			out = append(out, backfill[i])
			i++
		case backfill[i].OpenTime.Equal(streamed[j].OpenTime):
			out = append(out, streamed[j])
			i++
			j++
		default:
			out = append(out, streamed[j])
			j++
		}
	}
	return out
}

// GetCurrentSpread delegates to the backfill source.
func (f *Feed) GetCurrentSpread(ctx context.Context, symbol string) (float64, error) {
	return f.backfill.GetCurrentSpread(ctx, symbol)
}

// GetMinStopDistance delegates to the backfill source.
func (f *Feed) GetMinStopDistance(ctx context.Context, symbol string) (float64, error) {
	return f.backfill.GetMinStopDistance(ctx, symbol)
}
