// Package rest implements model.MarketData over a Binance-style REST API:
// klines for candles and the book ticker for the spread.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"trading-enginev1/internal/marketdata"
	"trading-enginev1/internal/model"
)

// DefaultBaseURL is the public Binance spot API.
const DefaultBaseURL = "https://api.binance.com"

// maxKlines is the largest page the klines endpoint serves.
const maxKlines = 1000

// Config configures the REST client.
type Config struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`

	// Instrument constraints the exchange does not publish.
	Default model.InstrumentSpec            `yaml:"default"`
	Symbols map[string]model.InstrumentSpec `yaml:"symbols"`
}

// APIError is a non-200 answer from the exchange.
type APIError struct {
	Status int
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
}

func (e *APIError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("status %d: code %d: %s", e.Status, e.Code, e.Msg)
	}
	return fmt.Sprintf("status %d", e.Status)
}

// Client fetches market data over HTTP. Only closed candles are returned.
type Client struct {
	cfg  Config
	http *http.Client
	now  func() time.Time
	log  *slog.Logger
}

// New creates a client. A zero timeout defaults to 10s.
func New(cfg Config, log *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		now:  time.Now,
		log:  log.With("component", "rest"),
	}
}

// WithClock replaces the time source used to drop the forming candle.
func (c *Client) WithClock(now func() time.Time) *Client {
	c.now = now
	return c
}

func (c *Client) spec(symbol string) model.InstrumentSpec {
	if s, ok := c.cfg.Symbols[symbol]; ok {
		return s
	}
	return c.cfg.Default
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Status: resp.StatusCode}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = json.Unmarshal(body, apiErr)
		return apiErr
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	return dec.Decode(out)
}

// GetCandles returns up to window closed candles, oldest first. The candle
// still forming at call time is dropped.
func (c *Client) GetCandles(ctx context.Context, symbol, timeframe string, window int) ([]model.Candle, error) {
	tf, err := marketdata.ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}
	if window <= 0 {
		return nil, fmt.Errorf("rest: klines %s: window %d must be > 0", symbol, window)
	}
	limit := min(window+1, maxKlines)

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", timeframe)
	q.Set("limit", strconv.Itoa(limit))

	var rows [][]any
	if err := c.get(ctx, "/api/v3/klines", q, &rows); err != nil {
		return nil, fmt.Errorf("rest: klines %s %s: %w", symbol, timeframe, err)
	}

	now := c.now()
	candles := make([]model.Candle, 0, len(rows))
	for i, row := range rows {
		k, err := parseKline(row)
		if err != nil {
			return nil, fmt.Errorf("rest: klines %s row %d: %w", symbol, i, err)
		}
		if !marketdata.Closed(k.OpenTime, tf, now) {
			continue
		}
		candles = append(candles, k)
	}
	if len(candles) > window {
		candles = candles[len(candles)-window:]
	}
	return candles, nil
}

// parseKline decodes [openTime, open, high, low, close, volume, closeTime, ...].
func parseKline(row []any) (model.Candle, error) {
	if len(row) < 6 {
		return model.Candle{}, fmt.Errorf("kline has %d fields", len(row))
	}
	ms, err := toInt64(row[0])
	if err != nil {
		return model.Candle{}, fmt.Errorf("open time: %w", err)
	}
	var f [5]float64
	for i := range f {
		if f[i], err = toF64(row[i+1]); err != nil {
			return model.Candle{}, fmt.Errorf("field %d: %w", i+1, err)
		}
	}
	return model.Candle{
		OpenTime: time.UnixMilli(ms).UTC(),
		Open:     f[0],
		High:     f[1],
		Low:      f[2],
		Close:    f[3],
		Volume:   f[4],
	}, nil
}

func toF64(v any) (float64, error) {
	switch t := v.(type) {
	case string:
		return strconv.ParseFloat(t, 64)
	case json.Number:
		return t.Float64()
	case float64:
		return t, nil
	}
	return 0, fmt.Errorf("unexpected type %T", v)
}

func toInt64(v any) (int64, error) {
	switch t := v.(type) {
	case json.Number:
		return t.Int64()
	case string:
		return strconv.ParseInt(t, 10, 64)
	case float64:
		return int64(t), nil
	}
	return 0, fmt.Errorf("unexpected type %T", v)
}

type bookTicker struct {
	Symbol   string `json:"symbol"`
	BidPrice string `json:"bidPrice"`
	AskPrice string `json:"askPrice"`
}

// GetCurrentSpread returns ask − bid from the book ticker. A configured
// static spread is used when the ticker is unavailable.
func (c *Client) GetCurrentSpread(ctx context.Context, symbol string) (float64, error) {
	q := url.Values{}
	q.Set("symbol", symbol)

	var bt bookTicker
	if err := c.get(ctx, "/api/v3/ticker/bookTicker", q, &bt); err != nil {
		if s := c.spec(symbol).Spread; s > 0 {
			c.log.Warn("book ticker unavailable, using configured spread", "symbol", symbol, "spread", s, "error", err)
			return s, nil
		}
		return 0, fmt.Errorf("rest: book ticker %s: %w", symbol, err)
	}
	bid, err1 := strconv.ParseFloat(bt.BidPrice, 64)
	ask, err2 := strconv.ParseFloat(bt.AskPrice, 64)
	if err := errors.Join(err1, err2); err != nil {
		return 0, fmt.Errorf("rest: book ticker %s: %w", symbol, err)
	}
	if ask < bid {
		return 0, fmt.Errorf("rest: book ticker %s: crossed book bid %.8f ask %.8f", symbol, bid, ask)
	}
	return ask - bid, nil
}

// GetMinStopDistance returns the configured minimum stop distance.
func (c *Client) GetMinStopDistance(_ context.Context, symbol string) (float64, error) {
	return c.spec(symbol).MinStopDistance, nil
}
