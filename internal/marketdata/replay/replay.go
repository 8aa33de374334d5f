// Package replay serves stored candle history as model.MarketData with a
// movable clock, so recorded sessions can be run through the trading loop.
package replay

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"trading-enginev1/internal/marketdata"
	"trading-enginev1/internal/model"
)

// Source reads stored candles, oldest first. sqlite.Reader satisfies it.
type Source interface {
	ReadCandles(symbol, timeframe string, after time.Time) ([]model.Candle, error)
}

// Feed replays candle history. Only candles closed at the current cursor
// are visible.
type Feed struct {
	timeframe string
	tf        time.Duration
	history   map[string][]model.Candle
	specs     map[string]model.InstrumentSpec
	deflt     model.InstrumentSpec

	mu     sync.RWMutex
	cursor time.Time
}

// Load reads the history of symbols from src, starting after from.
func Load(src Source, symbols []string, timeframe string, from time.Time) (*Feed, error) {
	tf, err := marketdata.ParseTimeframe(timeframe)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	f := &Feed{
		timeframe: timeframe,
		tf:        tf,
		history:   make(map[string][]model.Candle, len(symbols)),
		specs:     map[string]model.InstrumentSpec{},
	}
	total := 0
	for _, s := range symbols {
		candles, err := src.ReadCandles(s, timeframe, from)
		if err != nil {
			return nil, fmt.Errorf("replay: load %s: %w", s, err)
		}
		f.history[s] = candles
		total += len(candles)
	}
	log.Printf("[replay] loaded %d candles for %d symbols, timeframe %s", total, len(symbols), timeframe)
	return f, nil
}

// WithSpecs sets instrument constraints served as spread and minimum stop
// distance.
func (f *Feed) WithSpecs(deflt model.InstrumentSpec, perSymbol map[string]model.InstrumentSpec) *Feed {
	f.deflt = deflt
	for k, v := range perSymbol {
		f.specs[k] = v
	}
	return f
}

// Times returns every candle close time across symbols, ascending and
// de-duplicated. Each is a cycle time at which a new candle is visible.
func (f *Feed) Times() []time.Time {
	seen := map[int64]bool{}
	var out []time.Time
	for _, candles := range f.history {
		for _, c := range candles {
			t := c.OpenTime.Add(f.tf)
			if !seen[t.UnixNano()] {
				seen[t.UnixNano()] = true
				out = append(out, t)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Advance moves the replay clock to now.
func (f *Feed) Advance(now time.Time) {
	f.mu.Lock()
	f.cursor = now
	f.mu.Unlock()
}

// Now returns the replay clock.
func (f *Feed) Now() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cursor
}

// visible returns the candles of symbol closed at the cursor.
func (f *Feed) visible(symbol string) []model.Candle {
	f.mu.RLock()
	now := f.cursor
	f.mu.RUnlock()

	candles := f.history[symbol]
	n := sort.Search(len(candles), func(i int) bool {
		return !marketdata.Closed(candles[i].OpenTime, f.tf, now)
	})
	return candles[:n]
}

// Replay advances the clock through every cycle time and calls step after
// each advance. speed scales the real gap between cycles: 1 is real time,
// 0 runs as fast as possible. Gaps are capped at 5s.
func (f *Feed) Replay(ctx context.Context, speed float64, step func(now time.Time)) error {
	times := f.Times()
	var prev time.Time
	for i, t := range times {
		if err := ctx.Err(); err != nil {
			log.Printf("[replay] cancelled after %d cycles", i)
			return err
		}
		if speed > 0 && !prev.IsZero() {
			gap := min(time.Duration(float64(t.Sub(prev))/speed), 5*time.Second)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(gap):
			}
		}
		prev = t
		f.Advance(t)
		step(t)
	}
	log.Printf("[replay] completed: %d cycles replayed", len(times))
	return nil
}

// GetCandles returns up to window candles closed at the replay clock.
func (f *Feed) GetCandles(_ context.Context, symbol, timeframe string, window int) ([]model.Candle, error) {
	if timeframe != f.timeframe {
		return nil, fmt.Errorf("replay: history is %s, asked for %s: %w", f.timeframe, timeframe, marketdata.ErrUnknownTimeframe)
	}
	if _, ok := f.history[symbol]; !ok {
		return nil, fmt.Errorf("replay: no history for %s", symbol)
	}
	v := f.visible(symbol)
	if len(v) > window {
		v = v[len(v)-window:]
	}
	out := make([]model.Candle, len(v))
	copy(out, v)
	return out, nil
}

// Last returns the newest candle of symbol closed at the replay clock.
func (f *Feed) Last(symbol string) (model.Candle, bool) {
	v := f.visible(symbol)
	if len(v) == 0 {
		return model.Candle{}, false
	}
	return v[len(v)-1], true
}

func (f *Feed) spec(symbol string) model.InstrumentSpec {
	if s, ok := f.specs[symbol]; ok {
		return s
	}
	return f.deflt
}

// GetCurrentSpread returns the configured spread.
func (f *Feed) GetCurrentSpread(_ context.Context, symbol string) (float64, error) {
	return f.spec(symbol).Spread, nil
}

// GetMinStopDistance returns the configured minimum stop distance.
func (f *Feed) GetMinStopDistance(_ context.Context, symbol string) (float64, error) {
	return f.spec(symbol).MinStopDistance, nil
}
