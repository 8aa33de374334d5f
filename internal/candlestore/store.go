// Package candlestore keeps a bounded, time-ordered candle history per
// (symbol, timeframe) series.
//
// The store is fed by the market-data collaborator once per cycle. Candles
// are accepted only in strictly increasing OpenTime order, so re-fetching an
// overlapping window is idempotent. Capacity is the largest lookback any
// indicator needs plus a margin; older candles are evicted first.
package candlestore

import (
	"sync"
	"time"

	"trading-enginev1/internal/marketdata"
	"trading-enginev1/internal/model"
	"trading-enginev1/internal/ringbuf"
)

// DefaultMargin is added on top of the required lookback when sizing rings.
const DefaultMargin = 50

type seriesKey struct {
	symbol    string
	timeframe string
}

type series struct {
	ring *ringbuf.Ring
	tf   time.Duration // zero when the timeframe is not a known interval
}

// closeTime is when the newest candle closed; the open time stands in when
// the timeframe is unknown.
func (s *series) closeTime() (time.Time, model.Candle, bool) {
	c, ok := s.ring.Last()
	if !ok {
		return time.Time{}, c, false
	}
	return c.OpenTime.Add(s.tf), c, true
}

// Store holds one ring buffer per (symbol, timeframe).
type Store struct {
	mu       sync.RWMutex
	capacity int
	series   map[seriesKey]*series
}

// New creates a store whose rings hold lookback+margin candles.
func New(lookback, margin int) *Store {
	if margin < 0 {
		margin = 0
	}
	return &Store{
		capacity: lookback + margin,
		series:   make(map[seriesKey]*series, 8),
	}
}

// Capacity returns the per-series candle capacity.
func (s *Store) Capacity() int {
	return s.capacity
}

// Append adds candles to the symbol/timeframe series, skipping any that are
// not newer than the last stored candle. Returns the number of candles
// appended and evicted.
func (s *Store) Append(symbol, timeframe string, candles []model.Candle) (appended, evicted int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := seriesKey{symbol, timeframe}
	sr, ok := s.series[k]
	if !ok {
		tf, _ := marketdata.ParseTimeframe(timeframe)
		sr = &series{ring: ringbuf.New(s.capacity), tf: tf}
		s.series[k] = sr
	}

	last, hasLast := sr.ring.Last()
	for _, c := range candles {
		if hasLast && !c.OpenTime.After(last.OpenTime) {
			continue
		}
		if sr.ring.Append(c) {
			evicted++
		}
		appended++
		last, hasLast = c, true
	}
	return appended, evicted
}

// Window returns a copy of the newest n candles of the series, oldest
// first. n <= 0 returns the whole history.
func (s *Store) Window(symbol, timeframe string, n int) []model.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sr, ok := s.series[seriesKey{symbol, timeframe}]
	if !ok {
		return nil
	}
	return sr.ring.Window(n)
}

// LastOf returns the newest candle of the series.
func (s *Store) LastOf(symbol, timeframe string) (model.Candle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sr, ok := s.series[seriesKey{symbol, timeframe}]
	if !ok {
		return model.Candle{}, false
	}
	return sr.ring.Last()
}

// Last returns the most recently closed candle of symbol across all its
// timeframes. It makes the store a price source for the paper broker.
func (s *Store) Last(symbol string) (model.Candle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		best     model.Candle
		bestTime time.Time
		found    bool
	)
	for k, sr := range s.series {
		if k.symbol != symbol {
			continue
		}
		at, c, ok := sr.closeTime()
		if !ok {
			continue
		}
		if !found || at.After(bestTime) {
			best, bestTime, found = c, at, true
		}
	}
	return best, found
}

// Len returns the number of candles stored in the series.
func (s *Store) Len(symbol, timeframe string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sr, ok := s.series[seriesKey{symbol, timeframe}]; ok {
		return sr.ring.Len()
	}
	return 0
}

// Reset drops the history of the series.
func (s *Store) Reset(symbol, timeframe string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.series, seriesKey{symbol, timeframe})
}
