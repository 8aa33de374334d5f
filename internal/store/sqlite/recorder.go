package sqlite

import (
	"context"
	"log"
	"sync"
	"time"

	"trading-enginev1/internal/model"
)

// Recorder decorates a model.MarketData and queues every newly seen closed
// candle for the Writer, building the history the replay tool reads.
// Queueing never blocks: candles are dropped when the channel is full.
type Recorder struct {
	model.MarketData
	out chan CandleRow

	mu     sync.Mutex
	last   map[string]time.Time // symbol|timeframe -> newest queued open time
	closed bool

	// OnDrop is called for every candle dropped on a full queue.
	OnDrop func()
}

// NewRecorder wraps md. Queued rows are read from Rows.
func NewRecorder(md model.MarketData, bufSize int) *Recorder {
	if bufSize <= 0 {
		bufSize = 1000
	}
	return &Recorder{
		MarketData: md,
		out:        make(chan CandleRow, bufSize),
		last:       map[string]time.Time{},
	}
}

// Rows returns the channel to hand to Writer.Run.
func (r *Recorder) Rows() <-chan CandleRow { return r.out }

// Resume skips candles at or before the newest stored open time.
func (r *Recorder) Resume(w *Writer, symbol, timeframe string) error {
	t, err := w.GetLastOpenTime(symbol, timeframe)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.last[symbol+"|"+timeframe] = t
	r.mu.Unlock()
	return nil
}

// GetCandles fetches from the wrapped source and queues unseen candles.
func (r *Recorder) GetCandles(ctx context.Context, symbol, timeframe string, window int) ([]model.Candle, error) {
	candles, err := r.MarketData.GetCandles(ctx, symbol, timeframe, window)
	if err != nil {
		return candles, err
	}

	key := symbol + "|" + timeframe
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return candles, nil
	}
	last := r.last[key]
	for _, c := range candles {
		if !c.OpenTime.After(last) {
			continue
		}
		select {
		case r.out <- CandleRow{Symbol: symbol, Timeframe: timeframe, Candle: c}:
			last = c.OpenTime
			continue
		default:
		}
		if r.OnDrop != nil {
			r.OnDrop()
		}
		log.Printf("[sqlite] recorder queue full, %s %s history has a gap", symbol, timeframe)
		last = candles[len(candles)-1].OpenTime
		break
	}
	r.last[key] = last
	return candles, nil
}

// Close stops queueing; Writer.Run returns after draining.
func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.out)
	}
}
