// Package sink fans completed trades out to the reporting sinks.
//
// The position manager records a trade synchronously, so FanOut only
// enqueues: each sink is drained by its own goroutine and a slow or failing
// sink never delays a trading cycle.
package sink

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"trading-enginev1/internal/model"
)

// DefaultTimeout bounds a single sink write.
const DefaultTimeout = 5 * time.Second

type output struct {
	name string
	sink model.TradeSink
	ch   chan model.TradeRecord
}

// FanOut broadcasts trades to N sinks. If a sink's queue is full the trade
// is dropped for that sink only.
type FanOut struct {
	mu      sync.RWMutex
	outputs []*output
	bufSize int
	timeout time.Duration
	log     *slog.Logger
	started bool
	closed  bool
	wg      sync.WaitGroup

	// OnDrop is called when a trade is dropped for a sink.
	OnDrop func(name string)
	// OnError is called when a sink write fails.
	OnError func(name string, err error)
}

// New creates a FanOut with per-sink queues of bufSize trades.
func New(bufSize int, timeout time.Duration, log *slog.Logger) *FanOut {
	if bufSize <= 0 {
		bufSize = 256
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &FanOut{bufSize: bufSize, timeout: timeout, log: log.With("component", "sink")}
}

// Add registers a sink. Sinks must be added before Start.
func (f *FanOut) Add(name string, s model.TradeSink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		panic("sink: Add after Start")
	}
	f.outputs = append(f.outputs, &output{name: name, sink: s, ch: make(chan model.TradeRecord, f.bufSize)})
}

// Names returns the registered sink names in order.
func (f *FanOut) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, len(f.outputs))
	for i, o := range f.outputs {
		names[i] = o.name
	}
	return names
}

// Start launches one writer goroutine per sink. Writes use ctx values but
// are not cancelled by it: Close drains the queues.
func (f *FanOut) Start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return
	}
	f.started = true
	base := context.WithoutCancel(ctx)
	for _, o := range f.outputs {
		f.wg.Add(1)
		go f.drain(base, o)
	}
}

func (f *FanOut) drain(ctx context.Context, o *output) {
	defer f.wg.Done()
	for rec := range o.ch {
		wctx, cancel := context.WithTimeout(ctx, f.timeout)
		err := o.sink.RecordTrade(wctx, rec)
		cancel()
		if err == nil {
			continue
		}
		if f.OnError != nil {
			f.OnError(o.name, err)
		}
		f.log.Error("trade sink write failed", "sink", o.name, "trade_id", rec.ID,
			"symbol", rec.Symbol, "strategy", rec.Strategy, "error", err)
	}
}

// RecordTrade implements model.TradeSink. It never blocks and never fails.
func (f *FanOut) RecordTrade(_ context.Context, rec model.TradeRecord) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		f.log.Warn("trade after close dropped", "trade_id", rec.ID)
		return nil
	}
	for _, o := range f.outputs {
		select {
		case o.ch <- rec:
		default:
			if f.OnDrop != nil {
				f.OnDrop(o.name)
			}
			f.log.Warn("sink queue full, dropping trade", "sink", o.name, "trade_id", rec.ID)
		}
	}
	return nil
}

// Close stops accepting trades and waits until every queued trade has been
// written. A FanOut that was never started discards its queues.
func (f *FanOut) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	for _, o := range f.outputs {
		close(o.ch)
	}
	f.mu.Unlock()
	f.wg.Wait()
}

// ChannelStat reports queue saturation for one sink.
type ChannelStat struct {
	Name string
	Len  int
	Cap  int
}

// ChannelStats returns the queue length and capacity of each sink.
func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, o := range f.outputs {
		stats[i] = ChannelStat{Name: o.name, Len: len(o.ch), Cap: cap(o.ch)}
	}
	return stats
}
