package redis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"trading-enginev1/internal/circuit"
	"trading-enginev1/internal/model"
)

// tradeWriter is the write side of Publisher.
type tradeWriter interface {
	writeTrade(ctx context.Context, rec model.TradeRecord) error
}

// BufferedPublisher wraps a Publisher with a circuit breaker.
// While the circuit is open, or a write fails, trades are buffered locally
// and replayed when the circuit closes again.
type BufferedPublisher struct {
	writer tradeWriter
	cb     *circuit.Breaker
	ctx    context.Context

	mu     sync.Mutex
	buffer []model.TradeRecord
	maxBuf int // max buffered trades before dropping oldest (default: 10000)

	// Callbacks
	OnBuffer func()          // called when a trade is buffered (for metrics)
	OnFlush  func(count int) // called after flushing buffered trades
}

// NewBufferedPublisher creates a BufferedPublisher around p. ctx bounds the
// background flushes.
func NewBufferedPublisher(ctx context.Context, p *Publisher, cb *circuit.Breaker, maxBufferSize int) *BufferedPublisher {
	return newBuffered(ctx, p, cb, maxBufferSize)
}

func newBuffered(ctx context.Context, w tradeWriter, cb *circuit.Breaker, maxBufferSize int) *BufferedPublisher {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bw := &BufferedPublisher{
		writer: w,
		cb:     cb,
		ctx:    ctx,
		buffer: make([]model.TradeRecord, 0, 64),
		maxBuf: maxBufferSize,
	}

	// Flush on circuit close.
	prevCallback := cb.OnStateChange
	cb.OnStateChange = func(from, to circuit.State) {
		if prevCallback != nil {
			prevCallback(from, to)
		}
		if to == circuit.StateClosed {
			go bw.Flush()
		}
	}
	return bw
}

// RecordTrade implements model.TradeSink. A trade that cannot be written is
// buffered, not lost.
func (bw *BufferedPublisher) RecordTrade(ctx context.Context, rec model.TradeRecord) error {
	err := bw.cb.Execute(func() error {
		return bw.writer.writeTrade(ctx, rec)
	})
	if err == nil {
		return nil
	}
	bw.bufferTrade(rec)
	if errors.Is(err, circuit.ErrOpen) {
		return nil
	}
	return fmt.Errorf("redis: trade %s buffered after write failure: %w", rec.ID, err)
}

func (bw *BufferedPublisher) bufferTrade(rec model.TradeRecord) {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if len(bw.buffer) >= bw.maxBuf {
		// Buffer full, drop oldest.
		bw.buffer = bw.buffer[1:]
	}
	bw.buffer = append(bw.buffer, rec)

	if bw.OnBuffer != nil {
		bw.OnBuffer()
	}
}

// Flush replays buffered trades. Trades that fail again are re-buffered.
func (bw *BufferedPublisher) Flush() {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return
	}
	toFlush := bw.buffer
	bw.buffer = make([]model.TradeRecord, 0, 64)
	bw.mu.Unlock()

	flushed := 0
	for _, rec := range toFlush {
		if err := bw.writer.writeTrade(bw.ctx, rec); err != nil {
			log.Printf("[buffered-publisher] replay of trade %s failed: %v", rec.ID, err)
			bw.bufferTrade(rec)
			continue
		}
		flushed++
	}

	log.Printf("[buffered-publisher] flushed %d buffered trades", flushed)
	if bw.OnFlush != nil {
		bw.OnFlush(flushed)
	}
}

// PendingCount returns the number of buffered trades waiting to be flushed.
func (bw *BufferedPublisher) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}
