package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// TickerFunc starts a ticker with period d and returns its channel and a
// stop function.
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Scheduler runs a set of loops concurrently, one goroutine and one ticker
// per loop.
type Scheduler struct {
	loops  []*Loop
	ticker TickerFunc
	log    *slog.Logger
}

// NewScheduler creates a scheduler for loops.
func NewScheduler(log *slog.Logger, loops ...*Loop) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{loops: loops, ticker: realTicker, log: log}
}

// WithTicker replaces the tick source, for tests and replays.
func (s *Scheduler) WithTicker(fn TickerFunc) *Scheduler {
	s.ticker = fn
	return s
}

// Loops returns the scheduled loops.
func (s *Scheduler) Loops() []*Loop { return s.loops }

// Run starts every loop and blocks until ctx is cancelled and each loop has
// finished its in-flight iteration. Every loop runs a first cycle
// immediately. Reports from all loops are fanned into reports, which may be
// nil.
func (s *Scheduler) Run(ctx context.Context, reports chan<- CycleReport) {
	var wg sync.WaitGroup
	for _, l := range s.loops {
		wg.Add(1)
		go func(l *Loop) {
			defer wg.Done()
			l.Run(ctx, s.ticks(ctx, l.cfg.PollInterval), reports)
		}(l)
	}
	s.log.Info("scheduler started", "loops", len(s.loops))
	wg.Wait()
	s.log.Info("scheduler stopped")
}

// ticks forwards ticker events after an immediate first tick. A tick that
// arrives while the previous cycle is still running is dropped.
func (s *Scheduler) ticks(ctx context.Context, d time.Duration) <-chan time.Time {
	out := make(chan time.Time, 1)
	out <- time.Now()
	if d <= 0 {
		return out
	}
	src, stop := s.ticker(d)
	go func() {
		defer stop()
		for {
			select {
			case <-ctx.Done():
				return
			case t, ok := <-src:
				if !ok {
					return
				}
				select {
				case out <- t:
				default:
				}
			}
		}
	}()
	return out
}
