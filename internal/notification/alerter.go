package notification

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"trading-enginev1/internal/circuit"
	"trading-enginev1/internal/orchestrator"
	"trading-enginev1/internal/position"
)

const (
	DefaultRejectThreshold = 3
	defaultQueueSize       = 64
	sendTimeout            = 10 * time.Second
)

// Alerter turns loop reports and circuit breaker transitions into alerts.
// Alerts are queued and delivered by Run; a full queue drops the alert so
// callers never block.
type Alerter struct {
	notifier        Notifier
	rejectThreshold int
	queue           chan Alert
	now             func() time.Time

	mu      sync.Mutex
	rejects map[string]int // consecutive broker failures per loop

	// OnDrop is called when an alert is dropped because the queue is full.
	OnDrop func(alert Alert)
}

// NewAlerter creates an Alerter. rejectThreshold is the number of
// consecutive rejected or failed broker calls on one loop that raise an
// alert; values below 1 use DefaultRejectThreshold.
func NewAlerter(n Notifier, rejectThreshold int) *Alerter {
	if rejectThreshold < 1 {
		rejectThreshold = DefaultRejectThreshold
	}
	return &Alerter{
		notifier:        n,
		rejectThreshold: rejectThreshold,
		queue:           make(chan Alert, defaultQueueSize),
		now:             time.Now,
		rejects:         map[string]int{},
	}
}

// ObserveCycle raises alerts for closed trades and repeated rejections.
func (a *Alerter) ObserveCycle(rep orchestrator.CycleReport) {
	if rep.Trade != nil {
		t := rep.Trade
		level := AlertInfo
		if t.RealizedPnL < 0 {
			level = AlertWarning
		}
		a.enqueue(Alert{
			Level:    level,
			Title:    "Trade closed",
			Message:  fmt.Sprintf("%s %.6g @ %.6g → %.6g, P&L %.2f (%s)", t.Direction, t.Size, t.EntryPrice, t.ExitPrice, t.RealizedPnL, t.ExitReason),
			Symbol:   rep.Symbol,
			Strategy: rep.Strategy,
			Time:     rep.Cycle,
		})
	}

	key := rep.Key()
	switch rep.Action {
	case position.ActionOpenRejected, position.ActionCloseFailed:
		a.mu.Lock()
		a.rejects[key]++
		n := a.rejects[key]
		a.mu.Unlock()
		if n == a.rejectThreshold {
			a.enqueue(Alert{
				Level:    AlertWarning,
				Title:    "Broker rejecting orders",
				Message:  fmt.Sprintf("%d consecutive broker failures, last: %s", n, rep.Reason),
				Symbol:   rep.Symbol,
				Strategy: rep.Strategy,
				Time:     rep.Cycle,
			})
		}
	case position.ActionOpened, position.ActionClosed, position.ActionAdopted:
		a.mu.Lock()
		delete(a.rejects, key)
		a.mu.Unlock()
	}
}

// CircuitChanged returns a circuit.Breaker OnStateChange hook for the named
// dependency. It only enqueues, so it is safe under the breaker's lock.
func (a *Alerter) CircuitChanged(name string) func(from, to circuit.State) {
	return func(from, to circuit.State) {
		switch to {
		case circuit.StateOpen:
			a.enqueue(Alert{
				Level:   AlertCritical,
				Title:   name + " circuit breaker open",
				Message: fmt.Sprintf("%s calls are failing fast (was %s); new entries are blocked", name, from),
				Time:    a.now(),
			})
		case circuit.StateClosed:
			if from != circuit.StateClosed {
				a.enqueue(Alert{
					Level:   AlertInfo,
					Title:   name + " circuit breaker closed",
					Message: name + " recovered",
					Time:    a.now(),
				})
			}
		}
	}
}

func (a *Alerter) enqueue(alert Alert) {
	select {
	case a.queue <- alert:
	default:
		log.Printf("[notify] queue full, dropping alert %q", alert.Title)
		if a.OnDrop != nil {
			a.OnDrop(alert)
		}
	}
}

// Run delivers queued alerts until ctx is cancelled, then flushes what is
// still queued.
func (a *Alerter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case alert := <-a.queue:
					a.deliver(ctx, alert)
				default:
					return
				}
			}
		case alert := <-a.queue:
			a.deliver(ctx, alert)
		}
	}
}

func (a *Alerter) deliver(ctx context.Context, alert Alert) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()
	if err := a.notifier.Send(sendCtx, alert); err != nil {
		log.Printf("[notify] delivery of %q failed: %v", alert.Title, err)
	}
}
