// Package orchestrator runs the per-(symbol, strategy) control loop:
// fetch candles → update history → compute indicators → evaluate the
// strategy → enter or supervise the position.
//
// Each Loop is driven by a tick channel and owned by a single goroutine.
// The Scheduler owns one ticker per loop and fans cycle reports in.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"trading-enginev1/internal/candlestore"
	"trading-enginev1/internal/indicator"
	"trading-enginev1/internal/logger"
	"trading-enginev1/internal/model"
	"trading-enginev1/internal/position"
	"trading-enginev1/internal/strategy"
)

// Outcome classifies what a cycle did.
type Outcome string

const (
	OutcomeDataError        Outcome = "data_error"        // candle fetch failed after retries
	OutcomeInsufficientData Outcome = "insufficient_data" // history shorter than the lookback
	OutcomeHold             Outcome = "hold"              // flat, strategy returned HOLD
	OutcomeFiltered         Outcome = "filtered"          // flat, signal below min confidence
	OutcomeEntry            Outcome = "entry"             // flat, entry attempted
	OutcomeManage           Outcome = "manage"            // position active, supervised
)

// CycleReport summarizes one loop iteration.
type CycleReport struct {
	Symbol   string
	Strategy string
	Cycle    time.Time
	TraceID  string
	Outcome  Outcome
	Signal   model.Signal
	Action   position.Action // position manager action, empty when not consulted
	Reason   string
	Price    float64
	Trade    *model.TradeRecord
	Err      error
	Duration time.Duration
}

// Key returns "symbol:strategy".
func (r CycleReport) Key() string { return r.Symbol + ":" + r.Strategy }

// LoopConfig holds per-loop settings.
type LoopConfig struct {
	Symbol        string
	Timeframe     string
	PollInterval  time.Duration
	MinConfidence float64 // signals with Strength below this are ignored
}

// Loop is one (symbol, strategy) trading loop.
type Loop struct {
	cfg      LoopConfig
	market   model.MarketData
	store    *candlestore.Store
	engine   *indicator.Engine
	strat    strategy.Strategy
	mgr      *position.Manager
	log      *slog.Logger
	lookback int
}

// LoopDeps carries the collaborators of a Loop. Store is optional: loops
// may share one candle store (and hand it to a paper broker as its price
// source) as long as its capacity covers every loop's lookback. Each loop
// reads and writes only its own (symbol, timeframe) series.
type LoopDeps struct {
	Market   model.MarketData
	Strategy strategy.Strategy
	Manager  *position.Manager
	Store    *candlestore.Store
	Logger   *slog.Logger
}

// NewLoop wires a loop. The indicator engine is built from the strategy's
// indicator set and the candle store is sized from the larger lookback.
func NewLoop(cfg LoopConfig, deps LoopDeps) (*Loop, error) {
	if cfg.Symbol == "" {
		return nil, errors.New("orchestrator: symbol is required")
	}
	if deps.Market == nil || deps.Strategy == nil || deps.Manager == nil {
		return nil, errors.New("orchestrator: market data, strategy and position manager are required")
	}
	if cfg.MinConfidence < 0 || cfg.MinConfidence > 100 {
		return nil, fmt.Errorf("orchestrator: min_confidence %.2f outside [0,100]", cfg.MinConfidence)
	}
	strat := deps.Strategy
	engine, err := indicator.NewEngine(strat.Indicators())
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %s: %w", strat.Name(), err)
	}
	lookback := max(strat.Lookback(), engine.Lookback())

	store := deps.Store
	if store == nil {
		store = candlestore.New(lookback, candlestore.DefaultMargin)
	} else if store.Capacity() < lookback {
		return nil, fmt.Errorf("orchestrator: shared candle store holds %d candles, %s needs %d", store.Capacity(), strat.Name(), lookback)
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Loop{
		cfg:      cfg,
		market:   deps.Market,
		store:    store,
		engine:   engine,
		strat:    strat,
		mgr:      deps.Manager,
		log:      log.With("symbol", cfg.Symbol, "strategy", strat.Name()),
		lookback: lookback,
	}, nil
}

// Config returns the loop settings.
func (l *Loop) Config() LoopConfig { return l.cfg }

// Key returns "symbol:strategy".
func (l *Loop) Key() string { return l.cfg.Symbol + ":" + l.strat.Name() }

// Manager returns the loop's position manager.
func (l *Loop) Manager() *position.Manager { return l.mgr }

// Lookback returns the number of candles requested per cycle.
func (l *Loop) Lookback() int { return l.lookback }

// newBackOff bounds fetch retries well inside one poll interval so a
// retried cycle never overlaps the next tick.
func (l *Loop) newBackOff() backoff.BackOff {
	if l.cfg.PollInterval <= 0 {
		return &backoff.StopBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = min(500*time.Millisecond, l.cfg.PollInterval/10)
	b.MaxInterval = l.cfg.PollInterval / 4
	b.MaxElapsedTime = l.cfg.PollInterval / 2
	b.Reset()
	return b
}

func (l *Loop) fetch(ctx context.Context, now time.Time) ([]model.Candle, error) {
	var candles []model.Candle
	op := func() error {
		c, err := l.market.GetCandles(ctx, l.cfg.Symbol, l.cfg.Timeframe, l.lookback)
		if err != nil {
			return err
		}
		candles = c
		return nil
	}
	notify := func(err error, wait time.Duration) {
		l.log.Warn("candle fetch failed, retrying", append(logger.LogWithTrace(ctx),
			"action", "fetch", "cycle", now, "retry_in", wait, "error", err)...)
	}
	if err := backoff.RetryNotify(op, l.newBackOff(), notify); err != nil {
		return nil, err
	}
	return candles, nil
}

// Step runs one cycle at now.
func (l *Loop) Step(ctx context.Context, now time.Time) CycleReport {
	start := time.Now()
	rep := CycleReport{
		Symbol:   l.cfg.Symbol,
		Strategy: l.strat.Name(),
		Cycle:    now,
		TraceID:  logger.GenerateTraceID(l.Key(), now),
	}
	ctx = logger.WithTraceID(ctx, rep.TraceID)

	l.step(ctx, now, &rep)
	rep.Duration = time.Since(start)
	return rep
}

func (l *Loop) step(ctx context.Context, now time.Time, rep *CycleReport) {
	trace := logger.LogWithTrace(ctx)

	candles, err := l.fetch(ctx, now)
	if err != nil {
		rep.Outcome, rep.Err = OutcomeDataError, err
		rep.Reason = "candle fetch failed"
		l.log.Error("cycle skipped", append(trace, "action", "fetch", "cycle", now, "error", err)...)
		return
	}
	l.store.Append(l.cfg.Symbol, l.cfg.Timeframe, candles)
	window := l.store.Window(l.cfg.Symbol, l.cfg.Timeframe, l.lookback)
	if last, ok := l.store.LastOf(l.cfg.Symbol, l.cfg.Timeframe); ok {
		rep.Price = last.Close
	}

	snap, err := l.engine.Compute(window)
	if err == nil && len(window) < l.strat.Lookback() {
		err = fmt.Errorf("%w: have %d candles, strategy needs %d", indicator.ErrInsufficientData, len(window), l.strat.Lookback())
	}
	if err != nil {
		rep.Outcome, rep.Err = OutcomeInsufficientData, err
		rep.Reason = err.Error()
		l.log.Debug("cycle skipped", append(trace, "action", "compute", "cycle", now, "error", err)...)
		if !l.mgr.Flat() && rep.Price > 0 {
			// Protective levels are still enforced without indicators.
			l.apply(rep, l.mgr.Supervise(ctx, rep.Price, nil, now))
		}
		return
	}

	sig := l.strat.Evaluate(snap, window)
	if sig.ReferencePrice <= 0 {
		sig.ReferencePrice = rep.Price
	}
	rep.Signal = sig

	if !l.mgr.Flat() {
		var exit position.ExitFunc
		if ex, ok := l.strat.(strategy.Exiter); ok {
			exit = func(pos model.Position) (bool, string) { return ex.ShouldExit(pos, snap, window) }
		}
		rep.Outcome = OutcomeManage
		l.apply(rep, l.mgr.Supervise(ctx, rep.Price, exit, now))
		return
	}

	switch {
	case !sig.IsTrade():
		rep.Outcome, rep.Reason = OutcomeHold, sig.Reason
		l.log.Debug("hold", append(trace, "action", "evaluate", "cycle", now, "reason", sig.Reason)...)
	case sig.Strength < l.cfg.MinConfidence:
		rep.Outcome = OutcomeFiltered
		rep.Reason = fmt.Sprintf("strength %.1f below min confidence %.1f", sig.Strength, l.cfg.MinConfidence)
		l.log.Info("signal filtered", append(trace, "action", "evaluate", "cycle", now,
			"direction", sig.Direction, "strength", sig.Strength)...)
	default:
		rep.Outcome = OutcomeEntry
		l.log.Info("signal", append(trace, "action", "evaluate", "cycle", now,
			"direction", sig.Direction, "strength", sig.Strength, "reason", sig.Reason)...)
		l.apply(rep, l.mgr.TryEnter(ctx, sig, now))
	}
}

func (l *Loop) apply(rep *CycleReport, o position.Outcome) {
	rep.Action = o.Action
	rep.Reason = o.Reason
	rep.Trade = o.Trade
	if o.Err != nil {
		rep.Err = o.Err
	}
}

// Run executes one Step per tick until ctx is cancelled or ticks closes.
// Steps run on a context detached from ctx so an in-flight iteration
// finishes its broker calls on shutdown. Reports are sent to reports when
// it is non-nil.
func (l *Loop) Run(ctx context.Context, ticks <-chan time.Time, reports chan<- CycleReport) {
	l.log.Info("loop started", "timeframe", l.cfg.Timeframe, "poll_interval", l.cfg.PollInterval, "lookback", l.lookback)
	defer l.log.Info("loop stopped")

	stepCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case now, ok := <-ticks:
			if !ok {
				return
			}
			rep := l.Step(stepCtx, now.UTC())
			if reports == nil {
				continue
			}
			select {
			case reports <- rep:
			case <-ctx.Done():
				return
			}
		}
	}
}
