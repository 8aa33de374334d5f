// Package position drives the lifecycle of one position per (symbol,
// strategy) pair: Flat → Opening → Open → Closing → Flat.
//
// A Manager performs at most one state transition per call and is owned by a
// single loop goroutine, so it needs no locking of its own. Shared state
// (balance, daily loss, position registry) lives in the portfolio package.
package position

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"trading-enginev1/internal/model"
	"trading-enginev1/internal/portfolio"
)

// DefaultMaxPendingChecks bounds how many reconciliation polls a pending
// open may miss before the manager abandons it.
const DefaultMaxPendingChecks = 5

// Exit reasons recorded on trade records.
const (
	ExitStopLoss   = "stop_loss"
	ExitTakeProfit = "take_profit"
	ExitStrategy   = "strategy"
)

// Action describes what a Manager call did.
type Action string

const (
	ActionNone         Action = "none"          // nothing to do
	ActionBlocked      Action = "blocked"       // risk manager refused the entry
	ActionCooldown     Action = "cooldown"      // re-entry suppressed after a recent trade
	ActionOpened       Action = "opened"        // Flat → Open
	ActionOpenPending  Action = "open_pending"  // Flat → Opening
	ActionOpenRejected Action = "open_rejected" // Flat → Flat, broker refused
	ActionAdopted      Action = "adopted"       // Opening → Open after reconciliation
	ActionAbandoned    Action = "abandoned"     // Opening → Flat after too many misses
	ActionHeld         Action = "held"          // Open, no exit condition
	ActionClosed       Action = "closed"        // Open/Closing → Flat
	ActionClosePending Action = "close_pending" // Open → Closing, or still Closing
	ActionCloseFailed  Action = "close_failed"  // Closing → Open, retried next cycle
)

// Outcome is the result of one Manager call.
type Outcome struct {
	Action   Action
	Reason   string
	Position *model.Position    // copy of the position after the call, nil when flat
	Trade    *model.TradeRecord // set when a position was closed
	Err      error
}

// Config identifies the managed pair and its timing parameters.
type Config struct {
	Symbol           string
	Strategy         string
	Cooldown         time.Duration
	MaxPendingChecks int
}

// Manager owns the position of one (symbol, strategy) pair.
type Manager struct {
	cfg      Config
	risk     *portfolio.RiskManager
	broker   model.Broker
	market   model.MarketData
	sink     model.TradeSink
	registry *portfolio.Portfolio
	log      *slog.Logger

	pos        *model.Position
	cooldown   model.CooldownTimer
	misses     int
	exitReason string
	lastError  error
}

// Deps carries the collaborators of a Manager. Sink and Registry are optional.
type Deps struct {
	Risk     *portfolio.RiskManager
	Broker   model.Broker
	Market   model.MarketData
	Sink     model.TradeSink
	Registry *portfolio.Portfolio
	Logger   *slog.Logger
}

// NewManager creates a flat manager.
func NewManager(cfg Config, deps Deps) (*Manager, error) {
	if cfg.Symbol == "" || cfg.Strategy == "" {
		return nil, fmt.Errorf("position: symbol and strategy are required")
	}
	if deps.Risk == nil || deps.Broker == nil || deps.Market == nil {
		return nil, fmt.Errorf("position: risk manager, broker and market data are required")
	}
	if cfg.MaxPendingChecks <= 0 {
		cfg.MaxPendingChecks = DefaultMaxPendingChecks
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		risk:     deps.Risk,
		broker:   deps.Broker,
		market:   deps.Market,
		sink:     deps.Sink,
		registry: deps.Registry,
		log:      log.With("symbol", cfg.Symbol, "strategy", cfg.Strategy),
		cooldown: model.CooldownTimer{Duration: cfg.Cooldown},
	}, nil
}

// Status returns the lifecycle state. A flat manager reports StatusClosed.
func (m *Manager) Status() model.PositionStatus {
	if m.pos == nil {
		return model.StatusClosed
	}
	return m.pos.Status
}

// Position returns a copy of the active position.
func (m *Manager) Position() (model.Position, bool) {
	if m.pos == nil {
		return model.Position{}, false
	}
	return *m.pos, true
}

// Flat reports whether no position is active.
func (m *Manager) Flat() bool { return m.pos == nil }

// LastError returns the most recent broker failure, if any.
func (m *Manager) LastError() error { return m.lastError }

// Cooldown returns the re-entry cooldown timer.
func (m *Manager) Cooldown() model.CooldownTimer { return m.cooldown }

func (m *Manager) outcome(a Action, format string, args ...any) Outcome {
	o := Outcome{Action: a, Reason: fmt.Sprintf(format, args...)}
	if m.pos != nil {
		cp := *m.pos
		o.Position = &cp
	}
	return o
}

func (m *Manager) register() {
	if m.registry != nil && m.pos != nil {
		m.registry.Put(*m.pos)
	}
}

func (m *Manager) unregister() {
	if m.registry != nil {
		m.registry.Remove(model.PositionKey(m.cfg.Symbol, m.cfg.Strategy))
	}
}

// TryEnter opens a position for a trade signal when the manager is flat,
// the risk manager allows it and no cooldown is active.
func (m *Manager) TryEnter(ctx context.Context, sig model.Signal, now time.Time) Outcome {
	if m.pos != nil {
		return m.outcome(ActionNone, "position %s", m.pos.Status)
	}
	if !sig.IsTrade() {
		return m.outcome(ActionNone, "hold")
	}
	if ok, reason := m.risk.CanOpenTrade(); !ok {
		m.log.Info("entry blocked", "action", "enter", "reason", reason, "cycle", now)
		return m.outcome(ActionBlocked, "%s", reason)
	}
	if m.cooldown.Active(now) {
		return m.outcome(ActionCooldown, "cooldown %s remaining", m.cooldown.Remaining(now).Round(time.Second))
	}
	entry := sig.ReferencePrice
	if entry <= 0 || math.IsNaN(entry) {
		return m.outcome(ActionNone, "signal without reference price")
	}

	sl, tp := m.levels(ctx, entry, sig)
	size := m.risk.PositionSize(math.Abs(entry - sl))
	if ls, ok := m.broker.(model.LotSizer); ok {
		size = m.risk.RoundToLot(size, ls.LotStep(m.cfg.Symbol))
	}

	m.pos = &model.Position{
		Symbol:          m.cfg.Symbol,
		Strategy:        m.cfg.Strategy,
		Direction:       sig.Direction,
		EntryPrice:      entry,
		Size:            size,
		StopLossPrice:   sl,
		TakeProfitPrice: tp,
		OpenedAt:        now,
		Status:          model.StatusOpening,
	}
	if m.registry != nil {
		limit := m.risk.Params().MaxOpenPositions
		if !m.registry.Reserve(*m.pos, limit) {
			m.pos = nil
			reason := fmt.Sprintf("open position limit %d reached", limit)
			m.log.Info("entry blocked", "action", "enter", "reason", reason, "cycle", now)
			return m.outcome(ActionBlocked, "%s", reason)
		}
	}

	res := m.broker.SubmitOrder(ctx, model.OrderRequest{
		Symbol:     m.cfg.Symbol,
		Side:       sig.Direction,
		Size:       size,
		Price:      entry,
		StopLoss:   sl,
		TakeProfit: tp,
		Strategy:   m.cfg.Strategy,
	})

	switch res.Status {
	case model.OrderFilled:
		m.pos.BrokerTicket = res.Ticket
		if res.FillPrice > 0 {
			m.pos.EntryPrice = res.FillPrice
		}
		m.pos.Status = model.StatusOpen
		m.register()
		m.lastError = nil
		m.log.Info("position opened", "action", "enter", "direction", sig.Direction,
			"entry", m.pos.EntryPrice, "size", size, "sl", sl, "tp", tp, "ticket", res.Ticket, "cycle", now)
		return m.outcome(ActionOpened, "%s", sig.Reason)

	case model.OrderPending:
		m.pos.BrokerTicket = res.Ticket
		m.misses = 0
		m.register()
		m.log.Info("entry pending confirmation", "action", "enter", "ticket", res.Ticket, "cycle", now)
		return m.outcome(ActionOpenPending, "awaiting confirmation of %s", res.Ticket)
	}

	m.pos = nil
	m.unregister()
	m.lastError = res.Err
	m.log.Warn("entry rejected", "action", "enter", "direction", sig.Direction, "error", res.Err, "cycle", now)
	o := m.outcome(ActionOpenRejected, "%v", res.Err)
	o.Err = res.Err
	return o
}

// levels computes protective levels: risk fractions first, an optional
// signal target for take-profit, widening to the broker's minimum distance
// plus spread, then tick normalization.
func (m *Manager) levels(ctx context.Context, entry float64, sig model.Signal) (sl, tp float64) {
	dir := sig.Direction
	sl, tp = m.risk.Levels(entry, dir)

	if t := sig.TargetPrice; t > 0 && (t-entry)*dir.Sign() > 0 {
		tp = t
	}

	minStop, err := m.market.GetMinStopDistance(ctx, m.cfg.Symbol)
	if err != nil {
		m.log.Warn("min stop distance unavailable", "error", err)
		minStop = 0
	}
	spread, err := m.market.GetCurrentSpread(ctx, m.cfg.Symbol)
	if err != nil {
		m.log.Warn("spread unavailable", "error", err)
		spread = 0
	}
	if floor := minStop + spread; floor > 0 {
		if math.Abs(entry-sl) < floor {
			sl = entry - floor*dir.Sign()
		}
		if math.Abs(tp-entry) < floor {
			tp = entry + floor*dir.Sign()
		}
	}

	return m.broker.NormalizePrice(sl, m.cfg.Symbol), m.broker.NormalizePrice(tp, m.cfg.Symbol)
}

// ExitFunc is a strategy-driven exit check.
type ExitFunc func(pos model.Position) (bool, string)

// Supervise advances an active position by at most one transition: it
// reconciles pending opens and closes, or checks exit conditions of an open
// position at price.
func (m *Manager) Supervise(ctx context.Context, price float64, exit ExitFunc, now time.Time) Outcome {
	if m.pos == nil {
		return m.outcome(ActionNone, "flat")
	}
	if m.registry != nil && price > 0 {
		m.registry.UpdatePrice(m.cfg.Symbol, price)
	}

	switch m.pos.Status {
	case model.StatusOpening:
		return m.reconcileOpen(ctx, now)
	case model.StatusClosing:
		return m.reconcileClose(ctx, price, now)
	}

	reason := ""
	switch {
	case m.pos.StopHit(price):
		reason = ExitStopLoss
	case m.pos.TargetHit(price):
		reason = ExitTakeProfit
	case exit != nil:
		if ok, why := exit(*m.pos); ok {
			reason = ExitStrategy + ": " + why
		}
	}
	if reason == "" {
		return m.outcome(ActionHeld, "pnl %.4f", m.pos.PnLAt(price))
	}
	return m.close(ctx, price, reason, now)
}

func (m *Manager) close(ctx context.Context, price float64, reason string, now time.Time) Outcome {
	m.pos.Status = model.StatusClosing
	m.exitReason = reason
	m.register()

	res := m.broker.ClosePosition(ctx, m.pos.BrokerTicket)
	switch res.Status {
	case model.OrderFilled:
		exit := price
		if res.FillPrice > 0 {
			exit = res.FillPrice
		}
		return m.finalize(ctx, exit, now)

	case model.OrderPending:
		m.misses = 0
		m.log.Info("close pending confirmation", "action", "exit", "reason", reason,
			"ticket", m.pos.BrokerTicket, "cycle", now)
		return m.outcome(ActionClosePending, "%s", reason)
	}

	m.pos.Status = model.StatusOpen
	m.register()
	m.lastError = res.Err
	m.log.Warn("close failed, will retry", "action", "exit", "reason", reason,
		"ticket", m.pos.BrokerTicket, "error", res.Err, "cycle", now)
	o := m.outcome(ActionCloseFailed, "%s: %v", reason, res.Err)
	o.Err = res.Err
	return o
}

func (m *Manager) brokerHolds(ctx context.Context) (model.BrokerPosition, bool, error) {
	open, err := m.broker.GetOpenPositions(ctx, m.cfg.Symbol)
	if err != nil {
		return model.BrokerPosition{}, false, err
	}
	for _, bp := range open {
		if bp.Ticket == m.pos.BrokerTicket {
			return bp, true, nil
		}
	}
	return model.BrokerPosition{}, false, nil
}

func (m *Manager) reconcileOpen(ctx context.Context, now time.Time) Outcome {
	bp, ok, err := m.brokerHolds(ctx)
	if err != nil {
		m.log.Warn("reconcile open failed", "action", "reconcile", "error", err, "cycle", now)
		return m.outcome(ActionNone, "reconcile: %v", err)
	}
	if ok {
		if bp.EntryPrice > 0 {
			m.pos.EntryPrice = bp.EntryPrice
		}
		m.pos.Status = model.StatusOpen
		m.register()
		m.log.Info("pending entry confirmed", "action", "reconcile", "ticket", bp.Ticket, "cycle", now)
		return m.outcome(ActionAdopted, "confirmed %s", bp.Ticket)
	}

	m.misses++
	if m.misses < m.cfg.MaxPendingChecks {
		return m.outcome(ActionNone, "pending entry not visible (%d/%d)", m.misses, m.cfg.MaxPendingChecks)
	}
	ticket := m.pos.BrokerTicket
	m.pos = nil
	m.unregister()
	m.log.Warn("pending entry abandoned", "action", "reconcile", "ticket", ticket, "misses", m.misses, "cycle", now)
	return m.outcome(ActionAbandoned, "ticket %s never confirmed", ticket)
}

// reconcileClose confirms a pending close. No second close order is sent:
// the position stays Closing until the broker stops listing it.
func (m *Manager) reconcileClose(ctx context.Context, price float64, now time.Time) Outcome {
	_, stillOpen, err := m.brokerHolds(ctx)
	if err != nil {
		m.log.Warn("reconcile close failed", "action", "reconcile", "error", err, "cycle", now)
		return m.outcome(ActionClosePending, "reconcile: %v", err)
	}
	if stillOpen {
		m.misses++
		if m.misses >= m.cfg.MaxPendingChecks {
			m.log.Warn("close still unconfirmed", "action", "reconcile",
				"ticket", m.pos.BrokerTicket, "checks", m.misses, "cycle", now)
		}
		return m.outcome(ActionClosePending, "%s", m.exitReason)
	}
	return m.finalize(ctx, price, now)
}

func (m *Manager) finalize(ctx context.Context, exit float64, now time.Time) Outcome {
	pos := *m.pos
	pnl := pos.PnLAt(exit)

	m.risk.UpdateBalance(pnl)
	m.cooldown.Start(now)

	rec := model.TradeRecord{
		ID:          uuid.NewString(),
		Timestamp:   now,
		Symbol:      pos.Symbol,
		Direction:   pos.Direction,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exit,
		Size:        pos.Size,
		RealizedPnL: pnl,
		Strategy:    pos.Strategy,
		ExitReason:  m.exitReason,
		OpenedAt:    pos.OpenedAt,
	}
	if m.sink != nil {
		if err := m.sink.RecordTrade(ctx, rec); err != nil {
			m.log.Error("trade sink failed", "action", "record", "trade_id", rec.ID, "error", err)
		}
	}

	m.pos = nil
	m.exitReason = ""
	m.lastError = nil
	m.unregister()

	m.log.Info("position closed", "action", "exit", "reason", rec.ExitReason,
		"entry", rec.EntryPrice, "exit", exit, "pnl", pnl, "cycle", now)

	o := m.outcome(ActionClosed, "%s", rec.ExitReason)
	o.Trade = &rec
	return o
}
