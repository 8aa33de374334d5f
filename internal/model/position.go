package model

import "time"

// PositionStatus is the lifecycle state of a tracked position.
type PositionStatus string

const (
	StatusOpening PositionStatus = "OPENING"
	StatusOpen    PositionStatus = "OPEN"
	StatusClosing PositionStatus = "CLOSING"
	StatusClosed  PositionStatus = "CLOSED"
)

// Position is the engine's record of a broker-acknowledged position.
// At most one active Position exists per (symbol, strategy instance).
type Position struct {
	Symbol          string         `json:"symbol"`
	Strategy        string         `json:"strategy"`
	Direction       Direction      `json:"direction"`
	EntryPrice      float64        `json:"entry_price"`
	Size            float64        `json:"size"`
	StopLossPrice   float64        `json:"stop_loss_price"`
	TakeProfitPrice float64        `json:"take_profit_price"`
	BrokerTicket    string         `json:"broker_ticket"`
	OpenedAt        time.Time      `json:"opened_at"`
	Status          PositionStatus `json:"status"`
}

// Key returns the registry key "symbol|strategy".
func (p *Position) Key() string {
	return PositionKey(p.Symbol, p.Strategy)
}

// PositionKey builds the registry key for a (symbol, strategy) pair.
func PositionKey(symbol, strategy string) string {
	return symbol + "|" + strategy
}

// PnLAt returns the P&L the position would realize if closed at price.
func (p *Position) PnLAt(price float64) float64 {
	return (price - p.EntryPrice) * p.Size * p.Direction.Sign()
}

// StopHit reports whether price has reached the stop-loss level.
// Polarity is derived from the position direction only.
func (p *Position) StopHit(price float64) bool {
	switch p.Direction {
	case Buy:
		return price <= p.StopLossPrice
	case Sell:
		return price >= p.StopLossPrice
	}
	return false
}

// TargetHit reports whether price has reached the take-profit level.
func (p *Position) TargetHit(price float64) bool {
	switch p.Direction {
	case Buy:
		return price >= p.TakeProfitPrice
	case Sell:
		return price <= p.TakeProfitPrice
	}
	return false
}

// CooldownTimer blocks re-entry for Duration after the last trade.
type CooldownTimer struct {
	LastTradeTime time.Time     `json:"last_trade_time"`
	Duration      time.Duration `json:"cooldown_duration"`
}

// Start records a trade at now.
func (c *CooldownTimer) Start(now time.Time) {
	c.LastTradeTime = now
}

// Active reports whether the cooldown is still in effect at now.
func (c *CooldownTimer) Active(now time.Time) bool {
	if c.LastTradeTime.IsZero() || c.Duration <= 0 {
		return false
	}
	return now.Sub(c.LastTradeTime) < c.Duration
}

// Remaining returns the time left before entries are allowed again.
func (c *CooldownTimer) Remaining(now time.Time) time.Duration {
	if !c.Active(now) {
		return 0
	}
	return c.Duration - now.Sub(c.LastTradeTime)
}

// TradeRecord is emitted to the reporting sink for every completed trade.
type TradeRecord struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Symbol      string    `json:"symbol"`
	Direction   Direction `json:"direction"`
	EntryPrice  float64   `json:"entry_price"`
	ExitPrice   float64   `json:"exit_price"`
	Size        float64   `json:"size"`
	RealizedPnL float64   `json:"realized_pnl"`
	Strategy    string    `json:"strategy"`
	ExitReason  string    `json:"exit_reason"`
	OpenedAt    time.Time `json:"opened_at"`
}
