package portfolio

import (
	"context"
	"sync"

	"trading-enginev1/internal/model"
)

// maxTrades bounds the in-memory trade history.
const maxTrades = 1000

// PnLTracker is an in-memory ledger of closed trades. It implements
// model.TradeSink so it can sit next to the persistent sinks.
type PnLTracker struct {
	mu        sync.RWMutex
	trades    []model.TradeRecord
	total     int
	wins      int
	realized  float64
	bySymbol  map[string]float64
	portfolio *Portfolio
}

// NewPnLTracker creates a tracker. pf, if non-nil, supplies unrealized P&L
// for summaries.
func NewPnLTracker(pf *Portfolio) *PnLTracker {
	return &PnLTracker{
		trades:    make([]model.TradeRecord, 0, 64),
		bySymbol:  make(map[string]float64),
		portfolio: pf,
	}
}

// RecordTrade adds a closed trade to the ledger.
func (p *PnLTracker) RecordTrade(_ context.Context, rec model.TradeRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.trades) == maxTrades {
		copy(p.trades, p.trades[1:])
		p.trades = p.trades[:maxTrades-1]
	}
	p.trades = append(p.trades, rec)
	p.total++
	if rec.RealizedPnL > 0 {
		p.wins++
	}
	p.realized += rec.RealizedPnL
	p.bySymbol[rec.Symbol] += rec.RealizedPnL
	return nil
}

// GetRealizedPnL returns total realized P&L.
func (p *PnLTracker) GetRealizedPnL() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.realized
}

// GetTrades returns a copy of the retained trade history, oldest first.
func (p *PnLTracker) GetTrades() []model.TradeRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]model.TradeRecord, len(p.trades))
	copy(cp, p.trades)
	return cp
}

// PnLSummary is a point-in-time view of the ledger.
type PnLSummary struct {
	RealizedPnL   float64            `json:"realized_pnl"`
	UnrealizedPnL float64            `json:"unrealized_pnl"`
	TotalPnL      float64            `json:"total_pnl"`
	TotalTrades   int                `json:"total_trades"`
	Winners       int                `json:"winners"`
	OpenPositions int                `json:"open_positions"`
	BySymbol      map[string]float64 `json:"by_symbol"`
}

// GetSummary returns the current P&L summary.
func (p *PnLTracker) GetSummary() PnLSummary {
	var unrealized float64
	var open int
	if p.portfolio != nil {
		unrealized = p.portfolio.TotalUnrealizedPnL()
		open = p.portfolio.Count()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	bySymbol := make(map[string]float64, len(p.bySymbol))
	for k, v := range p.bySymbol {
		bySymbol[k] = v
	}
	return PnLSummary{
		RealizedPnL:   p.realized,
		UnrealizedPnL: unrealized,
		TotalPnL:      p.realized + unrealized,
		TotalTrades:   p.total,
		Winners:       p.wins,
		OpenPositions: open,
		BySymbol:      bySymbol,
	}
}
