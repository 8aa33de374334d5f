// Package portfolio holds the state shared across trading loops: the capital
// Account, the RiskManager that sizes and gates entries against it, the
// registry of active positions and the ledger of closed trades.
package portfolio

import (
	"sort"
	"sync"

	"trading-enginev1/internal/model"
)

// Holding is a registered position with its latest mark price.
type Holding struct {
	model.Position
	Mark float64 `json:"mark"`
}

// UnrealizedPnL returns the P&L at the mark price.
func (h *Holding) UnrealizedPnL() float64 {
	if h.Mark == 0 {
		return 0
	}
	return h.PnLAt(h.Mark)
}

// Portfolio tracks every active position keyed by "symbol|strategy".
type Portfolio struct {
	mu        sync.RWMutex
	positions map[string]*Holding
}

// New creates a new empty Portfolio.
func New() *Portfolio {
	return &Portfolio{
		positions: make(map[string]*Holding),
	}
}

// Put registers or replaces the position under its key.
func (pf *Portfolio) Put(pos model.Position) {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	if h, ok := pf.positions[pos.Key()]; ok {
		h.Position = pos
		return
	}
	pf.positions[pos.Key()] = &Holding{Position: pos, Mark: pos.EntryPrice}
}

// Reserve registers pos unless limit positions are already active. The
// count check and the insert happen under one lock, so concurrent loops
// cannot overshoot the limit. A key that is already registered is updated
// and always succeeds. limit <= 0 means unlimited.
func (pf *Portfolio) Reserve(pos model.Position, limit int) bool {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	if h, ok := pf.positions[pos.Key()]; ok {
		h.Position = pos
		return true
	}
	if limit > 0 && len(pf.positions) >= limit {
		return false
	}
	pf.positions[pos.Key()] = &Holding{Position: pos, Mark: pos.EntryPrice}
	return true
}

// Remove drops the position registered under key.
func (pf *Portfolio) Remove(key string) {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	delete(pf.positions, key)
}

// UpdatePrice marks every position on symbol at price.
func (pf *Portfolio) UpdatePrice(symbol string, price float64) {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	for _, h := range pf.positions {
		if h.Symbol == symbol {
			h.Mark = price
		}
	}
}

// Count returns the number of active positions.
func (pf *Portfolio) Count() int {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	return len(pf.positions)
}

// GetPositions returns a snapshot of all positions sorted by key.
func (pf *Portfolio) GetPositions() []Holding {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	result := make([]Holding, 0, len(pf.positions))
	for _, h := range pf.positions {
		result = append(result, *h)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key() < result[j].Key() })
	return result
}

// TotalUnrealizedPnL returns the total unrealized P&L across all positions.
func (pf *Portfolio) TotalUnrealizedPnL() float64 {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	var total float64
	for _, h := range pf.positions {
		total += h.UnrealizedPnL()
	}
	return total
}
