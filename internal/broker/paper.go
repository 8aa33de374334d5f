package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"trading-enginev1/internal/model"
)

// PriceSource supplies the latest known candle for a symbol.
// candlestore.Store satisfies it.
type PriceSource interface {
	Last(symbol string) (model.Candle, bool)
}

// Fill represents a simulated fill.
type Fill struct {
	Ticket   string          `json:"ticket"`
	Symbol   string          `json:"symbol"`
	Side     model.Direction `json:"side"`
	Size     float64         `json:"size"`
	Price    float64         `json:"price"`
	Slippage float64         `json:"slippage"`
	Close    bool            `json:"close"`
	FilledAt time.Time       `json:"filled_at"`
}

// PaperConfig configures the paper broker.
type PaperConfig struct {
	SlippageBps float64                         `yaml:"slippage_bps"` // basis points of slippage (e.g., 5 = 0.05%)
	Default     model.InstrumentSpec            `yaml:"default"`
	Symbols     map[string]model.InstrumentSpec `yaml:"symbols"`
}

// PaperBroker simulates order execution without real broker calls.
// Used for paper trading and the replay tool.
type PaperBroker struct {
	mu        sync.Mutex
	cfg       PaperConfig
	prices    PriceSource
	positions map[string]*model.BrokerPosition // key = ticket
	fills     []Fill
	now       func() time.Time
	log       *slog.Logger

	// fault injection counters, decremented per affected call
	rejectNext    int
	pendNext      int
	pendCloseNext int
	failCloseNext int
}

// NewPaperBroker creates a paper broker. prices may be nil, in which case
// market orders fill at the request's reference price.
func NewPaperBroker(cfg PaperConfig, prices PriceSource, log *slog.Logger) *PaperBroker {
	if log == nil {
		log = slog.Default()
	}
	return &PaperBroker{
		cfg:       cfg,
		prices:    prices,
		positions: make(map[string]*model.BrokerPosition),
		fills:     make([]Fill, 0, 256),
		now:       time.Now,
		log:       log,
	}
}

// Spec returns the instrument spec for symbol, falling back to the default.
func (p *PaperBroker) Spec(symbol string) model.InstrumentSpec {
	if s, ok := p.cfg.Symbols[symbol]; ok {
		return s
	}
	return p.cfg.Default
}

// RejectNext makes the next n submissions fail with a broker rejection.
func (p *PaperBroker) RejectNext(n int) { p.mu.Lock(); p.rejectNext = n; p.mu.Unlock() }

// PendNext makes the next n submissions return Pending. The positions are
// still opened and show up in GetOpenPositions.
func (p *PaperBroker) PendNext(n int) { p.mu.Lock(); p.pendNext = n; p.mu.Unlock() }

// PendCloseNext makes the next n closes return Pending. The positions are
// still removed, so the next GetOpenPositions confirms the close.
func (p *PaperBroker) PendCloseNext(n int) { p.mu.Lock(); p.pendCloseNext = n; p.mu.Unlock() }

// FailCloseNext makes the next n closes fail with a transport error.
func (p *PaperBroker) FailCloseNext(n int) { p.mu.Lock(); p.failCloseNext = n; p.mu.Unlock() }

// NormalizePrice rounds price to the symbol's tick size using decimal
// arithmetic.
func (p *PaperBroker) NormalizePrice(price float64, symbol string) float64 {
	return RoundToTick(price, p.Spec(symbol).TickSize)
}

// LotStep returns the symbol's order size increment.
func (p *PaperBroker) LotStep(symbol string) float64 {
	return p.Spec(symbol).LotStep
}

// RoundToTick rounds price to the nearest multiple of tick. A non-positive
// tick leaves price unchanged.
func RoundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	t := decimal.NewFromFloat(tick)
	v, _ := decimal.NewFromFloat(price).Div(t).Round(0).Mul(t).Float64()
	return v
}

// marketPrice returns the latest close for symbol or fallback.
func (p *PaperBroker) marketPrice(symbol string, fallback float64) float64 {
	if p.prices != nil {
		if c, ok := p.prices.Last(symbol); ok && c.Close > 0 {
			return c.Close
		}
	}
	return fallback
}

// slip moves price against the taker: buys fill higher, sells lower.
func (p *PaperBroker) slip(price float64, side model.Direction) (float64, float64) {
	if p.cfg.SlippageBps <= 0 || price <= 0 {
		return price, 0
	}
	s := price * p.cfg.SlippageBps / 10000
	return price + s*side.Sign(), s
}

func (p *PaperBroker) SubmitOrder(_ context.Context, req model.OrderRequest) model.OrderResult {
	if !req.Side.Valid() || req.Size <= 0 {
		return model.Rejected(fmt.Errorf("%w: invalid order side=%s size=%.6f", ErrRejected, req.Side, req.Size))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.rejectNext > 0 {
		p.rejectNext--
		return model.Rejected(fmt.Errorf("%w: paper reject injected", ErrRejected))
	}

	ref := req.Price
	if ref <= 0 {
		ref = p.marketPrice(req.Symbol, 0)
	}
	if ref <= 0 {
		return model.Rejected(fmt.Errorf("%w: no price for %s", ErrRejected, req.Symbol))
	}
	fillPrice, slippage := p.slip(ref, req.Side)
	fillPrice = RoundToTick(fillPrice, p.Spec(req.Symbol).TickSize)

	ticket := uuid.NewString()
	now := p.now()
	p.positions[ticket] = &model.BrokerPosition{
		Ticket:     ticket,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Size:       req.Size,
		EntryPrice: fillPrice,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		OpenedAt:   now,
	}
	p.fills = append(p.fills, Fill{
		Ticket: ticket, Symbol: req.Symbol, Side: req.Side, Size: req.Size,
		Price: fillPrice, Slippage: slippage, FilledAt: now,
	})

	p.log.Info("paper order filled", "ticket", ticket, "symbol", req.Symbol, "side", req.Side,
		"size", req.Size, "price", fillPrice, "slippage", slippage, "strategy", req.Strategy)

	if p.pendNext > 0 {
		p.pendNext--
		return model.Pending(ticket)
	}
	return model.Filled(ticket, fillPrice)
}

func (p *PaperBroker) ClosePosition(_ context.Context, ticket string) model.OrderResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failCloseNext > 0 {
		p.failCloseNext--
		return model.Rejected(fmt.Errorf("paper: close %s: connection reset", ticket))
	}
	pos, ok := p.positions[ticket]
	if !ok {
		return model.Rejected(fmt.Errorf("%w: %w %s", ErrRejected, ErrUnknownTicket, ticket))
	}

	exit, slippage := p.slip(p.marketPrice(pos.Symbol, pos.EntryPrice), pos.Side.Opposite())
	exit = RoundToTick(exit, p.Spec(pos.Symbol).TickSize)
	delete(p.positions, ticket)
	p.fills = append(p.fills, Fill{
		Ticket: ticket, Symbol: pos.Symbol, Side: pos.Side.Opposite(), Size: pos.Size,
		Price: exit, Slippage: slippage, Close: true, FilledAt: p.now(),
	})

	p.log.Info("paper position closed", "ticket", ticket, "symbol", pos.Symbol, "price", exit)

	if p.pendCloseNext > 0 {
		p.pendCloseNext--
		return model.Pending(ticket)
	}
	return model.Filled(ticket, exit)
}

func (p *PaperBroker) GetOpenPositions(_ context.Context, symbol string) ([]model.BrokerPosition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.BrokerPosition, 0, len(p.positions))
	for _, pos := range p.positions {
		if symbol == "" || pos.Symbol == symbol {
			out = append(out, *pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

// GetCurrentSpread returns the configured spread for symbol.
func (p *PaperBroker) GetCurrentSpread(_ context.Context, symbol string) (float64, error) {
	return p.Spec(symbol).Spread, nil
}

// GetMinStopDistance returns the configured minimum stop distance for symbol.
func (p *PaperBroker) GetMinStopDistance(_ context.Context, symbol string) (float64, error) {
	return p.Spec(symbol).MinStopDistance, nil
}

// GetFills returns a snapshot of all fills.
func (p *PaperBroker) GetFills() []Fill {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]Fill, len(p.fills))
	copy(cp, p.fills)
	return cp
}
