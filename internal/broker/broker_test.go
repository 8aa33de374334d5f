package broker

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"trading-enginev1/internal/circuit"
	"trading-enginev1/internal/logger"
	"trading-enginev1/internal/model"
)

type lastPrice map[string]float64

func (l lastPrice) Last(symbol string) (model.Candle, bool) {
	p, ok := l[symbol]
	return model.Candle{Close: p}, ok
}

func newPaper(prices PriceSource) *PaperBroker {
	return NewPaperBroker(PaperConfig{
		SlippageBps: 10,
		Default:     model.InstrumentSpec{TickSize: 0.01, Spread: 0.02, MinStopDistance: 0.5},
		Symbols: map[string]model.InstrumentSpec{
			"BTCUSDT": {TickSize: 0.1, Spread: 1, MinStopDistance: 20},
		},
	}, prices, logger.Discard())
}

func TestRoundToTick(t *testing.T) {
	tests := []struct {
		price, tick, want float64
	}{
		{49500.04, 0.1, 49500.0},
		{49500.06, 0.1, 49500.1},
		{1.23456, 0.0001, 1.2346},
		{101.3, 0.25, 101.25},
		{101.3, 0, 101.3},
	}
	for _, tc := range tests {
		if got := RoundToTick(tc.price, tc.tick); math.Abs(got-tc.want) > 1e-12 {
			t.Errorf("RoundToTick(%v, %v) = %v, want %v", tc.price, tc.tick, got, tc.want)
		}
	}
}

func TestPaper_SubmitAppliesSlippage(t *testing.T) {
	p := newPaper(nil)
	ctx := context.Background()

	res := p.SubmitOrder(ctx, model.OrderRequest{Symbol: "ETHUSDT", Side: model.Buy, Size: 1, Price: 100})
	if !res.OK() || res.Ticket == "" {
		t.Fatalf("submit: %+v", res)
	}
	// 10 bps on 100 = 0.1, buys fill higher
	if math.Abs(res.FillPrice-100.1) > 1e-9 {
		t.Errorf("buy fill %.4f, want 100.1", res.FillPrice)
	}

	res = p.SubmitOrder(ctx, model.OrderRequest{Symbol: "ETHUSDT", Side: model.Sell, Size: 1, Price: 100})
	if math.Abs(res.FillPrice-99.9) > 1e-9 {
		t.Errorf("sell fill %.4f, want 99.9", res.FillPrice)
	}

	open, _ := p.GetOpenPositions(ctx, "ETHUSDT")
	if len(open) != 2 {
		t.Errorf("open positions %d, want 2", len(open))
	}
	if len(p.GetFills()) != 2 {
		t.Errorf("fills %d, want 2", len(p.GetFills()))
	}
}

func TestPaper_CloseAtMarketPrice(t *testing.T) {
	prices := lastPrice{"BTCUSDT": 50000}
	p := newPaper(prices)
	p.cfg.SlippageBps = 0
	ctx := context.Background()

	res := p.SubmitOrder(ctx, model.OrderRequest{Symbol: "BTCUSDT", Side: model.Buy, Size: 0.5})
	if !res.OK() || res.FillPrice != 50000 {
		t.Fatalf("submit: %+v", res)
	}

	prices["BTCUSDT"] = 51000.04
	closed := p.ClosePosition(ctx, res.Ticket)
	if !closed.OK() {
		t.Fatalf("close: %+v", closed)
	}
	if math.Abs(closed.FillPrice-51000.0) > 1e-9 {
		t.Errorf("close fill %.4f, want 51000.0", closed.FillPrice)
	}
	if open, _ := p.GetOpenPositions(ctx, "BTCUSDT"); len(open) != 0 {
		t.Errorf("position still open after close")
	}
}

func TestPaper_Rejections(t *testing.T) {
	p := newPaper(nil)
	ctx := context.Background()

	if res := p.SubmitOrder(ctx, model.OrderRequest{Symbol: "X", Side: model.Hold, Size: 1, Price: 1}); res.OK() || !errors.Is(res.Err, ErrRejected) {
		t.Errorf("hold side: %+v", res)
	}
	if res := p.SubmitOrder(ctx, model.OrderRequest{Symbol: "X", Side: model.Buy, Size: 1}); !errors.Is(res.Err, ErrRejected) {
		t.Errorf("no price: %+v", res)
	}

	p.RejectNext(1)
	res := p.SubmitOrder(ctx, model.OrderRequest{Symbol: "X", Side: model.Buy, Size: 1, Price: 10})
	if res.Status != model.OrderRejected || IsTransport(res) {
		t.Errorf("injected reject: %+v", res)
	}
	if res := p.SubmitOrder(ctx, model.OrderRequest{Symbol: "X", Side: model.Buy, Size: 1, Price: 10}); !res.OK() {
		t.Errorf("reject should apply once: %+v", res)
	}

	if res := p.ClosePosition(ctx, "nope"); !errors.Is(res.Err, ErrUnknownTicket) || IsTransport(res) {
		t.Errorf("unknown ticket: %+v", res)
	}
}

func TestPaper_PendingAndFailedClose(t *testing.T) {
	p := newPaper(nil)
	ctx := context.Background()

	p.PendNext(1)
	res := p.SubmitOrder(ctx, model.OrderRequest{Symbol: "X", Side: model.Buy, Size: 1, Price: 10})
	if res.Status != model.OrderPending || res.Ticket == "" {
		t.Fatalf("pending submit: %+v", res)
	}
	if open, _ := p.GetOpenPositions(ctx, "X"); len(open) != 1 || open[0].Ticket != res.Ticket {
		t.Fatalf("pending position should be listed: %+v", open)
	}

	p.FailCloseNext(1)
	if c := p.ClosePosition(ctx, res.Ticket); !IsTransport(c) {
		t.Errorf("failed close should be a transport error: %+v", c)
	}
	if open, _ := p.GetOpenPositions(ctx, "X"); len(open) != 1 {
		t.Error("failed close must keep the position")
	}

	p.PendCloseNext(1)
	if c := p.ClosePosition(ctx, res.Ticket); c.Status != model.OrderPending {
		t.Errorf("pending close: %+v", c)
	}
	if open, _ := p.GetOpenPositions(ctx, "X"); len(open) != 0 {
		t.Error("pending close should settle by the next poll")
	}
}

func TestPaper_InstrumentConstraints(t *testing.T) {
	p := newPaper(nil)
	ctx := context.Background()
	if s, _ := p.GetCurrentSpread(ctx, "BTCUSDT"); s != 1 {
		t.Errorf("spread %v", s)
	}
	if d, _ := p.GetMinStopDistance(ctx, "DOGEUSDT"); d != 0.5 {
		t.Errorf("default min stop %v", d)
	}
	if got := p.NormalizePrice(49500.04, "BTCUSDT"); math.Abs(got-49500) > 1e-9 {
		t.Errorf("normalize %v", got)
	}
}

// ────────────────────────────────────────────────────────────
// Guarded
// ────────────────────────────────────────────────────────────

type flakyBroker struct {
	calls int
	fail  bool
}

func (f *flakyBroker) SubmitOrder(context.Context, model.OrderRequest) model.OrderResult {
	f.calls++
	if f.fail {
		return model.Rejected(errors.New("dial tcp: timeout"))
	}
	return model.Filled("T1", 100)
}

func (f *flakyBroker) ClosePosition(context.Context, string) model.OrderResult {
	f.calls++
	return model.Rejected(errors.New("unused"))
}

func (f *flakyBroker) GetOpenPositions(context.Context, string) ([]model.BrokerPosition, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("dial tcp: timeout")
	}
	return nil, nil
}

func (f *flakyBroker) NormalizePrice(p float64, _ string) float64 { return p }

func TestGuarded_TripsOnTransportFailures(t *testing.T) {
	inner := &flakyBroker{fail: true}
	g := NewGuarded(inner, circuit.New(2, time.Minute), logger.Discard())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if res := g.SubmitOrder(ctx, model.OrderRequest{}); res.OK() {
			t.Fatal("expected failure")
		}
	}
	if g.Breaker().CurrentState() != circuit.StateOpen {
		t.Fatalf("breaker %v, want open", g.Breaker().CurrentState())
	}

	res := g.SubmitOrder(ctx, model.OrderRequest{})
	if !errors.Is(res.Err, ErrCircuitOpen) || !IsTransport(res) {
		t.Errorf("open breaker result: %+v", res)
	}
	if inner.calls != 2 {
		t.Errorf("inner called %d times, want 2", inner.calls)
	}
	if _, err := g.GetOpenPositions(ctx, "X"); !errors.Is(err, circuit.ErrOpen) {
		t.Errorf("positions while open: %v", err)
	}
}

func TestGuarded_RejectionsDoNotTrip(t *testing.T) {
	p := newPaper(nil)
	g := NewGuarded(p, circuit.New(1, time.Minute), logger.Discard())
	p.RejectNext(3)
	for i := 0; i < 3; i++ {
		g.SubmitOrder(context.Background(), model.OrderRequest{Symbol: "X", Side: model.Buy, Size: 1, Price: 1})
	}
	if g.Breaker().CurrentState() != circuit.StateClosed {
		t.Errorf("business rejections tripped the breaker")
	}
}
