package broker

import (
	"context"
	"fmt"
	"log/slog"

	"trading-enginev1/internal/circuit"
	"trading-enginev1/internal/model"
)

// Guarded wraps a Broker with a circuit breaker. Consecutive transport
// failures open the breaker; while open every call fails fast as a
// transport error without reaching the inner broker.
type Guarded struct {
	inner model.Broker
	cb    *circuit.Breaker
	log   *slog.Logger
}

// NewGuarded decorates inner with cb.
func NewGuarded(inner model.Broker, cb *circuit.Breaker, log *slog.Logger) *Guarded {
	if log == nil {
		log = slog.Default()
	}
	return &Guarded{inner: inner, cb: cb, log: log}
}

// Breaker returns the underlying circuit breaker.
func (g *Guarded) Breaker() *circuit.Breaker { return g.cb }

func (g *Guarded) call(op string, fn func() model.OrderResult) model.OrderResult {
	if err := g.cb.Allow(); err != nil {
		return model.Rejected(fmt.Errorf("broker: %s: %w", op, err))
	}
	res := fn()
	if IsTransport(res) {
		g.cb.Record(res.Err)
		g.log.Warn("broker transport failure", "op", op, "error", res.Err,
			"breaker", g.cb.CurrentState().String())
	} else {
		g.cb.Record(nil)
	}
	return res
}

func (g *Guarded) SubmitOrder(ctx context.Context, req model.OrderRequest) model.OrderResult {
	return g.call("submit", func() model.OrderResult { return g.inner.SubmitOrder(ctx, req) })
}

func (g *Guarded) ClosePosition(ctx context.Context, ticket string) model.OrderResult {
	return g.call("close", func() model.OrderResult { return g.inner.ClosePosition(ctx, ticket) })
}

func (g *Guarded) GetOpenPositions(ctx context.Context, symbol string) ([]model.BrokerPosition, error) {
	var out []model.BrokerPosition
	err := g.cb.Execute(func() error {
		var err error
		out, err = g.inner.GetOpenPositions(ctx, symbol)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("broker: positions %s: %w", symbol, err)
	}
	return out, nil
}

func (g *Guarded) NormalizePrice(price float64, symbol string) float64 {
	return g.inner.NormalizePrice(price, symbol)
}

// LotStep forwards to the inner broker when it trades in lots.
func (g *Guarded) LotStep(symbol string) float64 {
	if ls, ok := g.inner.(model.LotSizer); ok {
		return ls.LotStep(symbol)
	}
	return 0
}
