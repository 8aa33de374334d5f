package model

import "context"

// ── Collaborator Port Interfaces ──
// These interfaces decouple the decision engine from concrete market data,
// broker and reporting implementations. Adapters live under internal/.

// MarketData supplies candles and instrument constraints.
type MarketData interface {
	// GetCandles returns up to window closed candles, oldest first.
	GetCandles(ctx context.Context, symbol, timeframe string, window int) ([]Candle, error)

	// GetCurrentSpread returns the current bid/ask spread in price units.
	GetCurrentSpread(ctx context.Context, symbol string) (float64, error)

	// GetMinStopDistance returns the minimum distance between price and a stop level.
	GetMinStopDistance(ctx context.Context, symbol string) (float64, error)
}

// Broker submits and closes orders. All calls are synchronous; every failure
// (transport or rejection) is reported as an OrderRejected result.
type Broker interface {
	// SubmitOrder places a market order with protective levels.
	SubmitOrder(ctx context.Context, req OrderRequest) OrderResult

	// ClosePosition closes the position identified by ticket.
	ClosePosition(ctx context.Context, ticket string) OrderResult

	// GetOpenPositions lists the broker's open positions for symbol.
	GetOpenPositions(ctx context.Context, symbol string) ([]BrokerPosition, error)

	// NormalizePrice rounds price to the instrument's tick size.
	NormalizePrice(price float64, symbol string) float64
}

// LotSizer is implemented by brokers that trade in fixed size increments.
// Order sizes are rounded down to a multiple of LotStep before submission.
type LotSizer interface {
	LotStep(symbol string) float64
}

// TradeSink receives completed trades for external persistence.
// The engine never reads from a sink.
type TradeSink interface {
	RecordTrade(ctx context.Context, rec TradeRecord) error
}

// Classifier is a pre-trained binary classifier treated as opaque.
type Classifier interface {
	// PredictProba returns the probability of the positive (up) class.
	PredictProba(features []float32) (float64, error)
}
