// Package broker holds broker-side adapters: a circuit-breaker decorator for
// any model.Broker and a paper broker that simulates fills locally.
//
// All adapters report outcomes as model.OrderResult. A result whose error
// wraps model.ErrOrderRejected is a business rejection (the broker answered
// "no"); any other error is a transport failure and feeds the circuit breaker.
package broker

import (
	"errors"

	"trading-enginev1/internal/circuit"
	"trading-enginev1/internal/model"
)

var (
	// ErrRejected is the sentinel for broker-side rejections.
	ErrRejected = model.ErrOrderRejected

	// ErrCircuitOpen is returned by Guarded while its breaker is open.
	ErrCircuitOpen = circuit.ErrOpen

	// ErrUnknownTicket is returned when closing a ticket the broker does not hold.
	ErrUnknownTicket = errors.New("broker: unknown ticket")
)

// IsTransport reports whether res failed for a reason other than a broker
// rejection.
func IsTransport(res model.OrderResult) bool {
	return res.Status == model.OrderRejected && res.Err != nil && !errors.Is(res.Err, ErrRejected)
}
