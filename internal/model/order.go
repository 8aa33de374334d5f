package model

import (
	"errors"
	"time"
)

// ErrOrderRejected is returned when a broker answers with a non-success code.
var ErrOrderRejected = errors.New("order rejected")

// OrderStatus is the normalized outcome of a broker call.
type OrderStatus string

const (
	OrderFilled   OrderStatus = "FILLED"   // broker confirmed the fill / close
	OrderPending  OrderStatus = "PENDING"  // accepted, confirmation outstanding
	OrderRejected OrderStatus = "REJECTED" // rejected or transport failure
)

// OrderRequest is a market order with attached protective levels.
type OrderRequest struct {
	Symbol     string    `json:"symbol"`
	Side       Direction `json:"side"`
	Size       float64   `json:"size"`
	Price      float64   `json:"price"` // reference price for the market order
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	Strategy   string    `json:"strategy"`
}

// OrderResult normalizes broker answers into {ok, ticket/error}.
// Transport errors and rejection codes both surface as OrderRejected.
type OrderResult struct {
	Status    OrderStatus `json:"status"`
	Ticket    string      `json:"ticket,omitempty"`
	FillPrice float64     `json:"fill_price,omitempty"` // 0 when the broker did not report one
	Err       error       `json:"-"`
}

// OK reports whether the broker confirmed the operation.
func (r OrderResult) OK() bool {
	return r.Status == OrderFilled
}

// Filled builds a confirmed result.
func Filled(ticket string, price float64) OrderResult {
	return OrderResult{Status: OrderFilled, Ticket: ticket, FillPrice: price}
}

// Pending builds an accepted-but-unconfirmed result.
func Pending(ticket string) OrderResult {
	return OrderResult{Status: OrderPending, Ticket: ticket}
}

// Rejected builds a failed result. A nil err is replaced by ErrOrderRejected.
func Rejected(err error) OrderResult {
	if err == nil {
		err = ErrOrderRejected
	}
	return OrderResult{Status: OrderRejected, Err: err}
}

// BrokerPosition is the broker's view of an open position.
type BrokerPosition struct {
	Ticket     string    `json:"ticket"`
	Symbol     string    `json:"symbol"`
	Side       Direction `json:"side"`
	Size       float64   `json:"size"`
	EntryPrice float64   `json:"entry_price"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	OpenedAt   time.Time `json:"opened_at"`
}
