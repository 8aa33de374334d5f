package model

import "fmt"

// Direction is the side of a signal or position.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
	Hold Direction = "HOLD"
)

// Valid reports whether d is one of the tradeable directions.
func (d Direction) Valid() bool {
	return d == Buy || d == Sell
}

// Sign returns +1 for Buy, -1 for Sell and 0 otherwise.
func (d Direction) Sign() float64 {
	switch d {
	case Buy:
		return 1
	case Sell:
		return -1
	default:
		return 0
	}
}

// Opposite returns the reverse trading direction. Hold maps to Hold.
func (d Direction) Opposite() Direction {
	switch d {
	case Buy:
		return Sell
	case Sell:
		return Buy
	default:
		return Hold
	}
}

// Signal is a strategy's directional recommendation for one cycle.
// Signals are produced once per cycle and never mutated.
type Signal struct {
	Direction      Direction `json:"direction"`
	Strength       float64   `json:"strength"` // 0..100
	Reason         string    `json:"reason"`
	ReferencePrice float64   `json:"reference_price"`
	TargetPrice    float64   `json:"target_price,omitempty"` // optional exit target, 0 = unset
}

// HoldSignal builds a Hold signal carrying a diagnostic reason.
func HoldSignal(price float64, format string, args ...any) Signal {
	return Signal{
		Direction:      Hold,
		Reason:         fmt.Sprintf(format, args...),
		ReferencePrice: price,
	}
}

// IsTrade reports whether the signal asks for an entry.
func (s Signal) IsTrade() bool {
	return s.Direction.Valid()
}
