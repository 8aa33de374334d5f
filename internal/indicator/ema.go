package indicator

import "trading-enginev1/internal/model"

// EMA is an exponential moving average of closes, seeded with the simple
// mean of the first period values. Add feeds derived series such as the
// MACD line.
type EMA struct {
	period int
	alpha  float64
	n      int
	value  float64
}

// NewEMA creates an EMA with smoothing factor 2/(period+1).
func NewEMA(period int) *EMA {
	return &EMA{period: period, alpha: 2 / float64(period+1)}
}

func (e *EMA) Name() string { return "EMA" }

func (e *EMA) Update(candle model.Candle) { e.Add(candle.Close) }

func (e *EMA) Add(v float64) {
	e.n++
	if e.n <= e.period {
		e.value += (v - e.value) / float64(e.n)
		return
	}
	e.value += e.alpha * (v - e.value)
}

func (e *EMA) Value() float64 {
	if !e.Ready() {
		return 0
	}
	return e.value
}

func (e *EMA) Ready() bool { return e.n >= e.period }
