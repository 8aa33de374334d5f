package indicator

import "trading-enginev1/internal/model"

// RSI is Wilder's Relative Strength Index. Gains and losses are smoothed
// separately, so the first value needs period+1 closes. A zero average loss
// reads as 100.
type RSI struct {
	period int
	prev   float64
	seen   bool
	gains  *wilder
	losses *wilder
}

// NewRSI creates an RSI over period closes.
func NewRSI(period int) *RSI {
	return &RSI{period: period, gains: newWilder(period), losses: newWilder(period)}
}

func (r *RSI) Name() string { return "RSI" }

func (r *RSI) Update(candle model.Candle) {
	px := candle.Close
	if !r.seen {
		r.prev, r.seen = px, true
		return
	}
	d := px - r.prev
	r.prev = px
	if d >= 0 {
		r.gains.add(d)
		r.losses.add(0)
	} else {
		r.gains.add(0)
		r.losses.add(-d)
	}
}

func (r *RSI) Value() float64 {
	if !r.Ready() {
		return 0
	}
	if r.losses.avg == 0 {
		return 100
	}
	return 100 - 100/(1+r.gains.avg/r.losses.avg)
}

func (r *RSI) Ready() bool { return r.gains.ready() }
