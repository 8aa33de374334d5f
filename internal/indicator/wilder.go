package indicator

// wilder is Wilder's smoothed moving average over a raw value stream. It
// seeds with the arithmetic mean of the first period values, then applies
// avg = (avg*(period-1) + v) / period.
type wilder struct {
	period int
	n      int
	avg    float64
}

func newWilder(period int) *wilder { return &wilder{period: period} }

func (w *wilder) add(v float64) {
	w.n++
	if w.n <= w.period {
		w.avg += (v - w.avg) / float64(w.n)
		return
	}
	p := float64(w.period)
	w.avg = (w.avg*(p-1) + v) / p
}

func (w *wilder) ready() bool { return w.n >= w.period }
