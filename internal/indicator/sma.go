package indicator

import "trading-enginev1/internal/model"

// SMA is a rolling arithmetic mean. The window lives in a fixed ring so
// Add never allocates.
type SMA struct {
	ring []float64
	next int
	n    int
	sum  float64
}

// NewSMA creates an SMA over period values.
func NewSMA(period int) *SMA {
	return &SMA{ring: make([]float64, period)}
}

func (s *SMA) Name() string { return "SMA" }

func (s *SMA) Update(candle model.Candle) { s.Add(candle.Close) }

// Add pushes a raw value (close, volume, ...) into the window.
func (s *SMA) Add(v float64) {
	if s.n == len(s.ring) {
		s.sum -= s.ring[s.next]
	} else {
		s.n++
	}
	s.ring[s.next] = v
	s.sum += v
	s.next = (s.next + 1) % len(s.ring)
}

func (s *SMA) Value() float64 {
	if !s.Ready() {
		return 0
	}
	return s.sum / float64(len(s.ring))
}

func (s *SMA) Ready() bool { return s.n == len(s.ring) }
