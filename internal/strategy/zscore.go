package strategy

import (
	"errors"
	"fmt"
	"math"

	"trading-enginev1/internal/indicator"
	"trading-enginev1/internal/model"
)

// zscoreFullStrength is the |z| at which a signal reaches strength 100.
const zscoreFullStrength = 3.0

// ZScore fades outsized close-to-close returns. A return whose z-score
// against the recent returns exceeds the threshold is sold; one below the
// negated threshold is bought.
type ZScore struct {
	window    int
	threshold float64
}

func newZScore(cfg Config, _ Deps) (Strategy, error) {
	if cfg.ZScoreWindow < 2 {
		return nil, invalid(NameZScore, "window %d", cfg.ZScoreWindow)
	}
	if cfg.ZScoreThreshold < 0 {
		return nil, invalid(NameZScore, "threshold %.4f", cfg.ZScoreThreshold)
	}
	return &ZScore{window: cfg.ZScoreWindow, threshold: cfg.ZScoreThreshold}, nil
}

func (s *ZScore) Name() string { return NameZScore }

// Indicators is empty: the z-score is computed from the window itself.
func (s *ZScore) Indicators() indicator.Config { return indicator.Config{} }
func (s *ZScore) Lookback() int                { return s.window + 1 }

func (s *ZScore) Evaluate(_ indicator.Snapshot, window []model.Candle) model.Signal {
	price := lastClose(window)
	z, err := indicator.ReturnZScore(window, s.window)
	if err != nil {
		if errors.Is(err, indicator.ErrInsufficientData) {
			return model.HoldSignal(price, "indicators not ready: %v", err)
		}
		return model.HoldSignal(price, "zscore: %v", err)
	}

	strength := clamp(100 * math.Abs(z) / zscoreFullStrength)
	switch {
	case z > s.threshold:
		return model.Signal{
			Direction:      model.Sell,
			Strength:       strength,
			Reason:         fmt.Sprintf("return z-score %.2f > %.4f", z, s.threshold),
			ReferencePrice: price,
		}
	case z < -s.threshold:
		return model.Signal{
			Direction:      model.Buy,
			Strength:       strength,
			Reason:         fmt.Sprintf("return z-score %.2f < -%.4f", z, s.threshold),
			ReferencePrice: price,
		}
	}
	return model.HoldSignal(price, "return z-score %.2f within ±%.4f", z, s.threshold)
}
