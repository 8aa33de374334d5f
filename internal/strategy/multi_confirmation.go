package strategy

import (
	"fmt"
	"strings"

	"trading-enginev1/internal/indicator"
	"trading-enginev1/internal/model"
)

// maxConfirmations is the number of independent checks: persistent pattern,
// volume, SMA trend, RSI range and MACD vs signal.
const maxConfirmations = 5

// MultiConfirmation requires a persistent chart pattern plus enough agreeing
// confirmations before signalling. It also exits a position once the
// opposite direction gathers the same number of confirmations.
type MultiConfirmation struct {
	ind indicator.Config
	min int
}

func newMultiConfirmation(cfg Config, _ Deps) (Strategy, error) {
	if cfg.MinConfirmations < 1 || cfg.MinConfirmations > maxConfirmations {
		return nil, invalid(NameMultiConfirmation, "min confirmations %d outside [1,%d]", cfg.MinConfirmations, maxConfirmations)
	}
	src := cfg.Indicators
	if src.RSIPeriod <= 0 || src.MACDFast <= 0 || src.MACDSlow <= src.MACDFast || src.MACDSignal <= 0 {
		return nil, invalid(NameMultiConfirmation, "rsi/macd periods required")
	}
	return &MultiConfirmation{
		ind: indicator.Config{
			RSIPeriod:    src.RSIPeriod,
			MACDFast:     src.MACDFast,
			MACDSlow:     src.MACDSlow,
			MACDSignal:   src.MACDSignal,
			SMAShort:     10,
			SMALong:      30,
			VolumePeriod: 20,
		},
		min: cfg.MinConfirmations,
	}, nil
}

func (s *MultiConfirmation) Name() string                 { return NameMultiConfirmation }
func (s *MultiConfirmation) Indicators() indicator.Config { return s.ind }

func (s *MultiConfirmation) Lookback() int {
	return max(s.ind.Lookback(), indicator.PersistentLookback)
}

// confirm counts the checks agreeing with dir, the pattern check included.
func (s *MultiConfirmation) confirm(dir model.Direction, snap indicator.Snapshot, window []model.Candle) (int, []string, error) {
	v, err := snap.Require(indicator.KeyVolumeMA, indicator.KeySMAShort, indicator.KeySMALong,
		indicator.KeyRSI, indicator.KeyMACD, indicator.KeyMACDSignal)
	if err != nil {
		return 0, nil, err
	}
	volMA, short, long, rsi, macd, signal := v[0], v[1], v[2], v[3], v[4], v[5]
	last := window[len(window)-1]

	count := 1
	reasons := []string{"persistent " + strings.ToLower(string(dir)) + " pattern"}

	if last.Volume > volMA {
		count++
		reasons = append(reasons, "volume")
	}
	if (dir == model.Buy && short > long) || (dir == model.Sell && short < long) {
		count++
		reasons = append(reasons, "trend")
	}
	if rsi > 30 && rsi < 70 {
		count++
		reasons = append(reasons, fmt.Sprintf("rsi %.1f", rsi))
	}
	if (dir == model.Buy && macd > signal) || (dir == model.Sell && macd < signal) {
		count++
		reasons = append(reasons, "macd")
	}
	return count, reasons, nil
}

// direction resolves the persistent pattern direction. Conflicting or absent
// patterns return Hold with the reason.
func direction(window []model.Candle) (model.Direction, string) {
	bull, bear, last, err := indicator.PersistentPattern(window)
	switch {
	case err != nil:
		return model.Hold, fmt.Sprintf("patterns not ready: %v", err)
	case bull && bear:
		return model.Hold, fmt.Sprintf("conflicting patterns %v", last.Names())
	case bull:
		return model.Buy, ""
	case bear:
		return model.Sell, ""
	}
	return model.Hold, "no persistent pattern"
}

func (s *MultiConfirmation) Evaluate(snap indicator.Snapshot, window []model.Candle) model.Signal {
	price := lastClose(window)
	dir, why := direction(window)
	if dir == model.Hold {
		return model.HoldSignal(price, "%s", why)
	}

	count, reasons, err := s.confirm(dir, snap, window)
	if err != nil {
		return model.HoldSignal(price, "indicators not ready: %v", err)
	}
	if count < s.min {
		return model.HoldSignal(price, "%s: %d/%d confirmations (%s)", dir, count, s.min, strings.Join(reasons, ", "))
	}
	return model.Signal{
		Direction:      dir,
		Strength:       clamp(float64(count) / maxConfirmations * 100),
		Reason:         fmt.Sprintf("%d/%d confirmations: %s", count, maxConfirmations, strings.Join(reasons, ", ")),
		ReferencePrice: price,
	}
}

// ShouldExit reports true once the direction opposite to pos reaches the
// confirmation threshold.
func (s *MultiConfirmation) ShouldExit(pos model.Position, snap indicator.Snapshot, window []model.Candle) (bool, string) {
	opp := pos.Direction.Opposite()
	dir, _ := direction(window)
	if opp == model.Hold || dir != opp {
		return false, ""
	}
	count, reasons, err := s.confirm(opp, snap, window)
	if err != nil || count < s.min {
		return false, ""
	}
	return true, fmt.Sprintf("opposite %s confirmed %d/%d: %s", opp, count, maxConfirmations, strings.Join(reasons, ", "))
}
