package strategy

import (
	"fmt"

	"trading-enginev1/internal/indicator"
	"trading-enginev1/internal/model"
)

// MeanReversion fades closes outside the Bollinger envelope and targets the
// middle band.
type MeanReversion struct {
	ind indicator.Config
}

func newMeanReversion(cfg Config, _ Deps) (Strategy, error) {
	src := cfg.Indicators
	if src.BollingerPeriod < 2 || src.BollingerK <= 0 {
		return nil, invalid(NameMeanReversion, "bollinger period %d k %.2f", src.BollingerPeriod, src.BollingerK)
	}
	return &MeanReversion{
		ind: indicator.Config{BollingerPeriod: src.BollingerPeriod, BollingerK: src.BollingerK},
	}, nil
}

func (s *MeanReversion) Name() string                 { return NameMeanReversion }
func (s *MeanReversion) Indicators() indicator.Config { return s.ind }
func (s *MeanReversion) Lookback() int                { return s.ind.Lookback() }

func (s *MeanReversion) Evaluate(snap indicator.Snapshot, window []model.Candle) model.Signal {
	price := lastClose(window)
	v, err := snap.Require(indicator.KeyBBUpper, indicator.KeyBBMiddle, indicator.KeyBBLower)
	if err != nil {
		return model.HoldSignal(price, "indicators not ready: %v", err)
	}
	upper, mid, lower := v[0], v[1], v[2]
	if upper <= mid {
		return model.HoldSignal(price, "bands collapsed at %.4f", mid)
	}

	switch {
	case price > upper:
		return model.Signal{
			Direction:      model.Sell,
			Strength:       clamp(50 + 50*(price-upper)/(upper-mid)),
			Reason:         fmt.Sprintf("close %.4f above upper band %.4f", price, upper),
			ReferencePrice: price,
			TargetPrice:    mid,
		}
	case price < lower:
		return model.Signal{
			Direction:      model.Buy,
			Strength:       clamp(50 + 50*(lower-price)/(mid-lower)),
			Reason:         fmt.Sprintf("close %.4f below lower band %.4f", price, lower),
			ReferencePrice: price,
			TargetPrice:    mid,
		}
	}
	return model.HoldSignal(price, "close %.4f inside bands [%.4f, %.4f]", price, lower, upper)
}
