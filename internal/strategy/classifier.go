package strategy

import (
	"fmt"
	"log/slog"
	"math"

	"trading-enginev1/internal/indicator"
	"trading-enginev1/internal/model"
)

// FeatureCount is the length of the classifier feature vector.
const FeatureCount = 8

// Classifier delegates the decision to a pre-trained binary model.
//
// Features, in order: ema_fast, ema_slow, macd, macd_signal, rsi,
// log1p(volume), high−low, close−open of the last candle.
type Classifier struct {
	ind       indicator.Config
	model     model.Classifier
	threshold float64
	log       *slog.Logger
}

func newClassifier(cfg Config, deps Deps) (Strategy, error) {
	if deps.Classifier == nil {
		return nil, invalid(NameClassifier, "no classifier loaded")
	}
	if cfg.ConfidenceThreshold <= 0.5 || cfg.ConfidenceThreshold > 1 {
		return nil, invalid(NameClassifier, "confidence threshold %.2f outside (0.5, 1]", cfg.ConfidenceThreshold)
	}
	src := cfg.Indicators
	if src.EMAFast <= 0 || src.EMASlow <= 0 || src.RSIPeriod <= 0 || src.MACDFast <= 0 || src.MACDSlow <= src.MACDFast || src.MACDSignal <= 0 {
		return nil, invalid(NameClassifier, "ema/rsi/macd periods required")
	}
	return &Classifier{
		ind: indicator.Config{
			EMAFast:    src.EMAFast,
			EMASlow:    src.EMASlow,
			RSIPeriod:  src.RSIPeriod,
			MACDFast:   src.MACDFast,
			MACDSlow:   src.MACDSlow,
			MACDSignal: src.MACDSignal,
		},
		model:     deps.Classifier,
		threshold: cfg.ConfidenceThreshold,
		log:       deps.Logger,
	}, nil
}

func (s *Classifier) Name() string                 { return NameClassifier }
func (s *Classifier) Indicators() indicator.Config { return s.ind }
func (s *Classifier) Lookback() int                { return s.ind.Lookback() }

// Features builds the model input from a snapshot and its window.
func Features(snap indicator.Snapshot, window []model.Candle) ([]float32, error) {
	if len(window) == 0 {
		return nil, fmt.Errorf("features: empty window: %w", indicator.ErrInsufficientData)
	}
	v, err := snap.Require(indicator.KeyEMAFast, indicator.KeyEMASlow,
		indicator.KeyMACD, indicator.KeyMACDSignal, indicator.KeyRSI)
	if err != nil {
		return nil, err
	}
	last := window[len(window)-1]
	return []float32{
		float32(v[0]),
		float32(v[1]),
		float32(v[2]),
		float32(v[3]),
		float32(v[4]),
		float32(math.Log1p(last.Volume)),
		float32(last.High - last.Low),
		float32(last.Close - last.Open),
	}, nil
}

func (s *Classifier) Evaluate(snap indicator.Snapshot, window []model.Candle) model.Signal {
	price := lastClose(window)
	features, err := Features(snap, window)
	if err != nil {
		return model.HoldSignal(price, "indicators not ready: %v", err)
	}

	p, err := s.model.PredictProba(features)
	if err != nil {
		s.log.Warn("classifier prediction failed", "strategy", NameClassifier, "error", err)
		return model.HoldSignal(price, "classifier error: %v", err)
	}
	if math.IsNaN(p) || p < 0 || p > 1 {
		s.log.Warn("classifier returned invalid probability", "strategy", NameClassifier, "p", p)
		return model.HoldSignal(price, "classifier returned invalid probability %v", p)
	}

	switch {
	case p >= s.threshold:
		return model.Signal{
			Direction:      model.Buy,
			Strength:       clamp(p * 100),
			Reason:         fmt.Sprintf("P(up)=%.3f >= %.2f", p, s.threshold),
			ReferencePrice: price,
		}
	case p <= 1-s.threshold:
		return model.Signal{
			Direction:      model.Sell,
			Strength:       clamp((1 - p) * 100),
			Reason:         fmt.Sprintf("P(up)=%.3f <= %.2f", p, 1-s.threshold),
			ReferencePrice: price,
		}
	}
	return model.HoldSignal(price, "P(up)=%.3f inside confidence band", p)
}
