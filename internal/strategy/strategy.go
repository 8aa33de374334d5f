// Package strategy turns an indicator snapshot into a directional signal.
//
// Every variant implements Strategy. Strategies hold no state between
// cycles: the same snapshot and window always produce the same signal, so one
// instance is safe to reuse across cycles of a single loop. Variants that can
// also decide when to leave a position implement Exiter.
package strategy

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"trading-enginev1/internal/indicator"
	"trading-enginev1/internal/model"
)

var (
	// ErrUnknownStrategy is returned by New for an unregistered name.
	ErrUnknownStrategy = errors.New("strategy: unknown strategy")

	// ErrInvalidConfig is returned by New when parameters are out of range.
	ErrInvalidConfig = errors.New("strategy: invalid config")
)

// Strategy is the interface that all signal generators implement.
type Strategy interface {
	// Name returns the registered strategy name.
	Name() string

	// Lookback returns the minimum number of candles Evaluate needs.
	Lookback() int

	// Indicators returns the indicator set the snapshot must carry.
	Indicators() indicator.Config

	// Evaluate maps the snapshot and its window to a signal.
	// Missing or insufficient data yields Hold, never an error.
	Evaluate(snap indicator.Snapshot, window []model.Candle) model.Signal
}

// Exiter is implemented by strategies that can request an exit on their own
// criteria in addition to the stop-loss and take-profit levels.
type Exiter interface {
	ShouldExit(pos model.Position, snap indicator.Snapshot, window []model.Candle) (bool, string)
}

// Registered strategy names.
const (
	NameTrendOscillator   = "trend_oscillator"
	NameMeanReversion     = "mean_reversion"
	NameBreakout          = "breakout"
	NameClassifier        = "classifier"
	NameMultiConfirmation = "multi_confirmation"
	NameRSIReversal       = "rsi_reversal"
	NameZScore            = "zscore"
)

// Config holds the parameters of every variant. Each variant reads only the
// fields it needs. Indicator periods come from Indicators.
type Config struct {
	Indicators indicator.Config `yaml:"indicators"`

	// trend_oscillator, rsi_reversal
	RSIOverbought float64 `yaml:"rsi_overbought"`
	RSIOversold   float64 `yaml:"rsi_oversold"`

	// breakout
	BreakoutThreshold float64 `yaml:"breakout_threshold"`
	VolumeMultiplier  float64 `yaml:"volume_multiplier"`

	// classifier
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	ModelPath           string  `yaml:"model_path"`

	// multi_confirmation
	MinConfirmations int `yaml:"min_confirmations"`

	// zscore
	ZScoreWindow    int     `yaml:"zscore_window"`
	ZScoreThreshold float64 `yaml:"zscore_threshold"`
}

// DefaultConfig returns the parameters used when a bot file omits them.
func DefaultConfig() Config {
	return Config{
		Indicators:          indicator.DefaultConfig(),
		RSIOverbought:       70,
		RSIOversold:         30,
		BreakoutThreshold:   0.005,
		VolumeMultiplier:    1.5,
		ConfidenceThreshold: 0.6,
		MinConfirmations:    4,
		ZScoreWindow:        50,
		ZScoreThreshold:     0.0001,
	}
}

// Deps carries collaborators some variants need.
type Deps struct {
	Classifier model.Classifier
	Logger     *slog.Logger
}

type factory func(Config, Deps) (Strategy, error)

var registry = map[string]factory{
	NameTrendOscillator:   newTrendOscillator,
	NameMeanReversion:     newMeanReversion,
	NameBreakout:          newBreakout,
	NameClassifier:        newClassifier,
	NameMultiConfirmation: newMultiConfirmation,
	NameRSIReversal:       newRSIReversal,
	NameZScore:            newZScore,
}

// New builds the strategy registered under name.
func New(name string, cfg Config, deps Deps) (Strategy, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownStrategy, name, Names())
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return f(cfg, deps)
}

// Names returns the registered strategy names, sorted.
func Names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func invalid(name, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidConfig, name, fmt.Sprintf(format, args...))
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

func lastClose(window []model.Candle) float64 {
	if len(window) == 0 {
		return 0
	}
	return window[len(window)-1].Close
}
