package indicator

import (
	"fmt"

	"trading-enginev1/internal/model"
)

// Config selects which indicators the engine computes and their periods.
// A zero period disables the indicator.
type Config struct {
	EMAFast int `yaml:"ema_fast"`
	EMASlow int `yaml:"ema_slow"`

	RSIPeriod int `yaml:"rsi_period"`

	MACDFast   int `yaml:"macd_fast"`
	MACDSlow   int `yaml:"macd_slow"`
	MACDSignal int `yaml:"macd_signal"`

	BollingerPeriod int     `yaml:"bollinger_period"`
	BollingerK      float64 `yaml:"bollinger_k"`

	// BreakoutLookback drives the breakout range, momentum and velocity.
	BreakoutLookback int `yaml:"breakout_lookback"`

	// VolumePeriod drives volume_ma and volume_ratio.
	VolumePeriod int `yaml:"volume_period"`

	SMAShort int `yaml:"sma_short"`
	SMALong  int `yaml:"sma_long"`
}

// DefaultConfig enables every indicator with conventional periods.
func DefaultConfig() Config {
	return Config{
		EMAFast:          12,
		EMASlow:          26,
		RSIPeriod:        14,
		MACDFast:         12,
		MACDSlow:         26,
		MACDSignal:       9,
		BollingerPeriod:  20,
		BollingerK:       2,
		BreakoutLookback: 5,
		VolumePeriod:     10,
		SMAShort:         10,
		SMALong:          30,
	}
}

func (c Config) macdEnabled() bool {
	return c.MACDFast > 0 && c.MACDSlow > 0 && c.MACDSignal > 0
}

// Engine computes a Snapshot over a candle window. It holds no state
// between calls, so one Engine may serve a single loop for its lifetime.
type Engine struct {
	cfg      Config
	lookback int
}

// NewEngine creates an engine for cfg.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.macdEnabled() && cfg.MACDFast >= cfg.MACDSlow {
		return nil, fmt.Errorf("indicator: macd fast %d >= slow %d: %w", cfg.MACDFast, cfg.MACDSlow, ErrInvalidPeriod)
	}
	if cfg.BollingerPeriod > 0 && cfg.BollingerK <= 0 {
		return nil, fmt.Errorf("indicator: bollinger k %.2f: %w", cfg.BollingerK, ErrInvalidPeriod)
	}
	return &Engine{cfg: cfg, lookback: cfg.Lookback()}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Lookback returns the minimum window length Compute accepts.
func (e *Engine) Lookback() int { return e.lookback }

// Lookback returns the largest number of candles any enabled indicator needs.
func (c Config) Lookback() int {
	need := 1
	grow := func(n int) {
		if n > need {
			need = n
		}
	}
	grow(c.EMAFast)
	grow(c.EMASlow)
	if c.RSIPeriod > 0 {
		grow(c.RSIPeriod + 1)
	}
	if c.macdEnabled() {
		grow(MACDLookback(c.MACDSlow, c.MACDSignal))
	}
	grow(c.BollingerPeriod)
	if c.BreakoutLookback > 0 {
		grow(c.BreakoutLookback + 1)
		grow(VelocityPeriod + 1)
	}
	grow(c.VolumePeriod)
	grow(c.SMAShort)
	grow(c.SMALong)
	return need
}

// Compute evaluates every enabled indicator at the last candle of window.
// If any indicator lacks data the whole computation fails with
// ErrInsufficientData and no partial snapshot is returned.
func (e *Engine) Compute(window []model.Candle) (Snapshot, error) {
	if len(window) < e.lookback {
		return nil, fmt.Errorf("indicator: have %d candles, need %d: %w", len(window), e.lookback, ErrInsufficientData)
	}

	c := e.cfg
	snap := make(Snapshot, 20)
	snap[KeyClose] = window[len(window)-1].Close

	put := func(key string, v float64, err error) error {
		if err != nil {
			return err
		}
		snap[key] = v
		return nil
	}

	if c.EMAFast > 0 {
		v, err := EMAOf(window, c.EMAFast)
		if err := put(KeyEMAFast, v, err); err != nil {
			return nil, err
		}
	}
	if c.EMASlow > 0 {
		v, err := EMAOf(window, c.EMASlow)
		if err := put(KeyEMASlow, v, err); err != nil {
			return nil, err
		}
	}
	if c.RSIPeriod > 0 {
		v, err := RSIOf(window, c.RSIPeriod)
		if err := put(KeyRSI, v, err); err != nil {
			return nil, err
		}
	}
	if c.macdEnabled() {
		m, err := MACD(window, c.MACDFast, c.MACDSlow, c.MACDSignal)
		if err != nil {
			return nil, err
		}
		snap[KeyMACD] = m.MACD
		snap[KeyMACDSignal] = m.Signal
		snap[KeyMACDHist] = m.Hist
		snap[KeyMACDHistPrev] = m.PrevHist
	}
	if c.BollingerPeriod > 0 {
		b, err := Bollinger(window, c.BollingerPeriod, c.BollingerK)
		if err != nil {
			return nil, err
		}
		snap[KeyBBUpper] = b.Upper
		snap[KeyBBMiddle] = b.Middle
		snap[KeyBBLower] = b.Lower
	}
	if c.BreakoutLookback > 0 {
		hi, lo, err := Breakout(window, c.BreakoutLookback)
		if err != nil {
			return nil, err
		}
		snap[KeyBreakoutHigh] = hi
		snap[KeyBreakoutLow] = lo

		mom, err := Momentum(window, c.BreakoutLookback)
		if err := put(KeyMomentum, mom, err); err != nil {
			return nil, err
		}
		vel, err := Velocity(window)
		if err := put(KeyVelocity, vel, err); err != nil {
			return nil, err
		}
	}
	if c.VolumePeriod > 0 {
		ma, err := VolumeMA(window, c.VolumePeriod)
		if err := put(KeyVolumeMA, ma, err); err != nil {
			return nil, err
		}
		vr, err := VolumeRatio(window, c.VolumePeriod)
		if err := put(KeyVolumeRatio, vr, err); err != nil {
			return nil, err
		}
	}
	if c.SMAShort > 0 {
		v, err := SMAOf(window, c.SMAShort)
		if err := put(KeySMAShort, v, err); err != nil {
			return nil, err
		}
	}
	if c.SMALong > 0 {
		v, err := SMAOf(window, c.SMALong)
		if err := put(KeySMALong, v, err); err != nil {
			return nil, err
		}
	}

	return snap, nil
}
