package indicator

import (
	"errors"
	"testing"
)

func TestEngine_DefaultLookback(t *testing.T) {
	e, err := NewEngine(DefaultConfig())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	// MACD(12,26,9) with previous histogram dominates: 26 + 9
	if e.Lookback() != 35 {
		t.Errorf("Lookback = %d, want 35", e.Lookback())
	}
}

func TestEngine_Compute_AllKeys(t *testing.T) {
	e, _ := NewEngine(DefaultConfig())
	snap, err := e.Compute(rising(35))
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	keys := []string{
		KeyEMAFast, KeyEMASlow, KeyRSI, KeyMACD, KeyMACDSignal, KeyMACDHist, KeyMACDHistPrev,
		KeyBBUpper, KeyBBMiddle, KeyBBLower, KeyBreakoutHigh, KeyBreakoutLow, KeyMomentum,
		KeyVolumeMA, KeyVolumeRatio, KeyVelocity, KeySMAShort, KeySMALong, KeyClose,
	}
	if !snap.Ready(keys...) {
		for _, k := range keys {
			if _, ok := snap.Get(k); !ok {
				t.Errorf("missing key %q", k)
			}
		}
	}
	assertClose(t, "close", snap[KeyClose], 134, 0)
	assertClose(t, "rsi", snap[KeyRSI], 100, 0)
}

func TestEngine_Compute_InsufficientIsAllOrNothing(t *testing.T) {
	e, _ := NewEngine(DefaultConfig())
	snap, err := e.Compute(rising(34))
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("err = %v, want ErrInsufficientData", err)
	}
	if snap != nil {
		t.Errorf("expected nil snapshot, got %d keys", len(snap))
	}
}

func TestEngine_DisabledIndicators(t *testing.T) {
	e, err := NewEngine(Config{RSIPeriod: 14})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if e.Lookback() != 15 {
		t.Errorf("Lookback = %d, want 15", e.Lookback())
	}
	snap, err := e.Compute(rising(15))
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if _, ok := snap.Get(KeyMACD); ok {
		t.Error("macd computed although disabled")
	}
	if _, err := snap.Require(KeyRSI, KeyClose); err != nil {
		t.Errorf("Require: %v", err)
	}
	if _, err := snap.Require(KeyBBUpper); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("Require missing: err = %v, want ErrInsufficientData", err)
	}
}

func TestEngine_Deterministic(t *testing.T) {
	e, _ := NewEngine(DefaultConfig())
	w := rising(60)
	a, _ := e.Compute(w)
	b, _ := e.Compute(w)
	for k, v := range a {
		if b[k] != v {
			t.Errorf("%s: %v != %v", k, v, b[k])
		}
	}
}

func TestNewEngine_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MACDFast = 30
	if _, err := NewEngine(cfg); !errors.Is(err, ErrInvalidPeriod) {
		t.Errorf("macd fast >= slow: err = %v", err)
	}
	cfg = DefaultConfig()
	cfg.BollingerK = 0
	if _, err := NewEngine(cfg); !errors.Is(err, ErrInvalidPeriod) {
		t.Errorf("bollinger k = 0: err = %v", err)
	}
}
