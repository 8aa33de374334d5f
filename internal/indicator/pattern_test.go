package indicator

import (
	"errors"
	"testing"
)

func TestDetectPatterns_RisingIsBullishOnly(t *testing.T) {
	w := rising(25)
	ps, err := DetectPatterns(w, 24)
	if err != nil {
		t.Fatalf("DetectPatterns: %v", err)
	}
	if !ps.AscendingTriangle || !ps.Flag {
		t.Errorf("expected ascending triangle and flag, got %v", ps.Names())
	}
	if !ps.Bullish() || ps.Bearish() {
		t.Errorf("Bullish=%v Bearish=%v, want true/false", ps.Bullish(), ps.Bearish())
	}
}

func TestDetectPatterns_FlatIsConflicting(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 10
	}
	ps, err := DetectPatterns(series(closes...), 19)
	if err != nil {
		t.Fatalf("DetectPatterns: %v", err)
	}
	if !ps.Rectangle || !ps.DoubleTop || !ps.DoubleBottom {
		t.Errorf("flat series patterns = %v", ps.Names())
	}
	if !ps.Bullish() || !ps.Bearish() {
		t.Error("flat series should be both bullish and bearish")
	}
}

func TestDetectPatterns_HeadAndShoulders(t *testing.T) {
	w := rising(20)
	// Spike the middle of the last three candles.
	w[18].High = w[19].High + 10
	w[18].Low = w[17].Low - 10
	ps, err := DetectPatterns(w, 19)
	if err != nil {
		t.Fatalf("DetectPatterns: %v", err)
	}
	if !ps.HeadAndShoulders {
		t.Error("expected head and shoulders")
	}
}

func TestDetectPatterns_NoLookAhead(t *testing.T) {
	w := rising(30)
	before, err := DetectPatterns(w, 24)
	if err != nil {
		t.Fatalf("DetectPatterns: %v", err)
	}
	for i := 25; i < len(w); i++ {
		w[i].High = 1000
		w[i].Low = 1
		w[i].Close = 500
	}
	after, _ := DetectPatterns(w, 24)
	if before != after {
		t.Errorf("future candles changed result: %v vs %v", before.Names(), after.Names())
	}
}

func TestDetectPatterns_Insufficient(t *testing.T) {
	if _, err := DetectPatterns(rising(30), 18); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("err = %v, want ErrInsufficientData", err)
	}
	if _, err := DetectPatterns(rising(5), 7); !errors.Is(err, ErrInvalidPeriod) {
		t.Errorf("out of range: err = %v, want ErrInvalidPeriod", err)
	}
}

func TestPersistentPattern(t *testing.T) {
	bull, bear, last, err := PersistentPattern(rising(PersistentLookback))
	if err != nil {
		t.Fatalf("PersistentPattern: %v", err)
	}
	if !bull || bear {
		t.Errorf("bull=%v bear=%v, want true/false", bull, bear)
	}
	if !last.Bullish() {
		t.Error("last set should be bullish")
	}

	if _, _, _, err := PersistentPattern(rising(PersistentLookback - 1)); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("err = %v, want ErrInsufficientData", err)
	}
}
