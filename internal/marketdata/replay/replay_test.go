package replay

import (
	"context"
	"testing"
	"time"

	"trading-enginev1/internal/model"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type memSource map[string][]model.Candle

func (m memSource) ReadCandles(symbol, _ string, after time.Time) ([]model.Candle, error) {
	var out []model.Candle
	for _, c := range m[symbol] {
		if after.IsZero() || c.OpenTime.After(after) {
			out = append(out, c)
		}
	}
	return out, nil
}

func series(start time.Time, n int, step time.Duration) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		out[i] = model.Candle{OpenTime: start.Add(time.Duration(i) * step), Close: float64(100 + i)}
	}
	return out
}

func TestFeed_OnlyClosedCandlesVisible(t *testing.T) {
	src := memSource{"BTCUSDT": series(t0, 5, time.Minute)}
	f, err := Load(src, []string{"BTCUSDT"}, "1m", time.Time{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ctx := context.Background()

	f.Advance(t0.Add(150 * time.Second)) // candles 0 and 1 closed, 2 forming
	got, err := f.GetCandles(ctx, "BTCUSDT", "1m", 10)
	if err != nil {
		t.Fatalf("GetCandles: %v", err)
	}
	if len(got) != 2 || got[1].Close != 101 {
		t.Errorf("visible %+v", got)
	}
	if last, ok := f.Last("BTCUSDT"); !ok || last.Close != 101 {
		t.Errorf("last %+v", last)
	}

	f.Advance(t0.Add(time.Hour))
	got, _ = f.GetCandles(ctx, "BTCUSDT", "1m", 3)
	if len(got) != 3 || got[0].Close != 102 || got[2].Close != 104 {
		t.Errorf("window %+v", got)
	}

	if _, err := f.GetCandles(ctx, "ETHUSDT", "1m", 3); err == nil {
		t.Error("expected error for unknown symbol")
	}
	if _, err := f.GetCandles(ctx, "BTCUSDT", "5m", 3); err == nil {
		t.Error("expected timeframe mismatch")
	}
}

func TestFeed_ReplayStepsEveryCloseTime(t *testing.T) {
	src := memSource{
		"BTCUSDT": series(t0, 3, time.Minute),
		"ETHUSDT": series(t0.Add(time.Minute), 3, time.Minute), // overlaps two close times
	}
	f, err := Load(src, []string{"BTCUSDT", "ETHUSDT"}, "1m", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	f.WithSpecs(model.InstrumentSpec{Spread: 0.5}, map[string]model.InstrumentSpec{"ETHUSDT": {MinStopDistance: 3}})

	var steps []time.Time
	err = f.Replay(context.Background(), 0, func(now time.Time) {
		if !f.Now().Equal(now) {
			t.Errorf("clock %v at step %v", f.Now(), now)
		}
		steps = append(steps, now)
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(steps) != 4 {
		t.Fatalf("steps %d, want 4", len(steps))
	}
	if !steps[0].Equal(t0.Add(time.Minute)) || !steps[3].Equal(t0.Add(4*time.Minute)) {
		t.Errorf("steps %v", steps)
	}

	ctx := context.Background()
	if s, _ := f.GetCurrentSpread(ctx, "BTCUSDT"); s != 0.5 {
		t.Errorf("default spread %v", s)
	}
	if d, _ := f.GetMinStopDistance(ctx, "ETHUSDT"); d != 3 {
		t.Errorf("min stop %v", d)
	}
}

func TestFeed_ReplayHonoursCancel(t *testing.T) {
	f, _ := Load(memSource{"BTCUSDT": series(t0, 3, time.Minute)}, []string{"BTCUSDT"}, "1m", time.Time{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	if err := f.Replay(ctx, 0, func(time.Time) { calls++ }); err == nil || calls != 0 {
		t.Errorf("err %v calls %d", err, calls)
	}
}
