package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"trading-enginev1/internal/circuit"
	"trading-enginev1/internal/model"
)

type fakeWriter struct {
	mu     sync.Mutex
	fail   bool
	writes []string
}

func (f *fakeWriter) writeTrade(_ context.Context, rec model.TradeRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("connection refused")
	}
	f.writes = append(f.writes, rec.ID)
	return nil
}

func (f *fakeWriter) setFail(v bool) { f.mu.Lock(); f.fail = v; f.mu.Unlock() }

func (f *fakeWriter) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

func TestKeys(t *testing.T) {
	rec := model.TradeRecord{Symbol: "BTCUSDT", Strategy: "breakout"}
	if got := tradeLatestKey(rec); got != "trade:latest:BTCUSDT:breakout" {
		t.Errorf("latest key %q", got)
	}
	if got := signalChannel("ETHUSDT", "classifier"); got != "pub:signal:ETHUSDT:classifier" {
		t.Errorf("signal channel %q", got)
	}
	if got := signalLatestKey("ETHUSDT", "classifier"); got != "signal:latest:ETHUSDT:classifier" {
		t.Errorf("signal key %q", got)
	}
}

func TestSignalEventEncoding(t *testing.T) {
	ev := SignalEvent{
		Symbol: "BTCUSDT", Strategy: "breakout", TraceID: "BTCUSDT:breakout-1",
		Cycle:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Signal: model.Signal{Direction: model.Buy, Strength: 72.5, Reason: "breakout", ReferencePrice: 101},
	}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	sig, ok := m["signal"].(map[string]any)
	if !ok || sig["direction"] != "BUY" || sig["strength"] != 72.5 {
		t.Errorf("payload %s", data)
	}
	if _, ok := sig["target_price"]; ok {
		t.Error("unset target price should be omitted")
	}
}

func TestBufferedPublisher_BuffersAndFlushesOnRecovery(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cb := circuit.New(2, time.Minute).WithClock(func() time.Time { return now })
	fw := &fakeWriter{fail: true}
	bp := newBuffered(context.Background(), fw, cb, 0)
	ctx := context.Background()

	// Two failures open the circuit; both trades are kept.
	for _, id := range []string{"a", "b"} {
		if err := bp.RecordTrade(ctx, model.TradeRecord{ID: id}); err == nil {
			t.Errorf("trade %s: expected write failure", id)
		}
	}
	if cb.CurrentState() != circuit.StateOpen {
		t.Fatalf("state %s, want open", cb.CurrentState())
	}
	// Open circuit: buffered silently.
	if err := bp.RecordTrade(ctx, model.TradeRecord{ID: "c"}); err != nil {
		t.Errorf("open circuit should buffer without error: %v", err)
	}
	if bp.PendingCount() != 3 {
		t.Fatalf("pending %d, want 3", bp.PendingCount())
	}

	fw.setFail(false)
	now = now.Add(2 * time.Minute)
	if err := bp.RecordTrade(ctx, model.TradeRecord{ID: "d"}); err != nil {
		t.Fatalf("test write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for bp.PendingCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if bp.PendingCount() != 0 {
		t.Fatal("buffer not flushed after circuit closed")
	}
	got := fw.written()
	for len(got) < 4 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
		got = fw.written()
	}
	want := []string{"d", "a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("writes %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("writes %v, want %v", got, want)
			break
		}
	}
}

func TestBufferedPublisher_DropsOldestWhenFull(t *testing.T) {
	cb := circuit.New(1, time.Hour)
	fw := &fakeWriter{fail: true}
	bp := newBuffered(context.Background(), fw, cb, 2)

	for _, id := range []string{"a", "b", "c"} {
		bp.RecordTrade(context.Background(), model.TradeRecord{ID: id})
	}
	if bp.PendingCount() != 2 {
		t.Fatalf("pending %d, want 2", bp.PendingCount())
	}
	bp.mu.Lock()
	first := bp.buffer[0].ID
	bp.mu.Unlock()
	if first != "b" {
		t.Errorf("oldest kept %q, want b", first)
	}
}
