package sqlite

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"trading-enginev1/internal/model"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func candles(n int) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		p := 100 + float64(i)
		out[i] = model.Candle{OpenTime: t0.Add(time.Duration(i) * time.Minute), Open: p, High: p + 1, Low: p - 1, Close: p + 0.5, Volume: 10}
	}
	return out
}

func TestWriterReader_RoundTripOrdered(t *testing.T) {
	path := filepath.Join(t.TempDir(), "candles.db")
	w, err := New(WriterConfig{DBPath: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	cs := candles(5)
	// Out of order and with a duplicate: storage is keyed by open time.
	if err := w.WriteCandles("BTCUSDT", "1m", []model.Candle{cs[3], cs[4], cs[0]}); err != nil {
		t.Fatalf("WriteCandles: %v", err)
	}
	if err := w.WriteCandles("BTCUSDT", "1m", cs[:4]); err != nil {
		t.Fatalf("WriteCandles: %v", err)
	}
	if err := w.WriteCandles("ETHUSDT", "1m", cs[:2]); err != nil {
		t.Fatalf("WriteCandles: %v", err)
	}

	last, err := w.GetLastOpenTime("BTCUSDT", "1m")
	if err != nil || !last.Equal(cs[4].OpenTime) {
		t.Errorf("last open time %v err %v", last, err)
	}
	if none, _ := w.GetLastOpenTime("XRPUSDT", "1m"); !none.IsZero() {
		t.Errorf("unknown symbol last open time %v", none)
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	got, err := r.ReadCandles("BTCUSDT", "1m", time.Time{})
	if err != nil {
		t.Fatalf("ReadCandles: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("read %d candles, want 5", len(got))
	}
	for i, c := range got {
		if !c.OpenTime.Equal(cs[i].OpenTime) || c.Close != cs[i].Close {
			t.Errorf("candle %d: got %+v, want %+v", i, c, cs[i])
		}
	}

	after, _ := r.ReadCandles("BTCUSDT", "1m", cs[2].OpenTime)
	if len(after) != 2 {
		t.Errorf("after filter: %d candles, want 2", len(after))
	}

	syms, _ := r.Symbols("1m")
	if len(syms) != 2 || syms[0] != "BTCUSDT" || syms[1] != "ETHUSDT" {
		t.Errorf("symbols %v", syms)
	}
}

func TestWriter_RunFlushesOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "candles.db")
	w, err := New(WriterConfig{DBPath: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	ch := make(chan CandleRow, 10)
	for _, c := range candles(3) {
		ch <- CandleRow{Symbol: "BTCUSDT", Timeframe: "5m", Candle: c}
	}
	close(ch)
	w.Run(context.Background(), ch)

	last, err := w.GetLastOpenTime("BTCUSDT", "5m")
	if err != nil || !last.Equal(t0.Add(2*time.Minute)) {
		t.Errorf("last open time %v err %v", last, err)
	}
}

func TestJournal_RecordAndQuery(t *testing.T) {
	j, err := NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	defer j.Close()
	ctx := context.Background()

	recs := []model.TradeRecord{
		{ID: "a", Timestamp: t0, Symbol: "BTCUSDT", Strategy: "breakout", Direction: model.Buy,
			EntryPrice: 50000, ExitPrice: 49400, Size: 0.4, RealizedPnL: -240, ExitReason: "stop_loss", OpenedAt: t0.Add(-time.Hour)},
		{ID: "b", Timestamp: t0.Add(time.Minute), Symbol: "ETHUSDT", Strategy: "mean_reversion", Direction: model.Sell,
			EntryPrice: 3000, ExitPrice: 2900, Size: 1, RealizedPnL: 100, ExitReason: "take_profit", OpenedAt: t0},
	}
	for _, r := range recs {
		if err := j.RecordTrade(ctx, r); err != nil {
			t.Fatalf("RecordTrade: %v", err)
		}
	}
	// Duplicate delivery is ignored.
	if err := j.RecordTrade(ctx, recs[0]); err != nil {
		t.Fatalf("RecordTrade duplicate: %v", err)
	}

	got, err := j.GetTrades(10)
	if err != nil {
		t.Fatalf("GetTrades: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("trades %d, want 2", len(got))
	}
	if got[0].ID != "b" || got[1].ID != "a" {
		t.Errorf("order %s,%s want newest first", got[0].ID, got[1].ID)
	}
	if got[1].Direction != model.Buy || got[1].ExitReason != "stop_loss" || !got[1].OpenedAt.Equal(recs[0].OpenedAt) {
		t.Errorf("round trip %+v", got[1])
	}

	total, err := j.RealizedPnL(ctx)
	if err != nil || math.Abs(total-(-140)) > 1e-9 {
		t.Errorf("realized pnl %.2f err %v", total, err)
	}
}

type sliceMarket struct{ candles []model.Candle }

func (m *sliceMarket) GetCandles(_ context.Context, _, _ string, window int) ([]model.Candle, error) {
	if len(m.candles) > window {
		return m.candles[len(m.candles)-window:], nil
	}
	return m.candles, nil
}
func (m *sliceMarket) GetCurrentSpread(context.Context, string) (float64, error)   { return 0, nil }
func (m *sliceMarket) GetMinStopDistance(context.Context, string) (float64, error) { return 0, nil }

func TestRecorder_QueuesOnlyNewCandles(t *testing.T) {
	w, err := New(WriterConfig{DBPath: filepath.Join(t.TempDir(), "candles.db")})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	cs := candles(6)
	if err := w.WriteCandles("BTCUSDT", "1m", cs[:2]); err != nil {
		t.Fatal(err)
	}

	md := &sliceMarket{candles: cs[:4]}
	rec := NewRecorder(md, 10)
	if err := rec.Resume(w, "BTCUSDT", "1m"); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	ctx := context.Background()
	if _, err := rec.GetCandles(ctx, "BTCUSDT", "1m", 3); err != nil {
		t.Fatal(err)
	}
	md.candles = cs
	if _, err := rec.GetCandles(ctx, "BTCUSDT", "1m", 3); err != nil {
		t.Fatal(err)
	}
	rec.Close()
	rec.Close()
	if _, err := rec.GetCandles(ctx, "BTCUSDT", "1m", 3); err != nil {
		t.Fatalf("after close: %v", err)
	}

	var got []time.Time
	for row := range rec.Rows() {
		got = append(got, row.OpenTime)
	}
	// cs[0..1] stored, first fetch sees cs[1..3], second cs[3..5].
	if len(got) != 4 || !got[0].Equal(cs[2].OpenTime) || !got[3].Equal(cs[5].OpenTime) {
		t.Errorf("queued %v", got)
	}
}

func TestRecorder_FullQueueSkipsAhead(t *testing.T) {
	cs := candles(5)
	rec := NewRecorder(&sliceMarket{candles: cs}, 2)
	drops := 0
	rec.OnDrop = func() { drops++ }
	if _, err := rec.GetCandles(context.Background(), "BTCUSDT", "1m", 5); err != nil {
		t.Fatal(err)
	}
	if drops != 1 || len(rec.Rows()) != 2 {
		t.Errorf("drops %d queued %d", drops, len(rec.Rows()))
	}
	// Nothing new: the gap is not retried.
	rec.GetCandles(context.Background(), "BTCUSDT", "1m", 5)
	if drops != 1 {
		t.Errorf("drops %d after refetch", drops)
	}
}
