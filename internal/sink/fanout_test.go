package sink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"trading-enginev1/internal/logger"
	"trading-enginev1/internal/model"
)

type recorder struct {
	mu    sync.Mutex
	ids   []string
	fail  bool
	block chan struct{}
}

func (r *recorder) RecordTrade(_ context.Context, rec model.TradeRecord) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("disk full")
	}
	r.ids = append(r.ids, rec.ID)
	return nil
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func TestFanOut_DeliversToAllSinks(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	f := New(8, time.Second, logger.Discard())
	f.Add("a", a)
	f.Add("b", b)
	f.Start(context.Background())

	for _, id := range []string{"1", "2", "3"} {
		if err := f.RecordTrade(context.Background(), model.TradeRecord{ID: id}); err != nil {
			t.Fatalf("RecordTrade: %v", err)
		}
	}
	f.Close()

	for name, r := range map[string]*recorder{"a": a, "b": b} {
		if got := r.got(); len(got) != 3 || got[0] != "1" || got[2] != "3" {
			t.Errorf("sink %s got %v", name, got)
		}
	}
}

func TestFanOut_FailingSinkIsIsolated(t *testing.T) {
	good, bad := &recorder{}, &recorder{fail: true}
	f := New(8, time.Second, logger.Discard())
	var mu sync.Mutex
	failures := map[string]int{}
	f.OnError = func(name string, _ error) { mu.Lock(); failures[name]++; mu.Unlock() }
	f.Add("good", good)
	f.Add("bad", bad)
	f.Start(context.Background())

	f.RecordTrade(context.Background(), model.TradeRecord{ID: "1"})
	f.RecordTrade(context.Background(), model.TradeRecord{ID: "2"})
	f.Close()

	if len(good.got()) != 2 {
		t.Errorf("good sink got %v", good.got())
	}
	if failures["bad"] != 2 || failures["good"] != 0 {
		t.Errorf("failures %v", failures)
	}
}

func TestFanOut_SlowSinkDropsInsteadOfBlocking(t *testing.T) {
	slow := &recorder{block: make(chan struct{})}
	f := New(1, time.Second, logger.Discard())
	var drops int
	f.OnDrop = func(string) { drops++ }
	f.Add("slow", slow)
	f.Start(context.Background())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			f.RecordTrade(context.Background(), model.TradeRecord{ID: "x"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RecordTrade blocked on a slow sink")
	}
	if drops == 0 {
		t.Error("expected drops with a full queue")
	}
	close(slow.block)
	f.Close()
}

func TestFanOut_AfterCloseIsIgnored(t *testing.T) {
	r := &recorder{}
	f := New(4, time.Second, logger.Discard())
	f.Add("r", r)
	f.Start(context.Background())
	f.Close()
	if err := f.RecordTrade(context.Background(), model.TradeRecord{ID: "late"}); err != nil {
		t.Errorf("RecordTrade after close: %v", err)
	}
	if len(r.got()) != 0 {
		t.Error("trade recorded after close")
	}
}
