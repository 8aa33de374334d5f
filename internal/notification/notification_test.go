package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"trading-enginev1/internal/circuit"
	"trading-enginev1/internal/model"
	"trading-enginev1/internal/orchestrator"
	"trading-enginev1/internal/position"
)

type recorder struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (r *recorder) Send(_ context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return r.err
}

func (r *recorder) titles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.alerts))
	for i, a := range r.alerts {
		out[i] = a.Title
	}
	return out
}

// drain delivers everything queued so far.
func drain(a *Alerter) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a.Run(ctx)
}

func rep(action position.Action) orchestrator.CycleReport {
	return orchestrator.CycleReport{Symbol: "BTCUSDT", Strategy: "breakout", Action: action, Reason: "insufficient margin"}
}

func TestAlerter_RepeatedRejection(t *testing.T) {
	rec := &recorder{}
	a := NewAlerter(rec, 2)

	a.ObserveCycle(rep(position.ActionOpenRejected))
	drain(a)
	if len(rec.titles()) != 0 {
		t.Fatalf("alert after one rejection: %v", rec.titles())
	}

	a.ObserveCycle(rep(position.ActionOpenRejected))
	a.ObserveCycle(rep(position.ActionOpenRejected)) // streak continues, no second alert
	drain(a)
	if got := rec.titles(); len(got) != 1 || got[0] != "Broker rejecting orders" {
		t.Fatalf("alerts %v", got)
	}
	if rec.alerts[0].Symbol != "BTCUSDT" || !strings.Contains(rec.alerts[0].Message, "insufficient margin") {
		t.Errorf("alert %+v", rec.alerts[0])
	}

	a.ObserveCycle(rep(position.ActionOpened)) // resets the streak
	a.ObserveCycle(rep(position.ActionCloseFailed))
	a.ObserveCycle(rep(position.ActionCloseFailed))
	drain(a)
	if got := rec.titles(); len(got) != 2 {
		t.Errorf("alerts after second streak %v", got)
	}
}

func TestAlerter_TradeClosed(t *testing.T) {
	rec := &recorder{}
	a := NewAlerter(rec, 0)
	r := rep(position.ActionClosed)
	r.Trade = &model.TradeRecord{Direction: model.Buy, Size: 0.4, EntryPrice: 50000, ExitPrice: 49500, RealizedPnL: -200, ExitReason: position.ExitStopLoss}
	a.ObserveCycle(r)
	drain(a)

	if len(rec.alerts) != 1 {
		t.Fatalf("alerts %v", rec.titles())
	}
	got := rec.alerts[0]
	if got.Level != AlertWarning || !strings.Contains(got.Message, "stop_loss") {
		t.Errorf("alert %+v", got)
	}
}

func TestAlerter_CircuitTransitions(t *testing.T) {
	rec := &recorder{}
	a := NewAlerter(rec, 0)

	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	cb := circuit.New(1, time.Minute).WithClock(func() time.Time { return now })
	cb.OnStateChange = a.CircuitChanged("broker")

	cb.Record(errors.New("connection refused"))
	now = now.Add(2 * time.Minute)
	if err := cb.Allow(); err != nil {
		t.Fatalf("trial call not allowed: %v", err)
	}
	cb.Record(nil)
	drain(a)

	got := rec.titles()
	if len(got) != 2 || got[0] != "broker circuit breaker open" || got[1] != "broker circuit breaker closed" {
		t.Errorf("alerts %v", got)
	}
	if rec.alerts[0].Level != AlertCritical {
		t.Errorf("level %s", rec.alerts[0].Level)
	}
}

func TestAlerter_DropsWhenQueueFull(t *testing.T) {
	a := NewAlerter(&recorder{}, 0)
	dropped := 0
	a.OnDrop = func(Alert) { dropped++ }
	for i := 0; i < defaultQueueSize+3; i++ {
		a.ObserveCycle(orchestrator.CycleReport{Trade: &model.TradeRecord{}})
	}
	if dropped != 3 {
		t.Errorf("dropped %d, want 3", dropped)
	}
}

func TestMulti_JoinsErrors(t *testing.T) {
	ok, bad := &recorder{}, &recorder{err: errors.New("down")}
	err := Multi{ok, bad}.Send(context.Background(), Alert{Title: "x"})
	if err == nil || len(ok.alerts) != 1 || len(bad.alerts) != 1 {
		t.Errorf("err %v, ok %d, bad %d", err, len(ok.alerts), len(bad.alerts))
	}
}

func TestWebhookNotifier(t *testing.T) {
	var got Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("request %s %s", r.Method, r.Header.Get("Content-Type"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	err := n.Send(context.Background(), Alert{Level: AlertCritical, Title: "t", Message: "m", Symbol: "BTCUSDT"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.Title != "t" || got.Symbol != "BTCUSDT" || got.Time.IsZero() {
		t.Errorf("payload %+v", got)
	}
}

func TestWebhookNotifier_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	if err := NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{Title: "retry"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestWebhookNotifier_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()
	if err := NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{}); err == nil {
		t.Error("expected error")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestTelegramNotifier(t *testing.T) {
	var sent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"engine","username":"engine_bot"}}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			r.ParseForm()
			sent = r.FormValue("text")
			if r.FormValue("chat_id") != "-100" || r.FormValue("parse_mode") != "MarkdownV2" {
				t.Errorf("form %v", r.Form)
			}
			io.WriteString(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":-100,"type":"group"}}}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	n, err := NewTelegramNotifier(TelegramConfig{BotToken: "tok", ChatID: "-100", Endpoint: srv.URL + "/bot%s/%s"})
	if err != nil {
		t.Fatalf("NewTelegramNotifier: %v", err)
	}
	if err := n.Send(context.Background(), Alert{Level: AlertCritical, Title: "broker circuit breaker open", Message: "P&L -1.5"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !strings.Contains(sent, `P&L \-1\.5`) || !strings.HasPrefix(sent, "🚨") {
		t.Errorf("text %q", sent)
	}

	if _, err := NewTelegramNotifier(TelegramConfig{ChatID: "abc"}); err == nil {
		t.Error("expected chat id error")
	}
}
