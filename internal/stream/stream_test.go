package stream

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"trading-enginev1/internal/model"
	"trading-enginev1/internal/orchestrator"
	"trading-enginev1/internal/position"
)

func TestBacklog_Since(t *testing.T) {
	b := NewBacklog(5)
	for i := int64(1); i <= 8; i++ {
		b.Push(i, []byte{byte('0' + i)})
	}
	if b.Len() != 5 {
		t.Fatalf("Len = %d", b.Len())
	}

	got, gap := b.Since(5)
	if gap || len(got) != 3 || string(got[0]) != "6" || string(got[2]) != "8" {
		t.Errorf("Since(5) = %q gap=%v", got, gap)
	}
	got, gap = b.Since(1) // 2 and 3 were overwritten
	if !gap || len(got) != 5 || string(got[0]) != "4" {
		t.Errorf("Since(1) = %q gap=%v", got, gap)
	}
	if got, gap := b.Since(8); gap || len(got) != 0 {
		t.Errorf("Since(8) = %q gap=%v", got, gap)
	}
}

func entryReport() orchestrator.CycleReport {
	return orchestrator.CycleReport{
		Symbol:   "BTCUSDT",
		Strategy: "breakout",
		Outcome:  orchestrator.OutcomeEntry,
		Signal:   model.Signal{Direction: model.Buy, Strength: 72},
		Action:   position.ActionOpened,
		Price:    50000,
	}
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func read(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		t.Fatalf("decode %s: %v", msg, err)
	}
	return env
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", h.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_BroadcastsActivity(t *testing.T) {
	h := NewHub(10)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv, "")
	defer conn.Close()
	waitClients(t, h, 1)

	h.PublishCycle(orchestrator.CycleReport{Symbol: "BTCUSDT", Strategy: "breakout", Outcome: orchestrator.OutcomeHold})
	h.PublishCycle(entryReport())

	env := read(t, conn)
	if env.Seq != 1 || env.Type != "cycle" || env.Key != "BTCUSDT:breakout" {
		t.Fatalf("envelope %+v", env)
	}
	var ev CycleEvent
	json.Unmarshal(env.Data, &ev)
	if ev.Action != position.ActionOpened || ev.Direction != model.Buy || ev.Price != 50000 {
		t.Errorf("event %+v", ev)
	}

	rep := orchestrator.CycleReport{
		Symbol: "BTCUSDT", Strategy: "breakout", Outcome: orchestrator.OutcomeManage,
		Action: position.ActionClosed, Err: errors.New("late fill"),
		Trade: &model.TradeRecord{ID: "t-1", RealizedPnL: 12.5},
	}
	h.PublishCycle(rep)
	if env := read(t, conn); env.Type != "cycle" || !strings.Contains(string(env.Data), "late fill") {
		t.Errorf("close envelope %+v", env)
	}
	env = read(t, conn)
	var trade model.TradeRecord
	json.Unmarshal(env.Data, &trade)
	if env.Type != "trade" || env.Seq != 3 || trade.ID != "t-1" {
		t.Errorf("trade envelope %+v", env)
	}

	conn.Close()
	waitClients(t, h, 0)
}

func TestHub_ReplaysBacklogOnReconnect(t *testing.T) {
	h := NewHub(2)
	srv := httptest.NewServer(h)
	defer srv.Close()

	for i := 0; i < 4; i++ {
		h.PublishCycle(entryReport())
	}

	conn := dial(t, srv, "?since_seq=1")
	defer conn.Close()
	if env := read(t, conn); env.Type != "gap" || env.Seq != 1 {
		t.Errorf("expected gap marker, got %+v", env)
	}
	if env := read(t, conn); env.Seq != 3 {
		t.Errorf("first replayed seq %d", env.Seq)
	}
	if env := read(t, conn); env.Seq != 4 {
		t.Errorf("second replayed seq %d", env.Seq)
	}
}
