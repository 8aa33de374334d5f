// Package stream pushes loop activity (entries, exits, trades) to websocket
// clients such as dashboards.
package stream

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"trading-enginev1/internal/model"
	"trading-enginev1/internal/orchestrator"
	"trading-enginev1/internal/position"
)

const (
	sendBuffer   = 256
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Envelope is one message sent to clients.
type Envelope struct {
	Seq  int64           `json:"seq"`
	Type string          `json:"type"` // cycle | trade | gap
	Key  string          `json:"key,omitempty"`
	TS   time.Time       `json:"ts"`
	Data json.RawMessage `json:"data,omitempty"`
}

// CycleEvent is the payload of a "cycle" envelope.
type CycleEvent struct {
	Cycle     time.Time            `json:"cycle"`
	TraceID   string               `json:"trace_id"`
	Outcome   orchestrator.Outcome `json:"outcome"`
	Direction model.Direction      `json:"direction"`
	Strength  float64              `json:"strength"`
	Action    position.Action      `json:"action,omitempty"`
	Reason    string               `json:"reason,omitempty"`
	Price     float64              `json:"price"`
	Error     string               `json:"error,omitempty"`
}

// Hub fans events out to connected websocket clients. Clients that fall
// behind are disconnected rather than slowing the publisher.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]bool
	seq     int64
	backlog *Backlog
	now     func() time.Time
}

// NewHub creates a hub that keeps the last backlogSize envelopes.
func NewHub(backlogSize int) *Hub {
	return &Hub{
		clients: make(map[*client]bool),
		backlog: NewBacklog(backlogSize),
		now:     time.Now,
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// PublishCycle broadcasts a loop report. Quiet cycles (holds, insufficient
// data, positions held without change) are skipped.
func (h *Hub) PublishCycle(rep orchestrator.CycleReport) {
	switch {
	case rep.Outcome == orchestrator.OutcomeHold, rep.Outcome == orchestrator.OutcomeInsufficientData:
		return
	case rep.Outcome == orchestrator.OutcomeManage && rep.Action == position.ActionHeld:
		return
	}
	ev := CycleEvent{
		Cycle:     rep.Cycle,
		TraceID:   rep.TraceID,
		Outcome:   rep.Outcome,
		Direction: rep.Signal.Direction,
		Strength:  rep.Signal.Strength,
		Action:    rep.Action,
		Reason:    rep.Reason,
		Price:     rep.Price,
	}
	if rep.Err != nil {
		ev.Error = rep.Err.Error()
	}
	h.publish("cycle", rep.Key(), ev)
	if rep.Trade != nil {
		h.publish("trade", rep.Key(), rep.Trade)
	}
}

func (h *Hub) publish(typ, key string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[stream] marshal %s: %v", typ, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	msg, _ := json.Marshal(Envelope{Seq: h.seq, Type: typ, Key: key, TS: h.now().UTC(), Data: data})
	h.backlog.Push(h.seq, msg)
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			log.Printf("[stream] client %s too slow, disconnecting", c.addr)
			h.remove(c)
		}
	}
}

// remove must be called with h.mu held.
func (h *Hub) remove(c *client) {
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
}

// ServeHTTP upgrades the request to a websocket. A since_seq query
// parameter replays the backlog after that sequence.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[stream] upgrade error: %v", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer), addr: r.RemoteAddr}

	h.mu.Lock()
	if s := r.URL.Query().Get("since_seq"); s != "" {
		if since, err := strconv.ParseInt(s, 10, 64); err == nil {
			missed, gap := h.backlog.Since(since)
			if gap {
				msg, _ := json.Marshal(Envelope{Seq: since, Type: "gap", TS: h.now().UTC()})
				c.send <- msg
			}
			for _, m := range missed {
				select {
				case c.send <- m:
				default:
				}
			}
		}
	}
	h.clients[c] = true
	h.mu.Unlock()
	log.Printf("[stream] client %s connected", c.addr)

	go c.writePump()
	c.readPump(h)
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	addr string
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client messages and unregisters on disconnect.
func (c *client) readPump(h *Hub) {
	defer func() {
		h.mu.Lock()
		h.remove(c)
		h.mu.Unlock()
		c.conn.Close()
		log.Printf("[stream] client %s disconnected", c.addr)
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
