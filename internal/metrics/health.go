package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"trading-enginev1/internal/orchestrator"
)

// loopHealth is the last observed cycle of one loop.
type loopHealth struct {
	Poll        time.Duration
	LastCycle   time.Time
	LastOutcome orchestrator.Outcome
	LastError   string
}

// LoopStatus is the /healthz view of one loop.
type LoopStatus struct {
	Key         string `json:"key"`
	LastCycle   string `json:"last_cycle"`
	CycleAge    string `json:"cycle_age"`
	LastOutcome string `json:"last_outcome"`
	LastError   string `json:"last_error,omitempty"`
	Stale       bool   `json:"stale"`
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	loops map[string]*loopHealth

	feedEnabled   bool
	WSConnected   bool
	redisEnabled  bool
	Redis         bool
	sqliteEnabled bool
	SQLiteOK      bool

	RedisLatencyMs  float64
	SQLiteLatencyMs float64
	LastCheckAt     time.Time
	StartedAt       time.Time

	now func() time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		loops:     map[string]*loopHealth{},
		StartedAt: time.Now(),
		now:       time.Now,
	}
}

// RegisterLoop declares a loop. A loop that has not cycled within three
// poll intervals is reported stale.
func (h *HealthStatus) RegisterLoop(key string, poll time.Duration) {
	h.mu.Lock()
	h.loops[key] = &loopHealth{Poll: poll}
	h.mu.Unlock()
}

// ObserveCycle records the last cycle of a loop.
func (h *HealthStatus) ObserveCycle(rep orchestrator.CycleReport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	lh, ok := h.loops[rep.Key()]
	if !ok {
		lh = &loopHealth{}
		h.loops[rep.Key()] = lh
	}
	lh.LastCycle = h.now()
	lh.LastOutcome = rep.Outcome
	lh.LastError = ""
	if rep.Err != nil {
		lh.LastError = rep.Err.Error()
	}
}

// SetWSConnected marks the kline stream state. The first call enables the
// check.
func (h *HealthStatus) SetWSConnected(v bool) {
	h.mu.Lock()
	h.feedEnabled = true
	h.WSConnected = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.redisEnabled = true
	h.Redis = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the journal database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.sqliteEnabled = true
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Nil dependencies
// are skipped.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	check := func() {
		checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if rdb != nil {
			h.CheckRedis(checkCtx, rdb)
		}
		if sqlDB != nil {
			h.CheckSQLite(checkCtx, sqlDB)
		}
	}
	go func() {
		check()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				check()
			}
		}
	}()
}

func (h *HealthStatus) loopStatuses(now time.Time) []LoopStatus {
	out := make([]LoopStatus, 0, len(h.loops))
	for key, lh := range h.loops {
		ls := LoopStatus{Key: key, LastOutcome: string(lh.LastOutcome), LastError: lh.LastError}
		if lh.LastCycle.IsZero() {
			ls.Stale = true
		} else {
			age := now.Sub(lh.LastCycle)
			ls.LastCycle = lh.LastCycle.UTC().Format(time.RFC3339)
			ls.CycleAge = age.Round(time.Millisecond).String()
			ls.Stale = lh.Poll > 0 && age > 3*lh.Poll
		}
		out = append(out, ls)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	loops := h.loopStatuses(h.now())
	stale := 0
	for _, l := range loops {
		if l.Stale {
			stale++
		}
	}

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if stale > 0 || (h.feedEnabled && !h.WSConnected) ||
		(h.redisEnabled && !h.Redis) || (h.sqliteEnabled && !h.SQLiteOK) {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if len(loops) > 0 && stale == len(loops) {
		overallStatus = "unhealthy"
	}

	status := struct {
		Status          string       `json:"status"`
		Uptime          string       `json:"uptime"`
		Loops           []LoopStatus `json:"loops"`
		WSConnected     *bool        `json:"ws_connected,omitempty"`
		RedisConnected  *bool        `json:"redis_connected,omitempty"`
		RedisLatencyMs  float64      `json:"redis_latency_ms,omitempty"`
		SQLiteOK        *bool        `json:"sqlite_ok,omitempty"`
		SQLiteLatencyMs float64      `json:"sqlite_latency_ms,omitempty"`
		LastCheckAt     string       `json:"last_check_at,omitempty"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		Loops:           loops,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
	}
	if h.feedEnabled {
		v := h.WSConnected
		status.WSConnected = &v
	}
	if h.redisEnabled {
		v := h.Redis
		status.RedisConnected = &v
	}
	if h.sqliteEnabled {
		v := h.SQLiteOK
		status.SQLiteOK = &v
	}
	if !h.LastCheckAt.IsZero() {
		status.LastCheckAt = h.LastCheckAt.Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}
