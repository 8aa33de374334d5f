package portfolio

import (
	"sync"
	"time"
)

// Account is the capital pool shared by every loop trading it. Balance and
// the daily-loss counter change only through its methods, which serialize on
// one mutex.
type Account struct {
	mu        sync.Mutex
	balance   float64
	peak      float64
	dailyLoss float64
	day       time.Time // UTC midnight of the day dailyLoss belongs to
	now       func() time.Time
}

// AccountStatus is a point-in-time copy of the account.
type AccountStatus struct {
	Balance     float64   `json:"balance"`
	PeakBalance float64   `json:"peak_balance"`
	DailyLoss   float64   `json:"daily_loss"`
	DrawdownPct float64   `json:"drawdown_pct"`
	Day         time.Time `json:"day"`
}

// NewAccount creates an account with the starting balance. A nil clock
// defaults to time.Now.
func NewAccount(balance float64, now func() time.Time) *Account {
	if now == nil {
		now = time.Now
	}
	return &Account{
		balance: balance,
		peak:    balance,
		day:     utcDay(now()),
		now:     now,
	}
}

func utcDay(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

// rollover clears the daily counter once the UTC day changes. Caller holds mu.
func (a *Account) rollover() {
	if today := utcDay(a.now()); today.After(a.day) {
		a.day = today
		a.dailyLoss = 0
	}
}

// Balance returns the current balance.
func (a *Account) Balance() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance
}

// DailyLoss returns today's accumulated realized loss as a positive number.
func (a *Account) DailyLoss() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rollover()
	return a.dailyLoss
}

// Apply adds realized P&L to the balance. Losses also feed the daily counter.
// Returns the new balance.
func (a *Account) Apply(pnl float64) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rollover()

	a.balance += pnl
	if pnl < 0 {
		a.dailyLoss += -pnl
	}
	if a.balance > a.peak {
		a.peak = a.balance
	}
	return a.balance
}

// ResetDaily clears the daily-loss counter.
func (a *Account) ResetDaily() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dailyLoss = 0
	a.day = utcDay(a.now())
}

// Status returns a snapshot of the account.
func (a *Account) Status() AccountStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rollover()

	dd := 0.0
	if a.peak > 0 {
		dd = (a.peak - a.balance) / a.peak * 100
	}
	return AccountStatus{
		Balance:     a.balance,
		PeakBalance: a.peak,
		DailyLoss:   a.dailyLoss,
		DrawdownPct: dd,
		Day:         a.day,
	}
}
