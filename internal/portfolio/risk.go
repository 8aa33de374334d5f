package portfolio

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"trading-enginev1/internal/model"
)

// ErrInvalidParameters is returned when risk parameters fail validation.
var ErrInvalidParameters = errors.New("portfolio: invalid risk parameters")

// RiskParameters defines sizing and circuit-breaker thresholds.
// Fractions are expressed as 0.01 = 1 %.
type RiskParameters struct {
	AccountBalance       float64 `yaml:"account_balance" json:"account_balance"`
	RiskFractionPerTrade float64 `yaml:"risk_fraction_per_trade" json:"risk_fraction_per_trade"`
	MaxRiskFraction      float64 `yaml:"max_risk_fraction" json:"max_risk_fraction"`
	MinPositionSize      float64 `yaml:"min_position_size" json:"min_position_size"`
	MaxPositionSize      float64 `yaml:"max_position_size" json:"max_position_size"`
	StopLossFraction     float64 `yaml:"stop_loss_fraction" json:"stop_loss_fraction"`
	TakeProfitFraction   float64 `yaml:"take_profit_fraction" json:"take_profit_fraction"`
	MaxDailyLoss         float64 `yaml:"max_daily_loss" json:"max_daily_loss"`         // absolute currency amount
	MaxOpenPositions     int     `yaml:"max_open_positions" json:"max_open_positions"` // 0 = unlimited
	MaxDrawdownPct       float64 `yaml:"max_drawdown_pct" json:"max_drawdown_pct"`     // 0-100, 0 = disabled
}

// DefaultRiskParameters returns conservative defaults.
func DefaultRiskParameters() RiskParameters {
	return RiskParameters{
		AccountBalance:       10000,
		RiskFractionPerTrade: 0.01,
		MaxRiskFraction:      0.02,
		MinPositionSize:      0.001,
		MaxPositionSize:      100,
		StopLossFraction:     0.01,
		TakeProfitFraction:   0.02,
		MaxDailyLoss:         500,
		MaxOpenPositions:     5,
	}
}

// Validate reports every out-of-range parameter at once.
func (p RiskParameters) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidParameters}, args...)...))
		}
	}
	check(p.AccountBalance > 0, "account_balance %.2f must be > 0", p.AccountBalance)
	check(p.RiskFractionPerTrade > 0 && p.RiskFractionPerTrade < 1, "risk_fraction_per_trade %.4f outside (0,1)", p.RiskFractionPerTrade)
	check(p.MaxRiskFraction > 0 && p.MaxRiskFraction < 1, "max_risk_fraction %.4f outside (0,1)", p.MaxRiskFraction)
	check(p.MinPositionSize > 0, "min_position_size %.6f must be > 0", p.MinPositionSize)
	check(p.MaxPositionSize >= p.MinPositionSize, "max_position_size %.6f < min_position_size %.6f", p.MaxPositionSize, p.MinPositionSize)
	check(p.StopLossFraction > 0 && p.StopLossFraction < 1, "stop_loss_fraction %.4f outside (0,1)", p.StopLossFraction)
	check(p.TakeProfitFraction > 0, "take_profit_fraction %.4f must be > 0", p.TakeProfitFraction)
	check(p.MaxDailyLoss > 0, "max_daily_loss %.2f must be > 0", p.MaxDailyLoss)
	check(p.MaxOpenPositions >= 0, "max_open_positions %d must be >= 0", p.MaxOpenPositions)
	check(p.MaxDrawdownPct >= 0 && p.MaxDrawdownPct <= 100, "max_drawdown_pct %.2f outside [0,100]", p.MaxDrawdownPct)
	return errors.Join(errs...)
}

// RiskManager sizes positions and gates entries. Several managers (one per
// loop) may share the same Account and Portfolio.
type RiskManager struct {
	params    RiskParameters
	account   *Account
	portfolio *Portfolio
	log       *slog.Logger
}

// NewRiskManager validates params and binds them to a shared account and
// position registry. A nil portfolio disables the open-position limit.
func NewRiskManager(params RiskParameters, account *Account, pf *Portfolio, log *slog.Logger) (*RiskManager, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("%w: nil account", ErrInvalidParameters)
	}
	if log == nil {
		log = slog.Default()
	}
	return &RiskManager{params: params, account: account, portfolio: pf, log: log}, nil
}

// Params returns the manager's parameters.
func (rm *RiskManager) Params() RiskParameters { return rm.params }

// Account returns the shared account.
func (rm *RiskManager) Account() *Account { return rm.account }

// PositionSize returns (balance × risk fraction) / stopDistance clamped to
// [MinPositionSize, MaxPositionSize]. The risk fraction is capped at
// MaxRiskFraction. A non-positive stop distance yields the minimum size.
func (rm *RiskManager) PositionSize(stopDistance float64) float64 {
	if stopDistance <= 0 {
		rm.log.Warn("non-positive stop distance, using minimum size",
			"stop_distance", stopDistance, "size", rm.params.MinPositionSize)
		return rm.params.MinPositionSize
	}
	frac := min(rm.params.RiskFractionPerTrade, rm.params.MaxRiskFraction)
	size := rm.account.Balance() * frac / stopDistance
	return max(rm.params.MinPositionSize, min(size, rm.params.MaxPositionSize))
}

// StopLossTakeProfit derives protective levels from entry price and
// direction. Panics on a non-trading direction: that is a programming error.
func (rm *RiskManager) StopLossTakeProfit(entry float64, dir model.Direction, riskFrac, rewardFrac float64) (sl, tp float64) {
	switch dir {
	case model.Buy:
		return entry * (1 - riskFrac), entry * (1 + rewardFrac)
	case model.Sell:
		return entry * (1 + riskFrac), entry * (1 - rewardFrac)
	}
	panic(fmt.Sprintf("portfolio: StopLossTakeProfit called with direction %q", dir))
}

// Levels applies the configured stop-loss and take-profit fractions.
func (rm *RiskManager) Levels(entry float64, dir model.Direction) (sl, tp float64) {
	return rm.StopLossTakeProfit(entry, dir, rm.params.StopLossFraction, rm.params.TakeProfitFraction)
}

// RoundToLot floors size to a multiple of step, then raises it to the
// smallest lot at or above MinPositionSize. step <= 0 leaves size as is.
func (rm *RiskManager) RoundToLot(size, step float64) float64 {
	if step <= 0 {
		return size
	}
	st := decimal.NewFromFloat(step)
	out, _ := decimal.NewFromFloat(size).Div(st).Floor().Mul(st).Float64()
	if out < rm.params.MinPositionSize {
		out, _ = decimal.NewFromFloat(rm.params.MinPositionSize).Div(st).Ceil().Mul(st).Float64()
	}
	return out
}

// UpdateBalance applies realized P&L to the shared account.
func (rm *RiskManager) UpdateBalance(realizedPnL float64) {
	bal := rm.account.Apply(realizedPnL)
	rm.log.Info("balance updated", "pnl", realizedPnL, "balance", bal)
}

// CanOpenTrade reports whether a new entry is allowed, with the blocking
// reason when it is not.
func (rm *RiskManager) CanOpenTrade() (bool, string) {
	st := rm.account.Status()

	if st.DailyLoss > rm.params.MaxDailyLoss {
		return false, fmt.Sprintf("daily loss %.2f exceeds limit %.2f", st.DailyLoss, rm.params.MaxDailyLoss)
	}
	if rm.params.MaxDrawdownPct > 0 && st.DrawdownPct > rm.params.MaxDrawdownPct {
		return false, fmt.Sprintf("drawdown %.2f%% exceeds limit %.2f%%", st.DrawdownPct, rm.params.MaxDrawdownPct)
	}
	if rm.portfolio != nil && rm.params.MaxOpenPositions > 0 {
		if n := rm.portfolio.Count(); n >= rm.params.MaxOpenPositions {
			return false, fmt.Sprintf("%d open positions, limit %d", n, rm.params.MaxOpenPositions)
		}
	}
	return true, ""
}

// ResetDaily clears the daily-loss counter of the shared account.
func (rm *RiskManager) ResetDaily() {
	rm.account.ResetDaily()
}
