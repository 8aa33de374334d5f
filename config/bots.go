package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"trading-enginev1/internal/broker"
	"trading-enginev1/internal/marketdata"
	"trading-enginev1/internal/marketdata/rest"
	"trading-enginev1/internal/portfolio"
	"trading-enginev1/internal/position"
	"trading-enginev1/internal/strategy"
)

// Market data sources.
const (
	SourceREST = "rest"
	SourceWS   = "ws"
)

// BotsFile is the YAML bot definition file.
type BotsFile struct {
	Risk    portfolio.RiskParameters `yaml:"risk"`
	Paper   broker.PaperConfig       `yaml:"paper"`
	Market  MarketConfig             `yaml:"market"`
	Circuit CircuitConfig            `yaml:"circuit_breaker"`

	// OnnxLibrary is the onnxruntime shared library used by classifier bots.
	OnnxLibrary string `yaml:"onnx_library"`

	// RejectAlertThreshold is the number of consecutive broker failures on
	// one bot that raise an alert.
	RejectAlertThreshold int `yaml:"reject_alert_threshold"`

	Bots []Bot `yaml:"bots"`
}

// MarketConfig selects and configures the market data source.
type MarketConfig struct {
	Source   string      `yaml:"source"` // rest | ws
	REST     rest.Config `yaml:"rest"`
	WSURL    string      `yaml:"ws_url"`
	Capacity int         `yaml:"capacity"` // candles kept per symbol
}

// CircuitConfig configures the broker circuit breaker.
type CircuitConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// Bot is one (symbol, strategy) trading loop.
type Bot struct {
	Symbol           string          `yaml:"symbol"`
	Timeframe        string          `yaml:"timeframe"`
	Strategy         string          `yaml:"strategy"`
	Params           strategy.Config `yaml:"params"`
	Cooldown         time.Duration   `yaml:"cooldown"`
	PollInterval     time.Duration   `yaml:"poll_interval"`
	MinConfidence    float64         `yaml:"min_confidence"`
	MaxPendingChecks int             `yaml:"max_pending_checks"`

	// Per-bot overrides of the shared risk parameters; 0 inherits.
	RiskFractionPerTrade float64 `yaml:"risk_fraction_per_trade"`
	StopLossFraction     float64 `yaml:"stop_loss_fraction"`
	TakeProfitFraction   float64 `yaml:"take_profit_fraction"`
}

// Key returns "symbol:strategy".
func (b Bot) Key() string { return b.Symbol + ":" + b.Strategy }

// DefaultBot returns the values used for keys a bot entry omits.
func DefaultBot() Bot {
	return Bot{
		Timeframe:        "1m",
		Params:           strategy.DefaultConfig(),
		Cooldown:         30 * time.Minute,
		PollInterval:     time.Minute,
		MaxPendingChecks: position.DefaultMaxPendingChecks,
	}
}

// UnmarshalYAML fills omitted keys from DefaultBot.
func (b *Bot) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain Bot
	p := plain(DefaultBot())
	if err := unmarshal(&p); err != nil {
		return err
	}
	*b = Bot(p)
	return nil
}

// DefaultBotsFile returns the values used for keys the file omits.
func DefaultBotsFile() BotsFile {
	return BotsFile{
		Risk: portfolio.DefaultRiskParameters(),
		Paper: broker.PaperConfig{
			SlippageBps: 5,
		},
		Market: MarketConfig{
			Source:   SourceREST,
			REST:     rest.Config{BaseURL: rest.DefaultBaseURL, Timeout: 10 * time.Second},
			Capacity: 500,
		},
		Circuit: CircuitConfig{
			MaxFailures:  5,
			ResetTimeout: 30 * time.Second,
		},
		RejectAlertThreshold: 3,
	}
}

// LoadBots reads and parses a bot file.
func LoadBots(path string) (*BotsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read bots file: %w", err)
	}
	return ParseBots(data)
}

// ParseBots parses bot file contents over the defaults.
func ParseBots(data []byte) (*BotsFile, error) {
	f := DefaultBotsFile()
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, fmt.Errorf("config: parse bots file: %w", err)
	}
	// Instrument constraints are shared by the paper broker and the REST
	// client unless the market section sets its own.
	if f.Market.REST.Symbols == nil {
		f.Market.REST.Default = f.Paper.Default
		f.Market.REST.Symbols = f.Paper.Symbols
	}
	return &f, nil
}

// RiskFor returns the shared risk parameters with the bot's overrides.
func (f *BotsFile) RiskFor(b Bot) portfolio.RiskParameters {
	p := f.Risk
	if b.RiskFractionPerTrade > 0 {
		p.RiskFractionPerTrade = b.RiskFractionPerTrade
	}
	if b.StopLossFraction > 0 {
		p.StopLossFraction = b.StopLossFraction
	}
	if b.TakeProfitFraction > 0 {
		p.TakeProfitFraction = b.TakeProfitFraction
	}
	return p
}

// MaxLookbackHint is the largest candle window any bot needs, derived from
// its indicator periods. The store capacity must cover it.
func (f *BotsFile) MaxLookbackHint() int {
	n := 0
	for _, b := range f.Bots {
		n = max(n, b.Params.Indicators.Lookback())
	}
	return n
}

// Validate reports every bot file error at once.
func (f *BotsFile) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("config: "+format, args...))
	}

	if err := f.Risk.Validate(); err != nil {
		errs = append(errs, err)
	}
	switch f.Market.Source {
	case SourceREST, SourceWS:
	default:
		add("market.source %q must be %q or %q", f.Market.Source, SourceREST, SourceWS)
	}
	if f.Market.Capacity <= 0 {
		add("market.capacity %d must be > 0", f.Market.Capacity)
	} else if need := f.MaxLookbackHint(); need > f.Market.Capacity {
		add("market.capacity %d below the largest bot lookback %d", f.Market.Capacity, need)
	}
	if f.Circuit.MaxFailures < 1 || f.Circuit.ResetTimeout <= 0 {
		add("circuit_breaker needs max_failures >= 1 and reset_timeout > 0")
	}
	if f.Paper.SlippageBps < 0 {
		add("paper.slippage_bps %.2f must be >= 0", f.Paper.SlippageBps)
	}

	if len(f.Bots) == 0 {
		add("no bots defined")
	}
	seen := map[string]bool{}
	timeframes := map[string]bool{}
	for i, b := range f.Bots {
		if b.Symbol == "" {
			add("bots[%d]: symbol required", i)
		}
		if _, err := marketdata.ParseTimeframe(b.Timeframe); err != nil {
			add("bots[%d]: %w", i, err)
		}
		timeframes[b.Timeframe] = true
		if _, err := strategy.New(b.Strategy, b.Params, strategy.Deps{Classifier: stubClassifier{}}); err != nil {
			add("bots[%d]: %w", i, err)
		}
		if seen[b.Key()] {
			add("bots[%d]: duplicate bot %s", i, b.Key())
		}
		seen[b.Key()] = true
		if b.PollInterval <= 0 {
			add("bots[%d]: poll_interval %s must be > 0", i, b.PollInterval)
		}
		if b.Cooldown < 0 {
			add("bots[%d]: cooldown %s must be >= 0", i, b.Cooldown)
		}
		if b.MinConfidence < 0 || b.MinConfidence > 100 {
			add("bots[%d]: min_confidence %.2f outside [0,100]", i, b.MinConfidence)
		}
		if err := f.RiskFor(b).Validate(); err != nil && f.Risk.Validate() == nil {
			errs = append(errs, fmt.Errorf("config: bots[%d]: %w", i, err))
		}
	}
	if f.Market.Source == SourceWS && len(timeframes) > 1 {
		add("market.source ws serves one timeframe, bots use %d", len(timeframes))
	}
	return errors.Join(errs...)
}

// stubClassifier stands in for the model while validating classifier bot
// parameters; the model itself is loaded at startup.
type stubClassifier struct{}

func (stubClassifier) PredictProba([]float32) (float64, error) {
	return 0, errors.New("config: stub classifier")
}

// Timeframes returns the distinct bot timeframes.
func (f *BotsFile) Timeframes() []string {
	var out []string
	seen := map[string]bool{}
	for _, b := range f.Bots {
		if !seen[b.Timeframe] {
			seen[b.Timeframe] = true
			out = append(out, b.Timeframe)
		}
	}
	return out
}

// Symbols returns the distinct bot symbols.
func (f *BotsFile) Symbols() []string {
	var out []string
	seen := map[string]bool{}
	for _, b := range f.Bots {
		if !seen[b.Symbol] {
			seen[b.Symbol] = true
			out = append(out, b.Symbol)
		}
	}
	return out
}
