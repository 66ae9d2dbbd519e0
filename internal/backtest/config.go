package backtest

import (
	"fmt"

	"tradebot/internal/indicator"
	"tradebot/internal/risk"
	"tradebot/internal/strategy"
)

// Config is everything a run depends on besides the price series.
type Config struct {
	InitialCapital  float64 `yaml:"initial_capital" json:"initial_capital"`
	TransactionCost float64 `yaml:"transaction_cost" json:"transaction_cost"` // fraction of notional per fill
	AllowShort      bool    `yaml:"allow_short" json:"allow_short"`
	TrailingPercent float64 `yaml:"trailing_percent" json:"trailing_percent"` // 0 disables the trailing stop

	// Indicators are computed in addition to what the rules and sizer need.
	Indicators []indicator.IndicatorConfig `yaml:"indicators" json:"indicators,omitempty"`
	Strategy   strategy.Config             `yaml:"strategy" json:"strategy"`
	Risk       risk.Config                 `yaml:"risk" json:"risk"`
}

// DefaultConfig starts with 10,000 of capital and 0.1% fees per fill.
func DefaultConfig() Config {
	return Config{
		InitialCapital:  10000,
		TransactionCost: 0.001,
		Strategy:        strategy.DefaultConfig(),
		Risk:            risk.DefaultConfig(),
	}
}

func (c Config) validate() error {
	if !(c.InitialCapital > 0) {
		return fmt.Errorf("backtest config: initial_capital must be positive, got %g", c.InitialCapital)
	}
	if c.TransactionCost < 0 || c.TransactionCost >= 1 {
		return fmt.Errorf("backtest config: transaction_cost must be in [0, 1), got %g", c.TransactionCost)
	}
	if c.TrailingPercent < 0 || c.TrailingPercent >= 1 {
		return fmt.Errorf("backtest config: trailing_percent must be in [0, 1), got %g", c.TrailingPercent)
	}
	return nil
}
