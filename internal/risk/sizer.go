// Package risk computes stop-loss/take-profit brackets and position sizes,
// and guards a live account against loss and drawdown limits.
package risk

import (
	"errors"
	"fmt"
	"math"

	"tradebot/internal/model"
)

// StopBasis selects how the stop-loss distance is derived.
type StopBasis string

const (
	StopATR     StopBasis = "atr"
	StopPercent StopBasis = "percent"
)

// ErrInvalidRiskParameters matches every *InvalidRiskParametersError via errors.Is.
var ErrInvalidRiskParameters = errors.New("invalid risk parameters")

// InvalidRiskParametersError reports inputs for which no size can be
// computed. Callers treat it as "no trade", not as a fatal condition.
type InvalidRiskParametersError struct {
	Param  string
	Value  float64
	Reason string
}

func (e *InvalidRiskParametersError) Error() string {
	return fmt.Sprintf("invalid risk parameters: %s=%g: %s", e.Param, e.Value, e.Reason)
}

func (e *InvalidRiskParametersError) Is(target error) bool { return target == ErrInvalidRiskParameters }

func invalid(param string, v float64, reason string) error {
	return &InvalidRiskParametersError{Param: param, Value: v, Reason: reason}
}

// Config holds the sizing parameters.
type Config struct {
	RiskPercentage  float64   `yaml:"risk_percentage" json:"risk_percentage"` // percent of balance risked per trade
	StopBasis       StopBasis `yaml:"stop_basis" json:"stop_basis"`
	ATRPeriod       int       `yaml:"atr_period" json:"atr_period"`
	ATRMultiplier   float64   `yaml:"atr_multiplier" json:"atr_multiplier"`
	StopPercent     float64   `yaml:"stop_percent" json:"stop_percent"` // fraction of entry, 0.02 = 2%
	RiskRewardRatio float64   `yaml:"risk_reward_ratio" json:"risk_reward_ratio"`
	MinRiskReward   float64   `yaml:"min_risk_reward" json:"min_risk_reward"`
	// Leverage multiplies buying power only; it never scales the amount at risk.
	Leverage float64 `yaml:"leverage" json:"leverage"`
	// MinStopDistance is the smallest |entry-stop|/entry accepted.
	MinStopDistance float64 `yaml:"min_stop_distance" json:"min_stop_distance"`
}

// DefaultConfig risks 1% per trade with a 2×ATR(14) stop and a 2:1 target.
func DefaultConfig() Config {
	return Config{
		RiskPercentage:  1,
		StopBasis:       StopATR,
		ATRPeriod:       14,
		ATRMultiplier:   2,
		StopPercent:     0.02,
		RiskRewardRatio: 2,
		MinRiskReward:   1,
		Leverage:        1,
		MinStopDistance: 1e-5,
	}
}

func (c *Config) setDefaults() {
	d := DefaultConfig()
	if c.StopBasis == "" {
		c.StopBasis = d.StopBasis
	}
	if c.ATRPeriod == 0 {
		c.ATRPeriod = d.ATRPeriod
	}
	if c.MinRiskReward == 0 {
		c.MinRiskReward = d.MinRiskReward
	}
	if c.Leverage == 0 {
		c.Leverage = d.Leverage
	}
	if c.MinStopDistance == 0 {
		c.MinStopDistance = d.MinStopDistance
	}
}

func (c Config) validate() error {
	if !(c.RiskPercentage > 0 && c.RiskPercentage <= 100) {
		return invalid("risk_percentage", c.RiskPercentage, "must be in (0, 100]")
	}
	switch c.StopBasis {
	case StopATR:
		if !(c.ATRMultiplier > 0) {
			return invalid("atr_multiplier", c.ATRMultiplier, "must be positive")
		}
		if c.ATRPeriod <= 0 {
			return invalid("atr_period", float64(c.ATRPeriod), "must be positive")
		}
	case StopPercent:
		if !(c.StopPercent > 0 && c.StopPercent < 1) {
			return invalid("stop_percent", c.StopPercent, "must be in (0, 1)")
		}
	default:
		return &InvalidRiskParametersError{Param: "stop_basis", Value: math.NaN(), Reason: fmt.Sprintf("unknown basis %q", c.StopBasis)}
	}
	if !(c.RiskRewardRatio > 0) {
		return invalid("risk_reward_ratio", c.RiskRewardRatio, "must be positive")
	}
	if c.MinRiskReward < 0 {
		return invalid("min_risk_reward", c.MinRiskReward, "must not be negative")
	}
	if !(c.Leverage >= 1) {
		return invalid("leverage", c.Leverage, "must be >= 1")
	}
	if !(c.MinStopDistance > 0) {
		return invalid("min_stop_distance", c.MinStopDistance, "must be positive")
	}
	return nil
}

// Plan is a sized trade with its brackets. Size 0 means the trade is skipped
// and Rejected says why.
type Plan struct {
	Side       model.Side `json:"side"`
	Entry      float64    `json:"entry"`
	StopLoss   float64    `json:"stop_loss"`
	TakeProfit float64    `json:"take_profit"`
	Size       float64    `json:"size"`
	RiskAmount float64    `json:"risk_amount"`
	RewardRisk float64    `json:"reward_risk"`
	Clamped    bool       `json:"clamped"`
	Rejected   string     `json:"rejected,omitempty"`
}

// Sizer turns (balance, entry, side, ATR) into a Plan. It is stateless and
// safe for concurrent use.
type Sizer struct {
	cfg Config
}

// NewSizer validates cfg after filling zero fields with defaults.
func NewSizer(cfg Config) (*Sizer, error) {
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("risk config: %w", err)
	}
	return &Sizer{cfg: cfg}, nil
}

func (s *Sizer) Config() Config { return s.cfg }

// ATRColumn is the ATR period the sizer reads when StopBasis is atr, or 0.
func (s *Sizer) ATRColumn() int {
	if s.cfg.StopBasis == StopATR {
		return s.cfg.ATRPeriod
	}
	return 0
}

// StopLoss places the stop for a new position.
func (s *Sizer) StopLoss(entry float64, side model.Side, atr float64) (float64, error) {
	if side != model.Long && side != model.Short {
		return 0, invalid("side", side.Sign(), "must be long or short")
	}
	if !finite(entry) || entry <= 0 {
		return 0, invalid("entry", entry, "must be a positive price")
	}
	var dist float64
	switch s.cfg.StopBasis {
	case StopATR:
		if !finite(atr) || atr <= 0 {
			return 0, invalid("atr", atr, "must be a positive number")
		}
		dist = s.cfg.ATRMultiplier * atr
	default:
		dist = entry * s.cfg.StopPercent
	}
	return entry - side.Sign()*dist, nil
}

// TakeProfit sits RiskRewardRatio stop distances beyond entry.
func (s *Sizer) TakeProfit(entry, stop float64, side model.Side) float64 {
	return entry + side.Sign()*s.cfg.RiskRewardRatio*math.Abs(entry-stop)
}

// SizeWithStop returns balance·risk%/|entry−stop| clamped to
// balance·leverage/entry. The bool reports whether the clamp applied.
func (s *Sizer) SizeWithStop(balance, entry, stop float64) (float64, bool, error) {
	if !finite(balance) || balance <= 0 {
		return 0, false, invalid("balance", balance, "must be positive")
	}
	if !finite(entry) || entry <= 0 {
		return 0, false, invalid("entry", entry, "must be a positive price")
	}
	if !finite(stop) {
		return 0, false, invalid("stop_loss", stop, "must be a finite price")
	}
	dist := math.Abs(entry - stop)
	if dist == 0 {
		return 0, false, invalid("stop_loss", stop, "equals entry price")
	}
	if dist/entry < s.cfg.MinStopDistance {
		return 0, false, invalid("stop_loss", stop, fmt.Sprintf("distance %.3g of entry is below minimum %.3g", dist/entry, s.cfg.MinStopDistance))
	}

	size := balance * s.cfg.RiskPercentage / 100 / dist
	maxSize := balance * s.cfg.Leverage / entry
	if size > maxSize {
		return maxSize, true, nil
	}
	return size, false, nil
}

// Plan derives brackets from the configured basis and sizes the trade.
func (s *Sizer) Plan(balance, entry float64, side model.Side, atr float64) (Plan, error) {
	stop, err := s.StopLoss(entry, side, atr)
	if err != nil {
		return Plan{}, err
	}
	return s.PlanWithBrackets(balance, entry, stop, s.TakeProfit(entry, stop, side), side)
}

// PlanWithBrackets sizes a trade whose brackets were chosen by the caller.
// A reward/risk ratio below MinRiskReward yields Size 0 with Rejected set.
func (s *Sizer) PlanWithBrackets(balance, entry, stop, takeProfit float64, side model.Side) (Plan, error) {
	if side != model.Long && side != model.Short {
		return Plan{}, invalid("side", side.Sign(), "must be long or short")
	}
	if side.Sign()*(entry-stop) <= 0 {
		return Plan{}, invalid("stop_loss", stop, "on the wrong side of entry for "+side.String())
	}
	if !finite(takeProfit) || side.Sign()*(takeProfit-entry) <= 0 {
		return Plan{}, invalid("take_profit", takeProfit, "on the wrong side of entry for "+side.String())
	}

	size, clamped, err := s.SizeWithStop(balance, entry, stop)
	if err != nil {
		return Plan{}, err
	}

	p := Plan{
		Side:       side,
		Entry:      entry,
		StopLoss:   stop,
		TakeProfit: takeProfit,
		Size:       size,
		RiskAmount: size * math.Abs(entry-stop),
		RewardRisk: math.Abs(takeProfit-entry) / math.Abs(entry-stop),
		Clamped:    clamped,
	}
	// Small tolerance so a configured 1:1 is not rejected by rounding.
	if p.RewardRisk < s.cfg.MinRiskReward-1e-9 {
		p.Rejected = fmt.Sprintf("reward/risk %.2f below minimum %.2f", p.RewardRisk, s.cfg.MinRiskReward)
		p.Size = 0
		p.RiskAmount = 0
	}
	return p, nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
