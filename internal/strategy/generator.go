package strategy

import (
	"fmt"

	"tradebot/internal/indicator"
	"tradebot/internal/model"
)

// Config selects and parameterises the rule chain.
type Config struct {
	ShortPeriod  int                 `yaml:"short_period" json:"short_period"`
	LongPeriod   int                 `yaml:"long_period" json:"long_period"`
	RSIPeriod    int                 `yaml:"rsi_period" json:"rsi_period"` // 0 disables RSI confirmation and fallback
	RSISmoothing indicator.Smoothing `yaml:"rsi_smoothing" json:"rsi_smoothing,omitempty"`
	Overbought   float64             `yaml:"overbought" json:"overbought"`
	Oversold     float64             `yaml:"oversold" json:"oversold"`
	RSIFallback  bool                `yaml:"rsi_fallback" json:"rsi_fallback"`
	MACD         *MACDConfig         `yaml:"macd,omitempty" json:"macd,omitempty"`
}

// MACDConfig enables the MACD crossover rule after the RSI fallback.
type MACDConfig struct {
	Fast   int `yaml:"fast" json:"fast"`
	Slow   int `yaml:"slow" json:"slow"`
	Signal int `yaml:"signal" json:"signal"`
}

// DefaultConfig returns SMA(20)/SMA(50) crossover with RSI(14) confirmation
// and the RSI threshold fallback.
func DefaultConfig() Config {
	return Config{
		ShortPeriod: 20,
		LongPeriod:  50,
		RSIPeriod:   14,
		Overbought:  70,
		Oversold:    30,
		RSIFallback: true,
	}
}

func (c Config) validate() error {
	bad := func(param string, v any, reason string) error {
		return &indicator.ConfigurationError{Indicator: "strategy", Param: param, Value: fmt.Sprint(v), Reason: reason}
	}
	if c.ShortPeriod <= 0 {
		return bad("short_period", c.ShortPeriod, "must be positive")
	}
	if c.LongPeriod <= c.ShortPeriod {
		return bad("long_period", c.LongPeriod, "must be greater than short_period")
	}
	if c.RSIPeriod < 0 {
		return bad("rsi_period", c.RSIPeriod, "must not be negative")
	}
	if c.RSIPeriod > 0 && !(0 <= c.Oversold && c.Oversold < c.Overbought && c.Overbought <= 100) {
		return bad("overbought", c.Overbought, fmt.Sprintf("need 0 <= oversold(%g) < overbought <= 100", c.Oversold))
	}
	if c.RSIFallback && c.RSIPeriod == 0 {
		return bad("rsi_fallback", true, "requires rsi_period > 0")
	}
	if c.MACD != nil && (c.MACD.Fast <= 0 || c.MACD.Slow <= c.MACD.Fast || c.MACD.Signal <= 0) {
		return bad("macd", *c.MACD, "need 0 < fast < slow and signal > 0")
	}
	return nil
}

// Generator produces one Signal per bar from an indicator Frame.
type Generator struct {
	cfg   Config
	chain Chain
}

// NewGenerator builds the rule chain: SMA crossover first, then the RSI
// threshold fallback, then the MACD crossover when configured.
func NewGenerator(cfg Config) (*Generator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	chain := Chain{&SMACrossover{
		ShortPeriod:  cfg.ShortPeriod,
		LongPeriod:   cfg.LongPeriod,
		RSIPeriod:    cfg.RSIPeriod,
		RSISmoothing: cfg.RSISmoothing,
		Overbought:   cfg.Overbought,
		Oversold:     cfg.Oversold,
	}}
	if cfg.RSIFallback {
		chain = append(chain, &RSIThreshold{
			Period:     cfg.RSIPeriod,
			Smoothing:  cfg.RSISmoothing,
			Overbought: cfg.Overbought,
			Oversold:   cfg.Oversold,
		})
	}
	if cfg.MACD != nil {
		chain = append(chain, &MACDCrossover{Fast: cfg.MACD.Fast, Slow: cfg.MACD.Slow, Signal: cfg.MACD.Signal})
	}
	return &Generator{cfg: cfg, chain: chain}, nil
}

// NewGeneratorWithRules builds a generator from an explicit chain.
func NewGeneratorWithRules(rules ...Rule) *Generator {
	return &Generator{chain: Chain(rules)}
}

func (g *Generator) Config() Config { return g.cfg }

// Indicators returns the de-duplicated indicator configs every rule needs.
func (g *Generator) Indicators() []indicator.IndicatorConfig {
	var out []indicator.IndicatorConfig
	seen := make(map[indicator.IndicatorConfig]bool)
	for _, r := range g.chain {
		for _, c := range r.Indicators() {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}

// Check verifies the frame carries every column the chain reads.
func (g *Generator) Check(frame *indicator.Frame) error {
	for _, c := range g.Indicators() {
		for _, name := range indicator.Columns(c) {
			if !frame.Has(name) {
				return &indicator.ConfigurationError{
					Indicator: c.Type, Param: "column", Value: name, Reason: "not present in frame",
				}
			}
		}
	}
	return nil
}

// At decides a single bar. It reads the frame only at i and i-1.
func (g *Generator) At(frame *indicator.Frame, i int) Decision {
	return g.chain.Evaluate(frame, i)
}

// Generate decides every bar of the frame.
func (g *Generator) Generate(frame *indicator.Frame) ([]model.Signal, error) {
	if err := g.Check(frame); err != nil {
		return nil, err
	}
	out := make([]model.Signal, frame.Len())
	for i := range out {
		out[i] = g.At(frame, i).Signal
	}
	return out, nil
}
