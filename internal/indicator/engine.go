package indicator

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"tradebot/internal/model"
)

// IndicatorConfig specifies a single indicator to compute.
type IndicatorConfig struct {
	Type      string    `yaml:"type" json:"type"` // SMA, EMA, SMMA, RSI, MACD, BBANDS, ATR
	Period    int       `yaml:"period,omitempty" json:"period,omitempty"`
	Fast      int       `yaml:"fast,omitempty" json:"fast,omitempty"`
	Slow      int       `yaml:"slow,omitempty" json:"slow,omitempty"`
	Signal    int       `yaml:"signal,omitempty" json:"signal,omitempty"`
	K         float64   `yaml:"k,omitempty" json:"k,omitempty"`
	Smoothing Smoothing `yaml:"smoothing,omitempty" json:"smoothing,omitempty"`
}

// ConfigurationError reports an indicator parameter that cannot be used.
type ConfigurationError struct {
	Indicator string
	Param     string
	Value     string
	Reason    string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("indicator %s: invalid %s=%s: %s", e.Indicator, e.Param, e.Value, e.Reason)
}

func configErr(ind, param string, value any, reason string) *ConfigurationError {
	return &ConfigurationError{Indicator: ind, Param: param, Value: fmt.Sprint(value), Reason: reason}
}

// output binds one Frame column to an indicator accessor.
type output struct {
	name   string
	warmUp int
	value  func() float64
}

// Engine computes a fixed set of indicators over a PriceSeries.
// It holds no per-series state, so one Engine may serve many runs.
type Engine struct {
	configs []IndicatorConfig
}

// NewEngine creates an indicator engine for the given configs.
func NewEngine(configs []IndicatorConfig) *Engine {
	cp := make([]IndicatorConfig, len(configs))
	copy(cp, configs)
	return &Engine{configs: cp}
}

// Configs returns the configured indicators.
func (e *Engine) Configs() []IndicatorConfig {
	cp := make([]IndicatorConfig, len(e.configs))
	copy(cp, e.configs)
	return cp
}

// Compute is shorthand for NewEngine(configs).Compute(series).
func Compute(series *model.PriceSeries, configs []IndicatorConfig) (*Frame, error) {
	return NewEngine(configs).Compute(series)
}

// Compute runs every configured indicator over the series, one bar at a
// time in timestamp order, so each column value depends only on bars up to
// and including its own index.
func (e *Engine) Compute(series *model.PriceSeries) (*Frame, error) {
	if series == nil || series.Len() == 0 {
		return nil, &model.DataIntegrityError{Index: -1, Reason: "empty series"}
	}
	n := series.Len()

	inds := make([]Indicator, 0, len(e.configs))
	outs := make([]output, 0, len(e.configs))
	seen := make(map[string]IndicatorConfig, len(e.configs))

	for _, cfg := range e.configs {
		cfg.Type = strings.ToUpper(cfg.Type)
		if err := Validate(cfg, n); err != nil {
			return nil, err
		}
		ind, o := build(cfg)
		key := o[0].name
		if prev, dup := seen[key]; dup {
			if prev == cfg {
				continue
			}
			return nil, configErr(cfg.Type, "type", key, "column already produced by a different configuration")
		}
		seen[key] = cfg
		inds = append(inds, ind)
		outs = append(outs, o...)
	}

	frame := newFrame(series)
	cols := make([]*Column, len(outs))
	for i, o := range outs {
		cols[i] = &Column{Name: o.name, WarmUp: o.warmUp, Values: make([]float64, n)}
		frame.cols[o.name] = cols[i]
	}

	for i := 0; i < n; i++ {
		bar := series.Bar(i)
		for _, ind := range inds {
			ind.Update(bar)
		}
		for j, o := range outs {
			cols[j].Values[i] = o.value()
		}
	}

	slog.Debug("indicators computed",
		"symbol", series.Symbol(), "bars", n, "columns", len(cols))
	return frame, nil
}

// Validate checks cfg against a series of length n.
func Validate(cfg IndicatorConfig, n int) error {
	typ := strings.ToUpper(cfg.Type)
	switch typ {
	case "SMA", "EMA", "SMMA", "ATR":
		return validateWindow(typ, "period", cfg.Period, 1, n)
	case "RSI":
		switch cfg.Smoothing {
		case "", SmoothingSimple, SmoothingWilder:
		default:
			return configErr(typ, "smoothing", cfg.Smoothing, "must be simple or wilder")
		}
		return validateWindow(typ, "period", cfg.Period, 1, n)
	case "BBANDS", "BOLLINGER":
		if err := validateWindow(typ, "period", cfg.Period, 2, n); err != nil {
			return err
		}
		if cfg.K <= 0 || math.IsNaN(cfg.K) || math.IsInf(cfg.K, 0) {
			return configErr(typ, "k", cfg.K, "must be a positive number")
		}
		return nil
	case "MACD":
		if err := validateWindow(typ, "fast", cfg.Fast, 1, n); err != nil {
			return err
		}
		if err := validateWindow(typ, "slow", cfg.Slow, 1, n); err != nil {
			return err
		}
		if err := validateWindow(typ, "signal", cfg.Signal, 1, n); err != nil {
			return err
		}
		if cfg.Fast >= cfg.Slow {
			return configErr(typ, "fast", cfg.Fast, "must be smaller than slow="+strconv.Itoa(cfg.Slow))
		}
		return nil
	default:
		return configErr(cfg.Type, "type", cfg.Type, "unknown indicator type")
	}
}

func validateWindow(typ, param string, v, min, n int) error {
	if v < min {
		return configErr(typ, param, v, "must be >= "+strconv.Itoa(min))
	}
	if v >= n {
		return configErr(typ, param, v, "window must be smaller than series length "+strconv.Itoa(n))
	}
	return nil
}

// build creates the indicator for an already validated config.
func build(cfg IndicatorConfig) (Indicator, []output) {
	switch strings.ToUpper(cfg.Type) {
	case "SMA":
		ind := NewSMA(cfg.Period)
		return ind, []output{{ind.Name(), cfg.Period - 1, ind.Value}}
	case "EMA":
		ind := NewEMA(cfg.Period)
		return ind, []output{{ind.Name(), cfg.Period, ind.Value}}
	case "SMMA":
		ind := NewSMMA(cfg.Period)
		return ind, []output{{ind.Name(), cfg.Period - 1, ind.Value}}
	case "RSI":
		ind := NewRSIWithSmoothing(cfg.Period, cfg.Smoothing)
		return ind, []output{{ind.Name(), cfg.Period, ind.Value}}
	case "ATR":
		ind := NewATR(cfg.Period)
		return ind, []output{{ind.Name(), cfg.Period - 1, ind.Value}}
	case "BBANDS", "BOLLINGER":
		ind := NewBollinger(cfg.Period, cfg.K)
		w := cfg.Period - 1
		return ind, []output{
			{BollingerMidName(cfg.Period, cfg.K), w, ind.Value},
			{BollingerUpperName(cfg.Period, cfg.K), w, ind.Upper},
			{BollingerLowerName(cfg.Period, cfg.K), w, ind.Lower},
		}
	default: // MACD
		ind := NewMACD(cfg.Fast, cfg.Slow, cfg.Signal)
		return ind, []output{
			{MACDName(cfg.Fast, cfg.Slow, cfg.Signal), cfg.Slow, ind.Value},
			{MACDSignalName(cfg.Fast, cfg.Slow, cfg.Signal), cfg.Slow + cfg.Signal, ind.SignalLine},
			{MACDHistName(cfg.Fast, cfg.Slow, cfg.Signal), cfg.Slow + cfg.Signal, ind.Histogram},
		}
	}
}

// ParseSpec parses "TYPE:ARGS" indicator specs, e.g. "SMA:20",
// "RSI:14:wilder", "MACD:12:26:9" or "BBANDS:20:2".
func ParseSpec(spec string) (IndicatorConfig, error) {
	parts := strings.Split(strings.TrimSpace(spec), ":")
	cfg := IndicatorConfig{Type: strings.ToUpper(parts[0])}
	args := parts[1:]

	atoi := func(param, s string) (int, error) {
		v, err := strconv.Atoi(s)
		if err != nil {
			return 0, configErr(cfg.Type, param, s, "not an integer")
		}
		return v, nil
	}

	var err error
	switch cfg.Type {
	case "SMA", "EMA", "SMMA", "ATR", "RSI":
		if len(args) < 1 {
			return cfg, configErr(cfg.Type, "period", "", "missing")
		}
		if cfg.Period, err = atoi("period", args[0]); err != nil {
			return cfg, err
		}
		if cfg.Type == "RSI" && len(args) > 1 {
			cfg.Smoothing = Smoothing(strings.ToLower(args[1]))
		}
	case "MACD":
		if len(args) != 3 {
			return cfg, configErr(cfg.Type, "args", strings.Join(args, ":"), "want fast:slow:signal")
		}
		if cfg.Fast, err = atoi("fast", args[0]); err != nil {
			return cfg, err
		}
		if cfg.Slow, err = atoi("slow", args[1]); err != nil {
			return cfg, err
		}
		if cfg.Signal, err = atoi("signal", args[2]); err != nil {
			return cfg, err
		}
	case "BBANDS", "BOLLINGER":
		if len(args) != 2 {
			return cfg, configErr(cfg.Type, "args", strings.Join(args, ":"), "want period:k")
		}
		if cfg.Period, err = atoi("period", args[0]); err != nil {
			return cfg, err
		}
		if cfg.K, err = strconv.ParseFloat(args[1], 64); err != nil {
			return cfg, configErr(cfg.Type, "k", args[1], "not a number")
		}
	default:
		return cfg, configErr(cfg.Type, "type", cfg.Type, "unknown indicator type")
	}
	return cfg, nil
}

// Lookback returns the number of bars a config needs before its window can
// be computed at all, i.e. the minimum series length is Lookback+1.
func Lookback(cfg IndicatorConfig) int {
	switch strings.ToUpper(cfg.Type) {
	case "MACD":
		return cfg.Slow
	default:
		return cfg.Period
	}
}

// SettleBars returns the series length after which a config's newest value
// no longer depends on where the series starts. Windowed indicators settle
// at Lookback+1. EMA, SMMA, Wilder RSI and MACD are seeded from their first
// bars, and need about ten time constants more for the seed's weight to
// decay to e^-10.
func SettleBars(cfg IndicatorConfig) int {
	ema := func(p int) int { return p + 5*(p+1) }
	switch strings.ToUpper(cfg.Type) {
	case "EMA":
		return ema(cfg.Period)
	case "SMMA":
		return cfg.Period + 10*cfg.Period
	case "MACD":
		return ema(cfg.Slow) + ema(cfg.Signal)
	case "RSI":
		if cfg.Smoothing == SmoothingWilder {
			return cfg.Period + 1 + 10*cfg.Period
		}
	}
	return Lookback(cfg) + 1
}
