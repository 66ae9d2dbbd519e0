package indicator

import (
	"strconv"
	"strings"

	"tradebot/internal/model"
)

// Column names used in a Frame. Strategies look indicators up by these.

func SMAName(n int) string  { return "SMA_" + model.Itoa(n) }
func EMAName(n int) string  { return "EMA_" + model.Itoa(n) }
func SMMAName(n int) string { return "SMMA_" + model.Itoa(n) }
func RSIName(n int) string  { return "RSI_" + model.Itoa(n) }
func ATRName(n int) string  { return "ATR_" + model.Itoa(n) }

func MACDName(fast, slow, signal int) string {
	return "MACD_" + macdSuffix(fast, slow, signal)
}

func MACDSignalName(fast, slow, signal int) string {
	return "MACDSIGNAL_" + macdSuffix(fast, slow, signal)
}

func MACDHistName(fast, slow, signal int) string {
	return "MACDHIST_" + macdSuffix(fast, slow, signal)
}

func macdSuffix(fast, slow, signal int) string {
	return model.Itoa(fast) + "_" + model.Itoa(slow) + "_" + model.Itoa(signal)
}

func BollingerUpperName(n int, k float64) string { return "BBU_" + bbSuffix(n, k) }
func BollingerMidName(n int, k float64) string   { return "BBM_" + bbSuffix(n, k) }
func BollingerLowerName(n int, k float64) string { return "BBL_" + bbSuffix(n, k) }

func bbSuffix(n int, k float64) string {
	return model.Itoa(n) + "_" + strconv.FormatFloat(k, 'f', -1, 64)
}

// Columns lists the Frame columns a config produces.
func Columns(cfg IndicatorConfig) []string {
	switch strings.ToUpper(cfg.Type) {
	case "SMA":
		return []string{SMAName(cfg.Period)}
	case "EMA":
		return []string{EMAName(cfg.Period)}
	case "SMMA":
		return []string{SMMAName(cfg.Period)}
	case "RSI":
		return []string{RSIName(cfg.Period)}
	case "ATR":
		return []string{ATRName(cfg.Period)}
	case "BBANDS", "BOLLINGER":
		return []string{BollingerMidName(cfg.Period, cfg.K), BollingerUpperName(cfg.Period, cfg.K), BollingerLowerName(cfg.Period, cfg.K)}
	case "MACD":
		return []string{MACDName(cfg.Fast, cfg.Slow, cfg.Signal), MACDSignalName(cfg.Fast, cfg.Slow, cfg.Signal), MACDHistName(cfg.Fast, cfg.Slow, cfg.Signal)}
	}
	return nil
}
