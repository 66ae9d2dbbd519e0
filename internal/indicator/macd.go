package indicator

import "tradebot/internal/model"

// MACD tracks EMA(fast) − EMA(slow) and an EMA(signal) of that line.
// Value reports the MACD line.
type MACD struct {
	fast, slow, signal int

	fastEMA, slowEMA, sigEMA emaState
	count                    int

	line, sig, hist float64
}

// NewMACD creates a MACD indicator. Callers validate fast < slow.
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{
		fast: fast, slow: slow, signal: signal,
		fastEMA: newEMAState(fast),
		slowEMA: newEMAState(slow),
		sigEMA:  newEMAState(signal),
		line:    nan, sig: nan, hist: nan,
	}
}

func (m *MACD) Name() string { return MACDName(m.fast, m.slow, m.signal) }

func (m *MACD) Update(bar model.Bar) {
	m.count++
	f := m.fastEMA.push(bar.Close)
	s := m.slowEMA.push(bar.Close)
	m.line = f - s
	m.sig = m.sigEMA.push(m.line)
	m.hist = m.line - m.sig
}

func (m *MACD) Value() float64      { return m.line }
func (m *MACD) SignalLine() float64 { return m.sig }
func (m *MACD) Histogram() float64  { return m.hist }

// Ready reports whether the signal line is past its warm-up.
func (m *MACD) Ready() bool { return m.count > m.slow+m.signal }
