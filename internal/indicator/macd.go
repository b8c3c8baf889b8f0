package indicator

import "github.com/finsight/analytics-go/internal/models"

// MACD computes Moving Average Convergence Divergence incrementally. It owns
// two price EMAs plus a third EMA over the derived MACD line; the line only
// starts feeding the signal EMA once both price EMAs are seeded.
type MACD struct {
	fast   *EMA
	slow   *EMA
	signal *EMA
}

// NewMACD creates a MACD engine (conventionally 12/26/9).
func NewMACD(fastPeriod, slowPeriod, signalPeriod int) *MACD {
	return &MACD{
		fast:   NewEMA(fastPeriod),
		slow:   NewEMA(slowPeriod),
		signal: NewEMA(signalPeriod),
	}
}

// Update folds one close price into all three averages.
func (m *MACD) Update(close float64) {
	m.fast.Update(close)
	m.slow.Update(close)
	if m.fast.Ready() && m.slow.Ready() {
		m.signal.Update(m.fast.Value() - m.slow.Value())
	}
}

// Ready reports whether the signal line has a full seed.
func (m *MACD) Ready() bool { return m.signal.Ready() }

// Lines returns the current MACD line, signal line and histogram.
func (m *MACD) Lines() models.MACDValue {
	line := m.fast.Value() - m.slow.Value()
	signal := m.signal.Value()
	return models.MACDValue{
		Line:      line,
		Signal:    signal,
		Histogram: line - signal,
	}
}
