package models

import (
	"fmt"
	"time"

	"github.com/finsight/analytics-go/internal/utils"
)

// MetricKind identifies a derived analytic.
type MetricKind string

const (
	KindSMA               MetricKind = "sma"
	KindEMA               MetricKind = "ema"
	KindRSI               MetricKind = "rsi"
	KindMACD              MetricKind = "macd"
	KindBollinger         MetricKind = "bollinger"
	KindSupportResistance MetricKind = "support_resistance"
	KindVolatility        MetricKind = "volatility"
	KindCorrelation       MetricKind = "correlation"
	KindBeta              MetricKind = "beta"
	KindSharpe            MetricKind = "sharpe"
	KindVaR               MetricKind = "var"
	KindMaxDrawdown       MetricKind = "max_drawdown"
)

// Incremental reports whether the kind supports O(1) per-bar updates.
// Other kinds are marked stale on new bars and recomputed lazily on read.
func (k MetricKind) Incremental() bool {
	switch k {
	case KindEMA, KindRSI, KindMACD:
		return true
	}
	return false
}

// MetricParams holds the kind-specific parameters of a metric. Fields not
// used by a kind are ignored by CacheKey and Validate.
type MetricParams struct {
	Period           int     `json:"period,omitempty"`
	FastPeriod       int     `json:"fast_period,omitempty"`
	SlowPeriod       int     `json:"slow_period,omitempty"`
	SignalPeriod     int     `json:"signal_period,omitempty"`
	StdDevMultiplier float64 `json:"std_dev_multiplier,omitempty"`
	PivotWidth       int     `json:"pivot_width,omitempty"`
	Levels           int     `json:"levels,omitempty"`
	Window           int     `json:"window,omitempty"`
	Benchmark        string  `json:"benchmark,omitempty"`
	Confidence       float64 `json:"confidence,omitempty"`
	PositionValue    float64 `json:"position_value,omitempty"`
}

// Validate rejects parameter sets that can never produce a valid result for
// the given kind. Runs before any computation.
func (p MetricParams) Validate(kind MetricKind) error {
	switch kind {
	case KindSMA, KindEMA, KindRSI:
		if p.Period <= 0 {
			return utils.InvalidParametersError("%s period must be positive, got %d", kind, p.Period)
		}
	case KindMACD:
		if p.FastPeriod <= 0 || p.SlowPeriod <= 0 || p.SignalPeriod <= 0 {
			return utils.InvalidParametersError("macd periods must be positive")
		}
		if p.FastPeriod >= p.SlowPeriod {
			return utils.InvalidParametersError("macd fast period %d must be below slow period %d", p.FastPeriod, p.SlowPeriod)
		}
	case KindBollinger:
		if p.Period <= 0 {
			return utils.InvalidParametersError("bollinger period must be positive, got %d", p.Period)
		}
		if p.StdDevMultiplier <= 0 {
			return utils.InvalidParametersError("bollinger std dev multiplier must be positive, got %f", p.StdDevMultiplier)
		}
	case KindSupportResistance:
		if p.PivotWidth <= 0 || p.Levels <= 0 || p.Window <= 0 {
			return utils.InvalidParametersError("support/resistance needs positive pivot width, levels and window")
		}
	case KindVolatility, KindSharpe, KindMaxDrawdown:
		if p.Window <= 0 {
			return utils.InvalidParametersError("%s window must be positive, got %d", kind, p.Window)
		}
	case KindCorrelation, KindBeta:
		if p.Window <= 0 {
			return utils.InvalidParametersError("%s window must be positive, got %d", kind, p.Window)
		}
		if p.Benchmark == "" {
			return utils.InvalidParametersError("%s requires a benchmark symbol", kind)
		}
	case KindVaR:
		if p.Window <= 0 {
			return utils.InvalidParametersError("var window must be positive, got %d", p.Window)
		}
		if p.Confidence <= 0 || p.Confidence >= 1 {
			return utils.InvalidParametersError("var confidence must be in (0,1), got %f", p.Confidence)
		}
		if p.PositionValue <= 0 {
			return utils.InvalidParametersError("var position value must be positive, got %f", p.PositionValue)
		}
	default:
		return utils.InvalidParametersError("unknown metric kind %q", kind)
	}
	return nil
}

// MetricKey uniquely identifies one cached result.
type MetricKey struct {
	Symbol string       `json:"symbol"`
	Kind   MetricKind   `json:"kind"`
	Params MetricParams `json:"params"`
}

// CacheKey returns the canonical string form used as the cache key. Only the
// parameters relevant to the kind participate, so logically identical keys
// always collide.
func (k MetricKey) CacheKey() string {
	switch k.Kind {
	case KindSMA, KindEMA, KindRSI:
		return fmt.Sprintf("%s:%s:p%d", k.Symbol, k.Kind, k.Params.Period)
	case KindMACD:
		return fmt.Sprintf("%s:%s:f%d.s%d.g%d", k.Symbol, k.Kind, k.Params.FastPeriod, k.Params.SlowPeriod, k.Params.SignalPeriod)
	case KindBollinger:
		return fmt.Sprintf("%s:%s:p%d.m%g", k.Symbol, k.Kind, k.Params.Period, k.Params.StdDevMultiplier)
	case KindSupportResistance:
		return fmt.Sprintf("%s:%s:w%d.n%d.l%d", k.Symbol, k.Kind, k.Params.PivotWidth, k.Params.Window, k.Params.Levels)
	case KindCorrelation, KindBeta:
		return fmt.Sprintf("%s:%s:w%d.b%s", k.Symbol, k.Kind, k.Params.Window, k.Params.Benchmark)
	case KindVaR:
		return fmt.Sprintf("%s:%s:w%d.c%g.v%g", k.Symbol, k.Kind, k.Params.Window, k.Params.Confidence, k.Params.PositionValue)
	default:
		return fmt.Sprintf("%s:%s:w%d", k.Symbol, k.Kind, k.Params.Window)
	}
}

// Validate checks the key's symbol and parameter set.
func (k MetricKey) Validate() error {
	if k.Symbol == "" {
		return utils.InvalidParametersError("metric key has empty symbol")
	}
	return k.Params.Validate(k.Kind)
}

// MACDValue is the structured result of a MACD computation.
type MACDValue struct {
	Line      float64 `json:"line"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// BandsValue is the structured result of a Bollinger Bands computation.
type BandsValue struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
}

// PivotLevel is one detected support or resistance level.
type PivotLevel struct {
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
	Support   bool      `json:"support"`
}

// VaRMethod names the estimation method used for a VaR result.
type VaRMethod string

const (
	VaRHistorical VaRMethod = "historical"
	VaRParametric VaRMethod = "parametric"
)

// VaRValue is the structured result of a Value-at-Risk computation.
type VaRValue struct {
	Amount float64   `json:"amount"`
	Method VaRMethod `json:"method"`
}

// MetricValue is the tagged value of a MetricResult. Exactly one field is
// populated depending on the metric kind: Scalar for single-number metrics,
// one of the structured fields otherwise.
type MetricValue struct {
	Scalar float64       `json:"scalar,omitempty"`
	MACD   *MACDValue    `json:"macd,omitempty"`
	Bands  *BandsValue   `json:"bands,omitempty"`
	Levels []PivotLevel  `json:"levels,omitempty"`
	VaR    *VaRValue     `json:"var,omitempty"`
}

// ScalarValue wraps a float in a MetricValue.
func ScalarValue(v float64) MetricValue {
	return MetricValue{Scalar: v}
}

// MetricResult is an immutable computed snapshot. A new bar produces a new
// MetricResult replacing the cached one; results are never mutated in place.
type MetricResult struct {
	Key        MetricKey   `json:"key"`
	Value      MetricValue `json:"value"`
	AsOf       time.Time   `json:"as_of"`
	ComputedAt time.Time   `json:"computed_at"`
	Stale      bool        `json:"stale"`
}
