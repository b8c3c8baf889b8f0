package stats

import (
	"math"
	"sort"
	"time"

	"github.com/finsight/analytics-go/internal/config"
	"github.com/finsight/analytics-go/internal/models"
	"github.com/finsight/analytics-go/internal/utils"
)

// minHistoricalVaRObservations is the documented threshold below which the
// historical percentile is too unstable and VaR falls back to the
// parametric normal approximation.
const minHistoricalVaRObservations = 30

// Engine computes statistical risk metrics over return series. Stateless:
// every call is a full computation over the supplied window.
type Engine struct {
	tradingDays  int
	riskFreeRate float64
}

// NewEngine creates a statistics engine. TradingDays and RiskFreeRate are
// required configuration with no defaults.
func NewEngine(cfg config.StatsConfig) *Engine {
	return &Engine{
		tradingDays:  cfg.TradingDays,
		riskFreeRate: cfg.RiskFreeRate,
	}
}

// Compute dispatches a statistical metric. Benchmark bars are only consulted
// for CORRELATION and BETA and may be nil otherwise.
func (e *Engine) Compute(key models.MetricKey, bars, benchmark []models.Bar) (models.MetricResult, error) {
	if err := key.Validate(); err != nil {
		return models.MetricResult{}, err
	}
	if len(bars) == 0 {
		return models.MetricResult{}, utils.InsufficientDataError(2, 0)
	}

	asOf := bars[len(bars)-1].Timestamp

	// Statistics carry an explicit window parameter; trim history to the
	// most recent `window` bars before deriving returns.
	bars = tailBars(bars, key.Params.Window)
	benchmark = tailBars(benchmark, key.Params.Window)
	closes := models.Closes(bars)

	var value models.MetricValue
	switch key.Kind {
	case models.KindVolatility:
		v, err := e.Volatility(closes)
		if err != nil {
			return models.MetricResult{}, err
		}
		value = models.ScalarValue(v)

	case models.KindCorrelation:
		r1, r2 := AlignedReturns(bars, benchmark)
		v, err := Correlation(r1, r2)
		if err != nil {
			return models.MetricResult{}, err
		}
		value = models.ScalarValue(v)

	case models.KindBeta:
		r1, r2 := AlignedReturns(bars, benchmark)
		v, err := Beta(r1, r2)
		if err != nil {
			return models.MetricResult{}, err
		}
		value = models.ScalarValue(v)

	case models.KindSharpe:
		v, err := e.SharpeRatio(closes)
		if err != nil {
			return models.MetricResult{}, err
		}
		value = models.ScalarValue(v)

	case models.KindVaR:
		v, err := ValueAtRisk(LogReturns(closes), key.Params.Confidence, key.Params.PositionValue)
		if err != nil {
			return models.MetricResult{}, err
		}
		value = models.MetricValue{VaR: &v}

	case models.KindMaxDrawdown:
		v, err := MaxDrawdown(closes)
		if err != nil {
			return models.MetricResult{}, err
		}
		value = models.ScalarValue(v)

	default:
		return models.MetricResult{}, utils.InvalidParametersError("kind %q is not a statistic", key.Kind)
	}

	return models.MetricResult{
		Key:        key,
		Value:      value,
		AsOf:       asOf,
		ComputedAt: time.Now().UTC(),
	}, nil
}

// Volatility returns the annualized sample standard deviation of log returns.
func (e *Engine) Volatility(closes []float64) (float64, error) {
	returns := LogReturns(closes)
	if len(returns) < 2 {
		return 0, utils.InsufficientDataError(3, len(closes))
	}
	return sampleStdDev(returns) * math.Sqrt(float64(e.tradingDays)), nil
}

// SharpeRatio returns the annualized excess return per unit of volatility.
func (e *Engine) SharpeRatio(closes []float64) (float64, error) {
	returns := LogReturns(closes)
	if len(returns) < 2 {
		return 0, utils.InsufficientDataError(3, len(closes))
	}
	sigma := sampleStdDev(returns)
	if sigma == 0 {
		return 0, utils.ErrDegenerateInput
	}
	excess := mean(returns) - e.riskFreeRate/float64(e.tradingDays)
	return excess / sigma * math.Sqrt(float64(e.tradingDays)), nil
}

// Correlation returns the Pearson correlation coefficient of two aligned
// return series, clamped to [-1,1] against floating overshoot.
func Correlation(x, y []float64) (float64, error) {
	n := len(x)
	if n < 2 || len(y) != n {
		return 0, utils.InsufficientDataError(2, n)
	}

	meanX := mean(x)
	meanY := mean(y)

	var numerator, denomX, denomY float64
	for i := 0; i < n; i++ {
		dx := x[i] - meanX
		dy := y[i] - meanY
		numerator += dx * dy
		denomX += dx * dx
		denomY += dy * dy
	}

	denom := math.Sqrt(denomX * denomY)
	if denom == 0 {
		return 0, utils.ErrDegenerateInput
	}

	corr := numerator / denom
	if corr > 1 {
		corr = 1
	}
	if corr < -1 {
		corr = -1
	}
	return corr, nil
}

// Beta returns Cov(returns, benchmark) / Var(benchmark).
func Beta(returns, benchmark []float64) (float64, error) {
	n := len(returns)
	if n < 2 || len(benchmark) != n {
		return 0, utils.InsufficientDataError(2, n)
	}

	benchVar := sampleStdDev(benchmark)
	if benchVar == 0 {
		return 0, utils.ErrDegenerateInput
	}
	return covariance(returns, benchmark) / (benchVar * benchVar), nil
}

// ValueAtRisk estimates the loss at the given confidence level, scaled to
// the position value. Historical percentile with at least
// minHistoricalVaRObservations returns, parametric normal approximation
// below that.
func ValueAtRisk(returns []float64, confidence, positionValue float64) (models.VaRValue, error) {
	if len(returns) < 2 {
		return models.VaRValue{}, utils.InsufficientDataError(3, len(returns)+1)
	}

	if len(returns) >= minHistoricalVaRObservations {
		sorted := make([]float64, len(returns))
		copy(sorted, returns)
		sort.Float64s(sorted)

		idx := int(math.Floor((1 - confidence) * float64(len(sorted))))
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		return models.VaRValue{
			Amount: -sorted[idx] * positionValue,
			Method: models.VaRHistorical,
		}, nil
	}

	// Parametric fallback: normal approximation of the return distribution.
	z := normalQuantile(1 - confidence)
	loss := -(mean(returns) + z*sampleStdDev(returns)) * positionValue
	return models.VaRValue{
		Amount: loss,
		Method: models.VaRParametric,
	}, nil
}

// MaxDrawdown returns the largest peak-to-trough decline over the value
// series as a fraction of the peak. Single O(n) pass tracking the running
// peak.
func MaxDrawdown(values []float64) (float64, error) {
	if len(values) < 2 {
		return 0, utils.InsufficientDataError(2, len(values))
	}

	peak := values[0]
	maxDD := 0.0
	for _, v := range values[1:] {
		if v > peak {
			peak = v
			continue
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD, nil
}

func tailBars(bars []models.Bar, window int) []models.Bar {
	if window > 0 && len(bars) > window {
		return bars[len(bars)-window:]
	}
	return bars
}

// normalQuantile returns the standard normal quantile for probability p.
func normalQuantile(p float64) float64 {
	return math.Sqrt2 * math.Erfinv(2*p-1)
}
