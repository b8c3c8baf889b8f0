package stats

import (
	"math"

	"github.com/finsight/analytics-go/internal/models"
)

// LogReturns derives the return series r_t = ln(close_t / close_{t-1}).
// Non-positive closes are skipped. Computed once per symbol per update and
// reused across statistics.
func LogReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 || closes[i] <= 0 {
			continue
		}
		returns = append(returns, math.Log(closes[i]/closes[i-1]))
	}
	return returns
}

// AlignedReturns computes log returns for two bar series restricted to their
// common timestamps, so benchmark statistics compare the same trading days.
func AlignedReturns(bars, benchmark []models.Bar) (r1, r2 []float64) {
	benchCloses := make(map[int64]float64, len(benchmark))
	for _, b := range benchmark {
		benchCloses[b.Timestamp.Unix()] = b.CloseFloat()
	}

	var c1, c2 []float64
	for _, b := range bars {
		bc, ok := benchCloses[b.Timestamp.Unix()]
		if !ok {
			continue
		}
		c1 = append(c1, b.CloseFloat())
		c2 = append(c2, bc)
	}

	return pairedLogReturns(c1, c2)
}

// pairedLogReturns computes log returns over two aligned close series,
// dropping any step where either side is non-positive so the outputs stay
// the same length.
func pairedLogReturns(c1, c2 []float64) (r1, r2 []float64) {
	for i := 1; i < len(c1); i++ {
		if c1[i-1] <= 0 || c1[i] <= 0 || c2[i-1] <= 0 || c2[i] <= 0 {
			continue
		}
		r1 = append(r1, math.Log(c1[i]/c1[i-1]))
		r2 = append(r2, math.Log(c2[i]/c2[i-1]))
	}
	return r1, r2
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// sampleStdDev computes the sample (n-1) standard deviation.
func sampleStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var sumSquares float64
	for _, v := range values {
		diff := v - m
		sumSquares += diff * diff
	}
	return math.Sqrt(sumSquares / float64(len(values)-1))
}

// covariance computes the sample covariance of two equal-length series.
func covariance(x, y []float64) float64 {
	n := len(x)
	if n < 2 || len(y) != n {
		return 0
	}
	meanX := mean(x)
	meanY := mean(y)
	var sum float64
	for i := 0; i < n; i++ {
		sum += (x[i] - meanX) * (y[i] - meanY)
	}
	return sum / float64(n-1)
}
