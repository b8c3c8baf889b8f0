package indicator

import (
	"github.com/finsight/analytics-go/internal/models"
	"github.com/finsight/analytics-go/internal/utils"
)

// Pivots detects support and resistance levels over the last `window` bars.
// A bar is a pivot high (resistance) when its high is the maximum within
// ±width bars, a pivot low (support) when its low is the minimum. Returns
// the most recent `levels` pivots, newest first. Always a full recompute;
// there is no incremental form.
func Pivots(bars []models.Bar, window, width, levels int) ([]models.PivotLevel, error) {
	need := 2*width + 1
	if len(bars) < need {
		return nil, utils.InsufficientDataError(need, len(bars))
	}
	if len(bars) > window {
		bars = bars[len(bars)-window:]
	}

	highs, lows := models.HighsLows(bars)

	var pivots []models.PivotLevel
	for i := width; i < len(bars)-width; i++ {
		if isExtremum(highs, i, width, true) {
			pivots = append(pivots, models.PivotLevel{
				Price:     highs[i],
				Timestamp: bars[i].Timestamp,
				Support:   false,
			})
		}
		if isExtremum(lows, i, width, false) {
			pivots = append(pivots, models.PivotLevel{
				Price:     lows[i],
				Timestamp: bars[i].Timestamp,
				Support:   true,
			})
		}
	}

	// Newest first, capped at the requested number of levels
	for i, j := 0, len(pivots)-1; i < j; i, j = i+1, j-1 {
		pivots[i], pivots[j] = pivots[j], pivots[i]
	}
	if len(pivots) > levels {
		pivots = pivots[:levels]
	}
	return pivots, nil
}

func isExtremum(values []float64, i, width int, max bool) bool {
	for j := i - width; j <= i+width; j++ {
		if j == i {
			continue
		}
		if max && values[j] > values[i] {
			return false
		}
		if !max && values[j] < values[i] {
			return false
		}
	}
	return true
}
