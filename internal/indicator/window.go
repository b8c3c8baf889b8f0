package indicator

import (
	"math"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/trend"

	"github.com/finsight/analytics-go/internal/models"
	"github.com/finsight/analytics-go/internal/utils"
)

// SMA returns the arithmetic mean of the last `period` closes.
func SMA(closes []float64, period int) (float64, error) {
	if len(closes) < period {
		return 0, utils.InsufficientDataError(period, len(closes))
	}

	smaIndicator := trend.NewSmaWithPeriod[float64](period)
	values := helper.ChanToSlice(smaIndicator.Compute(helper.SliceToChan(closes)))
	if len(values) == 0 {
		return 0, utils.InsufficientDataError(period, len(closes))
	}
	return values[len(values)-1], nil
}

// Bollinger returns the bands over the last `period` closes: middle is the
// SMA, the width is stdDevMultiplier times the population standard deviation
// of the window. lower <= middle <= upper holds for any positive multiplier.
func Bollinger(closes []float64, period int, stdDevMultiplier float64) (models.BandsValue, error) {
	middle, err := SMA(closes, period)
	if err != nil {
		return models.BandsValue{}, err
	}

	window := closes[len(closes)-period:]
	width := stdDevMultiplier * populationStdDev(window, middle)

	return models.BandsValue{
		Upper:  middle + width,
		Middle: middle,
		Lower:  middle - width,
	}, nil
}

// populationStdDev computes the population standard deviation of the window
// around a precomputed mean.
func populationStdDev(window []float64, mean float64) float64 {
	if len(window) == 0 {
		return 0
	}
	variance := 0.0
	for _, v := range window {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(len(window))
	return math.Sqrt(variance)
}
