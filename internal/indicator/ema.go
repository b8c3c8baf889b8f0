package indicator

// EMA computes an Exponential Moving Average incrementally. O(1) per update,
// no window storage. The first value seeds from the SMA of the first
// `period` closes; after that each close folds in with
// multiplier = 2/(period+1).
type EMA struct {
	period     int
	multiplier float64
	current    float64
	count      int
	sum        float64
}

// NewEMA creates an EMA engine with the given period.
func NewEMA(period int) *EMA {
	return &EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

// Update folds one close price into the running average.
func (e *EMA) Update(close float64) {
	e.count++

	if e.count <= e.period {
		// Accumulate for the initial SMA seed
		e.sum += close
		if e.count == e.period {
			e.current = e.sum / float64(e.period)
		}
		return
	}

	e.current = (close-e.current)*e.multiplier + e.current
}

// Value returns the current EMA. Meaningless until Ready.
func (e *EMA) Value() float64 { return e.current }

// Ready reports whether enough closes have been seen to seed the average.
func (e *EMA) Ready() bool { return e.count >= e.period }

// Count returns how many closes have been folded in.
func (e *EMA) Count() int { return e.count }
