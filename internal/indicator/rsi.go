package indicator

// RSI computes the Relative Strength Index with Wilder's smoothing. O(1) per
// update. The average gain/loss seed as simple averages of the first
// `period` deltas; thereafter avg = (avg*(period-1) + delta) / period.
// Output is always in [0,100]; a zero average loss pins the value at 100.
type RSI struct {
	period    int
	count     int
	prevClose float64
	avgGain   float64
	avgLoss   float64
	current   float64
}

// NewRSI creates an RSI engine with the given period (typically 14).
func NewRSI(period int) *RSI {
	return &RSI{period: period}
}

// Update folds one close price into the running averages.
func (r *RSI) Update(close float64) {
	r.count++

	if r.count == 1 {
		// First close, no delta yet
		r.prevClose = close
		return
	}

	delta := close - r.prevClose
	r.prevClose = close

	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}

	if r.count <= r.period+1 {
		// Accumulation phase: build the SMA seed
		r.avgGain += gain
		r.avgLoss += loss
		if r.count == r.period+1 {
			r.avgGain /= float64(r.period)
			r.avgLoss /= float64(r.period)
			r.current = rsiFromAverages(r.avgGain, r.avgLoss)
		}
		return
	}

	p := float64(r.period)
	r.avgGain = (r.avgGain*(p-1) + gain) / p
	r.avgLoss = (r.avgLoss*(p-1) + loss) / p
	r.current = rsiFromAverages(r.avgGain, r.avgLoss)
}

// Value returns the current RSI. Meaningless until Ready.
func (r *RSI) Value() float64 { return r.current }

// Ready reports whether a full period of deltas has been accumulated.
func (r *RSI) Ready() bool { return r.count > r.period }

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - 100.0/(1.0+rs)
}
