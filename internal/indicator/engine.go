package indicator

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/finsight/analytics-go/internal/models"
	"github.com/finsight/analytics-go/internal/utils"
)

// incremental is the common surface of the O(1)-per-bar engines.
type incremental interface {
	Update(close float64)
	Ready() bool
}

// stateEntry pairs a running engine with the timestamp of the newest bar it
// has folded in. A history replay can run ahead of the bar currently being
// processed; asOf lets Apply skip bars the replay already covered instead of
// folding them in twice.
type stateEntry struct {
	state incremental
	asOf  time.Time
}

// Engine owns the indicator algorithms and the per-key incremental state.
// State for a key is only ever touched by the symbol's single recompute
// stream; the registry lock covers map structure, not state mutation.
type Engine struct {
	mu     sync.Mutex
	states map[string]map[string]*stateEntry // symbol -> cache key -> state
	logger *logrus.Logger
}

// NewEngine creates an indicator engine with an empty state registry.
func NewEngine(logger *logrus.Logger) *Engine {
	return &Engine{
		states: make(map[string]map[string]*stateEntry),
		logger: logger,
	}
}

// Compute runs a full stateless computation of key over the supplied ordered
// history. Incremental kinds replay every bar through a fresh throwaway
// state; Warmup is the registering variant reserved for the symbol's update
// stream.
func (e *Engine) Compute(key models.MetricKey, bars []models.Bar) (models.MetricResult, error) {
	return e.compute(key, bars, false)
}

// Warmup replays history through a fresh state, registers it for subsequent
// Apply calls, and returns the result. Only the symbol's single update
// stream calls this, which keeps registration serialized with Apply and
// with state drops. A cold start warmed this way produces output identical
// to the warm incremental path.
func (e *Engine) Warmup(key models.MetricKey, bars []models.Bar) (models.MetricResult, error) {
	return e.compute(key, bars, true)
}

func (e *Engine) compute(key models.MetricKey, bars []models.Bar, register bool) (models.MetricResult, error) {
	if err := key.Validate(); err != nil {
		return models.MetricResult{}, err
	}
	if len(bars) == 0 {
		return models.MetricResult{}, utils.InsufficientDataError(1, 0)
	}

	closes := models.Closes(bars)
	asOf := bars[len(bars)-1].Timestamp

	var value models.MetricValue
	switch key.Kind {
	case models.KindSMA:
		v, err := SMA(closes, key.Params.Period)
		if err != nil {
			return models.MetricResult{}, err
		}
		value = models.ScalarValue(v)

	case models.KindBollinger:
		bands, err := Bollinger(closes, key.Params.Period, key.Params.StdDevMultiplier)
		if err != nil {
			return models.MetricResult{}, err
		}
		value = models.MetricValue{Bands: &bands}

	case models.KindSupportResistance:
		levels, err := Pivots(bars, key.Params.Window, key.Params.PivotWidth, key.Params.Levels)
		if err != nil {
			return models.MetricResult{}, err
		}
		value = models.MetricValue{Levels: levels}

	case models.KindEMA, models.KindRSI, models.KindMACD:
		state := newState(key)
		for _, c := range closes {
			state.Update(c)
		}
		if !state.Ready() {
			return models.MetricResult{}, utils.InsufficientDataError(minBars(key), len(bars))
		}
		if register {
			e.putState(key, state, asOf)
		}
		value = stateValue(key.Kind, state)

	default:
		return models.MetricResult{}, utils.InvalidParametersError("kind %q is not an indicator", key.Kind)
	}

	return newResult(key, value, asOf), nil
}

// Apply folds one new bar into the registered state for key and returns the
// fresh result. The second return is false when no state exists yet; the
// caller then warms up through Warmup with full history. Bars at or before
// the state's as-of timestamp are already accounted for by a replay and
// leave the state untouched.
func (e *Engine) Apply(key models.MetricKey, bar models.Bar) (models.MetricResult, bool, error) {
	if !key.Kind.Incremental() {
		return models.MetricResult{}, false, utils.InvalidParametersError("kind %q has no incremental path", key.Kind)
	}

	entry, ok := e.getState(key)
	if !ok {
		return models.MetricResult{}, false, nil
	}

	if bar.Timestamp.After(entry.asOf) {
		entry.state.Update(bar.CloseFloat())
		entry.asOf = bar.Timestamp
	}
	if !entry.state.Ready() {
		return models.MetricResult{}, true, utils.InsufficientDataError(minBars(key), 0)
	}
	return newResult(key, stateValue(key.Kind, entry.state), entry.asOf), true, nil
}

// DropSymbol discards all incremental state for a symbol. Used after a
// backfill correction, when running accumulators no longer reflect history.
func (e *Engine) DropSymbol(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n := len(e.states[symbol]); n > 0 {
		e.logger.WithFields(logrus.Fields{"symbol": symbol, "states": n}).Debug("Dropping indicator state")
	}
	delete(e.states, symbol)
}

// DropKind discards incremental state for one metric kind of a symbol.
func (e *Engine) DropKind(symbol string, kind models.MetricKind) {
	e.mu.Lock()
	defer e.mu.Unlock()
	prefix := symbol + ":" + string(kind) + ":"
	for cacheKey := range e.states[symbol] {
		if strings.HasPrefix(cacheKey, prefix) {
			delete(e.states[symbol], cacheKey)
		}
	}
}

func (e *Engine) getState(key models.MetricKey) (*stateEntry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.states[key.Symbol][key.CacheKey()]
	return entry, ok
}

func (e *Engine) putState(key models.MetricKey, state incremental, asOf time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	bySymbol, ok := e.states[key.Symbol]
	if !ok {
		bySymbol = make(map[string]*stateEntry)
		e.states[key.Symbol] = bySymbol
	}
	bySymbol[key.CacheKey()] = &stateEntry{state: state, asOf: asOf}
}

func newState(key models.MetricKey) incremental {
	switch key.Kind {
	case models.KindEMA:
		return NewEMA(key.Params.Period)
	case models.KindRSI:
		return NewRSI(key.Params.Period)
	case models.KindMACD:
		return NewMACD(key.Params.FastPeriod, key.Params.SlowPeriod, key.Params.SignalPeriod)
	}
	panic(fmt.Sprintf("no incremental state for kind %q", key.Kind))
}

func stateValue(kind models.MetricKind, state incremental) models.MetricValue {
	switch kind {
	case models.KindEMA:
		return models.ScalarValue(state.(*EMA).Value())
	case models.KindRSI:
		return models.ScalarValue(state.(*RSI).Value())
	case models.KindMACD:
		lines := state.(*MACD).Lines()
		return models.MetricValue{MACD: &lines}
	}
	return models.MetricValue{}
}

// minBars returns the number of bars an incremental kind needs before its
// first value, used in InsufficientData messages.
func minBars(key models.MetricKey) int {
	switch key.Kind {
	case models.KindEMA:
		return key.Params.Period
	case models.KindRSI:
		return key.Params.Period + 1
	case models.KindMACD:
		return key.Params.SlowPeriod + key.Params.SignalPeriod - 1
	}
	return 1
}

func newResult(key models.MetricKey, value models.MetricValue, asOf time.Time) models.MetricResult {
	return models.MetricResult{
		Key:        key,
		Value:      value,
		AsOf:       asOf,
		ComputedAt: time.Now().UTC(),
	}
}
