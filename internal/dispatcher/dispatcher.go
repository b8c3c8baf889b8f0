package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/finsight/analytics-go/internal/cache"
	"github.com/finsight/analytics-go/internal/config"
	"github.com/finsight/analytics-go/internal/indicator"
	"github.com/finsight/analytics-go/internal/models"
	"github.com/finsight/analytics-go/internal/store"
	"github.com/finsight/analytics-go/internal/telemetry"
	"github.com/finsight/analytics-go/internal/utils"
)

// Dispatcher consumes NewBar events, triggers targeted recomputation of the
// affected cached metrics, writes results through the cache, and publishes
// MetricsUpdated events. One worker goroutine per symbol serializes that
// symbol's recompute stream; symbols never block each other.
//
// The store adapter is the source of truth for ordering; the dispatcher
// defends against stale delivery by rejecting bars whose timestamp does not
// strictly advance the symbol's last known bar.
type Dispatcher struct {
	store      store.BarStore
	cache      *cache.MetricCache
	indicators *indicator.Engine
	hub        *Hub
	cfg        config.DispatcherConfig
	logger     *logrus.Logger
	metrics    *telemetry.Metrics

	mu       sync.Mutex
	workers  map[string]chan models.Bar
	lastSeen map[string]time.Time
	gaps     map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a dispatcher. Call Stop to drain workers on shutdown.
func New(
	barStore store.BarStore,
	metricCache *cache.MetricCache,
	indicators *indicator.Engine,
	hub *Hub,
	cfg config.DispatcherConfig,
	logger *logrus.Logger,
	metrics *telemetry.Metrics,
) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		store:      barStore,
		cache:      metricCache,
		indicators: indicators,
		hub:        hub,
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		workers:    make(map[string]chan models.Bar),
		lastSeen:   make(map[string]time.Time),
		gaps:       make(map[string]bool),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Ingest accepts one new bar. Out-of-order or duplicate bars are rejected
// with ErrOutOfOrderBar and trigger no recomputation. When the symbol's
// queue is full the oldest pending bar is superseded rather than queueing
// unboundedly; ingestion itself never blocks on slow metric consumers.
func (d *Dispatcher) Ingest(bar models.Bar) error {
	if err := bar.Validate(); err != nil {
		return err
	}

	d.mu.Lock()
	last, seen := d.lastSeen[bar.Symbol]
	d.mu.Unlock()

	stale := seen && !bar.Timestamp.After(last)
	if !seen {
		// First bar since startup: recover the watermark from stored
		// history so replays of old bars are still rejected. Runs outside
		// the registry lock; a slow store lookup must not stall ingestion
		// for other symbols. The ingestion pipeline persists before
		// notifying, so the store tail may legitimately equal this bar's
		// timestamp.
		if tail, err := d.store.GetLatestBars(d.ctx, bar.Symbol, 1); err == nil && len(tail) > 0 {
			stale = bar.Timestamp.Before(tail[0].Timestamp)
			last = tail[0].Timestamp
		}
	}

	d.mu.Lock()
	// Another Ingest may have advanced the watermark while the lock was
	// released.
	if cur, ok := d.lastSeen[bar.Symbol]; ok {
		stale = !bar.Timestamp.After(cur)
		last = cur
	}
	if stale {
		d.mu.Unlock()
		d.metrics.OutOfOrderBars.Inc()
		d.logger.WithFields(logrus.Fields{
			"symbol":    bar.Symbol,
			"timestamp": bar.Timestamp,
			"last_seen": last,
		}).Warn("Rejecting out-of-order bar")
		return fmt.Errorf("%w: %s at %s", utils.ErrOutOfOrderBar, bar.Symbol, bar.Timestamp.Format(time.RFC3339))
	}
	d.lastSeen[bar.Symbol] = bar.Timestamp

	pending, ok := d.workers[bar.Symbol]
	if !ok {
		pending = make(chan models.Bar, d.cfg.QueueSize)
		d.workers[bar.Symbol] = pending
		d.wg.Add(1)
		go d.runWorker(bar.Symbol, pending)
	}

	select {
	case pending <- bar:
	default:
		// Queue full: supersede the oldest pending bar with the newest.
		// The superseded close never reaches the running accumulators, so
		// they no longer reflect full history; flag the gap and let the
		// worker drop its state and re-warm by replay from the store,
		// which holds every bar.
		select {
		case <-pending:
			d.gaps[bar.Symbol] = true
			d.metrics.BarsCoalesced.Inc()
		default:
		}
		pending <- bar
	}
	d.mu.Unlock()

	d.metrics.BarsIngested.Inc()
	return nil
}

// Forget clears the symbol's ordering watermark, forcing the next Ingest to
// re-read it from the store. Called after a backfill correction.
func (d *Dispatcher) Forget(symbol string) {
	d.mu.Lock()
	delete(d.lastSeen, symbol)
	delete(d.gaps, symbol)
	d.mu.Unlock()
}

// Stop drains in-flight recomputations, bounded by the configured shutdown
// timeout, then closes the subscriber hub.
func (d *Dispatcher) Stop() {
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(d.cfg.ShutdownTimeout):
		d.logger.Warn("Dispatcher shutdown timed out with recomputations in flight")
	}
	d.hub.Close()
}

func (d *Dispatcher) runWorker(symbol string, pending <-chan models.Bar) {
	defer d.wg.Done()
	log := d.logger.WithField("symbol", symbol)

	for {
		select {
		case <-d.ctx.Done():
			return
		case bar := <-pending:
			// A coalesce since the last bar means the accumulators missed
			// a close; drop them so this bar re-warms from full history.
			d.mu.Lock()
			gap := d.gaps[symbol]
			delete(d.gaps, symbol)
			d.mu.Unlock()
			if gap {
				d.indicators.DropSymbol(symbol)
			}

			d.processBar(bar, log)
		}
	}
}

// processBar recomputes every actively-cached metric for the bar's symbol.
// Incremental kinds take the O(1) engine path (warming up from history on
// first touch); everything else is marked stale for lazy recomputation by
// the next reader. A failure of one metric never aborts its siblings.
func (d *Dispatcher) processBar(bar models.Bar, log *logrus.Entry) {
	// Detached from the dispatcher context so a shutdown drains this bar
	// instead of failing its cache writes midway.
	ctx := context.WithoutCancel(d.ctx)

	keys, err := d.cache.ActiveKeys(ctx, bar.Symbol)
	if err != nil {
		log.WithError(err).Error("Failed to list active metric keys")
		return
	}

	var updated []models.MetricKey
	for _, key := range keys {
		if !key.Kind.Incremental() {
			if err := d.cache.MarkStale(ctx, key); err != nil {
				log.WithError(err).WithField("key", key.CacheKey()).Warn("Failed to mark metric stale")
			}
			continue
		}

		result, err := d.updateIncremental(ctx, key, bar)
		if err != nil {
			d.metrics.ComputeFailures.WithLabelValues(string(key.Kind)).Inc()
			log.WithError(err).WithField("key", key.CacheKey()).Warn("Metric recomputation failed")
			continue
		}
		if err := d.cache.Put(ctx, result); err != nil {
			log.WithError(err).WithField("key", key.CacheKey()).Warn("Failed to cache recomputed metric")
			continue
		}
		updated = append(updated, key)
	}

	d.hub.Publish(MetricsUpdated{
		Symbol:      bar.Symbol,
		UpdatedKeys: updated,
		AsOf:        bar.Timestamp,
	})
}

// updateIncremental applies the bar to the key's running engine state,
// replaying stored history first when the state does not exist yet. The
// ingestion pipeline persists bars to the store before emitting NewBar, so
// the replay includes this bar, and may include newer ones when the worker
// lags; Apply skips bars a replay has already covered.
func (d *Dispatcher) updateIncremental(ctx context.Context, key models.MetricKey, bar models.Bar) (models.MetricResult, error) {
	start := time.Now()
	defer func() {
		d.metrics.ComputeDur.WithLabelValues(string(key.Kind)).Observe(time.Since(start).Seconds())
	}()

	result, ok, err := d.indicators.Apply(key, bar)
	if err != nil {
		return models.MetricResult{}, err
	}
	if ok {
		return result, nil
	}

	bars, err := d.store.GetLatestBars(ctx, key.Symbol, d.cfg.HistoryBars)
	if err != nil {
		return models.MetricResult{}, fmt.Errorf("failed to load history for warmup: %w", err)
	}
	return d.indicators.Warmup(key, bars)
}
