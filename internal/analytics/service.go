package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/finsight/analytics-go/internal/cache"
	"github.com/finsight/analytics-go/internal/config"
	"github.com/finsight/analytics-go/internal/dispatcher"
	"github.com/finsight/analytics-go/internal/indicator"
	"github.com/finsight/analytics-go/internal/models"
	"github.com/finsight/analytics-go/internal/stats"
	"github.com/finsight/analytics-go/internal/store"
	"github.com/finsight/analytics-go/internal/telemetry"
)

// Service is the read/administrative surface of the calculation engine,
// consumed by the external REST layer and the live-update pusher. Reads are
// cache-aside with a single-flight guarantee; writes arrive as NewBar events
// through Ingest.
type Service struct {
	store       store.BarStore
	cache       *cache.MetricCache
	indicators  *indicator.Engine
	stats       *stats.Engine
	dispatcher  *dispatcher.Dispatcher
	hub         *dispatcher.Hub
	historyBars int
	logger      *logrus.Logger
	metrics     *telemetry.Metrics
}

// NewService wires the engine components behind one façade.
func NewService(
	barStore store.BarStore,
	metricCache *cache.MetricCache,
	indicators *indicator.Engine,
	statistics *stats.Engine,
	disp *dispatcher.Dispatcher,
	hub *dispatcher.Hub,
	cfg config.DispatcherConfig,
	logger *logrus.Logger,
	metrics *telemetry.Metrics,
) *Service {
	return &Service{
		store:       barStore,
		cache:       metricCache,
		indicators:  indicators,
		stats:       statistics,
		dispatcher:  disp,
		hub:         hub,
		historyBars: cfg.HistoryBars,
		logger:      logger,
		metrics:     metrics,
	}
}

// Query returns the metric for (symbol, kind, params), serving from cache
// when fresh and computing from stored history otherwise. Concurrent misses
// for the same key collapse into one computation.
func (s *Service) Query(ctx context.Context, key models.MetricKey) (models.MetricResult, error) {
	if err := key.Validate(); err != nil {
		return models.MetricResult{}, err
	}

	return s.cache.GetOrCompute(ctx, key, func(ctx context.Context) (models.MetricResult, error) {
		return s.compute(ctx, key)
	})
}

// Ingest forwards a new bar to the update dispatcher.
func (s *Service) Ingest(bar models.Bar) error {
	return s.dispatcher.Ingest(bar)
}

// Subscribe opens a MetricsUpdated stream for the symbol.
func (s *Service) Subscribe(symbol string) dispatcher.Subscription {
	return s.hub.Subscribe(symbol)
}

// Unsubscribe closes a subscription.
func (s *Service) Unsubscribe(id uuid.UUID) {
	s.hub.Unsubscribe(id)
}

// Invalidate removes all cached metrics and running engine state for a
// symbol. The import pipeline calls this after correcting history; the next
// read or bar recomputes from the corrected store.
func (s *Service) Invalidate(ctx context.Context, symbol string) error {
	if err := s.cache.InvalidateSymbol(ctx, symbol); err != nil {
		return err
	}
	s.indicators.DropSymbol(symbol)
	s.dispatcher.Forget(symbol)
	return nil
}

// InvalidateKind removes cached metrics and engine state for one metric
// kind of a symbol.
func (s *Service) InvalidateKind(ctx context.Context, symbol string, kind models.MetricKind) error {
	if err := s.cache.InvalidateKind(ctx, symbol, kind); err != nil {
		return err
	}
	s.indicators.DropKind(symbol, kind)
	return nil
}

// compute runs a full computation for key over stored history.
func (s *Service) compute(ctx context.Context, key models.MetricKey) (models.MetricResult, error) {
	start := time.Now()
	defer func() {
		s.metrics.ComputeDur.WithLabelValues(string(key.Kind)).Observe(time.Since(start).Seconds())
	}()

	bars, err := s.store.GetLatestBars(ctx, key.Symbol, s.historyBars)
	if err != nil {
		s.metrics.ComputeFailures.WithLabelValues(string(key.Kind)).Inc()
		return models.MetricResult{}, fmt.Errorf("failed to load bars for %s: %w", key.Symbol, err)
	}

	result, err := s.computeFromBars(ctx, key, bars)
	if err != nil {
		s.metrics.ComputeFailures.WithLabelValues(string(key.Kind)).Inc()
		return models.MetricResult{}, err
	}
	return result, nil
}

func (s *Service) computeFromBars(ctx context.Context, key models.MetricKey, bars []models.Bar) (models.MetricResult, error) {
	switch key.Kind {
	case models.KindSMA, models.KindEMA, models.KindRSI, models.KindMACD,
		models.KindBollinger, models.KindSupportResistance:
		return s.indicators.Compute(key, bars)

	case models.KindCorrelation, models.KindBeta:
		benchmark, err := s.store.GetLatestBars(ctx, key.Params.Benchmark, s.historyBars)
		if err != nil {
			return models.MetricResult{}, fmt.Errorf("failed to load benchmark %s: %w", key.Params.Benchmark, err)
		}
		return s.stats.Compute(key, bars, benchmark)

	default:
		return s.stats.Compute(key, bars, nil)
	}
}
