package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight/analytics-go/internal/config"
	"github.com/finsight/analytics-go/internal/models"
	"github.com/finsight/analytics-go/internal/telemetry"
	"github.com/finsight/analytics-go/internal/utils"
)

func setupTestCache(t *testing.T) (*MetricCache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	cfg := config.CacheConfig{
		FastTTL:            time.Minute,
		SlowTTL:            10 * time.Minute,
		ComputationTimeout: 2 * time.Second,
		KeyPrefix:          "metrics:",
	}
	return New(client, cfg, logger, telemetry.NewMetrics(prometheus.NewRegistry())), mr
}

func smaKey(symbol string, period int) models.MetricKey {
	return models.MetricKey{Symbol: symbol, Kind: models.KindSMA, Params: models.MetricParams{Period: period}}
}

func volKey(symbol string, window int) models.MetricKey {
	return models.MetricKey{Symbol: symbol, Kind: models.KindVolatility, Params: models.MetricParams{Window: window}}
}

func scalarResult(key models.MetricKey, v float64) models.MetricResult {
	now := time.Date(2024, 3, 15, 16, 0, 0, 0, time.UTC)
	return models.MetricResult{
		Key:        key,
		Value:      models.ScalarValue(v),
		AsOf:       now,
		ComputedAt: now,
	}
}

func TestPutAndGetRoundTrip(t *testing.T) {
	c, _ := setupTestCache(t)
	ctx := context.Background()

	key := smaKey("AAPL", 20)
	require.NoError(t, c.Put(ctx, scalarResult(key, 182.5)))

	cached, ok := c.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, key, cached.Key)
	assert.InDelta(t, 182.5, cached.Value.Scalar, 1e-9)
	assert.False(t, cached.Stale)

	stats := c.GetStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Sets)
}

func TestGetMissOnAbsentKey(t *testing.T) {
	c, _ := setupTestCache(t)

	_, ok := c.Get(context.Background(), smaKey("AAPL", 20))
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.GetStats().Misses)
}

func TestTTLClassByKind(t *testing.T) {
	c, mr := setupTestCache(t)
	ctx := context.Background()

	indicator := smaKey("AAPL", 20)
	statistic := volKey("AAPL", 30)
	require.NoError(t, c.Put(ctx, scalarResult(indicator, 182.5)))
	require.NoError(t, c.Put(ctx, scalarResult(statistic, 0.24)))

	// Past the fast TTL the indicator expires but the statistic survives.
	mr.FastForward(2 * time.Minute)
	_, ok := c.Get(ctx, indicator)
	assert.False(t, ok)
	_, ok = c.Get(ctx, statistic)
	assert.True(t, ok)

	mr.FastForward(10 * time.Minute)
	_, ok = c.Get(ctx, statistic)
	assert.False(t, ok)
}

func TestTTLFor(t *testing.T) {
	c, _ := setupTestCache(t)

	assert.Equal(t, time.Minute, c.TTLFor(models.KindSMA))
	assert.Equal(t, time.Minute, c.TTLFor(models.KindMACD))
	assert.Equal(t, 10*time.Minute, c.TTLFor(models.KindVolatility))
	assert.Equal(t, 10*time.Minute, c.TTLFor(models.KindVaR))
}

func TestInvalidateSymbolRemovesAllEntries(t *testing.T) {
	c, _ := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, scalarResult(smaKey("AAPL", 20), 182.5)))
	require.NoError(t, c.Put(ctx, scalarResult(smaKey("AAPL", 50), 178.1)))
	require.NoError(t, c.Put(ctx, scalarResult(volKey("AAPL", 30), 0.24)))
	require.NoError(t, c.Put(ctx, scalarResult(smaKey("MSFT", 20), 410.0)))

	require.NoError(t, c.InvalidateSymbol(ctx, "AAPL"))

	_, ok := c.Get(ctx, smaKey("AAPL", 20))
	assert.False(t, ok)
	_, ok = c.Get(ctx, smaKey("AAPL", 50))
	assert.False(t, ok)
	_, ok = c.Get(ctx, volKey("AAPL", 30))
	assert.False(t, ok)

	// Other symbols are untouched.
	_, ok = c.Get(ctx, smaKey("MSFT", 20))
	assert.True(t, ok)

	keys, err := c.ActiveKeys(ctx, "AAPL")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestInvalidateKindIsScoped(t *testing.T) {
	c, _ := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, scalarResult(smaKey("AAPL", 20), 182.5)))
	require.NoError(t, c.Put(ctx, scalarResult(smaKey("AAPL", 50), 178.1)))
	require.NoError(t, c.Put(ctx, scalarResult(volKey("AAPL", 30), 0.24)))

	require.NoError(t, c.InvalidateKind(ctx, "AAPL", models.KindSMA))

	_, ok := c.Get(ctx, smaKey("AAPL", 20))
	assert.False(t, ok)
	_, ok = c.Get(ctx, smaKey("AAPL", 50))
	assert.False(t, ok)
	_, ok = c.Get(ctx, volKey("AAPL", 30))
	assert.True(t, ok)

	// The symbol tag set drops only the removed kind's members.
	keys, err := c.ActiveKeys(ctx, "AAPL")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, models.KindVolatility, keys[0].Kind)
}

func TestActiveKeysListsTaggedEntries(t *testing.T) {
	c, _ := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, scalarResult(smaKey("AAPL", 20), 182.5)))
	require.NoError(t, c.Put(ctx, scalarResult(volKey("AAPL", 30), 0.24)))

	keys, err := c.ActiveKeys(ctx, "AAPL")
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	keys, err = c.ActiveKeys(ctx, "MSFT")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestMarkStaleFlagsEntry(t *testing.T) {
	c, _ := setupTestCache(t)
	ctx := context.Background()

	key := volKey("AAPL", 30)
	require.NoError(t, c.Put(ctx, scalarResult(key, 0.24)))
	require.NoError(t, c.MarkStale(ctx, key))

	cached, ok := c.Get(ctx, key)
	require.True(t, ok)
	assert.True(t, cached.Stale)
}

func TestMarkStaleKeepsRemainingTTL(t *testing.T) {
	c, mr := setupTestCache(t)
	ctx := context.Background()

	key := volKey("AAPL", 30)
	require.NoError(t, c.Put(ctx, scalarResult(key, 0.24)))

	// Half the slow TTL elapses before the entry goes stale. Marking must
	// not restart the clock.
	mr.FastForward(5 * time.Minute)
	require.NoError(t, c.MarkStale(ctx, key))

	cached, ok := c.Get(ctx, key)
	require.True(t, ok)
	assert.True(t, cached.Stale)

	mr.FastForward(6 * time.Minute)
	_, ok = c.Get(ctx, key)
	assert.False(t, ok, "entry should expire on its original schedule")
}

func TestMarkStaleOnAbsentKeyIsNoop(t *testing.T) {
	c, _ := setupTestCache(t)
	assert.NoError(t, c.MarkStale(context.Background(), volKey("AAPL", 30)))
}

func TestGetOrComputeCachesMiss(t *testing.T) {
	c, _ := setupTestCache(t)
	ctx := context.Background()
	key := smaKey("AAPL", 20)

	var calls atomic.Int32
	compute := func(ctx context.Context) (models.MetricResult, error) {
		calls.Add(1)
		return scalarResult(key, 182.5), nil
	}

	result, err := c.GetOrCompute(ctx, key, compute)
	require.NoError(t, err)
	assert.InDelta(t, 182.5, result.Value.Scalar, 1e-9)
	assert.Equal(t, int32(1), calls.Load())

	// Second read is a pure cache hit.
	result, err = c.GetOrCompute(ctx, key, compute)
	require.NoError(t, err)
	assert.InDelta(t, 182.5, result.Value.Scalar, 1e-9)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetOrComputeTreatsStaleAsMiss(t *testing.T) {
	c, _ := setupTestCache(t)
	ctx := context.Background()
	key := volKey("AAPL", 30)

	require.NoError(t, c.Put(ctx, scalarResult(key, 0.24)))
	require.NoError(t, c.MarkStale(ctx, key))

	var calls atomic.Int32
	result, err := c.GetOrCompute(ctx, key, func(ctx context.Context) (models.MetricResult, error) {
		calls.Add(1)
		return scalarResult(key, 0.31), nil
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.31, result.Value.Scalar, 1e-9)
	assert.Equal(t, int32(1), calls.Load())

	cached, ok := c.Get(ctx, key)
	require.True(t, ok)
	assert.False(t, cached.Stale)
}

func TestGetOrComputeCollapsesConcurrentMisses(t *testing.T) {
	c, _ := setupTestCache(t)
	key := smaKey("AAPL", 20)

	var calls atomic.Int32
	compute := func(ctx context.Context) (models.MetricResult, error) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		return scalarResult(key, 182.5), nil
	}

	const waiters = 20
	var wg sync.WaitGroup
	results := make([]models.MetricResult, waiters)
	errs := make([]error, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetOrCompute(context.Background(), key, compute)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "concurrent misses must collapse into one computation")
	for i := 0; i < waiters; i++ {
		require.NoError(t, errs[i])
		assert.InDelta(t, 182.5, results[i].Value.Scalar, 1e-9)
	}
}

func TestGetOrComputePropagatesComputeError(t *testing.T) {
	c, _ := setupTestCache(t)
	key := smaKey("AAPL", 20)

	_, err := c.GetOrCompute(context.Background(), key, func(ctx context.Context) (models.MetricResult, error) {
		return models.MetricResult{}, utils.InsufficientDataError(20, 3)
	})
	assert.ErrorIs(t, err, utils.ErrInsufficientData)

	// A failed computation caches nothing.
	_, ok := c.Get(context.Background(), key)
	assert.False(t, ok)
}

func TestGetOrComputeTimesOut(t *testing.T) {
	c, _ := setupTestCache(t)
	c.cfg.ComputationTimeout = 50 * time.Millisecond
	key := smaKey("AAPL", 20)

	done := make(chan struct{})
	_, err := c.GetOrCompute(context.Background(), key, func(ctx context.Context) (models.MetricResult, error) {
		defer close(done)
		time.Sleep(time.Second)
		return scalarResult(key, 182.5), nil
	})
	assert.ErrorIs(t, err, utils.ErrComputationTimeout)

	<-done
}

func TestGetOrComputeReturnsCallerCancellation(t *testing.T) {
	c, _ := setupTestCache(t)
	key := smaKey("AAPL", 20)

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		<-started
		cancel()
	}()

	_, err := c.GetOrCompute(ctx, key, func(ctx context.Context) (models.MetricResult, error) {
		close(started)
		time.Sleep(100 * time.Millisecond)
		defer close(done)
		return scalarResult(key, 182.5), nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	// The detached computation still populates the cache for later callers.
	<-done
	time.Sleep(20 * time.Millisecond)
	_, ok := c.Get(context.Background(), key)
	assert.True(t, ok)
}
