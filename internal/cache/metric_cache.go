package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/finsight/analytics-go/internal/config"
	"github.com/finsight/analytics-go/internal/models"
	"github.com/finsight/analytics-go/internal/telemetry"
	"github.com/finsight/analytics-go/internal/utils"
)

// Stats tracks cache performance counters for periodic logging.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
	mu     sync.Mutex
}

// MetricCache stores computed MetricResults in Redis, keyed by the canonical
// MetricKey string, with TTL by metric volatility class and tag sets for
// one-call invalidation per symbol or per (symbol, kind).
type MetricCache struct {
	redis   *redis.Client
	cfg     config.CacheConfig
	logger  *logrus.Logger
	metrics *telemetry.Metrics
	group   singleflight.Group
	stats   *Stats
}

// ComputeFunc produces a MetricResult on a cache miss.
type ComputeFunc func(ctx context.Context) (models.MetricResult, error)

// New creates a Redis-backed metric cache.
func New(redisClient *redis.Client, cfg config.CacheConfig, logger *logrus.Logger, metrics *telemetry.Metrics) *MetricCache {
	return &MetricCache{
		redis:   redisClient,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		stats:   &Stats{},
	}
}

// TTLFor returns the configured TTL for a metric kind. Price-derived
// indicators change with every bar and get the short TTL; window statistics
// drift slowly and get the long one.
func (c *MetricCache) TTLFor(kind models.MetricKind) time.Duration {
	switch kind {
	case models.KindVolatility, models.KindCorrelation, models.KindBeta,
		models.KindSharpe, models.KindVaR, models.KindMaxDrawdown:
		return c.cfg.SlowTTL
	}
	return c.cfg.FastTTL
}

// Get returns the cached result for key, if present.
func (c *MetricCache) Get(ctx context.Context, key models.MetricKey) (models.MetricResult, bool) {
	data, err := c.redis.Get(ctx, c.entryKey(key)).Result()
	if err == redis.Nil {
		c.miss()
		return models.MetricResult{}, false
	}
	if err != nil {
		c.logger.WithError(err).WithField("key", key.CacheKey()).Warn("Redis error on cache get")
		c.miss()
		return models.MetricResult{}, false
	}

	var result models.MetricResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		c.logger.WithError(err).WithField("key", key.CacheKey()).Warn("Failed to decode cached metric")
		c.miss()
		return models.MetricResult{}, false
	}

	c.stats.mu.Lock()
	c.stats.Hits++
	c.stats.mu.Unlock()
	c.metrics.CacheHits.Inc()
	return result, true
}

// Put stores a result under its key with the kind's TTL and registers the
// key in the symbol and (symbol, kind) tag sets.
func (c *MetricCache) Put(ctx context.Context, result models.MetricResult) error {
	key := result.Key
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode metric result: %w", err)
	}
	member, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("failed to encode metric key: %w", err)
	}

	ttl := c.TTLFor(key.Kind)
	pipe := c.redis.TxPipeline()
	pipe.Set(ctx, c.entryKey(key), data, ttl)
	pipe.SAdd(ctx, c.symbolTag(key.Symbol), member)
	pipe.SAdd(ctx, c.kindTag(key.Symbol, key.Kind), member)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store metric result: %w", err)
	}

	c.stats.mu.Lock()
	c.stats.Sets++
	c.stats.mu.Unlock()
	c.metrics.CacheSets.Inc()
	return nil
}

// MarkStale rewrites the cached entry for key with the staleness flag set,
// so readers see the result is outdated and the next Query recomputes. The
// rewrite runs under WATCH so it cannot clobber a concurrent Put of a
// fresher result, and keeps the entry's remaining TTL.
func (c *MetricCache) MarkStale(ctx context.Context, key models.MetricKey) error {
	entry := c.entryKey(key)
	for attempt := 0; attempt < 3; attempt++ {
		err := c.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, entry).Result()
			if err == redis.Nil {
				return nil
			}
			if err != nil {
				return err
			}

			var result models.MetricResult
			if err := json.Unmarshal([]byte(data), &result); err != nil {
				return fmt.Errorf("failed to decode cached metric: %w", err)
			}
			if result.Stale {
				return nil
			}
			result.Stale = true
			payload, err := json.Marshal(result)
			if err != nil {
				return fmt.Errorf("failed to encode metric result: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, entry, payload, redis.KeepTTL)
				return nil
			})
			return err
		}, entry)
		if err != redis.TxFailedErr {
			return err
		}
		// Lost the race to a concurrent write; retry against the new value.
	}
	return nil
}

// InvalidateSymbol removes every cached metric for the symbol in one call,
// without enumerating parameter combinations.
func (c *MetricCache) InvalidateSymbol(ctx context.Context, symbol string) error {
	keys, err := c.taggedKeys(ctx, c.symbolTag(symbol))
	if err != nil {
		return err
	}

	del := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		del = append(del, c.entryKey(k))
		del = append(del, c.kindTag(symbol, k.Kind))
	}
	del = append(del, c.symbolTag(symbol))
	if err := c.redis.Del(ctx, del...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate symbol %s: %w", symbol, err)
	}

	c.metrics.Invalidations.Inc()
	c.logger.WithFields(logrus.Fields{"symbol": symbol, "entries": len(keys)}).Info("Invalidated cached metrics")
	return nil
}

// InvalidateKind removes every cached metric of one kind for the symbol.
func (c *MetricCache) InvalidateKind(ctx context.Context, symbol string, kind models.MetricKind) error {
	keys, err := c.taggedKeys(ctx, c.kindTag(symbol, kind))
	if err != nil {
		return err
	}

	del := make([]string, 0, len(keys)+1)
	members := make([]interface{}, 0, len(keys))
	for _, k := range keys {
		del = append(del, c.entryKey(k))
		member, _ := json.Marshal(k)
		members = append(members, member)
	}
	del = append(del, c.kindTag(symbol, kind))

	pipe := c.redis.TxPipeline()
	pipe.Del(ctx, del...)
	if len(members) > 0 {
		pipe.SRem(ctx, c.symbolTag(symbol), members...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to invalidate %s/%s: %w", symbol, kind, err)
	}

	c.metrics.Invalidations.Inc()
	return nil
}

// ActiveKeys lists the MetricKeys currently tagged for a symbol. The
// dispatcher consults this on each new bar to find affected entries.
func (c *MetricCache) ActiveKeys(ctx context.Context, symbol string) ([]models.MetricKey, error) {
	return c.taggedKeys(ctx, c.symbolTag(symbol))
}

// GetOrCompute implements the cache-aside read with a single-flight
// guarantee: concurrent misses for the same key collapse into one
// computation, and waiters share its result. The computation runs detached
// from the caller's context with a bounded timeout, so a cancelled caller
// does not abort it for the others and the result still lands in the cache.
func (c *MetricCache) GetOrCompute(ctx context.Context, key models.MetricKey, compute ComputeFunc) (models.MetricResult, error) {
	if result, ok := c.Get(ctx, key); ok && !result.Stale {
		return result, nil
	}

	cacheKey := key.CacheKey()
	ch := c.group.DoChan(cacheKey, func() (interface{}, error) {
		computeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ComputationTimeout)
		defer cancel()

		// Another waiter may have populated the entry while this call
		// queued behind the in-flight computation.
		if result, ok := c.Get(computeCtx, key); ok && !result.Stale {
			return result, nil
		}

		result, err := compute(computeCtx)
		if err != nil {
			return nil, err
		}
		if err := c.Put(computeCtx, result); err != nil {
			c.logger.WithError(err).WithField("key", cacheKey).Warn("Failed to cache computed metric")
		}
		return result, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return models.MetricResult{}, res.Err
		}
		return res.Val.(models.MetricResult), nil
	case <-time.After(c.cfg.ComputationTimeout):
		return models.MetricResult{}, fmt.Errorf("%w: %s", utils.ErrComputationTimeout, cacheKey)
	case <-ctx.Done():
		// The in-flight computation keeps running and will populate the
		// cache for the next caller.
		return models.MetricResult{}, ctx.Err()
	}
}

// GetStats returns a snapshot of the hit/miss/set counters.
func (c *MetricCache) GetStats() Stats {
	c.stats.mu.Lock()
	defer c.stats.mu.Unlock()
	return Stats{Hits: c.stats.Hits, Misses: c.stats.Misses, Sets: c.stats.Sets}
}

// LogStats logs current cache performance.
func (c *MetricCache) LogStats() {
	stats := c.GetStats()
	total := stats.Hits + stats.Misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}
	c.logger.WithFields(logrus.Fields{
		"hits":     stats.Hits,
		"misses":   stats.Misses,
		"sets":     stats.Sets,
		"hit_rate": fmt.Sprintf("%.2f%%", hitRate),
	}).Info("Metric cache stats")
}

func (c *MetricCache) miss() {
	c.stats.mu.Lock()
	c.stats.Misses++
	c.stats.mu.Unlock()
	c.metrics.CacheMisses.Inc()
}

func (c *MetricCache) taggedKeys(ctx context.Context, tag string) ([]models.MetricKey, error) {
	members, err := c.redis.SMembers(ctx, tag).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read tag set %s: %w", tag, err)
	}

	keys := make([]models.MetricKey, 0, len(members))
	for _, m := range members {
		var key models.MetricKey
		if err := json.Unmarshal([]byte(m), &key); err != nil {
			c.logger.WithError(err).WithField("tag", tag).Warn("Skipping undecodable tag member")
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (c *MetricCache) entryKey(key models.MetricKey) string {
	return c.cfg.KeyPrefix + key.CacheKey()
}

func (c *MetricCache) symbolTag(symbol string) string {
	return c.cfg.KeyPrefix + "tag:" + symbol
}

func (c *MetricCache) kindTag(symbol string, kind models.MetricKind) string {
	return c.cfg.KeyPrefix + "tag:" + symbol + ":" + string(kind)
}
