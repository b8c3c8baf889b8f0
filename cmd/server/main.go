package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/finsight/analytics-go/internal/analytics"
	"github.com/finsight/analytics-go/internal/cache"
	"github.com/finsight/analytics-go/internal/config"
	"github.com/finsight/analytics-go/internal/dispatcher"
	"github.com/finsight/analytics-go/internal/indicator"
	"github.com/finsight/analytics-go/internal/logging"
	"github.com/finsight/analytics-go/internal/stats"
	"github.com/finsight/analytics-go/internal/store"
	"github.com/finsight/analytics-go/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.Environment)

	barStore, err := store.NewPostgresConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer barStore.Close()

	redisClient, err := cache.NewRedisConnection(cfg.Redis)
	if err != nil {
		logger.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	registry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(registry)

	metricCache := cache.New(redisClient, cfg.Cache, logger, metrics)
	indicators := indicator.NewEngine(logger)
	statistics := stats.NewEngine(cfg.Stats)
	hub := dispatcher.NewHub(cfg.Dispatcher.SubscriberBuf, logger, metrics)
	disp := dispatcher.New(barStore, metricCache, indicators, hub, cfg.Dispatcher, logger, metrics)

	service := analytics.NewService(barStore, metricCache, indicators, statistics, disp, hub, cfg.Dispatcher, logger, metrics)
	_ = service // consumed by the external API layer and ingestion pipeline

	// Expose Prometheus metrics for scraping.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: ":9090", Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Metrics server failed")
		}
	}()

	// Periodic cache stats logging.
	statsCtx, statsCancel := context.WithCancel(context.Background())
	defer statsCancel()
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-statsCtx.Done():
				return
			case <-ticker.C:
				metricCache.LogStats()
			}
		}
	}()

	logger.WithField("environment", cfg.Environment).Info("Calculation engine started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down...")

	disp.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Metrics server forced shutdown")
	}

	logger.Info("Calculation engine exited")
}
