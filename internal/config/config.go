package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Environment string           `mapstructure:"environment"`
	LogLevel    string           `mapstructure:"log_level"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Redis       RedisConfig      `mapstructure:"redis"`
	Cache       CacheConfig      `mapstructure:"cache"`
	Dispatcher  DispatcherConfig `mapstructure:"dispatcher"`
	Stats       StatsConfig      `mapstructure:"stats"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CacheConfig controls TTLs per metric volatility class and the bounded wait
// on in-flight computations. Fast-changing metrics (price-derived indicators)
// get the short TTL; slow-changing statistics get the long one.
type CacheConfig struct {
	FastTTL            time.Duration `mapstructure:"fast_ttl"`
	SlowTTL            time.Duration `mapstructure:"slow_ttl"`
	ComputationTimeout time.Duration `mapstructure:"computation_timeout"`
	KeyPrefix          string        `mapstructure:"key_prefix"`
}

type DispatcherConfig struct {
	QueueSize       int           `mapstructure:"queue_size"`
	SubscriberBuf   int           `mapstructure:"subscriber_buffer"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	HistoryBars     int           `mapstructure:"history_bars"`
}

// StatsConfig carries the statistical constants. TradingDays and RiskFreeRate
// have no defensible default, so Load fails when they are unset.
type StatsConfig struct {
	TradingDays  int     `mapstructure:"trading_days"`
	RiskFreeRate float64 `mapstructure:"risk_free_rate"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, use defaults and environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Environment = strings.ToLower(config.Environment)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects configurations that would make computed metrics
// meaningless or the engine inoperable.
func (c *Config) Validate() error {
	if c.Stats.TradingDays <= 0 {
		return fmt.Errorf("stats.trading_days is required and must be positive, got %d", c.Stats.TradingDays)
	}
	if c.Stats.RiskFreeRate < 0 {
		return fmt.Errorf("stats.risk_free_rate must not be negative, got %f", c.Stats.RiskFreeRate)
	}
	if !viper.IsSet("stats.risk_free_rate") {
		return fmt.Errorf("stats.risk_free_rate is required")
	}
	if c.Cache.FastTTL <= 0 || c.Cache.SlowTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}
	if c.Cache.ComputationTimeout <= 0 {
		return fmt.Errorf("cache.computation_timeout must be positive")
	}
	if c.Dispatcher.QueueSize <= 0 {
		return fmt.Errorf("dispatcher.queue_size must be positive")
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "analytics")
	viper.SetDefault("database.sslmode", "disable")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("cache.fast_ttl", "30s")
	viper.SetDefault("cache.slow_ttl", "4h")
	viper.SetDefault("cache.computation_timeout", "10s")
	viper.SetDefault("cache.key_prefix", "metric_cache:")

	viper.SetDefault("dispatcher.queue_size", 256)
	viper.SetDefault("dispatcher.subscriber_buffer", 64)
	viper.SetDefault("dispatcher.shutdown_timeout", "30s")
	viper.SetDefault("dispatcher.history_bars", 500)

	// Deliberately no defaults for stats.trading_days and
	// stats.risk_free_rate: both are required deployment inputs.
}
