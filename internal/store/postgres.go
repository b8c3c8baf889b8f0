package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/finsight/analytics-go/internal/config"
	"github.com/finsight/analytics-go/internal/models"
)

// PgxQuerier is the subset of pgxpool.Pool the store uses. Tests substitute
// a pgxmock pool.
type PgxQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore reads OHLCV history from the bars table.
type PostgresStore struct {
	pool PgxQuerier
}

// NewPostgresConnection opens a pgx pool from config and verifies connectivity.
func NewPostgresConnection(cfg config.DatabaseConfig) (*PostgresStore, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logrus.Info("Successfully connected to PostgreSQL")

	return &PostgresStore{pool: pool}, nil
}

// NewPostgresStore wraps an existing querier (used by tests with pgxmock).
func NewPostgresStore(pool PgxQuerier) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// GetBars returns bars for symbol in [from, to], ordered by timestamp.
func (s *PostgresStore) GetBars(ctx context.Context, symbol string, from, to time.Time) ([]models.Bar, error) {
	query := `SELECT symbol, timestamp, open, high, low, close, volume FROM bars
		 WHERE symbol = $1 AND timestamp >= $2 AND timestamp <= $3
		 ORDER BY timestamp ASC`
	rows, err := s.pool.Query(ctx, query, symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bars: %w", err)
	}
	defer rows.Close()

	return scanBars(rows)
}

// GetLatestBars returns the most recent n bars for symbol in ascending order.
func (s *PostgresStore) GetLatestBars(ctx context.Context, symbol string, n int) ([]models.Bar, error) {
	query := `SELECT symbol, timestamp, open, high, low, close, volume FROM (
			SELECT symbol, timestamp, open, high, low, close, volume FROM bars
			WHERE symbol = $1 ORDER BY timestamp DESC LIMIT $2
		 ) tail ORDER BY timestamp ASC`
	rows, err := s.pool.Query(ctx, query, symbol, n)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest bars: %w", err)
	}
	defer rows.Close()

	return scanBars(rows)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
		logrus.Info("PostgreSQL connection closed")
	}
}

// HealthCheck pings the database.
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func scanBars(rows pgx.Rows) ([]models.Bar, error) {
	var bars []models.Bar
	for rows.Next() {
		var b models.Bar
		if err := rows.Scan(&b.Symbol, &b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bar rows: %w", err)
	}
	return bars, nil
}
