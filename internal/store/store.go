package store

import (
	"context"
	"time"

	"github.com/finsight/analytics-go/internal/models"
)

// BarStore is the read-only view over ordered bars per symbol. The engine
// never mutates stored history; it only reads ranges or the tail.
type BarStore interface {
	// GetBars returns bars for symbol in [from, to], ordered by timestamp.
	GetBars(ctx context.Context, symbol string, from, to time.Time) ([]models.Bar, error)

	// GetLatestBars returns the most recent n bars for symbol, ordered by
	// timestamp ascending.
	GetLatestBars(ctx context.Context, symbol string, n int) ([]models.Bar, error)
}
