package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/finsight/analytics-go/internal/models"
)

// MemoryStore is an in-memory BarStore. It backs tests and local runs where
// no database is available. Appends keep per-symbol ordering.
type MemoryStore struct {
	mu   sync.RWMutex
	bars map[string][]models.Bar
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{bars: make(map[string][]models.Bar)}
}

// Append adds a bar to the symbol's series, keeping timestamp order.
func (s *MemoryStore) Append(bar models.Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	series := append(s.bars[bar.Symbol], bar)
	sort.Slice(series, func(i, j int) bool {
		return series[i].Timestamp.Before(series[j].Timestamp)
	})
	s.bars[bar.Symbol] = series
}

// GetBars returns bars for symbol in [from, to], ordered by timestamp.
func (s *MemoryStore) GetBars(_ context.Context, symbol string, from, to time.Time) ([]models.Bar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Bar
	for _, b := range s.bars[symbol] {
		if b.Timestamp.Before(from) || b.Timestamp.After(to) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// GetLatestBars returns the most recent n bars for symbol in ascending order.
func (s *MemoryStore) GetLatestBars(_ context.Context, symbol string, n int) ([]models.Bar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.bars[symbol]
	if len(series) > n {
		series = series[len(series)-n:]
	}
	out := make([]models.Bar, len(series))
	copy(out, series)
	return out, nil
}

// LastTimestamp returns the newest bar timestamp for symbol, if any.
func (s *MemoryStore) LastTimestamp(symbol string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.bars[symbol]
	if len(series) == 0 {
		return time.Time{}, false
	}
	return series[len(series)-1].Timestamp, true
}
