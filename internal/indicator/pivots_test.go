package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight/analytics-go/internal/utils"
)

func TestPivotsDetectsLocalExtrema(t *testing.T) {
	// Clear peak at 120 (index 3) and trough at 80 (index 7).
	bars := barSeries("AAPL", 100, 105, 110, 120, 110, 95, 85, 80, 90, 100, 105)

	levels, err := Pivots(bars, len(bars), 2, 10)
	require.NoError(t, err)
	require.Len(t, levels, 2)

	// Newest first: the trough postdates the peak.
	assert.True(t, levels[0].Support)
	assert.InDelta(t, 80.0, levels[0].Price, 1e-9)
	assert.False(t, levels[1].Support)
	assert.InDelta(t, 120.0, levels[1].Price, 1e-9)
}

func TestPivotsCapsLevels(t *testing.T) {
	bars := barSeries("AAPL", 100, 110, 100, 110, 100, 110, 100, 110, 100, 110, 100)

	levels, err := Pivots(bars, len(bars), 1, 3)
	require.NoError(t, err)
	assert.Len(t, levels, 3)
}

func TestPivotsInsufficientData(t *testing.T) {
	bars := barSeries("AAPL", 100, 105)
	_, err := Pivots(bars, 10, 2, 5)
	assert.ErrorIs(t, err, utils.ErrInsufficientData)
}
