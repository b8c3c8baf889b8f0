package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRSIAllGainsIsExactly100(t *testing.T) {
	rsi := NewRSI(14)
	for i := 0; i < 20; i++ {
		rsi.Update(100 + float64(i))
	}

	require.True(t, rsi.Ready())
	assert.Equal(t, 100.0, rsi.Value())
}

func TestRSIStaysWithinBounds(t *testing.T) {
	rsi := NewRSI(14)
	closes := []float64{50, 48, 53, 47, 55, 44, 60, 41, 65, 39, 70, 38, 72, 36, 75, 35, 80, 33, 85, 31}
	for _, c := range closes {
		rsi.Update(c)
		if rsi.Ready() {
			assert.GreaterOrEqual(t, rsi.Value(), 0.0)
			assert.LessOrEqual(t, rsi.Value(), 100.0)
		}
	}
}

func TestRSINotReadyBeforeFullPeriod(t *testing.T) {
	rsi := NewRSI(14)
	for i := 0; i < 14; i++ {
		rsi.Update(100 + float64(i))
	}
	// 14 closes give only 13 deltas
	assert.False(t, rsi.Ready())

	rsi.Update(115)
	assert.True(t, rsi.Ready())
}
