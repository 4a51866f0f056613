package naive

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gohts/domain/core"
	"gohts/domain/forecast"
	"gohts/internal/hierarchy"
	"gohts/ports"
)

func history(values ...float64) ports.History {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ts := hierarchy.Calendar(start, start.AddDate(0, 0, len(values)-1), hierarchy.Daily)
	return ports.History{Node: "A/1", Timestamps: ts, Values: values}
}

func horizon(h ports.History, n int) []time.Time {
	return hierarchy.Horizon(h.Timestamps[len(h.Timestamps)-1], hierarchy.Daily, n)
}

func TestRepeatsLastSeason(t *testing.T) {
	h := history(1, 2, 3, 4, 5, 6, 7, 1, 2, 3, 4, 5, 6, 7)
	rows, err := New(7).Forecast(context.Background(), h, horizon(h, 9))
	require.NoError(t, err)
	require.Len(t, rows, 9)

	want := []float64{1, 2, 3, 4, 5, 6, 7, 1, 2}
	for k, r := range rows {
		assert.Equal(t, want[k], r.YHat)
		assert.Equal(t, r.YHat, r.YHatLower, "exact seasonality has no spread")
		assert.Equal(t, "A/1", r.UniqueID)
	}
}

func TestIntervalsWidenPerSeason(t *testing.T) {
	h := history(10, 12, 11, 13, 10, 14, 12, 13, 11)
	rows, err := New(2).Forecast(context.Background(), h, horizon(h, 3))
	require.NoError(t, err)

	half0 := rows[0].YHatUpper - rows[0].YHat
	half2 := rows[2].YHatUpper - rows[2].YHat
	require.Greater(t, half0, 0.0)
	assert.InDelta(t, half0*math.Sqrt(2), half2, 1e-9)
	assert.InDelta(t, rows[0].YHat-half0, rows[0].YHatLower, 1e-12)
}

func TestSkipsUnknownValues(t *testing.T) {
	h := history(5, 6, 7, forecast.Null(), 9, forecast.Null())
	rows, err := New(3).Forecast(context.Background(), h, horizon(h, 3))
	require.NoError(t, err)
	// Targets are indices 3, 4, 5; 3 and 5 are unknown so the season before is used.
	assert.Equal(t, []float64{5, 9, 7}, []float64{rows[0].YHat, rows[1].YHat, rows[2].YHat})
}

func TestNoHistory(t *testing.T) {
	h := history(forecast.Null(), forecast.Null())
	_, err := New(7).Forecast(context.Background(), h, horizon(h, 1))
	assert.ErrorIs(t, err, core.ErrInsufficientHistory)
}
