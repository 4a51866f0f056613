package forecast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func days(n int) []time.Time {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]time.Time, n)
	for i := range out {
		out[i] = start.AddDate(0, 0, i)
	}
	return out
}

func TestFrameFromRowsRoundTrip(t *testing.T) {
	ts := days(3)
	nodes := []string{"Total", "A", "B"}
	rows := []Prediction{
		{Timestamp: ts[0], ID: "A", Mean: 4, Lower: 2, Upper: 6},
		{Timestamp: ts[2], ID: "Total", Mean: 10, Lower: 8, Upper: 12},
		{Timestamp: ts[1], ID: "ghost", Mean: 1},
	}

	f, missing, skipped := FrameFromRows(rows, nodes, ts)

	assert.Equal(t, []string{"B"}, missing)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, 4.0, f.Mean[f.Position("A")][0])
	assert.Equal(t, 10.0, f.Mean[0][2])
	assert.Len(t, f.Rows(), 9)
	assert.InDelta(t, 4/(2*Z95), f.Sigma(f.Position("A"), 0), 1e-12)
}

func TestFrameSliceConcat(t *testing.T) {
	ts := days(4)
	f := NewFrame([]string{"A"}, ts)
	for i := range ts {
		f.Mean[0][i] = float64(i)
	}

	head := f.Window(ts[0], ts[2])
	tail := f.Slice(2, 4)
	require.Equal(t, 2, head.Len())

	joined, err := Concat(head, tail)
	require.NoError(t, err)
	assert.Equal(t, f.Mean, joined.Mean)
	assert.Equal(t, ts, joined.Timestamps)

	_, err = Concat(head, NewFrame([]string{"B"}, ts))
	assert.Error(t, err)
}

func TestFrameDegenerate(t *testing.T) {
	f := NewFrame([]string{"A", "B"}, days(2))
	f.Mean[1][1] = 3

	assert.True(t, f.Degenerate(0, 1e-9))
	assert.False(t, f.Degenerate(1, 1e-9))
}

func TestActualsNullsSurviveRows(t *testing.T) {
	ts := days(2)
	five := 5.0
	a := ActualsFromRows([]Observation{{ID: "A", DS: ts[1], Y: &five}}, []string{"A"}, ts)

	assert.True(t, IsNull(a.Values[0][0]))
	assert.Equal(t, 5.0, a.Values[0][1])

	rows := a.Rows()
	require.Len(t, rows, 2)
	assert.Nil(t, rows[0].Y)
	assert.Equal(t, 5.0, *rows[1].Y)

	aligned := a.Align(days(3))
	assert.True(t, IsNull(aligned.Values[0][2]))
	assert.Equal(t, 5.0, aligned.Values[0][1])
}

func TestSigmaFromInterval(t *testing.T) {
	assert.Equal(t, 0.0, SigmaFromInterval(5, 3))
	assert.InDelta(t, 1.0, SigmaFromInterval(-Z95, Z95), 1e-12)
}
