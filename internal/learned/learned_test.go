package learned

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gohts/domain/core"
	"gohts/domain/forecast"
	"gohts/internal/errors"
	"gohts/internal/testkit"
	"gohts/ports"
)

func fixture(t *testing.T) (*testkit.Scenario, TrainingData, *forecast.Frame) {
	t.Helper()
	sc, err := testkit.NewDemandGenerator(testkit.DefaultDemandConfig()).Generate(context.Background())
	require.NoError(t, err)
	train, val, test := sc.Split(7, 7)
	data := TrainingData{
		Index:      sc.Index,
		Train:      sc.Base.Slice(train[0], train[1]),
		Validation: sc.Base.Slice(val[0], val[1]),
		Actuals:    sc.Actuals,
	}
	return sc, data, sc.Base.Slice(test[0], test[1])
}

func fastOptions() Options {
	opts := DefaultOptions()
	opts.Regressor.NumRounds = 40
	opts.Classifier.NumRounds = 20
	return opts
}

func TestFitPredictInvariants(t *testing.T) {
	for _, logT := range []bool{false, true} {
		sc, data, test := fixture(t)
		opts := fastOptions()
		opts.LogTransform = logT

		m, err := Fit(context.Background(), data, opts)
		require.NoError(t, err)
		out, err := m.Predict(context.Background(), test)
		require.NoError(t, err)

		require.Equal(t, sc.Index.Paths(), out.Nodes)
		assert.NoError(t, sc.Index.CheckAdditive(out, 1e-6))
		for i := range out.Nodes {
			for ts := range out.Timestamps {
				assert.GreaterOrEqual(t, out.Lower[i][ts], 0.0)
				assert.LessOrEqual(t, out.Lower[i][ts], out.Mean[i][ts])
				assert.LessOrEqual(t, out.Mean[i][ts], out.Upper[i][ts])
			}
		}
		assert.Greater(t, out.Mean[0][0], 0.0)
		assert.GreaterOrEqual(t, m.BestIteration(), 1)
	}
}

func TestIntervalPropagation(t *testing.T) {
	_, data, test := fixture(t)
	m, err := Fit(context.Background(), data, fastOptions())
	require.NoError(t, err)
	out, err := m.Predict(context.Background(), test)
	require.NoError(t, err)

	for ts := range test.Timestamps {
		sq := 0.0
		for _, leaf := range []string{"A/1", "A/2", "B/1"} {
			i := test.Position(leaf)
			hw := (test.Upper[i][ts] - test.Lower[i][ts]) / 2
			sq += hw * hw
		}
		root := out.Position("Total")
		if out.Mean[root][ts] > math.Sqrt(sq) {
			assert.InDelta(t, math.Sqrt(sq), (out.Upper[root][ts]-out.Lower[root][ts])/2, 1e-9)
		}

		// B has a single child, so B/1 inherits B exactly.
		b, b1 := out.Position("B"), out.Position("B/1")
		assert.InDelta(t, out.Mean[b][ts], out.Mean[b1][ts], 1e-9)
		assert.InDelta(t, out.Upper[b][ts], out.Upper[b1][ts], 1e-9)
	}
}

func TestDegenerateLeafIsZero(t *testing.T) {
	_, data, test := fixture(t)
	m, err := Fit(context.Background(), data, fastOptions())
	require.NoError(t, err)

	test = test.Clone()
	b1 := test.Position("B/1")
	for ts := range test.Timestamps {
		test.Mean[b1][ts], test.Lower[b1][ts], test.Upper[b1][ts] = 0, 0, 0
	}
	out, err := m.Predict(context.Background(), test)
	require.NoError(t, err)

	root, a, b := out.Position("Total"), out.Position("A"), out.Position("B")
	for ts := range out.Timestamps {
		assert.Zero(t, out.Mean[out.Position("B/1")][ts])
		assert.Zero(t, out.Mean[b][ts])
		assert.InDelta(t, out.Mean[root][ts], out.Mean[a][ts], 1e-9)
	}
}

func TestDegenerateTrainingLeafBecomesZeroTarget(t *testing.T) {
	_, data, _ := fixture(t)
	data.Train = data.Train.Clone()
	b1 := data.Train.Position("B/1")
	for ts := range data.Train.Timestamps {
		data.Train.Mean[b1][ts] = 0
	}
	m, err := Fit(context.Background(), data, fastOptions())
	require.NoError(t, err)

	ds := m.leafDataset(data.Train, data.Actuals)
	assert.Len(t, ds.Y, 3*data.Train.Len(), "degenerate leaf rows are kept, not skipped")
	zeros := 0
	for _, y := range ds.Y {
		if y == 0 {
			zeros++
		}
	}
	assert.Equal(t, data.Train.Len(), zeros)
}

func TestAllLeavesDegenerateIsTotalFailure(t *testing.T) {
	sc, data, _ := fixture(t)
	data.Train = forecast.NewFrame(sc.Index.Paths(), data.Train.Timestamps)
	_, err := Fit(context.Background(), data, fastOptions())
	require.Error(t, err)
	assert.Equal(t, errors.CodeTotalFailure, errors.GetCode(err))
	assert.ErrorIs(t, err, core.ErrNoTrainedNodes)
}

func TestShareModelsAndProgress(t *testing.T) {
	_, data, _ := fixture(t)
	var mu sync.Mutex
	stages := map[string]int{}
	opts := fastOptions()
	opts.Workers = 4
	opts.Progress = func(ev ports.ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		stages[ev.Stage]++
	}

	m, err := Fit(context.Background(), data, opts)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"leaf-regression": 1, "share-model": 3}, stages)
	assert.True(t, m.HasShareModel("Total"))
	assert.True(t, m.HasShareModel("A"))
	assert.False(t, m.HasShareModel("B"), "single child needs no classifier")
}

func TestShareFallbackUsesHistoricalProportions(t *testing.T) {
	sc, data, test := fixture(t)
	opts := fastOptions()
	opts.MinShareRows = 1000
	m, err := Fit(context.Background(), data, opts)
	require.NoError(t, err)
	require.False(t, m.HasShareModel("A"))

	window := sc.Actuals.Slice(0, data.Train.Len()+data.Validation.Len())
	ratio := 0.0
	a, a1 := window.Series("A"), window.Series("A/1")
	for ts := range a {
		ratio += a1[ts] / a[ts]
	}
	ratio /= float64(len(a))

	out, err := m.Predict(context.Background(), test)
	require.NoError(t, err)
	for ts := range out.Timestamps {
		share := out.Mean[out.Position("A/1")][ts] / out.Mean[out.Position("A")][ts]
		assert.InDelta(t, ratio, share, 1e-9)
	}
}

func TestFitRejectsMissingInputs(t *testing.T) {
	_, err := Fit(context.Background(), TrainingData{}, DefaultOptions())
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))

	_, data, _ := fixture(t)
	opts := fastOptions()
	opts.Regressor.MaxDepth = 0
	_, err = Fit(context.Background(), data, opts)
	assert.True(t, errors.IsConfigError(err))
}
