package gbm

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gohts/internal/errors"
)

func stepData(n int, noise float64, seed uint64) Dataset {
	rng := rand.New(rand.NewPCG(seed, 1))
	d := Dataset{}
	for i := 0; i < n; i++ {
		a, b := rng.Float64()*10, rng.Float64()*10
		y := 2.0
		if a > 5 {
			y = 10
		}
		y += 0.5 * b
		d.X = append(d.X, []float64{a, b})
		d.Y = append(d.Y, y+noise*rng.NormFloat64())
	}
	return d
}

func TestRegressorFitsStepFunction(t *testing.T) {
	train := stepData(400, 0, 1)
	p := DefaultParams()
	p.NumRounds = 150
	reg, err := FitRegressor(train, nil, p)
	require.NoError(t, err)
	assert.Len(t, reg.Trees, 150)
	assert.Equal(t, 150, reg.BestIteration)

	assert.InDelta(t, 2.0+0.5*5, reg.Predict([]float64{2, 5}), 0.5)
	assert.InDelta(t, 10.0+0.5*5, reg.Predict([]float64{8, 5}), 0.5)
	for _, tree := range reg.Trees {
		assert.LessOrEqual(t, tree.Depth(), p.MaxDepth)
	}
}

func TestRegressorEarlyStopping(t *testing.T) {
	train := stepData(200, 3, 2)
	valid := stepData(100, 3, 3)
	p := DefaultParams()
	p.NumRounds = 500
	p.LearningRate = 0.3
	p.MaxDepth = 6
	p.MinChildWeight = 0
	p.Lambda = 0
	p.EarlyStoppingRounds = 5

	reg, err := FitRegressor(train, &valid, p)
	require.NoError(t, err)
	assert.Less(t, reg.BestIteration, 500)
	assert.Len(t, reg.Trees, reg.BestIteration)

	best := math.Inf(1)
	for _, v := range reg.ValidRMSE {
		best = math.Min(best, v)
	}
	assert.Equal(t, best, reg.ValidRMSE[reg.BestIteration-1])
}

func TestRegressorRejectsBadInput(t *testing.T) {
	_, err := FitRegressor(Dataset{}, nil, DefaultParams())
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))

	_, err = FitRegressor(Dataset{X: [][]float64{{1}, {math.NaN()}}, Y: []float64{1, 2}}, nil, DefaultParams())
	assert.Error(t, err)

	_, err = FitRegressor(Dataset{X: [][]float64{{1}, {2, 3}}, Y: []float64{1, 2}}, nil, DefaultParams())
	assert.Error(t, err)

	p := DefaultParams()
	p.LearningRate = 0
	_, err = FitRegressor(stepData(10, 0, 1), nil, p)
	assert.True(t, errors.IsConfigError(err))
}

func TestClassifierLearnsSoftShares(t *testing.T) {
	var x, y [][]float64
	for i := 0; i < 300; i++ {
		f := float64(i % 7)
		x = append(x, []float64{f})
		if f >= 5 {
			y = append(y, []float64{0.2, 0.8})
		} else {
			y = append(y, []float64{0.7, 0.3})
		}
	}
	p := DefaultParams()
	p.NumRounds = 100
	c, err := FitClassifier(x, y, p)
	require.NoError(t, err)

	weekday := c.PredictProba([]float64{1})
	weekend := c.PredictProba([]float64{6})
	assert.InDelta(t, 1.0, weekday[0]+weekday[1], 1e-12)
	assert.InDelta(t, 0.7, weekday[0], 0.05)
	assert.InDelta(t, 0.8, weekend[1], 0.05)
	assert.Less(t, c.CrossEntropy(x, y), 0.65)
}

func TestClassifierRejectsBadLabels(t *testing.T) {
	x := [][]float64{{1}, {2}}
	_, err := FitClassifier(x, [][]float64{{1}, {1}}, DefaultParams())
	assert.Error(t, err)
	_, err = FitClassifier(x, [][]float64{{0.5, 0.6}, {0.5, 0.5}}, DefaultParams())
	assert.Error(t, err)
	_, err = FitClassifier(x, [][]float64{{0.5, 0.5}, {0.5, 0.5, 0}}, DefaultParams())
	assert.Error(t, err)
}
