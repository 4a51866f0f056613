package selector

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gohts/domain/forecast"
	"gohts/internal/errors"
	"gohts/internal/hierarchy"
	"gohts/internal/reconcile"
	"gohts/internal/scoring"
	"gohts/internal/testkit"
	"gohts/ports"
)

// truthFrame forecasts every aggregate exactly and every leaf with a +bias.
func truthFrame(sc *testkit.Scenario, leafBias float64) *forecast.Frame {
	f := forecast.NewFrame(sc.Index.Paths(), sc.Actuals.Timestamps)
	for i, node := range f.Nodes {
		bias := 0.0
		if sc.Index.IsLeaf(node) {
			bias = leafBias
		}
		for t, y := range sc.Actuals.Series(node) {
			f.Mean[i][t] = y + bias
			f.Lower[i][t] = math.Max(y+bias-5, 0)
			f.Upper[i][t] = y + bias + 5
		}
	}
	return f
}

func generate(t *testing.T) *testkit.Scenario {
	t.Helper()
	sc, err := testkit.NewDemandGenerator(testkit.DefaultDemandConfig()).Generate(context.Background())
	require.NoError(t, err)
	return sc
}

func inputs(sc *testkit.Scenario, validation *forecast.Frame) Inputs {
	return Inputs{
		Index:             sc.Index,
		Train:             validation,
		TrainActuals:      sc.Actuals,
		Validation:        validation,
		ValidationActuals: sc.Actuals,
	}
}

func fastReconcile() reconcile.Options {
	return reconcile.Options{Bootstrap: reconcile.BootstrapConfig{Samples: 50, Seed: 1}}
}

func TestSelectPicksBestCandidate(t *testing.T) {
	sc := generate(t)
	sel, err := New(Options{
		Candidates: []reconcile.Method{reconcile.BottomUp(), reconcile.TopDown(reconcile.ForecastProportions)},
		Reconcile:  fastReconcile(),
	})
	require.NoError(t, err)

	choice, err := sel.Select(context.Background(), inputs(sc, truthFrame(sc, 10)))
	require.NoError(t, err)

	assert.Equal(t, reconcile.TopDown(reconcile.ForecastProportions), choice.Method)
	assert.False(t, choice.BaselineBest)
	require.Len(t, choice.Ranking, 3)
	assert.Equal(t, "top-down:forecast-proportions", choice.Ranking[0].Name)
	assert.Less(t, choice.Score, choice.BaselineScore)
	assert.NotEmpty(t, choice.RunID)
	assert.Equal(t, sc.Index.Fingerprint(), choice.Hierarchy)
}

func TestSelectGuardRailReturnsRunnerUp(t *testing.T) {
	sc := generate(t)
	sel, err := New(Options{Candidates: []reconcile.Method{reconcile.BottomUp()}, Reconcile: fastReconcile()})
	require.NoError(t, err)

	// Exact aggregates with biased leaves: bottom-up spreads the leaf bias upwards.
	choice, err := sel.Select(context.Background(), inputs(sc, truthFrame(sc, 10)))
	require.NoError(t, err)

	assert.True(t, choice.BaselineBest)
	assert.Equal(t, reconcile.BottomUp(), choice.Method)
	require.Len(t, choice.Ranking, 2)
	assert.True(t, choice.Ranking[0].Baseline)
	assert.Greater(t, choice.Score, choice.BaselineScore)
}

func TestSelectTieFavoursReconciler(t *testing.T) {
	sc := generate(t)
	sel, err := New(Options{Candidates: []reconcile.Method{reconcile.BottomUp()}, Reconcile: fastReconcile()})
	require.NoError(t, err)

	choice, err := sel.Select(context.Background(), inputs(sc, truthFrame(sc, 0)))
	require.NoError(t, err)

	assert.False(t, choice.BaselineBest)
	assert.Equal(t, choice.BaselineScore, choice.Score)
	assert.Equal(t, "bottom-up", choice.Ranking[0].Name)
}

func TestSelectDropsFailingCandidates(t *testing.T) {
	sc := generate(t)
	in := inputs(sc, truthFrame(sc, 10))
	in.TrainActuals = nil

	var mu sync.Mutex
	var events []ports.ProgressEvent
	sel, err := New(Options{
		Candidates: []reconcile.Method{reconcile.TopDown(reconcile.ProportionAverages), reconcile.BottomUp()},
		Reconcile:  fastReconcile(),
		Progress: func(ev ports.ProgressEvent) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, ev)
		},
	})
	require.NoError(t, err)

	choice, err := sel.Select(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, choice.Dropped, 1)
	assert.Equal(t, "top-down:proportion-averages", choice.Dropped[0].Name)
	assert.Equal(t, reconcile.BottomUp(), choice.Method)
	assert.Len(t, events, 2)

	sel, err = New(Options{Candidates: []reconcile.Method{reconcile.TopDown(reconcile.AverageProportions)}})
	require.NoError(t, err)
	_, err = sel.Select(context.Background(), in)
	assert.Equal(t, errors.CodeTotalFailure, errors.GetCode(err))
}

func TestSelectExcludesDegenerateNodes(t *testing.T) {
	sc := generate(t)
	val := truthFrame(sc, 0)
	b1 := val.Position("B/1")
	for ts := range val.Timestamps {
		val.Mean[b1][ts], val.Lower[b1][ts], val.Upper[b1][ts] = 0, 0, 0
	}
	sel, err := New(Options{Candidates: []reconcile.Method{reconcile.BottomUp()}, Reconcile: fastReconcile()})
	require.NoError(t, err)

	choice, err := sel.Select(context.Background(), inputs(sc, val))
	require.NoError(t, err)
	assert.Equal(t, []string{"B/1"}, choice.Excluded)
}

func TestSelectPenalisesCandidateThatZeroesTrainedLeaf(t *testing.T) {
	idx, err := hierarchy.FromPaths([]string{"A/1", "A/2"}, "Total", []string{"region", "facility"})
	require.NoError(t, err)
	ts := make([]time.Time, 10)
	for d := range ts {
		ts[d] = time.Date(2024, 1, 1+d, 0, 0, 0, 0, time.UTC)
	}
	// A/2 has no history before the validation window, so historical
	// proportions give it nothing; its validation forecast is exact.
	actuals := forecast.NewActuals(idx.Paths(), ts)
	truth := map[string]float64{"Total": 60, "A": 60, "A/1": 10, "A/2": 50}
	for i, node := range actuals.Nodes {
		for d := range ts {
			switch {
			case d >= 5:
				actuals.Values[i][d] = truth[node]
			case node != "A/2":
				actuals.Values[i][d] = 10
			}
		}
	}
	frame := func(from, to int) *forecast.Frame {
		f := forecast.NewFrame(idx.Paths(), ts[from:to])
		for i, node := range f.Nodes {
			for t := range f.Timestamps {
				f.Mean[i][t], f.Lower[i][t], f.Upper[i][t] = truth[node], truth[node]-1, truth[node]+1
			}
		}
		return f
	}

	sel, err := New(Options{Candidates: []reconcile.Method{reconcile.TopDown(reconcile.ProportionAverages)}, Reconcile: fastReconcile()})
	require.NoError(t, err)
	choice, err := sel.Select(context.Background(), Inputs{
		Index:             idx,
		Train:             frame(0, 5),
		TrainActuals:      actuals,
		Validation:        frame(5, 10),
		ValidationActuals: actuals,
	})
	require.NoError(t, err)

	assert.Empty(t, choice.Excluded)
	require.Len(t, choice.Ranking, 2)
	td := choice.Ranking[1]
	assert.Equal(t, "top-down:proportion-averages", td.Name)
	// Per-node errors Total 0, A 0, A/1 50, A/2 50 averaged over four nodes.
	assert.InDelta(t, 25.0, td.Metrics[scoring.RMSE], 1e-9)
	assert.InDelta(t, 25.0, td.Score, 1e-9)
	assert.True(t, choice.BaselineBest)
}

func TestNewRejectsEmptyCandidates(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
	assert.True(t, errors.IsConfigError(err))
}

func TestRankTieBreak(t *testing.T) {
	entries := []Entry{
		{Name: Baseline, Baseline: true, Score: 1, order: -1},
		{Name: "b", Score: 1, order: 1},
		{Name: "a", Score: 1, order: 0},
		{Name: "c", Score: 0.5, order: 2},
	}
	Rank(entries)
	names := []string{entries[0].Name, entries[1].Name, entries[2].Name, entries[3].Name}
	assert.Equal(t, []string{"c", "a", "b", Baseline}, names)
}

func TestChoiceJSON(t *testing.T) {
	c := Choice{Method: reconcile.MinTrace(reconcile.WLSVar), Score: 1.5}
	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"method":"trace-minimization:wls-var"`)

	var back Choice
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, c.Method, back.Method)

	c.BaselineScore = math.NaN()
	data, err = json.Marshal(c)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"baseline_score"`)
}

func TestEntryJSONOmitsNonFinite(t *testing.T) {
	e := Entry{
		Name:    "trace-minimization:wls-var",
		Score:   math.Inf(1),
		Metrics: map[scoring.Metric]float64{scoring.RMSE: 2, scoring.MAPE: math.NaN()},
		Error:   "singular",
	}
	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"score"`)
	assert.NotContains(t, string(data), `"mape"`)
	assert.Contains(t, string(data), `"rmse":2`)
}
