package reconcile

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"gohts/domain/forecast"
	"gohts/internal/errors"
	"gohts/internal/hierarchy"
	"gohts/internal/scoring"
	"gohts/internal/testkit"
)

func scenario(t *testing.T) *testkit.Scenario {
	t.Helper()
	sc, err := testkit.NewDemandGenerator(testkit.DefaultDemandConfig()).Generate(context.Background())
	require.NoError(t, err)
	return sc
}

func allMethods() []Method {
	return []Method{
		BottomUp(),
		TopDown(ProportionAverages),
		TopDown(AverageProportions),
		TopDown(ForecastProportions),
		MinTrace(OLS),
		MinTrace(WLSStruct),
		MinTrace(WLSVar),
		MinTrace(MinTShrink),
	}
}

func fitted(t *testing.T, sc *testkit.Scenario, m Method) *Fitted {
	t.Helper()
	r, err := New(sc.Index, m, Options{Bootstrap: BootstrapConfig{Samples: 200, Seed: 7}})
	require.NoError(t, err)
	f, err := r.Fit(context.Background(), sc.Base.Slice(0, 20), sc.Actuals.Slice(0, 20))
	require.NoError(t, err)
	return f
}

func TestParseMethod(t *testing.T) {
	tests := []struct {
		in   string
		want Method
		code string
	}{
		{in: "bottom-up", want: BottomUp()},
		{in: "BU", want: BottomUp()},
		{in: "top-down", want: TopDown(ProportionAverages)},
		{in: "top-down:forecast-proportions", want: TopDown(ForecastProportions)},
		{in: "trace-minimization", want: MinTrace(MinTShrink)},
		{in: "mint:ols", want: MinTrace(OLS)},
		{in: "trace_minimization:wls-var", want: MinTrace(WLSVar)},
		{in: "middle-out", code: errors.CodeUnsupportedReconciler},
		{in: "top-down:median", code: errors.CodeUnsupportedReconciler},
		{in: "bottom-up:x", code: errors.CodeConfigInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			m, err := ParseMethod(tt.in)
			if tt.code != "" {
				require.Error(t, err)
				assert.Equal(t, tt.code, errors.GetCode(err))
				assert.True(t, errors.IsConfigError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, m)
			again, err := ParseMethod(m.String())
			require.NoError(t, err)
			assert.Equal(t, m, again)
		})
	}
}

func TestReconcileInvariants(t *testing.T) {
	sc := scenario(t)
	for _, m := range allMethods() {
		t.Run(m.String(), func(t *testing.T) {
			out, err := fitted(t, sc, m).Reconcile(context.Background(), sc.Base)
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
		})
	}
}

func TestBottomUpKeepsLeavesAndIsIdempotent(t *testing.T) {
	sc := scenario(t)
	f := fitted(t, sc, BottomUp())
	ctx := context.Background()

	once, err := f.Reconcile(ctx, sc.Base)
	require.NoError(t, err)
	twice, err := f.Reconcile(ctx, once)
	require.NoError(t, err)

	for _, leaf := range sc.Index.Leaves() {
		assert.Equal(t, sc.Base.Mean[sc.Base.Position(leaf)], once.Mean[once.Position(leaf)])
	}
	for i := range once.Nodes {
		assert.InDeltaSlice(t, once.Mean[i], twice.Mean[i], 1e-9)
	}
}

func TestBottomUpEndToEnd(t *testing.T) {
	sc := scenario(t)
	require.Equal(t, 30, sc.Base.Len())
	require.Equal(t, []string{"Total", "A", "B", "A/1", "A/2", "B/1"}, sc.Index.Paths())

	out, err := fitted(t, sc, BottomUp()).Reconcile(context.Background(), sc.Base)
	require.NoError(t, err)

	root, a := out.Position("Total"), out.Position("A")
	for ts := 0; ts < 30; ts++ {
		leafSum := 0.0
		aSum := 0.0
		for _, leaf := range sc.Index.Leaves() {
			v := sc.Base.Mean[sc.Base.Position(leaf)][ts]
			leafSum += v
			if leaf == "A/1" || leaf == "A/2" {
				aSum += v
			}
		}
		assert.InDelta(t, leafSum, out.Mean[root][ts], 1e-9)
		assert.InDelta(t, aSum, out.Mean[a][ts], 1e-9)
	}

	engine := scoring.NewEngine(scoring.DefaultOptions())
	_, before, err := engine.Score(sc.Base, sc.Actuals)
	require.NoError(t, err)
	_, after, err := engine.Score(out, sc.Actuals)
	require.NoError(t, err)
	assert.LessOrEqual(t, after.Metrics[scoring.RMSE], before.Metrics[scoring.RMSE])
}

func TestMinTraceProjectionIsUnbiased(t *testing.T) {
	sc := scenario(t)
	for _, e := range []Estimator{OLS, WLSStruct, WLSVar, MinTShrink} {
		p := fitted(t, sc, MinTrace(e)).Projection()
		require.NotNil(t, p)
		var ps mat.Dense
		ps.Mul(p, sc.Index.S())
		r, c := ps.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				want := 0.0
				if i == j {
					want = 1
				}
				assert.InDelta(t, want, ps.At(i, j), 1e-8, "%s P·S[%d,%d]", e, i, j)
			}
		}
	}
}

func TestMinTraceFallsBackWithoutResiduals(t *testing.T) {
	sc := scenario(t)
	r, err := New(sc.Index, MinTrace(MinTShrink), Options{})
	require.NoError(t, err)
	f, err := r.Fit(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, MinTrace(WLSStruct), f.Method())
}

func TestTopDownProportionsFollowHistory(t *testing.T) {
	sc := scenario(t)
	f := fitted(t, sc, TopDown(ProportionAverages))
	p := f.Projection()

	train := sc.Actuals.Slice(0, 20)
	total := 0.0
	for _, v := range train.Series("Total") {
		total += v
	}
	sum := 0.0
	for j, leaf := range sc.Index.Leaves() {
		leafTotal := 0.0
		for _, v := range train.Series(leaf) {
			leafTotal += v
		}
		assert.InDelta(t, leafTotal/total, p.At(j, 0), 1e-9)
		sum += p.At(j, 0)
	}
	assert.InDelta(t, 1.0, sum, 1e-9)

	out, err := f.Reconcile(context.Background(), sc.Base)
	require.NoError(t, err)
	assert.InDeltaSlice(t, sc.Base.Mean[0], out.Mean[0], 1e-6, "top-down keeps the root forecast")
}

func TestTopDownLearnsOnlyFromFitWindow(t *testing.T) {
	idx, err := hierarchy.FromPaths([]string{"A/1", "A/2"}, "Total", []string{"region", "facility"})
	require.NoError(t, err)
	ts := make([]time.Time, 20)
	for d := range ts {
		ts[d] = time.Date(2024, 1, 1+d, 0, 0, 0, 0, time.UTC)
	}
	// An even split while fitting, 90/10 afterwards.
	actuals := forecast.NewActuals(idx.Paths(), ts)
	for d := range ts {
		a1, a2 := 5.0, 5.0
		if d >= 10 {
			a1, a2 = 9, 1
		}
		for i, node := range actuals.Nodes {
			switch node {
			case "A/1":
				actuals.Values[i][d] = a1
			case "A/2":
				actuals.Values[i][d] = a2
			default:
				actuals.Values[i][d] = a1 + a2
			}
		}
	}
	train := forecast.NewFrame(idx.Paths(), ts[:10])

	for _, w := range []Weighting{ProportionAverages, AverageProportions} {
		r, err := New(idx, TopDown(w), Options{})
		require.NoError(t, err)
		f, err := r.Fit(context.Background(), train, actuals)
		require.NoError(t, err)
		p := f.Projection()
		assert.InDelta(t, 0.5, p.At(0, 0), 1e-12, "%s: A/1 share", w)
		assert.InDelta(t, 0.5, p.At(1, 0), 1e-12, "%s: A/2 share", w)
	}
}

func TestTopDownNeedsActuals(t *testing.T) {
	sc := scenario(t)
	r, err := New(sc.Index, TopDown(AverageProportions), Options{})
	require.NoError(t, err)
	_, err = r.Fit(context.Background(), nil, nil)
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
}

func TestNegativeLeavesAreClamped(t *testing.T) {
	sc := scenario(t)
	base := sc.Base.Clone()
	leaf := base.Position("B/1")
	for ts := range base.Timestamps {
		base.Mean[leaf][ts] = -5
		base.Lower[leaf][ts] = -10
		base.Upper[leaf][ts] = 0
	}
	out, err := fitted(t, sc, MinTrace(OLS)).Reconcile(context.Background(), base)
	require.NoError(t, err)
	for i := range out.Nodes {
		for ts := range out.Timestamps {
			assert.GreaterOrEqual(t, out.Mean[i][ts], 0.0)
		}
	}
	assert.NoError(t, sc.Index.CheckAdditive(out, 1e-6))
}

func TestBootstrapIsReproducibleAcrossWorkers(t *testing.T) {
	sc := scenario(t)
	ctx := context.Background()
	run := func(workers int) *forecast.Frame {
		r, err := New(sc.Index, MinTrace(WLSStruct), Options{Bootstrap: BootstrapConfig{Samples: 100, Seed: 3, Workers: workers}})
		require.NoError(t, err)
		f, err := r.Fit(ctx, nil, nil)
		require.NoError(t, err)
		out, err := f.Reconcile(ctx, sc.Base)
		require.NoError(t, err)
		return out
	}
	a, b := run(1), run(8)
	for i := range a.Nodes {
		assert.Equal(t, a.Lower[i], b.Lower[i])
		assert.Equal(t, a.Upper[i], b.Upper[i])
	}
}

func TestReconcileBandsNest(t *testing.T) {
	sc := scenario(t)
	r, err := New(sc.Index, BottomUp(), Options{Bootstrap: BootstrapConfig{Samples: 400, Levels: []float64{80, 95}, Seed: 1}})
	require.NoError(t, err)
	f, err := r.Fit(context.Background(), nil, nil)
	require.NoError(t, err)
	out, bands, err := f.ReconcileBands(context.Background(), sc.Base)
	require.NoError(t, err)
	require.Len(t, bands, 2)

	assert.Equal(t, out.Lower, bands[1].Lower, "95 is the primary band")
	for i := range out.Nodes {
		for ts := range out.Timestamps {
			assert.LessOrEqual(t, bands[1].Lower[i][ts], bands[0].Lower[i][ts])
			assert.GreaterOrEqual(t, bands[1].Upper[i][ts], bands[0].Upper[i][ts])
		}
	}
}

func TestBootstrapConfigValidate(t *testing.T) {
	assert.Error(t, BootstrapConfig{Samples: -1, Levels: []float64{95}}.Validate())
	assert.Error(t, BootstrapConfig{Samples: 10, Levels: []float64{100}}.Validate())
	assert.NoError(t, DefaultBootstrapConfig().Validate())

	_, err := New(scenario(t).Index, BottomUp(), Options{Bootstrap: BootstrapConfig{Levels: []float64{0}}})
	assert.True(t, errors.IsConfigError(err))
}

func TestIntervalFallsBackToExtremes(t *testing.T) {
	// too few draws for the lower tail: the minimum stands in
	lo, hi := interval([]float64{3, 1, 2}, 95)
	assert.Equal(t, 1.0, lo)
	assert.InDelta(t, 2.5, hi, 1e-12)
	assert.False(t, math.IsNaN(lo))
}
