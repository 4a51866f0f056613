package reconcile

import (
	"context"
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"gohts/domain/forecast"
	"gohts/internal/errors"
	"gohts/internal/hierarchy"
	"gohts/internal/logging"
	"gohts/internal/workers"
)

// Options configures a Reconciler.
type Options struct {
	Bootstrap BootstrapConfig
}

// Reconciler fits one Method against a hierarchy.
type Reconciler struct {
	idx    *hierarchy.Index
	method Method
	opts   Options
	logger zerolog.Logger
}

// New validates method and returns a reconciler for idx.
func New(idx *hierarchy.Index, method Method, opts Options) (*Reconciler, error) {
	if idx == nil {
		return nil, errors.ConfigInvalid("reconciler needs a hierarchy index")
	}
	if err := method.Validate(); err != nil {
		return nil, err
	}
	opts.Bootstrap = opts.Bootstrap.withDefaults()
	if err := opts.Bootstrap.Validate(); err != nil {
		return nil, err
	}
	return &Reconciler{
		idx:    idx,
		method: method,
		opts:   opts,
		logger: logging.Component("reconcile").With().Str("method", method.String()).Logger(),
	}, nil
}

// Method returns the configured method.
func (r *Reconciler) Method() Method { return r.method }

// Fit learns what the method needs from a training window: historical
// proportions for top-down, residual (co)variances for trace minimisation.
// train and actuals may be nil for methods that need neither.
func (r *Reconciler) Fit(ctx context.Context, train *forecast.Frame, actuals *forecast.Actuals) (*Fitted, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.method.needsHistory() && actuals == nil {
		return nil, errors.InvalidInput(fmt.Sprintf("%s needs training actuals", r.method))
	}
	// Only truth inside the fit window is learned from.
	if actuals != nil && train != nil {
		actuals = actuals.Align(train.Timestamps)
	}

	s := r.idx.S()
	f := &Fitted{idx: r.idx, method: r.method, s: s, boot: r.opts.Bootstrap}

	switch r.method.Kind {
	case KindBottomUp:
		f.proj = bottomUpProjection(r.idx)
	case KindTopDown:
		if r.method.Weighting == ForecastProportions {
			f.tr = newForecastShares(r.idx)
			break
		}
		props := historicalProportions(r.idx, actuals, r.method.Weighting)
		f.proj = topDownProjection(r.idx, props)
	case KindMinTrace:
		w, used := r.covariance(train, actuals)
		if used != r.method.Estimator {
			r.logger.Warn().Str("fallback", string(used)).Msg("not enough residuals for the requested estimator")
		}
		proj, err := minTraceProjection(s, w)
		if err != nil {
			return nil, errors.Wrapf(err, "fit %s", r.method)
		}
		f.proj = proj
		f.estimator = used
	}
	if f.tr == nil {
		f.tr = projection{p: f.proj}
	}

	r.logger.Debug().Int("nodes", r.idx.Len()).Int("leaves", r.idx.NumLeaves()).Msg("reconciler fitted")
	return f, nil
}

// Fitted is a ready-to-apply reconciliation transform.
type Fitted struct {
	idx       *hierarchy.Index
	method    Method
	estimator Estimator
	s         *mat.Dense
	proj      *mat.Dense
	tr        transform
	boot      BootstrapConfig
}

// Method returns the fitted method. For trace minimisation the estimator is
// the one actually used, which differs from the configured one after a fallback.
func (f *Fitted) Method() Method {
	m := f.method
	if m.Kind == KindMinTrace && f.estimator != "" {
		m.Estimator = f.estimator
	}
	return m
}

// Projection returns P, the leaves × nodes matrix mapping base forecasts to
// reconciled leaves, or nil for forecast-proportions which is not linear.
func (f *Fitted) Projection() *mat.Dense {
	if f.proj == nil {
		return nil
	}
	return mat.DenseCopyOf(f.proj)
}

// Reconcile applies the transform to every timestamp of base. Means are exactly
// additive and non-negative; intervals come from the bootstrap at the primary level.
func (f *Fitted) Reconcile(ctx context.Context, base *forecast.Frame) (*forecast.Frame, error) {
	out, _, err := f.ReconcileBands(ctx, base)
	return out, err
}

// ReconcileBands is Reconcile that also returns one band per configured bootstrap level.
func (f *Fitted) ReconcileBands(ctx context.Context, base *forecast.Frame) (*forecast.Frame, []Band, error) {
	in, err := f.idx.AlignFrame(base)
	if err != nil {
		return nil, nil, err
	}

	n, m := f.idx.Len(), f.idx.NumLeaves()
	out := forecast.NewFrame(f.idx.Paths(), in.Timestamps)
	bands := newBands(f.boot.Levels, n, in.Len())
	primary := f.boot.primary()

	err = workers.Each(ctx, in.Len(), f.boot.Workers, func(ctx context.Context, t int) error {
		mean := in.Column(t)
		sigma := make([]float64, n)
		for i := range sigma {
			sigma[i] = in.Sigma(i, t)
		}

		leaves := make([]float64, m)
		f.tr.leaves(mean, leaves)
		point := aggregate(f.s, clampLeaves(leaves))
		for i := range point {
			out.Mean[i][t] = point[i]
		}

		draws := bootstrapColumn(f.tr, f.s, mean, sigma, f.boot, t)
		for i := 0; i < n; i++ {
			for b, level := range f.boot.Levels {
				lo, hi := interval(draws[i], level)
				bands[b].Lower[i][t], bands[b].Upper[i][t] = order(lo, point[i], hi)
			}
			out.Lower[i][t] = bands[primary].Lower[i][t]
			out.Upper[i][t] = bands[primary].Upper[i][t]
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return out, bands, nil
}

// transform maps the all-node vector y to reconciled leaf values.
type transform interface {
	leaves(y, dst []float64)
}

type projection struct {
	p *mat.Dense
}

func (pr projection) leaves(y, dst []float64) {
	dv := mat.NewVecDense(len(dst), dst)
	dv.MulVec(pr.p, mat.NewVecDense(len(y), y))
}

// forecastShares splits each parent among its children in proportion to the
// children's own base forecasts, starting at the root.
type forecastShares struct {
	children [][]int
	offset   int
}

func newForecastShares(idx *hierarchy.Index) forecastShares {
	fs := forecastShares{offset: idx.LeafOffset()}
	paths := idx.Paths()
	fs.children = make([][]int, fs.offset)
	for i := 0; i < fs.offset; i++ {
		for _, c := range idx.Children(paths[i]) {
			fs.children[i] = append(fs.children[i], idx.Position(c))
		}
	}
	return fs
}

func (fs forecastShares) leaves(y, dst []float64) {
	vals := make([]float64, len(y))
	vals[0] = math.Max(y[0], 0)
	for i := 0; i < fs.offset; i++ {
		kids := fs.children[i]
		sum := 0.0
		for _, k := range kids {
			sum += math.Max(y[k], 0)
		}
		for _, k := range kids {
			share := 1 / float64(len(kids))
			if sum > 0 {
				share = math.Max(y[k], 0) / sum
			}
			vals[k] = vals[i] * share
		}
	}
	copy(dst, vals[fs.offset:])
}

func bottomUpProjection(idx *hierarchy.Index) *mat.Dense {
	m := idx.NumLeaves()
	p := mat.NewDense(m, idx.Len(), nil)
	off := idx.LeafOffset()
	for j := 0; j < m; j++ {
		p.Set(j, off+j, 1)
	}
	return p
}

func topDownProjection(idx *hierarchy.Index, props []float64) *mat.Dense {
	p := mat.NewDense(idx.NumLeaves(), idx.Len(), nil)
	p.SetCol(0, props)
	return p
}

// historicalProportions returns one weight per leaf, summing to one.
func historicalProportions(idx *hierarchy.Index, actuals *forecast.Actuals, w Weighting) []float64 {
	leaves := idx.Leaves()
	root := actuals.Series(idx.Root())
	props := make([]float64, len(leaves))

	for j, leaf := range leaves {
		series := actuals.Series(leaf)
		var num, den, ratios stats.Float64Data
		for t, total := range root {
			if forecast.IsNull(total) {
				continue
			}
			v := 0.0
			if series != nil && !forecast.IsNull(series[t]) {
				v = series[t]
			}
			num = append(num, v)
			den = append(den, total)
			if total > 0 {
				ratios = append(ratios, v/total)
			}
		}
		switch w {
		case AverageProportions:
			if p, err := stats.Mean(ratios); err == nil {
				props[j] = p
			}
		default:
			a, _ := stats.Sum(num)
			b, _ := stats.Sum(den)
			if b > 0 {
				props[j] = a / b
			}
		}
	}
	return normalize(props)
}

func normalize(props []float64) []float64 {
	total := 0.0
	for i, p := range props {
		if p < 0 || math.IsNaN(p) {
			props[i] = 0
		}
		total += props[i]
	}
	for i := range props {
		if total > 0 {
			props[i] /= total
		} else {
			props[i] = 1 / float64(len(props))
		}
	}
	return props
}

func clampLeaves(leaves []float64) []float64 {
	for j, v := range leaves {
		if v < 0 || math.IsNaN(v) {
			leaves[j] = 0
		}
	}
	return leaves
}

func aggregate(s *mat.Dense, leaves []float64) []float64 {
	r, _ := s.Dims()
	out := make([]float64, r)
	dv := mat.NewVecDense(r, out)
	dv.MulVec(s, mat.NewVecDense(len(leaves), leaves))
	return out
}

// order returns lower, upper satisfying 0 <= lower <= mean <= upper.
func order(lower, mean, upper float64) (float64, float64) {
	lower = math.Max(math.Min(lower, mean), 0)
	upper = math.Max(upper, mean)
	return lower, upper
}
