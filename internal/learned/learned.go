// Package learned reconciles forecasts with a cascade of boosted models: a
// pooled regressor corrects the leaf forecasts and one share classifier per
// internal node splits each parent among its children.
package learned

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/montanaflynn/stats"
	"github.com/rs/zerolog"

	"gohts/domain/core"
	"gohts/domain/forecast"
	"gohts/internal/errors"
	"gohts/internal/hierarchy"
	"gohts/internal/learned/gbm"
	"gohts/internal/logging"
	"gohts/internal/scoring"
	"gohts/internal/workers"
	"gohts/ports"
)

// Options configures fitting.
type Options struct {
	// LogTransform fits the leaf regressor on log1p targets and features.
	LogTransform      bool
	Regressor         gbm.Params
	Classifier        gbm.Params
	DegenerateEpsilon float64
	// MinShareRows is the fewest labelled timestamps a share model trains on.
	MinShareRows int
	Workers      int
	Progress     ports.ProgressObserver
}

// DefaultOptions uses the gbm defaults and five rows per share model.
func DefaultOptions() Options {
	cls := gbm.DefaultParams()
	cls.NumRounds = 50
	return Options{
		Regressor:         gbm.DefaultParams(),
		Classifier:        cls,
		DegenerateEpsilon: scoring.DefaultDegenerateEpsilon,
		MinShareRows:      5,
	}
}

// TrainingData holds the fit windows. Validation may be nil, in which case the
// leaf regressor runs its full number of rounds. Actuals must cover both windows.
type TrainingData struct {
	Index      *hierarchy.Index
	Train      *forecast.Frame
	Validation *forecast.Frame
	Actuals    *forecast.Actuals
}

// shareModel allocates a parent among its children. A nil Model means no
// usable training rows; Fallback is used instead.
type shareModel struct {
	Children []string
	Model    *gbm.Classifier
	Fallback []float64
}

// Model is a fitted learned reconciler.
type Model struct {
	idx       *hierarchy.Index
	opts      Options
	leafModel *gbm.Regressor
	shares    map[string]*shareModel
	logger    zerolog.Logger
}

// Fit trains the leaf regressor, then every internal node's share model.
func Fit(ctx context.Context, data TrainingData, opts Options) (*Model, error) {
	if data.Index == nil || data.Train == nil || data.Actuals == nil {
		return nil, errors.InvalidInput("learned reconciler needs a hierarchy, training forecasts and actuals")
	}
	if opts.DegenerateEpsilon <= 0 {
		opts.DegenerateEpsilon = scoring.DefaultDegenerateEpsilon
	}
	if opts.MinShareRows <= 0 {
		opts.MinShareRows = DefaultOptions().MinShareRows
	}
	if err := opts.Regressor.Validate(); err != nil {
		return nil, errors.Wrap(err, "leaf regressor")
	}
	if err := opts.Classifier.Validate(); err != nil {
		return nil, errors.Wrap(err, "share classifier")
	}

	idx := data.Index
	m := &Model{
		idx:    idx,
		opts:   opts,
		shares: make(map[string]*shareModel),
		logger: logging.Component("learned"),
	}

	train, err := idx.AlignFrame(data.Train)
	if err != nil {
		return nil, err
	}
	var valid *forecast.Frame
	if data.Validation != nil {
		if valid, err = idx.AlignFrame(data.Validation); err != nil {
			return nil, err
		}
	}

	live := 0
	for j := range idx.Leaves() {
		if !train.Degenerate(idx.LeafOffset()+j, opts.DegenerateEpsilon) {
			live++
		}
	}
	if live == 0 {
		return nil, errors.TotalFailure(core.ErrNoTrainedNodes)
	}

	if err := m.fitLeaves(ctx, train, valid, data.Actuals); err != nil {
		return nil, err
	}

	window := train
	if valid != nil {
		if window, err = forecast.Concat(train, valid); err != nil {
			return nil, errors.WithCode(errors.CodeInvalidInput, err)
		}
	}
	if err := m.fitShares(ctx, window, data.Actuals); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Model) fitLeaves(ctx context.Context, train, valid *forecast.Frame, actuals *forecast.Actuals) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	trainSet := m.leafDataset(train, actuals)
	notify := func(err error) {
		m.opts.Progress.Notify(ports.ProgressEvent{Stage: "leaf-regression", Node: "leaves", Done: 1, Total: 1, Err: err})
	}
	if len(trainSet.Y) == 0 {
		m.logger.Warn().Msg("no leaf has a known actual in the training window; leaf forecasts pass through uncorrected")
		notify(core.ErrInsufficientHistory)
		return nil
	}

	p := m.opts.Regressor
	var reg *gbm.Regressor
	var err error
	if validSet := m.leafDataset(valid, actuals); valid != nil && len(validSet.Y) > 0 {
		first, ferr := gbm.FitRegressor(trainSet, &validSet, p)
		if ferr != nil {
			err = ferr
		} else {
			refit := p
			refit.NumRounds = max(first.BestIteration, 1)
			refit.EarlyStoppingRounds = 0
			combined := gbm.Dataset{
				X: append(append([][]float64(nil), trainSet.X...), validSet.X...),
				Y: append(append([]float64(nil), trainSet.Y...), validSet.Y...),
			}
			reg, err = gbm.FitRegressor(combined, nil, refit)
		}
	} else {
		reg, err = gbm.FitRegressor(trainSet, nil, p)
	}
	if err != nil {
		m.logger.Warn().Err(err).Msg("leaf regressor failed; leaf forecasts pass through uncorrected")
		notify(errors.NodeFitFailed("leaves", err))
		return nil
	}
	m.leafModel = reg
	m.logger.Debug().Int("rows", len(trainSet.Y)).Int("trees", reg.BestIteration).Msg("leaf regressor fitted")
	notify(nil)
	return nil
}

// leafDataset builds pooled leaf rows for f. Degenerate leaves contribute a
// zero target at every timestamp; other leaves skip unknown actuals.
func (m *Model) leafDataset(f *forecast.Frame, actuals *forecast.Actuals) gbm.Dataset {
	var d gbm.Dataset
	if f == nil {
		return d
	}
	truth := m.idx.AlignActuals(actuals.Align(f.Timestamps))
	off := m.idx.LeafOffset()
	for j := 0; j < m.idx.NumLeaves(); j++ {
		i := off + j
		degenerate := f.Degenerate(i, m.opts.DegenerateEpsilon)
		for t := range f.Timestamps {
			y := truth.Values[i][t]
			switch {
			case degenerate:
				y = 0
			case forecast.IsNull(y):
				continue
			}
			d.X = append(d.X, leafFeatures(f, i, t, j, m.opts.LogTransform))
			d.Y = append(d.Y, magnitude(y, m.opts.LogTransform))
		}
	}
	return d
}

func (m *Model) fitShares(ctx context.Context, window *forecast.Frame, actuals *forecast.Actuals) error {
	truth := m.idx.AlignActuals(actuals.Align(window.Timestamps))
	paths := m.idx.Paths()
	internal := paths[:m.idx.LeafOffset()]
	fitted := make([]*shareModel, len(internal))
	var done atomic.Int64

	err := workers.Each(ctx, len(internal), m.opts.Workers, func(ctx context.Context, k int) error {
		parent := internal[k]
		sm, err := m.fitShare(parent, window, truth)
		fitted[k] = sm
		m.opts.Progress.Notify(ports.ProgressEvent{
			Stage: "share-model",
			Node:  parent,
			Done:  int(done.Add(1)),
			Total: len(internal),
			Err:   err,
		})
		return nil
	})
	if err != nil {
		return err
	}
	for k, sm := range fitted {
		m.shares[internal[k]] = sm
	}
	return nil
}

// fitShare never fails the run: a classifier error is returned for progress
// reporting only and leaves the node on its fallback proportions.
func (m *Model) fitShare(parent string, window *forecast.Frame, truth *forecast.Actuals) (*shareModel, error) {
	children := m.idx.Children(parent)
	sm := &shareModel{Children: children}
	pi := m.idx.Position(parent)
	kids := make([]int, len(children))
	for c, child := range children {
		kids[c] = m.idx.Position(child)
	}

	var x, y [][]float64
	ratios := make([]stats.Float64Data, len(kids))
	for t := range window.Timestamps {
		label := make([]float64, len(kids))
		sum, known := 0.0, false
		for c, ci := range kids {
			if v := truth.Values[ci][t]; !forecast.IsNull(v) {
				label[c] = math.Max(v, 0)
				sum += label[c]
				known = true
			}
		}
		if !known || sum <= 0 {
			continue
		}
		for c := range label {
			label[c] /= sum
			ratios[c] = append(ratios[c], label[c])
		}
		x = append(x, shareFeatures(window, pi, kids, t, m.opts.LogTransform))
		y = append(y, label)
	}

	sm.Fallback = make([]float64, len(kids))
	for c := range kids {
		if p, err := stats.Mean(ratios[c]); err == nil {
			sm.Fallback[c] = p
		}
	}
	sm.Fallback = normalizeShares(sm.Fallback)

	if len(kids) < 2 {
		return sm, nil
	}
	if len(y) < m.opts.MinShareRows {
		m.logger.Warn().Str("node", parent).Int("rows", len(y)).Msg("too few labelled rows for a share model; using historical proportions")
		return sm, fmt.Errorf("node %s: %w", parent, core.ErrInsufficientHistory)
	}
	model, err := gbm.FitClassifier(x, y, m.opts.Classifier)
	if err != nil {
		m.logger.Warn().Err(err).Str("node", parent).Msg("share model failed; using historical proportions")
		return sm, errors.NodeFitFailed(parent, err)
	}
	sm.Model = model
	return sm, nil
}

// HasShareModel reports whether node allocates with a trained classifier.
func (m *Model) HasShareModel(node string) bool {
	sm, ok := m.shares[node]
	return ok && sm.Model != nil
}

// BestIteration is the tree count of the leaf regressor, zero without one.
func (m *Model) BestIteration() int {
	if m.leafModel == nil {
		return 0
	}
	return m.leafModel.BestIteration
}

func normalizeShares(s []float64) []float64 {
	sum := 0.0
	for i, v := range s {
		if v < 0 || math.IsNaN(v) {
			s[i] = 0
		}
		sum += s[i]
	}
	for i := range s {
		if sum > 0 {
			s[i] /= sum
		} else {
			s[i] = 1 / float64(len(s))
		}
	}
	return s
}
