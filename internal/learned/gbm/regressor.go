package gbm

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"gohts/internal/errors"
)

// Dataset is a design matrix with one target per row.
type Dataset struct {
	X [][]float64
	Y []float64
}

// Regressor is a squared-loss boosted ensemble.
type Regressor struct {
	Base  float64 `json:"base"`
	Trees []*Tree `json:"trees"`
	// BestIteration is the number of trees kept; with early stopping it is the
	// round of the lowest validation error.
	BestIteration int       `json:"best_iteration"`
	ValidRMSE     []float64 `json:"valid_rmse,omitempty"`
}

// FitRegressor boosts on train. When valid is non-nil and early stopping is
// enabled, boosting stops once the validation RMSE has not improved for
// p.EarlyStoppingRounds rounds and the ensemble is cut at the best round.
func FitRegressor(train Dataset, valid *Dataset, p Params) (*Regressor, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	width, err := checkMatrix(train.X, len(train.Y))
	if err != nil {
		return nil, err
	}
	if valid != nil {
		w, err := checkMatrix(valid.X, len(valid.Y))
		if err != nil {
			return nil, errors.Wrap(err, "validation set")
		}
		if w != width {
			return nil, errors.InvalidInput("gbm: validation rows differ in width from training rows")
		}
	}

	n := len(train.Y)
	reg := &Regressor{Base: floats.Sum(train.Y) / float64(n)}
	pred := make([]float64, n)
	floats.AddConst(reg.Base, pred)
	grad := make([]float64, n)
	hess := make([]float64, n)
	for i := range hess {
		hess[i] = 1
	}
	rows := allRows(n)

	var vpred []float64
	if valid != nil {
		vpred = make([]float64, len(valid.Y))
		floats.AddConst(reg.Base, vpred)
	}
	best, bestRound := math.Inf(1), 0
	stopping := valid != nil && p.EarlyStoppingRounds > 0

	for round := 0; round < p.NumRounds; round++ {
		floats.SubTo(grad, pred, train.Y)
		tree := buildTree(train.X, grad, hess, rows, p)
		reg.Trees = append(reg.Trees, tree)
		for i, x := range train.X {
			pred[i] += tree.Predict(x)
		}

		if valid == nil {
			continue
		}
		for i, x := range valid.X {
			vpred[i] += tree.Predict(x)
		}
		rmse := floats.Distance(vpred, valid.Y, 2) / math.Sqrt(float64(len(valid.Y)))
		reg.ValidRMSE = append(reg.ValidRMSE, rmse)
		if rmse < best {
			best, bestRound = rmse, round+1
		} else if stopping && round+1-bestRound >= p.EarlyStoppingRounds {
			break
		}
	}

	reg.BestIteration = len(reg.Trees)
	if stopping && bestRound > 0 {
		reg.Trees = reg.Trees[:bestRound]
		reg.BestIteration = bestRound
	}
	return reg, nil
}

// Predict returns the ensemble output for x.
func (r *Regressor) Predict(x []float64) float64 {
	out := r.Base
	for _, t := range r.Trees {
		out += t.Predict(x)
	}
	return out
}
