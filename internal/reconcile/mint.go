package reconcile

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"gohts/domain/forecast"
	"gohts/internal/errors"
)

const varianceFloor = 1e-8

// covariance returns W for the configured estimator together with the
// estimator actually used. Estimators that need residuals fall back to
// wls-struct when fewer than two are available.
func (r *Reconciler) covariance(train *forecast.Frame, actuals *forecast.Actuals) (mat.Matrix, Estimator) {
	n := r.idx.Len()
	switch r.method.Estimator {
	case OLS:
		return identity(n), OLS
	case WLSVar:
		res := residuals(r, train, actuals)
		if w, ok := residualVariances(res); ok {
			return mat.NewDiagDense(n, w), WLSVar
		}
	case MinTShrink:
		res := residuals(r, train, actuals)
		if w, ok := shrunkCovariance(res); ok {
			return w, MinTShrink
		}
	}
	return structural(r.idx.S()), WLSStruct
}

func identity(n int) *mat.DiagDense {
	d := make([]float64, n)
	for i := range d {
		d[i] = 1
	}
	return mat.NewDiagDense(n, d)
}

// structural weights every node by the number of leaves under it.
func structural(s *mat.Dense) *mat.DiagDense {
	r, c := s.Dims()
	d := make([]float64, r)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			d[i] += s.At(i, j)
		}
	}
	return mat.NewDiagDense(r, d)
}

// residuals returns actual - mean per node in index order; null actuals are NaN.
func residuals(r *Reconciler, train *forecast.Frame, actuals *forecast.Actuals) [][]float64 {
	if train == nil || actuals == nil {
		return nil
	}
	pred, err := r.idx.AlignFrame(train)
	if err != nil {
		return nil
	}
	truth := r.idx.AlignActuals(actuals.Align(pred.Timestamps))
	out := make([][]float64, r.idx.Len())
	for i := range out {
		out[i] = make([]float64, pred.Len())
		for t := range out[i] {
			out[i][t] = truth.Values[i][t] - pred.Mean[i][t]
		}
	}
	return out
}

func residualVariances(res [][]float64) ([]float64, bool) {
	if res == nil {
		return nil, false
	}
	w := make([]float64, len(res))
	for i, row := range res {
		sum, k := 0.0, 0
		for _, e := range row {
			if !math.IsNaN(e) {
				sum += e * e
				k++
			}
		}
		if k < 2 {
			return nil, false
		}
		w[i] = math.Max(sum/float64(k), varianceFloor)
	}
	return w, true
}

// shrunkCovariance is the Schäfer–Strimmer estimator shrinking the sample
// covariance of complete residual rows towards its diagonal.
func shrunkCovariance(res [][]float64) (*mat.SymDense, bool) {
	if res == nil {
		return nil, false
	}
	n := len(res)
	var rows []int
	for t := range res[0] {
		complete := true
		for i := 0; i < n; i++ {
			if math.IsNaN(res[i][t]) {
				complete = false
				break
			}
		}
		if complete {
			rows = append(rows, t)
		}
	}
	k := len(rows)
	if k < 2 {
		return nil, false
	}

	x := mat.NewDense(k, n, nil)
	for r, t := range rows {
		for i := 0; i < n; i++ {
			x.Set(r, i, res[i][t])
		}
	}
	mean := make([]float64, n)
	sd := make([]float64, n)
	for i := 0; i < n; i++ {
		col := mat.Col(nil, i, x)
		for _, v := range col {
			mean[i] += v
		}
		mean[i] /= float64(k)
		for _, v := range col {
			sd[i] += (v - mean[i]) * (v - mean[i])
		}
		sd[i] = math.Sqrt(sd[i] / float64(k-1))
	}

	// standardised residuals
	z := mat.NewDense(k, n, nil)
	for r := 0; r < k; r++ {
		for i := 0; i < n; i++ {
			if sd[i] > 0 {
				z.Set(r, i, (x.At(r, i)-mean[i])/sd[i])
			}
		}
	}

	cov := mat.NewSymDense(n, nil)
	num, den := 0.0, 0.0
	kf := float64(k)
	for i := 0; i < n; i++ {
		cov.SetSym(i, i, math.Max(sd[i]*sd[i], varianceFloor))
		for j := i + 1; j < n; j++ {
			wMean := 0.0
			for r := 0; r < k; r++ {
				wMean += z.At(r, i) * z.At(r, j)
			}
			wMean /= kf
			varR := 0.0
			for r := 0; r < k; r++ {
				d := z.At(r, i)*z.At(r, j) - wMean
				varR += d * d
			}
			varR *= kf / math.Pow(kf-1, 3)
			corr := wMean * kf / (kf - 1)
			num += varR
			den += corr * corr
			cov.SetSym(i, j, corr*sd[i]*sd[j])
		}
	}

	lambda := 1.0
	if den > 0 {
		lambda = math.Max(0, math.Min(1, num/den))
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			cov.SetSym(i, j, (1-lambda)*cov.At(i, j))
		}
	}
	return cov, true
}

// minTraceProjection returns P = (SᵀW⁻¹S)⁻¹SᵀW⁻¹.
func minTraceProjection(s *mat.Dense, w mat.Matrix) (*mat.Dense, error) {
	n, _ := s.Dims()
	var winv mat.Dense
	if d, ok := w.(*mat.DiagDense); ok {
		inv := make([]float64, n)
		for i := range inv {
			inv[i] = 1 / math.Max(d.At(i, i), varianceFloor)
		}
		winv.CloneFrom(mat.NewDiagDense(n, inv))
	} else if err := winv.Inverse(w); err != nil {
		return nil, errors.Wrap(err, "error covariance is singular")
	}

	var stw, a, p mat.Dense
	stw.Mul(s.T(), &winv)
	a.Mul(&stw, s)
	if err := p.Solve(&a, &stw); err != nil {
		return nil, errors.Wrap(err, "reconciliation system is singular")
	}
	return &p, nil
}
