package learned

import (
	"context"
	"math"

	"gohts/domain/forecast"
	"gohts/internal/workers"
)

// Predict corrects the leaves of base, sets the root to their sum and walks the
// tree downwards allocating each parent with its share model. Child half-widths
// are the parent's scaled by the square root of the share. Degenerate leaves,
// and every subtree holding only degenerate leaves, are forecast as zero.
func (m *Model) Predict(ctx context.Context, base *forecast.Frame) (*forecast.Frame, error) {
	f, err := m.idx.AlignFrame(base)
	if err != nil {
		return nil, err
	}
	paths := m.idx.Paths()
	n, off := len(paths), m.idx.LeafOffset()

	live := make([]bool, n)
	for j := 0; j < m.idx.NumLeaves(); j++ {
		live[off+j] = !f.Degenerate(off+j, m.opts.DegenerateEpsilon)
	}
	for i := off - 1; i >= 0; i-- {
		for _, c := range m.idx.Children(paths[i]) {
			live[i] = live[i] || live[m.idx.Position(c)]
		}
	}

	out := forecast.NewFrame(paths, f.Timestamps)
	err = workers.Each(ctx, f.Len(), m.opts.Workers, func(ctx context.Context, t int) error {
		mean := make([]float64, n)
		half := make([]float64, n)

		var sq float64
		for j := 0; j < m.idx.NumLeaves(); j++ {
			i := off + j
			if !live[i] {
				continue
			}
			mean[0] += m.correctLeaf(f, i, t, j)
			hw := math.Max((f.Upper[i][t]-f.Lower[i][t])/2, 0)
			sq += hw * hw
		}
		half[0] = math.Sqrt(sq)

		for i := 0; i < off; i++ {
			sm := m.shares[paths[i]]
			kids := make([]int, len(sm.Children))
			for c, child := range sm.Children {
				kids[c] = m.idx.Position(child)
			}
			shares := sm.predict(f, i, kids, t, m.opts.LogTransform)
			for c, ci := range kids {
				if !live[ci] {
					shares[c] = 0
				}
			}
			shares = normalizeShares(shares)
			for c, ci := range kids {
				mean[ci] = mean[i] * shares[c]
				half[ci] = half[i] * math.Sqrt(shares[c])
			}
		}

		for i := range mean {
			out.Mean[i][t] = mean[i]
			out.Lower[i][t] = math.Max(mean[i]-half[i], 0)
			out.Upper[i][t] = mean[i] + half[i]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// correctLeaf returns the regressor's non-negative estimate for leaf row i.
func (m *Model) correctLeaf(f *forecast.Frame, i, t, ordinal int) float64 {
	if m.leafModel == nil {
		return math.Max(f.Mean[i][t], 0)
	}
	v := m.leafModel.Predict(leafFeatures(f, i, t, ordinal, m.opts.LogTransform))
	if m.opts.LogTransform {
		v = math.Expm1(v)
	}
	return math.Max(v, 0)
}

func (sm *shareModel) predict(f *forecast.Frame, parent int, kids []int, t int, logT bool) []float64 {
	if sm.Model == nil {
		return append([]float64(nil), sm.Fallback...)
	}
	return sm.Model.PredictProba(shareFeatures(f, parent, kids, t, logT))
}
