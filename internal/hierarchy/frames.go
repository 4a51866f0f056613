package hierarchy

import (
	"fmt"

	"gohts/domain/core"
	"gohts/domain/forecast"
	"gohts/internal/errors"
)

// AlignFrame returns f with its rows in index order. f may carry extra rows;
// a node of the index without a row is a shape error.
func (idx *Index) AlignFrame(f *forecast.Frame) (*forecast.Frame, error) {
	paths := idx.Paths()
	if sameOrder(paths, f.Nodes) {
		return f, nil
	}
	out := forecast.NewFrame(paths, f.Timestamps)
	for i, p := range paths {
		j := f.Position(p)
		if j < 0 {
			return nil, errors.Wrapf(errors.WithCode(errors.CodeInvalidInput, core.ErrShapeMismatch),
				"prediction frame has no row for node %q", p)
		}
		copy(out.Mean[i], f.Mean[j])
		copy(out.Lower[i], f.Lower[j])
		copy(out.Upper[i], f.Upper[j])
	}
	return out, nil
}

// AlignActuals returns a in index order; nodes absent from a are all null.
func (idx *Index) AlignActuals(a *forecast.Actuals) *forecast.Actuals {
	paths := idx.Paths()
	if sameOrder(paths, a.Nodes) {
		return a
	}
	out := forecast.NewActuals(paths, a.Timestamps)
	for i, p := range paths {
		if j := a.Position(p); j >= 0 {
			copy(out.Values[i], a.Values[j])
		}
	}
	return out
}

// CheckAdditive returns an error naming the first internal node whose mean
// differs from the sum of its children by more than tol.
func (idx *Index) CheckAdditive(f *forecast.Frame, tol float64) error {
	for _, parent := range idx.InternalBottomUp() {
		pi := f.Position(parent)
		if pi < 0 {
			return core.NewUnknownNodeError(parent)
		}
		var kids []int
		for _, c := range idx.Children(parent) {
			ci := f.Position(c)
			if ci < 0 {
				return core.NewUnknownNodeError(c)
			}
			kids = append(kids, ci)
		}
		for t := range f.Timestamps {
			sum := 0.0
			for _, ci := range kids {
				sum += f.Mean[ci][t]
			}
			if d := f.Mean[pi][t] - sum; d > tol || d < -tol {
				return fmt.Errorf("node %s at %s: mean %g, children sum %g",
					parent, f.Timestamps[t].Format("2006-01-02T15:04"), f.Mean[pi][t], sum)
			}
		}
	}
	return nil
}

func sameOrder(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
