// Package leafforecast turns an external forecaster's output into the canonical
// per-node prediction frame, and drives a ports.LeafForecaster across a hierarchy.
package leafforecast

import (
	"math"
	"sort"
	"time"

	"gohts/domain/forecast"
	"gohts/internal/hierarchy"
	"gohts/ports"
)

// Report describes the repairs Normalize applied.
type Report struct {
	// Untrained lists nodes absent from the raw output; they are zero-filled.
	Untrained []string `json:"untrained,omitempty"`
	// Missing counts (node, timestamp) cells of trained nodes without a row.
	Missing   int `json:"missing"`
	Skipped   int `json:"skipped"`
	Clamped   int `json:"clamped"`
	Repaired  int `json:"repaired"`
	NonFinite int `json:"non_finite"`
}

// Normalize places raw rows on the idx × calendar grid. Negative values are
// clamped to zero, inverted bounds are swapped and widened to contain the mean,
// non-finite values become zero. Rows for unknown nodes or timestamps are
// skipped; a later duplicate row wins.
func Normalize(raw []ports.RawForecast, idx *hierarchy.Index, calendar []time.Time) (*forecast.Frame, Report) {
	var rep Report
	f := forecast.NewFrame(idx.Paths(), calendar)
	tpos := make(map[int64]int, len(calendar))
	for t, ts := range calendar {
		tpos[ts.UnixNano()] = t
	}
	seen := make([][]bool, len(f.Nodes))
	for i := range seen {
		seen[i] = make([]bool, len(calendar))
	}

	for _, r := range raw {
		i := f.Position(r.UniqueID)
		t, ok := tpos[r.DS.UnixNano()]
		if i < 0 || !ok {
			rep.Skipped++
			continue
		}
		mean, lo, hi := rep.finite(r.YHat), rep.finite(r.YHatLower), rep.finite(r.YHatUpper)
		if mean < 0 || lo < 0 || hi < 0 {
			rep.Clamped++
			mean, lo, hi = math.Max(mean, 0), math.Max(lo, 0), math.Max(hi, 0)
		}
		if lo > hi {
			rep.Repaired++
			lo, hi = hi, lo
		}
		f.Mean[i][t] = mean
		f.Lower[i][t] = math.Min(lo, mean)
		f.Upper[i][t] = math.Max(hi, mean)
		seen[i][t] = true
	}

	for i, node := range f.Nodes {
		n := 0
		for _, ok := range seen[i] {
			if ok {
				n++
			}
		}
		switch n {
		case 0:
			rep.Untrained = append(rep.Untrained, node)
		case len(calendar):
		default:
			rep.Missing += len(calendar) - n
		}
	}
	sort.Strings(rep.Untrained)
	return f, rep
}

func (r *Report) finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		r.NonFinite++
		return 0
	}
	return v
}
