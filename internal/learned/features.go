package learned

import (
	"math"

	"gohts/domain/forecast"
)

// Feature layout of one (node, timestamp) row.
const (
	featDayOfWeek = iota
	featDayOfMonth
	featMonth
	featDayOfYear
	featMean
	featLower
	featUpper
	featWidth
	featLag1
	featLag7
	nodeFeatureCount
)

// FeatureNames lists the node feature columns in order.
var FeatureNames = []string{
	"day_of_week", "day_of_month", "month", "day_of_year",
	"mean", "lower", "upper", "width", "mean_lag1", "mean_lag7",
}

// nodeFeatures describes row i of f at timestamp t. Lags that fall before the
// frame start repeat the current mean. With logT every magnitude is log1p'd.
func nodeFeatures(f *forecast.Frame, i, t int, logT bool) []float64 {
	ts := f.Timestamps[t]
	row := make([]float64, nodeFeatureCount)
	row[featDayOfWeek] = float64(ts.Weekday())
	row[featDayOfMonth] = float64(ts.Day())
	row[featMonth] = float64(ts.Month())
	row[featDayOfYear] = float64(ts.YearDay())

	mean := f.Mean[i]
	lag := func(k int) float64 {
		if t-k < 0 {
			return mean[t]
		}
		return mean[t-k]
	}
	row[featMean] = magnitude(mean[t], logT)
	row[featLower] = magnitude(f.Lower[i][t], logT)
	row[featUpper] = magnitude(f.Upper[i][t], logT)
	row[featWidth] = magnitude(f.Upper[i][t]-f.Lower[i][t], logT)
	row[featLag1] = magnitude(lag(1), logT)
	row[featLag7] = magnitude(lag(7), logT)
	return row
}

// leafFeatures adds the leaf ordinal to the node features.
func leafFeatures(f *forecast.Frame, i, t, ordinal int, logT bool) []float64 {
	return append(nodeFeatures(f, i, t, logT), float64(ordinal))
}

// shareFeatures describes an internal node at t: its own features followed by
// each child's share of the children's base forecast sum.
func shareFeatures(f *forecast.Frame, parent int, children []int, t int, logT bool) []float64 {
	row := nodeFeatures(f, parent, t, logT)
	return append(row, baseShares(f, children, t)...)
}

// baseShares returns the children's shares of their summed base means,
// uniform when that sum is not positive.
func baseShares(f *forecast.Frame, children []int, t int) []float64 {
	out := make([]float64, len(children))
	sum := 0.0
	for k, c := range children {
		out[k] = math.Max(f.Mean[c][t], 0)
		sum += out[k]
	}
	for k := range out {
		if sum > 0 {
			out[k] /= sum
		} else {
			out[k] = 1 / float64(len(out))
		}
	}
	return out
}

func magnitude(v float64, logT bool) float64 {
	if math.IsNaN(v) {
		v = 0
	}
	if logT {
		return math.Log1p(math.Max(v, 0))
	}
	return v
}
