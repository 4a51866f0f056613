// Package scoring measures forecast error per hierarchy node and reduces it to
// a single comparable score.
package scoring

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"
)

// Metric names an error measure.
type Metric string

const (
	RMSE     Metric = "rmse"
	MAE      Metric = "mae"
	MAPE     Metric = "mape"
	SMAPE    Metric = "smape"
	Bias     Metric = "bias"
	Coverage Metric = "coverage"
	Width    Metric = "width"
)

var known = map[Metric]struct{}{
	RMSE: {}, MAE: {}, MAPE: {}, SMAPE: {}, Bias: {}, Coverage: {}, Width: {},
}

// KnownMetrics lists every metric in a stable order.
func KnownMetrics() []Metric {
	out := make([]Metric, 0, len(known))
	for m := range known {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsKnown reports whether m is a supported metric.
func IsKnown(m Metric) bool {
	_, ok := known[m]
	return ok
}

// pair is one timestamp with a known actual.
type pair struct {
	actual, mean, lower, upper float64
}

// compute returns every metric over pairs; pairs must be non-empty.
func compute(pairs []pair) map[Metric]float64 {
	sq := make(stats.Float64Data, len(pairs))
	abs := make(stats.Float64Data, len(pairs))
	signed := make(stats.Float64Data, len(pairs))
	sym := make(stats.Float64Data, len(pairs))
	covered := make(stats.Float64Data, len(pairs))
	width := make(stats.Float64Data, len(pairs))
	var pct stats.Float64Data

	for k, p := range pairs {
		e := p.mean - p.actual
		sq[k] = e * e
		abs[k] = math.Abs(e)
		signed[k] = e
		if denom := math.Abs(p.actual) + math.Abs(p.mean); denom > 0 {
			sym[k] = 2 * math.Abs(e) / denom
		}
		if p.actual >= p.lower && p.actual <= p.upper {
			covered[k] = 1
		}
		width[k] = p.upper - p.lower
		if p.actual != 0 {
			pct = append(pct, math.Abs(e)/math.Abs(p.actual))
		}
	}

	mean := func(d stats.Float64Data) float64 {
		m, err := stats.Mean(d)
		if err != nil {
			return math.NaN()
		}
		return m
	}
	return map[Metric]float64{
		RMSE:     math.Sqrt(mean(sq)),
		MAE:      mean(abs),
		MAPE:     mean(pct),
		SMAPE:    mean(sym),
		Bias:     mean(signed),
		Coverage: mean(covered),
		Width:    mean(width),
	}
}
