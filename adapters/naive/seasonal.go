// Package naive provides a seasonal-naive ports.LeafForecaster.
package naive

import (
	"context"
	"math"
	"time"

	"github.com/montanaflynn/stats"

	"gohts/domain/core"
	"gohts/domain/forecast"
	"gohts/ports"
)

// SeasonalNaive repeats the last observed season. Intervals come from the
// spread of one-season differences and widen with each season ahead.
type SeasonalNaive struct {
	// Period is the season length in grid steps; seven for daily data.
	Period int
}

// New returns a forecaster with the given period, minimum one.
func New(period int) *SeasonalNaive {
	if period < 1 {
		period = 1
	}
	return &SeasonalNaive{Period: period}
}

func (s *SeasonalNaive) Forecast(ctx context.Context, h ports.History, horizon []time.Time) ([]ports.RawForecast, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := max(s.Period, 1)
	n := len(h.Values)

	var known stats.Float64Data
	for _, v := range h.Values {
		if !forecast.IsNull(v) {
			known = append(known, v)
		}
	}
	if len(known) == 0 {
		return nil, core.ErrInsufficientHistory
	}
	fallback, _ := stats.Mean(known)

	var diffs stats.Float64Data
	for t := m; t < n; t++ {
		a, b := h.Values[t], h.Values[t-m]
		if !forecast.IsNull(a) && !forecast.IsNull(b) {
			diffs = append(diffs, a-b)
		}
	}
	sigma := 0.0
	if len(diffs) > 1 {
		sigma, _ = stats.StandardDeviationSample(diffs)
	}

	out := make([]ports.RawForecast, len(horizon))
	for k, ts := range horizon {
		seasons := k/m + 1
		mean := fallback
		// Walk back whole seasons until a known value turns up.
		for t := n + k - seasons*m; t >= 0; t -= m {
			if t < n && !forecast.IsNull(h.Values[t]) {
				mean = h.Values[t]
				break
			}
		}
		half := forecast.Z95 * sigma * math.Sqrt(float64(seasons))
		out[k] = ports.RawForecast{
			DS:        ts,
			UniqueID:  h.Node,
			YHat:      mean,
			YHatLower: mean - half,
			YHatUpper: mean + half,
		}
	}
	return out, nil
}
