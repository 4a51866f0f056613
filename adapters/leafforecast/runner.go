package leafforecast

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"gohts/domain/core"
	"gohts/domain/forecast"
	"gohts/internal/errors"
	"gohts/internal/hierarchy"
	"gohts/internal/logging"
	"gohts/internal/workers"
	"gohts/ports"
)

// DefaultMinHistory is the fewest known points a node needs to be forecast.
const DefaultMinHistory = 2

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	MinHistory int
	Workers    int
	Progress   ports.ProgressObserver
}

// RunReport adds the nodes whose forecaster failed to the normalisation report.
type RunReport struct {
	Report
	Failed map[string]string `json:"failed,omitempty"`
}

// Runner forecasts every node of a hierarchy with one LeafForecaster.
type Runner struct {
	forecaster ports.LeafForecaster
	opts       RunnerOptions
	logger     zerolog.Logger
}

// NewRunner wraps f.
func NewRunner(f ports.LeafForecaster, opts RunnerOptions) *Runner {
	if opts.MinHistory <= 0 {
		opts.MinHistory = DefaultMinHistory
	}
	return &Runner{forecaster: f, opts: opts, logger: logging.Component("leafforecast")}
}

// Forecast runs the forecaster for every node over horizon. A node with too
// little history, or whose forecaster fails, gets a zero forecast and a
// warning; when no node could be forecast a total-failure error is returned.
func (r *Runner) Forecast(ctx context.Context, idx *hierarchy.Index, history *forecast.Actuals, horizon []time.Time) (*forecast.Frame, RunReport, error) {
	if len(horizon) == 0 {
		return nil, RunReport{}, errors.InvalidInput("empty forecast horizon")
	}
	truth := idx.AlignActuals(history)
	paths := idx.Paths()
	results := make([][]ports.RawForecast, len(paths))
	failures := make([]error, len(paths))
	var done atomic.Int64

	err := workers.Each(ctx, len(paths), r.opts.Workers, func(ctx context.Context, i int) error {
		node := paths[i]
		rows, err := r.forecastNode(ctx, node, truth.Timestamps, truth.Values[i], horizon)
		if err != nil {
			failures[i] = err
			r.logger.Warn().Err(err).Str("node", node).Msg("node forecast failed; using a zero forecast")
		} else {
			results[i] = rows
		}
		r.opts.Progress.Notify(ports.ProgressEvent{
			Stage: "leaf-forecast",
			Node:  node,
			Done:  int(done.Add(1)),
			Total: len(paths),
			Err:   err,
		})
		return ctx.Err()
	})
	if err != nil {
		return nil, RunReport{}, err
	}

	var raw []ports.RawForecast
	rep := RunReport{Failed: make(map[string]string)}
	for i, rows := range results {
		if failures[i] != nil {
			rep.Failed[paths[i]] = failures[i].Error()
			continue
		}
		raw = append(raw, rows...)
	}
	if len(rep.Failed) == len(paths) {
		r.logger.Error().Int("nodes", len(paths)).Msg("every node failed to forecast")
		return nil, rep, errors.TotalFailure(core.ErrNoTrainedNodes)
	}

	frame, norm := Normalize(raw, idx, horizon)
	rep.Report = norm
	return frame, rep, nil
}

func (r *Runner) forecastNode(ctx context.Context, node string, ts []time.Time, values []float64, horizon []time.Time) ([]ports.RawForecast, error) {
	known := 0
	for _, v := range values {
		if !forecast.IsNull(v) {
			known++
		}
	}
	if known < r.opts.MinHistory {
		return nil, fmt.Errorf("%w: %d known points, need %d", core.ErrInsufficientHistory, known, r.opts.MinHistory)
	}
	rows, err := r.forecaster.Forecast(ctx, ports.History{Node: node, Timestamps: ts, Values: values}, horizon)
	if err != nil {
		return nil, errors.NodeFitFailed(node, err)
	}
	for k := range rows {
		if rows[k].UniqueID == "" {
			rows[k].UniqueID = node
		}
	}
	return rows, nil
}

// Backtest produces out-of-sample forecasts for history positions [from, to)
// by rolling the origin forward step points at a time. Each block only sees
// the history before it.
func (r *Runner) Backtest(ctx context.Context, idx *hierarchy.Index, history *forecast.Actuals, from, to, step int) (*forecast.Frame, error) {
	if from < 1 || to > history.Len() || from >= to || step < 1 {
		return nil, errors.InvalidInput(fmt.Sprintf("invalid backtest range [%d, %d) step %d over %d points", from, to, step, history.Len()))
	}
	var out *forecast.Frame
	for origin := from; origin < to; origin += step {
		end := min(origin+step, to)
		block, _, err := r.Forecast(ctx, idx, history.Slice(0, origin), history.Timestamps[origin:end])
		if err != nil {
			return nil, errors.Wrapf(err, "backtest origin %s", history.Timestamps[origin].Format(time.DateOnly))
		}
		if out == nil {
			out = block
			continue
		}
		if out, err = forecast.Concat(out, block); err != nil {
			return nil, errors.WithCode(errors.CodeInternalError, err)
		}
	}
	return out, nil
}
