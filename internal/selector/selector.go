// Package selector picks the reconciliation method that minimises a decision
// function on held-out data.
package selector

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"gohts/domain/core"
	"gohts/domain/forecast"
	"gohts/internal/errors"
	"gohts/internal/hierarchy"
	"gohts/internal/logging"
	"gohts/internal/reconcile"
	"gohts/internal/scoring"
	"gohts/internal/workers"
	"gohts/ports"
)

// Baseline is the ranking name of the unreconciled forecasts.
const Baseline = "unreconciled"

// Entry is one ranked candidate.
type Entry struct {
	Name     string                     `json:"name"`
	Method   reconcile.Method           `json:"method,omitempty"`
	Score    float64                    `json:"score"`
	Baseline bool                       `json:"baseline,omitempty"`
	Metrics  map[scoring.Metric]float64 `json:"metrics,omitempty"`
	Error    string                     `json:"error,omitempty"`

	order int
}

// Choice is the selected reconciler with the evidence behind it.
type Choice struct {
	RunID            core.RunID         `json:"run_id"`
	Hierarchy        core.HierarchyHash `json:"hierarchy"`
	Method           reconcile.Method   `json:"method"`
	Score            float64            `json:"score"`
	BaselineScore    float64            `json:"baseline_score"`
	BaselineBest     bool               `json:"baseline_best"`
	DecisionFunction string             `json:"decision_function"`
	Ranking          []Entry            `json:"ranking"`
	Dropped          []Entry            `json:"dropped,omitempty"`
	Excluded         []string           `json:"excluded_nodes,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
}

// Options configures a Selector.
type Options struct {
	Candidates []reconcile.Method
	Decision   scoring.DecisionFunction
	Scoring    scoring.Options
	Reconcile  reconcile.Options
	Workers    int
	Progress   ports.ProgressObserver
}

// Inputs are the windows a selection is evaluated on. Train and TrainActuals
// feed Fit; a nil TrainActuals drops candidates that need history.
type Inputs struct {
	Index             *hierarchy.Index
	Train             *forecast.Frame
	TrainActuals      *forecast.Actuals
	Validation        *forecast.Frame
	ValidationActuals *forecast.Actuals
}

// Selector evaluates candidate methods against the unreconciled baseline.
type Selector struct {
	opts   Options
	logger zerolog.Logger
}

// New rejects an empty candidate list or an invalid candidate.
func New(opts Options) (*Selector, error) {
	if len(opts.Candidates) == 0 {
		return nil, errors.ConfigInvalid("reconciler selection needs at least one candidate")
	}
	for _, m := range opts.Candidates {
		if err := m.Validate(); err != nil {
			return nil, err
		}
	}
	if len(opts.Decision.Terms) == 0 {
		opts.Decision = scoring.DefaultDecisionFunction()
	}
	return &Selector{opts: opts, logger: logging.Component("selector")}, nil
}

// Select scores every candidate and the baseline on the validation window and
// returns the best reconciler. Nodes whose base forecast is degenerate are
// excluded from every score. When the baseline ranks first the runner-up is
// returned so that callers always receive a reconciliation method.
func (s *Selector) Select(ctx context.Context, in Inputs) (*Choice, error) {
	if in.Index == nil || in.Validation == nil || in.ValidationActuals == nil {
		return nil, errors.InvalidInput("selection needs a hierarchy, validation forecasts and validation actuals")
	}

	baseline, err := in.Index.AlignFrame(in.Validation)
	if err != nil {
		return nil, err
	}
	nodeScores, _, err := scoring.NewEngine(s.opts.Scoring).Score(baseline, in.ValidationActuals)
	if err != nil {
		return nil, errors.Wrap(err, "score unreconciled baseline")
	}
	opts := s.opts.Scoring
	opts.Nodes = nil
	var excluded []string
	for _, ns := range nodeScores {
		if ns.Degenerate {
			excluded = append(excluded, ns.Node)
			continue
		}
		opts.Nodes = append(opts.Nodes, ns.Node)
	}
	engine := scoring.NewEngine(opts)

	base := Entry{Name: Baseline, Baseline: true, order: -1}
	var summary scoring.Summary
	base.Score, summary, err = engine.ScoreWith(baseline, in.ValidationActuals, s.opts.Decision)
	if err != nil {
		return nil, errors.Wrap(err, "score unreconciled baseline")
	}
	base.Metrics = summary.Metrics

	entries := make([]Entry, len(s.opts.Candidates))
	var done atomic.Int64
	total := len(s.opts.Candidates)
	err = workers.Each(ctx, total, s.opts.Workers, func(ctx context.Context, i int) error {
		entries[i] = s.evaluate(ctx, i, in, engine)
		var evErr error
		if entries[i].Error != "" {
			evErr = fmt.Errorf("%s", entries[i].Error)
		}
		s.opts.Progress.Notify(ports.ProgressEvent{
			Stage: "select",
			Node:  entries[i].Name,
			Done:  int(done.Add(1)),
			Total: total,
			Err:   evErr,
		})
		return ctx.Err()
	})
	if err != nil {
		return nil, err
	}

	ranking := []Entry{base}
	var dropped []Entry
	for _, e := range entries {
		if e.Error != "" {
			dropped = append(dropped, e)
			continue
		}
		ranking = append(ranking, e)
	}
	if len(ranking) == 1 {
		return nil, errors.TotalFailure(fmt.Errorf("none of %d candidate reconcilers could be evaluated", total))
	}
	Rank(ranking)

	choice := &Choice{
		RunID:            core.NewRunID(),
		Hierarchy:        in.Index.Fingerprint(),
		BaselineScore:    base.Score,
		DecisionFunction: s.opts.Decision.String(),
		Ranking:          ranking,
		Dropped:          dropped,
		Excluded:         excluded,
		CreatedAt:        time.Now().UTC(),
	}
	winner := ranking[0]
	if winner.Baseline {
		choice.BaselineBest = true
		winner = ranking[1]
		s.logger.Warn().
			Float64("baseline_score", base.Score).
			Str("fallback", winner.Name).
			Float64("fallback_score", winner.Score).
			Msg("unreconciled forecasts scored best; reconciliation added no value, using the runner-up")
	}
	choice.Method = winner.Method
	choice.Score = winner.Score

	s.logger.Info().
		Str("method", winner.Name).
		Float64("score", winner.Score).
		Int("candidates", total).
		Int("dropped", len(dropped)).
		Msg("reconciler selected")
	return choice, nil
}

func (s *Selector) evaluate(ctx context.Context, i int, in Inputs, engine *scoring.Engine) Entry {
	m := s.opts.Candidates[i]
	e := Entry{Name: m.String(), Method: m, Score: math.Inf(1), order: i}
	fail := func(err error) Entry {
		e.Error = err.Error()
		s.logger.Warn().Err(err).Str("method", e.Name).Msg("candidate dropped")
		return e
	}

	r, err := reconcile.New(in.Index, m, s.opts.Reconcile)
	if err != nil {
		return fail(err)
	}
	fitted, err := r.Fit(ctx, in.Train, in.TrainActuals)
	if err != nil {
		return fail(err)
	}
	out, err := fitted.Reconcile(ctx, in.Validation)
	if err != nil {
		return fail(err)
	}
	score, summary, err := engine.ScoreWith(out, in.ValidationActuals, s.opts.Decision)
	if err != nil {
		return fail(err)
	}
	e.Method = fitted.Method()
	e.Score = score
	e.Metrics = summary.Metrics
	return e
}

// MarshalJSON leaves out a non-finite score and non-finite metrics.
func (e Entry) MarshalJSON() ([]byte, error) {
	type plain Entry
	out := struct {
		plain
		Score *float64 `json:"score,omitempty"`
	}{plain: plain(e)}
	out.Metrics = scoring.FiniteMetrics(e.Metrics)
	if !math.IsInf(e.Score, 0) && !math.IsNaN(e.Score) {
		out.Score = &e.Score
	}
	return json.Marshal(out)
}

// MarshalJSON leaves out a non-finite baseline score.
func (c Choice) MarshalJSON() ([]byte, error) {
	type plain Choice
	out := struct {
		plain
		BaselineScore *float64 `json:"baseline_score,omitempty"`
	}{plain: plain(c)}
	if !math.IsInf(c.BaselineScore, 0) && !math.IsNaN(c.BaselineScore) {
		out.BaselineScore = &c.BaselineScore
	}
	return json.Marshal(out)
}

// Rank sorts entries by ascending score. Ties go to non-baseline entries, then
// to the earlier candidate.
func Rank(entries []Entry) {
	sort.SliceStable(entries, func(a, b int) bool {
		x, y := entries[a], entries[b]
		if x.Score != y.Score {
			return x.Score < y.Score
		}
		if x.Baseline != y.Baseline {
			return !x.Baseline
		}
		return x.order < y.order
	})
}
