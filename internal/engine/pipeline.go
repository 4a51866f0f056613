package engine

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"gohts/domain/core"
	"gohts/domain/forecast"
	"gohts/internal/errors"
	"gohts/internal/hierarchy"
	"gohts/internal/learned"
	"gohts/internal/logging"
	"gohts/internal/reconcile"
	"gohts/internal/scoring"
	"gohts/internal/selector"
	"gohts/ports"
)

// Settings carries every tunable of a pipeline run.
type Settings struct {
	Candidates []reconcile.Method
	Decision   scoring.DecisionFunction
	Scoring    scoring.Options
	Reconcile  reconcile.Options
	Learned    learned.Options
	Workers    int
	Progress   ports.ProgressObserver
}

// DefaultSettings evaluates DefaultCandidates with the default decision function.
func DefaultSettings() Settings {
	return Settings{
		Candidates: DefaultCandidates(),
		Decision:   scoring.DefaultDecisionFunction(),
		Scoring:    scoring.DefaultOptions(),
		Reconcile:  reconcile.Options{Bootstrap: reconcile.DefaultBootstrapConfig()},
		Learned:    learned.DefaultOptions(),
	}
}

// Inputs are the three prediction windows of one run. Strategy nil means the
// selector picks among Settings.Candidates on the validation window. Test may
// lie beyond the known actuals, in which case the run is not scored. An empty
// RunID is generated.
type Inputs struct {
	RunID      core.RunID
	Index      *hierarchy.Index
	Train      *forecast.Frame
	Validation *forecast.Frame
	Test       *forecast.Frame
	Actuals    *forecast.Actuals
	Strategy   *Strategy
}

// Result is the outcome of Pipeline.Run.
type Result struct {
	RunID      core.RunID           `json:"run_id"`
	Strategy   Strategy             `json:"strategy"`
	Reconciler string               `json:"reconciler"`
	Choice     *selector.Choice     `json:"choice,omitempty"`
	Reconciled *forecast.Frame      `json:"-"`
	Output     []forecast.OutputRow `json:"output"`
	NodeScores []scoring.NodeScore  `json:"node_scores,omitempty"`
	Summary    *scoring.Summary     `json:"summary,omitempty"`
	Baseline   *scoring.Summary     `json:"baseline,omitempty"`
	Score      float64              `json:"score,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
}

// MarshalJSON leaves out a non-finite score.
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	out := struct {
		plain
		Score *float64 `json:"score,omitempty"`
	}{plain: plain(r)}
	if r.Summary != nil && !math.IsNaN(r.Score) && !math.IsInf(r.Score, 0) {
		out.Score = &r.Score
	}
	return json.Marshal(out)
}

// Pipeline runs select, refit, predict and score.
type Pipeline struct {
	settings Settings
	repo     ports.ForecastRepository
	logger   zerolog.Logger
}

// NewPipeline returns a pipeline; repo may be nil.
func NewPipeline(settings Settings, repo ports.ForecastRepository) *Pipeline {
	if len(settings.Decision.Terms) == 0 {
		settings.Decision = scoring.DefaultDecisionFunction()
	}
	if len(settings.Candidates) == 0 {
		settings.Candidates = DefaultCandidates()
	}
	if settings.Reconcile.Bootstrap.Workers == 0 {
		settings.Reconcile.Bootstrap.Workers = settings.Workers
	}
	if settings.Learned.Workers == 0 {
		settings.Learned.Workers = settings.Workers
	}
	if settings.Learned.Progress == nil {
		settings.Learned.Progress = settings.Progress
	}
	return &Pipeline{settings: settings, repo: repo, logger: logging.Component("engine")}
}

// Settings returns the effective settings.
func (p *Pipeline) Settings() Settings { return p.settings }

// Run executes one end-to-end reconciliation.
func (p *Pipeline) Run(ctx context.Context, in Inputs) (*Result, error) {
	if in.Index == nil || in.Test == nil {
		return nil, errors.InvalidInput("a run needs a hierarchy and test forecasts")
	}
	if in.Train == nil && in.Validation == nil {
		return nil, errors.InvalidInput("a run needs a training or validation window")
	}
	test, err := in.Index.AlignFrame(in.Test)
	if err != nil {
		return nil, err
	}

	res := &Result{RunID: in.RunID, CreatedAt: time.Now().UTC()}
	if res.RunID == "" {
		res.RunID = core.NewRunID()
	}
	logger := p.logger.With().Str("run_id", res.RunID.String()).Logger()

	strategy, err := p.strategy(ctx, in, res)
	if err != nil {
		return nil, err
	}
	res.Strategy = strategy

	rec, err := NewReconciler(strategy, p.settings)
	if err != nil {
		return nil, err
	}
	if err := rec.Fit(ctx, TrainingData{
		Index:      in.Index,
		Train:      in.Train,
		Validation: in.Validation,
		Actuals:    in.Actuals,
	}); err != nil {
		logger.Error().Err(err).Str("strategy", strategy.String()).Msg("refit failed")
		return nil, err
	}
	res.Reconciler = rec.Name()

	out, err := rec.Predict(ctx, test)
	if err != nil {
		return nil, err
	}
	res.Reconciled = out
	if res.Output, err = ToOutput(in.Index, out); err != nil {
		return nil, err
	}

	if err := p.score(in, test, out, res); err != nil {
		return nil, err
	}

	if p.repo != nil {
		if err := p.persist(ctx, res); err != nil {
			return nil, err
		}
	}

	ev := logger.Info().
		Str("strategy", res.Strategy.String()).
		Str("reconciler", res.Reconciler).
		Int("rows", len(res.Output))
	if res.Summary != nil {
		ev = ev.Float64("score", res.Score)
	}
	ev.Msg("reconciliation run complete")
	return res, nil
}

func (p *Pipeline) strategy(ctx context.Context, in Inputs, res *Result) (Strategy, error) {
	if in.Strategy != nil {
		return *in.Strategy, nil
	}
	if in.Validation == nil || in.Actuals == nil {
		return Strategy{}, errors.InvalidInput("automatic selection needs a validation window and actuals")
	}
	sel, err := selector.New(selector.Options{
		Candidates: p.settings.Candidates,
		Decision:   p.settings.Decision,
		Scoring:    p.settings.Scoring,
		Reconcile:  p.settings.Reconcile,
		Workers:    p.settings.Workers,
		Progress:   p.settings.Progress,
	})
	if err != nil {
		return Strategy{}, err
	}
	fitWindow := in.Train
	if fitWindow == nil {
		fitWindow = in.Validation
	}
	choice, err := sel.Select(ctx, selector.Inputs{
		Index:             in.Index,
		Train:             fitWindow,
		TrainActuals:      in.Actuals,
		Validation:        in.Validation,
		ValidationActuals: in.Actuals,
	})
	if err != nil {
		return Strategy{}, err
	}
	choice.RunID = res.RunID
	res.Choice = choice
	return Linear(choice.Method), nil
}

// score evaluates the reconciled and unreconciled test frames on the nodes
// whose base forecast was trained. Without a known actual in the test window
// the run is a pure forecast and is left unscored.
func (p *Pipeline) score(in Inputs, base, out *forecast.Frame, res *Result) error {
	if in.Actuals == nil || !hasKnown(in.Actuals.Align(base.Timestamps)) {
		return nil
	}
	nodeScores, baseSummary, err := scoring.NewEngine(p.settings.Scoring).Score(base, in.Actuals)
	if err != nil {
		return errors.Wrap(err, "score unreconciled test forecasts")
	}
	opts := p.settings.Scoring
	opts.Nodes = nil
	var untrained []string
	for _, ns := range nodeScores {
		if ns.Degenerate {
			untrained = append(untrained, ns.Node)
			continue
		}
		opts.Nodes = append(opts.Nodes, ns.Node)
	}
	scores, summary, err := scoring.NewEngine(opts).Score(out, in.Actuals)
	if err != nil {
		return errors.Wrap(err, "score reconciled test forecasts")
	}
	summary.Excluded = mergeSorted(summary.Excluded, untrained)
	res.NodeScores = scores
	res.Summary = &summary
	res.Baseline = &baseSummary
	res.Score = p.settings.Decision.Evaluate(res.Summary.Metrics)
	return nil
}

func (p *Pipeline) persist(ctx context.Context, res *Result) error {
	if err := p.repo.SaveOutput(ctx, res.RunID, res.Output); err != nil {
		return errors.Wrap(err, "save reconciled output")
	}
	if res.Choice == nil {
		return nil
	}
	payload, err := MarshalChoice(res.Choice)
	if err != nil {
		return err
	}
	return p.repo.SaveChoice(ctx, ports.ChoiceRecord{
		RunID:     res.RunID,
		Method:    res.Choice.Method.String(),
		Score:     res.Choice.Score,
		Payload:   payload,
		CreatedAt: res.Choice.CreatedAt,
	})
}

func mergeSorted(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string(nil), a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func hasKnown(a *forecast.Actuals) bool {
	for _, row := range a.Values {
		for _, v := range row {
			if !forecast.IsNull(v) {
				return true
			}
		}
	}
	return false
}
