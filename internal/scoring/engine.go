package scoring

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/montanaflynn/stats"

	"gohts/domain/core"
	"gohts/domain/forecast"
	"gohts/internal/errors"
)

// DefaultDegenerateEpsilon is the largest |mean| a never-trained forecaster produces.
const DefaultDegenerateEpsilon = 1e-6

// Aggregation reduces per-node metrics to one value per metric.
type Aggregation string

const (
	AggMean   Aggregation = "mean"
	AggMedian Aggregation = "median"
)

// Options controls scoring.
type Options struct {
	DegenerateEpsilon float64
	Aggregation       Aggregation
	// Nodes restricts scoring to these paths, which the caller has already
	// judged trained: they are scored even when the prediction is all zero.
	// Empty scores every node of the frame and excludes degenerate ones.
	Nodes []string
}

// DefaultOptions averages across nodes and uses DefaultDegenerateEpsilon.
func DefaultOptions() Options {
	return Options{DegenerateEpsilon: DefaultDegenerateEpsilon, Aggregation: AggMean}
}

// NodeScore holds the metrics of one node.
type NodeScore struct {
	Node       string             `json:"node"`
	N          int                `json:"n"`
	Degenerate bool               `json:"degenerate"`
	Metrics    map[Metric]float64 `json:"metrics,omitempty"`
}

// Summary is the aggregate over every scored node.
type Summary struct {
	Metrics  map[Metric]float64 `json:"metrics"`
	Nodes    int                `json:"nodes"`
	Excluded []string           `json:"excluded,omitempty"`
}

// Engine scores prediction frames against ground truth.
type Engine struct {
	opts Options
}

// NewEngine creates a scoring engine; zero-valued options take defaults.
func NewEngine(opts Options) *Engine {
	if opts.DegenerateEpsilon <= 0 {
		opts.DegenerateEpsilon = DefaultDegenerateEpsilon
	}
	if opts.Aggregation == "" {
		opts.Aggregation = AggMean
	}
	return &Engine{opts: opts}
}

// Score computes per-node metrics and their aggregate. Without an explicit
// node set, nodes whose predicted mean is all (near) zero are degenerate and
// excluded from the aggregate. Nodes without a single known actual are always
// excluded. When every node is degenerate the run has nothing to evaluate and
// a total-failure error is returned.
func (e *Engine) Score(pred *forecast.Frame, actuals *forecast.Actuals) ([]NodeScore, Summary, error) {
	truth := actuals.Align(pred.Timestamps)

	nodes := e.opts.Nodes
	checkDegenerate := len(nodes) == 0
	if checkDegenerate {
		nodes = pred.Nodes
	}

	scores := make([]NodeScore, 0, len(nodes))
	degenerate := 0
	for _, node := range nodes {
		i := pred.Position(node)
		if i < 0 {
			return nil, Summary{}, errors.WithCode(errors.CodeInvalidInput, core.NewUnknownNodeError(node))
		}
		ns := NodeScore{Node: node}
		if checkDegenerate && pred.Degenerate(i, e.opts.DegenerateEpsilon) {
			ns.Degenerate = true
			degenerate++
			scores = append(scores, ns)
			continue
		}
		var pairs []pair
		if j := truth.Position(node); j >= 0 {
			for t, a := range truth.Values[j] {
				if forecast.IsNull(a) {
					continue
				}
				pairs = append(pairs, pair{
					actual: a,
					mean:   pred.Mean[i][t],
					lower:  pred.Lower[i][t],
					upper:  pred.Upper[i][t],
				})
			}
		}
		ns.N = len(pairs)
		if ns.N > 0 {
			ns.Metrics = compute(pairs)
		}
		scores = append(scores, ns)
	}

	if len(nodes) > 0 && degenerate == len(nodes) {
		return scores, Summary{}, errors.TotalFailure(core.ErrNoTrainedNodes)
	}

	summary := e.aggregate(scores)
	if summary.Nodes == 0 {
		return scores, summary, errors.InvalidInput("no node has both a trained forecast and a known actual")
	}
	return scores, summary, nil
}

func (e *Engine) aggregate(scores []NodeScore) Summary {
	summary := Summary{Metrics: make(map[Metric]float64)}
	per := make(map[Metric]stats.Float64Data)
	for _, s := range scores {
		if s.Degenerate || s.N == 0 {
			summary.Excluded = append(summary.Excluded, s.Node)
			continue
		}
		summary.Nodes++
		for m, v := range s.Metrics {
			if !math.IsNaN(v) {
				per[m] = append(per[m], v)
			}
		}
	}
	sort.Strings(summary.Excluded)

	for _, m := range KnownMetrics() {
		data := per[m]
		var (
			v   float64
			err error
		)
		if e.opts.Aggregation == AggMedian {
			v, err = stats.Median(data)
		} else {
			v, err = stats.Mean(data)
		}
		if err != nil {
			v = math.NaN()
		}
		summary.Metrics[m] = v
	}
	return summary
}

// ScoreWith evaluates a decision function on a frame in one call.
func (e *Engine) ScoreWith(pred *forecast.Frame, actuals *forecast.Actuals, fn DecisionFunction) (float64, Summary, error) {
	_, summary, err := e.Score(pred, actuals)
	if err != nil {
		return math.Inf(1), summary, err
	}
	return fn.Evaluate(summary.Metrics), summary, nil
}

// FiniteMetrics drops NaN and infinite values, which JSON cannot encode.
func FiniteMetrics(m map[Metric]float64) map[Metric]float64 {
	if m == nil {
		return nil
	}
	out := make(map[Metric]float64, len(m))
	for k, v := range m {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out[k] = v
		}
	}
	return out
}

// MarshalJSON omits metrics without a finite value.
func (s Summary) MarshalJSON() ([]byte, error) {
	type plain Summary
	p := plain(s)
	p.Metrics = FiniteMetrics(s.Metrics)
	return json.Marshal(p)
}

// MarshalJSON omits metrics without a finite value.
func (n NodeScore) MarshalJSON() ([]byte, error) {
	type plain NodeScore
	p := plain(n)
	p.Metrics = FiniteMetrics(n.Metrics)
	return json.Marshal(p)
}
