// Package gbm implements second-order gradient-boosted regression trees: a
// squared-loss regressor with early stopping and a soft-label softmax classifier.
package gbm

import (
	"fmt"
	"math"
	"sort"

	"gohts/internal/errors"
)

// Params controls boosting.
type Params struct {
	NumRounds    int     `json:"num_rounds" yaml:"num_rounds"`
	LearningRate float64 `json:"learning_rate" yaml:"learning_rate"`
	MaxDepth     int     `json:"max_depth" yaml:"max_depth"`
	// MinChildWeight is the smallest hessian sum a split may leave on either side.
	MinChildWeight float64 `json:"min_child_weight" yaml:"min_child_weight"`
	// Lambda is the L2 penalty on leaf values.
	Lambda       float64 `json:"lambda" yaml:"lambda"`
	MinSplitGain float64 `json:"min_split_gain" yaml:"min_split_gain"`
	// EarlyStoppingRounds stops boosting after this many rounds without a
	// validation improvement. Zero disables early stopping.
	EarlyStoppingRounds int `json:"early_stopping_rounds" yaml:"early_stopping_rounds"`
}

// DefaultParams returns shallow trees with moderate shrinkage.
func DefaultParams() Params {
	return Params{
		NumRounds:           200,
		LearningRate:        0.1,
		MaxDepth:            3,
		MinChildWeight:      1,
		Lambda:              1,
		EarlyStoppingRounds: 10,
	}
}

// Validate rejects settings boosting cannot run with.
func (p Params) Validate() error {
	switch {
	case p.NumRounds < 1:
		return errors.ConfigInvalid(fmt.Sprintf("gbm: num_rounds must be positive, got %d", p.NumRounds))
	case p.LearningRate <= 0 || p.LearningRate > 1:
		return errors.ConfigInvalid(fmt.Sprintf("gbm: learning_rate must be in (0, 1], got %g", p.LearningRate))
	case p.MaxDepth < 1:
		return errors.ConfigInvalid(fmt.Sprintf("gbm: max_depth must be positive, got %d", p.MaxDepth))
	case p.Lambda < 0 || p.MinChildWeight < 0 || p.MinSplitGain < 0 || p.EarlyStoppingRounds < 0:
		return errors.ConfigInvalid("gbm: lambda, min_child_weight, min_split_gain and early_stopping_rounds must be non-negative")
	}
	return nil
}

type treeNode struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Leaf      bool    `json:"leaf"`
	Value     float64 `json:"v"`
}

// Tree is one regression tree; node 0 is the root.
type Tree struct {
	Nodes []treeNode `json:"nodes"`
}

// Predict walks x down the tree. Values <= threshold go left.
func (t *Tree) Predict(x []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Leaf {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Depth returns the number of split levels.
func (t *Tree) Depth() int {
	var walk func(i int) int
	walk = func(i int) int {
		n := t.Nodes[i]
		if n.Leaf {
			return 0
		}
		return 1 + max(walk(n.Left), walk(n.Right))
	}
	return walk(0)
}

type split struct {
	feature   int
	threshold float64
	gain      float64
	left      []int
	right     []int
}

// buildTree grows a tree on gradients and hessians; leaf values already
// include the learning rate.
func buildTree(x [][]float64, grad, hess []float64, rows []int, p Params) *Tree {
	t := &Tree{}
	t.grow(x, grad, hess, rows, 0, p)
	return t
}

func (t *Tree) grow(x [][]float64, grad, hess []float64, rows []int, depth int, p Params) int {
	g, h := 0.0, 0.0
	for _, r := range rows {
		g += grad[r]
		h += hess[r]
	}
	id := len(t.Nodes)
	t.Nodes = append(t.Nodes, treeNode{Leaf: true, Value: -g / (h + p.Lambda) * p.LearningRate})

	if depth >= p.MaxDepth || len(rows) < 2 {
		return id
	}
	best, ok := bestSplit(x, grad, hess, rows, g, h, p)
	if !ok {
		return id
	}
	left := t.grow(x, grad, hess, best.left, depth+1, p)
	right := t.grow(x, grad, hess, best.right, depth+1, p)
	t.Nodes[id] = treeNode{Feature: best.feature, Threshold: best.threshold, Left: left, Right: right}
	return id
}

func bestSplit(x [][]float64, grad, hess []float64, rows []int, g, h float64, p Params) (split, bool) {
	parent := g * g / (h + p.Lambda)
	best := split{gain: p.MinSplitGain}
	found := false
	sorted := make([]int, len(rows))

	for f := range x[rows[0]] {
		copy(sorted, rows)
		sort.Slice(sorted, func(a, b int) bool { return x[sorted[a]][f] < x[sorted[b]][f] })

		gl, hl := 0.0, 0.0
		for k := 0; k < len(sorted)-1; k++ {
			r := sorted[k]
			gl += grad[r]
			hl += hess[r]
			v, next := x[r][f], x[sorted[k+1]][f]
			if v == next {
				continue
			}
			hr := h - hl
			if hl < p.MinChildWeight || hr < p.MinChildWeight {
				continue
			}
			gr := g - gl
			gain := 0.5 * (gl*gl/(hl+p.Lambda) + gr*gr/(hr+p.Lambda) - parent)
			if gain > best.gain {
				best = split{feature: f, threshold: v + (next-v)/2, gain: gain}
				found = true
			}
		}
	}
	if !found {
		return split{}, false
	}
	for _, r := range rows {
		if x[r][best.feature] <= best.threshold {
			best.left = append(best.left, r)
		} else {
			best.right = append(best.right, r)
		}
	}
	return best, true
}

// checkMatrix validates a row-major design matrix.
func checkMatrix(x [][]float64, n int) (int, error) {
	if len(x) == 0 {
		return 0, errors.InvalidInput("gbm: no training rows")
	}
	if len(x) != n {
		return 0, errors.InvalidInput(fmt.Sprintf("gbm: %d rows but %d targets", len(x), n))
	}
	width := len(x[0])
	if width == 0 {
		return 0, errors.InvalidInput("gbm: rows have no features")
	}
	for i, row := range x {
		if len(row) != width {
			return 0, errors.InvalidInput(fmt.Sprintf("gbm: row %d has %d features, want %d", i, len(row), width))
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return 0, errors.InvalidInput(fmt.Sprintf("gbm: row %d has a non-finite feature", i))
			}
		}
	}
	return width, nil
}

func allRows(n int) []int {
	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}
	return rows
}
