package gbm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"gohts/internal/errors"
)

const (
	probFloor = 1e-9
	hessFloor = 1e-6
)

// Classifier is a softmax ensemble with one tree per class per round. It is
// trained on soft labels, so each row's target is a probability vector.
type Classifier struct {
	Classes int       `json:"classes"`
	Base    []float64 `json:"base"`
	// Rounds[r][k] is the tree of class k at round r.
	Rounds [][]*Tree `json:"rounds"`
}

// FitClassifier boosts a multi-class model on x with soft labels y; every
// row of y must be non-negative and sum to one.
func FitClassifier(x [][]float64, y [][]float64, p Params) (*Classifier, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if _, err := checkMatrix(x, len(y)); err != nil {
		return nil, err
	}
	k := len(y[0])
	if k < 2 {
		return nil, errors.InvalidInput(fmt.Sprintf("gbm: classifier needs at least 2 classes, got %d", k))
	}
	for i, row := range y {
		if len(row) != k {
			return nil, errors.InvalidInput(fmt.Sprintf("gbm: label row %d has %d classes, want %d", i, len(row), k))
		}
		if s := floats.Sum(row); math.Abs(s-1) > 1e-6 || floats.Min(row) < 0 {
			return nil, errors.InvalidInput(fmt.Sprintf("gbm: label row %d is not a distribution", i))
		}
	}

	n := len(y)
	c := &Classifier{Classes: k, Base: make([]float64, k)}
	for _, row := range y {
		floats.Add(c.Base, row)
	}
	for j := range c.Base {
		c.Base[j] = math.Log(c.Base[j]/float64(n) + probFloor)
	}

	logits := make([][]float64, n)
	for i := range logits {
		logits[i] = append([]float64(nil), c.Base...)
	}
	probs := make([]float64, k)
	grad := make([][]float64, k)
	hess := make([][]float64, k)
	for j := 0; j < k; j++ {
		grad[j] = make([]float64, n)
		hess[j] = make([]float64, n)
	}
	rows := allRows(n)

	for round := 0; round < p.NumRounds; round++ {
		for i := 0; i < n; i++ {
			softmax(logits[i], probs)
			for j := 0; j < k; j++ {
				grad[j][i] = probs[j] - y[i][j]
				hess[j][i] = math.Max(probs[j]*(1-probs[j]), hessFloor)
			}
		}
		trees := make([]*Tree, k)
		for j := 0; j < k; j++ {
			trees[j] = buildTree(x, grad[j], hess[j], rows, p)
		}
		c.Rounds = append(c.Rounds, trees)
		for i, row := range x {
			for j, t := range trees {
				logits[i][j] += t.Predict(row)
			}
		}
	}
	return c, nil
}

// PredictProba returns the class distribution for x.
func (c *Classifier) PredictProba(x []float64) []float64 {
	logits := append([]float64(nil), c.Base...)
	for _, trees := range c.Rounds {
		for j, t := range trees {
			logits[j] += t.Predict(x)
		}
	}
	out := make([]float64, c.Classes)
	softmax(logits, out)
	return out
}

// CrossEntropy is the mean soft-label log loss of the model on x, y.
func (c *Classifier) CrossEntropy(x [][]float64, y [][]float64) float64 {
	total := 0.0
	for i, row := range x {
		p := c.PredictProba(row)
		for j, target := range y[i] {
			total -= target * math.Log(math.Max(p[j], probFloor))
		}
	}
	return total / float64(len(x))
}

func softmax(logits, dst []float64) {
	m := floats.Max(logits)
	for j, v := range logits {
		dst[j] = math.Exp(v - m)
	}
	floats.Scale(1/floats.Sum(dst), dst)
}
