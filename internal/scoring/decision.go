package scoring

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gohts/internal/errors"
)

// Term is one weighted metric of a decision function.
type Term struct {
	Weight float64
	Metric Metric
}

// DecisionFunction is a weighted sum of metrics; lower is better.
type DecisionFunction struct {
	Terms []Term
}

// DefaultDecisionFunction is 0.5·RMSE + 0.5·MAE.
func DefaultDecisionFunction() DecisionFunction {
	return DecisionFunction{Terms: []Term{{Weight: 0.5, Metric: RMSE}, {Weight: 0.5, Metric: MAE}}}
}

// ParseDecisionFunction parses expressions such as "0.5*rmse + 0.5*mae",
// "rmse", "mae*2 - 0.1*coverage". An empty expression yields the default.
func ParseDecisionFunction(expr string) (DecisionFunction, error) {
	s := strings.ToLower(strings.Join(strings.Fields(expr), ""))
	if s == "" {
		return DefaultDecisionFunction(), nil
	}

	var terms []Term
	for _, raw := range splitTerms(s) {
		sign := 1.0
		switch {
		case strings.HasPrefix(raw, "-"):
			sign, raw = -1, raw[1:]
		case strings.HasPrefix(raw, "+"):
			raw = raw[1:]
		}
		term, err := parseTerm(raw)
		if err != nil {
			return DecisionFunction{}, errors.Wrapf(errors.ConfigInvalid(err.Error()), "decision function %q", expr)
		}
		term.Weight *= sign
		terms = append(terms, term)
	}
	return DecisionFunction{Terms: terms}, nil
}

// splitTerms cuts s before every top-level sign that is not an exponent sign.
func splitTerms(s string) []string {
	var out []string
	start := 0
	for i := 1; i < len(s); i++ {
		if s[i] != '+' && s[i] != '-' {
			continue
		}
		if (s[i-1] == 'e') && i >= 2 && s[i-2] >= '0' && s[i-2] <= '9' {
			continue
		}
		if s[i-1] == '*' {
			continue
		}
		out = append(out, s[start:i])
		start = i
	}
	return append(out, s[start:])
}

func parseTerm(raw string) (Term, error) {
	if raw == "" {
		return Term{}, fmt.Errorf("empty term")
	}
	weight := 1.0
	var metric Metric
	for _, factor := range strings.Split(raw, "*") {
		if factor == "" {
			return Term{}, fmt.Errorf("malformed term %q", raw)
		}
		if w, err := strconv.ParseFloat(factor, 64); err == nil {
			weight *= w
			continue
		}
		if metric != "" {
			return Term{}, fmt.Errorf("term %q multiplies two metrics", raw)
		}
		metric = Metric(factor)
		if !IsKnown(metric) {
			return Term{}, fmt.Errorf("unknown metric %q", factor)
		}
	}
	if metric == "" {
		return Term{}, fmt.Errorf("term %q names no metric", raw)
	}
	return Term{Weight: weight, Metric: metric}, nil
}

// Evaluate applies the function to aggregate metrics. A missing or NaN metric
// with a non-zero weight yields +Inf so the candidate can never win.
func (d DecisionFunction) Evaluate(metrics map[Metric]float64) float64 {
	total := 0.0
	for _, t := range d.Terms {
		if t.Weight == 0 {
			continue
		}
		v, ok := metrics[t.Metric]
		if !ok || math.IsNaN(v) {
			return math.Inf(1)
		}
		total += t.Weight * v
	}
	return total
}

func (d DecisionFunction) String() string {
	parts := make([]string, len(d.Terms))
	for i, t := range d.Terms {
		parts[i] = strconv.FormatFloat(t.Weight, 'g', -1, 64) + "*" + string(t.Metric)
	}
	return strings.Join(parts, " + ")
}
