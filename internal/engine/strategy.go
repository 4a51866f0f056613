// Package engine runs the reconciliation pipeline: strategy selection, refit on
// train+validation, prediction and scoring, and the integer output contract.
package engine

import (
	"strings"

	"gohts/internal/errors"
	"gohts/internal/reconcile"
)

// Kind enumerates the reconciliation strategies.
type Kind string

const (
	KindBottomUp Kind = Kind(reconcile.KindBottomUp)
	KindTopDown  Kind = Kind(reconcile.KindTopDown)
	KindMinTrace Kind = Kind(reconcile.KindMinTrace)
	KindLearned  Kind = "learned"
)

// Strategy is a closed variant: a linear reconcile.Method, or the learned cascade.
type Strategy struct {
	Kind   Kind
	Method reconcile.Method
}

// Learned is the boosted-model strategy.
func Learned() Strategy { return Strategy{Kind: KindLearned} }

// Linear wraps a statistical method.
func Linear(m reconcile.Method) Strategy { return Strategy{Kind: Kind(m.Kind), Method: m} }

// ParseStrategy accepts every reconcile.ParseMethod name plus "learned".
// Anything else is an unsupported-reconciler configuration error.
func ParseStrategy(s string) (Strategy, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return Strategy{}, errors.ConfigInvalid("no reconciler configured")
	}
	if name == string(KindLearned) {
		return Learned(), nil
	}
	m, err := reconcile.ParseMethod(name)
	if err != nil {
		return Strategy{}, err
	}
	return Linear(m), nil
}

// IsLearned reports whether s is the learned strategy.
func (s Strategy) IsLearned() bool { return s.Kind == KindLearned }

func (s Strategy) String() string {
	if s.IsLearned() {
		return string(KindLearned)
	}
	return s.Method.String()
}

// MarshalText encodes the canonical name.
func (s Strategy) MarshalText() ([]byte, error) {
	if s.Kind == "" {
		return []byte{}, nil
	}
	return []byte(s.String()), nil
}

// UnmarshalText parses a name accepted by ParseStrategy.
func (s *Strategy) UnmarshalText(text []byte) error {
	parsed, err := ParseStrategy(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseCandidates parses a comma-separated list of linear methods.
func ParseCandidates(list string) ([]reconcile.Method, error) {
	var out []reconcile.Method
	for _, part := range strings.Split(list, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		m, err := reconcile.ParseMethod(part)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if len(out) == 0 {
		return nil, errors.ConfigInvalid("candidate list is empty")
	}
	return out, nil
}

// DefaultCandidates are evaluated when no strategy is fixed.
func DefaultCandidates() []reconcile.Method {
	return []reconcile.Method{
		reconcile.BottomUp(),
		reconcile.TopDown(reconcile.ProportionAverages),
		reconcile.TopDown(reconcile.ForecastProportions),
		reconcile.MinTrace(reconcile.OLS),
		reconcile.MinTrace(reconcile.WLSStruct),
		reconcile.MinTrace(reconcile.MinTShrink),
	}
}
