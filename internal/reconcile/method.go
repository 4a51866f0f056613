// Package reconcile implements the linear reconciliation family (bottom-up,
// top-down and trace minimisation) together with bootstrap interval propagation.
package reconcile

import (
	"fmt"
	"strings"

	"gohts/internal/errors"
)

// Kind is the reconciliation family.
type Kind string

const (
	KindBottomUp Kind = "bottom-up"
	KindTopDown  Kind = "top-down"
	KindMinTrace Kind = "trace-minimization"
)

// Weighting selects how top-down derives leaf proportions.
type Weighting string

const (
	ProportionAverages  Weighting = "proportion-averages"
	AverageProportions  Weighting = "average-proportions"
	ForecastProportions Weighting = "forecast-proportions"
	// DefaultTopDownWeight is used when the method string names no weighting.
	DefaultTopDownWeight = ProportionAverages
)

// Estimator selects the error covariance W used by trace minimisation.
type Estimator string

const (
	OLS        Estimator = "ols"
	WLSStruct  Estimator = "wls-struct"
	WLSVar     Estimator = "wls-var"
	MinTShrink Estimator = "mint-shrink"
	// DefaultEstimator is used when the method string names no estimator.
	DefaultEstimator = MinTShrink
)

// Method is a closed description of one linear reconciliation strategy.
type Method struct {
	Kind      Kind
	Weighting Weighting
	Estimator Estimator
}

// BottomUp recomputes every aggregate from the leaves.
func BottomUp() Method { return Method{Kind: KindBottomUp} }

// TopDown redistributes the root forecast with the given weighting.
func TopDown(w Weighting) Method { return Method{Kind: KindTopDown, Weighting: w} }

// MinTrace is the generalised least squares reconciliation with estimator e.
func MinTrace(e Estimator) Method { return Method{Kind: KindMinTrace, Estimator: e} }

// ParseMethod accepts "bottom-up", "top-down[:weighting]" and
// "trace-minimization[:estimator]". Common aliases ("bu", "td", "mint") work too.
func ParseMethod(s string) (Method, error) {
	name, param, _ := strings.Cut(strings.ToLower(strings.TrimSpace(s)), ":")
	name = strings.ReplaceAll(name, "_", "-")
	param = strings.ReplaceAll(strings.TrimSpace(param), "_", "-")

	var m Method
	switch name {
	case "bottom-up", "bottomup", "bu":
		m = BottomUp()
		if param != "" {
			return Method{}, errors.ConfigInvalid(fmt.Sprintf("bottom-up takes no parameter, got %q", param))
		}
	case "top-down", "topdown", "td":
		w := Weighting(param)
		if w == "" {
			w = DefaultTopDownWeight
		}
		m = TopDown(w)
	case "trace-minimization", "trace-minimisation", "mintrace", "mint":
		e := Estimator(param)
		if e == "" {
			e = DefaultEstimator
		}
		m = MinTrace(e)
	default:
		return Method{}, errors.UnsupportedReconciler(s)
	}
	if err := m.Validate(); err != nil {
		return Method{}, err
	}
	return m, nil
}

// Validate rejects unknown parameters.
func (m Method) Validate() error {
	switch m.Kind {
	case KindBottomUp:
		return nil
	case KindTopDown:
		switch m.Weighting {
		case ProportionAverages, AverageProportions, ForecastProportions:
			return nil
		}
		return errors.Wrapf(errors.UnsupportedReconciler(m.String()), "unknown top-down weighting %q", m.Weighting)
	case KindMinTrace:
		switch m.Estimator {
		case OLS, WLSStruct, WLSVar, MinTShrink:
			return nil
		}
		return errors.Wrapf(errors.UnsupportedReconciler(m.String()), "unknown trace-minimization estimator %q", m.Estimator)
	}
	return errors.UnsupportedReconciler(string(m.Kind))
}

// String renders the canonical, parseable name.
func (m Method) String() string {
	switch m.Kind {
	case KindTopDown:
		return string(m.Kind) + ":" + string(m.Weighting)
	case KindMinTrace:
		return string(m.Kind) + ":" + string(m.Estimator)
	}
	return string(m.Kind)
}

// needsHistory reports whether Fit requires training actuals.
func (m Method) needsHistory() bool {
	return m.Kind == KindTopDown && m.Weighting != ForecastProportions
}

// MarshalText encodes the canonical name.
func (m Method) MarshalText() ([]byte, error) {
	if m.Kind == "" {
		return []byte{}, nil
	}
	return []byte(m.String()), nil
}

// UnmarshalText parses a name accepted by ParseMethod.
func (m *Method) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*m = Method{}
		return nil
	}
	parsed, err := ParseMethod(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
