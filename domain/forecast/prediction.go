// Package forecast defines the prediction, observation and output tables the
// reconciliation engine exchanges with its callers.
package forecast

import (
	"math"
	"time"
)

// Z95 is the standard normal quantile bounding a two-sided 95% interval.
const Z95 = 1.959963984540054

// Prediction is one canonical per-node forecast row.
type Prediction struct {
	Timestamp time.Time `json:"timestamp"`
	ID        string    `json:"id_pred"`
	Mean      float64   `json:"pred_mean"`
	Lower     float64   `json:"pi_lower_95"`
	Upper     float64   `json:"pi_upper_95"`
}

// Sigma is the standard deviation implied by the 95% interval.
func (p Prediction) Sigma() float64 {
	return SigmaFromInterval(p.Lower, p.Upper)
}

// SigmaFromInterval converts a 95% interval into a normal standard deviation.
func SigmaFromInterval(lower, upper float64) float64 {
	s := (upper - lower) / (2 * Z95)
	if s < 0 || math.IsNaN(s) {
		return 0
	}
	return s
}

// Observation is one ground-truth value. A nil Y is unknown, which is not the same as zero.
type Observation struct {
	ID string    `json:"id"`
	DS time.Time `json:"ds"`
	Y  *float64  `json:"y"`
}

// OutputRow is the reconciled, integer-rounded row handed to downstream consumers.
type OutputRow struct {
	Timestamp time.Time `json:"timestamp" db:"ts"`
	IDPred    string    `json:"id_pred" db:"id_pred"`
	PredMean  float64   `json:"pred_mean" db:"pred_mean"`
	Sigma     float64   `json:"sigma" db:"sigma"`
	PILower95 float64   `json:"pi_lower_95" db:"pi_lower_95"`
	PIUpper95 float64   `json:"pi_upper_95" db:"pi_upper_95"`
}

// Null is the in-memory representation of an unknown value.
func Null() float64 { return math.NaN() }

// IsNull reports whether v is unknown.
func IsNull(v float64) bool { return math.IsNaN(v) }

// Ptr returns a pointer to v, or nil when v is null.
func Ptr(v float64) *float64 {
	if IsNull(v) {
		return nil
	}
	return &v
}
