package ports

import (
	"context"
	"time"
)

// History is the densely calendared past of one hierarchy node. NaN marks unknown values.
type History struct {
	Node       string
	Timestamps []time.Time
	Values     []float64
}

// RawForecast is one row of an external forecaster's output, Prophet-style.
type RawForecast struct {
	DS        time.Time `json:"ds"`
	UniqueID  string    `json:"unique_id"`
	YHat      float64   `json:"yhat"`
	YHatLower float64   `json:"yhat_lower"`
	YHatUpper float64   `json:"yhat_upper"`
}

// LeafForecaster is the per-series statistical model the engine reconciles.
// Implementations return one row per requested timestamp.
type LeafForecaster interface {
	Forecast(ctx context.Context, history History, horizon []time.Time) ([]RawForecast, error)
}
