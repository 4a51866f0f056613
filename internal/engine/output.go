package engine

import (
	"encoding/json"
	"math"

	"gohts/domain/forecast"
	"gohts/internal/errors"
	"gohts/internal/hierarchy"
	"gohts/internal/selector"
)

// ToOutput converts a reconciled frame into integer output rows, one per
// (node, timestamp), node-major in hierarchy order. Leaf means are rounded and
// clamped at zero; aggregate means are re-summed from the rounded leaves so the
// rounded table stays additive. Bounds are rounded, clamped and widened where
// needed so that 0 <= lower <= mean <= upper.
func ToOutput(idx *hierarchy.Index, f *forecast.Frame) ([]forecast.OutputRow, error) {
	f, err := idx.AlignFrame(f)
	if err != nil {
		return nil, err
	}
	n, off := idx.Len(), idx.LeafOffset()
	means := make([][]float64, f.Len())
	leaves := make([]float64, idx.NumLeaves())
	for t := range f.Timestamps {
		for j := range leaves {
			leaves[j] = roundCount(f.Mean[off+j][t])
		}
		means[t] = idx.Aggregate(leaves)
	}

	rows := make([]forecast.OutputRow, 0, n*f.Len())
	for i, node := range f.Nodes {
		for t, ts := range f.Timestamps {
			mean := means[t][i]
			lo := math.Min(roundCount(f.Lower[i][t]), mean)
			hi := math.Max(roundCount(f.Upper[i][t]), mean)
			rows = append(rows, forecast.OutputRow{
				Timestamp: ts,
				IDPred:    node,
				PredMean:  mean,
				Sigma:     math.Round(forecast.SigmaFromInterval(lo, hi)),
				PILower95: lo,
				PIUpper95: hi,
			})
		}
	}
	return rows, nil
}

func roundCount(v float64) float64 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	return math.Round(v)
}

// MarshalChoice encodes a selection for storage.
func MarshalChoice(c *selector.Choice) ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, "encode reconciler choice")
	}
	return data, nil
}

// UnmarshalChoice decodes a stored selection.
func UnmarshalChoice(data []byte) (*selector.Choice, error) {
	var c selector.Choice
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, err)
	}
	return &c, nil
}
