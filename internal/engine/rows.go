package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"gohts/domain/core"
	domain "gohts/domain/hierarchy"
	"gohts/domain/forecast"
	"gohts/internal/errors"
	"gohts/internal/hierarchy"
)

// RowInputs is the row form of Inputs exchanged over HTTP and files. Leaves
// default to the deepest ids found in the prediction rows.
type RowInputs struct {
	RunID      core.RunID             `json:"run_id,omitempty"`
	RootName   string                 `json:"root_name,omitempty"`
	Levels     []string               `json:"levels,omitempty"`
	Leaves     []string               `json:"leaves,omitempty"`
	Strategy   string                 `json:"strategy,omitempty"`
	Train      []forecast.Prediction  `json:"train,omitempty"`
	Validation []forecast.Prediction  `json:"validation,omitempty"`
	Test       []forecast.Prediction  `json:"test"`
	Actuals    []forecast.Observation `json:"actuals,omitempty"`
}

// Inputs builds the hierarchy and places every window on its own calendar.
// A window that does not cover every node is rejected.
func (r RowInputs) Inputs() (Inputs, error) {
	if len(r.Test) == 0 {
		return Inputs{}, errors.InvalidInput("no test predictions supplied")
	}
	root := r.RootName
	if root == "" {
		root = domain.DefaultRootName
	}
	leaves := r.Leaves
	if len(leaves) == 0 {
		leaves = deepestIDs(root, r.Train, r.Validation, r.Test)
	}
	idx, err := hierarchy.FromPaths(leaves, root, r.levels())
	if err != nil {
		return Inputs{}, err
	}

	in := Inputs{Index: idx, RunID: r.RunID}
	if in.Train, err = frame(idx, "train", r.Train); err != nil {
		return Inputs{}, err
	}
	if in.Validation, err = frame(idx, "validation", r.Validation); err != nil {
		return Inputs{}, err
	}
	if in.Test, err = frame(idx, "test", r.Test); err != nil {
		return Inputs{}, err
	}
	if len(r.Actuals) > 0 {
		var ts []time.Time
		for _, o := range r.Actuals {
			ts = append(ts, o.DS)
		}
		in.Actuals = forecast.ActualsFromRows(r.Actuals, idx.Paths(), calendar(ts))
	}
	if strings.TrimSpace(r.Strategy) != "" && !strings.EqualFold(strings.TrimSpace(r.Strategy), "auto") {
		s, err := ParseStrategy(r.Strategy)
		if err != nil {
			return Inputs{}, err
		}
		in.Strategy = &s
	}
	return in, nil
}

func (r RowInputs) levels() []string {
	if len(r.Levels) == 0 {
		return nil
	}
	return r.Levels
}

func frame(idx *hierarchy.Index, window string, rows []forecast.Prediction) (*forecast.Frame, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	ts := make([]time.Time, len(rows))
	for i, p := range rows {
		ts[i] = p.Timestamp
	}
	f, missing, skipped := forecast.FrameFromRows(rows, idx.Paths(), calendar(ts))
	if len(missing) > 0 {
		return nil, errors.InvalidInput(fmt.Sprintf("%s window has no rows for %s", window, strings.Join(missing, ", ")))
	}
	if skipped > 0 {
		return nil, errors.InvalidInput(fmt.Sprintf("%s window has %d rows for nodes outside the hierarchy", window, skipped))
	}
	return f, nil
}

// calendar returns the sorted distinct timestamps.
func calendar(ts []time.Time) []time.Time {
	seen := make(map[int64]bool, len(ts))
	var out []time.Time
	for _, t := range ts {
		if !seen[t.UnixNano()] {
			seen[t.UnixNano()] = true
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func deepestIDs(root string, windows ...[]forecast.Prediction) []string {
	depth := 0
	ids := make(map[string]int)
	for _, rows := range windows {
		for _, p := range rows {
			if p.ID == root {
				continue
			}
			d := domain.Depth(p.ID)
			ids[p.ID] = d
			if d > depth {
				depth = d
			}
		}
	}
	var leaves []string
	for id, d := range ids {
		if d == depth {
			leaves = append(leaves, id)
		}
	}
	sort.Strings(leaves)
	return leaves
}
