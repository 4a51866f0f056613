package forecast

import "time"

// Actuals is the ground-truth table indexed [node][timestamp]. Unknown values are NaN.
type Actuals struct {
	Nodes      []string
	Timestamps []time.Time
	Values     [][]float64

	pos map[string]int
}

// NewActuals allocates an all-null table.
func NewActuals(nodes []string, timestamps []time.Time) *Actuals {
	a := &Actuals{
		Nodes:      append([]string(nil), nodes...),
		Timestamps: append([]time.Time(nil), timestamps...),
		Values:     grid(len(nodes), len(timestamps), Null()),
	}
	a.reindex()
	return a
}

func (a *Actuals) reindex() {
	a.pos = make(map[string]int, len(a.Nodes))
	for i, n := range a.Nodes {
		a.pos[n] = i
	}
}

// Position returns the row of node, or -1.
func (a *Actuals) Position(node string) int {
	if a.pos == nil {
		a.reindex()
	}
	if i, ok := a.pos[node]; ok {
		return i
	}
	return -1
}

// Series returns the values of node, or nil.
func (a *Actuals) Series(node string) []float64 {
	i := a.Position(node)
	if i < 0 {
		return nil
	}
	return a.Values[i]
}

// Len is the number of timestamps.
func (a *Actuals) Len() int { return len(a.Timestamps) }

// Slice returns the timestamps in [from, to).
func (a *Actuals) Slice(from, to int) *Actuals {
	out := NewActuals(a.Nodes, a.Timestamps[from:to])
	for i := range a.Nodes {
		copy(out.Values[i], a.Values[i][from:to])
	}
	return out
}

// Window returns the timestamps in [start, end).
func (a *Actuals) Window(start, end time.Time) *Actuals {
	from, to := window(a.Timestamps, start, end)
	return a.Slice(from, to)
}

// Align returns the actuals on another calendar; timestamps absent here are null.
func (a *Actuals) Align(timestamps []time.Time) *Actuals {
	out := NewActuals(a.Nodes, timestamps)
	src := timeIndex(a.Timestamps)
	for t, ts := range timestamps {
		s, ok := src[ts.UnixNano()]
		if !ok {
			continue
		}
		for i := range a.Nodes {
			out.Values[i][t] = a.Values[i][s]
		}
	}
	return out
}

// Rows flattens the table into observations, node-major.
func (a *Actuals) Rows() []Observation {
	rows := make([]Observation, 0, len(a.Nodes)*len(a.Timestamps))
	for i, n := range a.Nodes {
		for t, ts := range a.Timestamps {
			rows = append(rows, Observation{ID: n, DS: ts, Y: Ptr(a.Values[i][t])})
		}
	}
	return rows
}

// ActualsFromRows places observations on the nodes × timestamps grid.
func ActualsFromRows(rows []Observation, nodes []string, timestamps []time.Time) *Actuals {
	a := NewActuals(nodes, timestamps)
	tpos := timeIndex(timestamps)
	for _, r := range rows {
		i := a.Position(r.ID)
		t, ok := tpos[r.DS.UnixNano()]
		if i < 0 || !ok || r.Y == nil {
			continue
		}
		a.Values[i][t] = *r.Y
	}
	return a
}
