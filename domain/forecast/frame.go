package forecast

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Frame holds predictions for every node over a shared calendar.
// Mean, Lower and Upper are indexed [node][timestamp].
type Frame struct {
	Nodes      []string
	Timestamps []time.Time
	Mean       [][]float64
	Lower      [][]float64
	Upper      [][]float64

	pos map[string]int
}

// NewFrame allocates a zero-valued frame.
func NewFrame(nodes []string, timestamps []time.Time) *Frame {
	f := &Frame{
		Nodes:      append([]string(nil), nodes...),
		Timestamps: append([]time.Time(nil), timestamps...),
		Mean:       grid(len(nodes), len(timestamps), 0),
		Lower:      grid(len(nodes), len(timestamps), 0),
		Upper:      grid(len(nodes), len(timestamps), 0),
	}
	f.reindex()
	return f
}

func grid(rows, cols int, fill float64) [][]float64 {
	out := make([][]float64, rows)
	for i := range out {
		out[i] = make([]float64, cols)
		if fill != 0 {
			for j := range out[i] {
				out[i][j] = fill
			}
		}
	}
	return out
}

func (f *Frame) reindex() {
	f.pos = make(map[string]int, len(f.Nodes))
	for i, n := range f.Nodes {
		f.pos[n] = i
	}
}

// Position returns the row of node, or -1.
func (f *Frame) Position(node string) int {
	if f.pos == nil {
		f.reindex()
	}
	if i, ok := f.pos[node]; ok {
		return i
	}
	return -1
}

// Len is the number of timestamps.
func (f *Frame) Len() int { return len(f.Timestamps) }

// Sigma returns the implied standard deviation at (node row, t).
func (f *Frame) Sigma(i, t int) float64 {
	return SigmaFromInterval(f.Lower[i][t], f.Upper[i][t])
}

// Clone deep-copies the frame.
func (f *Frame) Clone() *Frame {
	out := NewFrame(f.Nodes, f.Timestamps)
	for i := range f.Nodes {
		copy(out.Mean[i], f.Mean[i])
		copy(out.Lower[i], f.Lower[i])
		copy(out.Upper[i], f.Upper[i])
	}
	return out
}

// Column returns the means of every node at timestamp t.
func (f *Frame) Column(t int) []float64 {
	col := make([]float64, len(f.Nodes))
	for i := range f.Nodes {
		col[i] = f.Mean[i][t]
	}
	return col
}

// Slice returns the timestamps in [from, to).
func (f *Frame) Slice(from, to int) *Frame {
	out := NewFrame(f.Nodes, f.Timestamps[from:to])
	for i := range f.Nodes {
		copy(out.Mean[i], f.Mean[i][from:to])
		copy(out.Lower[i], f.Lower[i][from:to])
		copy(out.Upper[i], f.Upper[i][from:to])
	}
	return out
}

// Window returns the timestamps in [start, end).
func (f *Frame) Window(start, end time.Time) *Frame {
	from, to := window(f.Timestamps, start, end)
	return f.Slice(from, to)
}

// Degenerate reports whether every mean of node row i is within eps of zero,
// which marks a forecaster that never trained.
func (f *Frame) Degenerate(i int, eps float64) bool {
	for _, v := range f.Mean[i] {
		if math.Abs(v) > eps {
			return false
		}
	}
	return true
}

// Rows flattens the frame into prediction rows, node-major.
func (f *Frame) Rows() []Prediction {
	rows := make([]Prediction, 0, len(f.Nodes)*len(f.Timestamps))
	for i, n := range f.Nodes {
		for t, ts := range f.Timestamps {
			rows = append(rows, Prediction{
				Timestamp: ts,
				ID:        n,
				Mean:      f.Mean[i][t],
				Lower:     f.Lower[i][t],
				Upper:     f.Upper[i][t],
			})
		}
	}
	return rows
}

// FrameFromRows places rows on the nodes × timestamps grid. Rows for unknown nodes
// or timestamps are counted in skipped. Nodes with no row at all are returned in missing.
func FrameFromRows(rows []Prediction, nodes []string, timestamps []time.Time) (f *Frame, missing []string, skipped int) {
	f = NewFrame(nodes, timestamps)
	tpos := timeIndex(timestamps)
	seen := make([]bool, len(nodes))
	for _, r := range rows {
		i := f.Position(r.ID)
		t, ok := tpos[r.Timestamp.UnixNano()]
		if i < 0 || !ok {
			skipped++
			continue
		}
		f.Mean[i][t] = r.Mean
		f.Lower[i][t] = r.Lower
		f.Upper[i][t] = r.Upper
		seen[i] = true
	}
	for i, ok := range seen {
		if !ok {
			missing = append(missing, nodes[i])
		}
	}
	return f, missing, skipped
}

// Concat appends b's timestamps after a's. Both frames must share node order.
func Concat(a, b *Frame) (*Frame, error) {
	if len(a.Nodes) != len(b.Nodes) {
		return nil, fmt.Errorf("concat: %d nodes vs %d", len(a.Nodes), len(b.Nodes))
	}
	for i := range a.Nodes {
		if a.Nodes[i] != b.Nodes[i] {
			return nil, fmt.Errorf("concat: node order differs at %d (%s vs %s)", i, a.Nodes[i], b.Nodes[i])
		}
	}
	ts := append(append([]time.Time(nil), a.Timestamps...), b.Timestamps...)
	out := NewFrame(a.Nodes, ts)
	for i := range a.Nodes {
		out.Mean[i] = append(append(out.Mean[i][:0], a.Mean[i]...), b.Mean[i]...)
		out.Lower[i] = append(append(out.Lower[i][:0], a.Lower[i]...), b.Lower[i]...)
		out.Upper[i] = append(append(out.Upper[i][:0], a.Upper[i]...), b.Upper[i]...)
	}
	return out, nil
}

func timeIndex(ts []time.Time) map[int64]int {
	m := make(map[int64]int, len(ts))
	for i, t := range ts {
		m[t.UnixNano()] = i
	}
	return m
}

func window(ts []time.Time, start, end time.Time) (int, int) {
	from := sort.Search(len(ts), func(i int) bool { return !ts[i].Before(start) })
	to := sort.Search(len(ts), func(i int) bool { return !ts[i].Before(end) })
	if to < from {
		to = from
	}
	return from, to
}
