package hierarchy

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"gohts/domain/core"
	"gohts/domain/forecast"
	domain "gohts/domain/hierarchy"
	"gohts/internal/errors"
	"gohts/internal/workers"
)

// RawObservation is one measurement at the finest granularity, labelled by the
// raw grouping columns. A NaN Value is unknown.
type RawObservation struct {
	Timestamp time.Time
	Labels    map[string]string
	Value     float64
}

// BuildOptions controls hierarchy construction.
type BuildOptions struct {
	RootName  string
	Frequency Frequency
	// ZeroAsMissing turns leaf zeros into nulls once aggregates are computed.
	ZeroAsMissing bool
	Workers       int
}

// DefaultBuildOptions returns daily, zero-as-missing defaults rooted at "Total".
func DefaultBuildOptions() BuildOptions {
	return BuildOptions{
		RootName:      domain.DefaultRootName,
		Frequency:     Daily,
		ZeroAsMissing: true,
	}
}

// NormalizeSegment turns a raw label into a path segment.
func NormalizeSegment(raw string) string {
	s := strings.Join(strings.Fields(raw), " ")
	return strings.ReplaceAll(s, domain.Separator, "-")
}

// Build derives the hierarchy and a calendar-aligned actuals table for every
// node from raw observations. Aggregate values sum their non-null leaves and are
// null only when every contributing leaf is null.
func Build(ctx context.Context, rows []RawObservation, levels []domain.Level, opts BuildOptions) (*Index, *forecast.Actuals, error) {
	if len(levels) == 0 {
		return nil, nil, errors.ConfigInvalid("at least one hierarchy level is required")
	}
	if len(rows) == 0 {
		return nil, nil, errors.WithCode(errors.CodeInvalidInput, core.ErrEmptyInput)
	}
	if opts.Frequency == "" {
		opts.Frequency = Daily
	}

	leafOf := make([]string, len(rows))
	rawOf := make(map[string]string)
	leafSet := make(map[string]struct{})
	for r, row := range rows {
		path := ""
		for _, lvl := range levels {
			raw, ok := row.Labels[lvl.Column]
			seg := NormalizeSegment(raw)
			if !ok || seg == "" {
				return nil, nil, errors.Wrapf(errors.WithCode(errors.CodeConfigInvalid, core.ErrMissingLevel),
					"row %d has no value for level %s (column %s)", r, lvl.Name, lvl.Column)
			}
			path = domain.Join(path, seg)
			key := strings.TrimSpace(raw)
			if prev, seen := rawOf[path]; seen && prev != key {
				return nil, nil, errors.AmbiguousHierarchy(core.NewAmbiguousPathError(path, prev, key))
			}
			rawOf[path] = key
		}
		leafOf[r] = path
		leafSet[path] = struct{}{}
	}

	names := make([]string, len(levels))
	for i, lvl := range levels {
		names[i] = lvl.Name
	}
	leafPaths := make([]string, 0, len(leafSet))
	for p := range leafSet {
		leafPaths = append(leafPaths, p)
	}
	sort.Strings(leafPaths)
	idx, err := FromPaths(leafPaths, opts.RootName, names)
	if err != nil {
		return nil, nil, err
	}

	start, end := rows[0].Timestamp, rows[0].Timestamp
	for _, row := range rows[1:] {
		if row.Timestamp.Before(start) {
			start = row.Timestamp
		}
		if row.Timestamp.After(end) {
			end = row.Timestamp
		}
	}
	grid := Calendar(start, end, opts.Frequency)
	tpos := make(map[int64]int, len(grid))
	for t, ts := range grid {
		tpos[ts.UnixNano()] = t
	}

	leafVals := make([][]float64, idx.NumLeaves())
	for j := range leafVals {
		leafVals[j] = make([]float64, len(grid))
		for t := range leafVals[j] {
			leafVals[j][t] = math.NaN()
		}
	}
	leafCol := make(map[string]int, idx.NumLeaves())
	for j, p := range idx.Leaves() {
		leafCol[p] = j
	}
	for r, row := range rows {
		if math.IsNaN(row.Value) {
			continue
		}
		j := leafCol[leafOf[r]]
		t := tpos[opts.Frequency.Truncate(row.Timestamp).UnixNano()]
		if math.IsNaN(leafVals[j][t]) {
			leafVals[j][t] = 0
		}
		leafVals[j][t] += row.Value
	}

	actuals := forecast.NewActuals(idx.Paths(), grid)
	err = workers.Each(ctx, idx.Len(), opts.Workers, func(_ context.Context, i int) error {
		cols := idx.leafCols[idx.nodes[i].Path]
		series := actuals.Values[i]
		for t := range grid {
			sum, known := 0.0, false
			for _, j := range cols {
				if v := leafVals[j][t]; !math.IsNaN(v) {
					sum += v
					known = true
				}
			}
			if known {
				series[t] = sum
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("aggregate hierarchy: %w", err)
	}

	if opts.ZeroAsMissing {
		for i := idx.LeafOffset(); i < idx.Len(); i++ {
			for t, v := range actuals.Values[i] {
				if v == 0 {
					actuals.Values[i][t] = math.NaN()
				}
			}
		}
	}
	return idx, actuals, nil
}
