// Package hierarchy holds the value types describing an aggregation tree.
package hierarchy

import "strings"

// Separator joins path segments, e.g. "Nation/RegionA/FacilityX".
const Separator = "/"

// DefaultRootName labels the synthetic node every top-level node aggregates into.
const DefaultRootName = "Total"

// Level maps a hierarchy level name to the raw column carrying its labels.
// Levels are always ordered coarsest first.
type Level struct {
	Name   string `json:"name" yaml:"name"`
	Column string `json:"column" yaml:"column"`
}

// Node is one entity of the hierarchy. Paths of real entities do not carry the
// root: "A/1" is under top-level "A", whose Parent is the synthetic root. The
// root is named by the root name alone and has Depth 0, so every other node's
// Depth equals Depth(Path).
type Node struct {
	Path   string `json:"path"`
	Depth  int    `json:"depth"`
	Parent string `json:"parent"`
	Level  string `json:"level"`
}

// IsRoot reports whether the node has no parent.
func (n Node) IsRoot() bool { return n.Depth == 0 }

// Segments splits a path into its segments.
func Segments(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, Separator)
}

// Depth is the number of segments in path.
func Depth(path string) int {
	return len(Segments(path))
}

// ParentOf removes the last segment of path. Top-level paths return "".
func ParentOf(path string) string {
	i := strings.LastIndex(path, Separator)
	if i < 0 {
		return ""
	}
	return path[:i]
}

// Join appends a segment to a parent path.
func Join(parent, segment string) string {
	if parent == "" {
		return segment
	}
	return parent + Separator + segment
}

// Prefixes returns every partial path of path, coarsest first, including path itself.
func Prefixes(path string) []string {
	segs := Segments(path)
	out := make([]string, len(segs))
	for i := range segs {
		out[i] = strings.Join(segs[:i+1], Separator)
	}
	return out
}
