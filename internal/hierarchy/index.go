// Package hierarchy builds the aggregation tree of a hierarchical time series:
// node paths, the incidence matrix S and the level tag map.
package hierarchy

import (
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"

	"gohts/domain/core"
	domain "gohts/domain/hierarchy"
	"gohts/internal/errors"
)

// TagMap maps a level name to the ordered node paths at that level.
type TagMap map[string][]string

// Index is the immutable aggregation tree. It is safe for concurrent reads.
type Index struct {
	root     string
	levels   []string
	nodes    []domain.Node
	pos      map[string]int
	leaves   []string
	children map[string][]string
	leafCols map[string][]int
	s        *mat.Dense
	tags     TagMap
}

// FromPaths builds an index from full-depth leaf paths. levelNames names the
// levels coarsest first; nil derives "level1", "level2", ...
func FromPaths(leafPaths []string, rootName string, levelNames []string) (*Index, error) {
	if len(leafPaths) == 0 {
		return nil, errors.InvalidInput("no leaf paths supplied")
	}
	if rootName == "" {
		rootName = domain.DefaultRootName
	}

	uniq := make(map[string]struct{}, len(leafPaths))
	depth := -1
	for _, p := range leafPaths {
		if p == "" {
			return nil, errors.ConfigInvalid("empty leaf path")
		}
		d := domain.Depth(p)
		if depth >= 0 && d != depth {
			return nil, errors.ConfigInvalid(fmt.Sprintf("leaf %q has depth %d, expected %d", p, d, depth))
		}
		depth = d
		for _, seg := range domain.Segments(p) {
			if seg == "" {
				return nil, errors.ConfigInvalid(fmt.Sprintf("leaf %q has an empty segment", p))
			}
		}
		if domain.Segments(p)[0] == rootName {
			return nil, errors.AmbiguousHierarchy(core.NewAmbiguousPathError(rootName, p, rootName))
		}
		uniq[p] = struct{}{}
	}

	if levelNames == nil {
		for i := 1; i <= depth; i++ {
			levelNames = append(levelNames, fmt.Sprintf("level%d", i))
		}
	}
	if len(levelNames) != depth {
		return nil, errors.ConfigInvalid(fmt.Sprintf("%d level names for a hierarchy of depth %d", len(levelNames), depth))
	}

	idx := &Index{
		root:     rootName,
		levels:   append([]string{rootName}, levelNames...),
		pos:      make(map[string]int),
		children: make(map[string][]string),
		leafCols: make(map[string][]int),
		tags:     make(TagMap),
	}

	paths := map[string]struct{}{}
	for p := range uniq {
		for _, prefix := range domain.Prefixes(p) {
			paths[prefix] = struct{}{}
		}
	}
	ordered := make([]string, 0, len(paths))
	for p := range paths {
		ordered = append(ordered, p)
	}
	sort.Slice(ordered, func(i, j int) bool {
		di, dj := domain.Depth(ordered[i]), domain.Depth(ordered[j])
		if di != dj {
			return di < dj
		}
		return ordered[i] < ordered[j]
	})

	idx.addNode(domain.Node{Path: rootName, Depth: 0, Level: rootName})
	for _, p := range ordered {
		d := domain.Depth(p)
		parent := domain.ParentOf(p)
		if parent == "" {
			parent = rootName
		}
		idx.addNode(domain.Node{Path: p, Depth: d, Parent: parent, Level: levelNames[d-1]})
		if d == depth {
			idx.leaves = append(idx.leaves, p)
		}
	}

	idx.s = mat.NewDense(len(idx.nodes), len(idx.leaves), nil)
	for j, leaf := range idx.leaves {
		for _, prefix := range append([]string{rootName}, domain.Prefixes(leaf)...) {
			i := idx.pos[prefix]
			idx.s.Set(i, j, 1)
			idx.leafCols[prefix] = append(idx.leafCols[prefix], j)
		}
	}
	return idx, nil
}

func (idx *Index) addNode(n domain.Node) {
	idx.pos[n.Path] = len(idx.nodes)
	idx.nodes = append(idx.nodes, n)
	idx.tags[n.Level] = append(idx.tags[n.Level], n.Path)
	if n.Parent != "" {
		idx.children[n.Parent] = append(idx.children[n.Parent], n.Path)
	}
}

// Root is the path of the root node.
func (idx *Index) Root() string { return idx.root }

// Fingerprint identifies the node set; equal hierarchies share it.
func (idx *Index) Fingerprint() core.HierarchyHash { return core.ComputeHierarchyHash(idx.Paths()) }

// Len is the number of nodes.
func (idx *Index) Len() int { return len(idx.nodes) }

// NumLeaves is the number of leaf nodes.
func (idx *Index) NumLeaves() int { return len(idx.leaves) }

// Nodes returns every node, root first and leaves last.
func (idx *Index) Nodes() []domain.Node {
	return append([]domain.Node(nil), idx.nodes...)
}

// Paths returns every node path in row order of S.
func (idx *Index) Paths() []string {
	out := make([]string, len(idx.nodes))
	for i, n := range idx.nodes {
		out[i] = n.Path
	}
	return out
}

// Leaves returns the leaf paths in column order of S.
func (idx *Index) Leaves() []string {
	return append([]string(nil), idx.leaves...)
}

// LeafOffset is the row of the first leaf; leaves occupy the last NumLeaves rows.
func (idx *Index) LeafOffset() int { return len(idx.nodes) - len(idx.leaves) }

// Levels returns the level names, root level first.
func (idx *Index) Levels() []string {
	return append([]string(nil), idx.levels...)
}

// Tags returns a copy of the level tag map.
func (idx *Index) Tags() TagMap {
	out := make(TagMap, len(idx.tags))
	for k, v := range idx.tags {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// S returns a copy of the incidence matrix.
func (idx *Index) S() *mat.Dense {
	return mat.DenseCopyOf(idx.s)
}

// Position returns the row of path in S, or -1.
func (idx *Index) Position(path string) int {
	if i, ok := idx.pos[path]; ok {
		return i
	}
	return -1
}

// Node returns the node at path.
func (idx *Index) Node(path string) (domain.Node, bool) {
	i, ok := idx.pos[path]
	if !ok {
		return domain.Node{}, false
	}
	return idx.nodes[i], true
}

// Children returns the direct children of path in row order.
func (idx *Index) Children(path string) []string {
	return append([]string(nil), idx.children[path]...)
}

// Parent returns the parent of path, "" for the root.
func (idx *Index) Parent(path string) string {
	n, _ := idx.Node(path)
	return n.Parent
}

// IsLeaf reports whether path has no children.
func (idx *Index) IsLeaf(path string) bool {
	_, ok := idx.pos[path]
	return ok && len(idx.children[path]) == 0
}

// LevelOf returns the level name of path.
func (idx *Index) LevelOf(path string) string {
	n, _ := idx.Node(path)
	return n.Level
}

// LeafColumns returns the S columns of the leaves aggregating into path.
func (idx *Index) LeafColumns(path string) []int {
	return append([]int(nil), idx.leafCols[path]...)
}

// InternalBottomUp returns the non-leaf nodes, deepest level first.
func (idx *Index) InternalBottomUp() []string {
	var out []string
	for i := idx.LeafOffset() - 1; i >= 0; i-- {
		out = append(out, idx.nodes[i].Path)
	}
	return out
}

// LevelMatrix returns the rows of S belonging to level.
func (idx *Index) LevelMatrix(level string) (*mat.Dense, error) {
	paths, ok := idx.tags[level]
	if !ok {
		return nil, errors.ConfigInvalid(fmt.Sprintf("unknown level %q (have %s)", level, strings.Join(idx.levels, ", ")))
	}
	out := mat.NewDense(len(paths), len(idx.leaves), nil)
	for r, p := range paths {
		out.SetRow(r, idx.s.RawRowView(idx.pos[p]))
	}
	return out, nil
}

// Aggregate returns S·leafValues: the value of every node given its leaves.
func (idx *Index) Aggregate(leafValues []float64) []float64 {
	var v mat.VecDense
	v.MulVec(idx.s, mat.NewVecDense(len(leafValues), append([]float64(nil), leafValues...)))
	return append([]float64(nil), v.RawVector().Data...)
}
