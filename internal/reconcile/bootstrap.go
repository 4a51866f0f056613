package reconcile

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"gohts/internal/errors"
)

// BootstrapConfig controls interval propagation.
type BootstrapConfig struct {
	// Samples is the number of resampled draws per timestamp.
	Samples int
	// Levels are two-sided confidence levels in percent; 95 is the primary
	// interval when present, otherwise the first level is.
	Levels  []float64
	Seed    uint64
	Workers int
}

// DefaultBootstrapConfig draws 500 samples for a 95% interval.
func DefaultBootstrapConfig() BootstrapConfig {
	return BootstrapConfig{Samples: 500, Levels: []float64{95}, Seed: 42}
}

func (c BootstrapConfig) withDefaults() BootstrapConfig {
	d := DefaultBootstrapConfig()
	if c.Samples == 0 {
		c.Samples = d.Samples
	}
	if len(c.Levels) == 0 {
		c.Levels = d.Levels
	}
	return c
}

// Validate rejects non-positive sample counts and levels outside (0, 100).
func (c BootstrapConfig) Validate() error {
	if c.Samples < 1 {
		return errors.ConfigInvalid(fmt.Sprintf("bootstrap samples must be positive, got %d", c.Samples))
	}
	for _, l := range c.Levels {
		if !(l > 0 && l < 100) {
			return errors.ConfigInvalid(fmt.Sprintf("bootstrap level %g outside (0, 100)", l))
		}
	}
	return nil
}

func (c BootstrapConfig) primary() int {
	for i, l := range c.Levels {
		if l == 95 {
			return i
		}
	}
	return 0
}

// Band is one bootstrap interval for every node, indexed [node][timestamp].
type Band struct {
	Level float64
	Lower [][]float64
	Upper [][]float64
}

func newBands(levels []float64, nodes, steps int) []Band {
	bands := make([]Band, len(levels))
	for b, l := range levels {
		bands[b] = Band{Level: l, Lower: make([][]float64, nodes), Upper: make([][]float64, nodes)}
		for i := 0; i < nodes; i++ {
			bands[b].Lower[i] = make([]float64, steps)
			bands[b].Upper[i] = make([]float64, steps)
		}
	}
	return bands
}

// bootstrapColumn draws Samples vectors from independent normals around the
// base forecast of timestamp t, reconciles each draw and returns the draws per
// node. The stream depends only on (Seed, t).
func bootstrapColumn(tr transform, s *mat.Dense, mean, sigma []float64, cfg BootstrapConfig, t int) [][]float64 {
	n := len(mean)
	m, leafCount := s.Dims()
	src := rand.NewPCG(cfg.Seed, uint64(t))

	dists := make([]distuv.Normal, n)
	for i := range dists {
		dists[i] = distuv.Normal{Mu: mean[i], Sigma: sigma[i], Src: src}
	}

	draws := make([][]float64, m)
	for i := range draws {
		draws[i] = make([]float64, cfg.Samples)
	}
	y := make([]float64, n)
	leaves := make([]float64, leafCount)
	full := make([]float64, m)
	fv := mat.NewVecDense(m, full)
	for k := 0; k < cfg.Samples; k++ {
		for i := range y {
			if sigma[i] > 0 {
				y[i] = dists[i].Rand()
			} else {
				y[i] = mean[i]
			}
		}
		tr.leaves(y, leaves)
		fv.MulVec(s, mat.NewVecDense(leafCount, clampLeaves(leaves)))
		for i := range full {
			draws[i][k] = full[i]
		}
	}
	return draws
}

// interval returns the central level% range of draws.
func interval(draws []float64, level float64) (float64, float64) {
	tail := (100 - level) / 2
	lo, err := stats.Percentile(draws, tail)
	if err != nil || math.IsNaN(lo) {
		lo, _ = stats.Min(draws)
	}
	hi, err := stats.Percentile(draws, 100-tail)
	if err != nil || math.IsNaN(hi) {
		hi, _ = stats.Max(draws)
	}
	return lo, hi
}
