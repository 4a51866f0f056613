package testkit

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"gohts/domain/forecast"
	domain "gohts/domain/hierarchy"
	"gohts/internal/hierarchy"
	"gohts/ports"
)

// DemandGeneratorConfig configures the synthetic demand generator
type DemandGeneratorConfig struct {
	// Facilities maps each region to its facilities; leaves are region/facility.
	Facilities map[string][]string `json:"facilities"`
	StartDate  time.Time           `json:"start_date"`
	Days       int                 `json:"days"`
	BaseDemand float64             `json:"base_demand"`
	// LeafNoise and AggregateNoise are relative forecast error scales.
	LeafNoise      float64 `json:"leaf_noise"`
	AggregateNoise float64 `json:"aggregate_noise"`
	Seed           uint64  `json:"seed"`
}

// DefaultDemandConfig is the Root → {A, B} → {A/1, A/2, B/1} hierarchy over 30 days.
func DefaultDemandConfig() DemandGeneratorConfig {
	return DemandGeneratorConfig{
		Facilities: map[string][]string{
			"A": {"1", "2"},
			"B": {"1"},
		},
		StartDate:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Days:           30,
		BaseDemand:     40,
		LeafNoise:      0.05,
		AggregateNoise: 0.25,
		Seed:           42,
	}
}

// Scenario is a generated hierarchy with ground truth and unreconciled forecasts.
type Scenario struct {
	Levels  []domain.Level
	Rows    []hierarchy.RawObservation
	Index   *hierarchy.Index
	Actuals *forecast.Actuals
	// Base holds an independent noisy forecast per node; aggregates are not additive.
	Base *forecast.Frame
}

// DemandGenerator produces deterministic synthetic demand hierarchies
type DemandGenerator struct {
	config DemandGeneratorConfig
	rng    *rand.Rand
}

// NewDemandGenerator creates a generator seeded from config.Seed
func NewDemandGenerator(config DemandGeneratorConfig) *DemandGenerator {
	return &DemandGenerator{
		config: config,
		rng:    rand.New(rand.NewPCG(config.Seed, 0x9e3779b97f4a7c15)),
	}
}

// Generate builds the raw rows, the hierarchy, its actuals and the base forecasts.
func (g *DemandGenerator) Generate(ctx context.Context) (*Scenario, error) {
	levels := []domain.Level{
		{Name: "region", Column: "region"},
		{Name: "facility", Column: "facility"},
	}

	regions := make([]string, 0, len(g.config.Facilities))
	for r := range g.config.Facilities {
		regions = append(regions, r)
	}
	sort.Strings(regions)

	var rows []hierarchy.RawObservation
	for _, region := range regions {
		for k, facility := range g.config.Facilities[region] {
			scale := g.config.BaseDemand * (1 + 0.5*float64(k))
			phase := g.rng.Float64() * 2 * math.Pi
			for d := 0; d < g.config.Days; d++ {
				ts := g.config.StartDate.AddDate(0, 0, d)
				season := 1 + 0.2*math.Sin(2*math.Pi*float64(ts.Weekday())/7+phase)
				trend := 1 + 0.005*float64(d)
				v := math.Round(scale*season*trend + g.rng.NormFloat64()*2)
				if v < 1 {
					v = 1
				}
				rows = append(rows, hierarchy.RawObservation{
					Timestamp: ts,
					Labels:    map[string]string{"region": region, "facility": facility},
					Value:     v,
				})
			}
		}
	}

	opts := hierarchy.DefaultBuildOptions()
	idx, actuals, err := hierarchy.Build(ctx, rows, levels, opts)
	if err != nil {
		return nil, fmt.Errorf("build hierarchy: %w", err)
	}

	base := forecast.NewFrame(idx.Paths(), actuals.Timestamps)
	for i, path := range base.Nodes {
		noise := g.config.AggregateNoise
		if idx.IsLeaf(path) {
			noise = g.config.LeafNoise
		}
		truth := actuals.Series(path)
		for t := range base.Timestamps {
			y := truth[t]
			if forecast.IsNull(y) {
				y = 0
			}
			mean := math.Max(y*(1+noise*g.rng.NormFloat64()), 0)
			sigma := noise*mean + 1
			base.Mean[i][t] = mean
			base.Lower[i][t] = math.Max(mean-forecast.Z95*sigma, 0)
			base.Upper[i][t] = mean + forecast.Z95*sigma
		}
	}

	return &Scenario{
		Levels:  levels,
		Rows:    rows,
		Index:   idx,
		Actuals: actuals,
		Base:    base,
	}, nil
}

// RawForecasts renders the base frame as an external forecaster's output.
func (s *Scenario) RawForecasts() []ports.RawForecast {
	out := make([]ports.RawForecast, 0, len(s.Base.Nodes)*s.Base.Len())
	for i, node := range s.Base.Nodes {
		for t, ts := range s.Base.Timestamps {
			out = append(out, ports.RawForecast{
				DS:        ts,
				UniqueID:  node,
				YHat:      s.Base.Mean[i][t],
				YHatLower: s.Base.Lower[i][t],
				YHatUpper: s.Base.Upper[i][t],
			})
		}
	}
	return out
}

// Split cuts the scenario calendar into train, validation and test index ranges
// of the given lengths, counted from the end.
func (s *Scenario) Split(validation, test int) (train, val, tst [2]int) {
	n := s.Base.Len()
	tst = [2]int{n - test, n}
	val = [2]int{n - test - validation, n - test}
	train = [2]int{0, n - test - validation}
	return train, val, tst
}
