package testkit

import (
	"context"
	"math"
	"testing"
)

func TestDemandGenerator_Basic(t *testing.T) {
	sc, err := NewDemandGenerator(DefaultDemandConfig()).Generate(context.Background())
	if err != nil {
		t.Fatalf("Failed to generate scenario: %v", err)
	}

	want := []string{"Total", "A", "B", "A/1", "A/2", "B/1"}
	got := sc.Index.Paths()
	if len(got) != len(want) {
		t.Fatalf("Expected %d nodes, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Node %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if sc.Base.Len() != 30 {
		t.Errorf("Expected 30 days, got %d", sc.Base.Len())
	}
	if len(sc.Rows) != 3*30 {
		t.Errorf("Expected 90 raw rows, got %d", len(sc.Rows))
	}
}

func TestDemandGenerator_ActualsAreAdditive(t *testing.T) {
	sc, err := NewDemandGenerator(DefaultDemandConfig()).Generate(context.Background())
	if err != nil {
		t.Fatalf("Failed to generate scenario: %v", err)
	}

	total, a, b := sc.Actuals.Series("Total"), sc.Actuals.Series("A"), sc.Actuals.Series("B")
	a1, a2, b1 := sc.Actuals.Series("A/1"), sc.Actuals.Series("A/2"), sc.Actuals.Series("B/1")
	for d := range total {
		if a[d] != a1[d]+a2[d] {
			t.Errorf("Day %d: A=%v, A/1+A/2=%v", d, a[d], a1[d]+a2[d])
		}
		if b[d] != b1[d] {
			t.Errorf("Day %d: B=%v, B/1=%v", d, b[d], b1[d])
		}
		if total[d] != a[d]+b[d] {
			t.Errorf("Day %d: Total=%v, A+B=%v", d, total[d], a[d]+b[d])
		}
	}
}

func TestDemandGenerator_Deterministic(t *testing.T) {
	gen1, err := NewDemandGenerator(DefaultDemandConfig()).Generate(context.Background())
	if err != nil {
		t.Fatalf("First generation failed: %v", err)
	}
	gen2, err := NewDemandGenerator(DefaultDemandConfig()).Generate(context.Background())
	if err != nil {
		t.Fatalf("Second generation failed: %v", err)
	}

	for i := range gen1.Base.Nodes {
		for d := range gen1.Base.Timestamps {
			if gen1.Base.Mean[i][d] != gen2.Base.Mean[i][d] {
				t.Fatalf("Forecasts differ at node %s day %d", gen1.Base.Nodes[i], d)
			}
		}
	}
}

func TestDemandGenerator_ForecastIntervals(t *testing.T) {
	sc, err := NewDemandGenerator(DefaultDemandConfig()).Generate(context.Background())
	if err != nil {
		t.Fatalf("Failed to generate scenario: %v", err)
	}

	for _, p := range sc.Base.Rows() {
		if p.Lower < 0 || p.Lower > p.Mean || p.Mean > p.Upper {
			t.Errorf("Bad interval for %s at %s: %v <= %v <= %v", p.ID, p.Timestamp.Format("2006-01-02"), p.Lower, p.Mean, p.Upper)
		}
	}

	raw := sc.RawForecasts()
	if len(raw) != 6*30 {
		t.Errorf("Expected 180 raw forecasts, got %d", len(raw))
	}
	if math.Abs(raw[0].YHat-sc.Base.Mean[0][0]) > 0 || raw[0].UniqueID != "Total" {
		t.Errorf("Raw forecasts should mirror the base frame, got %+v", raw[0])
	}
}

func TestScenario_Split(t *testing.T) {
	sc, err := NewDemandGenerator(DefaultDemandConfig()).Generate(context.Background())
	if err != nil {
		t.Fatalf("Failed to generate scenario: %v", err)
	}

	train, val, tst := sc.Split(7, 5)
	if train != [2]int{0, 18} || val != [2]int{18, 25} || tst != [2]int{25, 30} {
		t.Errorf("Unexpected split %v %v %v", train, val, tst)
	}
	if got := sc.Base.Slice(tst[0], tst[1]).Len(); got != 5 {
		t.Errorf("Expected 5 test days, got %d", got)
	}
}
