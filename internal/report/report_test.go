package report

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gohts/domain/core"
	"gohts/internal/engine"
	"gohts/internal/reconcile"
	"gohts/internal/scoring"
	"gohts/internal/selector"
)

func sampleResult() *engine.Result {
	metrics := map[scoring.Metric]float64{scoring.RMSE: 1.25, scoring.MAE: 1, scoring.Coverage: 0.9}
	return &engine.Result{
		RunID:      core.RunID("run-1"),
		Strategy:   engine.Linear(reconcile.MinTrace(reconcile.WLSStruct)),
		Reconciler: "trace-minimization:wls-struct",
		Choice: &selector.Choice{
			Method:           reconcile.MinTrace(reconcile.WLSStruct),
			BaselineBest:     true,
			DecisionFunction: "0.5*rmse + 0.5*mae",
			Ranking: []selector.Entry{
				{Name: selector.Baseline, Baseline: true, Score: 1, Metrics: metrics},
				{Name: "trace-minimization:wls-struct", Score: 1.1, Metrics: metrics},
			},
			Dropped:  []selector.Entry{{Name: "top-down:proportion-averages", Score: math.Inf(1), Error: "needs actuals"}},
			Excluded: []string{"B/1"},
		},
		Summary:    &scoring.Summary{Metrics: metrics, Nodes: 5, Excluded: []string{"B/1"}},
		Baseline:   &scoring.Summary{Metrics: map[scoring.Metric]float64{scoring.RMSE: math.NaN()}},
		NodeScores: []scoring.NodeScore{{Node: "Total", N: 7, Metrics: metrics}, {Node: "B/1", Degenerate: true}},
		Score:      1.125,
		CreatedAt:  time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestMarkdown(t *testing.T) {
	md := string(Markdown(sampleResult()))
	assert.Contains(t, md, "# Reconciliation run run-1")
	assert.Contains(t, md, "**Warning:**")
	assert.Contains(t, md, "| 1 | _unreconciled_ | 1.000 | 1.250 | 1.000 | n/a | n/a | 0.900 |")
	assert.Contains(t, md, "- `top-down:proportion-averages`: needs actuals")
	assert.Contains(t, md, "Score: **1.125** over 5 nodes.")
	assert.Contains(t, md, "| unreconciled | n/a |")
	assert.Contains(t, md, "| B/1 | 0 | untrained |")
}

func TestMarkdownUnscored(t *testing.T) {
	res := sampleResult()
	res.Summary, res.Choice = nil, nil
	md := string(Markdown(res))
	assert.Contains(t, md, "the run is unscored")
	assert.NotContains(t, md, "## Selection")
}

func TestWriteHTML(t *testing.T) {
	dir := t.TempDir()
	htmlPath := filepath.Join(dir, "run.html")
	require.NoError(t, Write(htmlPath, sampleResult()))
	data, err := os.ReadFile(htmlPath)
	require.NoError(t, err)
	page := string(data)
	assert.True(t, strings.Contains(page, "<table>"), "tables extension renders pipes")
	assert.Contains(t, page, "<title>gohts run run-1</title>")

	mdPath := filepath.Join(dir, "run.md")
	require.NoError(t, Write(mdPath, sampleResult()))
	data, err = os.ReadFile(mdPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# Reconciliation run"))
}
