// Package report renders a reconciliation run as Markdown and HTML.
package report

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"gohts/internal/engine"
	"gohts/internal/errors"
	"gohts/internal/scoring"
)

var columns = []scoring.Metric{scoring.RMSE, scoring.MAE, scoring.SMAPE, scoring.Bias, scoring.Coverage}

// Markdown renders the run summary.
func Markdown(res *engine.Result) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# Reconciliation run %s\n\n", res.RunID)
	fmt.Fprintf(&b, "- Strategy: `%s`\n", res.Strategy)
	fmt.Fprintf(&b, "- Reconciler: `%s`\n", res.Reconciler)
	fmt.Fprintf(&b, "- Output rows: %d\n", len(res.Output))
	fmt.Fprintf(&b, "- Created: %s\n\n", res.CreatedAt.Format("2006-01-02 15:04:05 MST"))

	if c := res.Choice; c != nil {
		b.WriteString("## Selection\n\n")
		fmt.Fprintf(&b, "Decision function: `%s`\n\n", c.DecisionFunction)
		if c.BaselineBest {
			b.WriteString("> **Warning:** the unreconciled forecasts scored best on validation. ")
			fmt.Fprintf(&b, "The runner-up `%s` was used.\n\n", c.Method)
		}
		header(&b, "Rank", "Candidate", "Score")
		for i, e := range c.Ranking {
			name := e.Name
			if e.Baseline {
				name = "_" + name + "_"
			}
			row(&b, append([]string{fmt.Sprint(i + 1), name, num(e.Score)}, metricCells(e.Metrics)...)...)
		}
		b.WriteString("\n")
		if len(c.Dropped) > 0 {
			b.WriteString("Dropped candidates:\n\n")
			for _, e := range c.Dropped {
				fmt.Fprintf(&b, "- `%s`: %s\n", e.Name, e.Error)
			}
			b.WriteString("\n")
		}
		if len(c.Excluded) > 0 {
			fmt.Fprintf(&b, "Untrained nodes excluded from scoring: %s\n\n", strings.Join(c.Excluded, ", "))
		}
	}

	if res.Summary != nil {
		b.WriteString("## Test window\n\n")
		fmt.Fprintf(&b, "Score: **%s** over %d nodes.\n\n", num(res.Score), res.Summary.Nodes)
		header(&b, "Forecast")
		row(&b, append([]string{"reconciled"}, metricCells(res.Summary.Metrics)...)...)
		if res.Baseline != nil {
			row(&b, append([]string{"unreconciled"}, metricCells(res.Baseline.Metrics)...)...)
		}
		b.WriteString("\n")
		if len(res.Summary.Excluded) > 0 {
			fmt.Fprintf(&b, "Excluded nodes: %s\n\n", strings.Join(res.Summary.Excluded, ", "))
		}

		b.WriteString("### Per node\n\n")
		header(&b, "Node", "N")
		for _, ns := range res.NodeScores {
			if ns.Degenerate {
				row(&b, ns.Node, "0", "untrained", "", "", "", "")
				continue
			}
			row(&b, append([]string{ns.Node, fmt.Sprint(ns.N)}, metricCells(ns.Metrics)...)...)
		}
		b.WriteString("\n")
	} else {
		b.WriteString("## Test window\n\nNo actuals cover the test window; the run is unscored.\n")
	}
	return b.Bytes()
}

// HTML renders Markdown output as a standalone page.
func HTML(res *engine.Result) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	r := html.NewRenderer(html.RendererOptions{
		Flags: html.CommonFlags | html.CompletePage,
		Title: fmt.Sprintf("gohts run %s", res.RunID),
	})
	return markdown.ToHTML(Markdown(res), p, r)
}

// Write saves the report; a .html or .htm extension selects HTML.
func Write(path string, res *engine.Result) error {
	data := Markdown(res)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		data = HTML(res)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "write report %s", path)
	}
	return nil
}

func header(b *bytes.Buffer, lead ...string) {
	cells := append([]string(nil), lead...)
	for _, m := range columns {
		cells = append(cells, string(m))
	}
	row(b, cells...)
	sep := make([]string, len(cells))
	for i := range sep {
		sep[i] = "---"
	}
	row(b, sep...)
}

func row(b *bytes.Buffer, cells ...string) {
	b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
}

func metricCells(m map[scoring.Metric]float64) []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		v, ok := m[c]
		if !ok {
			out[i] = "n/a"
			continue
		}
		out[i] = num(v)
	}
	return out
}

func num(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "n/a"
	}
	return fmt.Sprintf("%.3f", v)
}
