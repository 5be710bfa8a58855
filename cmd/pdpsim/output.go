package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/nvandessel/pdpsim/internal/store"
)

func renderTable(w io.Writer, header []string, rows [][]string) error {
	table := tablewriter.NewWriter(w)
	cols := make([]any, len(header))
	for i, h := range header {
		cols[i] = h
	}
	table.Header(cols...)
	for _, r := range rows {
		if err := table.Append(r); err != nil {
			return fmt.Errorf("failed to append row: %w", err)
		}
	}
	return table.Render()
}

// renderAggregates prints one row per metric and PDP.
func renderAggregates(w io.Writer, rows []store.Aggregate) error {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		d, p := "-", "-"
		if r.CohensD != nil {
			d = fmt.Sprintf("%+.3f", *r.CohensD)
		}
		if r.PValue != nil {
			p = fmt.Sprintf("%.4f", *r.PValue)
			if r.Significant {
				p += " *"
			}
		}
		out = append(out, []string{
			r.Metric,
			r.PDP,
			fmt.Sprintf("%.4f ± %.4f", r.Mean, r.Std),
			fmt.Sprintf("[%.4f, %.4f]", r.CI95Low, r.CI95High),
			d,
			p,
		})
	}
	return renderTable(w, []string{"Metric", "PDP", "Mean ± Std", "95% CI", "Cohen's d", "p"}, out)
}

func optFloat(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 3, 64)
}
