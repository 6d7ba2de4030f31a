// Package report renders aggregation tables to text, CSV, and JSON.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/camapply/admissions-stats/internal/stats"
)

const reportFilePerm = 0o644

// Generator writes rendered tables into an output directory, one file
// set per aggregation dimension.
type Generator struct {
	outDir string
}

// NewGenerator creates a report generator rooted at outDir.
func NewGenerator(outDir string) *Generator {
	return &Generator{outDir: outDir}
}

// WriteAll renders every table to <dimension>.txt, .csv, and .json.
func (g *Generator) WriteAll(tables []stats.Table) error {
	for _, table := range tables {
		base := filepath.Join(g.outDir, table.Dimension)
		if err := g.writeFile(base+".txt", func(w io.Writer) error {
			return RenderText(w, table)
		}); err != nil {
			return err
		}
		if err := g.writeFile(base+".csv", func(w io.Writer) error {
			return WriteCSV(w, table)
		}); err != nil {
			return err
		}
		if err := g.writeFile(base+".json", func(w io.Writer) error {
			return WriteJSON(w, table)
		}); err != nil {
			return err
		}
	}
	return nil
}

// WriteSummary renders the per-metric descriptive statistics and the
// grade tuple frequency table to summary.txt and summary.json.
func (g *Generator) WriteSummary(summaries map[string]stats.Summary, freqs []stats.Frequency) error {
	base := filepath.Join(g.outDir, "summary")
	if err := g.writeFile(base+".txt", func(w io.Writer) error {
		return RenderSummaryText(w, summaries, freqs)
	}); err != nil {
		return err
	}
	return g.writeFile(base+".json", func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Summaries      map[string]stats.Summary `json:"summaries"`
			GradeFrequency []stats.Frequency        `json:"grade_frequency,omitempty"`
		}{Summaries: summaries, GradeFrequency: freqs})
	})
}

// RenderSummaryText writes the metric summaries in name order, then the
// grade frequency table.
func RenderSummaryText(w io.Writer, summaries map[string]stats.Summary, freqs []stats.Frequency) error {
	names := make([]string, 0, len(summaries))
	for name := range summaries {
		names = append(names, name)
	}
	sort.Strings(names)

	if _, err := fmt.Fprintf(w, "%-16s %6s %8s %8s %8s %8s %8s %8s\n",
		"metric", "count", "mean", "q1", "median", "q3", "min", "max"); err != nil {
		return err
	}
	for _, name := range names {
		s := summaries[name]
		if _, err := fmt.Fprintf(w, "%-16s %6d %8.2f %8.2f %8.2f %8.2f %8.2f %8.2f\n",
			name, s.Count, s.Mean, s.LowerQuartile, s.Median, s.UpperQuartile, s.Min, s.Max); err != nil {
			return err
		}
	}

	if len(freqs) == 0 {
		return nil
	}
	if _, err := fmt.Fprintf(w, "\n%-16s %8s %8s\n", "grades", "count", "percent"); err != nil {
		return err
	}
	for _, f := range freqs {
		if _, err := fmt.Fprintf(w, "%-16s %8d %7.1f%%\n", f.Value, f.Count, f.Percent); err != nil {
			return err
		}
	}
	return nil
}

func (g *Generator) writeFile(path string, render func(io.Writer) error) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, reportFilePerm)
	if err != nil {
		return fmt.Errorf("failed to create report %s: %w", path, err)
	}
	defer f.Close()
	if err := render(f); err != nil {
		return fmt.Errorf("failed to render report %s: %w", path, err)
	}
	return nil
}

// RenderText writes an aligned plain-text table, with the bucketing and
// offer policies stated in the header.
func RenderText(w io.Writer, table stats.Table) error {
	if _, err := fmt.Fprintf(w, "%s (%s)\n\n", table.Dimension, table.Policy); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "%-16s %8s %8s %10s\n", "bucket", "total", "offers", "rate"); err != nil {
		return err
	}
	for _, key := range table.SortedKeys() {
		cell := table.Buckets[key]
		if _, err := fmt.Fprintf(w, "%-16s %8d %8d %10s\n",
			key, cell.Total, cell.Offers, rateString(cell)); err != nil {
			return err
		}
	}
	return nil
}

// WriteCSV writes the table as CSV rows of bucket, total, offers, rate.
// An empty rate column means the rate is unknown.
func WriteCSV(w io.Writer, table stats.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"bucket", "total", "offers", "offer_rate"}); err != nil {
		return err
	}
	for _, key := range table.SortedKeys() {
		cell := table.Buckets[key]
		rate := ""
		if cell.Rate != nil {
			rate = strconv.FormatFloat(*cell.Rate, 'f', 4, 64)
		}
		if err := cw.Write([]string{
			key,
			strconv.Itoa(cell.Total),
			strconv.Itoa(cell.Offers),
			rate,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes the table as an indented JSON document.
func WriteJSON(w io.Writer, table stats.Table) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(table)
}

func rateString(cell stats.Cell) string {
	if cell.Rate == nil {
		return "unknown"
	}
	return fmt.Sprintf("%.1f%%", *cell.Rate*100)
}
