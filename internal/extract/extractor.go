// Package extract turns one page's positioned text fragments into raw
// table rows aligned to the configured column schema.
package extract

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/camapply/admissions-stats/internal/config"
	"github.com/camapply/admissions-stats/internal/pdfsource"
)

// Wrapped cell lines sit closer to their row than separate rows do.
// Anything within this multiple of the row tolerance merges into the
// open row.
const wrapGapFactor = 2.0

// RawRow is one extracted table row: raw cell text keyed by column
// name, with source provenance.
type RawRow struct {
	Page      int               `json:"page"`
	Row       int               `json:"row"`
	Cells     map[string]string `json:"cells"`
	Continued bool              `json:"continued,omitempty"`
}

// Cell returns the trimmed text of a named column, or "" when absent.
func (r RawRow) Cell(name string) string {
	return strings.TrimSpace(r.Cells[name])
}

// PartialRow is a row still open at a page boundary. It is explicit
// state carried between page extraction calls; the next page's leading
// identifier-less line merges into it. merged records whether such a
// cross-page merge actually happened, so the closed row's Continued
// flag reflects a real continuation rather than mere page position.
type PartialRow struct {
	Page   int
	Row    int
	Cells  map[string]string
	lastY  float64
	merged bool
}

// Extractor converts page fragments into raw rows using a fixed,
// validated table layout.
type Extractor struct {
	layout *config.Layout
	anchor *regexp.Regexp
}

// New creates an extractor for a validated layout.
func New(layout *config.Layout) *Extractor {
	// The pattern was compile-checked during layout validation.
	return &Extractor{
		layout: layout,
		anchor: regexp.MustCompile(layout.AnchorPattern),
	}
}

// line is a y-cluster of fragments, ordered left to right.
type line struct {
	y     float64
	frags []pdfsource.Fragment
}

// ExtractPage clusters one page's fragments into rows. The carry holds
// a row left open by the previous page; the returned carry holds the
// row left open by this page (the caller finalizes it explicitly, never
// the extractor guessing on its own).
func (e *Extractor) ExtractPage(
	pageNum int,
	frags []pdfsource.Fragment,
	carry *PartialRow,
) (rows []RawRow, next *PartialRow, warnings []Warning, err error) {
	lines, drift := e.clusterLines(frags)
	if drift > e.layout.DriftLimit {
		return nil, nil, nil, &ExtractionError{
			Page: pageNum,
			Detail: fmt.Sprintf("%d fragments outside configured column bounds (limit %d); layout drift suspected",
				drift, e.layout.DriftLimit),
		}
	}

	rowIndex := 0
	var open *PartialRow
	seenAnchor := false

	for _, ln := range lines {
		cells := e.binFragments(ln.frags)
		if len(cells) == 0 {
			// Blank separator or pure furniture line.
			continue
		}

		anchorText := strings.TrimSpace(cells[config.ColApplyID])
		isAnchor := anchorText != "" && e.anchor.MatchString(anchorText)

		switch {
		case isAnchor:
			seenAnchor = true
			if carry != nil {
				// The previous page's open row is complete: this page
				// starts with a fresh identifier.
				row, ws := e.closeRow(carry, carry.merged)
				warnings = append(warnings, ws...)
				if row != nil {
					rows = append(rows, *row)
				}
				carry = nil
			}
			if open != nil {
				row, ws := e.closeRow(open, false)
				warnings = append(warnings, ws...)
				if row != nil {
					rows = append(rows, *row)
				}
			}
			rowIndex++
			open = &PartialRow{Page: pageNum, Row: rowIndex, Cells: cells, lastY: ln.y}

		case carry != nil && !seenAnchor:
			// Continuation of the row spanning the page break: an
			// identifier-less table line before this page's first
			// anchor row.
			mergeCells(carry.Cells, cells)
			carry.lastY = ln.y
			carry.merged = true

		case !seenAnchor:
			// Header block above the table body; no row is open yet and
			// there is no carry to merge into.

		case open.lastY-ln.y <= e.layout.RowTolerance*wrapGapFactor:
			// Wrapped cell lines belonging to the open row.
			mergeCells(open.Cells, cells)
			open.lastY = ln.y

		default:
			warnings = append(warnings, Warning{
				Page: pageNum,
				Row:  open.Row,
				Detail: fmt.Sprintf("unanchored line %q too far below row to merge; dropped",
					lineText(ln)),
			})
		}
	}

	if carry != nil && !seenAnchor {
		// No anchor row on this page at all (blank or furniture-only
		// page, possibly with continuation lines merged in); the carry
		// stays open for the next page.
		return rows, carry, warnings, nil
	}

	// The last open row may continue on the next page, so it is handed
	// back rather than emitted here.
	return rows, open, warnings, nil
}

// Finalize closes a carry row once no further page can continue it.
func (e *Extractor) Finalize(carry *PartialRow) (*RawRow, []Warning) {
	if carry == nil {
		return nil, nil
	}
	return e.closeRow(carry, carry.merged)
}

// closeRow validates completeness and emits the row. Rows missing
// required columns are dropped with a warning; fully blank rows are
// separators and vanish silently.
func (e *Extractor) closeRow(p *PartialRow, continued bool) (*RawRow, []Warning) {
	nonEmpty := 0
	for _, v := range p.Cells {
		if strings.TrimSpace(v) != "" {
			nonEmpty++
		}
	}
	if nonEmpty == 0 {
		return nil, nil
	}

	var missing []string
	for _, col := range e.layout.Columns {
		if col.Required && strings.TrimSpace(p.Cells[col.Name]) == "" {
			missing = append(missing, col.Name)
		}
	}
	if len(missing) > 0 {
		return nil, []Warning{{
			Page:   p.Page,
			Row:    p.Row,
			Detail: fmt.Sprintf("row missing required columns %v; dropped", missing),
		}}
	}

	return &RawRow{Page: p.Page, Row: p.Row, Cells: p.Cells, Continued: continued}, nil
}

// clusterLines groups fragments into lines by y-ordinate within the row
// tolerance, top of page first. Fragments in the header band are
// ignored; fragments outside every column bound count toward drift.
func (e *Extractor) clusterLines(frags []pdfsource.Fragment) ([]line, int) {
	drift := 0
	usable := make([]pdfsource.Fragment, 0, len(frags))
	for _, f := range frags {
		if strings.TrimSpace(f.Text) == "" {
			continue
		}
		if e.layout.HeaderMinY > 0 && f.Y >= e.layout.HeaderMinY {
			continue
		}
		if _, ok := e.layout.ColumnFor(f.X); !ok {
			drift++
			continue
		}
		usable = append(usable, f)
	}

	// Page origin is bottom-left, so descending y reads top to bottom.
	sort.Slice(usable, func(i, j int) bool {
		if usable[i].Y != usable[j].Y {
			return usable[i].Y > usable[j].Y
		}
		return usable[i].X < usable[j].X
	})

	var lines []line
	for _, f := range usable {
		if n := len(lines); n > 0 && lines[n-1].y-f.Y <= e.layout.RowTolerance {
			lines[n-1].frags = append(lines[n-1].frags, f)
			continue
		}
		lines = append(lines, line{y: f.Y, frags: []pdfsource.Fragment{f}})
	}
	for i := range lines {
		sort.Slice(lines[i].frags, func(a, b int) bool {
			return lines[i].frags[a].X < lines[i].frags[b].X
		})
	}
	return lines, drift
}

// binFragments assigns a line's fragments to columns and concatenates
// their text left to right. Out-of-column fragments were already
// filtered during clustering.
func (e *Extractor) binFragments(frags []pdfsource.Fragment) map[string]string {
	cells := make(map[string]string)
	for _, f := range frags {
		col, ok := e.layout.ColumnFor(f.X)
		if !ok {
			continue
		}
		if cells[col.Name] == "" {
			cells[col.Name] = f.Text
		} else {
			cells[col.Name] += " " + f.Text
		}
	}
	return cells
}

// mergeCells appends later line text onto existing cell content,
// preserving top-to-bottom order.
func mergeCells(dst, src map[string]string) {
	for name, text := range src {
		if text == "" {
			continue
		}
		if dst[name] == "" {
			dst[name] = text
		} else {
			dst[name] += " " + text
		}
	}
}

func lineText(ln line) string {
	parts := make([]string, 0, len(ln.frags))
	for _, f := range ln.frags {
		parts = append(parts, f.Text)
	}
	return strings.Join(parts, " ")
}
