package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/camapply/admissions-stats/internal/record"
)

// Well-known column names in the report table. The layout file must bind
// every required column to an x-range using these names.
const (
	ColYear          = "year"
	ColApplyID       = "apply_id"
	ColGrades        = "grades"
	ColGCSENines     = "gcse_nines"
	ColTMUAPaper1    = "tmua_paper1"
	ColTMUAPaper2    = "tmua_paper2"
	ColTMUAOverall   = "tmua_overall"
	ColOfferOriginal = "offer_original"
	ColOfferOther    = "offer_other"
	ColWinterPool    = "winter_pool"
)

// ConfigError reports a missing or self-contradictory configuration.
// It is fatal at start-up; a run never begins with a bad layout.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// ColumnBound maps a named table column to its horizontal extent on the
// page. Fragments are assigned to the column whose [MinX, MaxX) range
// contains their left edge.
type ColumnBound struct {
	Name     string  `yaml:"name"`
	MinX     float64 `yaml:"min_x"`
	MaxX     float64 `yaml:"max_x"`
	Required bool    `yaml:"required"`
}

// Layout is the versioned, fixed description of one report format:
// page range, column geometry, and the closed token vocabulary. The
// source layout is constant across a document, so the layout is loaded
// once and validated before any page is read.
type Layout struct {
	SchemaVersion int     `yaml:"schema_version"`
	FirstPage     int     `yaml:"first_page"`
	LastPage      int     `yaml:"last_page"`
	RowTolerance  float64 `yaml:"row_tolerance"`
	DriftLimit    int     `yaml:"drift_limit"`

	// AnchorPattern matches the cell content that starts a new row in
	// the anchor (apply id) column; header text falling inside the
	// column bounds does not match it.
	AnchorPattern string `yaml:"anchor_pattern"`
	// HeaderMinY marks the top furniture band: fragments at or above
	// this y-ordinate are page headings, not table content. Zero
	// disables the band.
	HeaderMinY float64 `yaml:"header_min_y"`

	Columns []ColumnBound `yaml:"columns"`

	Subjects     []string `yaml:"subjects"`
	GradeTokens  []string `yaml:"grade_tokens"`
	OfferMarkers []string `yaml:"offer_markers"`
	NotSatToken  string   `yaml:"not_sat_token"`
	BlankTokens  []string `yaml:"blank_tokens"`

	SuccessOutcomes []string `yaml:"success_outcomes"`
}

// LoadLayout reads and validates a layout file.
func LoadLayout(path string) (*Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Field: "layout", Reason: fmt.Sprintf("cannot read %s: %v", path, err)}
	}
	var layout Layout
	if err := yaml.Unmarshal(data, &layout); err != nil {
		return nil, &ConfigError{Field: "layout", Reason: fmt.Sprintf("cannot parse %s: %v", path, err)}
	}
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	return &layout, nil
}

// Validate cross-checks the layout so that schema drift surfaces here
// rather than as a flood of row validation failures mid-run.
func (l *Layout) Validate() error {
	if l.SchemaVersion < 1 {
		return &ConfigError{Field: "schema_version", Reason: "must be at least 1"}
	}
	if l.FirstPage < 1 || l.LastPage < l.FirstPage {
		return &ConfigError{Field: "first_page/last_page", Reason: "page range must be ordered and start at 1"}
	}
	if l.RowTolerance <= 0 {
		return &ConfigError{Field: "row_tolerance", Reason: "must be positive"}
	}
	if l.DriftLimit < 1 {
		return &ConfigError{Field: "drift_limit", Reason: "must be at least 1"}
	}
	if l.AnchorPattern == "" {
		return &ConfigError{Field: "anchor_pattern", Reason: "must be set"}
	}
	if _, err := regexp.Compile(l.AnchorPattern); err != nil {
		return &ConfigError{Field: "anchor_pattern", Reason: fmt.Sprintf("invalid pattern: %v", err)}
	}
	if l.HeaderMinY < 0 {
		return &ConfigError{Field: "header_min_y", Reason: "must not be negative"}
	}
	if err := l.validateColumns(); err != nil {
		return err
	}
	if len(l.Subjects) == 0 {
		return &ConfigError{Field: "subjects", Reason: "subject whitelist is empty"}
	}
	if len(l.GradeTokens) == 0 {
		return &ConfigError{Field: "grade_tokens", Reason: "grade token set is empty"}
	}
	for _, token := range l.GradeTokens {
		if _, ok := record.ParseGrade(token); !ok {
			return &ConfigError{Field: "grade_tokens", Reason: fmt.Sprintf("unrecognized grade token %q", token)}
		}
	}
	if len(l.OfferMarkers) == 0 {
		return &ConfigError{Field: "offer_markers", Reason: "offer marker set is empty"}
	}
	if l.NotSatToken == "" {
		return &ConfigError{Field: "not_sat_token", Reason: "must be set"}
	}
	if len(l.SuccessOutcomes) == 0 {
		return &ConfigError{Field: "success_outcomes", Reason: "offer policy is empty"}
	}
	for _, name := range l.SuccessOutcomes {
		if _, ok := record.ParseOutcome(name); !ok {
			return &ConfigError{Field: "success_outcomes", Reason: fmt.Sprintf("unknown outcome %q", name)}
		}
	}
	return nil
}

func (l *Layout) validateColumns() error {
	if len(l.Columns) == 0 {
		return &ConfigError{Field: "columns", Reason: "no column bounds configured"}
	}
	seen := make(map[string]bool, len(l.Columns))
	for _, col := range l.Columns {
		if col.Name == "" {
			return &ConfigError{Field: "columns", Reason: "column with empty name"}
		}
		if seen[col.Name] {
			return &ConfigError{Field: "columns", Reason: fmt.Sprintf("duplicate column %q", col.Name)}
		}
		seen[col.Name] = true
		if col.MinX >= col.MaxX {
			return &ConfigError{Field: "columns", Reason: fmt.Sprintf("column %q has inverted bounds", col.Name)}
		}
	}
	for _, name := range []string{ColApplyID, ColGrades, ColOfferOriginal, ColOfferOther, ColWinterPool} {
		if !seen[name] {
			return &ConfigError{Field: "columns", Reason: fmt.Sprintf("required column %q is not bound", name)}
		}
	}
	ordered := make([]ColumnBound, len(l.Columns))
	copy(ordered, l.Columns)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].MinX < ordered[j].MinX })
	for i := 1; i < len(ordered); i++ {
		if ordered[i].MinX < ordered[i-1].MaxX {
			return &ConfigError{Field: "columns", Reason: fmt.Sprintf(
				"columns %q and %q overlap", ordered[i-1].Name, ordered[i].Name)}
		}
	}
	return nil
}

// Column returns the bound for a named column.
func (l *Layout) Column(name string) (ColumnBound, bool) {
	for _, col := range l.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return ColumnBound{}, false
}

// ColumnFor resolves the column containing the given left x-ordinate.
func (l *Layout) ColumnFor(x float64) (ColumnBound, bool) {
	for _, col := range l.Columns {
		if x >= col.MinX && x < col.MaxX {
			return col, true
		}
	}
	return ColumnBound{}, false
}

// IsBlankToken reports whether a cell token denotes an intentionally
// empty value (for example a dash) rather than data.
func (l *Layout) IsBlankToken(token string) bool {
	for _, blank := range l.BlankTokens {
		if token == blank {
			return true
		}
	}
	return false
}

// SuccessSet resolves the configured offer policy into outcome values.
// Validate has already checked every name, so the mapping cannot fail.
func (l *Layout) SuccessSet() map[record.Outcome]bool {
	success := make(map[record.Outcome]bool, len(l.SuccessOutcomes))
	for _, name := range l.SuccessOutcomes {
		if outcome, ok := record.ParseOutcome(name); ok {
			success[outcome] = true
		}
	}
	return success
}
