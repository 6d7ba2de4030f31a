// Package normalize maps raw extracted rows into typed, validated
// application records.
package normalize

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/camapply/admissions-stats/internal/config"
	"github.com/camapply/admissions-stats/internal/extract"
	"github.com/camapply/admissions-stats/internal/record"
)

// TMUA scores live on a fixed [1.0, 9.0] scale; anything outside it
// means the cell was misaligned during extraction, not a real score.
const (
	minTMUAScore = 1.0
	maxTMUAScore = 9.0
)

// ValidationError reports one row that failed normalization, with full
// provenance so a human can cross-check the source PDF.
type ValidationError struct {
	Page   int
	Row    int
	Column string
	Cell   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("row validation failed (page %d, row %d, column %s, cell %q): %s",
		e.Page, e.Row, e.Column, e.Cell, e.Reason)
}

// Normalizer applies the layout's closed token vocabulary to raw rows.
// Normalization is a pure function of the row and the fixed
// configuration; it never mutates shared state.
type Normalizer struct {
	layout   *config.Layout
	subjects map[string]bool
	grades   map[string]record.Grade
	markers  map[string]bool
}

// New builds a normalizer from a validated layout.
func New(layout *config.Layout) *Normalizer {
	n := &Normalizer{
		layout:   layout,
		subjects: make(map[string]bool, len(layout.Subjects)),
		grades:   make(map[string]record.Grade, len(layout.GradeTokens)),
		markers:  make(map[string]bool, len(layout.OfferMarkers)),
	}
	for _, s := range layout.Subjects {
		n.subjects[s] = true
	}
	for _, token := range layout.GradeTokens {
		// Token membership was checked during layout validation.
		if g, ok := record.ParseGrade(token); ok {
			n.grades[token] = g
		}
	}
	for _, m := range layout.OfferMarkers {
		n.markers[m] = true
	}
	return n
}

// Normalize maps one raw row to an ApplicationRecord. The record ID is
// not assigned here; the pipeline's merge point owns ID assignment.
func (n *Normalizer) Normalize(row extract.RawRow, year int) (record.ApplicationRecord, error) {
	rec := record.ApplicationRecord{
		Year:       year,
		SourcePage: row.Page,
		SourceRow:  row.Row,
	}

	applyID, err := n.parseApplyID(row)
	if err != nil {
		return record.ApplicationRecord{}, err
	}
	rec.ApplyID = applyID

	if cell := row.Cell(config.ColYear); cell != "" && !n.layout.IsBlankToken(cell) {
		y, convErr := strconv.Atoi(cell)
		if convErr != nil {
			return record.ApplicationRecord{}, n.fail(row, config.ColYear, cell, "year is not an integer")
		}
		rec.Year = y
	}

	grades, err := n.parseGrades(row)
	if err != nil {
		return record.ApplicationRecord{}, err
	}
	rec.PredictedGrades = grades

	nines, err := n.parseNines(row)
	if err != nil {
		return record.ApplicationRecord{}, err
	}
	rec.GCSENines = nines

	tmua, err := n.parseTMUA(row)
	if err != nil {
		return record.ApplicationRecord{}, err
	}
	rec.TMUA = tmua

	outcome, err := n.parseOutcome(row)
	if err != nil {
		return record.ApplicationRecord{}, err
	}
	rec.Outcome = outcome

	return rec, nil
}

func (n *Normalizer) fail(row extract.RawRow, column, cell, reason string) *ValidationError {
	return &ValidationError{Page: row.Page, Row: row.Row, Column: column, Cell: cell, Reason: reason}
}

func (n *Normalizer) parseApplyID(row extract.RawRow) (int, error) {
	cell := row.Cell(config.ColApplyID)
	id, err := strconv.Atoi(cell)
	if err != nil || id < 0 {
		return 0, n.fail(row, config.ColApplyID, cell, "apply id is not a non-negative integer")
	}
	return id, nil
}

// parseGrades splits the predicted grades cell into subject/grade
// pairs. The cell reads "Mathematics: A* Further Mathematics: A*
// Physics: A"; a colon ends each subject label, so multi-word subjects
// never collide with grade tokens.
func (n *Normalizer) parseGrades(row extract.RawRow) ([]record.SubjectGrade, error) {
	cell := row.Cell(config.ColGrades)
	if cell == "" || n.layout.IsBlankToken(cell) {
		return nil, nil
	}

	var pairs []record.SubjectGrade
	words := strings.Fields(cell)
	var subjectWords []string
	for i := 0; i < len(words); i++ {
		word := words[i]
		if !strings.HasSuffix(word, ":") {
			subjectWords = append(subjectWords, word)
			continue
		}
		subject := strings.Join(append(subjectWords, strings.TrimSuffix(word, ":")), " ")
		subjectWords = nil
		if !n.subjects[subject] {
			return nil, n.fail(row, config.ColGrades, cell,
				fmt.Sprintf("subject %q is not in the configured subject set", subject))
		}
		if i+1 >= len(words) {
			return nil, n.fail(row, config.ColGrades, cell,
				fmt.Sprintf("subject %q has no grade token", subject))
		}
		i++
		grade, ok := n.grades[words[i]]
		if !ok {
			return nil, n.fail(row, config.ColGrades, cell,
				fmt.Sprintf("unrecognized grade token %q for subject %q", words[i], subject))
		}
		pairs = append(pairs, record.SubjectGrade{Subject: subject, Grade: grade})
	}
	if len(subjectWords) > 0 {
		return nil, n.fail(row, config.ColGrades, cell,
			fmt.Sprintf("trailing tokens %q do not form a subject: grade pair", strings.Join(subjectWords, " ")))
	}
	return pairs, nil
}

func (n *Normalizer) parseNines(row extract.RawRow) (record.Count, error) {
	cell := row.Cell(config.ColGCSENines)
	if cell == "" || n.layout.IsBlankToken(cell) {
		return record.UnknownCount(), nil
	}
	v, err := strconv.Atoi(cell)
	if err != nil || v < 0 {
		return record.Count{}, n.fail(row, config.ColGCSENines, cell, "GCSE nine count is not a non-negative integer")
	}
	return record.KnownCount(v), nil
}

func (n *Normalizer) parseTMUA(row extract.RawRow) (record.TMUA, error) {
	paper1, err := n.parseScore(row, config.ColTMUAPaper1)
	if err != nil {
		return record.TMUA{}, err
	}
	paper2, err := n.parseScore(row, config.ColTMUAPaper2)
	if err != nil {
		return record.TMUA{}, err
	}
	overall, err := n.parseScore(row, config.ColTMUAOverall)
	if err != nil {
		return record.TMUA{}, err
	}
	return record.TMUA{Paper1: paper1, Paper2: paper2, Overall: overall}, nil
}

func (n *Normalizer) parseScore(row extract.RawRow, column string) (record.Score, error) {
	cell := row.Cell(column)
	if cell == "" || n.layout.IsBlankToken(cell) {
		return record.Score{}, nil
	}
	if cell == n.layout.NotSatToken {
		return record.NotSatScore(), nil
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return record.Score{}, n.fail(row, column, cell, "score is not a decimal")
	}
	if v < minTMUAScore || v > maxTMUAScore {
		return record.Score{}, n.fail(row, column, cell,
			fmt.Sprintf("score %.1f outside [%.1f, %.1f]; extraction misalignment suspected", v, minTMUAScore, maxTMUAScore))
	}
	return record.ValidScore(v), nil
}

// parseOutcome resolves the three offer marker columns into the single
// outcome. Marker precedence follows the report semantics: an original
// college offer subsumes the other states; no marker at all means the
// application was rejected outright.
func (n *Normalizer) parseOutcome(row extract.RawRow) (record.Outcome, error) {
	set := func(column string) (bool, error) {
		cell := row.Cell(column)
		if cell == "" || n.layout.IsBlankToken(cell) {
			return false, nil
		}
		if !n.markers[cell] {
			return false, n.fail(row, column, cell, "unrecognized offer marker token")
		}
		return true, nil
	}

	original, err := set(config.ColOfferOriginal)
	if err != nil {
		return record.OutcomeRejected, err
	}
	other, err := set(config.ColOfferOther)
	if err != nil {
		return record.OutcomeRejected, err
	}
	pooled, err := set(config.ColWinterPool)
	if err != nil {
		return record.OutcomeRejected, err
	}

	switch {
	case original:
		return record.OutcomeOriginalCollegeOffer, nil
	case other:
		return record.OutcomeOtherCollegeOffer, nil
	case pooled:
		return record.OutcomeWinterPool, nil
	default:
		return record.OutcomeRejected, nil
	}
}
