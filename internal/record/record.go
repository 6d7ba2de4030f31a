// Package record defines the typed admissions record produced by
// normalization and consumed by the store and the aggregation engine.
package record

import (
	"fmt"
	"sort"
	"strings"
)

// Grade is a predicted A-Level grade, ordered best-first.
type Grade int

const (
	GradeUnknown Grade = iota
	GradeAStar
	GradeA
	GradeB
	GradeC
	GradeD
	GradeE
)

var gradeNames = map[Grade]string{
	GradeUnknown: "?",
	GradeAStar:   "A*",
	GradeA:       "A",
	GradeB:       "B",
	GradeC:       "C",
	GradeD:       "D",
	GradeE:       "E",
}

// String returns the display token for the grade.
func (g Grade) String() string {
	if name, ok := gradeNames[g]; ok {
		return name
	}
	return "?"
}

// ParseGrade maps a grade token to its Grade value.
func ParseGrade(token string) (Grade, bool) {
	for grade, name := range gradeNames {
		if grade != GradeUnknown && name == token {
			return grade, true
		}
	}
	return GradeUnknown, false
}

// Outcome is the final admissions result for one applicant.
// Exactly one outcome applies per record.
type Outcome int

const (
	OutcomeRejected Outcome = iota
	OutcomeWinterPool
	OutcomeOtherCollegeOffer
	OutcomeOriginalCollegeOffer
)

var outcomeNames = map[Outcome]string{
	OutcomeOriginalCollegeOffer: "Original College Offer",
	OutcomeOtherCollegeOffer:    "Other College Offer",
	OutcomeWinterPool:           "Winter Pool",
	OutcomeRejected:             "Rejected",
}

// String returns the display name for the outcome.
func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// ParseOutcome maps a display name back to its Outcome value.
func ParseOutcome(name string) (Outcome, bool) {
	for outcome, n := range outcomeNames {
		if n == name {
			return outcome, true
		}
	}
	return OutcomeRejected, false
}

// SubjectGrade pairs a predicted grade with its A-Level subject.
type SubjectGrade struct {
	Subject string `json:"subject"`
	Grade   Grade  `json:"grade"`
}

// Count is a non-negative integer that may be unknown.
// Unknown is distinct from zero and never encoded as a sentinel value.
type Count struct {
	Value int  `json:"value"`
	Known bool `json:"known"`
}

// KnownCount returns a Count holding a known value.
func KnownCount(v int) Count { return Count{Value: v, Known: true} }

// UnknownCount returns the unknown Count marker.
func UnknownCount() Count { return Count{} }

// ScoreState tells whether a Score carries a value.
type ScoreState int

const (
	ScoreUnknown ScoreState = iota
	ScoreValid
	ScoreNotSat
)

// Score is a TMUA score on the [1.0, 9.0] scale, or a marker that the
// score is unknown or that the applicant did not sit the paper.
type Score struct {
	Value float64    `json:"value"`
	State ScoreState `json:"state"`
}

// ValidScore returns a Score holding a value.
func ValidScore(v float64) Score { return Score{Value: v, State: ScoreValid} }

// NotSatScore returns the did-not-sit marker.
func NotSatScore() Score { return Score{State: ScoreNotSat} }

// TMUA holds the per-paper and overall TMUA scores for one applicant.
type TMUA struct {
	Paper1  Score `json:"paper1"`
	Paper2  Score `json:"paper2"`
	Overall Score `json:"overall"`
}

// ApplicationRecord is one applicant's admissions row, fully typed and
// validated. Instances are created only by the normalizer and are
// immutable once stored.
type ApplicationRecord struct {
	ID              int            `json:"id"`
	ApplyID         int            `json:"apply_id"`
	Year            int            `json:"year"`
	PredictedGrades []SubjectGrade `json:"predicted_grades"`
	GCSENines       Count          `json:"gcse_nines"`
	TMUA            TMUA           `json:"tmua"`
	Outcome         Outcome        `json:"outcome"`
	SourcePage      int            `json:"source_page"`
	SourceRow       int            `json:"source_row"`
}

// rank orders grades best-first, with unknown grades sorted last.
func (g Grade) rank() int {
	if g == GradeUnknown {
		return int(GradeE) + 1
	}
	return int(g)
}

// GradeTuple returns the predicted grades sorted best-first, independent
// of subject order in the source row.
func (r ApplicationRecord) GradeTuple() []Grade {
	grades := make([]Grade, 0, len(r.PredictedGrades))
	for _, sg := range r.PredictedGrades {
		grades = append(grades, sg.Grade)
	}
	sort.Slice(grades, func(i, j int) bool { return grades[i].rank() < grades[j].rank() })
	return grades
}

// GradeString renders the best-first grade tuple as a compact token,
// e.g. "A*A*A" or "AAB".
func (r ApplicationRecord) GradeString() string {
	var b strings.Builder
	for _, g := range r.GradeTuple() {
		b.WriteString(g.String())
	}
	return b.String()
}
