// Package stats computes conditional offer statistics over the stored
// record set: offer rate by predicted grade bucket, by GCSE grade-9
// count, and by TMUA score band.
package stats

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/camapply/admissions-stats/internal/record"
)

// Reserved bucket keys. Records whose grouping field carries no value
// are never dropped and never merged into a data bucket; they land in
// one of these explicit buckets instead.
const (
	UnknownBucket   = "Unknown"
	DidNotSitBucket = "Did not sit"
)

// Cell is the aggregate for one bucket. Rate is nil when the bucket is
// empty: a zero-applicant bucket carries no signal, and 0.0 would read
// as a real rate.
type Cell struct {
	Total  int      `json:"total"`
	Offers int      `json:"offers"`
	Rate   *float64 `json:"rate,omitempty"`
}

// Table is one aggregation result: bucket cells plus the human-readable
// statement of the bucketing and offer policies that produced them.
// It is a plain serializable structure with no framework types.
type Table struct {
	Dimension string          `json:"dimension"`
	Policy    string          `json:"policy"`
	Buckets   map[string]Cell `json:"buckets"`
}

// SortedKeys returns the bucket keys in lexical order with the reserved
// buckets last, for stable rendering.
func (t Table) SortedKeys() []string {
	var keys, reserved []string
	for key := range t.Buckets {
		if key == UnknownBucket || key == DidNotSitBucket {
			reserved = append(reserved, key)
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	sort.Strings(reserved)
	return append(keys, reserved...)
}

// OfferPolicy states which outcomes count as success. It is built from
// configuration and printed with every table, never buried in code.
type OfferPolicy struct {
	Success map[record.Outcome]bool
}

// DefaultOfferPolicy counts both college offers as success.
func DefaultOfferPolicy() OfferPolicy {
	return OfferPolicy{Success: map[record.Outcome]bool{
		record.OutcomeOriginalCollegeOffer: true,
		record.OutcomeOtherCollegeOffer:    true,
	}}
}

// IsSuccess reports whether an outcome counts as an offer.
func (p OfferPolicy) IsSuccess(o record.Outcome) bool {
	return p.Success[o]
}

// String lists the success outcomes.
func (p OfferPolicy) String() string {
	var names []string
	for outcome, ok := range p.Success {
		if ok {
			names = append(names, outcome.String())
		}
	}
	sort.Strings(names)
	return "offer = {" + strings.Join(names, ", ") + "}"
}

// Dimension assigns each record to a bucket key.
type Dimension interface {
	// Name identifies the dimension in output tables.
	Name() string
	// Policy states the bucketing rule for the table header.
	Policy() string
	// Key returns the record's bucket.
	Key(rec record.ApplicationRecord) string
}

// Engine aggregates records under a fixed offer policy.
type Engine struct {
	policy OfferPolicy
}

// NewEngine creates an aggregation engine.
func NewEngine(policy OfferPolicy) *Engine {
	return &Engine{policy: policy}
}

// Aggregate groups the records along one dimension and computes per
// bucket totals, offer counts, and offer rates.
func (e *Engine) Aggregate(dim Dimension, recs []record.ApplicationRecord) Table {
	buckets := make(map[string]Cell)
	for _, rec := range recs {
		key := dim.Key(rec)
		cell := buckets[key]
		cell.Total++
		if e.policy.IsSuccess(rec.Outcome) {
			cell.Offers++
		}
		buckets[key] = cell
	}
	for key, cell := range buckets {
		if cell.Total > 0 {
			rate := float64(cell.Offers) / float64(cell.Total)
			cell.Rate = &rate
			buckets[key] = cell
		}
	}
	return Table{
		Dimension: dim.Name(),
		Policy:    dim.Policy() + "; " + e.policy.String(),
		Buckets:   buckets,
	}
}

// GradeBucketDimension groups by the best-first tuple of predicted
// grades, truncated or padded to TopN entries.
type GradeBucketDimension struct {
	TopN int
}

func (d GradeBucketDimension) Name() string { return "predicted_grades" }

func (d GradeBucketDimension) Policy() string {
	return fmt.Sprintf("bucket = top-%d predicted grades, best first, padded with '-'", d.TopN)
}

func (d GradeBucketDimension) Key(rec record.ApplicationRecord) string {
	grades := rec.GradeTuple()
	if len(grades) == 0 {
		return UnknownBucket
	}
	var b strings.Builder
	for i := 0; i < d.TopN; i++ {
		if i < len(grades) {
			b.WriteString(grades[i].String())
		} else {
			b.WriteString("-")
		}
	}
	return b.String()
}

// GCSENinesDimension groups by the count of grade-9 GCSEs.
type GCSENinesDimension struct{}

func (GCSENinesDimension) Name() string { return "gcse_nines" }

func (GCSENinesDimension) Policy() string {
	return "bucket = exact count of grade-9 GCSEs"
}

func (GCSENinesDimension) Key(rec record.ApplicationRecord) string {
	if !rec.GCSENines.Known {
		return UnknownBucket
	}
	return strconv.Itoa(rec.GCSENines.Value)
}

// TMUABandDimension groups by the overall TMUA score in fixed-width
// bands over [1.0, 9.0]. Applicants who did not sit the test get their
// own bucket, distinct from those whose score is simply unknown.
type TMUABandDimension struct {
	Width float64
}

func (d TMUABandDimension) Name() string { return "tmua_band" }

func (d TMUABandDimension) Policy() string {
	return fmt.Sprintf("bucket = overall TMUA score in half-open bands of width %.2g", d.Width)
}

func (d TMUABandDimension) Key(rec record.ApplicationRecord) string {
	switch rec.TMUA.Overall.State {
	case record.ScoreNotSat:
		return DidNotSitBucket
	case record.ScoreUnknown:
		return UnknownBucket
	}
	lo := math.Floor(rec.TMUA.Overall.Value/d.Width) * d.Width
	// The top score belongs to the last band, not a band of its own.
	if lo >= 9.0 {
		lo = 9.0 - d.Width
	}
	return fmt.Sprintf("%.1f-%.1f", lo, lo+d.Width)
}
