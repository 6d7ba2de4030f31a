// Package pipeline orchestrates one extraction run: page fragments in
// parallel, row assembly and ID assignment at a single sequential join
// point, then an all-or-nothing store commit and aggregation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/camapply/admissions-stats/internal/config"
	"github.com/camapply/admissions-stats/internal/extract"
	"github.com/camapply/admissions-stats/internal/normalize"
	"github.com/camapply/admissions-stats/internal/pdfsource"
	"github.com/camapply/admissions-stats/internal/record"
	"github.com/camapply/admissions-stats/internal/stats"
	"github.com/camapply/admissions-stats/internal/store"
)

// Options configures one run.
type Options struct {
	Layout     *config.Layout
	Year       int
	Workers    int
	StrictRows bool
	TopGrades  int
	BandWidth  float64
	Logger     *zap.Logger
}

// withDefaults fills unset numeric options, so callers constructing
// Options directly get the same defaults as the CLI. A zero band width
// would otherwise produce degenerate score buckets, and zero workers
// would leave no page decoder running.
func (o Options) withDefaults() Options {
	if o.Workers < 1 {
		o.Workers = config.DefaultWorkers
	}
	if o.TopGrades < 1 {
		o.TopGrades = config.DefaultTopGrades
	}
	if o.BandWidth <= 0 {
		o.BandWidth = config.DefaultBandWidth
	}
	return o
}

// SkippedRow records a row dropped under the skip-and-log policy.
type SkippedRow struct {
	Page   int    `json:"page"`
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// Result is the outcome of a completed run.
type Result struct {
	RunID          string                     `json:"run_id"`
	Records        []record.ApplicationRecord `json:"records"`
	Tables         []stats.Table              `json:"tables"`
	Summaries      map[string]stats.Summary   `json:"summaries,omitempty"`
	GradeFrequency []stats.Frequency          `json:"grade_frequency,omitempty"`
	Warnings       []extract.Warning          `json:"warnings,omitempty"`
	Skipped        []SkippedRow               `json:"skipped,omitempty"`
}

// Run executes the pipeline over the supplied PDF bytes. On any fatal
// error nothing is committed to the store; the run is all-or-nothing.
func Run(ctx context.Context, pdfBytes []byte, st store.Store, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	runID := uuid.NewString()
	logger = logger.With(zap.String("run_id", runID))

	doc, err := pdfsource.Open(pdfBytes)
	if err != nil {
		return nil, fmt.Errorf("cannot open source document: %w", err)
	}

	layout := opts.Layout
	lastPage := layout.LastPage
	if doc.PageCount() < lastPage {
		lastPage = doc.PageCount()
	}
	if lastPage < layout.FirstPage {
		return nil, fmt.Errorf("document has %d pages, table starts at page %d", doc.PageCount(), layout.FirstPage)
	}

	// Page decoding is the expensive part and pages are independent, so
	// it fans out to workers. Row assembly stays sequential below: the
	// continuation carry and ID assignment both need page order.
	fragments, err := decodePages(ctx, doc, layout.FirstPage, lastPage, opts.Workers)
	if err != nil {
		return nil, err
	}

	rows, warnings, err := assembleRows(layout, fragments, layout.FirstPage, lastPage)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		logger.Warn("extraction warning",
			zap.Int("page", w.Page),
			zap.Int("row", w.Row),
			zap.String("detail", w.Detail))
	}

	records, skipped, err := buildRecords(layout, rows, opts.Year, opts.StrictRows, logger)
	if err != nil {
		return nil, err
	}

	if err := st.PutAll(records); err != nil {
		return nil, fmt.Errorf("store commit failed: %w", err)
	}

	engine := stats.NewEngine(stats.OfferPolicy{Success: layout.SuccessSet()})
	tables := []stats.Table{
		engine.Aggregate(stats.GradeBucketDimension{TopN: opts.TopGrades}, records),
		engine.Aggregate(stats.GCSENinesDimension{}, records),
		engine.Aggregate(stats.TMUABandDimension{Width: opts.BandWidth}, records),
	}

	logger.Info("run complete",
		zap.Int("records", len(records)),
		zap.Int("skipped", len(skipped)),
		zap.Int("warnings", len(warnings)))

	return &Result{
		RunID:          runID,
		Records:        records,
		Tables:         tables,
		Summaries:      buildSummaries(records),
		GradeFrequency: gradeFrequency(records),
		Warnings:       warnings,
		Skipped:        skipped,
	}, nil
}

// Metric names in the summary output.
const (
	MetricGCSENines   = "gcse_nines"
	MetricTMUAPaper1  = "tmua_paper1"
	MetricTMUAPaper2  = "tmua_paper2"
	MetricTMUAOverall = "tmua_overall"
)

// buildSummaries computes descriptive statistics for each numeric
// metric over the records that carry a known value. Metrics with fewer
// than two known values are omitted.
func buildSummaries(recs []record.ApplicationRecord) map[string]stats.Summary {
	series := make(map[string][]float64)
	for _, rec := range recs {
		if rec.GCSENines.Known {
			series[MetricGCSENines] = append(series[MetricGCSENines], float64(rec.GCSENines.Value))
		}
		for name, score := range map[string]record.Score{
			MetricTMUAPaper1:  rec.TMUA.Paper1,
			MetricTMUAPaper2:  rec.TMUA.Paper2,
			MetricTMUAOverall: rec.TMUA.Overall,
		} {
			if score.State == record.ScoreValid {
				series[name] = append(series[name], score.Value)
			}
		}
	}

	summaries := make(map[string]stats.Summary, len(series))
	for name, values := range series {
		if s, ok := stats.Summarize(values); ok {
			summaries[name] = s
		}
	}
	return summaries
}

// gradeFrequency tabulates the best-first grade tuples of records with
// at least one predicted grade.
func gradeFrequency(recs []record.ApplicationRecord) []stats.Frequency {
	var tuples []string
	for _, rec := range recs {
		if len(rec.PredictedGrades) > 0 {
			tuples = append(tuples, rec.GradeString())
		}
	}
	if len(tuples) == 0 {
		return nil
	}
	return stats.Frequencies(tuples)
}

// buildRecords normalizes assembled rows and assigns sequential IDs.
// IDs are positions in the emitted sequence; assigning them at this
// single point keeps them unique and stable for identical input bytes.
func buildRecords(
	layout *config.Layout,
	rows []extract.RawRow,
	year int,
	strict bool,
	logger *zap.Logger,
) ([]record.ApplicationRecord, []SkippedRow, error) {
	normalizer := normalize.New(layout)
	records := make([]record.ApplicationRecord, 0, len(rows))
	var skipped []SkippedRow
	for _, row := range rows {
		rec, err := normalizer.Normalize(row, year)
		if err != nil {
			var verr *normalize.ValidationError
			if errors.As(err, &verr) && !strict {
				logger.Warn("row skipped",
					zap.Int("page", verr.Page),
					zap.Int("row", verr.Row),
					zap.String("column", verr.Column),
					zap.String("cell", verr.Cell),
					zap.String("reason", verr.Reason))
				skipped = append(skipped, SkippedRow{Page: verr.Page, Row: verr.Row, Reason: verr.Reason})
				continue
			}
			return nil, nil, err
		}
		rec.ID = len(records) + 1
		records = append(records, rec)
	}
	return records, skipped, nil
}

// pageSource yields one page's positioned fragments. Satisfied by
// *pdfsource.Document.
type pageSource interface {
	PageFragments(page int) ([]pdfsource.Fragment, error)
}

// decodePages reads page fragments on a bounded worker pool. The first
// error cancels the remaining work.
func decodePages(ctx context.Context, doc pageSource, first, last, workers int) (map[int][]pdfsource.Fragment, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type pageResult struct {
		page  int
		frags []pdfsource.Fragment
		err   error
	}

	jobs := make(chan int)
	results := make(chan pageResult)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for page := range jobs {
				frags, err := doc.PageFragments(page)
				select {
				case results <- pageResult{page: page, frags: frags, err: err}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for page := first; page <= last; page++ {
			select {
			case jobs <- page:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	fragments := make(map[int][]pdfsource.Fragment, last-first+1)
	for res := range results {
		if res.err != nil {
			cancel()
			// Drain remaining workers.
			for range results {
			}
			return nil, fmt.Errorf("page %d: %w", res.page, res.err)
		}
		fragments[res.page] = res.frags
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fragments, nil
}

// assembleRows runs the extractor over pages in order, carrying any
// row left open across a page break as an explicit value.
func assembleRows(layout *config.Layout, fragments map[int][]pdfsource.Fragment, first, last int) ([]extract.RawRow, []extract.Warning, error) {
	extractor := extract.New(layout)
	var (
		rows     []extract.RawRow
		warnings []extract.Warning
		carry    *extract.PartialRow
	)
	for page := first; page <= last; page++ {
		pageRows, next, ws, err := extractor.ExtractPage(page, fragments[page], carry)
		if err != nil {
			return nil, nil, err
		}
		rows = append(rows, pageRows...)
		warnings = append(warnings, ws...)
		carry = next
	}
	final, ws := extractor.Finalize(carry)
	warnings = append(warnings, ws...)
	if final != nil {
		rows = append(rows, *final)
	}
	return rows, warnings, nil
}
