package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camapply/admissions-stats/internal/config"
	"github.com/camapply/admissions-stats/internal/pdfsource"
)

func testLayout() *config.Layout {
	return &config.Layout{
		SchemaVersion: 1,
		FirstPage:     1,
		LastPage:      10,
		RowTolerance:  3,
		DriftLimit:    20,
		AnchorPattern: `^\d{6}$`,
		HeaderMinY:    760,
		Columns: []config.ColumnBound{
			{Name: config.ColYear, MinX: 20, MaxX: 60},
			{Name: config.ColApplyID, MinX: 60, MaxX: 120, Required: true},
			{Name: config.ColGrades, MinX: 120, MaxX: 320},
			{Name: config.ColGCSENines, MinX: 320, MaxX: 360},
			{Name: config.ColTMUAPaper1, MinX: 360, MaxX: 400},
			{Name: config.ColTMUAPaper2, MinX: 400, MaxX: 440},
			{Name: config.ColTMUAOverall, MinX: 440, MaxX: 480},
			{Name: config.ColOfferOriginal, MinX: 480, MaxX: 520},
			{Name: config.ColOfferOther, MinX: 520, MaxX: 560},
			{Name: config.ColWinterPool, MinX: 560, MaxX: 600},
		},
		Subjects:        []string{"Mathematics", "Further Mathematics", "Physics"},
		GradeTokens:     []string{"A*", "A", "B", "C", "D", "E"},
		OfferMarkers:    []string{"Y"},
		NotSatToken:     "X",
		BlankTokens:     []string{"-"},
		SuccessOutcomes: []string{"Original College Offer"},
	}
}

func frag(text string, x, y float64) pdfsource.Fragment {
	return pdfsource.Fragment{Text: text, X: x, Y: y, W: 20, H: 10}
}

// anchorRow builds the fragments of one complete single-line row.
func anchorRow(y float64, applyID string) []pdfsource.Fragment {
	return []pdfsource.Fragment{
		frag("2024", 25, y),
		frag(applyID, 70, y),
		frag("Mathematics:", 130, y),
		frag("A*", 180, y),
		frag("Physics:", 200, y),
		frag("A", 250, y),
		frag("5", 330, y),
		frag("7.2", 365, y),
		frag("6.8", 405, y),
		frag("7.0", 445, y),
		frag("Y", 490, y),
	}
}

func TestExtractPageSingleRows(t *testing.T) {
	e := New(testLayout())

	frags := append(anchorRow(700, "302936"), anchorRow(680, "302937")...)
	rows, carry, warnings, err := e.ExtractPage(3, frags, nil)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	// The last row stays open for a possible page-break continuation.
	require.Len(t, rows, 1)
	require.NotNil(t, carry)

	final, ws := e.Finalize(carry)
	assert.Empty(t, ws)
	require.NotNil(t, final)

	first := rows[0]
	assert.Equal(t, 3, first.Page)
	assert.Equal(t, 1, first.Row)
	assert.Equal(t, "302936", first.Cell(config.ColApplyID))
	assert.Equal(t, "Mathematics: A* Physics: A", first.Cell(config.ColGrades))
	assert.Equal(t, "5", first.Cell(config.ColGCSENines))
	assert.Equal(t, "Y", first.Cell(config.ColOfferOriginal))
	assert.Equal(t, "", first.Cell(config.ColOfferOther))

	assert.Equal(t, "302937", final.Cell(config.ColApplyID))
	assert.Equal(t, 2, final.Row)
}

func TestExtractPageWrappedCells(t *testing.T) {
	e := New(testLayout())

	frags := anchorRow(700, "302936")
	// A wrapped second line of the grades cell, just below the row.
	frags = append(frags,
		frag("Further", 130, 695),
		frag("Mathematics:", 170, 695),
		frag("A*", 230, 695),
	)
	_, carry, warnings, err := e.ExtractPage(3, frags, nil)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	final, _ := e.Finalize(carry)
	require.NotNil(t, final)
	assert.Equal(t, "Mathematics: A* Physics: A Further Mathematics: A*", final.Cell(config.ColGrades))
}

func TestExtractPageBlankSeparatorsYieldNoRows(t *testing.T) {
	e := New(testLayout())

	// Only header-band furniture; a separator page between sections.
	frags := []pdfsource.Fragment{
		frag("Applications", 130, 800),
		frag("by", 180, 800),
		frag("TMUA", 200, 800),
	}
	rows, carry, warnings, err := e.ExtractPage(5, frags, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Nil(t, carry)
	assert.Empty(t, warnings)

	// A fully empty page behaves the same.
	rows, carry, warnings, err = e.ExtractPage(6, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Nil(t, carry)
	assert.Empty(t, warnings)
}

func TestExtractPageContinuationAcrossPageBreak(t *testing.T) {
	e := New(testLayout())

	// Page 3 ends with an open row.
	_, carry, _, err := e.ExtractPage(3, anchorRow(100, "302936"), nil)
	require.NoError(t, err)
	require.NotNil(t, carry)

	// Page 4 starts with the row's wrapped tail, then a fresh row.
	page4 := []pdfsource.Fragment{
		frag("Further", 130, 700),
		frag("Mathematics:", 170, 700),
		frag("A*", 230, 700),
	}
	page4 = append(page4, anchorRow(680, "302937")...)

	rows, carry, warnings, err := e.ExtractPage(4, page4, carry)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	// The stitched row is emitted once page 4's first anchor appears,
	// flagged as continued rather than silently merged.
	require.Len(t, rows, 1)
	stitched := rows[0]
	assert.True(t, stitched.Continued)
	assert.Equal(t, 3, stitched.Page)
	assert.Equal(t, "302936", stitched.Cell(config.ColApplyID))
	assert.Equal(t, "Mathematics: A* Physics: A Further Mathematics: A*", stitched.Cell(config.ColGrades))

	final, _ := e.Finalize(carry)
	require.NotNil(t, final)
	assert.Equal(t, "302937", final.Cell(config.ColApplyID))
	assert.False(t, final.Continued, "nothing merged into the last row")
}

func TestExtractPageCarryWithoutContinuationNotFlagged(t *testing.T) {
	e := New(testLayout())

	// Page 3's last row is complete on its own line.
	_, carry, _, err := e.ExtractPage(3, anchorRow(100, "302936"), nil)
	require.NoError(t, err)
	require.NotNil(t, carry)

	// Page 4 opens directly with a fresh anchor; no continuation line
	// ever merges into the carried row.
	rows, carry, warnings, err := e.ExtractPage(4, anchorRow(700, "302937"), carry)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, rows, 1)
	assert.Equal(t, "302936", rows[0].Cell(config.ColApplyID))
	assert.False(t, rows[0].Continued, "carried row closed without a merge must not be flagged")

	final, _ := e.Finalize(carry)
	require.NotNil(t, final)
	assert.False(t, final.Continued)
}

func TestFinalizeKeepsContinuedFlagAfterMerge(t *testing.T) {
	e := New(testLayout())

	_, carry, _, err := e.ExtractPage(3, anchorRow(100, "302936"), nil)
	require.NoError(t, err)
	require.NotNil(t, carry)

	// The final page holds only the wrapped tail; the document ends
	// before any further anchor.
	tail := []pdfsource.Fragment{
		frag("Further", 130, 700),
		frag("Mathematics:", 170, 700),
		frag("A*", 230, 700),
	}
	rows, carry, _, err := e.ExtractPage(4, tail, carry)
	require.NoError(t, err)
	assert.Empty(t, rows)
	require.NotNil(t, carry)

	final, _ := e.Finalize(carry)
	require.NotNil(t, final)
	assert.True(t, final.Continued)
	assert.Equal(t, "Mathematics: A* Physics: A Further Mathematics: A*", final.Cell(config.ColGrades))
}

func TestExtractPageCarrySurvivesBlankPage(t *testing.T) {
	e := New(testLayout())

	_, carry, _, err := e.ExtractPage(3, anchorRow(100, "302936"), nil)
	require.NoError(t, err)
	require.NotNil(t, carry)

	rows, carry, _, err := e.ExtractPage(4, nil, carry)
	require.NoError(t, err)
	assert.Empty(t, rows)
	require.NotNil(t, carry, "carry must survive an intervening blank page")

	final, _ := e.Finalize(carry)
	require.NotNil(t, final)
	assert.Equal(t, "302936", final.Cell(config.ColApplyID))
}

func TestExtractPageLayoutDrift(t *testing.T) {
	layout := testLayout()
	layout.DriftLimit = 2
	e := New(layout)

	frags := anchorRow(700, "302936")
	// Fragments far outside every configured column bound.
	frags = append(frags,
		frag("stray", 700, 690),
		frag("stray", 710, 670),
		frag("stray", 720, 650),
	)

	_, _, _, err := e.ExtractPage(3, frags, nil)
	require.Error(t, err)
	var extErr *ExtractionError
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, 3, extErr.Page)
	assert.Contains(t, extErr.Detail, "layout drift")
}

func TestExtractPageUnanchoredLineWarns(t *testing.T) {
	e := New(testLayout())

	frags := anchorRow(700, "302936")
	// In-column line too far below the open row to be a wrapped cell.
	frags = append(frags, frag("orphan", 130, 650))

	rows, carry, warnings, err := e.ExtractPage(3, frags, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
	require.NotNil(t, carry)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Detail, "too far below")
}

func TestFinalizeDropsIncompleteRow(t *testing.T) {
	layout := testLayout()
	for i := range layout.Columns {
		if layout.Columns[i].Name == config.ColGrades {
			layout.Columns[i].Required = true
		}
	}
	e := New(layout)

	frags := []pdfsource.Fragment{
		frag("2024", 25, 700),
		frag("302936", 70, 700),
	}
	_, carry, _, err := e.ExtractPage(3, frags, nil)
	require.NoError(t, err)
	require.NotNil(t, carry)

	final, warnings := e.Finalize(carry)
	assert.Nil(t, final)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Detail, "missing required columns")
}

func TestFinalizeNilCarry(t *testing.T) {
	e := New(testLayout())
	final, warnings := e.Finalize(nil)
	assert.Nil(t, final)
	assert.Empty(t, warnings)
}
