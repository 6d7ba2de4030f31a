package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camapply/admissions-stats/internal/config"
	"github.com/camapply/admissions-stats/internal/extract"
	"github.com/camapply/admissions-stats/internal/record"
)

func testLayout() *config.Layout {
	return &config.Layout{
		SchemaVersion: 1,
		FirstPage:     1,
		LastPage:      10,
		RowTolerance:  3,
		DriftLimit:    20,
		AnchorPattern: `^\d{6}$`,
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
		SuccessOutcomes: []string{"Original College Offer", "Other College Offer"},
	}
}

func rawRow(cells map[string]string) extract.RawRow {
	base := map[string]string{
		config.ColApplyID: "302936",
	}
	for k, v := range cells {
		base[k] = v
	}
	return extract.RawRow{Page: 3, Row: 1, Cells: base}
}

func TestNormalizeFullRow(t *testing.T) {
	n := New(testLayout())

	row := rawRow(map[string]string{
		config.ColGrades:        "Mathematics: A* Further Mathematics: A* Physics: A",
		config.ColGCSENines:     "9",
		config.ColTMUAPaper1:    "7.2",
		config.ColTMUAPaper2:    "6.8",
		config.ColTMUAOverall:   "7.0",
		config.ColOfferOriginal: "Y",
	})

	rec, err := n.Normalize(row, 2024)
	require.NoError(t, err)

	assert.Equal(t, 302936, rec.ApplyID)
	assert.Equal(t, 2024, rec.Year)
	assert.Equal(t, 3, rec.SourcePage)
	assert.Equal(t, 1, rec.SourceRow)

	require.Len(t, rec.PredictedGrades, 3)
	assert.Equal(t, record.SubjectGrade{Subject: "Mathematics", Grade: record.GradeAStar}, rec.PredictedGrades[0])
	assert.Equal(t, record.SubjectGrade{Subject: "Further Mathematics", Grade: record.GradeAStar}, rec.PredictedGrades[1])
	assert.Equal(t, record.SubjectGrade{Subject: "Physics", Grade: record.GradeA}, rec.PredictedGrades[2])
	assert.Equal(t, "A*A*A", rec.GradeString())

	assert.Equal(t, record.KnownCount(9), rec.GCSENines)
	assert.Equal(t, record.ValidScore(7.2), rec.TMUA.Paper1)
	assert.Equal(t, record.ValidScore(6.8), rec.TMUA.Paper2)
	assert.Equal(t, record.ValidScore(7.0), rec.TMUA.Overall)
	assert.Equal(t, record.OutcomeOriginalCollegeOffer, rec.Outcome)
}

func TestNormalizeYearColumnOverridesRunYear(t *testing.T) {
	n := New(testLayout())

	rec, err := n.Normalize(rawRow(map[string]string{config.ColYear: "2023"}), 2024)
	require.NoError(t, err)
	assert.Equal(t, 2023, rec.Year)

	rec, err = n.Normalize(rawRow(map[string]string{config.ColYear: "-"}), 2024)
	require.NoError(t, err)
	assert.Equal(t, 2024, rec.Year)
}

func TestNormalizeBlankCellsStayUnknown(t *testing.T) {
	n := New(testLayout())

	// Absent and dash-marked cells both mean unknown, never zero.
	for _, cells := range []map[string]string{
		{},
		{
			config.ColGrades:      "-",
			config.ColGCSENines:   "-",
			config.ColTMUAPaper1:  "-",
			config.ColTMUAPaper2:  "-",
			config.ColTMUAOverall: "-",
		},
	} {
		rec, err := n.Normalize(rawRow(cells), 2024)
		require.NoError(t, err)
		assert.Empty(t, rec.PredictedGrades)
		assert.False(t, rec.GCSENines.Known)
		assert.Equal(t, record.ScoreUnknown, rec.TMUA.Paper1.State)
		assert.Equal(t, record.ScoreUnknown, rec.TMUA.Paper2.State)
		assert.Equal(t, record.ScoreUnknown, rec.TMUA.Overall.State)
		assert.Equal(t, record.OutcomeRejected, rec.Outcome)
	}
}

func TestNormalizeZeroNinesIsKnown(t *testing.T) {
	n := New(testLayout())

	rec, err := n.Normalize(rawRow(map[string]string{config.ColGCSENines: "0"}), 2024)
	require.NoError(t, err)
	assert.True(t, rec.GCSENines.Known)
	assert.Equal(t, 0, rec.GCSENines.Value)
}

func TestNormalizeNotSatToken(t *testing.T) {
	n := New(testLayout())

	rec, err := n.Normalize(rawRow(map[string]string{
		config.ColTMUAPaper1:  "X",
		config.ColTMUAPaper2:  "X",
		config.ColTMUAOverall: "X",
	}), 2024)
	require.NoError(t, err)
	assert.Equal(t, record.ScoreNotSat, rec.TMUA.Paper1.State)
	assert.Equal(t, record.ScoreNotSat, rec.TMUA.Overall.State)
}

func TestNormalizeScoreOutOfRange(t *testing.T) {
	n := New(testLayout())

	// Out-of-range scores are rejected, never clamped into range.
	_, err := n.Normalize(rawRow(map[string]string{config.ColTMUAOverall: "9.7"}), 2024)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, config.ColTMUAOverall, verr.Column)
	assert.Equal(t, "9.7", verr.Cell)
	assert.Contains(t, verr.Reason, "misalignment")

	_, err = n.Normalize(rawRow(map[string]string{config.ColTMUAPaper1: "0.4"}), 2024)
	require.ErrorAs(t, err, &verr)
}

func TestNormalizeGradeCellErrors(t *testing.T) {
	n := New(testLayout())

	tests := []struct {
		name   string
		cell   string
		reason string
	}{
		{"unknown subject", "Basket Weaving: A", "not in the configured subject set"},
		{"unknown grade token", "Mathematics: F", "unrecognized grade token"},
		{"missing grade", "Mathematics:", "has no grade token"},
		{"trailing tokens", "Mathematics: A Physics", "trailing tokens"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize(rawRow(map[string]string{config.ColGrades: tt.cell}), 2024)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, config.ColGrades, verr.Column)
			assert.Contains(t, verr.Reason, tt.reason)
		})
	}
}

func TestNormalizeOutcomePrecedence(t *testing.T) {
	n := New(testLayout())

	tests := []struct {
		name  string
		cells map[string]string
		want  record.Outcome
	}{
		{"no markers", nil, record.OutcomeRejected},
		{"winter pool only", map[string]string{config.ColWinterPool: "Y"}, record.OutcomeWinterPool},
		{"other college only", map[string]string{config.ColOfferOther: "Y"}, record.OutcomeOtherCollegeOffer},
		{"original wins over pool", map[string]string{
			config.ColOfferOriginal: "Y",
			config.ColWinterPool:    "Y",
		}, record.OutcomeOriginalCollegeOffer},
		{"other wins over pool", map[string]string{
			config.ColOfferOther: "Y",
			config.ColWinterPool: "Y",
		}, record.OutcomeOtherCollegeOffer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := n.Normalize(rawRow(tt.cells), 2024)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.Outcome)
		})
	}
}

func TestNormalizeUnrecognizedMarker(t *testing.T) {
	n := New(testLayout())

	_, err := n.Normalize(rawRow(map[string]string{config.ColOfferOriginal: "maybe"}), 2024)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, config.ColOfferOriginal, verr.Column)
	assert.Contains(t, verr.Reason, "marker")
}

func TestNormalizeBadApplyID(t *testing.T) {
	n := New(testLayout())

	for _, cell := range []string{"", "abc", "-5"} {
		row := extract.RawRow{Page: 3, Row: 1, Cells: map[string]string{config.ColApplyID: cell}}
		_, err := n.Normalize(row, 2024)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr, "apply id %q", cell)
		assert.Equal(t, config.ColApplyID, verr.Column)
	}
}
