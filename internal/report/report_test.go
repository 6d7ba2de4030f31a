package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camapply/admissions-stats/internal/stats"
)

func sampleTable() stats.Table {
	half := 0.5
	zero := 0.0
	return stats.Table{
		Dimension: "predicted_grades",
		Policy:    "bucket = top-3 predicted grades; offer = {Original College Offer}",
		Buckets: map[string]stats.Cell{
			"AAA":               {Total: 2, Offers: 1, Rate: &half},
			"AAB":               {Total: 1, Offers: 0, Rate: &zero},
			stats.UnknownBucket: {Total: 0, Offers: 0},
		},
	}
}

func TestRenderText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderText(&buf, sampleTable()))
	out := buf.String()

	assert.Contains(t, out, "predicted_grades")
	assert.Contains(t, out, "bucket = top-3 predicted grades")
	assert.Contains(t, out, "50.0%")
	assert.Contains(t, out, "0.0%")
	// An empty bucket renders as unknown rather than a fake zero rate.
	assert.Contains(t, out, "unknown")

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	last := lines[len(lines)-1]
	assert.True(t, strings.HasPrefix(last, stats.UnknownBucket), "reserved buckets render last, got %q", last)
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleTable()))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)

	assert.Equal(t, []string{"bucket", "total", "offers", "offer_rate"}, records[0])
	assert.Equal(t, []string{"AAA", "2", "1", "0.5000"}, records[1])
	assert.Equal(t, []string{"AAB", "1", "0", "0.0000"}, records[2])
	assert.Equal(t, []string{stats.UnknownBucket, "0", "0", ""}, records[3])
}

func TestWriteJSONRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, sampleTable()))

	var decoded stats.Table
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "predicted_grades", decoded.Dimension)
	require.Contains(t, decoded.Buckets, "AAA")
	require.NotNil(t, decoded.Buckets["AAA"].Rate)
	assert.InDelta(t, 0.5, *decoded.Buckets["AAA"].Rate, 1e-9)
	// Unknown rate must stay absent, not decode as zero.
	assert.Nil(t, decoded.Buckets[stats.UnknownBucket].Rate)
}

func TestRenderSummaryText(t *testing.T) {
	summaries := map[string]stats.Summary{
		"tmua_overall": {Count: 4, Mean: 6.5, Median: 6.4, LowerQuartile: 5.9, UpperQuartile: 7.1, Min: 5.2, Max: 8.1},
	}
	freqs := []stats.Frequency{{Value: "AAA", Count: 3, Percent: 75}}

	var buf bytes.Buffer
	require.NoError(t, RenderSummaryText(&buf, summaries, freqs))
	out := buf.String()

	assert.Contains(t, out, "tmua_overall")
	assert.Contains(t, out, "6.50")
	assert.Contains(t, out, "AAA")
	assert.Contains(t, out, "75.0%")
}

func TestGeneratorWriteSummary(t *testing.T) {
	dir := t.TempDir()
	g := NewGenerator(dir)

	summaries := map[string]stats.Summary{"gcse_nines": {Count: 2, Mean: 6, Median: 6, Min: 4, Max: 8}}
	require.NoError(t, g.WriteSummary(summaries, nil))

	data, err := os.ReadFile(filepath.Join(dir, "summary.json"))
	require.NoError(t, err)

	var decoded struct {
		Summaries map[string]stats.Summary `json:"summaries"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 2, decoded.Summaries["gcse_nines"].Count)

	_, err = os.Stat(filepath.Join(dir, "summary.txt"))
	assert.NoError(t, err)
}

func TestGeneratorWriteAll(t *testing.T) {
	dir := t.TempDir()
	g := NewGenerator(dir)

	require.NoError(t, g.WriteAll([]stats.Table{sampleTable()}))

	for _, ext := range []string{".txt", ".csv", ".json"} {
		path := filepath.Join(dir, "predicted_grades"+ext)
		data, err := os.ReadFile(path)
		require.NoErrorf(t, err, "expected report file %s", path)
		assert.NotEmpty(t, data)
	}
}
