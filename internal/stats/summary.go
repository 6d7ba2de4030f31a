package stats

import (
	"sort"
)

// Summary holds descriptive statistics for one numeric series.
type Summary struct {
	Count         int     `json:"count"`
	Mean          float64 `json:"mean"`
	Median        float64 `json:"median"`
	LowerQuartile float64 `json:"lower_quartile"`
	UpperQuartile float64 `json:"upper_quartile"`
	Min           float64 `json:"min"`
	Max           float64 `json:"max"`
}

// Summarize computes descriptive statistics over the series. It returns
// false when the series has fewer than two values, where quartiles are
// undefined.
func Summarize(values []float64) (Summary, bool) {
	if len(values) < 2 {
		return Summary{}, false
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}

	return Summary{
		Count:         len(sorted),
		Mean:          sum / float64(len(sorted)),
		Median:        quantile(sorted, 2),
		LowerQuartile: quantile(sorted, 1),
		UpperQuartile: quantile(sorted, 3),
		Min:           sorted[0],
		Max:           sorted[len(sorted)-1],
	}, true
}

// quantile interpolates the k-th quartile (k in 1..3) of a sorted
// series using exclusive plotting positions.
func quantile(sorted []float64, k int) float64 {
	n := len(sorted)
	pos := float64(n+1) * float64(k) / 4.0
	if pos <= 1 {
		return sorted[0]
	}
	if pos >= float64(n) {
		return sorted[n-1]
	}
	i := int(pos)
	frac := pos - float64(i)
	return sorted[i-1] + frac*(sorted[i]-sorted[i-1])
}

// Frequency is one row of a value frequency table.
type Frequency struct {
	Value   string  `json:"value"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

// Frequencies tabulates value counts with percentages, most common
// first, ties broken by value for stable output.
func Frequencies(values []string) []Frequency {
	counts := make(map[string]int)
	for _, v := range values {
		counts[v]++
	}
	out := make([]Frequency, 0, len(counts))
	for v, c := range counts {
		out = append(out, Frequency{
			Value:   v,
			Count:   c,
			Percent: float64(c) / float64(len(values)) * 100,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	return out
}
