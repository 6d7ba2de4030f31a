package extract

import "fmt"

// ExtractionError reports a page whose fragment positions no longer
// match the configured column bounds. It is fatal to the run: once the
// fixed-layout assumption breaks, no further row can be trusted.
type ExtractionError struct {
	Page   int
	Detail string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed on page %d: %s", e.Page, e.Detail)
}

// Warning reports a recoverable extraction anomaly, such as an
// ambiguous continuation merge or a partially filled row. Warnings are
// surfaced to the caller with provenance and never resolved silently.
type Warning struct {
	Page   int    `json:"page"`
	Row    int    `json:"row,omitempty"`
	Detail string `json:"detail"`
}

func (w Warning) String() string {
	if w.Row > 0 {
		return fmt.Sprintf("page %d row %d: %s", w.Page, w.Row, w.Detail)
	}
	return fmt.Sprintf("page %d: %s", w.Page, w.Detail)
}
