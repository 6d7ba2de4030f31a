// Package pdfsource turns a PDF byte stream into per-page positioned
// text fragments. It is the only package aware of the PDF toolkit; the
// extractor sees nothing but fragments with coordinates.
package pdfsource

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

const (
	// Default height when the toolkit reports no font size.
	defaultFragmentHeight = 12.0

	// Glyphs on one line separated by more than this fraction of the
	// font size belong to different words.
	wordGapFactor = 0.3

	// Y difference within which two glyphs share a baseline.
	baselineTolerance = 0.1
)

// Fragment is one positioned piece of page text. Coordinates are PDF
// user-space points with the origin at the lower-left page corner.
type Fragment struct {
	Text     string  `json:"text"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	W        float64 `json:"w"`
	H        float64 `json:"h"`
	Font     string  `json:"font,omitempty"`
	FontSize float64 `json:"font_size,omitempty"`
}

// Document wraps an opened, validated PDF document.
type Document struct {
	reader *pdf.Reader
}

// Open validates the supplied PDF bytes and prepares them for page
// fragment extraction. Validation failures are fatal: a stream that is
// not a well-formed PDF cannot satisfy the fixed-layout assumption.
func Open(data []byte) (*Document, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty PDF byte stream")
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	ctx, err := api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF structure: %w", err)
	}
	if err := api.ValidateContext(ctx); err != nil {
		return nil, fmt.Errorf("PDF validation failed: %w", err)
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}

	return &Document{reader: reader}, nil
}

// PageCount returns the number of pages in the document.
func (d *Document) PageCount() int {
	return d.reader.NumPage()
}

// PageFragments extracts the positioned word fragments of one page.
// Page numbers are 1-based.
func (d *Document) PageFragments(pageNum int) ([]Fragment, error) {
	if pageNum < 1 || pageNum > d.reader.NumPage() {
		return nil, fmt.Errorf("invalid page number %d (document has %d pages)", pageNum, d.reader.NumPage())
	}

	page := d.reader.Page(pageNum)
	if page.V.IsNull() {
		return nil, nil
	}

	return coalesceWords(page.Content().Text), nil
}

// coalesceWords merges the per-glyph text items the toolkit emits into
// word fragments. A glyph continues the current word when it sits on
// the same baseline, in the same font, and starts where the previous
// glyph ended; an explicit space, a line change, or a wider gap starts
// a new word.
func coalesceWords(texts []pdf.Text) []Fragment {
	var fragments []Fragment
	var cur *Fragment

	flush := func() {
		if cur != nil {
			fragments = append(fragments, *cur)
		}
		cur = nil
	}

	for _, text := range texts {
		if strings.TrimSpace(text.S) == "" {
			flush()
			continue
		}
		if cur != nil && continuesWord(cur, text) {
			cur.Text += text.S
			if end := text.X + text.W; end > cur.X+cur.W {
				cur.W = end - cur.X
			}
			continue
		}
		flush()
		// The toolkit does not report text height; the font size is a
		// workable approximation.
		height := text.FontSize
		if height == 0 {
			height = defaultFragmentHeight
		}
		cur = &Fragment{
			Text:     text.S,
			X:        text.X,
			Y:        text.Y,
			W:        text.W,
			H:        height,
			Font:     text.Font,
			FontSize: text.FontSize,
		}
	}
	flush()
	return fragments
}

func continuesWord(cur *Fragment, text pdf.Text) bool {
	if text.Font != cur.Font || math.Abs(text.Y-cur.Y) > baselineTolerance {
		return false
	}
	gap := wordGapFactor * cur.H
	if gap < 1 {
		gap = 1
	}
	return text.X >= cur.X && text.X-(cur.X+cur.W) <= gap
}
