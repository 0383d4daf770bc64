package extraction

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// Table is a detected table: rows of cell text, "" for an absent cell
type Table [][]string

// Cell returns the text at row, col. Negative indexes count from the end.
func (t Table) Cell(row, col int) (string, bool) {
	r, ok := index(len(t), row)
	if !ok {
		return "", false
	}
	c, ok := index(len(t[r]), col)
	if !ok {
		return "", false
	}
	return t[r][c], true
}

// index resolves a possibly negative index against length n
func index(n, i int) (int, bool) {
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return 0, false
	}
	return i, true
}

// TableReader extracts the ruled tables of a PDF's first page
type TableReader interface {
	FirstPageTables(data []byte) ([]Table, error)
}

// PDFTableReader implements TableReader on top of ledongthuc/pdf
type PDFTableReader struct {
	detector Detector
}

// NewPDFTableReader creates a PDFTableReader with default detection tolerances
func NewPDFTableReader() *PDFTableReader {
	return &PDFTableReader{detector: DefaultDetector()}
}

// FirstPageTables returns the tables of page 1 ordered top to bottom, then left to right
func (p *PDFTableReader) FirstPageTables(data []byte) (tables []Table, err error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty PDF content")
	}

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}
	if r.NumPage() < 1 {
		return nil, fmt.Errorf("pdf has no pages")
	}

	page := r.Page(1)
	if page.V.IsNull() {
		return nil, fmt.Errorf("pdf first page is empty")
	}

	// ledongthuc/pdf panics on malformed content streams
	defer func() {
		if rec := recover(); rec != nil {
			tables = nil
			err = fmt.Errorf("reading pdf page content: %v", rec)
		}
	}()
	content := page.Content()

	// Content reports rectangles untransformed and drops stroked lines
	return p.detector.Detect(pageRulings(page), content.Text), nil
}
