package archive

import (
	"bytes"
	"errors"
	"fmt"
	"image/png"

	"github.com/gen2brain/go-fitz"
)

// ErrNoPreview is returned for documents that cannot be rendered as an image
var ErrNoPreview = errors.New("no preview available")

// Previewer renders the first page of a document
type Previewer interface {
	Preview(data []byte, contentType string) ([]byte, error)
}

// FitzPreviewer renders PDFs with MuPDF
type FitzPreviewer struct{}

// Preview returns the first page of a PDF as PNG
func (FitzPreviewer) Preview(data []byte, contentType string) ([]byte, error) {
	if contentType != "application/pdf" {
		return nil, fmt.Errorf("%s: %w", contentType, ErrNoPreview)
	}

	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}
