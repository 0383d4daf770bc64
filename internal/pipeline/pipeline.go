// Package pipeline turns a batch of uploaded invoice documents into canonical line items.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"golang.org/x/sync/errgroup"

	"github.com/zombor/cost-tracker/internal/extraction"
	"github.com/zombor/cost-tracker/internal/invoice"
)

// ErrEmptyBatch means no document in a batch produced a line item
var ErrEmptyBatch = errors.New("no valid data extracted")

// Route is the extraction path a document takes
type Route string

const (
	RouteXML     Route = "xml"
	RoutePDF     Route = "pdf"
	RouteSkipped Route = "skipped"
)

// RouteFor selects a route from the filename extension, case-insensitively
func RouteFor(filename string) Route {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xml":
		return RouteXML
	case ".pdf":
		return RoutePDF
	default:
		return RouteSkipped
	}
}

// Document is one uploaded file
type Document struct {
	Filename string
	Data     []byte
}

// DocumentResult is what one document contributed to a batch
type DocumentResult struct {
	Filename string `json:"filename"`
	Route    Route  `json:"route"`
	Layout   string `json:"layout,omitempty"`
	Rows     int    `json:"rows"`
	Error    string `json:"error,omitempty"`
}

// Batch is the canonical output of one upload
type Batch struct {
	Items     []invoice.LineItem
	Documents []DocumentResult
}

// Empty returns the documents that produced no rows
func (b *Batch) Empty() []DocumentResult {
	var out []DocumentResult
	for _, d := range b.Documents {
		if d.Rows == 0 {
			out = append(out, d)
		}
	}
	return out
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Pipeline routes documents to the XML extractor or the layout dispatcher and
// assembles what they return
type Pipeline struct {
	reader      extraction.TableReader
	dispatcher  *extraction.Dispatcher
	timeSource  TimeSource
	concurrency int
}

// New creates a sequential Pipeline stamping rows with today's date
func New(reader extraction.TableReader, dispatcher *extraction.Dispatcher) *Pipeline {
	return NewWithDeps(reader, dispatcher, &defaultTimeSource{}, 1)
}

// NewConcurrent creates a Pipeline extracting up to concurrency documents at once
func NewConcurrent(reader extraction.TableReader, dispatcher *extraction.Dispatcher, concurrency int) *Pipeline {
	return NewWithDeps(reader, dispatcher, &defaultTimeSource{}, concurrency)
}

// NewWithDeps creates a Pipeline with custom dependencies. A concurrency above
// one extracts that many documents in parallel.
func NewWithDeps(reader extraction.TableReader, dispatcher *extraction.Dispatcher, timeSrc TimeSource, concurrency int) *Pipeline {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pipeline{
		reader:      reader,
		dispatcher:  dispatcher,
		timeSource:  timeSrc,
		concurrency: concurrency,
	}
}

type extracted struct {
	items  []invoice.RawLineItem
	result DocumentResult
}

// Process extracts and assembles a batch. Rows keep document order, then
// source row order. When nothing was extracted the batch is still returned,
// alongside ErrEmptyBatch.
func (p *Pipeline) Process(ctx context.Context, docs []Document) (*Batch, error) {
	results := make([]extracted, len(docs))

	if p.concurrency == 1 {
		for i, doc := range docs {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			results[i] = p.extract(doc)
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.concurrency)
		for i, doc := range docs {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				results[i] = p.extract(doc)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	var raws []invoice.RawLineItem
	batch := &Batch{Documents: make([]DocumentResult, 0, len(docs))}
	for _, r := range results {
		raws = append(raws, r.items...)
		batch.Documents = append(batch.Documents, r.result)
	}

	if len(raws) == 0 {
		return batch, fmt.Errorf("%w from %d documents", ErrEmptyBatch, len(docs))
	}

	batch.Items = Assemble(raws, civil.DateOf(p.timeSource.Now()))
	return batch, nil
}

func (p *Pipeline) extract(doc Document) extracted {
	out := extracted{result: DocumentResult{Filename: doc.Filename, Route: RouteFor(doc.Filename)}}

	switch out.result.Route {
	case RouteXML:
		items, err := extraction.ExtractNFe(bytes.NewReader(doc.Data), doc.Filename)
		if err != nil {
			slog.Warn("Skipping malformed document", "filename", doc.Filename, "reason", err)
			out.result.Error = err.Error()
			return out
		}
		out.items = items

	case RoutePDF:
		tables, err := p.reader.FirstPageTables(doc.Data)
		if err != nil {
			slog.Warn("Skipping unreadable PDF", "filename", doc.Filename, "reason", err)
			out.result.Error = fmt.Errorf("%w: %w", extraction.ErrLayoutExhausted, err).Error()
			return out
		}
		match := p.dispatcher.Dispatch(tables)
		if !match.Matched() {
			slog.Warn("No layout matched", "filename", doc.Filename, "tables", len(tables), "reason", match.Err())
			out.result.Error = match.Err().Error()
			return out
		}
		slog.Info("Layout matched", "filename", doc.Filename, "layout", match.Layout, "rows", len(match.Items))
		out.items = match.Items
		out.result.Layout = match.Layout

	default:
		slog.Debug("Skipping unsupported file", "filename", doc.Filename)
		return out
	}

	out.result.Rows = len(out.items)
	return out
}
