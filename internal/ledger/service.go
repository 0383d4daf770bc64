// Package ledger ties the extraction pipeline to the store and serves it over HTTP.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/zombor/cost-tracker/internal/archive"
	"github.com/zombor/cost-tracker/internal/invoice"
	"github.com/zombor/cost-tracker/internal/pipeline"
	"github.com/zombor/cost-tracker/internal/store"
)

// ErrInvalidInput marks a request the caller has to fix
var ErrInvalidInput = errors.New("invalid input")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// IDGenerator generates unique IDs for uploaded documents
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// Processor turns uploaded documents into canonical line items
type Processor interface {
	Process(ctx context.Context, docs []pipeline.Document) (*pipeline.Batch, error)
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service handles ledger operations
type Service struct {
	store       store.Store
	processor   Processor
	storage     archive.Storage
	previewer   archive.Previewer
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a Service with uuid document ids and the wall clock
func NewService(st store.Store, processor Processor, storage archive.Storage, previewer archive.Previewer) *Service {
	return NewServiceWithDeps(st, processor, storage, previewer, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a Service with custom dependencies for testing
func NewServiceWithDeps(st store.Store, processor Processor, storage archive.Storage, previewer archive.Previewer, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		store:       st,
		processor:   processor,
		storage:     storage,
		previewer:   previewer,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

func (s *Service) today() civil.Date {
	return civil.DateOf(s.timeSource.Now())
}

// UploadResult summarizes one upload
type UploadResult struct {
	Message   string                    `json:"message"`
	Rows      int                       `json:"rows"`
	Files     int                       `json:"files"`
	Documents []pipeline.DocumentResult `json:"documents"`
}

type archived struct {
	id   string
	path string
}

// Upload archives the documents, extracts them and appends every row in one
// transaction. A batch that produced nothing fails with pipeline.ErrEmptyBatch
// but its documents stay archived and registered.
func (s *Service) Upload(ctx context.Context, docs []pipeline.Document) (*UploadResult, error) {
	if len(docs) == 0 {
		return nil, invalid("no files uploaded")
	}
	now := s.timeSource.Now()

	saved := make([]archived, len(docs))
	for i, doc := range docs {
		if pipeline.RouteFor(doc.Filename) == pipeline.RouteSkipped {
			continue
		}
		id := s.idGenerator.Generate()
		path, err := s.storage.Save(archive.Name(id, doc.Filename), doc.Data)
		if err != nil {
			s.discard(saved)
			return nil, fmt.Errorf("archiving %s: %w", doc.Filename, err)
		}
		saved[i] = archived{id: id, path: path}
	}

	batch, err := s.processor.Process(ctx, docs)
	if errors.Is(err, pipeline.ErrEmptyBatch) {
		s.register(ctx, docs, saved, batch, now)
		return nil, err
	}
	if err != nil {
		s.discard(saved)
		return nil, fmt.Errorf("processing upload: %w", err)
	}

	items, err := s.store.AppendLineItems(ctx, batch.Items)
	if err != nil {
		s.discard(saved)
		return nil, fmt.Errorf("saving line items: %w", err)
	}
	s.register(ctx, docs, saved, batch, now)

	slog.Info("Upload processed", "files", len(docs), "rows", len(items), "empty_documents", len(batch.Empty()))
	return &UploadResult{
		Message:   fmt.Sprintf("%d rows saved from %d files", len(items), len(docs)),
		Rows:      len(items),
		Files:     len(docs),
		Documents: batch.Documents,
	}, nil
}

func (s *Service) discard(saved []archived) {
	for _, a := range saved {
		if a.path == "" {
			continue
		}
		if err := s.storage.Delete(a.path); err != nil {
			slog.Warn("Failed to delete archived document", "path", a.path, "error", err)
		}
	}
}

// register records archived documents; failures are logged since the rows are already committed
func (s *Service) register(ctx context.Context, docs []pipeline.Document, saved []archived, batch *pipeline.Batch, now time.Time) {
	for i, a := range saved {
		if a.path == "" {
			continue
		}
		d := invoice.Document{
			ID:          a.id,
			Filename:    docs[i].Filename,
			ArchivePath: a.path,
			ContentType: archive.ContentType(docs[i].Filename),
			Route:       string(pipeline.RouteFor(docs[i].Filename)),
			UploadedAt:  now,
		}
		if batch != nil && i < len(batch.Documents) {
			d.Layout = batch.Documents[i].Layout
			d.Rows = batch.Documents[i].Rows
		}
		if err := s.store.SaveDocument(ctx, d); err != nil {
			slog.Warn("Failed to register document", "filename", d.Filename, "error", err)
		}
	}
}

// ListDocuments returns the upload registry, newest first
func (s *Service) ListDocuments(ctx context.Context) ([]invoice.Document, error) {
	docs, err := s.store.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	return docs, nil
}

// DocumentFile returns an archived document and its content type
func (s *Service) DocumentFile(ctx context.Context, id string) ([]byte, string, error) {
	d, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return nil, "", fmt.Errorf("getting document: %w", err)
	}
	data, err := s.storage.Get(d.ArchivePath)
	if err != nil {
		return nil, "", fmt.Errorf("getting document file: %w", err)
	}
	return data, d.ContentType, nil
}

// DocumentPreview renders the first page of an archived PDF as PNG
func (s *Service) DocumentPreview(ctx context.Context, id string) ([]byte, error) {
	data, contentType, err := s.DocumentFile(ctx, id)
	if err != nil {
		return nil, err
	}
	png, err := s.previewer.Preview(data, contentType)
	if err != nil {
		return nil, fmt.Errorf("previewing document: %w", err)
	}
	return png, nil
}
