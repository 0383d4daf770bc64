package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/zombor/cost-tracker/internal/archive"
	"github.com/zombor/cost-tracker/internal/invoice"
	"github.com/zombor/cost-tracker/internal/pipeline"
	"github.com/zombor/cost-tracker/internal/store"
)

// maxUploadSize bounds multipart uploads
const maxUploadSize = int64(50 << 20) // 50MB

// writeJSON writes v as a JSON response
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes {"error": message}
func writeError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

// writeMessage writes {"message": message}
func writeMessage(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"message": message})
}

// fail maps a service error onto a status code
func fail(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, pipeline.ErrEmptyBatch):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, archive.ErrNoPreview):
		writeError(w, err.Error(), http.StatusNotFound)
	default:
		slog.Error("Error "+action, "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, invalid("%s must be a positive integer", name)
	}
	return id, nil
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return invalid("invalid request body: %v", err)
	}
	return nil
}

// handleHealth reports liveness
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleUpload extracts line items from the files[] of a multipart form
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		writeError(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	headers := r.MultipartForm.File["files[]"]
	if len(headers) == 0 {
		writeError(w, "No files found", http.StatusBadRequest)
		return
	}

	docs := make([]pipeline.Document, 0, len(headers))
	for _, header := range headers {
		f, err := header.Open()
		if err != nil {
			fail(w, "opening upload", err)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			fail(w, "reading upload", fmt.Errorf("reading %s: %w", header.Filename, err))
			return
		}
		docs = append(docs, pipeline.Document{Filename: header.Filename, Data: data})
	}

	result, err := s.service.Upload(r.Context(), docs)
	if err != nil {
		fail(w, "processing upload", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.service.ListDocuments(r.Context())
	if err != nil {
		fail(w, "listing documents", err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleDocumentFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.DocumentFile(r.Context(), r.PathValue("id"))
	if err != nil {
		fail(w, "getting document file", err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

func (s *Server) handleDocumentPreview(w http.ResponseWriter, r *http.Request) {
	png, err := s.service.DocumentPreview(r.Context(), r.PathValue("id"))
	if err != nil {
		fail(w, "previewing document", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

func (s *Server) handleMaterialCosts(w http.ResponseWriter, r *http.Request) {
	rows, err := s.service.MaterialCosts(r.Context())
	if err != nil {
		fail(w, "computing material costs", err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleListLineItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListLineItems(r.Context())
	if err != nil {
		fail(w, "listing line items", err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleUpdateLineItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		fail(w, "updating line item", err)
		return
	}
	var patch invoice.LineItemPatch
	if err := decode(r, &patch); err != nil {
		fail(w, "updating line item", err)
		return
	}
	item, err := s.service.UpdateLineItem(r.Context(), id, patch)
	if err != nil {
		fail(w, "updating line item", err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleDeleteLineItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err == nil {
		err = s.service.DeleteLineItem(r.Context(), id)
	}
	if err != nil {
		fail(w, "deleting line item", err)
		return
	}
	writeMessage(w, http.StatusOK, fmt.Sprintf("line item %d deleted", id))
}

func (s *Server) handleDeleteAllLineItems(w http.ResponseWriter, r *http.Request) {
	n, err := s.service.DeleteAllLineItems(r.Context())
	if err != nil {
		fail(w, "deleting line items", err)
		return
	}
	writeMessage(w, http.StatusOK, fmt.Sprintf("%d line items deleted", n))
}

// handleManualEntries accepts one entry object or an array of them
func (s *Server) handleManualEntries(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		fail(w, "reading manual entries", invalid("reading body: %v", err))
		return
	}

	var entries []ManualEntry
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '{' {
		var entry ManualEntry
		err = json.Unmarshal(trimmed, &entry)
		entries = []ManualEntry{entry}
	} else {
		err = json.Unmarshal(trimmed, &entries)
	}
	if err != nil {
		fail(w, "decoding manual entries", invalid("invalid request body: %v", err))
		return
	}

	n, err := s.service.AddManualEntries(r.Context(), entries)
	if err != nil {
		fail(w, "adding manual entries", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("%d of %d entries saved", n, len(entries)),
		"rows":    n,
	})
}

func (s *Server) handleUpsertMapping(w http.ResponseWriter, r *http.Request) {
	var m invoice.AttributeMapping
	if err := decode(r, &m); err != nil {
		fail(w, "saving attribute mapping", err)
		return
	}
	created, err := s.service.UpsertMapping(r.Context(), m)
	if err != nil {
		fail(w, "saving attribute mapping", err)
		return
	}
	if created {
		writeMessage(w, http.StatusCreated, fmt.Sprintf("attribute mapping for %q created", m.ProductDescription))
		return
	}
	writeMessage(w, http.StatusOK, fmt.Sprintf("attribute mapping for %q updated", m.ProductDescription))
}

func (s *Server) handleListMappings(w http.ResponseWriter, r *http.Request) {
	mappings, err := s.service.ListMappings(r.Context())
	if err != nil {
		fail(w, "listing attribute mappings", err)
		return
	}
	writeJSON(w, http.StatusOK, mappings)
}

func (s *Server) handleDeleteMapping(w http.ResponseWriter, r *http.Request) {
	description := r.PathValue("description")
	if err := s.service.DeleteMapping(r.Context(), description); err != nil {
		fail(w, "deleting attribute mapping", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// materialRequest is the body of material create and update requests
type materialRequest struct {
	LineItemID   int64               `json:"line_item_id"`
	QuantityUsed decimal.NullDecimal `json:"quantity_used"`
	Unit         string              `json:"unit"`
}

func (m materialRequest) material() invoice.ProductMaterial {
	return invoice.ProductMaterial{LineItemID: m.LineItemID, QuantityUsed: m.QuantityUsed, Unit: m.Unit}
}

func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string            `json:"name"`
		Materials []materialRequest `json:"materials"`
	}
	if err := decode(r, &req); err != nil {
		fail(w, "creating product", err)
		return
	}
	materials := make([]invoice.ProductMaterial, 0, len(req.Materials))
	for _, m := range req.Materials {
		materials = append(materials, m.material())
	}

	p, err := s.service.CreateProduct(r.Context(), req.Name, materials)
	if err != nil {
		fail(w, "creating product", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.service.ListProducts(r.Context())
	if err != nil {
		fail(w, "listing products", err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		fail(w, "getting product", err)
		return
	}
	p, err := s.service.GetProduct(r.Context(), id)
	if err != nil {
		fail(w, "getting product", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleRenameProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		fail(w, "renaming product", err)
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := decode(r, &req); err != nil {
		fail(w, "renaming product", err)
		return
	}
	if err := s.service.RenameProduct(r.Context(), id, req.Name); err != nil {
		fail(w, "renaming product", err)
		return
	}
	writeMessage(w, http.StatusOK, fmt.Sprintf("product %d renamed", id))
}

func (s *Server) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err == nil {
		err = s.service.DeleteProduct(r.Context(), id)
	}
	if err != nil {
		fail(w, "deleting product", err)
		return
	}
	writeMessage(w, http.StatusOK, fmt.Sprintf("product %d deleted", id))
}

func (s *Server) handleAddMaterial(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		fail(w, "adding material", err)
		return
	}
	var req materialRequest
	if err := decode(r, &req); err != nil {
		fail(w, "adding material", err)
		return
	}
	m, err := s.service.AddMaterial(r.Context(), id, req.material())
	if err != nil {
		fail(w, "adding material", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleUpdateMaterial(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		fail(w, "updating material", err)
		return
	}
	mid, err := pathID(r, "mid")
	if err != nil {
		fail(w, "updating material", err)
		return
	}
	var req materialRequest
	if err := decode(r, &req); err != nil {
		fail(w, "updating material", err)
		return
	}
	if err := s.service.UpdateMaterial(r.Context(), id, mid, req.material()); err != nil {
		fail(w, "updating material", err)
		return
	}
	writeMessage(w, http.StatusOK, fmt.Sprintf("material %d of product %d updated", mid, id))
}

func (s *Server) handleRemoveMaterial(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		fail(w, "removing material", err)
		return
	}
	mid, err := pathID(r, "mid")
	if err != nil {
		fail(w, "removing material", err)
		return
	}
	if err := s.service.RemoveMaterial(r.Context(), id, mid); err != nil {
		fail(w, "removing material", err)
		return
	}
	writeMessage(w, http.StatusOK, fmt.Sprintf("material %d removed from product %d", mid, id))
}

func (s *Server) handleRemoveAllMaterials(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		fail(w, "removing materials", err)
		return
	}
	n, err := s.service.RemoveAllMaterials(r.Context(), id)
	if err != nil {
		fail(w, "removing materials", err)
		return
	}
	writeMessage(w, http.StatusOK, fmt.Sprintf("%d materials removed from product %d", n, id))
}

func (s *Server) handleIssuerSuggestions(w http.ResponseWriter, r *http.Request) {
	out, err := s.service.IssuerSuggestions(r.Context())
	if err != nil {
		fail(w, "listing issuer suggestions", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleProductCodeSuggestions(w http.ResponseWriter, r *http.Request) {
	out, err := s.service.ProductCodeSuggestions(r.Context())
	if err != nil {
		fail(w, "listing product code suggestions", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// importFile reads the "file" field of a multipart form
func importFile(w http.ResponseWriter, r *http.Request) (io.ReadCloser, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	f, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", invalid("no file provided: %v", err)
	}
	return f, header.Filename, nil
}

func (s *Server) handleImportLineItems(w http.ResponseWriter, r *http.Request) {
	f, filename, err := importFile(w, r)
	if err != nil {
		fail(w, "importing line items", err)
		return
	}
	defer f.Close()

	result, err := s.service.ImportLineItems(r.Context(), f, filename)
	if err != nil {
		fail(w, "importing line items", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleImportMappings(w http.ResponseWriter, r *http.Request) {
	f, filename, err := importFile(w, r)
	if err != nil {
		fail(w, "importing attribute mappings", err)
		return
	}
	defer f.Close()

	result, err := s.service.ImportMappings(r.Context(), f, filename)
	if err != nil {
		fail(w, "importing attribute mappings", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleExport buffers the export so a failure can still become a JSON error
func (s *Server) handleExport(format ExportFormat) http.HandlerFunc {
	contentType := "text/csv; charset=utf-8"
	if format == FormatXLSX {
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if err := s.service.Export(r.Context(), &buf, format); err != nil {
			fail(w, "exporting line items", err)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="line_items.%s"`, format))
		w.Write(buf.Bytes())
	}
}
