package card

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
)

// maxUploadSize bounds one multipart upload; high-resolution phone
// photos of a whole stack of cards add up
const maxUploadSize = int64(100 << 20) // 100MB

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// jsonError writes an error as a JSON body with CORS headers set
func jsonError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// contentTypeFor resolves the MIME type for an uploaded part, falling
// back to the filename extension when the part carries none
func contentTypeFor(header string, filename string) string {
	contentType := strings.ToLower(strings.TrimSpace(header))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".bmp":
		return "image/bmp"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		// Most vision endpoints accept jpeg; conversion sorts it out
		return "image/jpeg"
	}
}

// handleCreateBatch accepts a multipart upload with one or more "files"
// parts and creates a new batch session. Submission order of the parts
// fixes the order of the eventual results.
func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		msg := "Error parsing form"
		if err.Error() == "http: request body too large" {
			msg = "Upload is too large. Maximum total size is 100MB."
		}
		jsonError(w, msg, http.StatusBadRequest)
		return
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		jsonError(w, "No files were provided. Upload one or more images in the 'files' field.", http.StatusBadRequest)
		return
	}

	uploads := make([]Upload, 0, len(headers))
	for _, header := range headers {
		f, err := header.Open()
		if err != nil {
			slog.Error("Error opening uploaded file", "filename", header.Filename, "error", err)
			jsonError(w, fmt.Sprintf("Error reading file %s", header.Filename), http.StatusBadRequest)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			slog.Error("Error reading uploaded file", "filename", header.Filename, "error", err)
			jsonError(w, fmt.Sprintf("Error reading file %s", header.Filename), http.StatusInternalServerError)
			return
		}

		uploads = append(uploads, Upload{
			Filename: header.Filename,
			MimeType: contentTypeFor(header.Header.Get("Content-Type"), header.Filename),
			Data:     data,
		})
	}

	b, err := s.service.CreateBatch(uploads)
	if err != nil {
		slog.Error("Error creating batch", "error", err)
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(b); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// handleProcessBatch runs the extraction pipeline for a batch. The
// request blocks until the batch finishes; closing the connection
// cancels the remaining items.
func (s *Server) handleProcessBatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Batch ID required", http.StatusBadRequest)
		return
	}

	b, err := s.service.ProcessBatch(r.Context(), id)
	if err != nil {
		slog.Error("Error processing batch", "batch_id", id, "error", err)
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(b); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// handleGetBatch returns a batch along with its processing progress
func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Batch ID required", http.StatusBadRequest)
		return
	}
	b, err := s.service.GetBatch(id)
	if err != nil {
		corsError(w, "Batch not found", http.StatusNotFound)
		return
	}
	completed, total, err := s.service.Progress(id)
	if err != nil {
		corsError(w, "Batch not found", http.StatusNotFound)
		return
	}

	response := map[string]interface{}{
		"batch":     b,
		"completed": completed,
		"total":     total,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// handleListBatches returns all batch sessions
func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := s.service.ListBatches()
	if err != nil {
		slog.Error("Error listing batches", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if batches == nil {
		batches = []*Batch{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(batches); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// handleExportBatch streams a CSV or JSON export of a completed batch.
// The success/failure summary travels in headers, not in the file.
func (s *Server) handleExportBatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Batch ID required", http.StatusBadRequest)
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}

	data, summary, err := s.service.ExportBatch(id, format)
	if err != nil {
		slog.Error("Error exporting batch", "batch_id", id, "format", format, "error", err)
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	contentType := "text/csv; charset=utf-8"
	filename := "contacts.csv"
	if format == "json" {
		contentType = "application/json"
		filename = "contacts.json"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("X-Success-Count", fmt.Sprintf("%d", summary.Succeeded))
	w.Header().Set("X-Failure-Count", fmt.Sprintf("%d", summary.Failed))
	w.Write(data)
}

// handleDeleteBatch ends a session
func (s *Server) handleDeleteBatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Batch ID required", http.StatusBadRequest)
		return
	}
	if err := s.service.DeleteBatch(id); err != nil {
		corsError(w, "Error deleting batch", http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
