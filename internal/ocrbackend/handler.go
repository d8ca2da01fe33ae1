/**
 * OCR backend HTTP handlers
 *
 * POST /ocr stores the uploaded file under the upload directory, forwards it
 * as a base64 data URI to the OCR service, and always removes the file
 * before the request completes.
 */

package ocrbackend

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/adverant/nexus/docscan-worker/internal/logging"
)

// OCRService turns a base64 data URI into text
type OCRService interface {
	ParseBase64(ctx context.Context, dataURI string) (string, error)
}

// defaultMimeType is used when the upload's type cannot be determined.
const defaultMimeType = "image/jpeg"

// Handler serves the OCR endpoints
type Handler struct {
	ocr           OCRService
	uploadDir     string
	maxUploadSize int64
	timeout       time.Duration
	logger        *logging.Logger
}

// NewHandler creates a handler storing uploads in uploadDir
func NewHandler(ocr OCRService, uploadDir string, maxUploadSize int64, timeout time.Duration, logger *logging.Logger) *Handler {
	return &Handler{
		ocr:           ocr,
		uploadDir:     uploadDir,
		maxUploadSize: maxUploadSize,
		timeout:       timeout,
		logger:        logger,
	}
}

type textResponse struct {
	Text string `json:"text"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Health reports liveness
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// OCR handles POST /ocr with a multipart "file" field
func (h *Handler) OCR(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	log := h.logger.With("request_id", requestID)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			log.Warn("Upload rejected", "limit", h.maxUploadSize)
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "File too large"})
			return
		}
		log.Warn("No file in upload", "error", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "No file uploaded"})
		return
	}
	defer file.Close()

	path, err := h.store(file)
	if path != "" {
		defer func() {
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				log.Error("Failed to remove upload", "path", path, "error", rmErr)
			}
		}()
	}
	if err != nil {
		log.Error("Failed to store upload", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "OCR failed"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	startTime := time.Now()
	text, err := h.recognize(ctx, path, header.Header.Get("Content-Type"))
	if err != nil {
		log.Error("OCR error", "filename", header.Filename, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "OCR failed"})
		return
	}

	log.Info("OCR complete", "filename", header.Filename, "bytes", header.Size, "chars", len(text), "duration", time.Since(startTime))
	writeJSON(w, http.StatusOK, textResponse{Text: text})
}

// store copies the upload to a temp file. The returned path is non-empty
// whenever a file was created, even on error.
func (h *Handler) store(src io.Reader) (string, error) {
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload dir: %w", err)
	}

	dst, err := os.CreateTemp(h.uploadDir, "upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return dst.Name(), fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := dst.Close(); err != nil {
		return dst.Name(), fmt.Errorf("failed to close temp file: %w", err)
	}
	return dst.Name(), nil
}

func (h *Handler) recognize(ctx context.Context, path, declaredType string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}

	dataURI := fmt.Sprintf("data:%s;base64,%s", mimeTypeOf(data, declaredType), base64.StdEncoding.EncodeToString(data))
	return h.ocr.ParseBase64(ctx, dataURI)
}

func mimeTypeOf(data []byte, declared string) string {
	if sniffed := http.DetectContentType(data); len(sniffed) > 6 && sniffed[:6] == "image/" {
		return sniffed
	}
	if len(declared) > 6 && declared[:6] == "image/" {
		return declared
	}
	return defaultMimeType
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
