package handlers

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/dvloznov/statement-categorizer/internal/api/middleware"
	"github.com/dvloznov/statement-categorizer/internal/source"
	"github.com/rs/zerolog"
)

// Token count outcomes.
const (
	TokensOK            = "OK"
	TokensLimitExceeded = "LIMIT_EXCEEDED"
)

// TokenCounter reports the model input cost of a payload.
type TokenCounter interface {
	CountTokens(ctx context.Context, data []byte, mimeType string) (int32, error)
}

// TokensHandler handles token counting.
type TokensHandler struct {
	counter   TokenCounter
	limit     int32
	maxUpload int64
	log       zerolog.Logger
}

// NewTokensHandler creates a new tokens handler.
func NewTokensHandler(counter TokenCounter, limit int32, maxUpload int64, log zerolog.Logger) *TokensHandler {
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}
	return &TokensHandler{counter: counter, limit: limit, maxUpload: maxUpload, log: log}
}

// Count handles POST /api/tokens/count (multipart: file).
func (h *TokensHandler) Count(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	file, header, err := r.FormFile("file")
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "failed to read uploaded file")
		return
	}
	if len(data) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "file is empty")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}

	mimeType, fileType := "text/plain", strings.TrimPrefix(strings.ToLower(filepath.Ext(header.Filename)), ".")
	if _, err := source.FromBytes(data); err == nil {
		mimeType, fileType = "application/pdf", "pdf"
	}
	if fileType == "" {
		fileType = "text"
	}

	total, err := h.counter.CountTokens(r.Context(), data, mimeType)
	if err != nil {
		h.log.Error().Err(err).Str("filename", header.Filename).Msg("Failed to count tokens")
		middleware.WriteError(w, http.StatusBadGateway, "Failed to count tokens")
		return
	}

	status := TokensOK
	if h.limit > 0 && total > h.limit {
		status = TokensLimitExceeded
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"total_tokens": total,
		"status":       status,
		"file_type":    fileType,
		"filename":     header.Filename,
		"file_size":    len(data),
		"content_type": contentType,
	})
}
