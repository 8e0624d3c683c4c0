package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dvloznov/statement-categorizer/internal/api/middleware"
	"github.com/dvloznov/statement-categorizer/internal/domain"
	"github.com/dvloznov/statement-categorizer/internal/gcs"
	"github.com/dvloznov/statement-categorizer/internal/gcsuploader"
	"github.com/dvloznov/statement-categorizer/internal/jobs"
	"github.com/dvloznov/statement-categorizer/internal/logger"
	"github.com/dvloznov/statement-categorizer/internal/pipeline"
	"github.com/dvloznov/statement-categorizer/internal/source"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// StatusProcessingStarted acknowledges an accepted background job.
const StatusProcessingStarted = "processamento_iniciado"

const (
	defaultMaxUpload = 50 << 20
	archiveTimeout   = 2 * time.Minute
)

// StatementProcessor runs the processing pipeline inline.
type StatementProcessor interface {
	Process(ctx context.Context, job pipeline.Job) (domain.DocumentResult, error)
}

// StatementsOptions configures a StatementsHandler.
type StatementsOptions struct {
	// MaxUploadBytes bounds request bodies. Zero means 50 MiB.
	MaxUploadBytes int64
	// ArchiveBucket, when set together with an archive service, receives a
	// copy of every synchronously processed statement.
	ArchiveBucket string
}

// StatementsHandler handles statement processing endpoints.
type StatementsHandler struct {
	processor StatementProcessor
	publisher jobs.Publisher
	archive   gcs.StorageService
	opts      StatementsOptions
	log       zerolog.Logger

	background sync.WaitGroup
}

// NewStatementsHandler creates a new statements handler. archive may be nil.
func NewStatementsHandler(processor StatementProcessor, publisher jobs.Publisher, archive gcs.StorageService, opts StatementsOptions, log zerolog.Logger) *StatementsHandler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUpload
	}
	return &StatementsHandler{
		processor: processor,
		publisher: publisher,
		archive:   archive,
		opts:      opts,
		log:       log,
	}
}

// Process handles POST /api/statements/process (multipart: file, user_id,
// senha_do_pdf). user_id and senha_do_pdf may also come as query parameters.
func (h *StatementsHandler) Process(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "failed to read uploaded file")
		return
	}

	data, err = source.FromBytes(data)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}

	h.runSync(w, r, pipeline.Job{
		ID:     uuid.NewString(),
		UserID: strings.TrimSpace(r.FormValue("user_id")),
		Document: domain.RawDocument{
			Bytes:    data,
			Password: r.FormValue("senha_do_pdf"),
			Filename: header.Filename,
		},
	})
}

// base64Request is the body of POST /api/statements/process-base64.
type base64Request struct {
	FileBase64 string        `json:"file_base64"`
	Filename   string        `json:"filename"`
	UserID     domain.UserID `json:"user_id"`
	Password   string        `json:"senha_do_pdf"`
}

// ProcessBase64 handles POST /api/statements/process-base64
func (h *StatementsHandler) ProcessBase64(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes*4/3+1024)

	var req base64Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.FileBase64) == "" {
		writeFailure(w, http.StatusBadRequest, "file_base64 is required")
		return
	}

	data, err := source.FromBase64(req.FileBase64)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}

	h.runSync(w, r, pipeline.Job{
		ID:     uuid.NewString(),
		UserID: req.UserID.String(),
		Document: domain.RawDocument{
			Bytes:    data,
			Password: req.Password,
			Filename: req.Filename,
		},
	})
}

// urlRequest is the body of POST /api/statements/process-url.
type urlRequest struct {
	FileURL    string        `json:"file_url"`
	WebhookURL string        `json:"webhook_url"`
	UserID     domain.UserID `json:"user_id"`
	Password   string        `json:"senha_do_pdf"`
}

// ProcessURL handles POST /api/statements/process-url. The statement is
// processed in the background and the result is posted to webhook_url.
func (h *StatementsHandler) ProcessURL(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := validateURL(req.FileURL, "http", "https", "gs"); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "file_url: "+err.Error())
		return
	}
	if err := validateURL(req.WebhookURL, "http", "https"); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "webhook_url: "+err.Error())
		return
	}

	job := &jobs.ProcessStatementJob{
		UserID:     req.UserID.String(),
		FileURL:    strings.TrimSpace(req.FileURL),
		WebhookURL: strings.TrimSpace(req.WebhookURL),
		Password:   req.Password,
	}
	if err := h.publisher.PublishProcessStatement(r.Context(), job); err != nil {
		h.log.Error().Err(err).Msg("Failed to enqueue statement job")
		middleware.WriteError(w, http.StatusServiceUnavailable, "Failed to enqueue statement job")
		return
	}

	log := logger.FromContextOr(r.Context(), h.log)
	log.Info().
		Str("job_id", job.JobID).
		Str("user_id", job.UserID).
		Str("file_url", job.FileURL).
		Msg("Statement job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"status":   StatusProcessingStarted,
		"job_id":   job.JobID,
		"user_id":  job.UserID,
		"file_url": job.FileURL,
	})
}

// Wait blocks until detached archive uploads have finished or ctx is done.
func (h *StatementsHandler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *StatementsHandler) runSync(w http.ResponseWriter, r *http.Request, job pipeline.Job) {
	h.archiveAsync(r.Context(), job)

	result, err := h.processor.Process(r.Context(), job)
	status := syncStatus(result, err)
	if err != nil {
		msg := err.Error()
		if status == http.StatusInternalServerError {
			msg = "unexpected error: " + msg
		}
		writeFailure(w, status, msg)
		return
	}
	middleware.WriteJSON(w, status, result)
}

// syncStatus maps a pipeline outcome to the HTTP status of a synchronous
// response. A document without transactions is not an error.
func syncStatus(result domain.DocumentResult, err error) int {
	switch {
	case err != nil && domain.IsClientError(err):
		return http.StatusBadRequest
	case err != nil:
		return http.StatusInternalServerError
	case !result.Success && !pipeline.IsBenignEmpty(result):
		return http.StatusBadGateway
	default:
		return http.StatusOK
	}
}

// archiveAsync stores a copy of the statement on a detached task. Failures
// are only logged.
func (h *StatementsHandler) archiveAsync(ctx context.Context, job pipeline.Job) {
	if h.archive == nil || h.opts.ArchiveBucket == "" {
		return
	}
	log := logger.FromContextOr(ctx, h.log).With().Str("job_id", job.ID).Logger()
	detached := context.WithoutCancel(ctx)

	object := gcsuploader.ArchiveObjectName(job.UserID, job.ID, job.Document.Filename, time.Now().UTC())

	h.background.Add(1)
	go func() {
		defer h.background.Done()
		ctx, cancel := context.WithTimeout(detached, archiveTimeout)
		defer cancel()

		uri, err := h.archive.UploadBytes(ctx, h.opts.ArchiveBucket, object, "application/pdf", job.Document.Bytes)
		if err != nil {
			log.Warn().Err(err).Str("object", object).Msg("Failed to archive statement")
			return
		}
		log.Debug().Str("gcs_uri", uri).Msg("Statement archived")
	}()
}

func validateURL(raw string, schemes ...string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("must be an absolute %s URL", strings.Join(schemes, "/"))
}

// writeFailure answers a statement request with a failure-shaped result.
func writeFailure(w http.ResponseWriter, status int, message string) {
	middleware.WriteJSON(w, status, domain.FailureResult(message))
}
