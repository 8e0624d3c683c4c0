package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/statement-categorizer/internal/domain"
	"github.com/dvloznov/statement-categorizer/internal/jobs"
	"github.com/dvloznov/statement-categorizer/internal/jobs/inmemory"
	"github.com/dvloznov/statement-categorizer/internal/pipeline"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var samplePDF = []byte("%PDF-1.7\n1 0 obj\n<<>>\nendobj\n")

type fakeProcessor struct {
	mu     sync.Mutex
	result domain.DocumentResult
	err    error
	jobs   []pipeline.Job
}

func (f *fakeProcessor) Process(_ context.Context, job pipeline.Job) (domain.DocumentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return f.result, f.err
}

type fakePublisher struct {
	published []*jobs.ProcessStatementJob
	err       error
}

func (f *fakePublisher) PublishProcessStatement(_ context.Context, job *jobs.ProcessStatementJob) error {
	if f.err != nil {
		return f.err
	}
	job.JobID = fmt.Sprintf("job-%d", len(f.published)+1)
	f.published = append(f.published, job)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

type fakeArchive struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (f *fakeArchive) FetchFromGCS(context.Context, string) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeArchive) UploadBytes(_ context.Context, bucket, object, _ string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[bucket+"/"+object] = data
	return "gs://" + bucket + "/" + object, nil
}

func (f *fakeArchive) UploadFile(context.Context, string, string, string) error { return nil }

func multipartRequest(t *testing.T, target, filename string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) domain.DocumentResult {
	t.Helper()
	var res domain.DocumentResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func successResult() domain.DocumentResult {
	r := domain.DocumentResult{BankName: "Nubank", DocumentType: "fatura_cartao"}
	r.SetTransactions([]domain.Transaction{{
		Date:        civil.Date{Year: 2024, Month: time.March, Day: 5},
		Description: "PADARIA",
		Amount:      decimal.RequireFromString("12.50"),
		Kind:        domain.KindExpense,
	}})
	return r
}

func TestProcess_Multipart(t *testing.T) {
	proc := &fakeProcessor{result: successResult()}
	h := NewStatementsHandler(proc, &fakePublisher{}, nil, StatementsOptions{}, zerolog.Nop())

	rec := httptest.NewRecorder()
	h.Process(rec, multipartRequest(t, "/api/statements/process", "extrato.pdf", samplePDF, map[string]string{
		"user_id":      "42",
		"senha_do_pdf": "1234",
	}))

	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeResult(t, rec)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.TransactionsCount)

	require.Len(t, proc.jobs, 1)
	got := proc.jobs[0]
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, "42", got.UserID)
	assert.Equal(t, "1234", got.Document.Password)
	assert.Equal(t, "extrato.pdf", got.Document.Filename)
	assert.Equal(t, samplePDF, got.Document.Bytes)
}

func TestProcess_RejectsBadUploads(t *testing.T) {
	tests := []struct {
		name string
		req  func(t *testing.T) *http.Request
	}{
		{
			name: "missing file",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/api/statements/process", "", nil, map[string]string{"user_id": "1"})
			},
		},
		{
			name: "not a pdf",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/api/statements/process", "notes.txt", []byte("hello"), nil)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &fakeProcessor{}
			h := NewStatementsHandler(proc, &fakePublisher{}, nil, StatementsOptions{}, zerolog.Nop())

			rec := httptest.NewRecorder()
			h.Process(rec, tt.req(t))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			res := decodeResult(t, rec)
			assert.False(t, res.Success)
			assert.NotEmpty(t, res.ErrorMessage)
			assert.Empty(t, proc.jobs)
		})
	}
}

func TestProcess_UploadTooLarge(t *testing.T) {
	h := NewStatementsHandler(&fakeProcessor{}, &fakePublisher{}, nil, StatementsOptions{MaxUploadBytes: 64}, zerolog.Nop())

	big := append(append([]byte{}, samplePDF...), bytes.Repeat([]byte("x"), 1024)...)
	rec := httptest.NewRecorder()
	h.Process(rec, multipartRequest(t, "/api/statements/process", "big.pdf", big, nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncStatus(t *testing.T) {
	tests := []struct {
		name   string
		result domain.DocumentResult
		err    error
		want   int
	}{
		{name: "success", result: successResult(), want: http.StatusOK},
		{name: "no transactions", result: domain.FailureResult(pipeline.NoTransactionsInDocument), want: http.StatusOK},
		{name: "units failed", result: domain.FailureResult("página 1: model timeout"), want: http.StatusBadGateway},
		{name: "wrong password", err: &domain.StageError{Stage: domain.StageUnlocking, Err: domain.ErrInvalidCredentials}, want: http.StatusBadRequest},
		{name: "no text", err: &domain.StageError{Stage: domain.StageExtracting, Err: domain.ErrExtractionFailed}, want: http.StatusBadRequest},
		{name: "unexpected", err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, syncStatus(tt.result, tt.err))
		})
	}
}

func TestProcess_PipelineErrorBody(t *testing.T) {
	proc := &fakeProcessor{err: &domain.StageError{Stage: domain.StageUnlocking, Err: domain.ErrInvalidCredentials}}
	h := NewStatementsHandler(proc, &fakePublisher{}, nil, StatementsOptions{}, zerolog.Nop())

	rec := httptest.NewRecorder()
	h.Process(rec, multipartRequest(t, "/api/statements/process", "extrato.pdf", samplePDF, nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	res := decodeResult(t, rec)
	assert.False(t, res.Success)
	assert.Equal(t, "unlocking: invalid document password", res.ErrorMessage)
	assert.Equal(t, domain.DefaultBankName, res.BankName)
	assert.NotNil(t, res.Transactions)
}

func TestProcessBase64(t *testing.T) {
	proc := &fakeProcessor{result: successResult()}
	h := NewStatementsHandler(proc, &fakePublisher{}, nil, StatementsOptions{}, zerolog.Nop())

	body := `{"file_base64":"data:application/pdf;base64,` + base64.StdEncoding.EncodeToString(samplePDF) + `","user_id":7,"senha_do_pdf":"x"}`
	rec := httptest.NewRecorder()
	h.ProcessBase64(rec, httptest.NewRequest(http.MethodPost, "/api/statements/process-base64", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, proc.jobs, 1)
	assert.Equal(t, "7", proc.jobs[0].UserID)
	assert.Equal(t, "x", proc.jobs[0].Document.Password)
	assert.Equal(t, samplePDF, proc.jobs[0].Document.Bytes)
}

func TestProcessBase64_InvalidPayloads(t *testing.T) {
	for name, body := range map[string]string{
		"malformed json":  `{`,
		"missing payload": `{"user_id":"1"}`,
		"not base64":      `{"file_base64":"***"}`,
		"not a pdf":       `{"file_base64":"` + base64.StdEncoding.EncodeToString([]byte("plain text")) + `"}`,
	} {
		t.Run(name, func(t *testing.T) {
			proc := &fakeProcessor{}
			h := NewStatementsHandler(proc, &fakePublisher{}, nil, StatementsOptions{}, zerolog.Nop())

			rec := httptest.NewRecorder()
			h.ProcessBase64(rec, httptest.NewRequest(http.MethodPost, "/api/statements/process-base64", strings.NewReader(body)))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, proc.jobs)
		})
	}
}

func TestProcessURL_Accepted(t *testing.T) {
	pub := &fakePublisher{}
	h := NewStatementsHandler(&fakeProcessor{}, pub, nil, StatementsOptions{}, zerolog.Nop())

	body := `{"file_url":"https://files.test/a.pdf","webhook_url":"https://hook.test/cb","user_id":42,"senha_do_pdf":"secret"}`
	rec := httptest.NewRecorder()
	h.ProcessURL(rec, httptest.NewRequest(http.MethodPost, "/api/statements/process-url", strings.NewReader(body)))

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"status":"processamento_iniciado","job_id":"job-1","user_id":"42","file_url":"https://files.test/a.pdf"}`, rec.Body.String())

	require.Len(t, pub.published, 1)
	assert.Equal(t, "https://hook.test/cb", pub.published[0].WebhookURL)
	assert.Equal(t, "secret", pub.published[0].Password)
}

func TestProcessURL_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "missing file url", body: `{"webhook_url":"https://hook.test"}`},
		{name: "missing webhook", body: `{"file_url":"https://files.test/a.pdf"}`},
		{name: "relative file url", body: `{"file_url":"/a.pdf","webhook_url":"https://hook.test"}`},
		{name: "gs webhook", body: `{"file_url":"gs://b/a.pdf","webhook_url":"gs://b/hook"}`},
		{name: "bad user id", body: `{"file_url":"https://files.test/a.pdf","webhook_url":"https://hook.test","user_id":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{}
			h := NewStatementsHandler(&fakeProcessor{}, pub, nil, StatementsOptions{}, zerolog.Nop())

			rec := httptest.NewRecorder()
			h.ProcessURL(rec, httptest.NewRequest(http.MethodPost, "/api/statements/process-url", strings.NewReader(tt.body)))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, pub.published)
		})
	}
}

func TestProcessURL_QueueClosed(t *testing.T) {
	h := NewStatementsHandler(&fakeProcessor{}, &fakePublisher{err: errors.New("queue is closed")}, nil, StatementsOptions{}, zerolog.Nop())

	body := `{"file_url":"gs://bucket/a.pdf","webhook_url":"https://hook.test/cb"}`
	rec := httptest.NewRecorder()
	h.ProcessURL(rec, httptest.NewRequest(http.MethodPost, "/api/statements/process-url", strings.NewReader(body)))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestProcess_ArchivesStatement(t *testing.T) {
	archive := &fakeArchive{}
	h := NewStatementsHandler(&fakeProcessor{result: successResult()}, &fakePublisher{}, archive, StatementsOptions{ArchiveBucket: "statements-archive"}, zerolog.Nop())

	rec := httptest.NewRecorder()
	h.Process(rec, multipartRequest(t, "/api/statements/process", "../../extrato.pdf", samplePDF, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.Wait(ctx))

	archive.mu.Lock()
	defer archive.mu.Unlock()
	require.Len(t, archive.objects, 1)
	for key, data := range archive.objects {
		assert.True(t, strings.HasPrefix(key, "statements-archive/statements/"), key)
		assert.True(t, strings.HasSuffix(key, "-extrato.pdf"), key)
		assert.Equal(t, samplePDF, data)
	}
}

func TestProcess_ArchiveFailureIsIgnored(t *testing.T) {
	archive := &fakeArchive{err: errors.New("permission denied")}
	h := NewStatementsHandler(&fakeProcessor{result: successResult()}, &fakePublisher{}, archive, StatementsOptions{ArchiveBucket: "b"}, zerolog.Nop())

	rec := httptest.NewRecorder()
	h.Process(rec, multipartRequest(t, "/api/statements/process", "extrato.pdf", samplePDF, nil))
	require.NoError(t, h.Wait(context.Background()))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestJobsHandler(t *testing.T) {
	store := inmemory.NewStore()
	ctx := context.Background()
	require.NoError(t, store.SaveJob(ctx, &jobs.ProcessStatementJob{JobID: "a", UserID: "42", Status: jobs.JobStatusCompleted, CreatedAt: time.Now()}))
	require.NoError(t, store.SaveJob(ctx, &jobs.ProcessStatementJob{JobID: "b", UserID: "7", Status: jobs.JobStatusFailed, CreatedAt: time.Now()}))

	h := NewJobsHandler(store, zerolog.Nop())

	t.Run("get", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.GetJob(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/a", nil), "a")
		require.Equal(t, http.StatusOK, rec.Code)

		var job jobs.ProcessStatementJob
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
		assert.Equal(t, "42", job.UserID)
		assert.NotContains(t, rec.Body.String(), "password")
	})

	t.Run("missing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.GetJob(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/zzz", nil), "zzz")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("list filtered", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ListJobs(rec, httptest.NewRequest(http.MethodGet, "/api/jobs?user_id=7", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Jobs  []jobs.ProcessStatementJob `json:"jobs"`
			Count int                        `json:"count"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, 1, body.Count)
		assert.Equal(t, "b", body.Jobs[0].JobID)
	})

	t.Run("list empty", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ListJobs(rec, httptest.NewRequest(http.MethodGet, "/api/jobs?status=running", nil))
		assert.JSONEq(t, `{"jobs":[],"count":0}`, rec.Body.String())
	})
}
