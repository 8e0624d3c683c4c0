package pipeline

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/statement-categorizer/internal/domain"
	"github.com/dvloznov/statement-categorizer/internal/ocr"
	"github.com/dvloznov/statement-categorizer/internal/taxonomy"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Statement text in these tests carries transactions as TX:date|description|amount
// tokens; the fake model echoes them back as categorized transactions.
var txToken = regexp.MustCompile(`TX:([^|\s]+)\|([^|\n]+)\|(\S+)`)

const filler = " lorem ipsum dolor sit amet consectetur adipiscing elit sed do eiusmod"

type fakeUnlocker struct {
	err   error
	panic bool
}

func (f fakeUnlocker) Unlock(_ context.Context, data []byte, _ string) ([]byte, error) {
	if f.panic {
		panic("corrupt xref table")
	}
	return data, f.err
}

type fakeText struct {
	pages []string
	err   error
}

func (f fakeText) ExtractPages(context.Context, []byte) ([]domain.Page, error) {
	if f.err != nil {
		return nil, f.err
	}
	pages := make([]domain.Page, len(f.pages))
	for i, t := range f.pages {
		pages[i] = domain.Page{Index: i + 1, Text: t}
	}
	return pages, nil
}

type fakeRenderer struct {
	pages int
	calls atomic.Int32
}

func (f *fakeRenderer) Render(context.Context, []byte) ([]domain.Page, error) {
	f.calls.Add(1)
	pages := make([]domain.Page, f.pages)
	for i := range pages {
		pages[i] = domain.Page{Index: i + 1, Image: []byte(fmt.Sprintf("img-%d", i+1))}
	}
	return pages, nil
}

// fakeVision transcribes "img-N" into the N-th entry of texts.
type fakeVision struct {
	texts []string
	calls atomic.Int32
}

func (f *fakeVision) Transcribe(_ context.Context, images [][]byte, _ string) (string, error) {
	f.calls.Add(1)
	out := make([]string, 0, len(images))
	for _, img := range images {
		var n int
		if _, err := fmt.Sscanf(string(img), "img-%d", &n); err != nil || n > len(f.texts) {
			return "", fmt.Errorf("unexpected image %q", img)
		}
		out = append(out, f.texts[n-1])
	}
	return strings.Join(out, domain.PageMarker), nil
}

type fakeModel struct {
	calls   atomic.Int32
	mu      sync.Mutex
	prompts []string
	before  func()
}

func (f *fakeModel) GenerateJSON(_ context.Context, system, user string) (string, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.prompts = append(f.prompts, user)
	f.mu.Unlock()
	if f.before != nil {
		f.before()
	}
	if system != taxonomy.SystemPrompt {
		return "", errors.New("unexpected system prompt")
	}

	text := user[strings.LastIndex(user, ":**\n")+4:]
	if strings.Contains(text, "PANIC") {
		panic("model client bug")
	}
	if strings.Contains(text, "FAIL") {
		return "", errors.New("model timeout")
	}

	var txs []string
	for _, m := range txToken.FindAllStringSubmatch(text, -1) {
		txs = append(txs, fmt.Sprintf(
			`{"uuid":"1","data":%q,"descricao":%q,"valor":%s,"categoria":"DIVERSOS","tipo":"despesa","subcategoria":"Outros","parcelado":false}`,
			m[1], m[2], m[3]))
	}
	if len(txs) == 0 {
		return "```json\n" + `{"success": false, "bank_name": "TBD", "document_type": "unknown", "transactions": [], "error_message": "no transactions found"}` + "\n```", nil
	}
	return fmt.Sprintf(`{"success": true, "bank_name": "Banco Teste", "document_type": "credit-card-statement", "transactions": [%s], "error_message": null}`,
		strings.Join(txs, ",")), nil
}

type fakeStore struct {
	mu        sync.Mutex
	known     []domain.UserOverride
	lookupErr error
	saveErr   error
	saved     map[string][]domain.UserOverride
	onLookup  func()
}

func (f *fakeStore) Lookup(_ context.Context, userID string) ([]domain.UserOverride, error) {
	if f.onLookup != nil {
		f.onLookup()
	}
	return f.known, f.lookupErr
}

func (f *fakeStore) Save(_ context.Context, userID string, overrides []domain.UserOverride) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saved == nil {
		f.saved = map[string][]domain.UserOverride{}
	}
	f.saved[userID] = append(f.saved[userID], overrides...)
	return f.saveErr
}

type fakeDeliverer struct {
	mu        sync.Mutex
	delivered []domain.DocumentResult
	urls      []string
	err       error
}

func (f *fakeDeliverer) Deliver(_ context.Context, url string, result domain.DocumentResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, url)
	f.delivered = append(f.delivered, result)
	return f.err
}

type fakeFetcher struct {
	data  []byte
	err   error
	calls atomic.Int32
	urls  []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.calls.Add(1)
	f.urls = append(f.urls, url)
	return f.data, f.err
}

type harness struct {
	fetcher   *fakeFetcher
	text      fakeText
	unlocker  fakeUnlocker
	renderer  *fakeRenderer
	vision    *fakeVision
	model     *fakeModel
	store     *fakeStore
	deliverer *fakeDeliverer
	opts      Options
	ocr       ocr.Options
}

func newHarness() *harness {
	return &harness{
		fetcher:   &fakeFetcher{data: []byte("%PDF-1.7")},
		renderer:  &fakeRenderer{},
		vision:    &fakeVision{},
		model:     &fakeModel{},
		store:     &fakeStore{},
		deliverer: &fakeDeliverer{},
		opts:      Options{Partition: PartitionByPage, DirectThreshold: 1, MaxConcurrency: 4},
		ocr:       ocr.Options{Strategy: ocr.StrategyPerPage, MaxConcurrency: 4},
	}
}

func (h *harness) build(t *testing.T) *Pipeline {
	t.Helper()
	tax, err := taxonomy.Default()
	require.NoError(t, err)

	log := zerolog.Nop()
	return New(Deps{
		Fetcher:     h.fetcher,
		Unlocker:    h.unlocker,
		Text:        h.text,
		Renderer:    h.renderer,
		OCR:         ocr.NewExtractor(h.vision, h.ocr, log),
		Categorizer: NewCategorizer(h.model, tax, nil, log),
		Overrides:   h.store,
		Deliverer:   h.deliverer,
	}, h.opts, log)
}

func page(tokens ...string) string {
	return strings.Join(tokens, "\n") + filler
}

func job(userID string) Job {
	return Job{ID: "job-1", UserID: userID, Document: domain.RawDocument{Bytes: []byte("%PDF-1.7")}, WebhookURL: "http://callback.test/hook"}
}

func TestProcess_NativeTextSkipsOCR(t *testing.T) {
	h := newHarness()
	h.text.pages = []string{
		page("TX:2024-03-05|PADARIA|12.50", "TX:2024-03-06|UBER TRIP|23.90"),
		page("TX:2024-03-06|UBER TRIP|23.9", "TX:2024-03-07|NETFLIX|39.90"),
		"short",
	}
	p := h.build(t)

	res, err := p.Process(context.Background(), job(""))
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 3, res.TransactionsCount)
	assert.Equal(t, "Banco Teste", res.BankName)
	assert.Equal(t, "credit-card-statement", res.DocumentType)
	assert.Empty(t, res.ErrorMessage)

	assert.Zero(t, h.renderer.calls.Load())
	assert.Zero(t, h.vision.calls.Load())
	assert.Equal(t, int32(2), h.model.calls.Load())
}

func TestProcess_FallbackToPerPageOCR(t *testing.T) {
	h := newHarness()
	h.text.pages = []string{"", "  scanned  ", ""}
	h.renderer.pages = 3
	h.vision.texts = []string{
		page("TX:2024-04-01|MERCADO|100"),
		"unreadable",
		page("TX:2024-04-03|FARMACIA|45.00"),
	}
	p := h.build(t)

	res, err := p.Process(context.Background(), job(""))
	require.NoError(t, err)

	assert.Equal(t, int32(1), h.renderer.calls.Load())
	assert.Equal(t, int32(3), h.vision.calls.Load(), "one OCR call per page")
	assert.Equal(t, int32(2), h.model.calls.Load(), "the unreadable page is dropped")
	require.Equal(t, 2, res.TransactionsCount)
	assert.Equal(t, "MERCADO", res.Transactions[0].Description)
	assert.Equal(t, "FARMACIA", res.Transactions[1].Description)
}

func TestProcess_FallbackToBatchedOCR(t *testing.T) {
	h := newHarness()
	h.text.err = errors.New("malformed content stream")
	h.renderer.pages = 2
	h.vision.texts = []string{page("TX:2024-04-01|MERCADO|100"), page("TX:2024-04-02|PADARIA|8")}
	h.ocr.Strategy = ocr.StrategyBatched
	p := h.build(t)

	res, err := p.Process(context.Background(), job(""))
	require.NoError(t, err)

	assert.Equal(t, int32(1), h.vision.calls.Load(), "one OCR call for the whole document")
	assert.Equal(t, 2, res.TransactionsCount)
}

func TestProcess_DirectThreshold(t *testing.T) {
	tests := []struct {
		name      string
		threshold int
		pages     int
		wantCalls int32
	}{
		{name: "single page goes direct", threshold: 1, pages: 1, wantCalls: 1},
		{name: "two pages fan out", threshold: 1, pages: 2, wantCalls: 2},
		{name: "two pages under threshold 2", threshold: 2, pages: 2, wantCalls: 1},
		{name: "threshold zero always fans out", threshold: 0, pages: 1, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.opts.DirectThreshold = tt.threshold
			for i := 0; i < tt.pages; i++ {
				h.text.pages = append(h.text.pages, page(fmt.Sprintf("TX:2024-05-%02d|LOJA %d|10", i+1, i+1)))
			}
			p := h.build(t)

			res, err := p.Process(context.Background(), job(""))
			require.NoError(t, err)
			assert.Equal(t, tt.wantCalls, h.model.calls.Load())
			assert.Equal(t, tt.pages, res.TransactionsCount)

			if tt.wantCalls == 1 && tt.threshold > 0 {
				assert.Contains(t, h.model.prompts[0], "**TEXTO DO EXTRATO:**")
			}
		})
	}
}

func TestProcess_BySizePartition(t *testing.T) {
	h := newHarness()
	h.opts.Partition = PartitionBySize
	h.opts.MaxUnitChars = 40
	h.text.pages = []string{page("TX:2024-05-01|LOJA A|10", "TX:2024-05-02|LOJA B|20", "TX:2024-05-03|LOJA C|30")}
	p := h.build(t)

	res, err := p.Process(context.Background(), job(""))
	require.NoError(t, err)
	assert.Equal(t, 3, res.TransactionsCount)
	assert.Greater(t, h.model.calls.Load(), int32(1))
	assert.Contains(t, strings.Join(h.model.prompts, "\n"), "PARTE 1 DE")
}

func TestProcess_UnitFailureIsIsolated(t *testing.T) {
	h := newHarness()
	h.text.pages = []string{
		page("TX:2024-03-05|PADARIA|12.50"),
		page("FAIL"),
		page("nothing to see"),
		page("PANIC"),
		page("TX:2024-03-08|CINEMA|30"),
	}
	p := h.build(t)

	res, err := p.Process(context.Background(), job(""))
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 2, res.TransactionsCount)
	assert.Contains(t, res.ErrorMessage, "unit 2")
	assert.Contains(t, res.ErrorMessage, "model timeout")
	assert.Contains(t, res.ErrorMessage, "unit 4")
	assert.NotContains(t, res.ErrorMessage, "no transactions found")
}

func TestProcess_AllUnitsEmpty(t *testing.T) {
	h := newHarness()
	h.text.pages = []string{page("nothing"), page("still nothing")}
	p := h.build(t)

	res, err := p.Process(context.Background(), job(""))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, IsBenignEmpty(res))
}

func TestProcess_DocumentFailures(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(h *harness)
		wantStage domain.Stage
		wantErr   error
	}{
		{
			name:      "wrong password",
			setup:     func(h *harness) { h.unlocker.err = domain.ErrInvalidCredentials },
			wantStage: domain.StageUnlocking,
			wantErr:   domain.ErrInvalidCredentials,
		},
		{
			name: "no usable text",
			setup: func(h *harness) {
				h.text.pages = []string{"", ""}
				h.renderer.pages = 2
				h.vision.texts = []string{"blurry", "blurry"}
			},
			wantStage: domain.StageExtracting,
			wantErr:   domain.ErrExtractionFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			tt.setup(h)
			p := h.build(t)

			_, err := p.Process(context.Background(), job("7"))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, domain.IsClientError(err))

			var stageErr *domain.StageError
			require.ErrorAs(t, err, &stageErr)
			assert.Equal(t, tt.wantStage, stageErr.Stage)
			assert.Zero(t, h.model.calls.Load())
		})
	}
}

func TestProcess_NoOCRConfigured(t *testing.T) {
	tax, err := taxonomy.Default()
	require.NoError(t, err)
	p := New(Deps{
		Unlocker:    fakeUnlocker{},
		Text:        fakeText{pages: []string{""}},
		Categorizer: NewCategorizer(&fakeModel{}, tax, nil, zerolog.Nop()),
	}, Options{}, zerolog.Nop())

	_, err = p.Process(context.Background(), job(""))
	assert.ErrorIs(t, err, domain.ErrExtractionFailed)
}

func TestProcess_Personalization(t *testing.T) {
	h := newHarness()
	h.text.pages = []string{page("TX:2024-10-12|UBER TRIP 12/10|23.90", "TX:2024-10-13|PADARIA PAO|8.00")}
	h.store.known = []domain.UserOverride{{Key: "uber", Category: "TRANSPORTE", Subcategory: "Uber"}}
	p := h.build(t)

	res, err := p.Process(context.Background(), job("42"))
	require.NoError(t, err)
	require.NoError(t, p.Wait(context.Background()))

	require.Len(t, res.Transactions, 2)
	assert.Equal(t, "TRANSPORTE", res.Transactions[0].Category)
	assert.Equal(t, "Uber", res.Transactions[0].Subcategory)
	assert.Equal(t, "DIVERSOS", res.Transactions[1].Category)

	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	assert.Equal(t, []domain.UserOverride{{Key: "padaria pao", Category: "DIVERSOS", Subcategory: "Outros"}}, h.store.saved["42"])
}

func TestProcess_NoUserSkipsPersonalization(t *testing.T) {
	h := newHarness()
	h.text.pages = []string{page("TX:2024-10-12|UBER TRIP|23.90")}
	h.store.known = []domain.UserOverride{{Key: "uber", Category: "TRANSPORTE", Subcategory: "Uber"}}
	var lookups atomic.Int32
	h.store.onLookup = func() { lookups.Add(1) }
	p := h.build(t)

	res, err := p.Process(context.Background(), job(""))
	require.NoError(t, err)
	require.NoError(t, p.Wait(context.Background()))

	assert.Equal(t, "DIVERSOS", res.Transactions[0].Category)
	assert.Zero(t, lookups.Load())
	assert.Empty(t, h.store.saved)
}

func TestProcess_OverrideLookupRunsAlongsideCategorization(t *testing.T) {
	h := newHarness()
	h.text.pages = []string{page("TX:2024-10-12|UBER TRIP|23.90")}
	h.store.known = []domain.UserOverride{{Key: "uber", Category: "TRANSPORTE", Subcategory: "Uber"}}

	modelCalled := make(chan struct{})
	var once sync.Once
	h.model.before = func() { once.Do(func() { close(modelCalled) }) }
	h.store.onLookup = func() {
		select {
		case <-modelCalled:
		case <-time.After(2 * time.Second):
			h.store.lookupErr = errors.New("lookup ran before categorization started")
		}
	}
	p := h.build(t)

	res, err := p.Process(context.Background(), job("42"))
	require.NoError(t, err)
	assert.Equal(t, "TRANSPORTE", res.Transactions[0].Category)
}

func TestProcess_StoreFailuresDoNotFailTheJob(t *testing.T) {
	h := newHarness()
	h.text.pages = []string{page("TX:2024-10-12|UBER TRIP|23.90")}
	h.store.lookupErr = errors.New("bigquery unavailable")
	h.store.saveErr = errors.New("bigquery unavailable")
	p := h.build(t)

	res, err := p.Process(context.Background(), job("42"))
	require.NoError(t, err)
	require.NoError(t, p.Wait(context.Background()))
	assert.True(t, res.Success)
	assert.Equal(t, "DIVERSOS", res.Transactions[0].Category)
}

func TestRunAndDeliver_DeliversExactlyOnce(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(h *harness)
		wantSuccess bool
		wantErr     bool
		wantMsg     string
	}{
		{
			name:        "success",
			setup:       func(h *harness) { h.text.pages = []string{page("TX:2024-10-12|PADARIA|5")} },
			wantSuccess: true,
		},
		{
			name:    "pipeline failure",
			setup:   func(h *harness) { h.unlocker.err = domain.ErrInvalidCredentials },
			wantErr: true,
			wantMsg: "background processing error: unlocking: invalid document password",
		},
		{
			name:    "panic",
			setup:   func(h *harness) { h.unlocker.panic = true },
			wantErr: true,
			wantMsg: "background processing error: corrupt xref table",
		},
		{
			name:    "no transactions",
			setup:   func(h *harness) { h.text.pages = []string{page("nothing")} },
			wantMsg: NoTransactionsInDocument,
		},
		{
			name: "delivery failure is swallowed",
			setup: func(h *harness) {
				h.text.pages = []string{page("TX:2024-10-12|PADARIA|5")}
				h.deliverer.err = errors.New("connection refused")
			},
			wantSuccess: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			tt.setup(h)
			p := h.build(t)

			_, err := p.RunAndDeliver(context.Background(), job("42"))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}

			require.Len(t, h.deliverer.delivered, 1)
			got := h.deliverer.delivered[0]
			assert.Equal(t, "http://callback.test/hook", h.deliverer.urls[0])
			assert.Equal(t, tt.wantSuccess, got.Success)
			assert.Equal(t, got.TransactionsCount, len(got.Transactions))
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, got.ErrorMessage)
			}
			if !tt.wantSuccess {
				assert.NotNil(t, got.Transactions)
				assert.Empty(t, got.Transactions)
			}
		})
	}
}

func TestProcess_FetchesDocumentByURL(t *testing.T) {
	h := newHarness()
	h.text.pages = []string{page("TX:2024-10-12|PADARIA|5")}
	p := h.build(t)

	j := Job{ID: "job-2", UserID: "42", DocumentURL: "https://files.test/extrato.pdf"}
	res, err := p.Process(context.Background(), j)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int32(1), h.fetcher.calls.Load())
	assert.Equal(t, []string{"https://files.test/extrato.pdf"}, h.fetcher.urls)

	_, err = p.Process(context.Background(), job("42"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), h.fetcher.calls.Load(), "inline bytes are never re-downloaded")
}

func TestRunAndDeliver_DownloadFailureIsDelivered(t *testing.T) {
	h := newHarness()
	h.fetcher.err = fmt.Errorf("%w: unexpected status 404 Not Found", domain.ErrDownloadFailed)
	p := h.build(t)

	j := Job{ID: "job-3", UserID: "42", DocumentURL: "https://files.test/missing.pdf", WebhookURL: "http://callback.test/hook"}
	_, err := p.RunAndDeliver(context.Background(), j)

	var stageErr *domain.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, domain.StageFetching, stageErr.Stage)
	assert.True(t, domain.IsClientError(err))

	require.Len(t, h.deliverer.delivered, 1)
	got := h.deliverer.delivered[0]
	assert.False(t, got.Success)
	assert.Equal(t, "background processing error: fetching: document download failed: unexpected status 404 Not Found", got.ErrorMessage)
}

func TestRunAndDeliver_CancelledJobIsStillDelivered(t *testing.T) {
	h := newHarness()
	p := h.build(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	j := Job{ID: "job-4", DocumentURL: "https://files.test/a.pdf", WebhookURL: "http://callback.test/hook"}
	_, err := p.RunAndDeliver(ctx, j)
	require.ErrorIs(t, err, context.Canceled)

	assert.Zero(t, h.fetcher.calls.Load())
	require.Len(t, h.deliverer.delivered, 1)
	got := h.deliverer.delivered[0]
	assert.False(t, got.Success)
	assert.Equal(t, "background processing error: fetching: context canceled", got.ErrorMessage)
}
