// Package pipeline turns a statement document into a categorized,
// personalized transaction list.
//
// A job moves through fetching, unlocking, extracting, categorizing,
// consolidating and personalizing. Process runs those stages inline and
// returns the result or a *domain.StageError. RunAndDeliver runs them for a background job and
// always posts exactly one result to the job's callback.
package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/dvloznov/statement-categorizer/internal/domain"
	"github.com/dvloznov/statement-categorizer/internal/logger"
	"github.com/dvloznov/statement-categorizer/internal/overrides"
	"github.com/dvloznov/statement-categorizer/internal/pdf"
	"github.com/rs/zerolog"
)

// Defaults applied by New to unset Options fields.
const (
	DefaultMaxUnitChars    = 12000
	DefaultDirectThreshold = 1
	DefaultMaxConcurrency  = 8
	DefaultPersistTimeout  = 30 * time.Second
)

// Options tunes partitioning and fan-out.
type Options struct {
	Partition       PartitionStrategy
	MaxUnitChars    int
	DirectThreshold int
	MinPageChars    int
	MaxConcurrency  int
	PersistTimeout  time.Duration
}

func (o *Options) applyDefaults() {
	if o.Partition == "" {
		o.Partition = PartitionByPage
	}
	if o.MaxUnitChars <= 0 {
		o.MaxUnitChars = DefaultMaxUnitChars
	}
	if o.DirectThreshold < 0 {
		o.DirectThreshold = DefaultDirectThreshold
	}
	if o.MinPageChars <= 0 {
		o.MinPageChars = domain.DefaultMinPageChars
	}
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = DefaultMaxConcurrency
	}
	if o.PersistTimeout <= 0 {
		o.PersistTimeout = DefaultPersistTimeout
	}
}

// Deps are the collaborators a Pipeline calls. Renderer and OCR may be nil,
// which disables the OCR fallback. Overrides defaults to overrides.Nop.
// Fetcher is only needed for jobs that reference their document by URL.
type Deps struct {
	Fetcher     DocumentFetcher
	Unlocker    pdf.Unlocker
	Text        pdf.TextExtractor
	Renderer    pdf.Renderer
	OCR         PageOCR
	Categorizer *Categorizer
	Overrides   overrides.Store
	Deliverer   Deliverer
}

// Job is one processing request. When Document carries no bytes, they are
// downloaded from DocumentURL first.
type Job struct {
	ID          string
	UserID      string
	Document    domain.RawDocument
	DocumentURL string
	WebhookURL  string
}

// Pipeline sequences the processing stages. It is safe for concurrent use.
type Pipeline struct {
	fetcher     DocumentFetcher
	unlocker    pdf.Unlocker
	text        pdf.TextExtractor
	renderer    pdf.Renderer
	ocr         PageOCR
	categorizer *Categorizer
	store       overrides.Store
	deliverer   Deliverer
	opts        Options
	log         zerolog.Logger

	background sync.WaitGroup
}

// New creates a Pipeline.
func New(deps Deps, opts Options, log zerolog.Logger) *Pipeline {
	opts.applyDefaults()
	store := deps.Overrides
	if store == nil {
		store = overrides.Nop{}
	}
	return &Pipeline{
		fetcher:     deps.Fetcher,
		unlocker:    deps.Unlocker,
		text:        deps.Text,
		renderer:    deps.Renderer,
		ocr:         deps.OCR,
		categorizer: deps.Categorizer,
		store:       store,
		deliverer:   deps.Deliverer,
		opts:        opts,
		log:         log,
	}
}

// Process runs every stage for job inline. Document-level failures are
// returned as *domain.StageError. A result whose units all failed is
// returned without error and with Success=false.
func (p *Pipeline) Process(ctx context.Context, job Job) (domain.DocumentResult, error) {
	log := p.log.With().Str("job_id", job.ID).Str("user_id", job.UserID).Logger()
	ctx = logger.WithContext(ctx, log)
	start := time.Now()

	state := &PipelineState{Job: job}
	steps := []PipelineStep{
		fetchStep{p},
		unlockStep{p},
		extractStep{p},
		categorizeStep{p},
		consolidateStep{},
		personalizeStep{p},
	}

	if err := p.runSteps(ctx, state, steps); err != nil {
		log.Error().Err(err).Str("stage", string(state.Stage)).Dur("duration", time.Since(start)).Msg("statement processing failed")
		return domain.DocumentResult{}, err
	}

	log.Info().
		Bool("success", state.Result.Success).
		Str("bank_name", state.Result.BankName).
		Int("transactions", state.Result.TransactionsCount).
		Dur("duration", time.Since(start)).
		Msg("statement processed")
	return state.Result, nil
}

// RunAndDeliver processes a background job and posts the outcome to
// job.WebhookURL exactly once. A pipeline failure is delivered as a failure
// payload. Delivery is attempted once and its failure is only logged. The
// returned error is the pipeline error, if any.
func (p *Pipeline) RunAndDeliver(ctx context.Context, job Job) (result domain.DocumentResult, err error) {
	log := p.log.With().Str("job_id", job.ID).Str("user_id", job.UserID).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("statement processing panicked")
			err = fmt.Errorf("RunAndDeliver: panic: %v", r)
			result = domain.FailureResult("background processing error: " + fmt.Sprint(r))
		}
		p.deliver(ctx, log, job, result)
	}()

	result, err = p.Process(ctx, job)
	if err != nil {
		result = domain.FailureResult("background processing error: " + err.Error())
	}
	return result, err
}

func (p *Pipeline) deliver(ctx context.Context, log zerolog.Logger, job Job, result domain.DocumentResult) {
	if job.WebhookURL == "" || p.deliverer == nil {
		log.Warn().Msg("no callback configured, result not delivered")
		return
	}

	log = log.With().Str("stage", string(domain.StageDelivering)).Logger()
	if err := p.deliverer.Deliver(context.WithoutCancel(ctx), job.WebhookURL, result); err != nil {
		log.Error().Err(fmt.Errorf("%w: %w", domain.ErrDeliveryFailed, err)).Str("webhook_url", job.WebhookURL).Msg("callback delivery failed")
		return
	}
	log.Info().Str("webhook_url", job.WebhookURL).Bool("success", result.Success).Msg("callback delivered")
}

// Wait blocks until detached background tasks, such as override persistence,
// have finished or ctx is done.
func (p *Pipeline) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// lookupOverrides reads the user's overrides. A lookup failure degrades to
// no personalization.
func (p *Pipeline) lookupOverrides(ctx context.Context, userID string) []domain.UserOverride {
	if userID == "" {
		return nil
	}
	found, err := p.store.Lookup(ctx, userID)
	if err != nil {
		log := logger.FromContextOr(ctx, p.log)
		log.Warn().Err(err).Msg("override lookup failed, continuing without personalization")
		return nil
	}
	return found
}

// persistOverrides saves candidates on a detached task. The caller never
// waits for it and its failure is only logged.
func (p *Pipeline) persistOverrides(ctx context.Context, userID string, candidates []domain.UserOverride) {
	log := logger.FromContextOr(ctx, p.log)
	detached := context.WithoutCancel(ctx)

	p.background.Add(1)
	go func() {
		defer p.background.Done()
		ctx, cancel := context.WithTimeout(detached, p.opts.PersistTimeout)
		defer cancel()

		if err := p.store.Save(ctx, userID, candidates); err != nil {
			log.Error().Err(fmt.Errorf("%w: %w", domain.ErrPersistenceFailed, err)).Int("overrides", len(candidates)).Msg("saving overrides failed")
			return
		}
		log.Debug().Int("overrides", len(candidates)).Msg("overrides saved")
	}()
}

// unitLabel names units in the prompt after the partition strategy.
func (p *Pipeline) unitLabel(total int) func(domain.ExtractionUnit) string {
	if p.opts.Partition == PartitionBySize {
		return func(u domain.ExtractionUnit) string { return fmt.Sprintf("parte %d de %d", u.Index, total) }
	}
	return func(u domain.ExtractionUnit) string { return fmt.Sprintf("página %d", u.Index) }
}

// IsBenignEmpty reports whether a failed result only means the document had
// no transactions, as opposed to units failing.
func IsBenignEmpty(r domain.DocumentResult) bool {
	return !r.Success && strings.TrimSpace(r.ErrorMessage) == NoTransactionsInDocument
}
