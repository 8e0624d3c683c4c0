package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/statement-categorizer/internal/domain"
	"github.com/dvloznov/statement-categorizer/internal/logger"
	"golang.org/x/sync/errgroup"
)

// PipelineStep represents a single stage of statement processing.
type PipelineStep interface {
	Stage() domain.Stage
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	Job       Job
	Stage     domain.Stage
	Document  []byte
	Text      string
	Origin    domain.Origin
	Units     []domain.ExtractionUnit
	Results   []domain.UnitResult
	Overrides []domain.UserOverride
	Result    domain.DocumentResult
}

// fetchStep downloads the document when the job only carries its URL.
type fetchStep struct{ p *Pipeline }

func (s fetchStep) Stage() domain.Stage { return domain.StageFetching }

func (s fetchStep) Execute(ctx context.Context, state *PipelineState) error {
	job := &state.Job
	if len(job.Document.Bytes) > 0 || job.DocumentURL == "" {
		return nil
	}
	if s.p.fetcher == nil {
		return fmt.Errorf("fetch: %w: no fetcher configured", domain.ErrDownloadFailed)
	}

	start := time.Now()
	data, err := s.p.fetcher.Fetch(ctx, job.DocumentURL)
	if err != nil {
		return err
	}
	job.Document.Bytes = data
	log := logger.FromContextOr(ctx, s.p.log)
	log.Info().Int("bytes", len(data)).Dur("duration", time.Since(start)).Msg("document downloaded")
	return nil
}

// unlockStep decrypts the document when a password was supplied.
type unlockStep struct{ p *Pipeline }

func (s unlockStep) Stage() domain.Stage { return domain.StageUnlocking }

func (s unlockStep) Execute(ctx context.Context, state *PipelineState) error {
	data, err := s.p.unlocker.Unlock(ctx, state.Job.Document.Bytes, state.Job.Document.Password)
	if err != nil {
		return err
	}
	state.Document = data
	return nil
}

// extractStep produces the document text, natively or through OCR.
type extractStep struct{ p *Pipeline }

func (s extractStep) Stage() domain.Stage { return domain.StageExtracting }

func (s extractStep) Execute(ctx context.Context, state *PipelineState) error {
	text, origin, err := s.p.extractText(ctx, state.Document)
	if err != nil {
		return err
	}
	state.Document = nil
	state.Text = text
	state.Origin = origin
	return nil
}

// categorizeStep partitions the text and categorizes the units while the
// user's overrides are looked up.
type categorizeStep struct{ p *Pipeline }

func (s categorizeStep) Stage() domain.Stage { return domain.StageCategorizing }

func (s categorizeStep) Execute(ctx context.Context, state *PipelineState) error {
	p := s.p
	log := logger.FromContextOr(ctx, p.log)

	state.Units = Partition(state.Text, state.Origin, p.opts.Partition, p.opts.MaxUnitChars)
	if len(state.Units) == 0 {
		return fmt.Errorf("categorize: %w: text has no content", domain.ErrExtractionFailed)
	}

	var g errgroup.Group
	g.Go(func() error {
		state.Overrides = p.lookupOverrides(ctx, state.Job.UserID)
		return nil
	})
	g.Go(func() error {
		if len(state.Units) <= p.opts.DirectThreshold {
			log.Info().Int("units", len(state.Units)).Msg("categorizing document in a single call")
			whole := domain.ExtractionUnit{Index: 1, Text: state.Text, Origin: state.Origin}
			state.Results = []domain.UnitResult{p.categorizer.Categorize(ctx, whole, "")}
			return nil
		}
		log.Info().Int("units", len(state.Units)).Int("max_concurrency", p.opts.MaxConcurrency).Msg("categorizing units in parallel")
		state.Results = p.categorizer.CategorizeAll(ctx, state.Units, p.unitLabel(len(state.Units)), p.opts.MaxConcurrency)
		return nil
	})
	_ = g.Wait()

	return ctx.Err()
}

// consolidateStep merges unit results.
type consolidateStep struct{}

func (consolidateStep) Stage() domain.Stage { return domain.StageConsolidating }

func (consolidateStep) Execute(_ context.Context, state *PipelineState) error {
	state.Result = Consolidate(state.Results)
	return nil
}

// personalizeStep applies the user's overrides and schedules the new ones
// for persistence.
type personalizeStep struct{ p *Pipeline }

func (s personalizeStep) Stage() domain.Stage { return domain.StagePersonalizing }

func (s personalizeStep) Execute(ctx context.Context, state *PipelineState) error {
	userID := state.Job.UserID
	if userID == "" || len(state.Result.Transactions) == 0 {
		return nil
	}

	applied, candidates := Personalize(state.Result.Transactions, state.Overrides)
	log := logger.FromContextOr(ctx, s.p.log)
	log.Info().
		Int("overrides", len(state.Overrides)).
		Int("applied", applied).
		Int("candidates", len(candidates)).
		Msg("personalization applied")

	if len(candidates) > 0 {
		s.p.persistOverrides(ctx, userID, candidates)
	}
	return nil
}

// runSteps executes steps in order, recording the current stage in state.
func (p *Pipeline) runSteps(ctx context.Context, state *PipelineState, steps []PipelineStep) error {
	log := logger.FromContextOr(ctx, p.log)
	for _, step := range steps {
		state.Stage = step.Stage()
		if err := ctx.Err(); err != nil {
			return &domain.StageError{Stage: state.Stage, Err: err}
		}
		start := time.Now()
		if err := step.Execute(ctx, state); err != nil {
			return &domain.StageError{Stage: state.Stage, Err: err}
		}
		log.Debug().Str("stage", string(state.Stage)).Dur("duration", time.Since(start)).Msg("stage finished")
	}
	return nil
}
